package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"paygate/core/types"
	"paygate/indexer"
	"paygate/native/gateway"
	"paygate/observability/metrics"
)

const (
	maxRequestBytes = 1 << 20
	requestIDHeader = "X-Request-ID"
)

// Chain is the execution and query surface the API serves.
type Chain interface {
	ApplyTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	Account(addr [20]byte) (*types.Account, error)
	Session(addr [20]byte) (*gateway.Session, error)
	Merchant(merchantID string) (*gateway.Merchant, [20]byte, error)
	PaymentIntent(paymentID string) (*gateway.PaymentIntent, [20]byte, error)
	TokenAccount(addr [20]byte) (*types.TokenAccount, error)
	Mint(addr [20]byte) (*types.Mint, error)
}

// ReadModel serves listings that the chain state cannot answer directly.
type ReadModel interface {
	Merchants(ctx context.Context, page indexer.Page) ([]indexer.Merchant, error)
	MerchantIntents(ctx context.Context, merchant, status string, page indexer.Page) ([]indexer.Intent, error)
	RecentEvents(ctx context.Context, eventType string, limit int) ([]indexer.EventLog, error)
}

// Config controls the HTTP server.
type Config struct {
	ListenAddress string
	RateLimit     RateLimit
	Tracing       bool
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

// Server exposes the gateway over HTTP.
type Server struct {
	cfg      Config
	chain    Chain
	reads    ReadModel
	hub      *EventHub
	limiter  *RateLimiter
	metrics  *metrics.GatewayMetrics
	validate *validator.Validate
	logger   *slog.Logger
	handler  http.Handler
}

// New builds the server. reads and hub may be nil, in which case listing and
// streaming routes answer 503.
func New(cfg Config, chain Chain, reads ReadModel, hub *EventHub) (*Server, error) {
	if chain == nil {
		return nil, errors.New("rpc: chain is required")
	}
	limiter, err := NewRateLimiter(cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:      cfg,
		chain:    chain,
		reads:    reads,
		hub:      hub,
		limiter:  limiter,
		metrics:  metrics.Gateway(),
		validate: validator.New(),
		logger:   slog.Default().With("component", "rpc"),
	}
	s.limiter.onReject = s.metrics.RecordThrottle
	s.handler = s.routes()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(requestID)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(s.observe)
		v1.With(s.limiter.Middleware("transactions")).Post("/transactions", s.handleSubmitTransaction)
		v1.Get("/accounts/{address}", s.handleAccount)
		v1.Get("/token-accounts/{address}", s.handleTokenAccount)
		v1.Get("/mints/{address}", s.handleMint)
		v1.Get("/sessions/{address}", s.handleSession)
		v1.Get("/merchants", s.handleListMerchants)
		v1.Get("/merchants/{merchantID}", s.handleMerchant)
		v1.Get("/merchants/{merchantID}/intents", s.handleMerchantIntents)
		v1.Get("/intents/{paymentID}", s.handleIntent)
		v1.Get("/events", s.handleRecentEvents)
		v1.Get("/ws/events", s.handleEventsWS)
	})

	if s.cfg.Tracing {
		return otelhttp.NewHandler(r, "paygate.rpc")
	}
	return r
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("rpc: listen: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("graceful shutdown failed", slog.String("error", err.Error()))
		}
	}()
	s.logger.Info("listening", slog.String("address", listener.Addr().String()))
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("rpc: serve: %w", err)
	}
	return nil
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveRequest(route, status, time.Since(start))
		s.logger.Debug("request served",
			slog.String("route", route),
			slog.Int("status", status),
			slog.String("requestid", w.Header().Get(requestIDHeader)),
			slog.String("remote", s.limiter.clientID(r)))
	})
}
