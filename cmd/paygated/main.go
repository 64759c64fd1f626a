package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"paygate/config"
	"paygate/core/events"
	"paygate/core/genesis"
	"paygate/core/runtime"
	"paygate/core/state"
	"paygate/indexer"
	"paygate/observability/logging"
	"paygate/observability/metrics"
	telemetry "paygate/observability/otel"
	"paygate/rpc"
	"paygate/storage"
	"paygate/storage/trie"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	commitInterval := flag.Duration("commit-interval", 5*time.Second, "How often applied transactions are flushed to disk")
	flag.Parse()

	if err := run(*configFile, *commitInterval); err != nil {
		fmt.Fprintf(os.Stderr, "paygated: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string, commitInterval time.Duration) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser := logging.Setup("paygated", cfg.Environment, logging.Options{
		Level: cfg.LogLevel,
		File:  cfg.LogFile,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "paygated",
		Environment: cfg.Environment,
		NetworkName: cfg.NetworkName,
		Platform:    cfg.PlatformAccount,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("prepare data directory: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	head, resumed, err := runtime.LoadHead(db)
	if err != nil {
		return err
	}
	var root []byte
	if resumed {
		root = head.Root.Bytes()
	}
	tr, err := trie.NewTrie(db, root)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	host := runtime.NewHost(state.NewManager(tr))
	host.SetLogger(logger)

	if platform, ok, err := cfg.Platform(); err != nil {
		return err
	} else if ok {
		host.SetPlatform(platform)
	}

	if !resumed && strings.TrimSpace(cfg.GenesisFile) != "" {
		spec, err := genesis.LoadGenesisSpec(cfg.GenesisFile)
		if err != nil {
			return fmt.Errorf("load genesis: %w", err)
		}
		if err := host.ApplyGenesis(spec); err != nil {
			return fmt.Errorf("apply genesis: %w", err)
		}
		if head, err = host.CommitHead(db, 0); err != nil {
			return fmt.Errorf("commit genesis: %w", err)
		}
		logger.Info("genesis applied", slog.String("root", head.Root.Hex()))
	} else if resumed {
		logger.Info("resuming from committed state",
			slog.String("root", head.Root.Hex()),
			slog.Uint64("height", head.Height))
	}

	idx, err := indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN)
	if err != nil {
		return err
	}
	defer idx.Close()
	logger.Info("indexer ready",
		slog.String("driver", cfg.Indexer.Driver),
		slog.String("dsn", logging.DSN(cfg.Indexer.DSN)))

	hub := rpc.NewEventHub()
	host.SetEmitter(events.MultiEmitter{idx, metrics.Gateway(), hub})

	server, err := rpc.New(rpc.Config{
		ListenAddress: cfg.ListenAddress,
		RateLimit: rpc.RateLimit{
			RequestsPerMinute: float64(cfg.RateLimit.RequestsPerMinute),
			Burst:             cfg.RateLimit.Burst,
			TrustedProxies:    cfg.RateLimit.TrustedProxies,
		},
		Tracing: cfg.Telemetry.Traces,
	}, host, idx, hub)
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Run(ctx) }()

	ticker := time.NewTicker(commitInterval)
	defer ticker.Stop()
	height := head.Height
	commit := func() {
		if host.Root() == head.Root {
			return
		}
		next, err := host.CommitHead(db, height+1)
		if err != nil {
			logger.Error("commit failed", slog.String("error", err.Error()))
			return
		}
		head, height = next, next.Height
		logger.Debug("state committed", slog.String("root", head.Root.Hex()), slog.Uint64("height", height))
	}

	for {
		select {
		case <-ticker.C:
			commit()
		case err := <-serveErr:
			commit()
			return err
		case <-ctx.Done():
			commit()
			return <-serveErr
		}
	}
}
