package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"paygate/core/events"
	"paygate/core/types"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsBufferSize   = 64
)

var errStreamUnavailable = errors.New("rpc: event stream unavailable")

type subscriber struct {
	filter map[string]struct{}
	ch     chan types.Event
}

func (s *subscriber) wants(eventType string) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[eventType]
	return ok
}

// EventHub fans committed events out to websocket subscribers. Slow
// subscribers drop events rather than block the runtime.
type EventHub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	logger *slog.Logger
}

// NewEventHub creates an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{
		subs:   make(map[*subscriber]struct{}),
		logger: slog.Default().With("component", "rpc.ws"),
	}
}

// Emit implements events.Emitter.
func (h *EventHub) Emit(evt events.Event) {
	if h == nil || evt == nil {
		return
	}
	src := types.Rendered(evt)
	if src == nil {
		return
	}
	rendered := *src
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if !sub.wants(rendered.Type) {
			continue
		}
		select {
		case sub.ch <- rendered:
		default:
			h.logger.Warn("dropping event for slow subscriber", slog.String("type", rendered.Type))
		}
	}
}

func (h *EventHub) subscribe(filter []string) (*subscriber, func()) {
	sub := &subscriber{ch: make(chan types.Event, wsBufferSize)}
	if len(filter) > 0 {
		sub.filter = make(map[string]struct{}, len(filter))
		for _, t := range filter {
			sub.filter[t] = struct{}{}
		}
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub, func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
	}
}

// Subscribers reports the number of connected streams.
func (h *EventHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeJSONError(w, http.StatusServiceUnavailable, errStreamUnavailable)
		return
	}
	var filter []string
	if raw := strings.TrimSpace(r.URL.Query().Get("types")); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter = append(filter, t)
			}
		}
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	sub, cancel := s.hub.subscribe(filter)
	defer cancel()

	// Reads are only used to observe the client closing the stream.
	ctx := conn.CloseRead(r.Context())
	if err := streamEvents(ctx, conn, sub); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func streamEvents(ctx context.Context, conn *websocket.Conn, sub *subscriber) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-sub.ch:
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt types.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
