// Package bridge accepts trade events pushed by the master terminal's
// bridge script over a local TCP socket, one JSON object per line.
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"copyRiskBot/internal/domain"
	"copyRiskBot/internal/ports"
)

const (
	// DefaultAddr binds to loopback only; the bridge runs on the same host.
	DefaultAddr = "127.0.0.1:5555"

	initialLineBytes = 64 * 1024
	maxLineBytes     = 1 << 20
)

// Listener implements ports.EventSource over a line-delimited TCP feed.
// The terminal reconnects on its own schedule, so the accept loop keeps
// serving across disconnects until the context ends.
type Listener struct {
	config Config
	logger ports.Logger

	mu    sync.Mutex
	bound net.Addr
}

// Config holds configuration for the bridge listener.
type Config struct {
	Addr   string // defaults to DefaultAddr
	Logger ports.Logger
}

// New creates a new bridge listener.
func New(cfg Config) (*Listener, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for bridge listener")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Listener{config: cfg, logger: cfg.Logger}, nil
}

// BoundAddr reports the address the listener is accepting on, nil until
// Run has bound the socket. Useful when the configured port is 0.
func (l *Listener) BoundAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bound
}

// Run accepts terminal connections and feeds decoded events to handler
// until the context is canceled. Malformed lines are logged and dropped;
// they never stop the feed.
func (l *Listener) Run(ctx context.Context, handler ports.EventHandler) error {
	op := "Run"

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.config.Addr)
	if err != nil {
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrConnectionFailed, err)
	}

	l.mu.Lock()
	l.bound = ln.Addr()
	l.mu.Unlock()

	l.logger.Info(ctx, "bridge listener started", map[string]interface{}{"addr": ln.Addr().String()})

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Warn(ctx, "accept failed", map[string]interface{}{"error": err.Error()})
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			l.serve(ctx, conn, handler)
		}()
	}
}

func (l *Listener) serve(ctx context.Context, conn net.Conn, handler ports.EventHandler) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	l.logger.Info(ctx, "terminal connected", map[string]interface{}{"remote": remote})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, initialLineBytes), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		event, err := decodeEvent(line)
		if err != nil {
			l.logger.Warn(ctx, "dropping malformed event line", map[string]interface{}{
				"remote": remote,
				"error":  err.Error(),
				"line":   string(line),
			})
			continue
		}
		handler(ctx, event)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		l.logger.Warn(ctx, "terminal connection error", map[string]interface{}{"remote": remote, "error": err.Error()})
	}

	l.logger.Info(ctx, "terminal disconnected", map[string]interface{}{"remote": remote})
}

// wireEvent is the line format the bridge script emits. Timestamps are
// unix milliseconds and optional; absent means "now".
type wireEvent struct {
	Event  string  `json:"event"`
	Ticket int64   `json:"ticket"`
	Symbol string  `json:"symbol"`
	Type   string  `json:"type"`
	Entry  float64 `json:"entry"`
	Stop   float64 `json:"sl"`
	Target float64 `json:"tp"`
	At     int64   `json:"at"`
}

func decodeEvent(line []byte) (*domain.CopyEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrInvalidRequest, err)
	}

	kind := domain.EventKind(strings.ToUpper(strings.TrimSpace(w.Event)))
	switch kind {
	case domain.EventOpen, domain.EventModify, domain.EventClose:
	default:
		return nil, fmt.Errorf("%w: unknown event kind %q", ports.ErrInvalidRequest, w.Event)
	}
	if w.Ticket <= 0 {
		return nil, fmt.Errorf("%w: missing ticket", ports.ErrInvalidRequest)
	}

	event := &domain.CopyEvent{
		Kind:   kind,
		RefID:  w.Ticket,
		Symbol: strings.ToUpper(strings.TrimSpace(w.Symbol)),
		Entry:  w.Entry,
		Stop:   w.Stop,
		Target: w.Target,
		At:     time.Now(),
	}
	if w.At > 0 {
		event.At = time.UnixMilli(w.At)
	}

	if kind == domain.EventOpen {
		if event.Symbol == "" {
			return nil, fmt.Errorf("%w: open event without symbol", ports.ErrInvalidRequest)
		}
		direction, err := domain.ParseDirection(w.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ports.ErrInvalidRequest, err)
		}
		event.Direction = direction
	} else if w.Type != "" {
		if direction, err := domain.ParseDirection(w.Type); err == nil {
			event.Direction = direction
		}
	}

	return event, nil
}
