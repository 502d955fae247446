package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"copyRiskBot/internal/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultAddr binds to loopback; the monitor surface is for the operator
// on the same host, not the open network.
const DefaultAddr = "127.0.0.1:8750"

// StatusFunc produces the engine snapshot served on /status.
type StatusFunc func(ctx context.Context) (interface{}, error)

// Server serves /status, /healthz and /metrics.
type Server struct {
	config   Config
	logger   ports.Logger
	status   StatusFunc
	gatherer prometheus.Gatherer

	mu    sync.Mutex
	bound net.Addr
}

// Config holds configuration for the monitor server.
type Config struct {
	Addr     string // defaults to DefaultAddr
	Logger   ports.Logger
	Status   StatusFunc
	Gatherer prometheus.Gatherer
}

// NewServer creates a new monitor server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for monitor server")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{
		config:   cfg,
		logger:   cfg.Logger,
		status:   cfg.Status,
		gatherer: cfg.Gatherer,
	}, nil
}

// BoundAddr reports the address the server is listening on, nil until
// Run has bound the socket.
func (s *Server) BoundAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	op := "Run"

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/status", s.handleStatus)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrConnectionFailed, err)
	}

	s.mu.Lock()
	s.bound = ln.Addr()
	s.mu.Unlock()

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info(ctx, "monitor server started", map[string]interface{}{"addr": ln.Addr().String()})

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(ctx, "monitor server shutdown failed", map[string]interface{}{"error": err.Error()})
		}
		return ctx.Err()
	case err := <-serveErr:
		return fmt.Errorf("%s failed: %w", op, err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		http.Error(w, "status not available", http.StatusNotFound)
		return
	}

	snapshot, err := s.status(r.Context())
	if err != nil {
		s.logger.Error(r.Context(), err, "status snapshot failed")
		http.Error(w, "status snapshot failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snapshot); err != nil {
		s.logger.Error(r.Context(), err, "status encoding failed")
	}
}
