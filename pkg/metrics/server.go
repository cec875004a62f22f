package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"avaneesh/mctp-go/pkg/internal/logger"
)

// Server is the HTTP server for Prometheus metrics.
type Server struct {
	addr     string
	path     string
	registry *prometheus.Registry
	server   *http.Server
	listener net.Listener
	logger   logger.Logger
}

// NewServer creates a metrics server exposing the given collectors plus
// the Go runtime and process collectors.
func NewServer(addr, path string, log logger.Logger, cs ...prometheus.Collector) (*Server, error) {
	if path == "" {
		path = "/metrics"
	}
	if log == nil {
		log = logger.GetDefault()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return &Server{
		addr:     addr,
		path:     path,
		registry: reg,
		logger:   log,
	}, nil
}

// Registry returns the registry served by s
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Start binds the listen address and serves in the background
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Metrics: serving %s%s", ln.Addr(), s.path)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics: server error: %v", err)
		}
	}()

	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}

	s.logger.Info("Metrics: server stopped")
	return nil
}
