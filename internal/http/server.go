package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kvdb/pkg/metrics"
	"kvdb/pkg/rpc"
)

const (
	defaultShutdownTimeout   = time.Second * 5
	defaultReadHeaderTimeout = time.Second
)

type Options struct {
	Address           string
	ReadHeaderTimeout time.Duration
	// RequestTimeout bounds a whole request including calls to other nodes.
	// Zero disables it.
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	// Registry receives the HTTP metrics and is served on /metrics.
	// A private registry is used when nil.
	Registry *prometheus.Registry
}

// Server is an HTTP server with a chi router. The node and the router build
// their own route tables on top of it.
type Server struct {
	opts       Options
	router     chi.Router
	httpServer *http.Server
	listener   net.Listener
	done       chan struct{}
}

func newServer(name string, opts Options) *Server {
	if opts.ReadHeaderTimeout <= 0 {
		opts.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(instrument(metrics.NewHTTP(opts.Registry, name)))
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))

	return &Server{opts: opts, router: r}
}

// Handler exposes the route table, mostly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr is the bound address once Start returned.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.opts.Address
	}
	return s.listener.Addr().String()
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
	}
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", "addr", s.Addr())
	return nil
}

// Stop drains in-flight requests for at most the shutdown timeout.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	<-s.done
	return nil
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rpc.NewOKResponse())
}
