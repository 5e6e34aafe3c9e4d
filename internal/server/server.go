// Package server runs the session bridge as a standalone gateway: the bridge
// guards a reverse proxy to the application and the server adds health and
// metrics endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	sessionbridge "github.com/lukaszraczylo/sessionbridge"
	"github.com/lukaszraczylo/sessionbridge/config"
	jsonutil "github.com/lukaszraczylo/sessionbridge/internal/httputil"
	"github.com/lukaszraczylo/sessionbridge/internal/logger"
)

// Server is the gateway HTTP server.
type Server struct {
	cfg      *config.Config
	logger   logger.Logger
	bridge   *sessionbridge.Bridge
	registry *prometheus.Registry
	handler  http.Handler
	http     *http.Server
}

// New builds the gateway. The upstream must be configured.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*Server, error) {
	if cfg.Server.Upstream == "" {
		return nil, errors.New("server.upstream (SESSIONBRIDGE_UPSTREAM_URL) is required")
	}
	upstream, err := url.Parse(cfg.Server.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if log == nil {
		log = logger.NoOp()
	}

	proxy := httputil.NewSingleHostReverseProxy(upstream)
	proxy.ErrorHandler = func(rw http.ResponseWriter, req *http.Request, err error) {
		log.Errorf("Upstream request %s %s failed: %v", req.Method, req.URL.Path, err)
		jsonutil.WriteJSON(rw, http.StatusBadGateway, jsonutil.ErrorBody{Error: "Bad gateway"})
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	bridge, err := sessionbridge.New(ctx, proxy, cfg, "gateway",
		sessionbridge.WithLogger(log),
		sessionbridge.WithRegistry(registry),
	)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger.Component(log, "server"),
		bridge:   bridge,
		registry: registry,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	if cfg.Server.MetricsPath != "" {
		r.Handle(cfg.Server.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	r.Handle("/*", bridge)
	s.handler = r

	s.http = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Bridge returns the underlying session bridge.
func (s *Server) Bridge() *sessionbridge.Bridge {
	return s.bridge
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Listening on %s, proxying to %s", s.cfg.Server.Addr, s.cfg.Server.Upstream)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		_ = s.bridge.Close() // Safe to ignore: already failing
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down")
	shutdownErr := s.http.Shutdown(shutdownCtx)
	return errors.Join(shutdownErr, s.bridge.Close())
}

func (s *Server) handleHealth(rw http.ResponseWriter, _ *http.Request) {
	jsonutil.WriteJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(rw http.ResponseWriter, req *http.Request) {
	if err := s.bridge.Ready(req.Context()); err != nil {
		s.logger.Errorf("Readiness check failed: %v", err)
		jsonutil.WriteJSON(rw, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	jsonutil.WriteJSON(rw, http.StatusOK, map[string]string{"status": "ready"})
}
