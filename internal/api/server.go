// File: internal/api/server.go
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/xkilldash9x/navigator/internal/config"
	"github.com/xkilldash9x/navigator/internal/observability"
)

// readHeaderTimeout bounds slow clients on the handshake; bodies and streams are
// bounded by the session itself.
const readHeaderTimeout = 10 * time.Second

var jsonAPI = json.ConfigCompatibleWithStandardLibrary

// Server is the HTTP surface over the session registry.
type Server struct {
	cfg      config.ServerConfig
	sessions Sessions
	metrics  *observability.Metrics
	logger   *zap.Logger
	router   chi.Router
}

// NewServer builds the router. metrics may be nil, in which case /metrics is not
// served.
func NewServer(cfg config.ServerConfig, sessions Sessions, metrics *observability.Metrics, logger *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		metrics:  metrics,
		logger:   logger.Named("api"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger, s.metrics))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(s.cfg.Auth, s.logger))

		r.Post("/run", s.handleRunStream)
		r.Post("/run/full", s.handleRunFull)
		r.Get("/ws/run", s.handleRunWebSocket)

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Post("/cancel", s.handleCancelSession)
		})
	})
	return r
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully within the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          zap.NewStdLog(s.logger),
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening.", zap.String("address", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down API server...")
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		// Streams that outlive the grace period are cut.
		_ = srv.Close()
		return fmt.Errorf("api server shutdown: %w", err)
	}
	<-errCh
	return nil
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}
