// File: internal/server/server.go
// Description: Local HTTP server for reviewing a report directory: the HTML report,
// its screenshots, and the recorded run history.

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xkilldash9x/uiprobe/internal/history"
)

const (
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// HistoryReader is the read side of the run history. *history.Store satisfies it.
type HistoryReader interface {
	List(ctx context.Context, target string, limit int) ([]history.Run, error)
	Get(ctx context.Context, id string) (history.Run, []history.Result, error)
}

// Server serves one report directory.
type Server struct {
	addr     string
	logger   *zap.Logger
	handlers *Handlers
	router   chi.Router
}

// New builds the router. history may be nil, in which case the run endpoints answer 503.
func New(addr string, fs afero.Fs, dir string, runs HistoryReader, logger *zap.Logger) *Server {
	logger = logger.Named("server")
	s := &Server{
		addr:     addr,
		logger:   logger,
		handlers: NewHandlers(fs, dir, runs, logger),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(requestLogger(logger))
	s.handlers.RegisterRoutes(r)
	s.router = r
	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured address and serves until ctx is cancelled, then
// shuts down gracefully. ready, when non-nil, receives the bound address.
func (s *Server) Start(ctx context.Context, ready func(addr string)) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Report server listening.", zap.String("address", "http://"+ln.Addr().String()))
	if ready != nil {
		ready(ln.Addr().String())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("report server stopped: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down report server.")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("report server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// requestLogger logs each request through zap rather than chi's stdlib logger.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("Request served.",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
