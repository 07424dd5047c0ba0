// Package server exposes the webhook and the approve/reject links over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/poiley/approvarr/internal/approval"
)

const (
	// DefaultMaxBodyBytes caps webhook bodies
	DefaultMaxBodyBytes = 1 << 20

	// RequestIDHeader is echoed back on every response
	RequestIDHeader = "X-Request-ID"

	shutdownTimeout = 10 * time.Second

	// maxRequestIDLength bounds the urn:uuid: form, the longest uuid.Parse accepts.
	maxRequestIDLength = 45
)

// Orchestrator is what the handlers drive.
type Orchestrator interface {
	HandleGrab(ctx context.Context, ev approval.ReleaseEvent) approval.GrabResult
	Approve(ctx context.Context, hash string) (approval.Decision, error)
	Reject(ctx context.Context, hash string) (approval.Decision, error)
}

// Options configure a Server. Only Orchestrator is required.
type Options struct {
	Orchestrator Orchestrator

	// AuditLog receives every webhook body; nil disables auditing
	AuditLog *zap.Logger

	// Logger is the base request logger (defaults to the controller-runtime logger)
	Logger logr.Logger

	// Gatherer serves /metrics (defaults to the controller-runtime registry)
	Gatherer prometheus.Gatherer

	MaxBodyBytes int64
}

// Server routes HTTP requests to the orchestrator.
type Server struct {
	orchestrator Orchestrator
	audit        *zap.Logger
	log          logr.Logger
	gatherer     prometheus.Gatherer
	maxBodyBytes int64
	router       chi.Router
}

// New creates a Server and builds its routes.
func New(opts Options) *Server {
	s := &Server{
		orchestrator: opts.Orchestrator,
		audit:        opts.AuditLog,
		log:          opts.Logger,
		gatherer:     opts.Gatherer,
		maxBodyBytes: opts.MaxBodyBytes,
	}
	if s.audit == nil {
		s.audit = zap.NewNop()
	}
	if s.log.GetSink() == nil {
		s.log = logf.Log.WithName("server")
	}
	if s.gatherer == nil {
		s.gatherer = ctrlmetrics.Registry
	}
	if s.maxBodyBytes <= 0 {
		s.maxBodyBytes = DefaultMaxBodyBytes
	}

	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Post("/webhook", s.handleWebhook)
	r.Get("/approve/{hash}", s.handleApprove)
	r.Get("/reject/{hash}", s.handleReject)
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.log.Info("Shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// requestLogger puts a per-request logger carrying a request id into the context.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := requestID(r.Header.Get(RequestIDHeader))
		w.Header().Set(RequestIDHeader, id)

		log := s.log.WithValues("requestID", id, "method", r.Method, "path", r.URL.Path)
		log.V(1).Info("Request received", "remote", r.RemoteAddr)

		next.ServeHTTP(w, r.WithContext(logf.IntoContext(r.Context(), log)))
	})
}

// requestID keeps a client supplied id only when it is a UUID, in canonical form.
func requestID(header string) string {
	if len(header) <= maxRequestIDLength {
		if id, err := uuid.Parse(header); err == nil {
			return id.String()
		}
	}
	return uuid.NewString()
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
