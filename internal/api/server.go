// Package api exposes the HTTP interface for the service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"sitechat/internal/config"
	"sitechat/internal/metrics"
	"sitechat/internal/rag"
)

// RunRegistry is the slice of the registry the HTTP layer reads and writes.
type RunRegistry interface {
	Create(params rag.RunParams) (rag.Run, error)
	Get(id string) rag.Run
	AppendLog(id, line string) error
	SetStatus(id string, status rag.RunStatus) error
	List() []string
	History() []rag.RunSummary
	Delete(ctx context.Context, id string) error
}

// Enqueuer hands created runs to the executor pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, item rag.QueueItem) error
}

// Answerer resolves scoped retrieval-augmented queries.
type Answerer interface {
	Answer(ctx context.Context, runID, query string, topK int) (rag.Answer, error)
}

// StatusProber reports on the vector store for readiness and capability checks.
type StatusProber interface {
	Ping(ctx context.Context) error
	ListCollections(ctx context.Context) ([]string, error)
}

// Server wires HTTP handlers to the registry, the run queue, and the answer
// engine.
type Server struct {
	router        chi.Router
	registry      RunRegistry
	enqueuer      Enqueuer
	answerer      Answerer
	prober        StatusProber
	llmConfigured bool
	clock         rag.Clock
	cfg           config.Config
	logger        *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	registry RunRegistry,
	enqueuer Enqueuer,
	answerer Answerer,
	prober StatusProber,
	llmConfigured bool,
	clock rag.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		registry:      registry,
		enqueuer:      enqueuer,
		answerer:      answerer,
		prober:        prober,
		llmConfigured: llmConfigured,
		clock:         clock,
		cfg:           cfg,
		logger:        logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(120 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.getStatus)
		r.Route("/pipeline", func(r chi.Router) {
			r.Post("/start", s.startPipeline)
			r.Get("/status/{run_id}", s.getPipelineStatus)
			r.Get("/list", s.listPipelines)
			r.Get("/history", s.getHistory)
			r.Delete("/{run_id}", s.deletePipeline)
		})
		r.Post("/answer", s.postAnswer)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.prober.Ping(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "vector store unreachable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	status := rag.ServerStatus{
		LLMConfigured: s.llmConfigured,
		Collections:   []string{},
	}
	if err := s.prober.Ping(r.Context()); err == nil {
		status.VectorStoreConfigured = true
		if cols, err := s.prober.ListCollections(r.Context()); err == nil {
			status.Collections = cols
		} else {
			s.logger.Warn("list collections failed", zap.Error(err))
		}
	}
	s.writeJSON(w, http.StatusOK, status)
}

// mapError translates the domain error taxonomy onto HTTP status codes.
func mapError(err error) int {
	switch {
	case rag.IsValidation(err):
		return http.StatusBadRequest
	case rag.IsNotFound(err):
		return http.StatusNotFound
	case rag.IsConflict(err):
		return http.StatusConflict
	default:
		var up *rag.UpstreamError
		if errors.As(err, &up) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
