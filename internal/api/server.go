package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkmeta/internal/batch"
	"github.com/JakeFAU/linkmeta/internal/config"
	"github.com/JakeFAU/linkmeta/internal/extract"
	"github.com/JakeFAU/linkmeta/internal/id/uuid"
	"github.com/JakeFAU/linkmeta/internal/metrics"
	"github.com/JakeFAU/linkmeta/internal/resolver"
)

const (
	maxBodyBytes       = 1 << 20
	msgContentType     = "Request must be Content-Type: application/json"
	msgInvalidParams   = "invalid parameters"
	defaultReqTimeout  = 60 * time.Second
	contentTypeJSONKey = "application/json"
)

// Batcher runs metadata batches and drops cached results.
type Batcher interface {
	Process(ctx context.Context, items []batch.Item, opts resolver.Options) []extract.Metadata
	Refresh(urls []string) int
}

// IDGenerator issues request IDs.
type IDGenerator interface {
	NewID() string
}

// Server wires HTTP handlers to the batch orchestrator.
type Server struct {
	router  chi.Router
	batcher Batcher
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(batcher Batcher, ids IDGenerator, cfg config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ids == nil {
		ids = uuid.New()
	}
	s := &Server{batcher: batcher, logger: logger}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultReqTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(ids))
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	if cfg.EnableCORS {
		r.Use(corsMiddleware)
	}
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	// Compatibility for the Physical Web resolver schema.
	r.Post("/resolve-scan", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/api/v1/metadata", http.StatusTemporaryRedirect)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireJSON)
		r.Route("/metadata", func(r chi.Router) {
			r.Post("/", s.metadata)
			r.Post("/raw", s.metadata)
			r.Post("/raw/", s.metadata)
			r.Post("/refresh", s.refresh)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// Everything lives in memory; there is nothing downstream to probe.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type adaptorRequest struct {
	Pattern string `json:"pattern"`
	URL     string `json:"url"`
}

type metadataRequest struct {
	Objects  []batch.Item     `json:"objects"`
	Adaptors []adaptorRequest `json:"adaptors"`
}

func (s *Server) metadata(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	adaptors, err := compileAdaptors(req.Adaptors)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results := s.batcher.Process(r.Context(), req.Objects, resolver.Options{Adaptors: adaptors})
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	urls := make([]string, 0, len(req.Objects))
	for _, item := range req.Objects {
		urls = append(urls, item.URL)
	}
	n := s.batcher.Refresh(urls)
	s.logger.Info("cache refreshed", zap.Int("requested", len(urls)), zap.Int("refreshed", n))
	writeJSON(w, http.StatusOK, map[string]int{"refreshed": n})
}

// decodeRequest writes the 400 itself and reports whether the caller may
// continue.
func decodeRequest(w http.ResponseWriter, r *http.Request) (metadataRequest, bool) {
	var req metadataRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil || req.Objects == nil {
		writeError(w, http.StatusBadRequest, msgInvalidParams)
		return metadataRequest{}, false
	}
	return req, true
}

// compileAdaptors drops adaptors without a pattern and rejects patterns that
// do not compile.
func compileAdaptors(in []adaptorRequest) ([]resolver.Adaptor, error) {
	out := make([]resolver.Adaptor, 0, len(in))
	for _, a := range in {
		if a.Pattern == "" {
			continue
		}
		re, err := regexp.Compile(a.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid adaptor pattern %q: %w", a.Pattern, err)
		}
		out = append(out, resolver.Adaptor{Pattern: re, URL: a.URL})
	}
	return out, nil
}

func requireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost &&
			!strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), contentTypeJSONKey) {
			writeError(w, http.StatusBadRequest, msgContentType)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept")
		next.ServeHTTP(w, r)
	})
}

func requestIDMiddleware(ids IDGenerator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := ids.NewID()
			ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
			w.Header().Set("X-Request-ID", reqID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
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
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
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

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
