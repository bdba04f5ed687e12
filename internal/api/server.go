package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/retail-variant-crawler/internal/crawler"
	"github.com/JakeFAU/retail-variant-crawler/internal/metrics"
	"github.com/JakeFAU/retail-variant-crawler/internal/retailer"
	"github.com/JakeFAU/retail-variant-crawler/internal/store"
)

const (
	maxProductsPerRequest = 100
	enqueueTimeout        = 5 * time.Second
)

// Enqueuer accepts product requests for the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, req crawler.ProductRequest) error
}

// Retailers resolves a product URL to its retailer definition.
type Retailers interface {
	Lookup(rawURL string) (*retailer.Definition, error)
}

// Options carries the optional server knobs.
type Options struct {
	APIKey         string
	RequestTimeout time.Duration
	// Ready reports downstream health for /readyz. Nil is always ready.
	Ready func(ctx context.Context) error
}

// Server wires HTTP handlers to the dispatcher and run store.
type Server struct {
	router    chi.Router
	queue     Enqueuer
	retailers Retailers
	idGen     crawler.IDGenerator
	clock     crawler.Clock
	opts      Options
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	queue Enqueuer,
	retailers Retailers,
	runs store.RunRepository,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	opts Options,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		queue:     queue,
		retailers: retailers,
		idGen:     idGen,
		clock:     clock,
		opts:      opts,
		logger:    logger,
	}
	runHandler := NewRunHandler(runs, logger.Named("runs"))

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Route("/products", func(r chi.Router) {
			r.Post("/", s.submitProducts)
			r.Get("/", runHandler.ListRuns)
			r.Get("/{id}", runHandler.GetRun)
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

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type productRequest struct {
	URLs     []string `json:"urls"`
	GroupURL string   `json:"group_url"`
	Limit    *int     `json:"limit"`
}

type queuedProduct struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Retailer string `json:"retailer"`
	Status   string `json:"status"`
}

func (s *Server) submitProducts(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validateProductRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	domains := make([]string, len(req.URLs))
	for i, raw := range req.URLs {
		def, err := s.retailers.Lookup(raw)
		if err != nil {
			if errors.Is(err, retailer.ErrUnknownRetailer) {
				writeError(w, http.StatusUnprocessableEntity, err.Error())
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		domains[i] = def.Domain()
	}

	queued := make([]queuedProduct, 0, len(req.URLs))
	for i, raw := range req.URLs {
		id, err := s.enqueue(r.Context(), raw, req)
		if err != nil {
			s.logger.Error("enqueue product failed", zap.String("url", raw), zap.Error(err))
			status := http.StatusServiceUnavailable
			if errors.Is(err, context.DeadlineExceeded) {
				status = http.StatusRequestTimeout
			}
			writeJSON(w, status, map[string]any{"error": err.Error(), "products": queued})
			return
		}
		queued = append(queued, queuedProduct{ID: id, URL: raw, Retailer: domains[i], Status: "queued"})
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"products": queued})
}

func (s *Server) enqueue(ctx context.Context, rawURL string, req productRequest) (string, error) {
	id, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate request id: %w", err)
	}
	item := crawler.ProductRequest{
		ID:        id,
		URL:       rawURL,
		Attempt:   1,
		Submitted: s.clock.Now(),
	}
	if len(req.URLs) == 1 {
		item.GroupURL = req.GroupURL
	}
	if req.Limit != nil {
		item.Limit = *req.Limit
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	if err := s.queue.Enqueue(queueCtx, item); err != nil {
		return "", fmt.Errorf("enqueue product: %w", err)
	}
	return id, nil
}

func validateProductRequest(req productRequest) error {
	if len(req.URLs) == 0 {
		return errors.New("urls required")
	}
	if len(req.URLs) > maxProductsPerRequest {
		return fmt.Errorf("at most %d urls per request", maxProductsPerRequest)
	}
	if req.GroupURL != "" && len(req.URLs) > 1 {
		return errors.New("group_url requires a single url")
	}
	if req.Limit != nil && *req.Limit < 0 {
		return errors.New("limit must be >= 0")
	}
	for _, raw := range req.URLs {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid url %q", raw)
		}
	}
	return nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rec),
						zap.String("request_id", requestID(r.Context())),
					)
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

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

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
