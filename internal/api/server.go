// Package api provides the REST API for the optimizer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/sergeeey/TERAG111-sub002/internal/advisor"
	"github.com/sergeeey/TERAG111-sub002/internal/detector"
	"github.com/sergeeey/TERAG111-sub002/internal/fingerprint"
	"github.com/sergeeey/TERAG111-sub002/internal/optimizer"
	"github.com/sergeeey/TERAG111-sub002/internal/storage"
	"github.com/sergeeey/TERAG111-sub002/pkg/models"
)

// Server is the REST API server.
type Server struct {
	optimizer   *optimizer.Optimizer
	store       storage.Storage
	detector    detector.Detector
	thresholdMs float64
	dryRun      bool
	liveLimiter *rate.Limiter
	logger      *slog.Logger

	// scans shares one detection pass between concurrent read-only requests
	// for the same threshold.
	scans singleflight.Group

	router *chi.Mux
	server *http.Server
}

// Config wires a Server.
type Config struct {
	Addr      string
	Optimizer *optimizer.Optimizer
	Store     storage.Storage
	Detector  detector.Detector

	// Defaults for runs that do not specify them.
	ThresholdMs float64
	DryRun      bool

	// RunRateLimit caps on-demand live runs per minute. Zero disables the cap.
	RunRateLimit float64

	Logger *slog.Logger
}

// PaginationParams contains pagination parameters from query string.
type PaginationParams struct {
	Limit  int
	Offset int
}

// PaginatedResponse wraps a paginated response with metadata.
type PaginatedResponse struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
}

// parsePaginationParams extracts pagination parameters from request.
// Defaults: limit=100, offset=0, max_limit=1000
func parsePaginationParams(r *http.Request) PaginationParams {
	const (
		defaultLimit = 100
		maxLimit     = 1000
	)

	limit := defaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
			if limit > maxLimit {
				limit = maxLimit
			}
		}
	}

	offset := 0
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	return PaginationParams{
		Limit:  limit,
		Offset: offset,
	}
}

// paginateSlice applies pagination to a slice.
func paginateSlice[T any](items []T, params PaginationParams) ([]T, PaginatedResponse) {
	total := len(items)
	start := params.Offset
	end := start + params.Limit

	// Bounds check
	if start >= total {
		return []T{}, PaginatedResponse{
			Data:    []T{},
			Total:   total,
			Limit:   params.Limit,
			Offset:  params.Offset,
			HasMore: false,
		}
	}

	if end > total {
		end = total
	}

	page := items[start:end]
	hasMore := end < total

	return page, PaginatedResponse{
		Data:    page,
		Total:   total,
		Limit:   params.Limit,
		Offset:  params.Offset,
		HasMore: hasMore,
	}
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		optimizer:   cfg.Optimizer,
		store:       cfg.Store,
		detector:    cfg.Detector,
		thresholdMs: cfg.ThresholdMs,
		dryRun:      cfg.DryRun,
		logger:      cfg.Logger,
		router:      chi.NewRouter(),
	}
	if cfg.RunRateLimit > 0 {
		s.liveLimiter = rate.NewLimiter(rate.Limit(cfg.RunRateLimit/60), 1)
	}

	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		// Health endpoint
		r.Get("/health", s.HandleHealth)

		// Optimizer endpoints
		r.Post("/optimizer/runs", s.startRun)
		r.Get("/optimizer/runs", s.listRuns)
		r.Get("/optimizer/runs/{id}", s.getRun)
		r.Get("/optimizer/ledger", s.listLedger)
		r.Get("/optimizer/breaker", s.getBreaker)

		// Detection and advice without side effects
		r.Get("/slow-operations", s.listSlowOperations)
		r.Get("/slow-operations/shapes", s.listShapes)
		r.Post("/advise", s.advise)

		// Admin endpoints
		r.Post("/admin/clear", s.clearAllData)
	})

	s.router.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.router,
	}

	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the API server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// RunRequest is the body of POST /api/v1/optimizer/runs. Omitted fields
// fall back to the configured defaults.
type RunRequest struct {
	ThresholdMs *float64 `json:"threshold_ms,omitempty"`
	DryRun      *bool    `json:"dry_run,omitempty"`
}

// startRun runs the optimizer synchronously and returns its report.
// POST /api/v1/optimizer/runs
func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	threshold := s.thresholdMs
	if req.ThresholdMs != nil {
		threshold = *req.ThresholdMs
	}
	dryRun := s.dryRun
	if req.DryRun != nil {
		dryRun = *req.DryRun
	}

	if !dryRun && s.liveLimiter != nil && !s.liveLimiter.Allow() {
		w.Header().Set("Retry-After", "60")
		s.respondError(w, http.StatusTooManyRequests, "live run rate limit exceeded")
		return
	}

	report, err := s.optimizer.Run(r.Context(), threshold, dryRun)
	if errors.Is(err, optimizer.ErrInvalidThreshold) {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, report)
}

// listRuns returns recorded runs, newest first.
// Supports pagination via ?limit=N&offset=M query parameters.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)

	runs, err := s.store.ListRuns(r.Context(), 0)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	_, response := paginateSlice(runs, params)
	s.respondJSON(w, http.StatusOK, response)
}

// getRun returns one recorded run.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	runs, err := s.store.ListRuns(r.Context(), 0)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	for _, run := range runs {
		if run.ID == id {
			s.respondJSON(w, http.StatusOK, run)
			return
		}
	}
	s.respondError(w, http.StatusNotFound, "run not found")
}

// listLedger returns created indexes in creation order.
func (s *Server) listLedger(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)

	entries, err := s.store.ListLedger(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	_, response := paginateSlice(entries, params)
	s.respondJSON(w, http.StatusOK, response)
}

// getBreaker returns the live breaker state.
func (s *Server) getBreaker(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.optimizer.Breaker().Snapshot())
}

// thresholdParam reads ?threshold_ms, falling back to the configured default.
func (s *Server) thresholdParam(r *http.Request) (float64, bool) {
	v := r.URL.Query().Get("threshold_ms")
	if v == "" {
		return s.thresholdMs, true
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil || parsed < 0 || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0, false
	}
	return parsed, true
}

// slowOperations collects the slow operations at threshold. The scan runs
// detached from any one request so a disconnecting client cannot truncate the
// result handed to the others; callers must not modify the returned slice.
func (s *Server) slowOperations(ctx context.Context, threshold float64) []models.SlowOperation {
	key := strconv.FormatFloat(threshold, 'g', -1, 64)
	v, _, _ := s.scans.Do(key, func() (any, error) {
		ops := detector.Collect(s.detector.Detect(context.WithoutCancel(ctx), threshold))
		if ops == nil {
			ops = []models.SlowOperation{}
		}
		return ops, nil
	})
	return v.([]models.SlowOperation)
}

// listSlowOperations runs detection only.
// GET /api/v1/slow-operations?threshold_ms=N
func (s *Server) listSlowOperations(w http.ResponseWriter, r *http.Request) {
	threshold, ok := s.thresholdParam(r)
	if !ok {
		s.respondError(w, http.StatusBadRequest, "threshold_ms must be a non-negative number")
		return
	}

	params := parsePaginationParams(r)
	ops := s.slowOperations(r.Context(), threshold)

	_, response := paginateSlice(ops, params)
	s.respondJSON(w, http.StatusOK, response)
}

// listShapes groups slow operations by query shape, most total time first.
// GET /api/v1/slow-operations/shapes?threshold_ms=N
func (s *Server) listShapes(w http.ResponseWriter, r *http.Request) {
	threshold, ok := s.thresholdParam(r)
	if !ok {
		s.respondError(w, http.StatusBadRequest, "threshold_ms must be a non-negative number")
		return
	}

	params := parsePaginationParams(r)
	shapes := fingerprint.Summarize(slices.Values(s.slowOperations(r.Context(), threshold)), fingerprint.DefaultConfig())
	if shapes == nil {
		shapes = []fingerprint.Shape{}
	}

	_, response := paginateSlice(shapes, params)
	s.respondJSON(w, http.StatusOK, response)
}

// AdviseRequest is the body of POST /api/v1/advise.
type AdviseRequest struct {
	Operation string `json:"operation"`
}

// AdviseResponse reports whether an operation is recognized.
type AdviseResponse struct {
	Recognized bool               `json:"recognized"`
	Suggestion *models.Suggestion `json:"suggestion,omitempty"`
	Operator   string             `json:"operator,omitempty"`
	Reason     advisor.Reason     `json:"reason,omitempty"`
}

// advise classifies a single operation.
func (s *Server) advise(w http.ResponseWriter, r *http.Request) {
	var req AdviseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var resp AdviseResponse
	switch res := advisor.Analyze(req.Operation).(type) {
	case advisor.Recognized:
		sug := models.NewSuggestion(res.Label, res.Property, req.Operation)
		resp = AdviseResponse{Recognized: true, Suggestion: &sug, Operator: res.Operator}
	case advisor.Unrecognized:
		resp = AdviseResponse{Reason: res.Reason}
	}

	s.respondJSON(w, http.StatusOK, resp)
}

// respondJSON writes a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// clearAllData clears run history and breaker snapshots. The ledger is kept so
// already applied indexes are never re-applied.
// POST /api/v1/admin/clear
func (s *Server) clearAllData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.store.Clear(ctx); err != nil {
		s.logger.Error("clearing storage failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to clear data")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{
		"message": "Run history and breaker snapshots cleared",
	})
}
