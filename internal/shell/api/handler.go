// Package api exposes the promotion engine's control surface: one route
// per stage trigger, the journal history, and the derived chain status.
// Stage endpoints run synchronously and answer with the stage result.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/shipway/shipway/internal/core/promotion"
	"github.com/shipway/shipway/internal/core/version"
	"github.com/shipway/shipway/internal/shell/api/middleware"
	"github.com/shipway/shipway/internal/shell/promoter"
	"github.com/shipway/shipway/internal/shell/registry"
	"github.com/shipway/shipway/internal/shell/store"
)

// =============================================================================
// Handler
// =============================================================================

// Coordinator is the promotion surface the handler drives.
type Coordinator interface {
	RunAcceptance(ctx context.Context, force bool) (promotion.StageResult, error)
	RunQA(ctx context.Context, tag string) (promotion.StageResult, error)
	SubmitSignoff(ctx context.Context, tag string, pass bool) (promotion.StageResult, error)
	RunProduction(ctx context.Context, tag string) (promotion.StageResult, error)
	Status(ctx context.Context) (promoter.ChainStatus, error)
}

// Handler provides HTTP handlers for the promotion API.
type Handler struct {
	coordinator Coordinator
	journal     store.Store
	logger      *slog.Logger
	token       string
	version     string
}

// NewHandler creates the API handler. An empty token disables bearer
// authentication.
func NewHandler(c Coordinator, journal store.Store, token, buildVersion string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		coordinator: c,
		journal:     journal,
		logger:      logger.With("component", "api"),
		token:       token,
		version:     buildVersion,
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(h.jsonContentType)

	r.Get("/health", h.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.BearerAuth(h.token, h.logger))

		r.Route("/promotions", func(r chi.Router) {
			r.Post("/acceptance", h.handleAcceptance)
			r.Post("/qa", h.handleQA)
			r.Post("/signoff", h.handleSignoff)
			r.Post("/production", h.handleProduction)
			r.Get("/", h.handleHistory)
			r.Get("/{id}", h.handleGetRun)
		})
		r.Get("/status", h.handleStatus)
	})

	return r
}

func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Request/Response Types
// =============================================================================

type acceptanceRequest struct {
	Force bool `json:"force"`
}

type versionRequest struct {
	Version string `json:"version"`
}

type signoffRequest struct {
	Version string `json:"version"`
	Result  string `json:"result"` // pass | fail
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// =============================================================================
// Stage Handlers
// =============================================================================

func (h *Handler) handleAcceptance(w http.ResponseWriter, r *http.Request) {
	var req acceptanceRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.stage(w, r, func() (promotion.StageResult, error) {
		return h.coordinator.RunAcceptance(r.Context(), req.Force)
	})
}

func (h *Handler) handleQA(w http.ResponseWriter, r *http.Request) {
	var req versionRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.stage(w, r, func() (promotion.StageResult, error) {
		return h.coordinator.RunQA(r.Context(), req.Version)
	})
}

func (h *Handler) handleSignoff(w http.ResponseWriter, r *http.Request) {
	var req signoffRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	var pass bool
	switch req.Result {
	case "pass":
		pass = true
	case "fail":
		pass = false
	default:
		h.writeError(w, http.StatusBadRequest, errors.New(`result must be "pass" or "fail"`))
		return
	}
	h.stage(w, r, func() (promotion.StageResult, error) {
		return h.coordinator.SubmitSignoff(r.Context(), req.Version, pass)
	})
}

func (h *Handler) handleProduction(w http.ResponseWriter, r *http.Request) {
	var req versionRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.stage(w, r, func() (promotion.StageResult, error) {
		return h.coordinator.RunProduction(r.Context(), req.Version)
	})
}

// stage runs one promotion stage and maps its result onto the wire: gate
// errors by class, failed results as 502 with the result body so the
// caller still gets the diagnostics.
func (h *Handler) stage(w http.ResponseWriter, r *http.Request, fn func() (promotion.StageResult, error)) {
	result, err := fn()
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	status := http.StatusOK
	if result.Failed() {
		status = http.StatusBadGateway
	}
	h.writeJSON(w, status, result)
}

// statusFor maps gate errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, promoter.ErrEnvironmentBusy):
		return http.StatusConflict
	case errors.Is(err, promoter.ErrVerdictExists),
		errors.Is(err, promoter.ErrAlreadyReleased),
		errors.Is(err, promoter.ErrSignoffRequired),
		errors.Is(err, promotion.ErrSignoffDenied):
		return http.StatusConflict
	case errors.Is(err, registry.ErrTagNotFound):
		return http.StatusNotFound
	case errors.Is(err, version.ErrNotReleaseCandidate),
		errors.Is(err, version.ErrMalformedTarget),
		errors.Is(err, promoter.ErrNothingToPromote):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// Read Handlers
// =============================================================================

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.coordinator.Status(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	runs, err := h.journal.ListRuns(r.Context(), limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.journal.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, err)
			return
		}
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

// handleHealth answers the daemon's own liveness probe with the same
// shape the engine consumes from workloads.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.version,
	})
}

// =============================================================================
// Helpers
// =============================================================================

// decodeBody parses the request body; an empty body yields zero values.
func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return errors.New("malformed request body")
	}
	return nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "status", status, "error", err)
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}
