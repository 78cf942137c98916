// Package httpapi exposes the experiment engine over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/storefront-labs/pricelab/internal/api"
	"github.com/storefront-labs/pricelab/internal/metrics"
)

const maxBodyBytes = 1 << 20

// Engine is the experiment service as seen by the HTTP layer
type Engine interface {
	Propose(ctx context.Context, storeID string, req api.ProposalRequest) (api.ProposalResult, error)
	Start(ctx context.Context, storeID string, req api.StartRequest) (api.StartResult, error)
	Stop(ctx context.Context, storeID, id string) (api.StopResult, error)
	List(ctx context.Context, storeID string, limit int) ([]api.ExperimentSummary, error)
	Get(ctx context.Context, storeID, id string) (api.Experiment, error)
	Performance(ctx context.Context, storeID, id string, windowDays int) (api.PerformanceResult, error)
}

type Handler struct {
	engine  Engine
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewHandler(engine Engine, m *metrics.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{engine: engine, metrics: m, logger: logger}
}

// Routes registers the /v1/pricing endpoints on r. Authentication and rate
// limiting are applied by the caller.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/proposals", h.propose)
	r.Get("/experiments", h.list)
	r.Get("/experiments/{id}", h.get)
	r.Get("/experiments/{id}/performance", h.performance)
	r.Get("/outcomes", h.outcomes)

	r.Group(func(r chi.Router) {
		r.Use(RequireScope(ScopeWrite))
		r.Post("/experiments", h.start)
		r.Post("/experiments/{id}/stop", h.stop)
	})
}

func (h *Handler) propose(w http.ResponseWriter, r *http.Request) {
	var req api.ProposalRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.engine.Propose(r.Context(), storeOf(r), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	var req api.StartRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.engine.Start(r.Context(), storeOf(r), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	actor, _ := Actor(r.Context())
	h.logger.Info("experiment started via api",
		"store_id", storeOf(r),
		"experiment_id", res.ExperimentID,
		"actor", actor)
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Stop(r.Context(), storeOf(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	actor, _ := Actor(r.Context())
	h.logger.Info("experiment stopped via api",
		"store_id", storeOf(r),
		"experiment_id", res.ExperimentID,
		"actor", actor)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	items, err := h.engine.List(r.Context(), storeOf(r), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if items == nil {
		items = []api.ExperimentSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"experiments": items})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	exp, err := h.engine.Get(r.Context(), storeOf(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (h *Handler) performance(w http.ResponseWriter, r *http.Request) {
	days, err := intQuery(r, "window_days")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.engine.Performance(r.Context(), storeOf(r), chi.URLParam(r, "id"), days)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) outcomes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.metrics.Outcomes.Report(storeOf(r)))
}

// decode reads an optional JSON body; an empty body leaves v untouched
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// fail maps error kinds to status codes; anything unclassified is a 500
// and its text stays in the log
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"store_id", storeOf(r),
			"error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, api.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, api.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, api.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func storeOf(r *http.Request) string {
	id, _ := StoreID(r.Context())
	return id
}

// intQuery returns 0 when the parameter is absent
func intQuery(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, api.Validationf("%s must be an integer, got %q", name, raw)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error":   http.StatusText(status),
		"status":  status,
		"message": message,
	})
}

