// Package handler contains HTTP handlers for the enforcement engine.
//
// This file implements the decision API:
//
// Routes:
//   - POST /v1/evaluate                      -> HandleEvaluate
//   - GET  /v1/experiments/{name}/config     -> HandleExperimentConfig
//   - GET  /v1/usage/{user_id}               -> HandleUsage
//
// All routes speak JSON. Authentication is the caller's concern: the
// engine is deployed behind the platform's API gateway and trusts the
// user_id it is handed.
package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/opositia/enforce/internal/domain"
	"github.com/opositia/enforce/internal/repository"
	"github.com/opositia/enforce/internal/service"
)

// PolicyHandler serves decision evaluation and the read-only views
// around it.
type PolicyHandler struct {
	policy      service.Policy
	experiments service.Experiments
	queries     *repository.Queries
	location    *time.Location
	logger      *slog.Logger
}

// NewPolicyHandler creates a new PolicyHandler.
func NewPolicyHandler(
	policy service.Policy,
	experiments service.Experiments,
	queries *repository.Queries,
	location *time.Location,
	logger *slog.Logger,
) *PolicyHandler {
	if location == nil {
		location = time.UTC
	}
	return &PolicyHandler{
		policy:      policy,
		experiments: experiments,
		queries:     queries,
		location:    location,
		logger:      logger,
	}
}

// RegisterRoutes registers the decision API routes on the provided mux.
func (h *PolicyHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/evaluate", h.HandleEvaluate)
	mux.HandleFunc("GET /v1/experiments/{name}/config", h.HandleExperimentConfig)
	mux.HandleFunc("GET /v1/usage/{user_id}", h.HandleUsage)
}

// evaluateRequest is the body of POST /v1/evaluate.
type evaluateRequest struct {
	UserID  uuid.UUID            `json:"user_id"`
	Action  domain.ActionKind    `json:"action"`
	Context domain.ActionContext `json:"context"`
}

// HandleEvaluate runs one action through the policy evaluator and
// returns the decision. A denial is still a 200: the decision was made,
// its outcome is in the body.
func (h *PolicyHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.HandleEvaluate", "Could not read request body"))
		return
	}

	var req evaluateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.HandleEvaluate", "Request body must be valid JSON"))
		return
	}

	if req.Context.IP == "" {
		req.Context.IP = r.RemoteAddr
	}
	if req.Context.RequestID == "" {
		req.Context.RequestID = r.Header.Get("X-Request-Id")
	}

	decision, err := h.policy.Evaluate(r.Context(), req.UserID, req.Action, req.Context)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// HandleExperimentConfig returns the caller's group and overrides for a
// named experiment. 404 when the experiment is unknown, disabled, or
// outside its window. Plan targeting is not checked here; it only
// limits which experiments contribute overrides on the evaluate path.
func (h *PolicyHandler) HandleExperimentConfig(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.HandleExperimentConfig", "Experiment name is required"))
		return
	}

	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.HandleExperimentConfig", "A valid user_id query parameter is required"))
		return
	}

	cfg, err := h.experiments.GetConfig(r.Context(), name, userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if cfg == nil {
		NotFoundResponse(w, r, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

// usageResponse is the body of GET /v1/usage/{user_id}.
type usageResponse struct {
	UserID   uuid.UUID      `json:"user_id"`
	Day      string         `json:"day"`
	Month    string         `json:"month"`
	Counters []usageCounter `json:"counters"`
}

type usageCounter struct {
	Dimension domain.Dimension `json:"dimension"`
	PeriodKey string           `json:"period_key"`
	Value     int64            `json:"value"`
}

// HandleUsage returns the user's current-period counters without
// consuming anything. Absent counters are simply not listed; zero usage
// is the empty list.
func (h *PolicyHandler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("user_id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.HandleUsage", "A valid user id is required"))
		return
	}

	now := time.Now().In(h.location)
	dayKey := domain.DayKey(now)
	monthKey := domain.MonthKey(now)

	counters, err := h.queries.ListUsage(r.Context(), userID, dayKey, monthKey)
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Unavailable(err, "handler.HandleUsage"))
		return
	}

	resp := usageResponse{
		UserID:   userID,
		Day:      dayKey,
		Month:    monthKey,
		Counters: make([]usageCounter, 0, len(counters)),
	}
	for _, c := range counters {
		resp.Counters = append(resp.Counters, usageCounter{
			Dimension: c.Dimension,
			PeriodKey: c.PeriodKey,
			Value:     c.Value,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
