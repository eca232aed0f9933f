// Package handler contains HTTP handlers for the enforcement engine.
//
// This file implements the admin surface for operators:
//
// Routes:
//   - GET  /admin/experiments                      -> ListExperiments
//   - POST /admin/experiments/{name}/enable        -> EnableExperiment
//   - POST /admin/experiments/{name}/disable       -> DisableExperiment
//   - PUT  /admin/flags/{name}                     -> SetFlag
//
// Routes are registered behind the admin basic-auth middleware.
package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/opositia/enforce/internal/domain"
	"github.com/opositia/enforce/internal/repository"
)

// AdminHandler handles operator HTTP requests.
type AdminHandler struct {
	queries *repository.Queries
	logger  *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(queries *repository.Queries, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		queries: queries,
		logger:  logger,
	}
}

// RegisterRoutes registers admin routes with the provided middleware.
func (h *AdminHandler) RegisterRoutes(
	mux *http.ServeMux,
	requireAdmin func(http.Handler) http.Handler,
) {
	mux.Handle("GET /admin/experiments", requireAdmin(http.HandlerFunc(h.ListExperiments)))
	mux.Handle("POST /admin/experiments/{name}/enable", requireAdmin(http.HandlerFunc(h.EnableExperiment)))
	mux.Handle("POST /admin/experiments/{name}/disable", requireAdmin(http.HandlerFunc(h.DisableExperiment)))
	mux.Handle("PUT /admin/flags/{name}", requireAdmin(http.HandlerFunc(h.SetFlag)))
}

// ListExperiments returns every enabled experiment definition.
func (h *AdminHandler) ListExperiments(w http.ResponseWriter, r *http.Request) {
	experiments, err := h.queries.ListEnabledExperiments(r.Context())
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Unavailable(err, "handler.ListExperiments"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"experiments": experiments,
	})
}

// EnableExperiment turns a named experiment on.
func (h *AdminHandler) EnableExperiment(w http.ResponseWriter, r *http.Request) {
	h.setExperimentEnabled(w, r, true)
}

// DisableExperiment turns a named experiment off. Existing group
// assignments are kept; evaluation simply stops consulting them.
func (h *AdminHandler) DisableExperiment(w http.ResponseWriter, r *http.Request) {
	h.setExperimentEnabled(w, r, false)
}

func (h *AdminHandler) setExperimentEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	name := r.PathValue("name")
	if name == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.setExperimentEnabled", "Experiment name is required"))
		return
	}

	found, err := h.queries.SetExperimentEnabled(r.Context(), name, enabled)
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Unavailable(err, "handler.setExperimentEnabled"))
		return
	}
	if !found {
		NotFoundResponse(w, r, h.logger)
		return
	}

	h.logger.Info("experiment toggled", "experiment", name, "enabled", enabled)

	writeJSON(w, http.StatusOK, map[string]any{
		"name":    name,
		"enabled": enabled,
	})
}

// setFlagRequest is the body of PUT /admin/flags/{name}.
type setFlagRequest struct {
	Enabled bool `json:"enabled"`
}

// SetFlag creates or updates a named feature flag.
func (h *AdminHandler) SetFlag(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.SetFlag", "Flag name is required"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.SetFlag", "Could not read request body"))
		return
	}

	var req setFlagRequest
	if err := json.Unmarshal(body, &req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.SetFlag", "Request body must be valid JSON"))
		return
	}

	if err := h.queries.SetFeatureFlag(r.Context(), name, req.Enabled); err != nil {
		ErrorResponse(w, r, h.logger, domain.Unavailable(err, "handler.SetFlag"))
		return
	}

	h.logger.Info("feature flag set", "flag", name, "enabled", req.Enabled)

	writeJSON(w, http.StatusOK, map[string]any{
		"name":    name,
		"enabled": req.Enabled,
	})
}
