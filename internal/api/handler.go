package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/opensource-finance/rxwatch/internal/dashboard"
	"github.com/opensource-finance/rxwatch/internal/domain"
	"github.com/opensource-finance/rxwatch/internal/filter"
	"github.com/opensource-finance/rxwatch/internal/prescription"
)

const (
	// maxBodyBytes caps request bodies.
	maxBodyBytes = 1 << 20

	pingTimeout = 2 * time.Second
)

// Handler holds dependencies for API handlers.
type Handler struct {
	views    *dashboard.Service
	upstream domain.PredictionService
	version  string
	logger   *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(views *dashboard.Service, upstream domain.PredictionService, version string, logger *slog.Logger) *Handler {
	return &Handler{
		views:    views,
		upstream: upstream,
		version:  version,
		logger:   logger,
	}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Health reports liveness and whether the prediction service answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	upstream := "ok"

	if h.upstream != nil {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		if err := h.upstream.Ping(ctx); err != nil {
			h.logger.Warn("prediction service unreachable", "error", err)
			status = "degraded"
			upstream = "unreachable"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   status,
		"upstream": upstream,
		"version":  h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// Dashboard handles GET /dashboard.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	view, err := h.views.Dashboard(r.Context(), r.URL.Query().Get("filter"))
	if err != nil {
		h.viewError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Overview handles GET /overview.
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	view, err := h.views.Overview(r.Context(), r.URL.Query().Get("filter"))
	if err != nil {
		h.viewError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Rows handles GET /history/rows.
func (h *Handler) Rows(w http.ResponseWriter, r *http.Request) {
	view, err := h.views.Rows(r.Context(), r.URL.Query().Get("filter"))
	if err != nil {
		h.viewError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// PrescriptionDefaults handles GET /prescriptions/defaults.
func (h *Handler) PrescriptionDefaults(w http.ResponseWriter, r *http.Request) {
	form := prescription.DefaultForm()
	writeJSON(w, http.StatusOK, map[string]any{
		"form":             form,
		"totalCost":        form.TotalCost(),
		"encounterClasses": prescription.EncounterClasses,
		"genders":          prescription.Genders,
		"maritalStatuses":  prescription.MaritalStatuses,
	})
}

// SubmitPrescription handles POST /prescriptions. Fields missing from the
// body keep their default values.
func (h *Handler) SubmitPrescription(w http.ResponseWriter, r *http.Request) {
	form := prescription.DefaultForm()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&form); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if h.upstream == nil {
		writeError(w, http.StatusServiceUnavailable, "prediction service is not configured")
		return
	}

	assessment, err := prescription.Submit(r.Context(), h.upstream, form)
	if err != nil {
		var fieldErrs prescription.FieldErrors
		switch {
		case errors.As(err, &fieldErrs):
			writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
				Error:  "invalid prescription",
				Fields: fieldErrs,
			})
		case r.Context().Err() != nil:
			h.logger.Debug("prescription request cancelled", "request_id", GetRequestID(r.Context()))
		default:
			h.logger.Error("failed to score prescription",
				"error", err,
				"request_id", GetRequestID(r.Context()),
			)
			writeError(w, http.StatusBadGateway, "prediction service failed to score the prescription")
		}
		return
	}

	writeJSON(w, http.StatusOK, assessment)
}

// viewError maps view service errors. Fetch failures never get here; they
// come back as degraded views.
func (h *Handler) viewError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, filter.ErrInvalidFilter):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.logger.Debug("view request cancelled",
			"path", r.URL.Path,
			"request_id", GetRequestID(r.Context()),
		)
	default:
		h.logger.Error("failed to build view", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
