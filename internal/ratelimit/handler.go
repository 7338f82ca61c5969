package ratelimit

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/gradewise/meter/internal/adminauth"
	"github.com/gradewise/meter/internal/api"
)

var errInvalidOverrideID = &api.AppError{Code: http.StatusBadRequest, Message: "invalid override id"}

// Handler serves the admin endpoints for overrides and reports.
type Handler struct {
	overrides *OverrideService
	reports   *ReportService
	validate  *validator.Validate
}

func NewHandler(overrides *OverrideService, reports *ReportService) *Handler {
	return &Handler{
		overrides: overrides,
		reports:   reports,
		validate:  validator.New(),
	}
}

func (h *Handler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	list, err := h.overrides.ListOverrides(r.Context(), includeInactive)
	if err != nil {
		slog.Error("listing overrides", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, list)
}

func (h *Handler) CreateOverride(w http.ResponseWriter, r *http.Request) {
	var req CreateOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	o, err := h.overrides.CreateOverride(r.Context(), req, adminauth.Subject(r.Context()))
	if err != nil {
		switch {
		case errors.Is(err, ErrOverrideExists):
			api.HandleError(w, api.NewConflictError(ErrOverrideExists.Error()))
		case errors.Is(err, ErrExpiryInPast):
			api.HandleError(w, api.NewValidationError(ErrExpiryInPast.Error()))
		default:
			slog.Error("creating override", "error", err)
			api.HandleError(w, api.ErrInternalServer)
		}
		return
	}
	api.JSON(w, http.StatusCreated, o)
}

func (h *Handler) DeactivateOverride(w http.ResponseWriter, r *http.Request) {
	id, ok := api.UUIDParam(w, r, "id", errInvalidOverrideID)
	if !ok {
		return
	}

	o, err := h.overrides.DeactivateOverride(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrOverrideNotFound) {
			api.HandleError(w, api.NewNotFoundError(ErrOverrideNotFound.Error()))
			return
		}
		slog.Error("deactivating override", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, o)
}

// Report returns the last full hour, or the range given by from and to
// (RFC 3339) when both are set.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		rep *Report
		err error
	)
	if q.Get("from") != "" || q.Get("to") != "" {
		from, ferr := time.Parse(time.RFC3339, q.Get("from"))
		to, terr := time.Parse(time.RFC3339, q.Get("to"))
		if ferr != nil || terr != nil || !from.Before(to) {
			api.HandleError(w, api.NewBadRequestError("from and to must be RFC 3339 times with from before to"))
			return
		}
		rep, err = h.reports.Between(r.Context(), from, to)
	} else {
		rep, err = h.reports.Hourly(r.Context(), time.Time{})
	}
	if err != nil {
		slog.Error("building rate limit report", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, rep)
}
