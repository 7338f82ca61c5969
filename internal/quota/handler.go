package quota

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/gradewise/meter/internal/api"
	"github.com/gradewise/meter/internal/apikeys"
)

type ScanRequest struct {
	ScanType ScanType `json:"scan_type" validate:"required,oneof=basic gtmetrix"`
}

type SetTierRequest struct {
	Tier string `json:"tier" validate:"required,max=50"`
}

type AddCallsRequest struct {
	Calls int `json:"calls" validate:"required,min=1"`
}

type Handler struct {
	svc      *Service
	validate *validator.Validate
}

func NewHandler(svc *Service) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
	}
}

// ListTiers returns every tier; it needs no authentication.
func (h *Handler) ListTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := h.svc.Tiers(r.Context())
	if err != nil {
		slog.Error("listing tiers", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, tiers)
}

// Scan charges a scan to the caller. Refusals carry the result so clients
// can show what budget is left.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	p := apikeys.FromContext(r.Context())
	if p == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	res, err := h.svc.ConsumeScan(r.Context(), p.UserID, req.ScanType)
	if err != nil {
		slog.Error("consuming scan", "error", err, "user_id", p.UserID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	switch res.Reason {
	case "":
		api.JSON(w, http.StatusOK, res)
	case ReasonFeatureNotAllowed:
		api.WriteJSON(w, http.StatusForbidden, api.Response{Data: res, Error: string(res.Reason)})
	default:
		api.WriteJSON(w, http.StatusTooManyRequests, api.Response{Data: res, Error: string(res.Reason)})
	}
}

// GetQuota returns the caller's quota with its tier.
func (h *Handler) GetQuota(w http.ResponseWriter, r *http.Request) {
	p := apikeys.FromContext(r.Context())
	if p == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	h.writeQuota(w, r, p.UserID)
}

// UsageLogs returns the caller's most recent metered calls.
func (h *Handler) UsageLogs(w http.ResponseWriter, r *http.Request) {
	p := apikeys.FromContext(r.Context())
	if p == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	logs, err := h.svc.UsageLogs(r.Context(), p.UserID, limit)
	if err != nil {
		slog.Error("listing usage logs", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, logs)
}

func (h *Handler) AdminGetQuota(w http.ResponseWriter, r *http.Request) {
	userID, ok := api.UserIDParam(w, r)
	if !ok {
		return
	}
	h.writeQuota(w, r, userID)
}

func (h *Handler) AdminSetTier(w http.ResponseWriter, r *http.Request) {
	userID, ok := api.UserIDParam(w, r)
	if !ok {
		return
	}

	var req SetTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	q, err := h.svc.SetUserTier(r.Context(), userID, req.Tier)
	if err != nil {
		if errors.Is(err, ErrTierNotFound) {
			api.HandleError(w, api.NewNotFoundError("tier not found"))
			return
		}
		slog.Error("setting user tier", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, q)
}

func (h *Handler) AdminAddSubscriptionCalls(w http.ResponseWriter, r *http.Request) {
	userID, req, ok := h.decodeCalls(w, r)
	if !ok {
		return
	}

	q, err := h.svc.AddSubscriptionCalls(r.Context(), userID, req.Calls)
	if err != nil {
		slog.Error("adding subscription calls", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, q)
}

func (h *Handler) AdminAddPack(w http.ResponseWriter, r *http.Request) {
	userID, req, ok := h.decodeCalls(w, r)
	if !ok {
		return
	}

	pack, err := h.svc.AddPackCalls(r.Context(), userID, req.Calls)
	if err != nil {
		slog.Error("adding call pack", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusCreated, pack)
}

func (h *Handler) decodeCalls(w http.ResponseWriter, r *http.Request) (uuid.UUID, AddCallsRequest, bool) {
	var req AddCallsRequest
	userID, ok := api.UserIDParam(w, r)
	if !ok {
		return userID, req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return userID, req, false
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return userID, req, false
	}
	return userID, req, true
}

func (h *Handler) writeQuota(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	q, err := h.svc.GetUserQuotaWithTier(r.Context(), userID)
	if err != nil {
		slog.Error("getting quota", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, q)
}
