package apikeys

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/gradewise/meter/internal/api"
)

var errInvalidKeyID = &api.AppError{Code: http.StatusBadRequest, Message: "invalid key id"}

// Handler serves the admin endpoints that manage a user's keys.
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

// Issue creates a key; the plaintext appears only in this response.
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	userID, ok := api.UserIDParam(w, r)
	if !ok {
		return
	}

	var req IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	issued, err := h.svc.Issue(r.Context(), userID, req)
	if err != nil {
		if errors.Is(err, ErrExpiredKey) {
			api.HandleError(w, api.NewValidationError("expires_at must be in the future"))
			return
		}
		slog.Error("issuing api key", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusCreated, issued)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := api.UserIDParam(w, r)
	if !ok {
		return
	}

	keys, err := h.svc.List(r.Context(), userID)
	if err != nil {
		slog.Error("listing api keys", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, keys)
}

func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	userID, ok := api.UserIDParam(w, r)
	if !ok {
		return
	}
	keyID, ok := api.UUIDParam(w, r, "keyID", errInvalidKeyID)
	if !ok {
		return
	}

	if err := h.svc.Revoke(r.Context(), userID, keyID); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			api.HandleError(w, api.NewNotFoundError(ErrKeyNotFound.Error()))
			return
		}
		slog.Error("revoking api key", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSONMessage(w, http.StatusOK, "api key revoked")
}
