package wallet

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/gradewise/meter/internal/adminauth"
	"github.com/gradewise/meter/internal/api"
	"github.com/gradewise/meter/internal/apikeys"
)

// HeaderIdempotencyKey may carry the idempotency key instead of the body.
const HeaderIdempotencyKey = "Idempotency-Key"

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

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	p := apikeys.FromContext(r.Context())
	if p == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	wallet, err := h.svc.GetWallet(r.Context(), p.UserID)
	if err != nil {
		slog.Error("getting wallet", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, wallet)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	p := apikeys.FromContext(r.Context())
	if p == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	page, pageSize := api.PageParams(r)
	txs, err := h.svc.ListTransactions(r.Context(), p.UserID, page, pageSize)
	if err != nil {
		slog.Error("listing transactions", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSONPaginated(w, http.StatusOK, txs, page, pageSize)
}

// Debit spends tokens from the caller's wallet. Insufficient funds answer
// 402 with the required and available amounts.
func (h *Handler) Debit(w http.ResponseWriter, r *http.Request) {
	p := apikeys.FromContext(r.Context())
	if p == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req DebitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get(HeaderIdempotencyKey)
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}
	req.UserID = p.UserID

	res, err := h.svc.DebitTokens(r.Context(), req)
	if err != nil {
		writeError(w, "debiting tokens", err)
		return
	}
	if !res.OK {
		api.WriteJSON(w, http.StatusPaymentRequired, api.Response{Data: res, Error: "insufficient funds"})
		return
	}
	api.JSON(w, http.StatusOK, res)
}

func (h *Handler) AdminCredit(w http.ResponseWriter, r *http.Request) {
	userID, ok := api.UserIDParam(w, r)
	if !ok {
		return
	}

	var req CreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get(HeaderIdempotencyKey)
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}
	req.UserID = userID
	req.CreatedBy = adminauth.Subject(r.Context())

	res, err := h.svc.CreditTokens(r.Context(), req)
	if err != nil {
		writeError(w, "crediting tokens", err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	api.JSON(w, status, res)
}

func (h *Handler) AdminAdjust(w http.ResponseWriter, r *http.Request) {
	userID, ok := api.UserIDParam(w, r)
	if !ok {
		return
	}

	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	tr, err := h.svc.AdminAdjustBalance(r.Context(), userID, req, adminauth.Subject(r.Context()))
	if err != nil {
		writeError(w, "adjusting balance", err)
		return
	}
	api.JSON(w, http.StatusCreated, tr)
}

func (h *Handler) AdminGetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := api.UserIDParam(w, r)
	if !ok {
		return
	}

	wallet, err := h.svc.GetWallet(r.Context(), userID)
	if err != nil {
		slog.Error("getting wallet", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, wallet)
}

func (h *Handler) AdminVerify(w http.ResponseWriter, r *http.Request) {
	userID, ok := api.UserIDParam(w, r)
	if !ok {
		return
	}

	rep, err := h.svc.VerifyLedger(r.Context(), userID)
	if err != nil {
		writeError(w, "verifying ledger", err)
		return
	}
	api.JSON(w, http.StatusOK, rep)
}

func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrZeroAdjustment):
		api.HandleError(w, api.NewValidationError(err.Error()))
	case errors.Is(err, ErrNegativeBalance):
		api.HandleError(w, api.NewConflictError(ErrNegativeBalance.Error()))
	case errors.Is(err, ErrIdempotencyConflict):
		api.HandleError(w, api.NewConflictError(ErrIdempotencyConflict.Error()))
	case errors.Is(err, ErrWalletNotFound):
		api.HandleError(w, api.NewNotFoundError(ErrWalletNotFound.Error()))
	default:
		slog.Error(op, "error", err)
		api.HandleError(w, api.ErrInternalServer)
	}
}
