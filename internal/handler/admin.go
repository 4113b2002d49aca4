package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/raffle-ledger/internal/model"
	"github.com/mmeshcher/raffle-ledger/internal/validation"
)

func userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return 0, false
	}
	return id, true
}

type userStatusRequest struct {
	Role      model.Role      `json:"role"`
	KYCStatus model.KYCStatus `json:"kyc_status"`
}

// UpdateUser меняет роль и статус KYC пользователя.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req userStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.UpdateUserStatus(r.Context(), userID, req.Role, req.KYCStatus); err != nil {
		h.writeError(w, err, "update user error", zap.Int64("userID", userID))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type adjustmentRequest struct {
	Delta     int64  `json:"delta"`
	Reference string `json:"reference"`
}

// AdjustBalance добавляет ручную корректировку баланса пользователя.
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req adjustmentRequest
	if err := decodeJSON(r, &req); err != nil ||
		(req.Reference != "" && !validation.IsValidReference(req.Reference)) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	balance, err := h.service.AdjustBalance(r.Context(), userID, req.Delta, req.Reference)
	if err != nil {
		h.writeError(w, err, "adjust balance error", zap.Int64("userID", userID))
		return
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{NewBalance: balance})
}

// Reconcile сверяет баланс пользователя с журналом.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	rec, err := h.service.Reconcile(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "reconcile error", zap.Int64("userID", userID))
		return
	}

	h.writeJSON(w, http.StatusOK, rec)
}

type refundResponse struct {
	Refunded int `json:"refunded"`
}

// RefundRaffle возвращает билеты всем участникам розыгрыша.
func (h *Handler) RefundRaffle(w http.ResponseWriter, r *http.Request) {
	id, ok := raffleIDParam(w, r)
	if !ok {
		return
	}

	n, err := h.service.RefundRaffle(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "refund raffle error", zap.String("raffleID", id.String()))
		return
	}

	h.writeJSON(w, http.StatusOK, refundResponse{Refunded: n})
}

type raffleStatusRequest struct {
	Status model.RaffleStatus `json:"status"`
}

// SetRaffleStatus меняет статус розыгрыша, например одобряет или завершает его.
func (h *Handler) SetRaffleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := raffleIDParam(w, r)
	if !ok {
		return
	}

	var req raffleStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SetRaffleStatus(r.Context(), id, req.Status); err != nil {
		h.writeError(w, err, "set raffle status error", zap.String("raffleID", id.String()))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
