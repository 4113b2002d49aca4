package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/raffle-ledger/internal/model"
	"github.com/mmeshcher/raffle-ledger/internal/repository"
	"github.com/mmeshcher/raffle-ledger/internal/validation"
)

// GetBalance возвращает баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "get balance error", zap.Int64("userID", userID))
		return
	}

	h.writeJSON(w, http.StatusOK, balance)
}

type eventResponse struct {
	ID                string           `json:"id"`
	Kind              string           `json:"kind"`
	Quantity          int64            `json:"quantity"`
	Delta             int64            `json:"delta"`
	FiatAmount        *decimal.Decimal `json:"fiat_amount,omitempty"`
	Currency          string           `json:"currency,omitempty"`
	ExternalReference *string          `json:"external_reference,omitempty"`
	CreatedAt         string           `json:"created_at"`
}

// GetLedger возвращает журнал событий текущего пользователя, начиная с последних.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	events, err := h.service.GetLedger(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "get ledger error", zap.Int64("userID", userID))
		return
	}

	if len(events) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		resp = append(resp, eventResponse{
			ID:                ev.ID.String(),
			Kind:              string(ev.Kind),
			Quantity:          ev.Quantity,
			Delta:             ev.Delta,
			FiatAmount:        ev.FiatAmount,
			Currency:          ev.Currency,
			ExternalReference: ev.ExternalReference,
			CreatedAt:         ev.CreatedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type purchaseRequest struct {
	Quantity          int64            `json:"quantity"`
	FiatAmount        *decimal.Decimal `json:"fiat_amount"`
	Currency          string           `json:"currency"`
	ExternalReference string           `json:"external_reference"`
}

type balanceResponse struct {
	NewBalance int64 `json:"new_balance"`
	Replayed   bool  `json:"replayed,omitempty"`
}

// PurchaseTickets зачисляет купленные билеты текущему пользователю.
// Повтор внешней ссылки отвечает 200 с текущим балансом и ничего не меняет.
func (h *Handler) PurchaseTickets(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req purchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Quantity <= 0 ||
		(req.Currency != "" && !validation.IsValidCurrency(req.Currency)) ||
		(req.ExternalReference != "" && !validation.IsValidReference(req.ExternalReference)) ||
		(req.FiatAmount != nil && req.FiatAmount.IsNegative()) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	balance, err := h.service.PurchaseTickets(r.Context(), userID, model.Purchase{
		Quantity:          req.Quantity,
		FiatAmount:        req.FiatAmount,
		Currency:          req.Currency,
		ExternalReference: req.ExternalReference,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateReference) {
			h.replayPurchase(w, r, userID)
			return
		}
		h.writeError(w, err, "purchase tickets error",
			zap.Int64("userID", userID), zap.String("reference", req.ExternalReference))
		return
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{NewBalance: balance})
}

func (h *Handler) replayPurchase(w http.ResponseWriter, r *http.Request, userID int64) {
	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "get balance error", zap.Int64("userID", userID))
		return
	}
	h.writeJSON(w, http.StatusOK, balanceResponse{NewBalance: balance.Current, Replayed: true})
}
