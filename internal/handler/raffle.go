package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/raffle-ledger/internal/model"
	"github.com/mmeshcher/raffle-ledger/internal/validation"
)

const idempotencyHeader = "Idempotency-Key"

func raffleIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return uuid.Nil, false
	}
	return id, true
}

type entryRequest struct {
	Tickets int64 `json:"tickets"`
}

// EnterRaffle записывает участие текущего пользователя в розыгрыше.
// Новое участие отвечает 201, повтор по Idempotency-Key отвечает 200 с исходным результатом.
func (h *Handler) EnterRaffle(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	raffleID, ok := raffleIDParam(w, r)
	if !ok {
		return
	}

	key := r.Header.Get(idempotencyHeader)
	if key != "" && !validation.IsValidIdempotencyKey(key) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req entryRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.EnterRaffle(r.Context(), userID, raffleID, req.Tickets, key)
	if err != nil {
		h.writeError(w, err, "enter raffle error",
			zap.Int64("userID", userID), zap.String("raffleID", raffleID.String()))
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	h.writeJSON(w, status, res)
}

type entryResponse struct {
	EntryID      string `json:"entry_id"`
	RaffleID     string `json:"raffle_id"`
	TicketsSpent int64  `json:"tickets_spent"`
	CreatedAt    string `json:"created_at"`
}

// GetEntries возвращает участия текущего пользователя, начиная с последних.
func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	entries, err := h.service.ListEntries(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "get entries error", zap.Int64("userID", userID))
		return
	}

	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, entryResponse{
			EntryID:      e.ID.String(),
			RaffleID:     e.RaffleID.String(),
			TicketsSpent: e.TicketsSpent,
			CreatedAt:    e.CreatedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type raffleRequest struct {
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	Category          string    `json:"category"`
	TicketPrice       int64     `json:"ticket_price"`
	MinParticipants   *int64    `json:"min_participants"`
	MaxParticipants   *int64    `json:"max_participants"`
	MinTicketsPerUser int64     `json:"min_tickets_per_user"`
	MaxTicketsPerUser *int64    `json:"max_tickets_per_user"`
	StartAt           time.Time `json:"start_at"`
	EndAt             time.Time `json:"end_at"`
}

type raffleResponse struct {
	ID                string `json:"id"`
	HostID            int64  `json:"host_id"`
	Title             string `json:"title"`
	Description       string `json:"description,omitempty"`
	Category          string `json:"category,omitempty"`
	TicketPrice       int64  `json:"ticket_price"`
	MinParticipants   *int64 `json:"min_participants,omitempty"`
	MaxParticipants   *int64 `json:"max_participants,omitempty"`
	MinTicketsPerUser int64  `json:"min_tickets_per_user"`
	MaxTicketsPerUser *int64 `json:"max_tickets_per_user,omitempty"`
	StartAt           string `json:"start_at"`
	EndAt             string `json:"end_at"`
	Status            string `json:"status"`
}

func toRaffleResponse(raf *model.Raffle) raffleResponse {
	return raffleResponse{
		ID:                raf.ID.String(),
		HostID:            raf.HostID,
		Title:             raf.Title,
		Description:       raf.Description,
		Category:          raf.Category,
		TicketPrice:       raf.TicketPrice,
		MinParticipants:   raf.MinParticipants,
		MaxParticipants:   raf.MaxParticipants,
		MinTicketsPerUser: raf.MinTicketsPerUser,
		MaxTicketsPerUser: raf.MaxTicketsPerUser,
		StartAt:           raf.StartAt.Format(time.RFC3339),
		EndAt:             raf.EndAt.Format(time.RFC3339),
		Status:            string(raf.Status),
	}
}

// CreateRaffle создаёт розыгрыш от имени текущего пользователя.
func (h *Handler) CreateRaffle(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req raffleRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	raf, err := h.service.CreateRaffle(r.Context(), userID, model.Raffle{
		Title:             req.Title,
		Description:       req.Description,
		Category:          req.Category,
		TicketPrice:       req.TicketPrice,
		MinParticipants:   req.MinParticipants,
		MaxParticipants:   req.MaxParticipants,
		MinTicketsPerUser: req.MinTicketsPerUser,
		MaxTicketsPerUser: req.MaxTicketsPerUser,
		StartAt:           req.StartAt,
		EndAt:             req.EndAt,
	})
	if err != nil {
		h.writeError(w, err, "create raffle error", zap.Int64("userID", userID))
		return
	}

	h.writeJSON(w, http.StatusCreated, toRaffleResponse(raf))
}

// GetRaffle возвращает розыгрыш по идентификатору.
func (h *Handler) GetRaffle(w http.ResponseWriter, r *http.Request) {
	id, ok := raffleIDParam(w, r)
	if !ok {
		return
	}

	raf, err := h.service.GetRaffle(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "get raffle error", zap.String("raffleID", id.String()))
		return
	}

	h.writeJSON(w, http.StatusOK, toRaffleResponse(raf))
}

// ListRaffles возвращает розыгрыши, отфильтрованные по ?status=.
func (h *Handler) ListRaffles(w http.ResponseWriter, r *http.Request) {
	status := model.RaffleStatus(r.URL.Query().Get("status"))

	raffles, err := h.service.ListRaffles(r.Context(), status)
	if err != nil {
		h.writeError(w, err, "list raffles error", zap.String("status", string(status)))
		return
	}

	resp := make([]raffleResponse, 0, len(raffles))
	for i := range raffles {
		resp = append(resp, toRaffleResponse(&raffles[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}
