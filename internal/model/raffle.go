package model

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// RaffleStatus описывает жизненный цикл розыгрыша.
type RaffleStatus string

const (
	RaffleDraft           RaffleStatus = "draft"
	RafflePendingApproval RaffleStatus = "pending_approval"
	RaffleActive          RaffleStatus = "active"
	RaffleCompleted       RaffleStatus = "completed"
	RaffleRefunded        RaffleStatus = "refunded"
	RaffleCancelled       RaffleStatus = "cancelled"
)

// Raffle описывает розыгрыш из каталога.
type Raffle struct {
	ID                uuid.UUID
	HostID            int64
	Title             string
	Description       string
	Category          string
	TicketPrice       int64
	MinParticipants   *int64
	MaxParticipants   *int64
	MinTicketsPerUser int64
	MaxTicketsPerUser *int64
	StartAt           time.Time
	EndAt             time.Time
	Status            RaffleStatus
	CreatedAt         time.Time
}

// IsOpen сообщает, принимает ли розыгрыш участников в момент now.
func (r *Raffle) IsOpen(now time.Time) bool {
	if r.Status != RaffleActive {
		return false
	}
	if now.Before(r.StartAt) {
		return false
	}
	return now.Before(r.EndAt)
}

// AllowsTickets проверяет, что количество билетов укладывается в лимиты на участника
// и стоимость участия представима в int64.
func (r *Raffle) AllowsTickets(n int64) bool {
	if n < r.MinTicketsPerUser || n <= 0 {
		return false
	}
	if r.TicketPrice <= 0 || n > math.MaxInt64/r.TicketPrice {
		return false
	}
	if r.MaxTicketsPerUser != nil && n > *r.MaxTicketsPerUser {
		return false
	}
	return true
}

// Cost возвращает стоимость участия в билетах.
func (r *Raffle) Cost(n int64) int64 {
	return r.TicketPrice * n
}

// RaffleEntry фиксирует участие пользователя в розыгрыше.
type RaffleEntry struct {
	ID               uuid.UUID
	RaffleID         uuid.UUID
	UserID           int64
	TicketsRequested int64
	TicketsSpent     int64
	LedgerEventID    uuid.UUID
	IdempotencyKey   *string
	BalanceAfter     int64
	CreatedAt        time.Time
}

// EntryRequest описывает запрос на участие в розыгрыше.
type EntryRequest struct {
	UserID           int64
	RaffleID         uuid.UUID
	TicketsRequested int64
	IdempotencyKey   *string
	Now              time.Time
}

// EntryResult возвращается после успешного участия или его повтора.
type EntryResult struct {
	EntryID          uuid.UUID `json:"entry_id"`
	RaffleID         uuid.UUID `json:"raffle_id"`
	SpendEventID     uuid.UUID `json:"spend_event_id"`
	TicketsRequested int64     `json:"tickets_requested"`
	TicketsSpent     int64     `json:"tickets_spent"`
	NewBalance       int64     `json:"new_balance"`
	CreatedAt        time.Time `json:"created_at"`
	Replayed         bool      `json:"replayed"`
}

// ResultOf строит результат по сохранённой записи участия.
func ResultOf(e *RaffleEntry, replayed bool) *EntryResult {
	return &EntryResult{
		EntryID:          e.ID,
		RaffleID:         e.RaffleID,
		SpendEventID:     e.LedgerEventID,
		TicketsRequested: e.TicketsRequested,
		TicketsSpent:     e.TicketsSpent,
		NewBalance:       e.BalanceAfter,
		CreatedAt:        e.CreatedAt,
		Replayed:         replayed,
	}
}
