package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/raffle-ledger/internal/model"
)

// CreateRaffle добавляет розыгрыш в каталог. Создавать розыгрыши могут только ведущие с пройденным KYC.
// Розыгрыш администратора сразу активен, розыгрыш ведущего ждёт одобрения.
func (s *Service) CreateRaffle(ctx context.Context, hostID int64, raffle model.Raffle) (*model.Raffle, error) {
	host, err := s.repo.GetUser(ctx, hostID)
	if err != nil {
		return nil, err
	}
	if !host.CanHost() {
		return nil, ErrHostNotVerified
	}

	if raffle.MinTicketsPerUser == 0 {
		raffle.MinTicketsPerUser = 1
	}
	if err := validateRaffle(&raffle); err != nil {
		return nil, err
	}

	raffle.ID = uuid.New()
	raffle.HostID = hostID
	raffle.Status = model.RafflePendingApproval
	if host.Role == model.RoleAdmin {
		raffle.Status = model.RaffleActive
	}

	if err := s.repo.CreateRaffle(ctx, &raffle); err != nil {
		return nil, err
	}

	s.logger.Info("raffle created",
		zap.String("raffleID", raffle.ID.String()), zap.Int64("hostID", hostID), zap.String("status", string(raffle.Status)))
	return &raffle, nil
}

func validateRaffle(r *model.Raffle) error {
	switch {
	case r.Title == "":
		return fmt.Errorf("%w: empty title", ErrInvalidRaffle)
	case r.TicketPrice <= 0:
		return fmt.Errorf("%w: ticket price must be positive", ErrInvalidRaffle)
	case r.MinTicketsPerUser <= 0:
		return fmt.Errorf("%w: min tickets per user must be positive", ErrInvalidRaffle)
	case r.MaxTicketsPerUser != nil && *r.MaxTicketsPerUser < r.MinTicketsPerUser:
		return fmt.Errorf("%w: max tickets per user below min", ErrInvalidRaffle)
	case r.MaxParticipants != nil && *r.MaxParticipants <= 0:
		return fmt.Errorf("%w: max participants must be positive", ErrInvalidRaffle)
	case r.MinParticipants != nil && r.MaxParticipants != nil && *r.MaxParticipants < *r.MinParticipants:
		return fmt.Errorf("%w: max participants below min", ErrInvalidRaffle)
	case !r.EndAt.After(r.StartAt):
		return fmt.Errorf("%w: end_at must be after start_at", ErrInvalidRaffle)
	}
	return nil
}

// GetRaffle возвращает розыгрыш из каталога.
func (s *Service) GetRaffle(ctx context.Context, id uuid.UUID) (*model.Raffle, error) {
	return s.repo.GetRaffle(ctx, id)
}

// ListRaffles возвращает розыгрыши с указанным статусом.
func (s *Service) ListRaffles(ctx context.Context, status model.RaffleStatus) ([]model.Raffle, error) {
	return s.repo.ListRaffles(ctx, status)
}

// SetRaffleStatus меняет статус розыгрыша. Возврат билетов выполняется только через RefundRaffle.
func (s *Service) SetRaffleStatus(ctx context.Context, id uuid.UUID, status model.RaffleStatus) error {
	switch status {
	case model.RaffleDraft, model.RafflePendingApproval, model.RaffleActive,
		model.RaffleCompleted, model.RaffleCancelled:
	default:
		return fmt.Errorf("%w: raffle status %q", ErrInvalidStatus, status)
	}
	return s.repo.UpdateRaffleStatus(ctx, id, status)
}
