package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/raffle-ledger/internal/metrics"
	"github.com/mmeshcher/raffle-ledger/internal/model"
	"github.com/mmeshcher/raffle-ledger/internal/repository"
)

// EnterRaffle записывает участие пользователя в розыгрыше, списывая ticket_price × tickets билетов.
// Непустой idempotencyKey делает вызов безопасным для повторов: повтор вернёт исходный результат.
func (s *Service) EnterRaffle(ctx context.Context, userID int64, raffleID uuid.UUID, tickets int64, idempotencyKey string) (*model.EntryResult, error) {
	var key *string
	if idempotencyKey != "" {
		key = &idempotencyKey

		if res := s.cachedEntry(ctx, userID, raffleID, tickets, idempotencyKey); res != nil {
			s.metrics.EntryAttempt(metrics.OutcomeReplayed)
			return res, nil
		}
	}

	res, err := s.repo.EnterRaffle(ctx, model.EntryRequest{
		UserID:           userID,
		RaffleID:         raffleID,
		TicketsRequested: tickets,
		IdempotencyKey:   key,
		Now:              s.now(),
	})
	if err != nil {
		if isRejection(err) {
			s.metrics.EntryAttempt(metrics.OutcomeRejected)
		} else {
			s.metrics.EntryAttempt(metrics.OutcomeFailed)
		}
		return nil, err
	}

	if res.Replayed {
		s.metrics.EntryAttempt(metrics.OutcomeReplayed)
		s.rememberEntry(ctx, userID, idempotencyKey, res)
		return res, nil
	}

	s.metrics.EntryAttempt(metrics.OutcomeCommitted)
	s.logger.Info("raffle entry committed",
		zap.Int64("userID", userID),
		zap.String("raffleID", raffleID.String()),
		zap.Int64("ticketsSpent", res.TicketsSpent),
		zap.Int64("balance", res.NewBalance))

	s.publish(ctx, model.LedgerEvent{
		ID:        res.SpendEventID,
		UserID:    userID,
		Kind:      model.EventSpend,
		Quantity:  res.TicketsSpent,
		Delta:     -res.TicketsSpent,
		CreatedAt: res.CreatedAt,
	})
	if key != nil {
		s.rememberEntry(ctx, userID, idempotencyKey, res)
	}

	return res, nil
}

func (s *Service) cachedEntry(ctx context.Context, userID int64, raffleID uuid.UUID, tickets int64, key string) *model.EntryResult {
	if s.cache == nil {
		return nil
	}

	res, ok, err := s.cache.GetEntryResult(ctx, userID, key)
	if err != nil {
		s.logger.Warn("entry cache lookup", zap.Error(err), zap.Int64("userID", userID))
		return nil
	}
	// При несовпадении запроса решение об ошибке принимает БД.
	if !ok || res.RaffleID != raffleID || res.TicketsRequested != tickets {
		return nil
	}

	res.Replayed = true
	return res
}

func (s *Service) rememberEntry(ctx context.Context, userID int64, key string, res *model.EntryResult) {
	if s.cache == nil || key == "" {
		return
	}
	if err := s.cache.PutEntryResult(ctx, userID, key, res); err != nil {
		s.logger.Warn("entry cache store", zap.Error(err), zap.Int64("userID", userID))
	}
}

func isRejection(err error) bool {
	for _, target := range []error{
		repository.ErrRaffleClosed,
		repository.ErrOutOfRange,
		repository.ErrInsufficientBalance,
		repository.ErrRaffleFull,
		repository.ErrIdempotencyKeyReuse,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ListEntries возвращает участия пользователя, начиная с последних.
func (s *Service) ListEntries(ctx context.Context, userID int64) ([]model.RaffleEntry, error) {
	return s.repo.ListEntriesByUser(ctx, userID)
}

// RefundRaffle переводит розыгрыш в статус refunded и возвращает билеты всем участникам.
// Уже возвращённые участия пропускаются, поэтому вызов можно повторять. Возвращает число новых возвратов.
func (s *Service) RefundRaffle(ctx context.Context, raffleID uuid.UUID) (int, error) {
	raffle, err := s.repo.GetRaffle(ctx, raffleID)
	if err != nil {
		return 0, err
	}

	switch raffle.Status {
	case model.RaffleActive, model.RaffleCancelled, model.RafflePendingApproval:
		if err := s.repo.UpdateRaffleStatus(ctx, raffleID, model.RaffleRefunded); err != nil {
			return 0, err
		}
	case model.RaffleRefunded:
	default:
		return 0, ErrNotRefundable
	}

	entries, err := s.repo.ListEntriesByRaffle(ctx, raffleID)
	if err != nil {
		return 0, err
	}

	var (
		refunded int
		evs      []model.LedgerEvent
	)
	for _, e := range entries {
		ev, _, err := s.repo.RefundEntry(ctx, e.ID)
		if err != nil {
			if errors.Is(err, repository.ErrDuplicateReference) {
				continue
			}
			s.publish(ctx, evs...)
			return refunded, err
		}
		refunded++
		evs = append(evs, *ev)
	}

	s.logger.Info("raffle refunded",
		zap.String("raffleID", raffleID.String()), zap.Int("entries", len(entries)), zap.Int("refunded", refunded))
	s.publish(ctx, evs...)

	return refunded, nil
}
