package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/raffle-ledger/internal/model"
	"github.com/mmeshcher/raffle-ledger/internal/payment"
	"github.com/mmeshcher/raffle-ledger/internal/repository"
)

// PurchaseTickets зачисляет купленные билеты и возвращает новый баланс.
// Повтор внешней ссылки возвращает repository.ErrDuplicateReference без изменения баланса.
func (s *Service) PurchaseTickets(ctx context.Context, userID int64, p model.Purchase) (int64, error) {
	if p.Quantity <= 0 {
		return 0, repository.ErrInvalidQuantity
	}

	if s.payments != nil && p.ExternalReference != "" {
		if err := s.verifyPayment(ctx, &p); err != nil {
			return 0, err
		}
	}

	draft := model.EventDraft{
		UserID:     userID,
		Kind:       model.EventPurchase,
		Quantity:   p.Quantity,
		FiatAmount: p.FiatAmount,
		Currency:   p.Currency,
	}
	if p.ExternalReference != "" {
		ref := p.ExternalReference
		draft.ExternalReference = &ref
	}

	ev, balance, err := s.repo.AppendEvent(ctx, draft)
	if err != nil {
		return 0, err
	}

	s.logger.Info("tickets purchased",
		zap.Int64("userID", userID), zap.Int64("quantity", p.Quantity), zap.Int64("balance", balance))
	s.publish(ctx, *ev)

	return balance, nil
}

func (s *Service) verifyPayment(ctx context.Context, p *model.Purchase) error {
	pay, err := s.payments.GetPayment(ctx, p.ExternalReference)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrUnavailable):
			return fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
		case errors.Is(err, payment.ErrNotFound):
			return fmt.Errorf("%w: %v", ErrPaymentNotConfirmed, err)
		}
		return fmt.Errorf("get payment: %w", err)
	}

	if pay.Status != payment.StatusConfirmed {
		return fmt.Errorf("%w: status %s", ErrPaymentNotConfirmed, pay.Status)
	}
	if pay.Quantity != p.Quantity {
		return fmt.Errorf("%w: quantity %d, provider reports %d", ErrPaymentNotConfirmed, p.Quantity, pay.Quantity)
	}
	if p.Currency != "" && pay.Currency != "" && p.Currency != pay.Currency {
		return fmt.Errorf("%w: currency %s, provider reports %s", ErrPaymentNotConfirmed, p.Currency, pay.Currency)
	}

	if p.FiatAmount == nil {
		p.FiatAmount = pay.Amount
	}
	if p.Currency == "" {
		p.Currency = pay.Currency
	}
	return nil
}

// AdjustBalance добавляет в журнал ручную корректировку со знаком и возвращает новый баланс.
func (s *Service) AdjustBalance(ctx context.Context, userID int64, delta int64, reference string) (int64, error) {
	if delta == 0 {
		return 0, repository.ErrInvalidQuantity
	}

	draft := model.EventDraft{
		UserID:   userID,
		Kind:     model.EventAdjustment,
		Quantity: delta,
	}
	if delta < 0 {
		draft.Quantity = -delta
		draft.Debit = true
	}
	if reference != "" {
		draft.ExternalReference = &reference
	}

	ev, balance, err := s.repo.AppendEvent(ctx, draft)
	if err != nil {
		return 0, err
	}

	s.logger.Info("balance adjusted",
		zap.Int64("userID", userID), zap.Int64("delta", delta), zap.Int64("balance", balance))
	s.publish(ctx, *ev)

	return balance, nil
}

// GetBalance возвращает баланс пользователя.
func (s *Service) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	b, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetLedger возвращает журнал пользователя, начиная с последних событий.
func (s *Service) GetLedger(ctx context.Context, userID int64) ([]model.LedgerEvent, error) {
	return s.repo.ListEventsByUser(ctx, userID)
}

// Reconcile сверяет баланс пользователя с журналом и восстанавливает его при расхождении.
func (s *Service) Reconcile(ctx context.Context, userID int64) (*model.Reconciliation, error) {
	rec, err := s.repo.Reconcile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if rec.Repaired {
		s.metrics.BalanceMismatch()
		s.logger.Warn("cached balance repaired from ledger",
			zap.Int64("userID", userID), zap.Int64("cached", rec.Cached), zap.Int64("ledgerSum", rec.LedgerSum))
	}
	return rec, nil
}
