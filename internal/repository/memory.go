package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/raffle-ledger/internal/model"
)

// MemoryRepository хранит данные в памяти процесса. Все операции сериализуются одним мьютексом,
// поэтому проверка баланса и запись всегда выполняются атомарно.
type MemoryRepository struct {
	mu sync.Mutex

	nextUserID int64
	users      map[int64]*model.User
	logins     map[string]int64
	raffles    map[uuid.UUID]*model.Raffle
	events     []model.LedgerEvent
	entries    []model.RaffleEntry
	now        func() time.Time
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:   make(map[int64]*model.User),
		logins:  make(map[string]int64),
		raffles: make(map[uuid.UUID]*model.Raffle),
		now:     time.Now,
	}
}

// Close ничего не освобождает.
func (m *MemoryRepository) Close() error { return nil }

// CreateUser создаёт нового пользователя с нулевым балансом.
func (m *MemoryRepository) CreateUser(_ context.Context, login string, passwordHash []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.logins[login]; ok {
		return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
	}

	m.nextUserID++
	u := &model.User{
		ID:           m.nextUserID,
		Login:        login,
		PasswordHash: passwordHash,
		Role:         model.RoleParticipant,
		KYCStatus:    model.KYCNone,
		CreatedAt:    m.now(),
	}
	m.users[u.ID] = u
	m.logins[login] = u.ID
	return u.ID, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (m *MemoryRepository) GetUserByLogin(_ context.Context, login string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.logins[login]
	if !ok {
		return nil, ErrUserNotFound
	}
	u := *m.users[id]
	return &u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (m *MemoryRepository) GetUser(_ context.Context, userID int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// UpdateUserStatus меняет роль и статус KYC пользователя.
func (m *MemoryRepository) UpdateUserStatus(_ context.Context, userID int64, role model.Role, kyc model.KYCStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.Role = role
	u.KYCStatus = kyc
	return nil
}

// CreateRaffle сохраняет розыгрыш в каталоге.
func (m *MemoryRepository) CreateRaffle(_ context.Context, raffle *model.Raffle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[raffle.HostID]; !ok {
		return fmt.Errorf("insert raffle: %w", ErrUserNotFound)
	}
	raffle.CreatedAt = m.now()
	cp := *raffle
	m.raffles[raffle.ID] = &cp
	return nil
}

// GetRaffle возвращает розыгрыш по идентификатору.
func (m *MemoryRepository) GetRaffle(_ context.Context, id uuid.UUID) (*model.Raffle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	raf, ok := m.raffles[id]
	if !ok {
		return nil, ErrRaffleNotFound
	}
	cp := *raf
	return &cp, nil
}

// ListRaffles возвращает розыгрыши с указанным статусом; пустой статус означает все.
func (m *MemoryRepository) ListRaffles(_ context.Context, status model.RaffleStatus) ([]model.Raffle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Raffle
	for _, raf := range m.raffles {
		if status == "" || raf.Status == status {
			res = append(res, *raf)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].EndAt.Before(res[j].EndAt) })
	return res, nil
}

// UpdateRaffleStatus меняет статус розыгрыша.
func (m *MemoryRepository) UpdateRaffleStatus(_ context.Context, id uuid.UUID, status model.RaffleStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	raf, ok := m.raffles[id]
	if !ok {
		return ErrRaffleNotFound
	}
	raf.Status = status
	return nil
}

func (m *MemoryRepository) ledgerSum(userID int64) int64 {
	var sum int64
	for _, ev := range m.events {
		if ev.UserID == userID {
			sum += ev.Delta
		}
	}
	return sum
}

// appendLocked повторяет логику appendEventTx; вызывается под m.mu.
func (m *MemoryRepository) appendLocked(draft model.EventDraft) (*model.LedgerEvent, int64, error) {
	u, ok := m.users[draft.UserID]
	if !ok {
		return nil, 0, ErrUserNotFound
	}
	if draft.Quantity <= 0 {
		return nil, 0, ErrInvalidQuantity
	}

	if draft.ExternalReference != nil {
		for _, ev := range m.events {
			if ev.UserID == draft.UserID && ev.ExternalReference != nil && *ev.ExternalReference == *draft.ExternalReference {
				return nil, 0, ErrDuplicateReference
			}
		}
	}

	if overflows(u.TicketsBalance, draft.Delta()) {
		return nil, 0, ErrInvalidQuantity
	}
	if u.TicketsBalance+draft.Delta() < 0 {
		return nil, 0, ErrInsufficientBalance
	}

	newBalance := m.ledgerSum(draft.UserID) + draft.Delta()
	if newBalance < 0 {
		return nil, 0, ErrInsufficientBalance
	}

	ev := model.LedgerEvent{
		ID:                uuid.New(),
		UserID:            draft.UserID,
		Kind:              draft.Kind,
		Quantity:          draft.Quantity,
		Delta:             draft.Delta(),
		FiatAmount:        draft.FiatAmount,
		Currency:          draft.Currency,
		ExternalReference: draft.ExternalReference,
		CreatedAt:         m.now(),
	}
	m.events = append(m.events, ev)
	u.TicketsBalance = newBalance

	return &ev, newBalance, nil
}

// AppendEvent добавляет событие в журнал и атомарно обновляет баланс пользователя.
func (m *MemoryRepository) AppendEvent(_ context.Context, draft model.EventDraft) (*model.LedgerEvent, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.appendLocked(draft)
}

// EnterRaffle проверяет условия участия и записывает трату, баланс и участие.
func (m *MemoryRepository) EnterRaffle(_ context.Context, req model.EntryRequest) (*model.EntryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[req.UserID]
	if !ok {
		return nil, ErrUserNotFound
	}

	if req.IdempotencyKey != nil {
		for i := range m.entries {
			prev := &m.entries[i]
			if prev.UserID != req.UserID || prev.IdempotencyKey == nil || *prev.IdempotencyKey != *req.IdempotencyKey {
				continue
			}
			if prev.RaffleID != req.RaffleID || prev.TicketsRequested != req.TicketsRequested {
				return nil, ErrIdempotencyKeyReuse
			}
			return model.ResultOf(prev, true), nil
		}
	}

	raffle, ok := m.raffles[req.RaffleID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRaffleClosed, ErrRaffleNotFound)
	}

	cost, err := checkEntry(raffle, req, u.TicketsBalance)
	if err != nil {
		return nil, err
	}

	if raffle.MaxParticipants != nil {
		seen := make(map[int64]struct{})
		for _, e := range m.entries {
			if e.RaffleID == raffle.ID {
				seen[e.UserID] = struct{}{}
			}
		}
		if _, already := seen[req.UserID]; !already && int64(len(seen)) >= *raffle.MaxParticipants {
			return nil, ErrRaffleFull
		}
	}

	ev, newBalance, err := m.appendLocked(model.EventDraft{
		UserID:   req.UserID,
		Kind:     model.EventSpend,
		Quantity: cost,
	})
	if err != nil {
		return nil, err
	}

	entry := model.RaffleEntry{
		ID:               uuid.New(),
		RaffleID:         req.RaffleID,
		UserID:           req.UserID,
		TicketsRequested: req.TicketsRequested,
		TicketsSpent:     cost,
		LedgerEventID:    ev.ID,
		IdempotencyKey:   req.IdempotencyKey,
		BalanceAfter:     newBalance,
		CreatedAt:        ev.CreatedAt,
	}
	m.entries = append(m.entries, entry)

	return model.ResultOf(&entry, false), nil
}

// RefundEntry возвращает билеты за участие. Повторный возврат даёт ErrDuplicateReference.
func (m *MemoryRepository) RefundEntry(_ context.Context, entryID uuid.UUID) (*model.LedgerEvent, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		if e.ID != entryID {
			continue
		}
		ref := RefundReference(e.ID)
		return m.appendLocked(model.EventDraft{
			UserID:            e.UserID,
			Kind:              model.EventRefund,
			Quantity:          e.TicketsSpent,
			ExternalReference: &ref,
		})
	}
	return nil, 0, ErrEntryNotFound
}

// GetBalance возвращает текущий баланс и сумму всех трат пользователя.
func (m *MemoryRepository) GetBalance(_ context.Context, userID int64) (model.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return model.Balance{}, ErrUserNotFound
	}

	b := model.Balance{Current: u.TicketsBalance}
	for _, ev := range m.events {
		if ev.UserID == userID && ev.Kind == model.EventSpend {
			b.Spent += ev.Quantity
		}
	}
	return b, nil
}

// ListEntriesByUser возвращает участия пользователя, начиная с последних.
func (m *MemoryRepository) ListEntriesByUser(_ context.Context, userID int64) ([]model.RaffleEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.RaffleEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].UserID == userID {
			res = append(res, m.entries[i])
		}
	}
	return res, nil
}

// ListEntriesByRaffle возвращает все участия в розыгрыше.
func (m *MemoryRepository) ListEntriesByRaffle(_ context.Context, raffleID uuid.UUID) ([]model.RaffleEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.RaffleEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].RaffleID == raffleID {
			res = append(res, m.entries[i])
		}
	}
	return res, nil
}

// ListEventsByUser возвращает журнал пользователя, начиная с последних событий.
func (m *MemoryRepository) ListEventsByUser(_ context.Context, userID int64) ([]model.LedgerEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.LedgerEvent
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].UserID == userID {
			res = append(res, m.events[i])
		}
	}
	return res, nil
}

// Reconcile сверяет кэшированный баланс с суммой журнала и при расхождении восстанавливает его из журнала.
func (m *MemoryRepository) Reconcile(_ context.Context, userID int64) (*model.Reconciliation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}

	rec := &model.Reconciliation{
		UserID:    userID,
		Cached:    u.TicketsBalance,
		LedgerSum: m.ledgerSum(userID),
	}
	if rec.Cached != rec.LedgerSum {
		u.TicketsBalance = rec.LedgerSum
		rec.Repaired = true
	}
	return rec, nil
}
