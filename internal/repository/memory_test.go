package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/raffle-ledger/internal/model"
)

var memNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// corruptBalance подменяет кэшированный баланс в обход журнала.
func (m *MemoryRepository) corruptBalance(userID, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID].TicketsBalance = balance
}

func seedUser(t *testing.T, m *MemoryRepository, login string, balance int64) int64 {
	t.Helper()

	id, err := m.CreateUser(context.Background(), login, []byte("hash"))
	require.NoError(t, err)
	if balance > 0 {
		_, _, err = m.AppendEvent(context.Background(), model.EventDraft{
			UserID:   id,
			Kind:     model.EventPurchase,
			Quantity: balance,
		})
		require.NoError(t, err)
	}
	return id
}

func seedRaffle(t *testing.T, m *MemoryRepository, hostID int64, maxParticipants *int64) *model.Raffle {
	t.Helper()

	r := &model.Raffle{
		ID:                uuid.New(),
		HostID:            hostID,
		Title:             "Weekend raffle",
		TicketPrice:       5,
		MinTicketsPerUser: 1,
		MaxParticipants:   maxParticipants,
		StartAt:           memNow.Add(-time.Hour),
		EndAt:             memNow.Add(time.Hour),
		Status:            model.RaffleActive,
	}
	require.NoError(t, m.CreateRaffle(context.Background(), r))
	return r
}

func TestMemoryRepository_CreateUser(t *testing.T) {
	m := NewMemoryRepository()
	ctx := context.Background()

	id, err := m.CreateUser(ctx, "alice", []byte("hash"))
	require.NoError(t, err)

	_, err = m.CreateUser(ctx, "alice", []byte("other"))
	require.ErrorIs(t, err, ErrUserExists)

	u, err := m.GetUserByLogin(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)
	assert.Equal(t, model.RoleParticipant, u.Role)
	assert.Zero(t, u.TicketsBalance)

	_, err = m.GetUser(ctx, id+1)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestMemoryRepository_AppendEvent(t *testing.T) {
	m := NewMemoryRepository()
	ctx := context.Background()
	user := seedUser(t, m, "alice", 10)

	ref := "pay-1"
	ev, balance, err := m.AppendEvent(ctx, model.EventDraft{
		UserID: user, Kind: model.EventPurchase, Quantity: 5, ExternalReference: &ref,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(15), balance)
	assert.Equal(t, int64(5), ev.Delta)

	_, _, err = m.AppendEvent(ctx, model.EventDraft{
		UserID: user, Kind: model.EventPurchase, Quantity: 5, ExternalReference: &ref,
	})
	require.ErrorIs(t, err, ErrDuplicateReference)

	_, _, err = m.AppendEvent(ctx, model.EventDraft{UserID: user, Kind: model.EventSpend, Quantity: 16})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	_, _, err = m.AppendEvent(ctx, model.EventDraft{UserID: user, Kind: model.EventSpend, Quantity: 0})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	ev, balance, err = m.AppendEvent(ctx, model.EventDraft{UserID: user, Kind: model.EventSpend, Quantity: 15})
	require.NoError(t, err)
	assert.Zero(t, balance)
	assert.Equal(t, int64(-15), ev.Delta)

	b, err := m.GetBalance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, model.Balance{Current: 0, Spent: 15}, b)
}

func TestMemoryRepository_EnterRaffleCapacity(t *testing.T) {
	m := NewMemoryRepository()
	ctx := context.Background()
	host := seedUser(t, m, "host", 0)
	alice := seedUser(t, m, "alice", 100)
	bob := seedUser(t, m, "bob", 100)
	limit := int64(1)
	raffle := seedRaffle(t, m, host, &limit)

	res, err := m.EnterRaffle(ctx, model.EntryRequest{UserID: alice, RaffleID: raffle.ID, TicketsRequested: 2, Now: memNow})
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.TicketsSpent)
	assert.Equal(t, int64(90), res.NewBalance)

	_, err = m.EnterRaffle(ctx, model.EntryRequest{UserID: bob, RaffleID: raffle.ID, TicketsRequested: 1, Now: memNow})
	require.ErrorIs(t, err, ErrRaffleFull)

	b, err := m.GetBalance(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(100), b.Current)
}

func TestMemoryRepository_RefundEntry(t *testing.T) {
	m := NewMemoryRepository()
	ctx := context.Background()
	host := seedUser(t, m, "host", 0)
	alice := seedUser(t, m, "alice", 20)
	raffle := seedRaffle(t, m, host, nil)

	res, err := m.EnterRaffle(ctx, model.EntryRequest{UserID: alice, RaffleID: raffle.ID, TicketsRequested: 4, Now: memNow})
	require.NoError(t, err)

	ev, balance, err := m.RefundEntry(ctx, res.EntryID)
	require.NoError(t, err)
	assert.Equal(t, model.EventRefund, ev.Kind)
	assert.Equal(t, int64(20), balance)
	require.NotNil(t, ev.ExternalReference)
	assert.Equal(t, RefundReference(res.EntryID), *ev.ExternalReference)

	_, _, err = m.RefundEntry(ctx, res.EntryID)
	require.ErrorIs(t, err, ErrDuplicateReference)

	_, _, err = m.RefundEntry(ctx, uuid.New())
	require.ErrorIs(t, err, ErrEntryNotFound)
}

func TestMemoryRepository_Reconcile(t *testing.T) {
	m := NewMemoryRepository()
	ctx := context.Background()
	user := seedUser(t, m, "alice", 30)

	rec, err := m.Reconcile(ctx, user)
	require.NoError(t, err)
	assert.False(t, rec.Repaired)

	m.corruptBalance(user, 999)

	rec, err = m.Reconcile(ctx, user)
	require.NoError(t, err)
	assert.True(t, rec.Repaired)
	assert.Equal(t, int64(999), rec.Cached)
	assert.Equal(t, int64(30), rec.LedgerSum)

	b, err := m.GetBalance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(30), b.Current)
}

func TestMemoryRepository_ListRaffles(t *testing.T) {
	m := NewMemoryRepository()
	ctx := context.Background()
	host := seedUser(t, m, "host", 0)
	active := seedRaffle(t, m, host, nil)
	closed := seedRaffle(t, m, host, nil)
	require.NoError(t, m.UpdateRaffleStatus(ctx, closed.ID, model.RaffleCompleted))

	all, err := m.ListRaffles(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	list, err := m.ListRaffles(ctx, model.RaffleActive)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, active.ID, list[0].ID)

	require.ErrorIs(t, m.UpdateRaffleStatus(ctx, uuid.New(), model.RaffleActive), ErrRaffleNotFound)
}
