// Package repository содержит реализацию доступа к данным журнала билетов.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/raffle-ledger/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	retryBase     = 50 * time.Millisecond
	retryAttempts = 3
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping database: %v", ErrStorageUnavailable, err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при конфликтах сериализации, дедлоках и обрывах соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(retryAttempts, retry.NewExponential(retryBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && isConnectionError(err) {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return err
}

// inTx выполняет fn в транзакции с повторами; откат происходит при любой ошибке fn.
func (r *PostgresRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(tx); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя с нулевым балансом.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash) VALUES ($1, $2) RETURNING id`,
		login, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

const userColumns = `id, login, password_hash, role, kyc_status, tickets_balance, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u    model.User
		role string
		kyc  string
	)
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &role, &kyc, &u.TicketsBalance, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)
	u.KYCStatus = model.KYCStatus(kyc)
	return &u, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE login = $1`, login))
}

// GetUser возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
}

// UpdateUserStatus меняет роль и статус KYC пользователя. Баланс здесь не изменяется.
func (r *PostgresRepository) UpdateUserStatus(ctx context.Context, userID int64, role model.Role, kyc model.KYCStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET role = $2, kyc_status = $3 WHERE id = $1`,
		userID, string(role), string(kyc),
	)
	if err != nil {
		return fmt.Errorf("update user status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CreateRaffle сохраняет розыгрыш в каталоге.
func (r *PostgresRepository) CreateRaffle(ctx context.Context, raffle *model.Raffle) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO raffles (id, host_id, title, description, category, ticket_price,
		                      min_participants, max_participants, min_tickets_per_user, max_tickets_per_user,
		                      start_at, end_at, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING created_at`,
		raffle.ID, raffle.HostID, raffle.Title, raffle.Description, raffle.Category, raffle.TicketPrice,
		raffle.MinParticipants, raffle.MaxParticipants, raffle.MinTicketsPerUser, raffle.MaxTicketsPerUser,
		raffle.StartAt, raffle.EndAt, string(raffle.Status),
	).Scan(&raffle.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert raffle: %w", err)
	}
	return nil
}

const raffleColumns = `id, host_id, title, description, category, ticket_price,
	min_participants, max_participants, min_tickets_per_user, max_tickets_per_user,
	start_at, end_at, status, created_at`

func scanRaffle(row pgx.Row) (*model.Raffle, error) {
	var (
		raf    model.Raffle
		status string
	)
	err := row.Scan(&raf.ID, &raf.HostID, &raf.Title, &raf.Description, &raf.Category, &raf.TicketPrice,
		&raf.MinParticipants, &raf.MaxParticipants, &raf.MinTicketsPerUser, &raf.MaxTicketsPerUser,
		&raf.StartAt, &raf.EndAt, &status, &raf.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRaffleNotFound
		}
		return nil, fmt.Errorf("scan raffle: %w", err)
	}
	raf.Status = model.RaffleStatus(status)
	return &raf, nil
}

// GetRaffle возвращает розыгрыш по идентификатору.
func (r *PostgresRepository) GetRaffle(ctx context.Context, id uuid.UUID) (*model.Raffle, error) {
	return scanRaffle(r.pool.QueryRow(ctx, `SELECT `+raffleColumns+` FROM raffles WHERE id = $1`, id))
}

// ListRaffles возвращает розыгрыши с указанным статусом; пустой статус означает все.
func (r *PostgresRepository) ListRaffles(ctx context.Context, status model.RaffleStatus) ([]model.Raffle, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+raffleColumns+`
		 FROM raffles
		 WHERE $1 = '' OR status = $1
		 ORDER BY end_at`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("select raffles: %w", err)
	}
	defer rows.Close()

	var res []model.Raffle
	for rows.Next() {
		raf, err := scanRaffle(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *raf)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateRaffleStatus меняет статус розыгрыша.
func (r *PostgresRepository) UpdateRaffleStatus(ctx context.Context, id uuid.UUID, status model.RaffleStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE raffles SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update raffle status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRaffleNotFound
	}
	return nil
}

// lockUser блокирует строку пользователя до конца транзакции и возвращает текущий баланс.
// Все операции, меняющие баланс, проходят через эту блокировку.
func lockUser(ctx context.Context, tx pgx.Tx, userID int64) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `SELECT tickets_balance FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("lock user for update: %w", err)
	}
	return balance, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, draft model.EventDraft) (*model.LedgerEvent, error) {
	ev := &model.LedgerEvent{
		ID:                uuid.New(),
		UserID:            draft.UserID,
		Kind:              draft.Kind,
		Quantity:          draft.Quantity,
		Delta:             draft.Delta(),
		FiatAmount:        draft.FiatAmount,
		Currency:          draft.Currency,
		ExternalReference: draft.ExternalReference,
	}

	var fiat *string
	if ev.FiatAmount != nil {
		s := ev.FiatAmount.String()
		fiat = &s
	}

	err := tx.QueryRow(ctx,
		`INSERT INTO ledger_events (id, user_id, kind, quantity, delta, fiat_amount, currency, external_reference)
		 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8)
		 RETURNING created_at`,
		ev.ID, ev.UserID, string(ev.Kind), ev.Quantity, ev.Delta, fiat, ev.Currency, ev.ExternalReference,
	).Scan(&ev.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, ErrDuplicateReference
		}
		return nil, fmt.Errorf("insert ledger event: %w", err)
	}
	return ev, nil
}

// projectBalance пересчитывает кэшированный баланс из суммы журнала.
func projectBalance(ctx context.Context, tx pgx.Tx, userID int64) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx,
		`UPDATE users
		 SET tickets_balance = (SELECT COALESCE(SUM(delta), 0) FROM ledger_events WHERE user_id = $1)
		 WHERE id = $1
		 RETURNING tickets_balance`,
		userID,
	).Scan(&balance)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation {
			return 0, ErrInsufficientBalance
		}
		return 0, fmt.Errorf("project balance: %w", err)
	}
	return balance, nil
}

func referenceExists(ctx context.Context, tx pgx.Tx, userID int64, ref string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger_events WHERE user_id = $1 AND external_reference = $2)`,
		userID, ref,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check reference: %w", err)
	}
	return exists, nil
}

// overflows сообщает, что зачисление delta выведет баланс за пределы int64.
func overflows(balance, delta int64) bool {
	return delta > 0 && balance > math.MaxInt64-delta
}

// appendEventTx добавляет событие и обновляет проекцию в рамках уже открытой транзакции.
// Строка пользователя должна быть заблокирована вызывающим.
func appendEventTx(ctx context.Context, tx pgx.Tx, balance int64, draft model.EventDraft) (*model.LedgerEvent, int64, error) {
	if draft.Quantity <= 0 {
		return nil, 0, ErrInvalidQuantity
	}

	if draft.ExternalReference != nil {
		exists, err := referenceExists(ctx, tx, draft.UserID, *draft.ExternalReference)
		if err != nil {
			return nil, 0, err
		}
		if exists {
			return nil, 0, ErrDuplicateReference
		}
	}

	if overflows(balance, draft.Delta()) {
		return nil, 0, ErrInvalidQuantity
	}
	if balance+draft.Delta() < 0 {
		return nil, 0, ErrInsufficientBalance
	}

	ev, err := insertEvent(ctx, tx, draft)
	if err != nil {
		return nil, 0, err
	}

	newBalance, err := projectBalance(ctx, tx, draft.UserID)
	if err != nil {
		return nil, 0, err
	}

	return ev, newBalance, nil
}

// AppendEvent добавляет событие в журнал и атомарно обновляет баланс пользователя.
func (r *PostgresRepository) AppendEvent(ctx context.Context, draft model.EventDraft) (*model.LedgerEvent, int64, error) {
	var (
		ev         *model.LedgerEvent
		newBalance int64
	)

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		balance, err := lockUser(ctx, tx, draft.UserID)
		if err != nil {
			return err
		}

		ev, newBalance, err = appendEventTx(ctx, tx, balance, draft)
		return err
	})
	if err != nil {
		return nil, 0, err
	}

	return ev, newBalance, nil
}

const entryColumns = `id, raffle_id, user_id, tickets_requested, tickets_spent, ledger_event_id,
	idempotency_key, balance_after, created_at`

func scanEntry(row pgx.Row) (*model.RaffleEntry, error) {
	var e model.RaffleEntry
	err := row.Scan(&e.ID, &e.RaffleID, &e.UserID, &e.TicketsRequested, &e.TicketsSpent, &e.LedgerEventID,
		&e.IdempotencyKey, &e.BalanceAfter, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("scan entry: %w", err)
	}
	return &e, nil
}

// EnterRaffle проверяет условия участия и в одной транзакции записывает трату, баланс и участие.
// Повтор запроса с тем же ключом идемпотентности возвращает исходный результат.
func (r *PostgresRepository) EnterRaffle(ctx context.Context, req model.EntryRequest) (*model.EntryResult, error) {
	var res *model.EntryResult

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		balance, err := lockUser(ctx, tx, req.UserID)
		if err != nil {
			return err
		}

		if req.IdempotencyKey != nil {
			prev, err := scanEntry(tx.QueryRow(ctx,
				`SELECT `+entryColumns+` FROM raffle_entries WHERE user_id = $1 AND idempotency_key = $2`,
				req.UserID, *req.IdempotencyKey,
			))
			switch {
			case err == nil:
				if prev.RaffleID != req.RaffleID || prev.TicketsRequested != req.TicketsRequested {
					return ErrIdempotencyKeyReuse
				}
				res = model.ResultOf(prev, true)
				return nil
			case !errors.Is(err, ErrEntryNotFound):
				return err
			}
		}

		raffle, err := scanRaffle(tx.QueryRow(ctx,
			`SELECT `+raffleColumns+` FROM raffles WHERE id = $1 FOR SHARE`, req.RaffleID))
		if err != nil {
			if errors.Is(err, ErrRaffleNotFound) {
				return fmt.Errorf("%w: %s", ErrRaffleClosed, err)
			}
			return err
		}

		cost, err := checkEntry(raffle, req, balance)
		if err != nil {
			return err
		}

		if raffle.MaxParticipants != nil {
			if err := admitParticipant(ctx, tx, raffle, req.UserID); err != nil {
				return err
			}
		}

		ev, newBalance, err := appendEventTx(ctx, tx, balance, model.EventDraft{
			UserID:   req.UserID,
			Kind:     model.EventSpend,
			Quantity: cost,
		})
		if err != nil {
			return err
		}

		entry := &model.RaffleEntry{
			ID:               uuid.New(),
			RaffleID:         req.RaffleID,
			UserID:           req.UserID,
			TicketsRequested: req.TicketsRequested,
			TicketsSpent:     cost,
			LedgerEventID:    ev.ID,
			IdempotencyKey:   req.IdempotencyKey,
			BalanceAfter:     newBalance,
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO raffle_entries (id, raffle_id, user_id, tickets_requested, tickets_spent,
			                             ledger_event_id, idempotency_key, balance_after)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING created_at`,
			entry.ID, entry.RaffleID, entry.UserID, entry.TicketsRequested, entry.TicketsSpent,
			entry.LedgerEventID, entry.IdempotencyKey, entry.BalanceAfter,
		).Scan(&entry.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}

		res = model.ResultOf(entry, false)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// checkEntry проверяет условия участия по порядку: розыгрыш открыт, лимиты билетов, баланс.
func checkEntry(raffle *model.Raffle, req model.EntryRequest, balance int64) (int64, error) {
	if !raffle.IsOpen(req.Now) {
		return 0, fmt.Errorf("%w: status %s", ErrRaffleClosed, raffle.Status)
	}
	if !raffle.AllowsTickets(req.TicketsRequested) {
		return 0, ErrOutOfRange
	}
	cost := raffle.Cost(req.TicketsRequested)
	if balance < cost {
		return 0, ErrInsufficientBalance
	}
	return cost, nil
}

// admitParticipant сериализует допуск новых участников в розыгрыш с ограничением числа участников.
func admitParticipant(ctx context.Context, tx pgx.Tx, raffle *model.Raffle, userID int64) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, raffle.ID.String()); err != nil {
		return fmt.Errorf("lock raffle: %w", err)
	}

	var (
		participants int64
		already      bool
	)
	err := tx.QueryRow(ctx,
		`SELECT COUNT(DISTINCT user_id), COALESCE(bool_or(user_id = $2), false)
		 FROM raffle_entries
		 WHERE raffle_id = $1`,
		raffle.ID, userID,
	).Scan(&participants, &already)
	if err != nil {
		return fmt.Errorf("count participants: %w", err)
	}

	if !already && participants >= *raffle.MaxParticipants {
		return ErrRaffleFull
	}
	return nil
}

// RefundEntry возвращает билеты за участие. Повторный возврат даёт ErrDuplicateReference.
func (r *PostgresRepository) RefundEntry(ctx context.Context, entryID uuid.UUID) (*model.LedgerEvent, int64, error) {
	var (
		ev         *model.LedgerEvent
		newBalance int64
	)

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		entry, err := scanEntry(tx.QueryRow(ctx,
			`SELECT `+entryColumns+` FROM raffle_entries WHERE id = $1`, entryID))
		if err != nil {
			return err
		}

		balance, err := lockUser(ctx, tx, entry.UserID)
		if err != nil {
			return err
		}

		ref := RefundReference(entry.ID)
		ev, newBalance, err = appendEventTx(ctx, tx, balance, model.EventDraft{
			UserID:            entry.UserID,
			Kind:              model.EventRefund,
			Quantity:          entry.TicketsSpent,
			ExternalReference: &ref,
		})
		return err
	})
	if err != nil {
		return nil, 0, err
	}

	return ev, newBalance, nil
}

// RefundReference возвращает внешнюю ссылку события возврата для записи участия.
func RefundReference(entryID uuid.UUID) string {
	return "refund:" + entryID.String()
}

// GetBalance возвращает текущий баланс и сумму всех трат пользователя.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64) (model.Balance, error) {
	var b model.Balance
	err := r.pool.QueryRow(ctx,
		`SELECT u.tickets_balance,
		        COALESCE((SELECT SUM(quantity) FROM ledger_events WHERE user_id = u.id AND kind = 'spend'), 0)
		 FROM users u
		 WHERE u.id = $1`,
		userID,
	).Scan(&b.Current, &b.Spent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Balance{}, ErrUserNotFound
		}
		return model.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	return b, nil
}

func (r *PostgresRepository) listEntries(ctx context.Context, where string, arg any) ([]model.RaffleEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM raffle_entries WHERE `+where+` ORDER BY created_at DESC, id`,
		arg,
	)
	if err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	defer rows.Close()

	var res []model.RaffleEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListEntriesByUser возвращает участия пользователя, начиная с последних.
func (r *PostgresRepository) ListEntriesByUser(ctx context.Context, userID int64) ([]model.RaffleEntry, error) {
	return r.listEntries(ctx, `user_id = $1`, userID)
}

// ListEntriesByRaffle возвращает все участия в розыгрыше.
func (r *PostgresRepository) ListEntriesByRaffle(ctx context.Context, raffleID uuid.UUID) ([]model.RaffleEntry, error) {
	return r.listEntries(ctx, `raffle_id = $1`, raffleID)
}

// ListEventsByUser возвращает журнал пользователя, начиная с последних событий.
func (r *PostgresRepository) ListEventsByUser(ctx context.Context, userID int64) ([]model.LedgerEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, kind, quantity, delta, fiat_amount::text, currency, external_reference, created_at
		 FROM ledger_events
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select ledger events: %w", err)
	}
	defer rows.Close()

	var res []model.LedgerEvent
	for rows.Next() {
		var (
			ev   model.LedgerEvent
			kind string
			fiat *string
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &kind, &ev.Quantity, &ev.Delta, &fiat,
			&ev.Currency, &ev.ExternalReference, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger event: %w", err)
		}
		ev.Kind = model.EventKind(kind)

		if fiat != nil {
			d, err := decimal.NewFromString(*fiat)
			if err != nil {
				return nil, fmt.Errorf("parse fiat amount: %w", err)
			}
			ev.FiatAmount = &d
		}

		res = append(res, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// Reconcile сверяет кэшированный баланс с суммой журнала и при расхождении восстанавливает его из журнала.
func (r *PostgresRepository) Reconcile(ctx context.Context, userID int64) (*model.Reconciliation, error) {
	rec := &model.Reconciliation{UserID: userID}

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		cached, err := lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		rec.Cached = cached

		err = tx.QueryRow(ctx,
			`SELECT COALESCE(SUM(delta), 0) FROM ledger_events WHERE user_id = $1`, userID,
		).Scan(&rec.LedgerSum)
		if err != nil {
			return fmt.Errorf("sum ledger: %w", err)
		}

		if rec.LedgerSum == rec.Cached {
			return nil
		}

		if _, err := projectBalance(ctx, tx, userID); err != nil {
			return err
		}
		rec.Repaired = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}
