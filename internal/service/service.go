// Package service реализует бизнес-логику журнала билетов и участия в розыгрышах.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/raffle-ledger/internal/metrics"
	"github.com/mmeshcher/raffle-ledger/internal/model"
	"github.com/mmeshcher/raffle-ledger/internal/payment"
)

var (
	// ErrInvalidCredentials возвращается при неверном логине или пароле.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrHostNotVerified возвращается, если розыгрыш создаёт пользователь без роли ведущего или KYC.
	ErrHostNotVerified = errors.New("host is not kyc verified")
	// ErrInvalidRaffle возвращается при некорректных параметрах розыгрыша.
	ErrInvalidRaffle = errors.New("invalid raffle")
	// ErrInvalidStatus возвращается при неизвестной роли, статусе KYC или статусе розыгрыша.
	ErrInvalidStatus = errors.New("invalid status")
	// ErrNotRefundable возвращается при попытке вернуть билеты за завершённый розыгрыш.
	ErrNotRefundable = errors.New("raffle cannot be refunded")
	// ErrPaymentNotConfirmed возвращается, если провайдер не подтвердил оплату покупки.
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")
	// ErrPaymentUnavailable возвращается, если провайдер временно недоступен.
	ErrPaymentUnavailable = errors.New("payment provider unavailable")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
// Баланс пользователя меняют только AppendEvent, EnterRaffle, RefundEntry и Reconcile.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetUser(ctx context.Context, userID int64) (*model.User, error)
	UpdateUserStatus(ctx context.Context, userID int64, role model.Role, kyc model.KYCStatus) error

	CreateRaffle(ctx context.Context, raffle *model.Raffle) error
	GetRaffle(ctx context.Context, id uuid.UUID) (*model.Raffle, error)
	ListRaffles(ctx context.Context, status model.RaffleStatus) ([]model.Raffle, error)
	UpdateRaffleStatus(ctx context.Context, id uuid.UUID, status model.RaffleStatus) error

	AppendEvent(ctx context.Context, draft model.EventDraft) (*model.LedgerEvent, int64, error)
	EnterRaffle(ctx context.Context, req model.EntryRequest) (*model.EntryResult, error)
	RefundEntry(ctx context.Context, entryID uuid.UUID) (*model.LedgerEvent, int64, error)
	GetBalance(ctx context.Context, userID int64) (model.Balance, error)
	ListEntriesByUser(ctx context.Context, userID int64) ([]model.RaffleEntry, error)
	ListEntriesByRaffle(ctx context.Context, raffleID uuid.UUID) ([]model.RaffleEntry, error)
	ListEventsByUser(ctx context.Context, userID int64) ([]model.LedgerEvent, error)
	Reconcile(ctx context.Context, userID int64) (*model.Reconciliation, error)
}

// PaymentVerifier подтверждает покупку у платёжного провайдера.
type PaymentVerifier interface {
	GetPayment(ctx context.Context, reference string) (*payment.Payment, error)
}

// EntryCache хранит результаты участия по ключу идемпотентности.
type EntryCache interface {
	GetEntryResult(ctx context.Context, userID int64, idempotencyKey string) (*model.EntryResult, bool, error)
	PutEntryResult(ctx context.Context, userID int64, idempotencyKey string, res *model.EntryResult) error
}

// Publisher получает зафиксированные события журнала.
type Publisher interface {
	Publish(ctx context.Context, evs ...model.LedgerEvent) error
}

// Service содержит бизнес-логику журнала билетов.
type Service struct {
	repo      Repository
	logger    *zap.Logger
	payments  PaymentVerifier
	cache     EntryCache
	publisher Publisher
	metrics   *metrics.Recorder
	now       func() time.Time
}

// Option настраивает необязательные зависимости сервиса.
type Option func(*Service)

// WithPaymentVerifier включает проверку покупок у платёжного провайдера.
func WithPaymentVerifier(p PaymentVerifier) Option {
	return func(s *Service) { s.payments = p }
}

// WithEntryCache включает кэш результатов участия.
func WithEntryCache(c EntryCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithPublisher включает публикацию событий журнала.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMetrics включает метрики.
func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового участника с нулевым балансом.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	return s.repo.CreateUser(ctx, login, hashed)
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return 0, err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

// GetUser возвращает пользователя.
func (s *Service) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	return s.repo.GetUser(ctx, userID)
}

// UpdateUserStatus меняет роль и статус KYC пользователя.
func (s *Service) UpdateUserStatus(ctx context.Context, userID int64, role model.Role, kyc model.KYCStatus) error {
	switch role {
	case model.RoleParticipant, model.RoleHost, model.RoleAdmin:
	default:
		return fmt.Errorf("%w: role %q", ErrInvalidStatus, role)
	}
	switch kyc {
	case model.KYCNone, model.KYCPending, model.KYCVerified, model.KYCRejected:
	default:
		return fmt.Errorf("%w: kyc %q", ErrInvalidStatus, kyc)
	}

	if err := s.repo.UpdateUserStatus(ctx, userID, role, kyc); err != nil {
		return err
	}

	s.logger.Info("user status updated",
		zap.Int64("userID", userID), zap.String("role", string(role)), zap.String("kyc", string(kyc)))
	return nil
}

// publish отправляет события после фиксации; ошибка не откатывает операцию.
func (s *Service) publish(ctx context.Context, evs ...model.LedgerEvent) {
	for i := range evs {
		s.metrics.EventAppended(&evs[i])
	}
	if s.publisher == nil || len(evs) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, evs...); err != nil {
		s.logger.Warn("publish ledger events", zap.Error(err), zap.Int("count", len(evs)))
	}
}
