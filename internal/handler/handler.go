// Package handler содержит HTTP-обработчики API сервиса билетов и розыгрышей.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mmeshcher/raffle-ledger/internal/middleware"
	"github.com/mmeshcher/raffle-ledger/internal/model"
	"github.com/mmeshcher/raffle-ledger/internal/repository"
	"github.com/mmeshcher/raffle-ledger/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)
	GetUser(ctx context.Context, userID int64) (*model.User, error)
	UpdateUserStatus(ctx context.Context, userID int64, role model.Role, kyc model.KYCStatus) error

	PurchaseTickets(ctx context.Context, userID int64, p model.Purchase) (int64, error)
	AdjustBalance(ctx context.Context, userID int64, delta int64, reference string) (int64, error)
	GetBalance(ctx context.Context, userID int64) (*model.Balance, error)
	GetLedger(ctx context.Context, userID int64) ([]model.LedgerEvent, error)
	Reconcile(ctx context.Context, userID int64) (*model.Reconciliation, error)

	EnterRaffle(ctx context.Context, userID int64, raffleID uuid.UUID, tickets int64, idempotencyKey string) (*model.EntryResult, error)
	ListEntries(ctx context.Context, userID int64) ([]model.RaffleEntry, error)
	RefundRaffle(ctx context.Context, raffleID uuid.UUID) (int, error)

	CreateRaffle(ctx context.Context, hostID int64, raffle model.Raffle) (*model.Raffle, error)
	GetRaffle(ctx context.Context, id uuid.UUID) (*model.Raffle, error)
	ListRaffles(ctx context.Context, status model.RaffleStatus) ([]model.Raffle, error)
	SetRaffleStatus(ctx context.Context, id uuid.UUID, status model.RaffleStatus) error
}

// Handler реализует HTTP-обработчики API сервиса билетов.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	gatherer       prometheus.Gatherer
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// gatherer может быть nil, тогда /metrics не публикуется.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, gatherer prometheus.Gatherer) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		gatherer:       gatherer,
	}
}

// statusOf сопоставляет доменные ошибки с кодами HTTP; 0 означает внутреннюю ошибку.
func statusOf(err error) int {
	switch {
	case errors.Is(err, repository.ErrInvalidQuantity),
		errors.Is(err, service.ErrInvalidRaffle),
		errors.Is(err, service.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrInsufficientBalance),
		errors.Is(err, service.ErrPaymentNotConfirmed):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrHostNotVerified):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrRaffleNotFound),
		errors.Is(err, repository.ErrEntryNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrRaffleClosed),
		errors.Is(err, repository.ErrRaffleFull),
		errors.Is(err, repository.ErrUserExists),
		errors.Is(err, service.ErrNotRefundable):
		return http.StatusConflict
	case errors.Is(err, repository.ErrOutOfRange),
		errors.Is(err, repository.ErrIdempotencyKeyReuse):
		return http.StatusUnprocessableEntity
	case errors.Is(err, repository.ErrStorageUnavailable),
		errors.Is(err, service.ErrPaymentUnavailable):
		return http.StatusServiceUnavailable
	}
	return 0
}

// writeError отвечает кодом, соответствующим ошибке. Неизвестные ошибки логируются как внутренние.
func (h *Handler) writeError(w http.ResponseWriter, err error, msg string, fields ...zap.Field) {
	status := statusOf(err)
	if status == 0 {
		h.logger.Error(msg, append(fields, zap.Error(err))...)
		status = http.StatusInternalServerError
	}
	http.Error(w, http.StatusText(status), status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response", zap.Error(err))
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return userID, ok
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil || req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		h.writeError(w, err, "register user error")
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и устанавливает cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil || req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.writeError(w, err, "login user error")
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) roleOf(ctx context.Context, userID int64) (model.Role, error) {
	u, err := h.service.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.Role, nil
}
