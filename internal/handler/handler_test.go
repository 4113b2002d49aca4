package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/raffle-ledger/internal/middleware"
	"github.com/mmeshcher/raffle-ledger/internal/model"
	"github.com/mmeshcher/raffle-ledger/internal/repository"
	"github.com/mmeshcher/raffle-ledger/internal/service"
)

type stubService struct {
	registerUserID int64
	registerErr    error

	authUserID int64
	authErr    error

	roles map[int64]model.Role

	purchaseBalance int64
	purchaseErr     error
	gotPurchase     model.Purchase

	balanceResp *model.Balance
	balanceErr  error

	ledgerResp []model.LedgerEvent

	entryResp *model.EntryResult
	entryErr  error
	gotKey    string
	gotTicket int64

	entriesResp []model.RaffleEntry

	refunded  int
	refundErr error

	raffleResp *model.Raffle
	raffleErr  error
}

func (s *stubService) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	return s.registerUserID, s.registerErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	return s.authUserID, s.authErr
}

func (s *stubService) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	role, ok := s.roles[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return &model.User{ID: userID, Role: role}, nil
}

func (s *stubService) UpdateUserStatus(ctx context.Context, userID int64, role model.Role, kyc model.KYCStatus) error {
	return nil
}

func (s *stubService) PurchaseTickets(ctx context.Context, userID int64, p model.Purchase) (int64, error) {
	s.gotPurchase = p
	return s.purchaseBalance, s.purchaseErr
}

func (s *stubService) AdjustBalance(ctx context.Context, userID int64, delta int64, reference string) (int64, error) {
	return s.purchaseBalance, s.purchaseErr
}

func (s *stubService) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	return s.balanceResp, s.balanceErr
}

func (s *stubService) GetLedger(ctx context.Context, userID int64) ([]model.LedgerEvent, error) {
	return s.ledgerResp, nil
}

func (s *stubService) Reconcile(ctx context.Context, userID int64) (*model.Reconciliation, error) {
	return &model.Reconciliation{UserID: userID}, nil
}

func (s *stubService) EnterRaffle(ctx context.Context, userID int64, raffleID uuid.UUID, tickets int64, idempotencyKey string) (*model.EntryResult, error) {
	s.gotKey = idempotencyKey
	s.gotTicket = tickets
	return s.entryResp, s.entryErr
}

func (s *stubService) ListEntries(ctx context.Context, userID int64) ([]model.RaffleEntry, error) {
	return s.entriesResp, nil
}

func (s *stubService) RefundRaffle(ctx context.Context, raffleID uuid.UUID) (int, error) {
	return s.refunded, s.refundErr
}

func (s *stubService) CreateRaffle(ctx context.Context, hostID int64, raffle model.Raffle) (*model.Raffle, error) {
	return s.raffleResp, s.raffleErr
}

func (s *stubService) GetRaffle(ctx context.Context, id uuid.UUID) (*model.Raffle, error) {
	return s.raffleResp, s.raffleErr
}

func (s *stubService) ListRaffles(ctx context.Context, status model.RaffleStatus) ([]model.Raffle, error) {
	if s.raffleResp == nil {
		return nil, s.raffleErr
	}
	return []model.Raffle{*s.raffleResp}, s.raffleErr
}

func (s *stubService) SetRaffleStatus(ctx context.Context, id uuid.UUID, status model.RaffleStatus) error {
	return s.raffleErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth, prometheus.NewRegistry())
}

// do выполняет запрос через полный роутер; userID 0 означает анонимный запрос.
func do(t *testing.T, h *Handler, method, target string, userID int64, body any, headers map[string]string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, target, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if userID != 0 {
		cookieRec := httptest.NewRecorder()
		h.authMiddleware.SetAuthCookie(cookieRec, userID)
		req.AddCookie(cookieRec.Result().Cookies()[0])
	}

	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	return rec.Result()
}

func TestRegister(t *testing.T) {
	h := newTestHandler(t, &stubService{registerUserID: 42})

	res := do(t, h, http.MethodPost, "/api/user/register", 0, credentialsRequest{Login: "user", Password: "pass"}, nil)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotEmpty(t, res.Cookies())

	h = newTestHandler(t, &stubService{registerErr: repository.ErrUserExists})
	res = do(t, h, http.MethodPost, "/api/user/register", 0, credentialsRequest{Login: "user", Password: "pass"}, nil)
	defer res.Body.Close()
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	res = do(t, h, http.MethodPost, "/api/user/register", 0, credentialsRequest{Login: "user"}, nil)
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestLogin_UnauthorizedOnInvalidCredentials(t *testing.T) {
	h := newTestHandler(t, &stubService{authErr: service.ErrInvalidCredentials})

	res := do(t, h, http.MethodPost, "/api/user/login", 0, credentialsRequest{Login: "user", Password: "pass"}, nil)
	defer res.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestProtectedRoutesRequireCookie(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	for _, target := range []string{"/api/user/balance", "/api/user/ledger", "/api/user/entries"} {
		res := do(t, h, http.MethodGet, target, 0, nil, nil)
		res.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, res.StatusCode, target)
	}
}

func TestGetBalance(t *testing.T) {
	h := newTestHandler(t, &stubService{balanceResp: &model.Balance{Current: 20, Spent: 30}})

	res := do(t, h, http.MethodGet, "/api/user/balance", 1, nil, nil)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))

	var got model.Balance
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	assert.Equal(t, model.Balance{Current: 20, Spent: 30}, got)
}

func TestGetEntries_NoContent(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := do(t, h, http.MethodGet, "/api/user/entries", 1, nil, nil)
	defer res.Body.Close()

	assert.Equal(t, http.StatusNoContent, res.StatusCode)
}

func TestGetLedger(t *testing.T) {
	ref := "stripe_1"
	h := newTestHandler(t, &stubService{ledgerResp: []model.LedgerEvent{
		{ID: uuid.New(), Kind: model.EventSpend, Quantity: 30, Delta: -30, CreatedAt: time.Now()},
		{ID: uuid.New(), Kind: model.EventPurchase, Quantity: 50, Delta: 50, ExternalReference: &ref, CreatedAt: time.Now()},
	}})

	res := do(t, h, http.MethodGet, "/api/user/ledger", 1, nil, nil)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var got []eventResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Equal(t, "spend", got[0].Kind)
	assert.Equal(t, int64(-30), got[0].Delta)
	require.NotNil(t, got[1].ExternalReference)
	assert.Equal(t, ref, *got[1].ExternalReference)
}

func TestPurchaseTickets(t *testing.T) {
	tests := []struct {
		name       string
		svc        *stubService
		body       string
		wantStatus int
		wantBody   balanceResponse
	}{
		{
			name:       "credited",
			svc:        &stubService{purchaseBalance: 110},
			body:       `{"quantity":10,"fiat_amount":"10.00","currency":"USD","external_reference":"stripe_1"}`,
			wantStatus: http.StatusOK,
			wantBody:   balanceResponse{NewBalance: 110},
		},
		{
			name: "duplicate reference replays current balance",
			svc: &stubService{
				purchaseErr: repository.ErrDuplicateReference,
				balanceResp: &model.Balance{Current: 110},
			},
			body:       `{"quantity":10,"external_reference":"stripe_1"}`,
			wantStatus: http.StatusOK,
			wantBody:   balanceResponse{NewBalance: 110, Replayed: true},
		},
		{
			name:       "zero quantity",
			svc:        &stubService{},
			body:       `{"quantity":0}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad currency",
			svc:        &stubService{},
			body:       `{"quantity":1,"currency":"usd"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "payment not confirmed",
			svc:        &stubService{purchaseErr: service.ErrPaymentNotConfirmed},
			body:       `{"quantity":1,"external_reference":"stripe_2"}`,
			wantStatus: http.StatusPaymentRequired,
		},
		{
			name:       "storage unavailable",
			svc:        &stubService{purchaseErr: repository.ErrStorageUnavailable},
			body:       `{"quantity":1}`,
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, tt.svc)

			req := httptest.NewRequest(http.MethodPost, "/api/user/tickets/purchase", strings.NewReader(tt.body))
			cookieRec := httptest.NewRecorder()
			h.authMiddleware.SetAuthCookie(cookieRec, 1)
			req.AddCookie(cookieRec.Result().Cookies()[0])

			rec := httptest.NewRecorder()
			h.SetupRouter().ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}

			var got balanceResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
			assert.Equal(t, tt.wantBody, got)
		})
	}
}

func TestEnterRaffle(t *testing.T) {
	raffleID := uuid.New()
	target := "/api/raffles/" + raffleID.String() + "/entries"

	tests := []struct {
		name       string
		svc        *stubService
		key        string
		wantStatus int
	}{
		{
			name:       "committed",
			svc:        &stubService{entryResp: &model.EntryResult{RaffleID: raffleID, TicketsSpent: 30, NewBalance: 20}},
			key:        "join-1",
			wantStatus: http.StatusCreated,
		},
		{
			name:       "replayed",
			svc:        &stubService{entryResp: &model.EntryResult{RaffleID: raffleID, Replayed: true}},
			key:        "join-1",
			wantStatus: http.StatusOK,
		},
		{name: "insufficient balance", svc: &stubService{entryErr: repository.ErrInsufficientBalance}, wantStatus: http.StatusPaymentRequired},
		{name: "closed", svc: &stubService{entryErr: repository.ErrRaffleClosed}, wantStatus: http.StatusConflict},
		{name: "full", svc: &stubService{entryErr: repository.ErrRaffleFull}, wantStatus: http.StatusConflict},
		{name: "out of range", svc: &stubService{entryErr: repository.ErrOutOfRange}, wantStatus: http.StatusUnprocessableEntity},
		{name: "key reuse", svc: &stubService{entryErr: repository.ErrIdempotencyKeyReuse}, key: "k", wantStatus: http.StatusUnprocessableEntity},
		{name: "malformed key", svc: &stubService{}, key: "has space", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, tt.svc)

			headers := map[string]string{}
			if tt.key != "" {
				headers[idempotencyHeader] = tt.key
			}

			res := do(t, h, http.MethodPost, target, 1, entryRequest{Tickets: 3}, headers)
			defer res.Body.Close()

			require.Equal(t, tt.wantStatus, res.StatusCode)
			if tt.wantStatus < 300 {
				assert.Equal(t, tt.key, tt.svc.gotKey)
				assert.Equal(t, int64(3), tt.svc.gotTicket)
			}
		})
	}
}

func TestEnterRaffle_BadRaffleID(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := do(t, h, http.MethodPost, "/api/raffles/not-a-uuid/entries", 1, entryRequest{Tickets: 1}, nil)
	defer res.Body.Close()

	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestCreateRaffle_HostNotVerified(t *testing.T) {
	h := newTestHandler(t, &stubService{raffleErr: service.ErrHostNotVerified})

	res := do(t, h, http.MethodPost, "/api/raffles", 1, raffleRequest{Title: "x", TicketPrice: 1}, nil)
	defer res.Body.Close()

	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestListRaffles(t *testing.T) {
	raf := &model.Raffle{ID: uuid.New(), Title: "Weekend raffle", TicketPrice: 10, Status: model.RaffleActive}
	h := newTestHandler(t, &stubService{raffleResp: raf})

	res := do(t, h, http.MethodGet, "/api/raffles?status=active", 0, nil, nil)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var got []raffleResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, raf.ID.String(), got[0].ID)
	assert.Equal(t, "active", got[0].Status)
}

func TestAdminRoutes(t *testing.T) {
	svc := &stubService{
		roles:    map[int64]model.Role{1: model.RoleAdmin, 2: model.RoleParticipant},
		refunded: 2,
	}
	h := newTestHandler(t, svc)
	target := "/api/admin/raffles/" + uuid.NewString() + "/refund"

	res := do(t, h, http.MethodPost, target, 2, nil, nil)
	res.Body.Close()
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res = do(t, h, http.MethodPost, target, 1, nil, nil)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var got refundResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	assert.Equal(t, 2, got.Refunded)

	svc.refundErr = service.ErrNotRefundable
	res = do(t, h, http.MethodPost, target, 1, nil, nil)
	res.Body.Close()
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	res = do(t, h, http.MethodPatch, "/api/admin/users/2", 1, userStatusRequest{Role: model.RoleHost, KYCStatus: model.KYCVerified}, nil)
	res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := do(t, h, http.MethodGet, "/metrics", 0, nil, nil)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)
}
