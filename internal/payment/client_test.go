package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestGetPayment_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/api/payments/stripe_123" {
			t.Fatalf("path = %s, want /api/payments/stripe_123", r.URL.Path)
		}

		amount := decimal.RequireFromString("10.00")
		resp := Payment{
			Reference: "stripe_123",
			Status:    StatusConfirmed,
			Quantity:  10,
			Amount:    &amount,
			Currency:  "USD",
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := client.GetPayment(ctx, "stripe_123")
	if err != nil {
		t.Fatalf("GetPayment error: %v", err)
	}
	if res.Reference != "stripe_123" || res.Status != StatusConfirmed || res.Quantity != 10 {
		t.Fatalf("unexpected response: %+v", res)
	}
	if res.Amount == nil || !res.Amount.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected amount: %v", res.Amount)
	}
}

func TestGetPayment_TooManyRequests(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := client.GetPayment(ctx, "stripe_123")
	if res != nil {
		t.Fatalf("expected nil response for 429, got %+v", res)
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected *UnavailableError, got %T", err)
	}
	if unavailable.RetryAfter < 5*time.Second {
		t.Fatalf("retryAfter = %v, want at least 5s", unavailable.RetryAfter)
	}
}

func TestGetPayment_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	_, err := client.GetPayment(context.Background(), "unknown")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetPayment_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	_, err := client.GetPayment(context.Background(), "stripe_123")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for 502, got %v", err)
	}
}

func TestGetPayment_NotConfigured(t *testing.T) {
	var client *Client

	if _, err := client.GetPayment(context.Background(), "stripe_123"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestGetPayment_RetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(Payment{Reference: "stripe_123", Status: StatusConfirmed, Quantity: 1})
	}))
	defer ts.Close()

	res, err := NewClient(ts.URL).GetPayment(context.Background(), "stripe_123")
	if err != nil {
		t.Fatalf("GetPayment error: %v", err)
	}
	if res.Status != StatusConfirmed {
		t.Fatalf("status = %s, want %s", res.Status, StatusConfirmed)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}
