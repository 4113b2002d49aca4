// Package payment предоставляет клиент платёжного провайдера, подтверждающего покупку билетов.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
)

// StatusConfirmed означает, что провайдер получил оплату.
const StatusConfirmed = "CONFIRMED"

var (
	// ErrNotFound возвращается, если провайдер не знает платёж с такой ссылкой.
	ErrNotFound = errors.New("payment not found")
	// ErrUnavailable возвращается при сетевой ошибке или ограничении частоты запросов.
	ErrUnavailable = errors.New("payment provider unavailable")
)

// Client инкапсулирует HTTP-взаимодействие с платёжным провайдером.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Payment описывает ответ провайдера по одному платежу.
type Payment struct {
	Reference string           `json:"reference"`
	Status    string           `json:"status"`
	Quantity  int64            `json:"quantity"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Currency  string           `json:"currency"`
}

// UnavailableError сообщает о временной недоступности провайдера и рекомендуемой паузе.
type UnavailableError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *UnavailableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%v (retry after %s)", e.Err, e.RetryAfter)
	}
	return e.Err.Error()
}

func (e *UnavailableError) Unwrap() error { return ErrUnavailable }

// NewClient создаёт HTTP-клиент для обращения к платёжному провайдеру по указанному адресу.
// Сетевые ошибки и ответы 5xx повторяются с экспоненциальной паузой, 429 возвращается сразу.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.RetryMax = 2
	rc.RetryWaitMin = 50 * time.Millisecond
	rc.RetryWaitMax = 500 * time.Millisecond
	rc.Logger = nil
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc.StandardClient(),
	}
}

// GetPayment запрашивает состояние платежа по внешней ссылке.
func (c *Client) GetPayment(ctx context.Context, reference string) (*Payment, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("payment client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	endpoint := fmt.Sprintf("%s/api/payments/%s", base, url.PathEscape(reference))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UnavailableError{Err: fmt.Errorf("do request: %w", err)}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, reference)
	case http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, &UnavailableError{RetryAfter: retryAfter, Err: errors.New("too many requests")}
	default:
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, &UnavailableError{Err: fmt.Errorf("unexpected status: %d", resp.StatusCode)}
		}
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result Payment
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &result, nil
}
