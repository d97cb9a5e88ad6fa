// Package finance is the HTTP client for the remote financial API that owns
// accounts, invoices, deposit orders, exchange rates and crypto quotes.
package finance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout bounds every remote call.
const DefaultTimeout = 15 * time.Second

// Endpoint paths relative to the configured base URL.
const (
	PathIndividualAccounts = "/accounts/individual"
	PathBusinessAccounts   = "/accounts/business"
	PathInvoices           = "/invoices"
	PathDepositOrders      = "/deposit-orders"
	PathRates              = "/rates/"
	PathFiatToCryptoQuotes = "/quotes/fiat-to-crypto"
)

var (
	// ErrConflict means the remote rejected a duplicate, e.g. an email already registered.
	ErrConflict = errors.New("remote conflict")
	// ErrUnavailable covers timeouts, network failures and 5xx responses.
	ErrUnavailable = errors.New("remote service unavailable")
	// ErrNotConfigured is returned when no base URL was set.
	ErrNotConfigured = errors.New("financial API base URL not configured")
)

// APIError is a non-2xx response from the financial API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("financial API returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the status onto ErrConflict or ErrUnavailable so callers can use errors.Is.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusConflict:
		return ErrConflict
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode >= 500:
		return ErrUnavailable
	}
	return nil
}

// UserMessage returns the message a user may see for err, or "" when none applies.
func UserMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return ""
}

// Opts holds configuration for the client.
type Opts struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Option configures the client.
type Option func(*Opts)

// WithBaseURL sets the API root, e.g. https://api.example.com/v1.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = strings.TrimRight(u, "/") }
}

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client calls the financial API.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
}

// NewClient creates a client from options.
func NewClient(opts ...Option) *Client {
	cfg := Opts{Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	slog.Debug("finance.NewClient: created", "baseURL", cfg.BaseURL, "apiKeySet", cfg.APIKey != "", "timeout", cfg.Timeout)
	return &Client{baseURL: cfg.BaseURL, apiKey: cfg.APIKey, timeout: cfg.Timeout, http: cfg.HTTPClient}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build %s %s: %w", method, path, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if method == http.MethodPost {
		req.Header.Set("Idempotency-Key", idempotencyKey(ctx, method, path))
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		slog.Warn("finance.Client: request failed", "method", method, "path", path, "requestID", requestID, "error", err)
		return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()
	slog.Debug("finance.Client: response", "method", method, "path", path, "status", resp.StatusCode, "requestID", requestID, "elapsed", time.Since(start))

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: reading %s %s: %w", ErrUnavailable, method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data, resp.Status)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func errorMessage(body []byte, fallback string) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return fallback
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", path, err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(body), "application/json", out)
}

// Account is a created remote account.
type Account struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreateIndividualAccount registers a person.
func (c *Client) CreateIndividualAccount(ctx context.Context, payload map[string]any) (*Account, error) {
	var acct Account
	if err := c.postJSON(ctx, PathIndividualAccounts, payload, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// CreateBusinessAccount registers a business.
func (c *Client) CreateBusinessAccount(ctx context.Context, payload map[string]any) (*Account, error) {
	var acct Account
	if err := c.postJSON(ctx, PathBusinessAccounts, payload, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// Invoice is an uploaded invoice document.
type Invoice struct {
	ID string `json:"id"`
}

// CreateInvoice uploads the document on behalf of the account owner's email.
func (c *Client) CreateInvoice(ctx context.Context, email, filename string, document []byte) (*Invoice, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("email", email); err != nil {
		return nil, fmt.Errorf("failed to write invoice form: %w", err)
	}
	part, err := w.CreateFormFile("document", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to write invoice form: %w", err)
	}
	if _, err := part.Write(document); err != nil {
		return nil, fmt.Errorf("failed to write invoice form: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to write invoice form: %w", err)
	}
	var inv Invoice
	if err := c.do(ctx, http.MethodPost, PathInvoices, &buf, w.FormDataContentType(), &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// DepositOrderRequest creates a payment request against an invoice.
type DepositOrderRequest struct {
	Email            string  `json:"email"`
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
	PurposeCode      string  `json:"purpose_code"`
	PaymentType      string  `json:"payment_type"`
	PayerEmail       string  `json:"payer_email"`
	InvoiceID        string  `json:"invoice_id"`
	PartnerReference string  `json:"partner_reference,omitempty"`
	PaymentCode      string  `json:"payment_code,omitempty"`
}

// DepositOrder is a created payment request.
type DepositOrder struct {
	OrderID     string `json:"order_id"`
	PaymentLink string `json:"payment_link"`
	Status      string `json:"status"`
}

// CreateDepositOrder creates a deposit order.
func (c *Client) CreateDepositOrder(ctx context.Context, req DepositOrderRequest) (*DepositOrder, error) {
	var order DepositOrder
	if err := c.postJSON(ctx, PathDepositOrders, req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// ExchangeRate holds deposit and withdrawal rates for one currency.
type ExchangeRate struct {
	Currency     string  `json:"currency"`
	DepositRate  float64 `json:"deposit_rate"`
	WithdrawRate float64 `json:"withdraw_rate"`
	UpdatedAt    string  `json:"updated_at,omitempty"`
}

// GetExchangeRate fetches current rates for an ISO currency code.
func (c *Client) GetExchangeRate(ctx context.Context, currency string) (*ExchangeRate, error) {
	var rate ExchangeRate
	if err := c.do(ctx, http.MethodGet, PathRates+url.PathEscape(currency), nil, "", &rate); err != nil {
		return nil, err
	}
	if rate.Currency == "" {
		rate.Currency = currency
	}
	return &rate, nil
}

// QuoteRequest asks for a fiat-to-crypto quote.
type QuoteRequest struct {
	FiatCurrency   string
	Amount         float64
	CryptoCurrency string
	PaymentMethod  string
}

// Quote is a read-only fiat-to-crypto price.
type Quote struct {
	FiatCurrency   string  `json:"fiat_currency"`
	FiatAmount     float64 `json:"fiat_amount"`
	CryptoCurrency string  `json:"crypto_currency"`
	CryptoAmount   float64 `json:"crypto_amount"`
	Rate           float64 `json:"rate"`
	Fee            float64 `json:"fee"`
	MinAmount      float64 `json:"min_amount"`
	MaxAmount      float64 `json:"max_amount"`
	ExpiresAt      string  `json:"expires_at,omitempty"`
}

// GetFiatToCryptoQuote fetches a quote.
func (c *Client) GetFiatToCryptoQuote(ctx context.Context, q QuoteRequest) (*Quote, error) {
	params := url.Values{}
	params.Set("fiat_currency", q.FiatCurrency)
	params.Set("amount", fmt.Sprintf("%.2f", q.Amount))
	params.Set("crypto_currency", q.CryptoCurrency)
	params.Set("payment_method", q.PaymentMethod)
	var quote Quote
	if err := c.do(ctx, http.MethodGet, PathFiatToCryptoQuotes+"?"+params.Encode(), nil, "", &quote); err != nil {
		return nil, err
	}
	return &quote, nil
}
