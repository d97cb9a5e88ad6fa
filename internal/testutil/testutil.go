// Package testutil provides fakes and assertions shared by PayPipe tests.
package testutil

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BTreeMap/PayPipe/internal/finance"
	"github.com/BTreeMap/PayPipe/internal/messaging"
	"github.com/BTreeMap/PayPipe/internal/models"
)

// FakeFinance answers every finance call with fixed data and records the
// calls it received.
type FakeFinance struct {
	RateErr error

	mu    sync.Mutex
	Calls []string
}

func (f *FakeFinance) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, call)
}

// CallCount returns how many times call was made.
func (f *FakeFinance) CallCount(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *FakeFinance) CreateIndividualAccount(context.Context, map[string]any) (*finance.Account, error) {
	f.record("CreateIndividualAccount")
	return &finance.Account{ID: "acct_ind_1"}, nil
}

func (f *FakeFinance) CreateBusinessAccount(context.Context, map[string]any) (*finance.Account, error) {
	f.record("CreateBusinessAccount")
	return &finance.Account{ID: "acct_biz_1"}, nil
}

func (f *FakeFinance) CreateInvoice(context.Context, string, string, []byte) (*finance.Invoice, error) {
	f.record("CreateInvoice")
	return &finance.Invoice{ID: "inv_1"}, nil
}

func (f *FakeFinance) CreateDepositOrder(context.Context, finance.DepositOrderRequest) (*finance.DepositOrder, error) {
	f.record("CreateDepositOrder")
	return &finance.DepositOrder{OrderID: "ord_1", PaymentLink: "https://pay.example.com/ord_1"}, nil
}

func (f *FakeFinance) GetExchangeRate(_ context.Context, currency string) (*finance.ExchangeRate, error) {
	f.record("GetExchangeRate")
	if f.RateErr != nil {
		return nil, f.RateErr
	}
	return &finance.ExchangeRate{Currency: currency, DepositRate: 58.12, WithdrawRate: 57.8}, nil
}

func (f *FakeFinance) GetFiatToCryptoQuote(_ context.Context, q finance.QuoteRequest) (*finance.Quote, error) {
	f.record("GetFiatToCryptoQuote")
	return &finance.Quote{FiatCurrency: q.FiatCurrency, FiatAmount: q.Amount, CryptoCurrency: q.CryptoCurrency, CryptoAmount: 10}, nil
}

// StubClassifier answers with a fixed label or error and counts calls.
type StubClassifier struct {
	Label string
	Err   error
	Calls int
}

func (s *StubClassifier) Classify(context.Context, string, string, []string) (string, error) {
	s.Calls++
	return s.Label, s.Err
}

// SentMessage is one reply captured by RecordingService.
type SentMessage struct {
	To   string
	Body string
}

// RecordingService is a messaging.Service that keeps what it was asked to send.
type RecordingService struct {
	Err error

	mu   sync.Mutex
	Sent []SentMessage
}

var _ messaging.Service = (*RecordingService)(nil)

func (r *RecordingService) SendMessage(_ context.Context, to, body string) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Sent = append(r.Sent, SentMessage{To: to, Body: body})
	return nil
}

func (r *RecordingService) Start(context.Context) error { return nil }
func (r *RecordingService) Stop() error                 { return nil }

// Last returns the most recent reply, failing the test when none was sent.
func (r *RecordingService) Last(t *testing.T) SentMessage {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Sent) == 0 {
		t.Fatal("no message was sent")
	}
	return r.Sent[len(r.Sent)-1]
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, what string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", what, expected, actual)
	}
}

// DecodeAPIResponse decodes the standard response envelope.
func DecodeAPIResponse(t *testing.T, rr *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	return resp
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// CloudTextWebhook builds a Cloud API webhook body carrying one text message.
func CloudTextWebhook(id, from, body string) []byte {
	msg := map[string]any{
		"id":        id,
		"from":      from,
		"timestamp": "1700000000",
		"type":      "text",
		"text":      map[string]string{"body": body},
	}
	payload := map[string]any{
		"object": "whatsapp_business_account",
		"entry": []any{map[string]any{
			"changes": []any{map[string]any{
				"field": "messages",
				"value": map[string]any{"messages": []any{msg}},
			}},
		}},
	}
	data, _ := json.Marshal(payload)
	return data
}
