package flow

import (
	"context"
	"testing"

	"github.com/BTreeMap/PayPipe/internal/finance"
	"github.com/BTreeMap/PayPipe/internal/models"
	"github.com/BTreeMap/PayPipe/internal/store"
	"github.com/BTreeMap/PayPipe/internal/validate"
)

// NewMockStateManager creates a state manager over an in-memory store for testing.
func NewMockStateManager() StateManager {
	return NewStoreBasedStateManager(store.NewInMemoryStore())
}

// mockFinance records calls and returns canned results.
type mockFinance struct {
	accountErr  error
	invoiceErr  error
	orderErr    error
	rateErr     error
	quoteErr    error
	payloads    []map[string]any
	invoices    []string
	orders      []finance.DepositOrderRequest
	rateQueries []string
	idemKeys    []string
}

func (m *mockFinance) CreateIndividualAccount(ctx context.Context, payload map[string]any) (*finance.Account, error) {
	key, _ := finance.IdempotencyKeyFrom(ctx)
	m.idemKeys = append(m.idemKeys, key)
	m.payloads = append(m.payloads, payload)
	if m.accountErr != nil {
		return nil, m.accountErr
	}
	return &finance.Account{ID: "acct_ind_1", Status: "active"}, nil
}

func (m *mockFinance) CreateBusinessAccount(ctx context.Context, payload map[string]any) (*finance.Account, error) {
	key, _ := finance.IdempotencyKeyFrom(ctx)
	m.idemKeys = append(m.idemKeys, key)
	m.payloads = append(m.payloads, payload)
	if m.accountErr != nil {
		return nil, m.accountErr
	}
	return &finance.Account{ID: "acct_biz_1", Status: "pending"}, nil
}

func (m *mockFinance) CreateInvoice(_ context.Context, email, filename string, _ []byte) (*finance.Invoice, error) {
	m.invoices = append(m.invoices, email+"|"+filename)
	if m.invoiceErr != nil {
		return nil, m.invoiceErr
	}
	return &finance.Invoice{ID: "inv_1"}, nil
}

func (m *mockFinance) CreateDepositOrder(_ context.Context, req finance.DepositOrderRequest) (*finance.DepositOrder, error) {
	m.orders = append(m.orders, req)
	if m.orderErr != nil {
		return nil, m.orderErr
	}
	return &finance.DepositOrder{OrderID: "ord_42", PaymentLink: "https://pay.example.com/ord_42?sig=a_b"}, nil
}

func (m *mockFinance) GetExchangeRate(_ context.Context, currency string) (*finance.ExchangeRate, error) {
	m.rateQueries = append(m.rateQueries, currency)
	if m.rateErr != nil {
		return nil, m.rateErr
	}
	return &finance.ExchangeRate{Currency: currency, DepositRate: 58.12, WithdrawRate: 57.8}, nil
}

func (m *mockFinance) GetFiatToCryptoQuote(_ context.Context, q finance.QuoteRequest) (*finance.Quote, error) {
	if m.quoteErr != nil {
		return nil, m.quoteErr
	}
	return &finance.Quote{FiatCurrency: q.FiatCurrency, FiatAmount: q.Amount, CryptoCurrency: q.CryptoCurrency, CryptoAmount: 86.2, Rate: 58, Fee: 12.5}, nil
}

type testDeps struct {
	sm      StateManager
	api     *mockFinance
	engines Engines
	defs    Definitions
}

func newTestDeps(t *testing.T) *testDeps {
	t.Helper()
	reg := validate.NewRegistry()
	defs, err := DefaultDefinitions(reg)
	if err != nil {
		t.Fatalf("DefaultDefinitions failed: %v", err)
	}
	sm := NewMockStateManager()
	api := &mockFinance{}
	engines, err := NewEngines(defs, sm, reg, api)
	if err != nil {
		t.Fatalf("NewEngines failed: %v", err)
	}
	return &testDeps{sm: sm, api: api, engines: engines, defs: defs}
}

// send feeds one text message to the active flow and returns the reply.
func (d *testDeps) send(t *testing.T, ft models.FlowType, owner, text string) string {
	t.Helper()
	return d.deliver(t, ft, owner, &models.Message{ID: "m", From: owner, Body: text})
}

func (d *testDeps) deliver(t *testing.T, ft models.FlowType, owner string, msg *models.Message) string {
	t.Helper()
	ctx := context.Background()
	st, err := d.sm.GetFlow(ctx, ft, owner)
	if err != nil {
		t.Fatalf("GetFlow failed: %v", err)
	}
	if st == nil {
		t.Fatalf("user %s is not in flow %s", owner, ft)
	}
	reply, err := d.engines[ft].Handle(ctx, owner, msg, st)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	return reply
}

func (d *testDeps) state(t *testing.T, ft models.FlowType, owner string) *models.FlowState {
	t.Helper()
	st, err := d.sm.GetFlow(context.Background(), ft, owner)
	if err != nil {
		t.Fatalf("GetFlow failed: %v", err)
	}
	return st
}

const validIndividualBulk = `Ada
Lovelace
Ada@Example.com
+44 7700 900123
10-12-1985
GB
12 St James's Square
London
Greater London
SW1Y 4JH
GB`
