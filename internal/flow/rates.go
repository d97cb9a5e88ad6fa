package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/BTreeMap/PayPipe/internal/finance"
	"github.com/BTreeMap/PayPipe/internal/models"
	"github.com/BTreeMap/PayPipe/internal/validate"
)

// knownCurrencies gates code extraction from free text so that ordinary
// three-letter words ("the", "for") are not mistaken for currencies.
var knownCurrencies = map[string]bool{
	"AED": true, "ARS": true, "AUD": true, "BDT": true, "BRL": true, "CAD": true, "CHF": true,
	"CLP": true, "CNY": true, "COP": true, "CZK": true, "DKK": true, "EGP": true, "EUR": true,
	"GBP": true, "GHS": true, "HKD": true, "IDR": true, "ILS": true, "INR": true, "JPY": true,
	"KES": true, "KRW": true, "LKR": true, "MXN": true, "MYR": true, "NGN": true, "NOK": true,
	"NPR": true, "NZD": true, "PEN": true, "PHP": true, "PKR": true, "PLN": true, "SAR": true,
	"SEK": true, "SGD": true, "THB": true, "TRY": true, "TWD": true, "UGX": true, "USD": true,
	"VND": true, "XAF": true, "XOF": true, "ZAR": true,
}

// ExtractCurrencyCode returns the first known ISO 4217 code mentioned in text, or "".
func ExtractCurrencyCode(text string) string {
	words := strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) })
	for _, w := range words {
		if len(w) != 3 {
			continue
		}
		if code := strings.ToUpper(w); knownCurrencies[code] {
			return code
		}
	}
	return ""
}

// RateEngine answers exchange-rate questions. It has no confirmation step:
// a valid code is fetched immediately and the state cleared.
type RateEngine struct {
	def *Definition
	sm  StateManager
	reg *validate.Registry
	api FinanceAPI
}

var _ Engine = (*RateEngine)(nil)

// NewRateEngine creates the exchange-rate engine.
func NewRateEngine(def *Definition, sm StateManager, reg *validate.Registry, api FinanceAPI) *RateEngine {
	return &RateEngine{def: def, sm: sm, reg: reg, api: api}
}

func (e *RateEngine) Type() models.FlowType { return models.FlowTypeExchangeRates }

// Start answers at once when trigger names a currency, otherwise waits for one.
func (e *RateEngine) Start(ctx context.Context, owner, trigger string) (string, error) {
	if err := e.sm.ClearFlows(ctx, owner, models.FlowTypeExchangeRates); err != nil {
		return "", err
	}
	if code := ExtractCurrencyCode(trigger); code != "" {
		return e.lookup(ctx, owner, code)
	}
	st := models.NewFlowState(owner, models.FlowTypeExchangeRates)
	if err := e.sm.SetFlow(ctx, models.FlowTypeExchangeRates, owner, st); err != nil {
		return "", err
	}
	return e.prompt(), nil
}

// Handle validates the awaited currency code.
func (e *RateEngine) Handle(ctx context.Context, owner string, msg *models.Message, _ *models.FlowState) (string, error) {
	field := e.def.Fields[0]
	text := msg.Text()
	res := e.reg.Validate(ctx, field.Kind, text, field.Rules())
	if !res.Valid {
		return joinParagraphs(fmt.Sprintf("%q is not a valid currency code.", text), e.prompt()), nil
	}
	return e.lookup(ctx, owner, res.Value)
}

func (e *RateEngine) lookup(ctx context.Context, owner, code string) (string, error) {
	rate, err := e.api.GetExchangeRate(ctx, code)
	if err != nil {
		slog.Warn("RateEngine.lookup: rate fetch failed", "owner", owner, "currency", code, "error", err)
		// Wait for a code so the user can simply resend one.
		if err := e.sm.SetFlow(ctx, models.FlowTypeExchangeRates, owner, models.NewFlowState(owner, models.FlowTypeExchangeRates)); err != nil {
			return "", err
		}
		var apiErr *finance.APIError
		if errors.As(err, &apiErr) && !errors.Is(err, finance.ErrUnavailable) {
			return fmt.Sprintf("I couldn't find rates for %s. Please try another currency code.", code), nil
		}
		return fmt.Sprintf("Rates are temporarily unavailable. Please send %s again in a moment.", code), nil
	}
	if err := e.sm.SetFlow(ctx, models.FlowTypeExchangeRates, owner, nil); err != nil {
		return "", err
	}
	return fmt.Sprintf("Exchange rates for %s:\n• Deposit: %s\n• Withdraw: %s",
		rate.Currency, formatRate(rate.DepositRate), formatRate(rate.WithdrawRate)), nil
}

func (e *RateEngine) prompt() string {
	return fieldPrompt(e.def.Fields[0])
}

func formatRate(v float64) string {
	return fmt.Sprintf("%.4f", v)
}
