package flow

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/BTreeMap/PayPipe/internal/finance"
	"github.com/BTreeMap/PayPipe/internal/models"
)

func TestExchangeRateFlow(t *testing.T) {
	d := newTestDeps(t)
	ft := models.FlowTypeExchangeRates

	reply := startFlow(t, d, ft)
	if !strings.Contains(reply, "3-letter code") {
		t.Errorf("prompt = %q", reply)
	}

	reply = d.send(t, ft, owner, "XYZQ123")
	if !strings.Contains(reply, "not a valid currency code") {
		t.Errorf("reply = %q", reply)
	}
	if d.state(t, ft, owner) == nil {
		t.Fatal("invalid code must retain the waiting state")
	}

	reply = d.send(t, ft, owner, "PHP")
	if !strings.Contains(reply, "Deposit: 58.1200") || !strings.Contains(reply, "Withdraw: 57.8000") {
		t.Errorf("reply = %q", reply)
	}
	if d.state(t, ft, owner) != nil {
		t.Error("state should clear after a successful lookup")
	}
}

func TestExchangeRateFromTrigger(t *testing.T) {
	d := newTestDeps(t)
	reply, err := d.engines[models.FlowTypeExchangeRates].Start(context.Background(), owner, "what's the rate for php today?")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !strings.Contains(reply, "Exchange rates for PHP") {
		t.Errorf("reply = %q", reply)
	}
	if d.state(t, models.FlowTypeExchangeRates, owner) != nil {
		t.Error("no waiting state when the trigger names a currency")
	}
}

func TestExchangeRateUnavailableKeepsWaiting(t *testing.T) {
	d := newTestDeps(t)
	d.api.rateErr = fmt.Errorf("%w: timeout", finance.ErrUnavailable)
	ft := models.FlowTypeExchangeRates
	startFlow(t, d, ft)

	reply := d.send(t, ft, owner, "EUR")
	if !strings.Contains(reply, "temporarily unavailable") {
		t.Errorf("reply = %q", reply)
	}
	if d.state(t, ft, owner) == nil {
		t.Error("state should be kept for a retry")
	}
}

func TestExtractCurrencyCode(t *testing.T) {
	cases := map[string]string{
		"rate for PHP":          "PHP",
		"how much is the euro":  "",
		"usd to php":            "USD",
		"what are the rates":    "",
		"GBP?":                  "GBP",
	}
	for in, want := range cases {
		if got := ExtractCurrencyCode(in); got != want {
			t.Errorf("ExtractCurrencyCode(%q) = %q, want %q", in, got, want)
		}
	}
}
