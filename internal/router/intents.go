package router

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/PayPipe/internal/models"
	"github.com/BTreeMap/PayPipe/internal/util"
)

const intentInstructions = `You route messages sent to a WhatsApp payments assistant.
send_money: the user wants to send, transfer or remit money, buy crypto, or get a quote.
collect_money: the user wants to get paid, request a payment, or bill someone with an invoice.
exchange_rate: the user asks about exchange rates or currency conversion.
register: the user wants to sign up or open an account.
general: anything else, including greetings.`

// classifyIntent asks the classifier and falls back to keywords when it
// fails or answers outside models.Intents.
func (r *Router) classifyIntent(ctx context.Context, text string) models.Intent {
	if r.classifier != nil {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		labels := make([]string, len(models.Intents))
		for i, in := range models.Intents {
			labels[i] = string(in)
		}
		label, err := r.classifier.Classify(ctx, intentInstructions, text, labels)
		switch {
		case err != nil:
			slog.Warn("Router.classifyIntent: classifier failed, using keywords", "error", err)
		case !knownIntent(label):
			slog.Warn("Router.classifyIntent: label outside the intent set, using keywords", "label", label)
		default:
			slog.Debug("Router.classifyIntent: classified", "intent", label)
			return models.Intent(label)
		}
	}
	return KeywordIntent(text)
}

func knownIntent(label string) bool {
	for _, in := range models.Intents {
		if string(in) == label {
			return true
		}
	}
	return false
}

// KeywordIntent is the deterministic intent fallback.
func KeywordIntent(text string) models.Intent {
	switch {
	case util.HasAnyToken(text, "collect", "invoice", "invoices", "receive", "bill") ||
		util.ContainsAnyPhrase(text, "get paid", "request payment", "request a payment", "payment link"):
		return models.IntentCollectMoney
	case util.HasAnyToken(text, "rate", "rates", "exchange", "fx", "convert", "conversion"):
		return models.IntentExchangeRate
	case util.HasAnyToken(text, "send", "transfer", "remit", "remittance", "pay", "crypto", "usdt", "usdc", "quote"):
		return models.IntentSendMoney
	case util.HasAnyToken(text, "signup", "account") || util.ContainsAnyPhrase(text, "sign up", "open an account", "create an account"):
		return models.IntentRegister
	}
	return models.IntentGeneral
}
