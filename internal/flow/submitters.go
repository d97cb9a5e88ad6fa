package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/PayPipe/internal/finance"
	"github.com/BTreeMap/PayPipe/internal/models"
)

const unavailableReply = "Our payments partner is not responding right now."

// remoteFailure turns a financial API error into the reply for the user.
func remoteFailure(err error, conflictReply, restartHint string) error {
	switch {
	case errors.Is(err, finance.ErrConflict):
		return &SubmitError{Reply: conflictReply, Err: err}
	case errors.Is(err, finance.ErrUnavailable), errors.Is(err, finance.ErrNotConfigured),
		errors.Is(err, context.DeadlineExceeded):
		return &SubmitError{Reply: unavailableReply, Hint: restartHint, Retryable: true, Err: err}
	}
	if msg := finance.UserMessage(err); msg != "" {
		return &SubmitError{Reply: "The request was rejected: " + msg, Hint: restartHint, Err: err}
	}
	return &SubmitError{Reply: unavailableReply, Hint: restartHint, Retryable: true, Err: err}
}

// registrationSubmitter creates the remote account, persists the UserRecord
// and binds the WhatsApp identity to it.
type registrationSubmitter struct {
	api      FinanceAPI
	sm       StateManager
	userType models.UserType
}

func (s *registrationSubmitter) Submit(ctx context.Context, owner string, def *Definition, st *models.FlowState) (string, error) {
	payload := st.Nested(def.Groups())
	payload["user_type"] = string(s.userType)
	payload["whatsapp_number"] = owner

	var (
		acct *finance.Account
		err  error
	)
	if s.userType == models.UserTypeBusiness {
		acct, err = s.api.CreateBusinessAccount(ctx, payload)
	} else {
		acct, err = s.api.CreateIndividualAccount(ctx, payload)
	}
	if err != nil {
		return "", remoteFailure(err,
			"An account with this email already exists. To use it, send \"collect money\" or \"send money\" and verify with that email.",
			"Send \"register\" to start again.")
	}

	user := &models.UserRecord{
		UserID:   acct.ID,
		UserType: s.userType,
		FullName: fullName(s.userType, st.Data),
		Email:    st.Data["email"],
		Phone:    st.Data["phone"],
		Fields:   copyData(st.Data),
	}
	// The account exists remotely; local bookkeeping failures must not turn this into an error reply.
	if err := s.sm.SaveUser(ctx, user); err != nil {
		slog.Error("registrationSubmitter: failed to persist user record", "error", err, "owner", owner, "userID", acct.ID)
	}
	session := models.SessionMarker{Email: user.Email, UserID: user.UserID, VerifiedAt: user.LastAccessed}
	if err := s.sm.SetMarker(ctx, models.MarkerSession, owner, session); err != nil {
		slog.Error("registrationSubmitter: failed to bind session", "error", err, "owner", owner)
	}
	slog.Info("registrationSubmitter: account created", "owner", owner, "userID", acct.ID, "userType", s.userType)

	values := copyData(st.Data)
	values["account_id"] = acct.ID
	reply := render(def.Completion, values)

	var pending models.IntentMarker
	if found, err := s.sm.GetMarker(ctx, models.MarkerPendingMoneyIntent, owner, &pending); err == nil && found {
		reply = joinParagraphs(reply, fmt.Sprintf("You can now continue: send %q.", intentPhrase(pending.Intent)))
		if err := s.sm.DeleteMarker(ctx, models.MarkerPendingMoneyIntent, owner); err != nil {
			slog.Warn("registrationSubmitter: failed to clear money intent marker", "error", err, "owner", owner)
		}
	}
	return reply, nil
}

func fullName(ut models.UserType, data map[string]string) string {
	if ut == models.UserTypeBusiness {
		return data["business_name"]
	}
	return strings.TrimSpace(data["first_name"] + " " + data["last_name"])
}

func copyData(data map[string]string) map[string]string {
	out := make(map[string]string, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

func intentPhrase(i models.Intent) string {
	switch i {
	case models.IntentCollectMoney:
		return "collect money"
	case models.IntentSendMoney:
		return "send money"
	}
	return "help"
}

// collectMoneySubmitter uploads the cached invoice and opens a deposit order for it.
type collectMoneySubmitter struct {
	api FinanceAPI
	sm  StateManager
}

const collectRestartHint = "Please send \"collect money\" to start again."

func (s *collectMoneySubmitter) Submit(ctx context.Context, owner string, def *Definition, st *models.FlowState) (string, error) {
	var session models.SessionMarker
	found, err := s.sm.GetMarker(ctx, models.MarkerSession, owner, &session)
	if err != nil {
		return "", err
	}
	if !found {
		return "", &SubmitError{Reply: "Your verification has expired.", Hint: collectRestartHint}
	}
	var doc models.Document
	found, err = s.sm.GetMarker(ctx, models.MarkerDocument, owner, &doc)
	if err != nil {
		return "", err
	}
	if !found || len(doc.Data) == 0 {
		return "", &SubmitError{Reply: "The uploaded invoice has expired.", Hint: collectRestartHint}
	}

	amount, err := strconv.ParseFloat(st.Data["amount"], 64)
	if err != nil {
		return "", &SubmitError{Reply: "The amount could not be read.", Hint: collectRestartHint, Err: err}
	}

	inv, err := s.api.CreateInvoice(ctx, session.Email, doc.Filename, doc.Data)
	if err != nil {
		return "", remoteFailure(err, "This invoice has already been submitted.", collectRestartHint)
	}
	order, err := s.api.CreateDepositOrder(ctx, finance.DepositOrderRequest{
		Email:            session.Email,
		Amount:           amount,
		Currency:         st.Data["currency"],
		PurposeCode:      st.Data["purpose_code"],
		PaymentType:      st.Data["payment_type"],
		PayerEmail:       st.Data["payer_email"],
		InvoiceID:        inv.ID,
		PartnerReference: st.Data["partner_reference"],
		PaymentCode:      st.Data["payment_code"],
	})
	if err != nil {
		// The remote API has no invoice delete; the uploaded invoice stays
		// without an order and is reported here for manual cleanup.
		slog.Warn("collectMoneySubmitter: deposit order failed, invoice left without order", "owner", owner, "invoiceID", inv.ID, "error", err)
		return "", remoteFailure(err, "A payment request for this invoice already exists.", collectRestartHint)
	}
	slog.Info("collectMoneySubmitter: deposit order created", "owner", owner, "orderID", order.OrderID, "invoiceID", inv.ID)
	return render(def.Completion, map[string]string{
		"order_id":     order.OrderID,
		"payment_link": order.PaymentLink,
	}), nil
}

// quoteSubmitter fetches a read-only fiat-to-crypto quote.
type quoteSubmitter struct {
	api FinanceAPI
}

func (s *quoteSubmitter) Submit(ctx context.Context, _ string, _ *Definition, st *models.FlowState) (string, error) {
	amount, err := strconv.ParseFloat(st.Data["amount"], 64)
	if err != nil {
		return "", &SubmitError{Reply: "The amount could not be read. Send \"send money\" to start again.", Err: err}
	}
	q, err := s.api.GetFiatToCryptoQuote(ctx, finance.QuoteRequest{
		FiatCurrency:   st.Data["fiat_currency"],
		Amount:         amount,
		CryptoCurrency: st.Data["crypto_currency"],
		PaymentMethod:  st.Data["payment_method"],
	})
	if err != nil {
		return "", remoteFailure(err, "That quote could not be created.", "Send \"send money\" to start again.")
	}
	return formatQuote(q, st.Data["payment_method"]), nil
}

func formatQuote(q *finance.Quote, method string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Quote for %s %s paid by %s:\n", money(q.FiatAmount), q.FiatCurrency, strings.ReplaceAll(method, "_", " "))
	fmt.Fprintf(&b, "• Recipient gets: %s %s\n", strconv.FormatFloat(q.CryptoAmount, 'f', -1, 64), q.CryptoCurrency)
	if q.Rate > 0 {
		fmt.Fprintf(&b, "• Rate: 1 %s = %s %s\n", q.CryptoCurrency, money(q.Rate), q.FiatCurrency)
	}
	fmt.Fprintf(&b, "• Fee: %s %s\n", money(q.Fee), q.FiatCurrency)
	if q.MaxAmount > 0 {
		fmt.Fprintf(&b, "• Limits: %s to %s %s\n", money(q.MinAmount), money(q.MaxAmount), q.FiatCurrency)
	}
	if q.ExpiresAt != "" {
		fmt.Fprintf(&b, "• Valid until: %s\n", q.ExpiresAt)
	}
	b.WriteString("\nQuotes are indicative and may change.")
	return b.String()
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
