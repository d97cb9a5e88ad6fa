package router

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/PayPipe/internal/flow"
	"github.com/BTreeMap/PayPipe/internal/models"
	"github.com/BTreeMap/PayPipe/internal/store"
	"github.com/BTreeMap/PayPipe/internal/testutil"
	"github.com/BTreeMap/PayPipe/internal/validate"
)

const owner = "+15550002222"

const individualBulk = `Ada
Lovelace
ada@example.com
+44 7700 900123
10-12-1985
GB
12 St James's Square
London
Greater London
SW1Y 4JH
GB`

type harness struct {
	r  *Router
	sm flow.StateManager
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	reg := validate.NewRegistry()
	defs, err := flow.DefaultDefinitions(reg)
	if err != nil {
		t.Fatalf("DefaultDefinitions failed: %v", err)
	}
	sm := flow.NewStoreBasedStateManager(store.NewInMemoryStore())
	engines, err := flow.NewEngines(defs, sm, reg, &testutil.FakeFinance{})
	if err != nil {
		t.Fatalf("NewEngines failed: %v", err)
	}
	return &harness{r: New(sm, engines, defs, opts...), sm: sm}
}

func (h *harness) say(t *testing.T, text string) string {
	t.Helper()
	reply, err := h.r.Handle(context.Background(), &models.Message{ID: "wamid.x", From: owner, Body: text})
	if err != nil {
		t.Fatalf("Handle(%q) failed: %v", text, err)
	}
	return reply
}

func (h *harness) inFlow(t *testing.T, ft models.FlowType) bool {
	t.Helper()
	ok, err := h.sm.HasFlow(context.Background(), ft, owner)
	if err != nil {
		t.Fatalf("HasFlow failed: %v", err)
	}
	return ok
}

func (h *harness) marker(t *testing.T, kind models.MarkerKind) (models.IntentMarker, bool) {
	t.Helper()
	var m models.IntentMarker
	found, err := h.sm.GetMarker(context.Background(), kind, owner, &m)
	if err != nil {
		t.Fatalf("GetMarker failed: %v", err)
	}
	return m, found
}

func TestIsExit(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"cancel", true},
		{"CANCEL!", true},
		{"cancel, I want to send money", true},
		{"Never mind", true},
		{"stop please", true},
		{"I want to cancel my order", false},
		{"send money", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsExit(tt.text); got != tt.want {
			t.Errorf("IsExit(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestKeywordIntent(t *testing.T) {
	tests := []struct {
		text string
		want models.Intent
	}{
		{"I want to collect money", models.IntentCollectMoney},
		{"how do I get paid for this invoice", models.IntentCollectMoney},
		{"what's the rate for PHP", models.IntentExchangeRate},
		{"send money to my mum", models.IntentSendMoney},
		{"I'd like to buy USDT", models.IntentSendMoney},
		{"how do I sign up", models.IntentRegister},
		{"hello there", models.IntentGeneral},
	}
	for _, tt := range tests {
		if got := KeywordIntent(tt.text); got != tt.want {
			t.Errorf("KeywordIntent(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestFallbackRecordsBoundedHistory(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 8; i++ {
		if reply := h.say(t, "hello"); reply != TextMenu {
			t.Fatalf("reply = %q, want the menu", reply)
		}
	}
	hist, err := h.sm.History(context.Background(), owner)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(hist) != models.MaxHistoryEntries {
		t.Errorf("history length = %d, want %d", len(hist), models.MaxHistoryEntries)
	}
	if hist[0].Role != "user" || hist[1].Role != "assistant" {
		t.Errorf("unexpected roles %q, %q", hist[0].Role, hist[1].Role)
	}
}

func TestIndividualRegistrationEndToEnd(t *testing.T) {
	h := newHarness(t)

	reply := h.say(t, "register")
	if !strings.Contains(reply, "personal account") {
		t.Fatalf("start reply = %q", reply)
	}
	reply = h.say(t, individualBulk)
	if !strings.Contains(reply, "Please review your details") {
		t.Fatalf("bulk reply = %q, want confirmation", reply)
	}
	reply = h.say(t, "CONFIRM")
	if !strings.Contains(reply, "Your personal account is ready, Ada. Account ID: acct_ind_1") {
		t.Fatalf("completion reply = %q", reply)
	}
	if h.inFlow(t, models.FlowTypeIndividualRegistration) {
		t.Error("flow should be cleared after completion")
	}
	user, err := h.sm.GetUser(context.Background(), "ADA@example.com")
	if err != nil || user == nil {
		t.Fatalf("GetUser = %v, %v", user, err)
	}
	var session models.SessionMarker
	if found, _ := h.sm.GetMarker(context.Background(), models.MarkerSession, owner, &session); !found || session.UserID != "acct_ind_1" {
		t.Errorf("session = %+v (found %v)", session, found)
	}
}

func TestRegisterBusinessCommand(t *testing.T) {
	h := newHarness(t)
	h.say(t, "Register my company")
	if !h.inFlow(t, models.FlowTypeBusinessRegistration) {
		t.Fatal("business registration should be active")
	}
}

func TestExitBeatsMoneyKeywordsInsideFlow(t *testing.T) {
	classifier := &testutil.StubClassifier{Label: string(models.IntentSendMoney)}
	h := newHarness(t, WithClassifier(classifier))
	h.say(t, "register")

	reply := h.say(t, "cancel, I want to send money")
	if !strings.HasPrefix(reply, TextCancelled) {
		t.Fatalf("reply = %q, want cancellation", reply)
	}
	if h.inFlow(t, models.FlowTypeIndividualRegistration) {
		t.Error("registration should be cleared")
	}
	if classifier.Calls != 0 {
		t.Errorf("classifier called %d times, want 0", classifier.Calls)
	}
	if _, found := h.marker(t, models.MarkerPendingVerification); found {
		t.Error("no verification should be pending")
	}
}

func TestActiveFlowBeatsCommands(t *testing.T) {
	h := newHarness(t)
	h.say(t, "send money")
	h.say(t, "ada@example.com")
	h.say(t, "1")
	// "help" inside a bulk registration is treated as flow input.
	reply := h.say(t, "help")
	if reply == TextHelp {
		t.Error("commands must not preempt an active flow")
	}
}

func TestMoneyIntentUnknownEmailLeadsToRegistration(t *testing.T) {
	h := newHarness(t)

	reply := h.say(t, "I want to send money")
	if !strings.Contains(reply, TextAskEmail) {
		t.Fatalf("reply = %q, want email request", reply)
	}
	reply = h.say(t, "not-an-email")
	if !strings.HasPrefix(reply, TextBadEmail) {
		t.Fatalf("reply = %q, want email rejection", reply)
	}
	reply = h.say(t, "ada@example.com")
	if !strings.Contains(reply, "I couldn't find an account for ada@example.com") {
		t.Fatalf("reply = %q", reply)
	}
	m, found := h.marker(t, models.MarkerPendingMoneyIntent)
	if !found || !m.Awaiting || m.Intent != models.IntentSendMoney {
		t.Fatalf("money intent marker = %+v (found %v)", m, found)
	}

	h.say(t, "personal")
	if !h.inFlow(t, models.FlowTypeIndividualRegistration) {
		t.Fatal("individual registration should be active")
	}
	if m, _ := h.marker(t, models.MarkerPendingMoneyIntent); m.Awaiting {
		t.Error("money intent should no longer await an answer")
	}

	h.say(t, individualBulk)
	reply = h.say(t, "confirm")
	if !strings.Contains(reply, `You can now continue: send "send money".`) {
		t.Errorf("completion reply = %q, want money intent hint", reply)
	}
	if _, found := h.marker(t, models.MarkerPendingMoneyIntent); found {
		t.Error("money intent marker should be consumed")
	}
}

func TestMoneyIntentKnownEmailStartsFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.sm.SaveUser(ctx, &models.UserRecord{UserID: "acct_9", UserType: models.UserTypeIndividual, FullName: "Ada Lovelace", Email: "ada@example.com"}); err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}

	h.say(t, "collect money")
	reply := h.say(t, "Ada@Example.com")
	if !strings.HasPrefix(reply, "Welcome back, Ada Lovelace!") {
		t.Fatalf("reply = %q", reply)
	}
	if !h.inFlow(t, models.FlowTypeCollectMoney) {
		t.Fatal("collect money should be active")
	}
	if _, found := h.marker(t, models.MarkerPendingVerification); found {
		t.Error("verification marker should be cleared")
	}

	// Exit drops the session binding, so the next money intent verifies again.
	h.say(t, "cancel")
	if _, found := h.marker(t, models.MarkerSession); found {
		t.Error("session binding should not survive exit")
	}
	if reply := h.say(t, "collect money"); !strings.Contains(reply, TextAskEmail) {
		t.Errorf("reply = %q, want email request after exit", reply)
	}
}

func TestBoundSessionSkipsVerification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.sm.SetMarker(ctx, models.MarkerSession, owner, models.SessionMarker{Email: "ada@example.com", UserID: "acct_9"}); err != nil {
		t.Fatalf("SetMarker failed: %v", err)
	}
	h.say(t, "collect money")
	if !h.inFlow(t, models.FlowTypeCollectMoney) {
		t.Error("verified user should go straight into the flow")
	}
}

func TestExitClearsEveryNamespace(t *testing.T) {
	h := newHarness(t)

	h.say(t, "hello there")
	h.say(t, "register")
	h.say(t, individualBulk)
	h.say(t, "confirm")
	if _, found := h.marker(t, models.MarkerSession); !found {
		t.Fatal("registration should bind the session")
	}
	h.say(t, "register business")
	if !h.inFlow(t, models.FlowTypeBusinessRegistration) {
		t.Fatal("business registration should be active")
	}

	if reply := h.say(t, "exit"); !strings.HasPrefix(reply, TextCancelled) {
		t.Fatalf("reply = %q", reply)
	}
	for _, ft := range models.FlowPriority {
		if h.inFlow(t, ft) {
			t.Errorf("flow %s survived exit", ft)
		}
	}
	for _, kind := range models.AllMarkers {
		var raw json.RawMessage
		found, err := h.sm.GetMarker(context.Background(), kind, owner, &raw)
		if err != nil {
			t.Fatalf("GetMarker(%s) failed: %v", kind, err)
		}
		if found {
			t.Errorf("marker %s survived exit: %s", kind, raw)
		}
	}
}

func TestVerificationRegisterReply(t *testing.T) {
	h := newHarness(t)
	h.say(t, "send money")
	reply := h.say(t, "register")
	if reply != TextAskUserType {
		t.Fatalf("reply = %q, want user type question", reply)
	}
	h.say(t, "2")
	if !h.inFlow(t, models.FlowTypeBusinessRegistration) {
		t.Error("business registration should be active")
	}
}

func TestRegisterIntentAsksUserType(t *testing.T) {
	h := newHarness(t, WithClassifier(&testutil.StubClassifier{Label: string(models.IntentRegister)}))
	reply := h.say(t, "I'd like to open an account with you")
	if reply != TextAskUserType {
		t.Fatalf("reply = %q", reply)
	}
	reply = h.say(t, "hmm")
	if !strings.Contains(reply, "didn't catch that") {
		t.Errorf("reply = %q, want a repeat of the question", reply)
	}
	h.say(t, "a business")
	if !h.inFlow(t, models.FlowTypeBusinessRegistration) {
		t.Error("business registration should be active")
	}
	if _, found := h.marker(t, models.MarkerPendingRegistrationType); found {
		t.Error("registration type marker should be cleared")
	}
}

func TestClassifierLabelOutsideSetFallsBackToKeywords(t *testing.T) {
	classifier := &testutil.StubClassifier{Label: "money_transfer"}
	h := newHarness(t, WithClassifier(classifier))
	reply := h.say(t, "I want to send money")
	if !strings.Contains(reply, TextAskEmail) {
		t.Errorf("reply = %q, want email request from keyword routing", reply)
	}
	if classifier.Calls != 1 {
		t.Errorf("classifier called %d times, want 1", classifier.Calls)
	}
}

func TestClassifierFailureFallsBackToKeywords(t *testing.T) {
	h := newHarness(t, WithClassifier(&testutil.StubClassifier{Err: errors.New("timeout")}))
	reply := h.say(t, "exchange rate for PHP please")
	if !strings.HasPrefix(reply, "Exchange rates for PHP:") {
		t.Errorf("reply = %q", reply)
	}
}

func TestExchangeRates(t *testing.T) {
	h := newHarness(t)

	reply := h.say(t, "rates PHP")
	if !strings.Contains(reply, "• Deposit: 58.1200") {
		t.Fatalf("reply = %q", reply)
	}
	if h.inFlow(t, models.FlowTypeExchangeRates) {
		t.Error("rates need no confirmation and should leave no state")
	}

	reply = h.say(t, "exchange rate")
	if !h.inFlow(t, models.FlowTypeExchangeRates) {
		t.Fatalf("should wait for a code, got %q", reply)
	}
	reply = h.say(t, "XYZQ123")
	if !strings.Contains(reply, `"XYZQ123" is not a valid currency code.`) {
		t.Errorf("reply = %q", reply)
	}
	reply = h.say(t, "eur")
	if !strings.HasPrefix(reply, "Exchange rates for EUR:") {
		t.Errorf("reply = %q", reply)
	}
}

func TestCommands(t *testing.T) {
	h := newHarness(t)

	if reply := h.say(t, "Help"); reply != TextHelp {
		t.Errorf("help reply = %q", reply)
	}
	if reply := h.say(t, "status"); !strings.Contains(reply, "not in the middle of anything") || !strings.Contains(reply, "Not verified") {
		t.Errorf("status reply = %q", reply)
	}

	h.say(t, "register")
	if reply := h.say(t, "cancel"); !strings.HasPrefix(reply, TextCancelled) {
		t.Errorf("cancel reply = %q", reply)
	}

	h.say(t, "send money")
	if reply := h.say(t, "reset"); reply != TextReset+"\n\n"+TextMenu {
		t.Errorf("reset reply = %q", reply)
	}
	if _, found := h.marker(t, models.MarkerPendingVerification); found {
		t.Error("reset should clear the pending email question")
	}
}

func TestStatusListsActiveFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	st := models.NewFlowState(owner, models.FlowTypeFiatToCrypto)
	st.Step = models.InProgress(2)
	if err := h.sm.SetFlow(ctx, models.FlowTypeFiatToCrypto, owner, st); err != nil {
		t.Fatalf("SetFlow failed: %v", err)
	}
	reply, err := h.r.status(ctx, owner)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.Contains(reply, "Fiat to crypto quote: item 3 of 4") {
		t.Errorf("status = %q", reply)
	}
}

func TestResetClearsPendingQuestions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.sm.SetMarker(ctx, models.MarkerPendingMoneyIntent, owner, models.IntentMarker{Intent: models.IntentSendMoney}); err != nil {
		t.Fatalf("SetMarker failed: %v", err)
	}
	if reply := h.say(t, "reset"); reply != TextReset+"\n\n"+TextMenu {
		t.Fatalf("reply = %q", reply)
	}
	if _, found := h.marker(t, models.MarkerPendingMoneyIntent); found {
		t.Error("reset should clear the parked money intent")
	}
}

func TestHandleRejectsInvalidMessage(t *testing.T) {
	h := newHarness(t)
	if _, err := h.r.Handle(context.Background(), &models.Message{ID: "x", Body: "hi"}); err == nil {
		t.Error("expected an error for a message without a sender")
	}
}
