package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/BTreeMap/PayPipe/internal/finance"
	"github.com/BTreeMap/PayPipe/internal/models"
	"github.com/BTreeMap/PayPipe/internal/validate"
)

// MaxDocumentBytes bounds an uploaded document.
const MaxDocumentBytes = 10 << 20

// Engine drives users through one flow type.
type Engine interface {
	Type() models.FlowType
	// Start puts the user at the beginning of the flow. trigger is the message
	// that started it, which some flows mine for values.
	Start(ctx context.Context, owner, trigger string) (string, error)
	// Handle advances an active flow with one inbound message.
	Handle(ctx context.Context, owner string, msg *models.Message, state *models.FlowState) (string, error)
}

// FinanceAPI is the subset of the financial API the flows call.
type FinanceAPI interface {
	CreateIndividualAccount(ctx context.Context, payload map[string]any) (*finance.Account, error)
	CreateBusinessAccount(ctx context.Context, payload map[string]any) (*finance.Account, error)
	CreateInvoice(ctx context.Context, email, filename string, document []byte) (*finance.Invoice, error)
	CreateDepositOrder(ctx context.Context, req finance.DepositOrderRequest) (*finance.DepositOrder, error)
	GetExchangeRate(ctx context.Context, currency string) (*finance.ExchangeRate, error)
	GetFiatToCryptoQuote(ctx context.Context, q finance.QuoteRequest) (*finance.Quote, error)
}

var _ FinanceAPI = (*finance.Client)(nil)

// Submitter performs the terminal action of a flow once the user confirms.
type Submitter interface {
	Submit(ctx context.Context, owner string, def *Definition, state *models.FlowState) (string, error)
}

// SubmitError is a submission failure with the reply the user should see.
// Hint tells the user how to start over and is only shown when the flow is cleared.
type SubmitError struct {
	Reply     string
	Hint      string
	Retryable bool
	Err       error
}

func (e *SubmitError) Error() string {
	if e.Err == nil {
		return e.Reply
	}
	return e.Err.Error()
}

func (e *SubmitError) Unwrap() error { return e.Err }

// Engines indexes the engine of every flow type.
type Engines map[models.FlowType]Engine

// NewEngines wires every built-in flow.
func NewEngines(defs Definitions, sm StateManager, reg *validate.Registry, api FinanceAPI) (Engines, error) {
	submitters := map[models.FlowType]Submitter{
		models.FlowTypeIndividualRegistration: &registrationSubmitter{api: api, sm: sm, userType: models.UserTypeIndividual},
		models.FlowTypeBusinessRegistration:   &registrationSubmitter{api: api, sm: sm, userType: models.UserTypeBusiness},
		models.FlowTypeCollectMoney:           &collectMoneySubmitter{api: api, sm: sm},
		models.FlowTypeFiatToCrypto:           &quoteSubmitter{api: api},
	}
	engines := Engines{}
	for ft, sub := range submitters {
		def, ok := defs[ft]
		if !ok {
			return nil, fmt.Errorf("no definition for flow %s", ft)
		}
		engines[ft] = NewStepEngine(def, sm, reg, sub)
	}
	rates, ok := defs[models.FlowTypeExchangeRates]
	if !ok {
		return nil, fmt.Errorf("no definition for flow %s", models.FlowTypeExchangeRates)
	}
	engines[models.FlowTypeExchangeRates] = NewRateEngine(rates, sm, reg, api)
	return engines, nil
}

// StepEngine is the shared state machine of every confirmable flow:
// absent -> InProgress(0..N-1) -> Confirming -> absent.
type StepEngine struct {
	def    *Definition
	sm     StateManager
	reg    *validate.Registry
	submit Submitter
}

var _ Engine = (*StepEngine)(nil)

// NewStepEngine creates an engine for def.
func NewStepEngine(def *Definition, sm StateManager, reg *validate.Registry, submit Submitter) *StepEngine {
	return &StepEngine{def: def, sm: sm, reg: reg, submit: submit}
}

func (e *StepEngine) Type() models.FlowType { return e.def.Type }

// Definition returns the flow definition the engine runs.
func (e *StepEngine) Definition() *Definition { return e.def }

// Start clears any other flow of the user and begins this one.
func (e *StepEngine) Start(ctx context.Context, owner, _ string) (string, error) {
	if err := e.sm.ClearFlows(ctx, owner, e.def.Type); err != nil {
		return "", err
	}
	if e.hasDocument() {
		if err := e.sm.DeleteMarker(ctx, models.MarkerDocument, owner); err != nil {
			return "", err
		}
	}
	if err := e.sm.SetFlow(ctx, e.def.Type, owner, models.NewFlowState(owner, e.def.Type)); err != nil {
		return "", err
	}
	slog.Info("StepEngine.Start: flow started", "owner", owner, "flowType", e.def.Type)
	return joinParagraphs(e.def.Welcome, e.prompt(0)), nil
}

// Handle advances the flow with one message.
func (e *StepEngine) Handle(ctx context.Context, owner string, msg *models.Message, st *models.FlowState) (string, error) {
	if st.Step.IsConfirming() {
		return e.handleConfirmation(ctx, owner, msg, st)
	}
	i := st.Step.Index()
	if i >= len(e.def.Fields) {
		slog.Warn("StepEngine.Handle: step beyond field list, restarting", "owner", owner, "flowType", e.def.Type, "step", i)
		return e.Start(ctx, owner, "")
	}
	if e.def.Fields[i].IsDocument() {
		return e.handleDocument(ctx, owner, msg, st, i)
	}
	if msg.HasDocument() {
		return joinParagraphs("I was expecting a text reply here, not a file.", e.prompt(i)), nil
	}

	segment := e.def.bulkSegment(i)
	values, problems := e.collect(ctx, segment, msg.Text())
	if len(problems) > 0 {
		return e.rejection(i, segment, problems), nil
	}
	for k, v := range values {
		st.Data[k] = v
	}
	return e.advance(ctx, owner, st, i+len(segment), "")
}

func (e *StepEngine) advance(ctx context.Context, owner string, st *models.FlowState, next int, ack string) (string, error) {
	if next >= len(e.def.Fields) {
		st.Step = models.Confirming()
	} else {
		st.Step = models.InProgress(next)
	}
	if err := e.sm.SetFlow(ctx, e.def.Type, owner, st); err != nil {
		return "", err
	}
	if st.Step.IsConfirming() {
		return joinParagraphs(ack, e.confirmationPrompt(st)), nil
	}
	return joinParagraphs(ack, e.prompt(next)), nil
}

func (e *StepEngine) handleDocument(ctx context.Context, owner string, msg *models.Message, st *models.FlowState, i int) (string, error) {
	field := e.def.Fields[i]
	if !msg.HasDocument() {
		return fmt.Sprintf("Please upload the %s as a document (PDF or image). Send CANCEL to stop.", strings.ToLower(field.Label)), nil
	}
	doc := *msg.Document
	if len(doc.Data) == 0 {
		return "I couldn't read that file. Please upload it again.", nil
	}
	if len(doc.Data) > MaxDocumentBytes {
		return fmt.Sprintf("That file is too large. Please upload a file under %d MB.", MaxDocumentBytes>>20), nil
	}
	if doc.Filename == "" {
		doc.Filename = field.Name
	}
	if err := e.sm.SetMarker(ctx, models.MarkerDocument, owner, doc); err != nil {
		return "", err
	}
	st.Data[field.Name] = doc.Filename
	return e.advance(ctx, owner, st, i+1, fmt.Sprintf("Got it: %s.", doc.Filename))
}

func (e *StepEngine) handleConfirmation(ctx context.Context, owner string, msg *models.Message, st *models.FlowState) (string, error) {
	switch strings.ToLower(strings.Trim(msg.Text(), " .!")) {
	case "confirm", "yes", "y":
		return e.submitState(ctx, owner, st)
	case "edit":
		if e.hasDocument() {
			if err := e.sm.DeleteMarker(ctx, models.MarkerDocument, owner); err != nil {
				return "", err
			}
		}
		st.Data = map[string]string{}
		st.Step = models.InProgress(0)
		if err := e.sm.SetFlow(ctx, e.def.Type, owner, st); err != nil {
			return "", err
		}
		return joinParagraphs("No problem, let's start again.", e.prompt(0)), nil
	}
	return e.confirmationPrompt(st), nil
}

func (e *StepEngine) submitState(ctx context.Context, owner string, st *models.FlowState) (string, error) {
	ctx = finance.WithIdempotencyKey(ctx, submissionKey(st))
	reply, err := e.submit.Submit(ctx, owner, e.def, st)
	if err == nil {
		slog.Info("StepEngine.submit: flow completed", "owner", owner, "flowType", e.def.Type)
		return reply, e.clear(ctx, owner)
	}

	var se *SubmitError
	if !errors.As(err, &se) {
		return "", err
	}
	slog.Warn("StepEngine.submit: submission failed", "owner", owner, "flowType", e.def.Type, "retryable", se.Retryable, "error", se.Err)
	if se.Retryable && e.def.PreserveOnUnavailable {
		if err := e.sm.SetFlow(ctx, e.def.Type, owner, st); err != nil {
			return "", err
		}
		return joinParagraphs(se.Reply, "Your details are saved. Reply CONFIRM to try again or CANCEL to exit."), nil
	}
	return joinParagraphs(se.Reply, se.Hint), e.clear(ctx, owner)
}

// submissionKey identifies one submission of st: the same owner, flow run
// and collected data always yield the same key, so a CONFIRM resent after a
// timeout can be deduplicated remotely while an edited resubmission cannot.
func submissionKey(st *models.FlowState) string {
	keys := make([]string, 0, len(st.Data))
	for k := range st.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s", st.OwnerID, st.FlowType, st.StartedAt.UTC().Format(time.RFC3339Nano))
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, st.Data[k])
	}
	return b.String()
}

func (e *StepEngine) clear(ctx context.Context, owner string) error {
	if err := e.sm.SetFlow(ctx, e.def.Type, owner, nil); err != nil {
		return err
	}
	if e.hasDocument() {
		return e.sm.DeleteMarker(ctx, models.MarkerDocument, owner)
	}
	return nil
}

func (e *StepEngine) hasDocument() bool {
	for _, f := range e.def.Fields {
		if f.IsDocument() {
			return true
		}
	}
	return false
}

// collect validates the values for a segment. Nothing is returned as
// accepted unless every field in the segment is valid.
func (e *StepEngine) collect(ctx context.Context, segment []Field, text string) (map[string]string, []string) {
	if len(segment) == 1 {
		f := segment[0]
		raw, problem := stripLabel(text, 0, f, segment)
		if problem != "" {
			return nil, []string{problem}
		}
		res := e.reg.Validate(ctx, f.Kind, raw, f.Rules())
		if !res.Valid {
			return nil, []string{res.Message}
		}
		return map[string]string{f.Name: res.Value}, nil
	}
	return parseBulk(ctx, e.reg, segment, text)
}

func (e *StepEngine) rejection(i int, segment []Field, problems []string) string {
	if len(segment) == 1 {
		return joinParagraphs(problems[0], e.prompt(i))
	}
	var b strings.Builder
	b.WriteString("Some details need fixing:\n")
	for _, p := range problems {
		b.WriteString("• " + p + "\n")
	}
	b.WriteString(fmt.Sprintf("\nNothing was saved. Please send all %d lines again in the same order.", len(segment)))
	return joinParagraphs(b.String(), e.prompt(i))
}
