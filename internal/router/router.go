// Package router decides which handler owns an inbound message.
//
// Priority, highest first:
//  1. an active flow (exit keywords are checked before the flow sees the text)
//  2. a pending marker: email verification, registration type, money-intent user type
//  3. commands: register, help/commands, status, reset
//  4. classified intent, with a keyword fallback when the classifier fails
//  5. the capabilities menu, recorded in the rolling history
package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/PayPipe/internal/flow"
	"github.com/BTreeMap/PayPipe/internal/models"
	"github.com/BTreeMap/PayPipe/internal/util"
	"github.com/BTreeMap/PayPipe/internal/validate"
)

// DefaultClassifierTimeout bounds intent classification.
const DefaultClassifierTimeout = 8 * time.Second

// ExitKeywords cancel whatever the user is doing.
var ExitKeywords = []string{"exit", "cancel", "stop", "quit", "back", "menu", "no", "nevermind", "end", "finish", "done"}

// IsExit reports whether text opens with, or consists of, an exit keyword.
func IsExit(text string) bool {
	tokens := util.Tokens(text)
	if len(tokens) == 0 {
		return false
	}
	for _, kw := range ExitKeywords {
		if tokens[0] == kw {
			return true
		}
	}
	return util.Bare(text) == "never mind"
}

// Router routes inbound messages to flows, marker handlers and commands.
type Router struct {
	sm         flow.StateManager
	engines    flow.Engines
	defs       flow.Definitions
	reg        *validate.Registry
	classifier validate.Classifier
	timeout    time.Duration
}

// Option configures a Router.
type Option func(*Router)

// WithClassifier enables LLM intent and user-type classification.
func WithClassifier(c validate.Classifier) Option {
	return func(r *Router) { r.classifier = c }
}

// WithClassifierTimeout overrides DefaultClassifierTimeout.
func WithClassifierTimeout(d time.Duration) Option {
	return func(r *Router) { r.timeout = d }
}

// WithValidators replaces the validator registry used for email checks.
func WithValidators(reg *validate.Registry) Option {
	return func(r *Router) { r.reg = reg }
}

// New creates a router over the given flows.
func New(sm flow.StateManager, engines flow.Engines, defs flow.Definitions, opts ...Option) *Router {
	r := &Router{
		sm:      sm,
		engines: engines,
		defs:    defs,
		reg:     validate.NewRegistry(),
		timeout: DefaultClassifierTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle returns the reply for one inbound message. Store failures are
// answered with a retry message instead of an error.
func (r *Router) Handle(ctx context.Context, msg *models.Message) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}
	reply, err := r.route(ctx, msg)
	if err != nil {
		slog.Error("Router.Handle: routing failed", "error", err, "from", msg.From, "messageID", msg.ID)
		return TextTryAgain, nil
	}
	return reply, nil
}

func (r *Router) route(ctx context.Context, msg *models.Message) (string, error) {
	owner := msg.From
	text := msg.Text()

	for _, ft := range models.FlowPriority {
		st, err := r.sm.GetFlow(ctx, ft, owner)
		if err != nil {
			slog.Error("Router.route: flow state unreadable, treating as absent", "error", err, "owner", owner, "flowType", ft)
			continue
		}
		if st == nil {
			continue
		}
		if IsExit(text) {
			return r.exit(ctx, owner)
		}
		slog.Debug("Router.route: active flow", "owner", owner, "flowType", ft, "step", st.Step.String())
		return r.engines[ft].Handle(ctx, owner, msg, st)
	}

	for _, kind := range models.PendingMarkers {
		reply, handled, err := r.handleMarker(ctx, kind, owner, text)
		if handled || err != nil {
			return reply, err
		}
	}

	if reply, handled, err := r.command(ctx, owner, text); handled || err != nil {
		return reply, err
	}

	switch intent := r.classifyIntent(ctx, text); intent {
	case models.IntentSendMoney, models.IntentCollectMoney:
		return r.startMoney(ctx, owner, intent, text)
	case models.IntentExchangeRate:
		return r.engines[models.FlowTypeExchangeRates].Start(ctx, owner, text)
	case models.IntentRegister:
		if err := r.sm.SetMarker(ctx, models.MarkerPendingRegistrationType, owner, models.IntentMarker{Intent: models.IntentRegister, Awaiting: true, CreatedAt: time.Now()}); err != nil {
			return "", err
		}
		return TextAskUserType, nil
	}
	return r.fallback(ctx, owner, text)
}

// exit clears every flow and marker of the user and returns the menu.
func (r *Router) exit(ctx context.Context, owner string) (string, error) {
	if err := r.sm.ClearAll(ctx, owner); err != nil {
		return "", err
	}
	slog.Info("Router.exit: user left", "owner", owner)
	return TextCancelled + "\n\n" + TextMenu, nil
}

func (r *Router) fallback(ctx context.Context, owner, text string) (string, error) {
	now := time.Now()
	if err := r.sm.AppendHistory(ctx, owner, models.HistoryEntry{Role: "user", Text: text, Time: now}); err != nil {
		slog.Warn("Router.fallback: failed to record history", "error", err, "owner", owner)
	}
	if err := r.sm.AppendHistory(ctx, owner, models.HistoryEntry{Role: "assistant", Text: TextMenu, Time: now}); err != nil {
		slog.Warn("Router.fallback: failed to record history", "error", err, "owner", owner)
	}
	return TextMenu, nil
}

// startFlow starts the flow of the given type.
func (r *Router) startFlow(ctx context.Context, owner string, ft models.FlowType, trigger string) (string, error) {
	engine, ok := r.engines[ft]
	if !ok {
		slog.Error("Router.startFlow: no engine", "flowType", ft)
		return TextTryAgain, nil
	}
	return engine.Start(ctx, owner, trigger)
}
