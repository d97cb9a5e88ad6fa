package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/PayPipe/internal/models"
	"github.com/BTreeMap/PayPipe/internal/util"
	"github.com/BTreeMap/PayPipe/internal/validate"
)

// handleMarker answers a pending question. handled is false when the marker is absent.
func (r *Router) handleMarker(ctx context.Context, kind models.MarkerKind, owner, text string) (string, bool, error) {
	var m models.IntentMarker
	found, err := r.sm.GetMarker(ctx, kind, owner, &m)
	if err != nil {
		slog.Error("Router.handleMarker: marker unreadable, treating as absent", "error", err, "owner", owner, "marker", kind)
		return "", false, nil
	}
	if !found || !m.Awaiting {
		return "", false, nil
	}
	if IsExit(text) {
		reply, err := r.exit(ctx, owner)
		return reply, true, err
	}
	if util.Bare(text) == "reset" {
		return r.command(ctx, owner, text)
	}

	var reply string
	switch kind {
	case models.MarkerPendingVerification:
		reply, err = r.answerVerification(ctx, owner, text, m)
	case models.MarkerPendingRegistrationType, models.MarkerPendingMoneyIntent:
		reply, err = r.answerUserType(ctx, kind, owner, text, m)
	default:
		return "", false, nil
	}
	return reply, true, err
}

// startMoney starts a money flow for a verified user, or asks for the registered email.
func (r *Router) startMoney(ctx context.Context, owner string, intent models.Intent, trigger string) (string, error) {
	var session models.SessionMarker
	found, err := r.sm.GetMarker(ctx, models.MarkerSession, owner, &session)
	if err != nil {
		slog.Error("Router.startMoney: session unreadable, asking to verify", "error", err, "owner", owner)
	}
	if found {
		user, err := r.sm.GetUser(ctx, session.Email)
		if err != nil {
			return "", err
		}
		if user != nil {
			return r.startFlow(ctx, owner, intent.FlowType(), trigger)
		}
		if err := r.sm.DeleteMarker(ctx, models.MarkerSession, owner); err != nil {
			return "", err
		}
	}

	marker := models.IntentMarker{Intent: intent, Trigger: trigger, Awaiting: true, CreatedAt: time.Now()}
	if err := r.sm.SetMarker(ctx, models.MarkerPendingVerification, owner, marker); err != nil {
		return "", err
	}
	return fmt.Sprintf("To %s you need a verified account.\n\n%s", intentVerb(intent), TextAskEmail), nil
}

func (r *Router) answerVerification(ctx context.Context, owner, text string, m models.IntentMarker) (string, error) {
	if util.HasAnyToken(text, "register", "registration", "signup") {
		if err := r.sm.DeleteMarker(ctx, models.MarkerPendingVerification, owner); err != nil {
			return "", err
		}
		return r.askMoneyUserType(ctx, owner, m, "")
	}

	res := r.reg.Validate(ctx, validate.KindEmail, text, validate.Rules{Label: "Email"})
	if !res.Valid {
		return TextBadEmail + "\n\n" + TextAskEmail, nil
	}
	user, err := r.sm.GetUser(ctx, res.Value)
	if err != nil {
		return "", err
	}
	if err := r.sm.DeleteMarker(ctx, models.MarkerPendingVerification, owner); err != nil {
		return "", err
	}
	if user == nil {
		slog.Info("Router.answerVerification: email not registered", "owner", owner)
		return r.askMoneyUserType(ctx, owner, m, fmt.Sprintf("I couldn't find an account for %s. Let's create one.", res.Value))
	}

	session := models.SessionMarker{Email: user.Email, UserID: user.UserID, VerifiedAt: time.Now()}
	if err := r.sm.SetMarker(ctx, models.MarkerSession, owner, session); err != nil {
		return "", err
	}
	slog.Info("Router.answerVerification: session bound", "owner", owner, "userID", user.UserID)
	reply, err := r.startFlow(ctx, owner, m.Intent.FlowType(), m.Trigger)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Welcome back, %s!\n\n%s", user.FullName, reply), nil
}

func (r *Router) askMoneyUserType(ctx context.Context, owner string, m models.IntentMarker, preface string) (string, error) {
	m.Awaiting = true
	if err := r.sm.SetMarker(ctx, models.MarkerPendingMoneyIntent, owner, m); err != nil {
		return "", err
	}
	if preface == "" {
		return TextAskUserType, nil
	}
	return preface + "\n\n" + TextAskUserType, nil
}

func (r *Router) answerUserType(ctx context.Context, kind models.MarkerKind, owner, text string, m models.IntentMarker) (string, error) {
	ut, ok := r.userType(ctx, text)
	if !ok {
		return "Sorry, I didn't catch that. " + TextAskUserType, nil
	}
	if kind == models.MarkerPendingMoneyIntent {
		// The money intent waits behind the registration and is mentioned when it completes.
		m.Awaiting = false
		if err := r.sm.SetMarker(ctx, kind, owner, m); err != nil {
			return "", err
		}
	} else if err := r.sm.DeleteMarker(ctx, kind, owner); err != nil {
		return "", err
	}
	return r.startFlow(ctx, owner, ut.RegistrationFlow(), text)
}

var (
	individualWords = []string{"1", "individual", "personal", "person", "myself", "me", "individually"}
	businessWords   = []string{"2", "business", "company", "corporate", "corporation", "merchant", "shop", "store", "firm", "enterprise"}
)

// userType reads an individual/business answer, asking the classifier for free text.
func (r *Router) userType(ctx context.Context, text string) (models.UserType, bool) {
	switch {
	case util.HasAnyToken(text, businessWords...):
		return models.UserTypeBusiness, true
	case util.HasAnyToken(text, individualWords...):
		return models.UserTypeIndividual, true
	}
	if r.classifier == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	label, err := r.classifier.Classify(ctx,
		"A user of a payments service was asked whether they are registering as an individual or as a business. Classify their answer.",
		text, []string{string(models.UserTypeIndividual), string(models.UserTypeBusiness), "unclear"})
	if err != nil {
		slog.Warn("Router.userType: classifier failed", "error", err)
		return "", false
	}
	switch models.UserType(label) {
	case models.UserTypeIndividual, models.UserTypeBusiness:
		return models.UserType(label), true
	}
	return "", false
}

func intentVerb(i models.Intent) string {
	if i == models.IntentCollectMoney {
		return "collect money"
	}
	return "send money"
}
