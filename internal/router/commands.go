package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/BTreeMap/PayPipe/internal/models"
	"github.com/BTreeMap/PayPipe/internal/util"
)

var businessRegistrationWords = []string{"business", "company", "corporate"}

// command handles the fixed command keywords.
func (r *Router) command(ctx context.Context, owner, text string) (string, bool, error) {
	if util.HasAnyToken(text, "register", "registration") {
		ft := models.FlowTypeIndividualRegistration
		if util.HasAnyToken(text, businessRegistrationWords...) {
			ft = models.FlowTypeBusinessRegistration
		}
		reply, err := r.startFlow(ctx, owner, ft, text)
		return reply, true, err
	}

	switch util.Bare(text) {
	case "help", "commands":
		return TextHelp, true, nil
	case "status":
		reply, err := r.status(ctx, owner)
		return reply, true, err
	case "reset":
		if err := r.sm.ClearAll(ctx, owner); err != nil {
			return "", true, err
		}
		return TextReset + "\n\n" + TextMenu, true, nil
	}
	return "", false, nil
}

// status summarises the user's active flow and verification.
func (r *Router) status(ctx context.Context, owner string) (string, error) {
	var b strings.Builder
	active := false
	for _, ft := range models.FlowPriority {
		st, err := r.sm.GetFlow(ctx, ft, owner)
		if err != nil {
			return "", err
		}
		if st == nil {
			continue
		}
		active = true
		title := string(ft)
		total := 0
		if def := r.defs[ft]; def != nil {
			title = def.Title
			total = len(def.Fields)
		}
		if st.Step.IsConfirming() {
			fmt.Fprintf(&b, "• %s: waiting for your confirmation\n", title)
		} else {
			fmt.Fprintf(&b, "• %s: item %d of %d\n", title, st.Step.Index()+1, total)
		}
	}
	if !active {
		b.WriteString("You're not in the middle of anything.\n")
	}

	var session models.SessionMarker
	found, err := r.sm.GetMarker(ctx, models.MarkerSession, owner, &session)
	if err != nil {
		return "", err
	}
	if found {
		fmt.Fprintf(&b, "Verified as %s.", session.Email)
	} else {
		b.WriteString("Not verified yet.")
	}
	return b.String(), nil
}
