// Package flow implements the guided data-collection dialogs: state access,
// flow definitions, and the engines that drive a user through them.
package flow

import (
	"context"
	"errors"

	"github.com/BTreeMap/PayPipe/internal/models"
)

// ErrStore wraps every failure of the underlying key-value backend.
// Callers may retry; the router treats a failed read as "no state".
var ErrStore = errors.New("state store failure")

// StateManager defines typed access to per-user flow state, markers and accounts.
type StateManager interface {
	// GetFlow returns the user's state in a flow, or nil when not in that flow.
	GetFlow(ctx context.Context, ft models.FlowType, owner string) (*models.FlowState, error)

	// SetFlow stores the state and refreshes its TTL; a nil state deletes it.
	SetFlow(ctx context.Context, ft models.FlowType, owner string, state *models.FlowState) error

	// HasFlow reports whether the user is in the flow.
	HasFlow(ctx context.Context, ft models.FlowType, owner string) (bool, error)

	// ClearFlows deletes every flow state of the user except keep.
	ClearFlows(ctx context.Context, owner string, keep models.FlowType) error

	// ClearAll deletes every flow and marker of the user, including the
	// session binding and conversation history. Account records survive.
	ClearAll(ctx context.Context, owner string) error

	// GetMarker decodes a marker into v and reports whether it was present.
	GetMarker(ctx context.Context, kind models.MarkerKind, owner string, v any) (bool, error)

	// SetMarker stores a marker with the TTL of its kind.
	SetMarker(ctx context.Context, kind models.MarkerKind, owner string, v any) error

	// DeleteMarker removes a marker.
	DeleteMarker(ctx context.Context, kind models.MarkerKind, owner string) error

	// GetUser returns the account for email and refreshes its TTL, or nil.
	GetUser(ctx context.Context, email string) (*models.UserRecord, error)

	// SaveUser stores an account keyed by its normalized email.
	SaveUser(ctx context.Context, user *models.UserRecord) error

	// AppendHistory adds an entry to the rolling conversation log.
	AppendHistory(ctx context.Context, owner string, entry models.HistoryEntry) error

	// History returns the rolling conversation log, oldest first.
	History(ctx context.Context, owner string) ([]models.HistoryEntry, error)
}
