// Package flow provides concrete implementations of state management.
package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/PayPipe/internal/models"
	"github.com/BTreeMap/PayPipe/internal/store"
)

// Default TTLs per namespace.
const (
	DefaultRegistrationTTL = time.Hour
	DefaultShortFlowTTL    = 30 * time.Minute
	DefaultMarkerTTL       = 30 * time.Minute
	DefaultSessionTTL      = 24 * time.Hour
	DefaultHistoryTTL      = 24 * time.Hour
	DefaultUserTTL         = 90 * 24 * time.Hour
)

const userNamespace = "user"

// StoreBasedStateManager implements StateManager using a store.Store backend.
type StoreBasedStateManager struct {
	store   store.Store
	flowTTL map[models.FlowType]time.Duration
	markTTL map[models.MarkerKind]time.Duration
	userTTL time.Duration
	now     func() time.Time
}

var _ StateManager = (*StoreBasedStateManager)(nil)

// StateManagerOption configures a StoreBasedStateManager.
type StateManagerOption func(*StoreBasedStateManager)

// WithFlowTTL overrides the TTL of one flow namespace.
func WithFlowTTL(ft models.FlowType, ttl time.Duration) StateManagerOption {
	return func(sm *StoreBasedStateManager) { sm.flowTTL[ft] = ttl }
}

// WithMarkerTTL overrides the TTL of one marker namespace.
func WithMarkerTTL(kind models.MarkerKind, ttl time.Duration) StateManagerOption {
	return func(sm *StoreBasedStateManager) { sm.markTTL[kind] = ttl }
}

// NewStoreBasedStateManager creates a new StateManager backed by a Store.
func NewStoreBasedStateManager(st store.Store, opts ...StateManagerOption) *StoreBasedStateManager {
	slog.Debug("Creating StoreBasedStateManager")
	sm := &StoreBasedStateManager{
		store: st,
		flowTTL: map[models.FlowType]time.Duration{
			models.FlowTypeIndividualRegistration: DefaultRegistrationTTL,
			models.FlowTypeBusinessRegistration:   DefaultRegistrationTTL,
			models.FlowTypeCollectMoney:           DefaultShortFlowTTL,
			models.FlowTypeFiatToCrypto:           DefaultShortFlowTTL,
			models.FlowTypeExchangeRates:          DefaultShortFlowTTL,
		},
		markTTL: map[models.MarkerKind]time.Duration{
			models.MarkerPendingVerification:     DefaultMarkerTTL,
			models.MarkerPendingRegistrationType: DefaultMarkerTTL,
			models.MarkerPendingMoneyIntent:      DefaultMarkerTTL,
			models.MarkerDocument:                DefaultMarkerTTL,
			models.MarkerSession:                 DefaultSessionTTL,
			models.MarkerHistory:                 DefaultHistoryTTL,
		},
		userTTL: DefaultUserTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(sm)
	}
	return sm
}

func stateKey(namespace, owner string) string {
	return namespace + ":" + owner
}

func (sm *StoreBasedStateManager) getJSON(ctx context.Context, key string, v any) (bool, error) {
	data, found, err := sm.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("%w: get %s: %w", ErrStore, key, err)
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%w: decode %s: %w", ErrStore, key, err)
	}
	return true, nil
}

func (sm *StoreBasedStateManager) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := sm.store.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrStore, key, err)
	}
	return nil
}

func (sm *StoreBasedStateManager) del(ctx context.Context, key string) error {
	if err := sm.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("%w: delete %s: %w", ErrStore, key, err)
	}
	return nil
}

// GetFlow retrieves the state of a user in a flow.
func (sm *StoreBasedStateManager) GetFlow(ctx context.Context, ft models.FlowType, owner string) (*models.FlowState, error) {
	var st models.FlowState
	found, err := sm.getJSON(ctx, stateKey(string(ft), owner), &st)
	if err != nil {
		slog.Error("StateManager GetFlow error", "error", err, "owner", owner, "flowType", ft)
		return nil, err
	}
	if !found {
		return nil, nil
	}
	if st.Data == nil {
		st.Data = map[string]string{}
	}
	return &st, nil
}

// SetFlow stores or deletes the state of a user in a flow.
func (sm *StoreBasedStateManager) SetFlow(ctx context.Context, ft models.FlowType, owner string, state *models.FlowState) error {
	key := stateKey(string(ft), owner)
	if state == nil {
		slog.Debug("StateManager SetFlow clearing", "owner", owner, "flowType", ft)
		return sm.del(ctx, key)
	}
	state.OwnerID = owner
	state.FlowType = ft
	state.UpdatedAt = sm.now()
	if err := sm.setJSON(ctx, key, state, sm.flowTTL[ft]); err != nil {
		slog.Error("StateManager SetFlow error", "error", err, "owner", owner, "flowType", ft)
		return err
	}
	slog.Debug("StateManager SetFlow succeeded", "owner", owner, "flowType", ft, "step", state.Step.String())
	return nil
}

// HasFlow reports whether the user is in the flow.
func (sm *StoreBasedStateManager) HasFlow(ctx context.Context, ft models.FlowType, owner string) (bool, error) {
	st, err := sm.GetFlow(ctx, ft, owner)
	return st != nil, err
}

// ClearFlows deletes every flow of the user except keep.
func (sm *StoreBasedStateManager) ClearFlows(ctx context.Context, owner string, keep models.FlowType) error {
	for _, ft := range models.FlowPriority {
		if ft == keep {
			continue
		}
		if err := sm.del(ctx, stateKey(string(ft), owner)); err != nil {
			return err
		}
	}
	return nil
}

// ClearAll deletes every flow and marker of the user.
func (sm *StoreBasedStateManager) ClearAll(ctx context.Context, owner string) error {
	if err := sm.ClearFlows(ctx, owner, ""); err != nil {
		return err
	}
	for _, kind := range models.AllMarkers {
		if err := sm.DeleteMarker(ctx, kind, owner); err != nil {
			return err
		}
	}
	slog.Debug("StateManager ClearAll succeeded", "owner", owner)
	return nil
}

// GetMarker decodes a marker into v.
func (sm *StoreBasedStateManager) GetMarker(ctx context.Context, kind models.MarkerKind, owner string, v any) (bool, error) {
	return sm.getJSON(ctx, stateKey(string(kind), owner), v)
}

// SetMarker stores a marker with the TTL of its kind.
func (sm *StoreBasedStateManager) SetMarker(ctx context.Context, kind models.MarkerKind, owner string, v any) error {
	return sm.setJSON(ctx, stateKey(string(kind), owner), v, sm.markTTL[kind])
}

// DeleteMarker removes a marker.
func (sm *StoreBasedStateManager) DeleteMarker(ctx context.Context, kind models.MarkerKind, owner string) error {
	return sm.del(ctx, stateKey(string(kind), owner))
}

// GetUser loads the account for email and refreshes its last-accessed time and TTL.
func (sm *StoreBasedStateManager) GetUser(ctx context.Context, email string) (*models.UserRecord, error) {
	key := stateKey(userNamespace, models.NormalizeEmail(email))
	var u models.UserRecord
	found, err := sm.getJSON(ctx, key, &u)
	if err != nil || !found {
		return nil, err
	}
	u.LastAccessed = sm.now()
	if err := sm.setJSON(ctx, key, &u, sm.userTTL); err != nil {
		slog.Warn("StateManager GetUser: failed to refresh user TTL", "error", err)
	}
	return &u, nil
}

// SaveUser stores an account keyed by its normalized email.
func (sm *StoreBasedStateManager) SaveUser(ctx context.Context, user *models.UserRecord) error {
	if user == nil || user.Email == "" {
		return fmt.Errorf("user record requires an email")
	}
	user.Email = models.NormalizeEmail(user.Email)
	now := sm.now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.LastAccessed = now
	return sm.setJSON(ctx, stateKey(userNamespace, user.Email), user, sm.userTTL)
}

// AppendHistory adds an entry and keeps only the newest models.MaxHistoryEntries.
func (sm *StoreBasedStateManager) AppendHistory(ctx context.Context, owner string, entry models.HistoryEntry) error {
	history, err := sm.History(ctx, owner)
	if err != nil {
		return err
	}
	if entry.Time.IsZero() {
		entry.Time = sm.now()
	}
	history = append(history, entry)
	if len(history) > models.MaxHistoryEntries {
		history = history[len(history)-models.MaxHistoryEntries:]
	}
	return sm.SetMarker(ctx, models.MarkerHistory, owner, history)
}

// History returns the rolling conversation log.
func (sm *StoreBasedStateManager) History(ctx context.Context, owner string) ([]models.HistoryEntry, error) {
	var history []models.HistoryEntry
	if _, err := sm.GetMarker(ctx, models.MarkerHistory, owner, &history); err != nil {
		return nil, err
	}
	return history, nil
}
