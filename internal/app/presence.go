package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/parleychat/relay/internal/core"
	"github.com/parleychat/relay/internal/domain"
)

// PresenceStore is the process-external set store: one set of connection ids
// per user. Shared by every relay process so presence survives restarts of
// any single one.
type PresenceStore interface {
	AddConnection(ctx context.Context, userID domain.UserID, connID domain.ConnID) error
	RemoveConnections(ctx context.Context, userID domain.UserID, connIDs ...domain.ConnID) error
	Connections(ctx context.Context, userID domain.UserID) ([]domain.ConnID, error)
	ConnectionCount(ctx context.Context, userID domain.UserID) (int64, error)
	// Clear drops every presence key. Only meaningful at process start-up.
	Clear(ctx context.Context) error
}

// Broadcaster delivers a frame to every live connection on this process.
type Broadcaster interface {
	Broadcast(frame core.Frame)
}

// Tracker owns the online/offline transition logic. Presence is a set, not a
// boolean: a user on two devices must not flicker offline when one drops.
type Tracker struct {
	store     PresenceStore
	registry  *Registry
	broadcast Broadcaster
}

func NewTracker(store PresenceStore, registry *Registry, broadcast Broadcaster) *Tracker {
	return &Tracker{store: store, registry: registry, broadcast: broadcast}
}

// MarkOnline records the connection and announces the user if this was the
// 0 -> 1 edge. Duplicate connects for an already-online user stay silent.
func (t *Tracker) MarkOnline(ctx context.Context, userID domain.UserID, connID domain.ConnID) error {
	if err := t.purge(ctx, userID); err != nil {
		return err
	}
	if err := t.store.AddConnection(ctx, userID, connID); err != nil {
		return fmt.Errorf("presence add: %w", err)
	}
	count, err := t.store.ConnectionCount(ctx, userID)
	if err != nil {
		return fmt.Errorf("presence count: %w", err)
	}
	if count == 1 {
		t.announce(core.KindPresenceOnline, userID)
	}
	return nil
}

// MarkOffline removes the connection and announces the user offline on the
// >=1 -> 0 edge. The edge is computed across the purge and the explicit
// removal together: by the time this runs the registry has already dropped
// the connection, so the purge pass may be the one that takes the id out.
// Removing from an already-empty set is a no-op and never emits a spurious
// offline.
func (t *Tracker) MarkOffline(ctx context.Context, userID domain.UserID, connID domain.ConnID) error {
	members, err := t.store.Connections(ctx, userID)
	if err != nil {
		return fmt.Errorf("presence members: %w", err)
	}
	var toRemove []domain.ConnID
	for _, id := range members {
		if id == connID || (t.registry.Owns(id) && !t.registry.Exists(id)) {
			toRemove = append(toRemove, id)
		}
	}
	if len(toRemove) == 0 {
		return nil
	}
	if err := t.store.RemoveConnections(ctx, userID, toRemove...); err != nil {
		return fmt.Errorf("presence remove: %w", err)
	}
	count, err := t.store.ConnectionCount(ctx, userID)
	if err != nil {
		return fmt.Errorf("presence count: %w", err)
	}
	if len(members) > 0 && count == 0 {
		t.announce(core.KindPresenceOffline, userID)
	}
	return nil
}

func (t *Tracker) IsOnline(ctx context.Context, userID domain.UserID) (bool, error) {
	if err := t.purge(ctx, userID); err != nil {
		return false, err
	}
	count, err := t.store.ConnectionCount(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("presence count: %w", err)
	}
	return count > 0, nil
}

// ResetAll clears the whole presence namespace. Called once at process
// start-up: entries left by a previous incarnation cannot be told apart from
// live ones and must not produce phantom online users.
func (t *Tracker) ResetAll(ctx context.Context) error {
	if err := t.store.Clear(ctx); err != nil {
		return fmt.Errorf("presence clear: %w", err)
	}
	log.Info().Str("module", "app.presence").Msg("presence namespace reset")
	return nil
}

// purge drops set members this process minted whose connection no longer
// exists here. Ids minted elsewhere are trusted; their own process purges
// them. Running on every mutation bounds staleness without a sweeper task.
func (t *Tracker) purge(ctx context.Context, userID domain.UserID) error {
	members, err := t.store.Connections(ctx, userID)
	if err != nil {
		return fmt.Errorf("presence members: %w", err)
	}
	var stale []domain.ConnID
	for _, id := range members {
		if t.registry.Owns(id) && !t.registry.Exists(id) {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	log.Debug().Str("module", "app.presence").Str("user", string(userID)).Int("stale", len(stale)).Msg("purging stale presence entries")
	if err := t.store.RemoveConnections(ctx, userID, stale...); err != nil {
		return fmt.Errorf("presence purge: %w", err)
	}
	return nil
}

func (t *Tracker) announce(kind core.Kind, userID domain.UserID) {
	frame, err := core.Encode(core.PresenceEvent{Type: kind, User: userID})
	if err != nil {
		log.Error().Err(err).Str("module", "app.presence").Msg("encode presence event")
		return
	}
	t.broadcast.Broadcast(frame)
	log.Info().Str("module", "app.presence").Str("user", string(userID)).Str("event", string(kind)).Msg("presence edge")
}
