package app

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parleychat/relay/internal/core"
	"github.com/parleychat/relay/internal/domain"
)

// memStore is an in-memory PresenceStore with the same set semantics as the
// Redis implementation.
type memStore struct {
	mu   sync.Mutex
	sets map[domain.UserID][]domain.ConnID
}

func newMemStore() *memStore {
	return &memStore{sets: make(map[domain.UserID][]domain.ConnID)}
}

func (s *memStore) AddConnection(_ context.Context, userID domain.UserID, connID domain.ConnID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.sets[userID] {
		if id == connID {
			return nil
		}
	}
	s.sets[userID] = append(s.sets[userID], connID)
	return nil
}

func (s *memStore) RemoveConnections(_ context.Context, userID domain.UserID, connIDs ...domain.ConnID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.sets[userID][:0]
	for _, id := range s.sets[userID] {
		remove := false
		for _, rm := range connIDs {
			if id == rm {
				remove = true
				break
			}
		}
		if !remove {
			kept = append(kept, id)
		}
	}
	s.sets[userID] = kept
	return nil
}

func (s *memStore) Connections(_ context.Context, userID domain.UserID) ([]domain.ConnID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ConnID, len(s.sets[userID]))
	copy(out, s.sets[userID])
	return out, nil
}

func (s *memStore) ConnectionCount(_ context.Context, userID domain.UserID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.sets[userID])), nil
}

func (s *memStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets = make(map[domain.UserID][]domain.ConnID)
	return nil
}

// memBroadcaster collects decoded presence events.
type memBroadcaster struct {
	mu     sync.Mutex
	events []core.PresenceEvent
}

func (b *memBroadcaster) Broadcast(frame core.Frame) {
	var ev core.PresenceEvent
	if err := json.Unmarshal(frame, &ev); err != nil {
		return
	}
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
}

func (b *memBroadcaster) byKind(kind core.Kind) []core.PresenceEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []core.PresenceEvent
	for _, ev := range b.events {
		if ev.Type == kind {
			out = append(out, ev)
		}
	}
	return out
}

func newPresenceFixture() (*Tracker, *Registry, *memStore, *memBroadcaster) {
	store := newMemStore()
	registry := NewRegistry()
	broadcast := &memBroadcaster{}
	return NewTracker(store, registry, broadcast), registry, store, broadcast
}

func register(t *testing.T, r *Registry, userID domain.UserID) domain.ConnID {
	t.Helper()
	connID := r.NewConnID()
	r.Register(userID, connID, &fakeConn{})
	return connID
}

func TestPresenceOnlineFiresOnlyOnFirstConnection(t *testing.T) {
	ctx := context.Background()
	tracker, registry, _, broadcast := newPresenceFixture()

	c1 := register(t, registry, "u1")
	require.NoError(t, tracker.MarkOnline(ctx, "u1", c1))
	require.Len(t, broadcast.byKind(core.KindPresenceOnline), 1)

	c2 := register(t, registry, "u1")
	require.NoError(t, tracker.MarkOnline(ctx, "u1", c2))
	require.Len(t, broadcast.byKind(core.KindPresenceOnline), 1, "second device must not re-announce")

	online, err := tracker.IsOnline(ctx, "u1")
	require.NoError(t, err)
	require.True(t, online)
}

func TestPresenceOfflineFiresOnlyOnLastDisconnect(t *testing.T) {
	ctx := context.Background()
	tracker, registry, _, broadcast := newPresenceFixture()

	c1 := register(t, registry, "u1")
	c2 := register(t, registry, "u1")
	require.NoError(t, tracker.MarkOnline(ctx, "u1", c1))
	require.NoError(t, tracker.MarkOnline(ctx, "u1", c2))

	registry.Unregister(c1)
	require.NoError(t, tracker.MarkOffline(ctx, "u1", c1))
	require.Empty(t, broadcast.byKind(core.KindPresenceOffline), "one device left, still online")

	registry.Unregister(c2)
	require.NoError(t, tracker.MarkOffline(ctx, "u1", c2))
	require.Len(t, broadcast.byKind(core.KindPresenceOffline), 1)

	online, err := tracker.IsOnline(ctx, "u1")
	require.NoError(t, err)
	require.False(t, online)
}

func TestPresenceOfflineIdempotent(t *testing.T) {
	ctx := context.Background()
	tracker, registry, _, broadcast := newPresenceFixture()

	connID := registry.NewConnID()
	require.NoError(t, tracker.MarkOffline(ctx, "u1", connID))
	require.Empty(t, broadcast.byKind(core.KindPresenceOffline), "removing an absent id must not announce offline")
}

func TestPresenceReconnectCycleAnnouncesEachEdge(t *testing.T) {
	ctx := context.Background()
	tracker, registry, _, broadcast := newPresenceFixture()

	for i := 0; i < 3; i++ {
		connID := register(t, registry, "u1")
		require.NoError(t, tracker.MarkOnline(ctx, "u1", connID))
		registry.Unregister(connID)
		require.NoError(t, tracker.MarkOffline(ctx, "u1", connID))
	}
	require.Len(t, broadcast.byKind(core.KindPresenceOnline), 3)
	require.Len(t, broadcast.byKind(core.KindPresenceOffline), 3)
}

func TestPresencePurgesOwnStaleEntries(t *testing.T) {
	ctx := context.Background()
	tracker, registry, store, _ := newPresenceFixture()

	// A connection this process minted but no longer has: stale.
	stale := registry.NewConnID()
	require.NoError(t, store.AddConnection(ctx, "u1", stale))

	online, err := tracker.IsOnline(ctx, "u1")
	require.NoError(t, err)
	require.False(t, online)

	members, err := store.Connections(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestPresenceTrustsForeignEntries(t *testing.T) {
	ctx := context.Background()
	tracker, _, store, _ := newPresenceFixture()

	require.NoError(t, store.AddConnection(ctx, "u1", "other-process:conn-1"))

	online, err := tracker.IsOnline(ctx, "u1")
	require.NoError(t, err)
	require.True(t, online, "entries minted elsewhere are trusted")
}

func TestPresenceStalePurgeStillAnnouncesEdge(t *testing.T) {
	ctx := context.Background()
	tracker, registry, store, broadcast := newPresenceFixture()

	stale := registry.NewConnID()
	require.NoError(t, store.AddConnection(ctx, "u1", stale))

	// The stale entry must not mask the 0 -> 1 edge for a real connection.
	connID := register(t, registry, "u1")
	require.NoError(t, tracker.MarkOnline(ctx, "u1", connID))
	require.Len(t, broadcast.byKind(core.KindPresenceOnline), 1)
}

func TestPresenceResetAllLeavesEveryoneOffline(t *testing.T) {
	ctx := context.Background()
	tracker, _, store, _ := newPresenceFixture()

	// Entries left over from a previous process incarnation.
	require.NoError(t, store.AddConnection(ctx, "u1", "dead-process:conn-1"))
	require.NoError(t, store.AddConnection(ctx, "u2", "dead-process:conn-2"))

	require.NoError(t, tracker.ResetAll(ctx))

	for _, userID := range []domain.UserID{"u1", "u2"} {
		online, err := tracker.IsOnline(ctx, userID)
		require.NoError(t, err)
		require.False(t, online)
	}
}
