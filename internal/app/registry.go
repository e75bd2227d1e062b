package app

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/parleychat/relay/internal/core"
	"github.com/parleychat/relay/internal/domain"
)

type connEntry struct {
	// UserID is set exactly once at registration, from the authentication
	// result. It is never reassigned for the lifetime of the connection.
	UserID    domain.UserID
	Conn      core.SignalConnection
	CreatedAt time.Time
}

// Registry maps authenticated users to their live connections on this
// process. In-memory only; cross-process presence lives in the PresenceStore.
type Registry struct {
	processID string

	mu     sync.RWMutex
	byConn map[domain.ConnID]*connEntry
	byUser map[domain.UserID]map[domain.ConnID]core.SignalConnection
}

func NewRegistry() *Registry {
	return &Registry{
		processID: uuid.NewString(),
		byConn:    make(map[domain.ConnID]*connEntry),
		byUser:    make(map[domain.UserID]map[domain.ConnID]core.SignalConnection),
	}
}

// NewConnID mints a connection id owned by this process.
func (r *Registry) NewConnID() domain.ConnID {
	return domain.ConnID(r.processID + ":" + uuid.NewString())
}

// Owns reports whether this process minted the given connection id. Presence
// purging only distrusts ids it can check locally.
func (r *Registry) Owns(id domain.ConnID) bool {
	return strings.HasPrefix(string(id), r.processID+":")
}

func (r *Registry) Register(userID domain.UserID, connID domain.ConnID, conn core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConn[connID] = &connEntry{UserID: userID, Conn: conn, CreatedAt: time.Now()}
	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[domain.ConnID]core.SignalConnection)
		r.byUser[userID] = conns
	}
	conns[connID] = conn
	log.Info().Str("module", "app.registry").Str("user", string(userID)).Str("conn", string(connID)).Msg("registered connection")
}

// Unregister removes the connection and reports which user owned it.
func (r *Registry) Unregister(connID domain.ConnID) (domain.UserID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connID)
	if conns, ok := r.byUser[entry.UserID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.byUser, entry.UserID)
		}
	}
	log.Info().Str("module", "app.registry").Str("user", string(entry.UserID)).Str("conn", string(connID)).Msg("unregistered connection")
	return entry.UserID, true
}

func (r *Registry) Exists(connID domain.ConnID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byConn[connID]
	return ok
}

// ConnectionsFor snapshots the user's live connections at call time.
func (r *Registry) ConnectionsFor(userID domain.UserID) []core.SignalConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.byUser[userID]
	out := make([]core.SignalConnection, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// All snapshots every live connection on this process.
func (r *Registry) All() []core.SignalConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.SignalConnection, 0, len(r.byConn))
	for _, e := range r.byConn {
		out = append(out, e.Conn)
	}
	return out
}
