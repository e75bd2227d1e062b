package app

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parleychat/relay/internal/core"
	"github.com/parleychat/relay/internal/domain"
)

// fakeConn records delivered frames; shared by the tests in this package.
type fakeConn struct {
	mu      sync.Mutex
	frames  []core.Frame
	failing bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errors.New("backpressure")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {}

func (c *fakeConn) received() []core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

func TestRegistryRegisterUnregister(t *testing.T) {
	r := NewRegistry()
	conn := &fakeConn{}
	connID := r.NewConnID()

	r.Register("u1", connID, conn)
	require.True(t, r.Exists(connID))
	require.Len(t, r.ConnectionsFor("u1"), 1)

	userID, ok := r.Unregister(connID)
	require.True(t, ok)
	require.Equal(t, domain.UserID("u1"), userID)
	require.False(t, r.Exists(connID))
	require.Empty(t, r.ConnectionsFor("u1"))

	_, ok = r.Unregister(connID)
	require.False(t, ok)
}

func TestRegistryMultipleConnectionsPerUser(t *testing.T) {
	r := NewRegistry()
	c1, c2 := &fakeConn{}, &fakeConn{}
	id1, id2 := r.NewConnID(), r.NewConnID()

	r.Register("u1", id1, c1)
	r.Register("u1", id2, c2)
	require.Len(t, r.ConnectionsFor("u1"), 2)
	require.Len(t, r.All(), 2)

	r.Unregister(id1)
	require.Len(t, r.ConnectionsFor("u1"), 1)
}

func TestRegistryOwns(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Owns(r.NewConnID()))
	require.False(t, r.Owns("other-process:abc"))

	other := NewRegistry()
	require.False(t, r.Owns(other.NewConnID()))
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			connID := r.NewConnID()
			r.Register("u1", connID, &fakeConn{})
			r.ConnectionsFor("u1")
			r.Exists(connID)
			r.Unregister(connID)
		}()
	}
	wg.Wait()
	require.Empty(t, r.ConnectionsFor("u1"))
}
