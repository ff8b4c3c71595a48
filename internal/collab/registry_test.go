package collab

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type nopConn struct{}

func (nopConn) WriteJSON(v interface{}) error { return nil }

func (nopConn) SetWriteDeadline(t time.Time) error { return nil }

func (nopConn) Close() error { return nil }

func TestRegistryJoinLeaveLifecycle(t *testing.T) {
	r := NewRegistry()
	a := NewSession(nopConn{}, 0)
	b := NewSession(nopConn{}, 0)

	assert.Equal(t, 1, r.Join("c1", a))
	assert.Equal(t, 2, r.Join("c1", b))
	assert.Equal(t, 1, r.RoomCount())

	assert.Equal(t, 1, r.Leave("c1", a.ID))
	assert.Equal(t, 0, r.Leave("c1", b.ID))

	// Empty room is gone, not lingering.
	assert.Equal(t, 0, r.RoomCount())
	assert.Equal(t, 0, r.Count("c1"))
}

func TestRegistryJoinIsIdempotent(t *testing.T) {
	r := NewRegistry()
	a := NewSession(nopConn{}, 0)

	assert.Equal(t, 1, r.Join("c1", a))
	assert.Equal(t, 1, r.Join("c1", a))
	assert.Len(t, r.Members("c1"), 1)
}

func TestRegistryLeaveUnknownRoomIsNoop(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 0, r.Leave("missing", "nobody"))
	assert.Equal(t, 0, r.RoomCount())
}

func TestRegistryBroadcastTargetsExcludesSender(t *testing.T) {
	r := NewRegistry()
	a := NewSession(nopConn{}, 0)
	b := NewSession(nopConn{}, 0)
	c := NewSession(nopConn{}, 0)
	r.Join("c1", a)
	r.Join("c1", b)
	r.Join("c1", c)

	targets := r.BroadcastTargets("c1", b.ID)
	assert.Len(t, targets, 2)
	for _, s := range targets {
		assert.NotEqual(t, b.ID, s.ID)
	}
}

func TestRegistryMembersAreJoinOrdered(t *testing.T) {
	r := NewRegistry()
	a := NewSession(nopConn{}, 0)
	b := NewSession(nopConn{}, 0)
	r.Join("c1", a)
	r.Join("c1", b)

	members := r.Members("c1")
	assert.Equal(t, []string{a.ID, b.ID}, []string{members[0].ID, members[1].ID})
}

func TestRegistryConcurrentJoinLeave(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := NewSession(nopConn{}, 0)
			r.Join("c1", s)
			r.Leave("c1", s.ID)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.RoomCount())
}
