package collab

import (
	"sync"
)

// Registry tracks which sessions are joined to which canvas room. It is the
// only mutable shared structure in the subsystem and all mutation goes
// through its methods.
//
// The registry is process-local: running more than one server replica
// requires either sticky room affinity or replacing this with a shared
// store. That is a deployment constraint, not something this type handles.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string][]*Session // canvasID -> sessions in join order
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string][]*Session),
	}
}

// Join adds a session to the room for canvasID, creating the room if absent.
// Idempotent per session. Returns the member count after the join.
func (r *Registry) Join(canvasID string, sess *Session) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[canvasID]
	for _, m := range members {
		if m.ID == sess.ID {
			return len(members)
		}
	}
	r.rooms[canvasID] = append(members, sess)
	return len(members) + 1
}

// Leave removes a session from the room and returns the remaining member
// count. The room entry is deleted when the last member leaves, so an empty
// room never lingers in the registry. Leaving an absent room is a no-op.
func (r *Registry) Leave(canvasID, sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[canvasID]
	for i, m := range members {
		if m.ID == sessionID {
			members = append(members[:i], members[i+1:]...)
			if len(members) == 0 {
				delete(r.rooms, canvasID)
				return 0
			}
			r.rooms[canvasID] = members
			return len(members)
		}
	}
	return len(members)
}

// Members returns the sessions joined to canvasID in join order.
func (r *Registry) Members(canvasID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[canvasID]
	out := make([]*Session, len(members))
	copy(out, members)
	return out
}

// BroadcastTargets returns all members of canvasID except the given session.
func (r *Registry) BroadcastTargets(canvasID, excludeSessionID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[canvasID]
	out := make([]*Session, 0, len(members))
	for _, m := range members {
		if m.ID != excludeSessionID {
			out = append(out, m)
		}
	}
	return out
}

// Count returns the member count for canvasID (0 if the room is absent).
func (r *Registry) Count(canvasID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[canvasID])
}

// RoomCount returns the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
