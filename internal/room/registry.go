// Package room implements the authoritative server-side room registry: the
// mapping of room identifier to the set of connected members. Rooms are
// created lazily on first join and discarded when the last member leaves.
package room

import "sync"

// Member is one entry in a room's roster.
type Member struct {
	SessionID string // connection session id
	Name      string // self-declared display name
}

// room holds one room's roster behind its own mutex. Locking is scoped to a
// single room so join/leave/broadcast on unrelated rooms never serialize.
type room struct {
	mu      sync.Mutex
	members map[string]Member // session id -> member
	order   []string          // session ids in join order
}

// Registry maps room ids to rooms. The registry-level lock only guards the
// room map itself (creation and garbage collection); roster mutations take
// the per-room lock.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room
	bySID map[string]string // session id -> room id (one room per session)
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*room),
		bySID: make(map[string]string),
	}
}

// Join adds the member to the room, creating the room if it does not exist,
// and returns the resulting roster snapshot. Re-joining a room the session is
// already in leaves the roster unchanged and returns the current snapshot.
// A session can be in at most one room: joining while a member elsewhere
// first leaves the previous room.
func (r *Registry) Join(roomID string, m Member) []Member {
	r.mu.Lock()
	if prev, ok := r.bySID[m.SessionID]; ok && prev != roomID {
		r.leaveLocked(prev, m.SessionID)
	}
	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{members: make(map[string]Member)}
		r.rooms[roomID] = rm
	}
	r.bySID[m.SessionID] = roomID

	// Take the room lock before releasing the registry lock. A concurrent
	// Leave of the last member holds r.mu while it garbage-collects the room,
	// so it cannot run between the map lookup above and the insertion below
	// and orphan a room the joiner was told it entered.
	rm.mu.Lock()
	r.mu.Unlock()
	defer rm.mu.Unlock()
	if _, exists := rm.members[m.SessionID]; !exists {
		rm.members[m.SessionID] = m
		rm.order = append(rm.order, m.SessionID)
	}
	return rm.snapshot()
}

// Leave removes the session from the room. Leaving a room the session is not
// in is a no-op. When the roster becomes empty the room is discarded.
func (r *Registry) Leave(roomID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(roomID, sessionID)
}

// leaveLocked removes the session from the room and garbage-collects the room
// if empty. Caller must hold r.mu.
func (r *Registry) leaveLocked(roomID, sessionID string) {
	rm, ok := r.rooms[roomID]
	if !ok {
		return
	}

	rm.mu.Lock()
	if _, exists := rm.members[sessionID]; exists {
		delete(rm.members, sessionID)
		for i, sid := range rm.order {
			if sid == sessionID {
				rm.order = append(rm.order[:i], rm.order[i+1:]...)
				break
			}
		}
	}
	empty := len(rm.members) == 0
	rm.mu.Unlock()

	if r.bySID[sessionID] == roomID {
		delete(r.bySID, sessionID)
	}
	if empty {
		delete(r.rooms, roomID)
	}
}

// Members returns the current roster snapshot for a room, in join order.
// An unknown room yields an empty roster.
func (r *Registry) Members(roomID string) []Member {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	r.mu.Unlock()
	if !ok {
		return []Member{}
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.snapshot()
}

// RoomOf returns the room the session is currently in, or "" if none. Used
// by disconnect cleanup to leave the room on behalf of a dropped connection.
func (r *Registry) RoomOf(sessionID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bySID[sessionID]
}

// RoomCount returns the number of live rooms (for metrics).
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// snapshot copies the roster in join order. Caller must hold rm.mu.
func (rm *room) snapshot() []Member {
	out := make([]Member, 0, len(rm.order))
	for _, sid := range rm.order {
		out = append(out, rm.members[sid])
	}
	return out
}

// Names extracts the display names from a roster snapshot, preserving order.
func Names(members []Member) []string {
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, m.Name)
	}
	return names
}
