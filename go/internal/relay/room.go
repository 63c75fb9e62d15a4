package relay

import (
	"context"
	"sync"
	"time"
)

// Room is a named group of connections sharing one light cycle
type Room struct {
	Code      string
	CreatedAt time.Time

	mu       sync.Mutex
	members  map[Peer]struct{}
	state    LightState
	hasState bool
	cycle    *cycleHandle
}

// cycleHandle is the room's owned reference to its running scheduler goroutine
type cycleHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// RoomInfo is a read-only view of a room for the inspection APIs
type RoomInfo struct {
	Code         string      `json:"code"`
	Members      int         `json:"members"`
	CycleRunning bool        `json:"cycle_running"`
	State        *LightState `json:"-"`
	CreatedAt    time.Time   `json:"created_at"`
}

func newRoom(code string, createdAt time.Time) *Room {
	return &Room{
		Code:      code,
		CreatedAt: createdAt,
		members:   make(map[Peer]struct{}),
	}
}

// Members returns a snapshot of the member set
func (r *Room) Members() []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.membersLocked()
}

func (r *Room) membersLocked() []Peer {
	members := make([]Peer, 0, len(r.members))
	for p := range r.members {
		members = append(members, p)
	}
	return members
}

// MemberCount returns the current number of members
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// State returns the most recently broadcast light state
func (r *Room) State() (LightState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.hasState
}

// HasMember reports whether p is currently in the room
func (r *Room) HasMember(p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[p]
	return ok
}

// Info returns a snapshot for the inspection APIs
func (r *Room) Info() RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := RoomInfo{
		Code:         r.Code,
		Members:      len(r.members),
		CycleRunning: r.cycle != nil,
		CreatedAt:    r.CreatedAt,
	}
	if r.hasState {
		s := r.state
		info.State = &s
	}
	return info
}

// publish caches state and snapshots the members in one critical section.
// It refuses once ctx is cancelled so a stopped cycle never broadcasts again.
func (r *Room) publish(ctx context.Context, state LightState) ([]Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ctx.Err() != nil {
		return nil, false
	}
	r.state = state
	r.hasState = true
	return r.membersLocked(), true
}

// clearCycle drops h if it is still the room's current handle
func (r *Room) clearCycle(h *cycleHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cycle == h {
		r.cycle = nil
	}
}
