package relay

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Peer is the store's view of one client connection
type Peer interface {
	ID() string
	// Send enqueues msg without blocking; an error means the peer cannot take it
	Send(msg []byte) error
	Close() error
}

// Registry tracks live connections and the room each one belongs to
type Registry struct {
	mu    sync.RWMutex
	peers map[Peer]string // peer -> room code, "" when not in a room
}

// NewRegistry creates an empty connection registry
func NewRegistry() *Registry {
	return &Registry{peers: make(map[Peer]string)}
}

// Register adds a live connection that is not yet in any room
func (r *Registry) Register(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.peers[p]; !exists {
		r.peers[p] = ""
	}

	log.Debug().
		Str("connection_id", p.ID()).
		Int("total_connections", len(r.peers)).
		Msg("connection registered")
}

// Unregister forgets a connection. Safe to call more than once.
func (r *Registry) Unregister(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.peers[p]; !exists {
		return
	}
	delete(r.peers, p)

	log.Debug().
		Str("connection_id", p.ID()).
		Int("total_connections", len(r.peers)).
		Msg("connection unregistered")
}

// RoomOf returns the code of the room p currently belongs to
func (r *Registry) RoomOf(p Peer) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	code := r.peers[p]
	return code, code != ""
}

// Count returns the number of registered connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Peers returns a snapshot of every registered connection
func (r *Registry) Peers() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peers := make([]Peer, 0, len(r.peers))
	for p := range r.peers {
		peers = append(peers, p)
	}
	return peers
}

// assign records that p joined code. Callers hold the store lock.
func (r *Registry) assign(p Peer, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current := r.peers[p]; current != "" && current != code {
		return fmt.Errorf("connection %s already in room %s", p.ID(), current)
	}
	r.peers[p] = code
	return nil
}

// release clears p's room association if it still points at code
func (r *Registry) release(p Peer, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, exists := r.peers[p]; exists && current == code {
		r.peers[p] = ""
	}
}
