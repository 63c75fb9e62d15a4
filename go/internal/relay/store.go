package relay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const maxCodeAttempts = 100

// JoinEvent describes a successful create/join. It is handed to the caller's
// JoinFunc while the room lock is still held.
type JoinEvent struct {
	Room          *Room
	Created       bool
	AlreadyMember bool
	State         LightState
	HasState      bool
}

// JoinFunc runs inside the room's critical section right after the member is
// added, so anything it enqueues is ordered before the next broadcast. It must not block.
type JoinFunc func(JoinEvent)

// Store maps room codes to rooms and owns every membership transition
type Store struct {
	mu    sync.Mutex
	rooms map[string]*Room

	registry    *Registry
	scheduler   *Scheduler
	broadcaster *Broadcaster
	clock       clockwork.Clock
	metrics     MetricsCollector
	publisher   StatePublisher
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithStoreMetrics sets the collector notified of room open/close
func WithStoreMetrics(m MetricsCollector) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// WithStorePublisher sets the publisher notified of room open/close
func WithStorePublisher(p StatePublisher) StoreOption {
	return func(s *Store) { s.publisher = p }
}

// NewStore creates an empty room store bound to a registry and scheduler
func NewStore(registry *Registry, scheduler *Scheduler, opts ...StoreOption) *Store {
	s := &Store{
		rooms:     make(map[string]*Room),
		registry:  registry,
		scheduler: scheduler,
		clock:     scheduler.clock,
		metrics:   &NoOpMetricsCollector{},
		publisher: &NoOpPublisher{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.broadcaster = &Broadcaster{store: s, metrics: s.metrics}
	return s
}

// Broadcaster returns the broadcaster that prunes failed members from this store
func (s *Store) Broadcaster() *Broadcaster { return s.broadcaster }

// Ensure returns the room for code, creating an empty one if needed.
// A room created here is "being created" until its first Join.
func (s *Store) Ensure(code string) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, _ := s.ensureLocked(code)
	return room
}

func (s *Store) ensureLocked(code string) (*Room, bool) {
	if room, exists := s.rooms[code]; exists {
		return room, false
	}
	room := newRoom(code, s.clock.Now())
	s.rooms[code] = room
	s.metrics.RoomOpened()
	if err := s.publisher.PublishRoomEvent(context.Background(), code, RoomEventOpened); err != nil {
		log.Warn().Err(err).Str("room", code).Msg("failed to publish room opened")
	}
	log.Info().Str("room", code).Msg("room created")
	return room, true
}

// Create adds p to the room named code, creating the room if it does not exist.
// An empty code asks the store to generate an unused 4-digit one.
func (s *Store) Create(code string, p Peer, onJoined JoinFunc) (*Room, error) {
	return s.join(code, p, true, onJoined)
}

// Join adds p to an existing room. It returns ErrRoomNotFound for unknown codes
// and leaves all state untouched in that case.
func (s *Store) Join(code string, p Peer, onJoined JoinFunc) (*Room, error) {
	return s.join(code, p, false, onJoined)
}

func (s *Store) join(code string, p Peer, create bool, onJoined JoinFunc) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if code == "" {
		if !create {
			return nil, ErrInvalidRoomCode
		}
		generated, err := s.unusedCodeLocked()
		if err != nil {
			return nil, err
		}
		code = generated
	}

	room, exists := s.rooms[code]
	if !exists && !create {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}

	// A connection belongs to one room at a time; switching rooms leaves the old one
	if current, ok := s.registry.RoomOf(p); ok && current != code {
		s.leaveLocked(p, current)
	}

	created := false
	if !exists {
		room, created = s.ensureLocked(code)
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	_, already := room.members[p]
	room.members[p] = struct{}{}
	if err := s.registry.assign(p, code); err != nil {
		// the store lock makes this unreachable
		delete(room.members, p)
		return nil, err
	}

	// First member, or the previous cycle faulted
	if room.cycle == nil {
		room.cycle = s.scheduler.start(room, s.broadcaster)
	}

	if !already {
		log.Info().
			Str("room", code).
			Str("connection_id", p.ID()).
			Int("members", len(room.members)).
			Msg("member joined")
	}

	if onJoined != nil {
		onJoined(JoinEvent{
			Room:          room,
			Created:       created,
			AlreadyMember: already,
			State:         room.state,
			HasState:      room.hasState,
		})
	}
	return room, nil
}

func (s *Store) unusedCodeLocked() (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code := GenerateRoomCode()
		if _, exists := s.rooms[code]; !exists {
			return code, nil
		}
	}
	return "", errors.New("no unused room code available")
}

// Leave removes p from whatever room it is in. When that empties the room the
// room is deleted and its scheduler cancelled before the store lock is released.
// Calling Leave for a connection that is in no room is a no-op.
func (s *Store) Leave(p Peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.registry.RoomOf(p)
	if !ok {
		return false
	}
	return s.leaveLocked(p, code)
}

// leaveRoom is Leave restricted to one room, for removals decided against a
// membership snapshot that may be stale by the time they run
func (s *Store) leaveRoom(p Peer, code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.registry.RoomOf(p); !ok || current != code {
		return false
	}
	return s.leaveLocked(p, code)
}

func (s *Store) leaveLocked(p Peer, code string) bool {
	s.registry.release(p, code)

	room, exists := s.rooms[code]
	if !exists {
		return false
	}

	room.mu.Lock()
	_, member := room.members[p]
	delete(room.members, p)
	remaining := len(room.members)
	if remaining == 0 && room.cycle != nil {
		room.cycle.cancel()
		room.cycle = nil
	}
	room.mu.Unlock()

	if member {
		log.Info().
			Str("room", code).
			Str("connection_id", p.ID()).
			Int("members", remaining).
			Msg("member left")
	}

	if remaining == 0 {
		delete(s.rooms, code)
		s.metrics.RoomClosed()
		if err := s.publisher.PublishRoomEvent(context.Background(), code, RoomEventClosed); err != nil {
			log.Warn().Err(err).Str("room", code).Msg("failed to publish room closed")
		}
		log.Info().Str("room", code).Msg("room deleted")
	}
	return member
}

// Snapshot returns the cached last broadcast state of a room
func (s *Store) Snapshot(code string) (LightState, bool) {
	room, ok := s.Get(code)
	if !ok {
		return LightState{}, false
	}
	return room.State()
}

// Get looks up a room by code
func (s *Store) Get(code string) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[code]
	return room, ok
}

// Room returns the inspection view of one room
func (s *Store) Room(code string) (RoomInfo, bool) {
	room, ok := s.Get(code)
	if !ok {
		return RoomInfo{}, false
	}
	return room.Info(), true
}

// Len returns the number of rooms in the store
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// Rooms returns a snapshot of every room ordered by code
func (s *Store) Rooms() []RoomInfo {
	s.mu.Lock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}
	s.mu.Unlock()

	infos := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		infos = append(infos, room.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Code < infos[j].Code })
	return infos
}
