package relay

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Session is the control loop state of one connection
type Session struct {
	peer        Peer
	store       *Store
	registry    *Registry
	passthrough bool
}

// NewSession registers peer and returns its session
func NewSession(peer Peer, store *Store, registry *Registry, passthrough bool) *Session {
	registry.Register(peer)
	return &Session{
		peer:        peer,
		store:       store,
		registry:    registry,
		passthrough: passthrough,
	}
}

// HandleMessage processes one inbound frame
func (s *Session) HandleMessage(data []byte) {
	intent, err := ParseIntent(data)
	switch {
	case errors.Is(err, ErrUnknownAction):
		s.handleOther(intent, data)
		return
	case errors.Is(err, ErrInvalidRoomCode):
		s.reply(InfoMessage("Invalid room code"))
		return
	case err != nil:
		log.Debug().Err(err).Str("connection_id", s.peer.ID()).Msg("rejected client message")
		s.reply(InfoMessage("Invalid payload"))
		return
	}

	switch intent.Action {
	case ActionCreate:
		_, err = s.store.Create(intent.Room, s.peer, s.acknowledge("Created room %s"))
	case ActionJoin:
		_, err = s.store.Join(intent.Room, s.peer, s.acknowledge("Joined room %s"))
	}

	if err == nil {
		return
	}
	if errors.Is(err, ErrRoomNotFound) {
		s.reply(InfoMessage(fmt.Sprintf("Room %s not found", intent.Room)))
		return
	}
	log.Error().Err(err).Str("connection_id", s.peer.ID()).Str("room", intent.Room).Msg("failed to handle intent")
	s.reply(InfoMessage("Could not " + string(intent.Action) + " room"))
}

// acknowledge sends the ack then the cached state. It runs under the room lock,
// so both are queued ahead of the next broadcast.
func (s *Session) acknowledge(format string) JoinFunc {
	return func(ev JoinEvent) {
		s.reply(InfoMessage(fmt.Sprintf(format, ev.Room.Code)))
		if ev.HasState {
			s.reply(StateMessage(ev.State))
		}
	}
}

// handleOther deals with well-formed frames that are not intents
func (s *Session) handleOther(intent Intent, data []byte) {
	code, inRoom := s.registry.RoomOf(s.peer)
	if !inRoom {
		s.reply(InfoMessage("Unknown action"))
		return
	}
	if !s.passthrough {
		log.Debug().
			Str("connection_id", s.peer.ID()).
			Str("room", code).
			Str("action", string(intent.Action)).
			Msg("ignoring non-intent message")
		return
	}

	room, ok := s.store.Get(code)
	if !ok {
		return
	}
	n := s.store.Broadcaster().BroadcastExcept(room, data, s.peer)
	log.Debug().
		Str("connection_id", s.peer.ID()).
		Str("room", code).
		Int("recipients", n).
		Msg("relayed message")
}

func (s *Session) reply(msg ServerMessage) {
	if err := s.peer.Send(msg.Encode()); err != nil {
		log.Warn().Err(err).Str("connection_id", s.peer.ID()).Msg("failed to reply")
	}
}

// Close removes the connection from its room and the registry
func (s *Session) Close() {
	s.store.Leave(s.peer)
	s.registry.Unregister(s.peer)
}
