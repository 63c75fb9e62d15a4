package relay

import (
	"github.com/rs/zerolog/log"
)

// Broadcaster fans a message out to the members of one room
type Broadcaster struct {
	store   *Store
	metrics MetricsCollector
}

// Broadcast sends msg to every current member of room.
// It returns the number of members the message was enqueued for.
func (b *Broadcaster) Broadcast(room *Room, msg []byte) int {
	return b.deliver(room, room.Members(), msg, nil)
}

// BroadcastExcept sends msg to every member of room other than except
func (b *Broadcaster) BroadcastExcept(room *Room, msg []byte, except Peer) int {
	return b.deliver(room, room.Members(), msg, except)
}

// deliver sends msg to a membership snapshot. Members whose send fails are
// removed from the room and closed once the sweep is done, so one dead peer
// never stops delivery to the rest.
func (b *Broadcaster) deliver(room *Room, members []Peer, msg []byte, except Peer) int {
	var failed []Peer
	delivered := 0

	for _, p := range members {
		if except != nil && p == except {
			continue
		}
		if err := p.Send(msg); err != nil {
			log.Warn().
				Err(err).
				Str("room", room.Code).
				Str("connection_id", p.ID()).
				Msg("delivery failed, removing member")
			failed = append(failed, p)
			continue
		}
		delivered++
	}

	for _, p := range failed {
		b.metrics.DeliveryFailed()
		b.store.leaveRoom(p, room.Code)
		if err := p.Close(); err != nil {
			log.Debug().Err(err).Str("connection_id", p.ID()).Msg("close after failed delivery")
		}
	}
	return delivered
}
