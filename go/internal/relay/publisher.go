package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// RoomEventType names a room lifecycle event
type RoomEventType string

const (
	RoomEventOpened RoomEventType = "room.opened"
	RoomEventClosed RoomEventType = "room.closed"
)

// StatePublisher mirrors light states and room lifecycle to an external bus
type StatePublisher interface {
	PublishState(ctx context.Context, room string, state LightState) error
	PublishRoomEvent(ctx context.Context, room string, event RoomEventType) error
}

// NoOpPublisher drops everything; used when no bus is configured
type NoOpPublisher struct{}

func (p *NoOpPublisher) PublishState(ctx context.Context, room string, state LightState) error {
	return nil
}

func (p *NoOpPublisher) PublishRoomEvent(ctx context.Context, room string, event RoomEventType) error {
	return nil
}

// Envelope is the message body published to NATS
type Envelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	Room      string          `json:"room"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NATSConfig holds NATS connection settings
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// NATSPublisher publishes room events to NATS core subjects
type NATSPublisher struct {
	conn          *nats.Conn
	subjectPrefix string
}

// NewNATSPublisher connects to NATS and returns a publisher
func NewNATSPublisher(config NATSConfig) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("racelight-relay"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected to NATS")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Info().Str("url", config.URL).Msg("connected to NATS")
	return NewNATSPublisherWithConn(nc, config.SubjectPrefix), nil
}

// NewNATSPublisherWithConn wraps an existing connection
func NewNATSPublisherWithConn(nc *nats.Conn, subjectPrefix string) *NATSPublisher {
	return &NATSPublisher{conn: nc, subjectPrefix: subjectPrefix}
}

// StateSubject returns the subject light states of room are published on
func (p *NATSPublisher) StateSubject(room string) string {
	return fmt.Sprintf("%s.%s.state", p.subjectPrefix, room)
}

// EventSubject returns the subject room lifecycle events are published on
func (p *NATSPublisher) EventSubject(room string) string {
	return fmt.Sprintf("%s.%s.events", p.subjectPrefix, room)
}

func (p *NATSPublisher) PublishState(ctx context.Context, room string, state LightState) error {
	payload, err := json.Marshal(StateMessage(state))
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	return p.publish(p.StateSubject(room), "light.state", room, payload)
}

func (p *NATSPublisher) PublishRoomEvent(ctx context.Context, room string, event RoomEventType) error {
	return p.publish(p.EventSubject(room), string(event), room, nil)
}

func (p *NATSPublisher) publish(subject, eventType, room string, payload json.RawMessage) error {
	envelope := Envelope{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Room:      room,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Close drains the NATS connection
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
