package relay

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Phase identifies which variant of the light cycle is current
type Phase string

const (
	PhaseCountdown Phase = "countdown"
	PhaseReady     Phase = "ready"
	PhaseGreen     Phase = "green"
)

// LightState is one broadcastable state of a room's light cycle.
// Remaining is only meaningful for PhaseCountdown.
type LightState struct {
	Phase     Phase
	Remaining int
}

// Countdown returns the countdown state with the given seconds remaining
func Countdown(seconds int) LightState {
	return LightState{Phase: PhaseCountdown, Remaining: seconds}
}

// Ready returns the yellow "be ready" state
func Ready() LightState { return LightState{Phase: PhaseReady} }

// Green returns the go state
func Green() LightState { return LightState{Phase: PhaseGreen} }

func (s LightState) String() string {
	if s.Phase == PhaseCountdown {
		return fmt.Sprintf("%s(%d)", s.Phase, s.Remaining)
	}
	return string(s.Phase)
}

// MessageType is the "type" discriminator of server → client messages
type MessageType string

const (
	MessageTypeInfo  MessageType = "info"
	MessageTypeState MessageType = "state"
)

// ServerMessage is the JSON frame sent to clients
type ServerMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message,omitempty"`
	Event   Phase       `json:"event,omitempty"`
	Time    int         `json:"time,omitempty"`
}

// InfoMessage builds a human-readable status message
func InfoMessage(text string) ServerMessage {
	return ServerMessage{Type: MessageTypeInfo, Message: text}
}

// StateMessage builds the wire form of a light state
func StateMessage(s LightState) ServerMessage {
	msg := ServerMessage{Type: MessageTypeState, Event: s.Phase}
	if s.Phase == PhaseCountdown {
		msg.Time = s.Remaining
	}
	return msg
}

// Encode marshals the message once so it can be fanned out as-is
func (m ServerMessage) Encode() []byte {
	data, _ := json.Marshal(m)
	return data
}

// LightState converts a state message back into a LightState
func (m ServerMessage) LightState() (LightState, bool) {
	if m.Type != MessageTypeState {
		return LightState{}, false
	}
	switch m.Event {
	case PhaseCountdown:
		return Countdown(m.Time), true
	case PhaseReady:
		return Ready(), true
	case PhaseGreen:
		return Green(), true
	}
	return LightState{}, false
}

// Action is the requested operation of a client intent
type Action string

const (
	ActionCreate Action = "create"
	ActionJoin   Action = "join"
)

// Intent is the client → server control message
type Intent struct {
	Action Action `json:"action"`
	Room   string `json:"room"`
}

var roomCodePattern = regexp.MustCompile(`^[A-Za-z0-9]{1,16}$`)

// ValidRoomCode reports whether code may name a room
func ValidRoomCode(code string) bool {
	return roomCodePattern.MatchString(code)
}

// ParseIntent decodes and validates an inbound frame.
// A create with an empty room is valid: the store generates a code.
// Frames with any other action decode successfully but return ErrUnknownAction.
func ParseIntent(data []byte) (Intent, error) {
	var intent Intent
	if err := json.Unmarshal(data, &intent); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if intent.Action == "" {
		return Intent{}, fmt.Errorf("%w: missing action", ErrMalformedPayload)
	}
	intent.Room = strings.TrimSpace(intent.Room)

	switch intent.Action {
	case ActionCreate:
		if intent.Room != "" && !ValidRoomCode(intent.Room) {
			return intent, fmt.Errorf("%w: %q", ErrInvalidRoomCode, intent.Room)
		}
	case ActionJoin:
		if !ValidRoomCode(intent.Room) {
			return intent, fmt.Errorf("%w: %q", ErrInvalidRoomCode, intent.Room)
		}
	default:
		return intent, fmt.Errorf("%w: %q", ErrUnknownAction, intent.Action)
	}
	return intent, nil
}
