package relay

import "errors"

var (
	// ErrMalformedPayload is returned for inbound frames that do not decode into an intent.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrUnknownAction is returned for well-formed frames whose action is neither create nor join.
	ErrUnknownAction = errors.New("unknown action")
	// ErrInvalidRoomCode is returned when a room code is missing or not alphanumeric.
	ErrInvalidRoomCode = errors.New("invalid room code")
	// ErrRoomNotFound is returned by Join for codes absent from the store.
	ErrRoomNotFound = errors.New("room not found")

	ErrSendBufferFull   = errors.New("send buffer full")
	ErrConnectionClosed = errors.New("connection closed")
)
