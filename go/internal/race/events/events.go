package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrMalformedFrame is returned when a frame is not a valid envelope or its data does not
	// match the declared event type.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownEvent is returned for frames whose type is not a client command.
	ErrUnknownEvent = errors.New("unknown event type")
)

// Envelope is the frame shape for every message on the race socket
type Envelope struct {
	ID        string          `json:"id,omitempty"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp,omitzero"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EventType names a message on the race socket
type EventType string

// Client → server
const (
	EventTypeRoomJoin      EventType = "room:join"
	EventTypeRoomLeave     EventType = "room:leave"
	EventTypeRaceStart     EventType = "race:start"
	EventTypeRaceProgress  EventType = "race:progress"
	EventTypeRaceFinish    EventType = "race:finish"
	EventTypeFriendAccept  EventType = "friend:accept"
	EventTypeChatMessage   EventType = "chat:message"
	EventTypeFriendRequest EventType = "friend:request"
	EventTypeTypingStart   EventType = "typing:start"
	EventTypeTypingStop    EventType = "typing:stop"
)

// Server → client. chat:message, friend:request and typing:* use the same names in both
// directions with different payloads.
const (
	EventTypeRoomUpdated        EventType = "room:updated"
	EventTypeRaceStarted        EventType = "race:started"
	EventTypeRaceUpdate         EventType = "race:update"
	EventTypeRacePlayerFinished EventType = "race:player-finished"
	EventTypeRaceFinished       EventType = "race:finished"
	EventTypeUserOnline         EventType = "user:online"
	EventTypeUserOffline        EventType = "user:offline"
	EventTypeFriendAccepted     EventType = "friend:accepted"
)

// Command is a decoded client → server message
type Command interface {
	Type() EventType
}

// NewEnvelope wraps a payload into a server envelope
func NewEnvelope(eventType EventType, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// Marshal builds and encodes a server envelope in one step. Broadcasts marshal once and share
// the bytes across every recipient.
func Marshal(eventType EventType, payload interface{}) ([]byte, error) {
	env, err := NewEnvelope(eventType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// EncodeCommand encodes a client command into a frame
func EncodeCommand(cmd Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal %s command: %w", cmd.Type(), err)
	}
	return json.Marshal(Envelope{Type: cmd.Type(), Data: data})
}

// DecodeCommand decodes a client frame into its command
func DecodeCommand(frame []byte) (Command, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var cmd Command
	switch env.Type {
	case EventTypeRoomJoin:
		cmd = &JoinRoomCommand{}
	case EventTypeRoomLeave:
		cmd = &LeaveRoomCommand{}
	case EventTypeRaceStart:
		cmd = &StartRaceCommand{}
	case EventTypeRaceProgress:
		cmd = &ProgressCommand{}
	case EventTypeRaceFinish:
		cmd = &FinishCommand{}
	case EventTypeChatMessage:
		cmd = &ChatCommand{}
	case EventTypeFriendRequest:
		cmd = &FriendRequestCommand{}
	case EventTypeFriendAccept:
		cmd = &FriendAcceptCommand{}
	case EventTypeTypingStart:
		cmd = &TypingCommand{Stop: false}
	case EventTypeTypingStop:
		cmd = &TypingCommand{Stop: true}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}

	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: %s without data", ErrMalformedFrame, env.Type)
	}
	if err := json.Unmarshal(env.Data, cmd); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, env.Type, err)
	}
	return cmd, nil
}

// ParseEventPayload parses server envelope data into the matching payload struct. Unknown types
// return nil without error.
func ParseEventPayload(env Envelope) (interface{}, error) {
	switch env.Type {
	case EventTypeRoomUpdated:
		var payload RoomSnapshot
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeRaceStarted:
		var payload RaceStartedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeRaceUpdate:
		var payload RaceUpdatePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeRacePlayerFinished:
		var payload PlayerFinishedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeRaceFinished:
		var payload RaceFinishedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeChatMessage:
		var payload ChatPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeUserOnline, EventTypeUserOffline:
		var payload UserPresencePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeFriendRequest, EventTypeFriendAccepted:
		var payload FriendPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeTypingStart, EventTypeTypingStop:
		var payload TypingPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil
	}
}
