package events

import (
	"time"
)

// Client commands

// PlayerData is the optional profile a client attaches when joining a room
type PlayerData struct {
	Name string `json:"name,omitempty"`
}

// JoinRoomCommand is the payload for room:join
type JoinRoomCommand struct {
	RoomID     string     `json:"roomId"`
	PlayerData PlayerData `json:"playerData"`
}

func (c *JoinRoomCommand) Type() EventType { return EventTypeRoomJoin }

// LeaveRoomCommand is the payload for room:leave
type LeaveRoomCommand struct {
	RoomID string `json:"roomId"`
}

func (c *LeaveRoomCommand) Type() EventType { return EventTypeRoomLeave }

// StartRaceCommand is the payload for race:start
type StartRaceCommand struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
}

func (c *StartRaceCommand) Type() EventType { return EventTypeRaceStart }

// ProgressCommand is the payload for race:progress
type ProgressCommand struct {
	RoomID   string  `json:"roomId"`
	Progress float64 `json:"progress"`
	WPM      float64 `json:"wpm"`
	Accuracy float64 `json:"accuracy"`
}

func (c *ProgressCommand) Type() EventType { return EventTypeRaceProgress }

// FinishCommand is the payload for race:finish. Time is the client's elapsed race time in
// seconds, measured from the server start time.
type FinishCommand struct {
	RoomID   string  `json:"roomId"`
	WPM      float64 `json:"wpm"`
	Accuracy float64 `json:"accuracy"`
	Time     float64 `json:"time"`
}

func (c *FinishCommand) Type() EventType { return EventTypeRaceFinish }

// ChatCommand is the payload for an inbound chat:message
type ChatCommand struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

func (c *ChatCommand) Type() EventType { return EventTypeChatMessage }

// FriendRequestCommand is the payload for friend:request
type FriendRequestCommand struct {
	TargetUserID string `json:"targetUserId"`
}

func (c *FriendRequestCommand) Type() EventType { return EventTypeFriendRequest }

// FriendAcceptCommand is the payload for friend:accept
type FriendAcceptCommand struct {
	TargetUserID string `json:"targetUserId"`
}

func (c *FriendAcceptCommand) Type() EventType { return EventTypeFriendAccept }

// TypingCommand is the payload for typing:start and typing:stop
type TypingCommand struct {
	RoomID string `json:"roomId"`
	Stop   bool   `json:"-"`
}

func (c *TypingCommand) Type() EventType {
	if c.Stop {
		return EventTypeTypingStop
	}
	return EventTypeTypingStart
}

// Server payloads

// PlayerSnapshot is a player as seen in a room snapshot
type PlayerSnapshot struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name,omitempty"`
	Progress      float64    `json:"progress"`
	WPM           float64    `json:"wpm"`
	Accuracy      float64    `json:"accuracy"`
	Finished      bool       `json:"finished"`
	FinishTime    float64    `json:"finishTime,omitempty"`
	FinalWPM      float64    `json:"finalWpm,omitempty"`
	FinalAccuracy float64    `json:"finalAccuracy,omitempty"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
}

// RoomSnapshot is the full room state sent with room:updated
type RoomSnapshot struct {
	ID        string           `json:"id"`
	State     string           `json:"state"`
	Text      string           `json:"text"`
	StartTime *time.Time       `json:"startTime"`
	Players   []PlayerSnapshot `json:"players"`
}

// Player returns the snapshot entry for a user
func (s *RoomSnapshot) Player(userID string) (*PlayerSnapshot, bool) {
	for i := range s.Players {
		if s.Players[i].ID == userID {
			return &s.Players[i], true
		}
	}
	return nil, false
}

// RaceStartedPayload is the payload for race:started. Clients start their race clock from
// StartTime, not from receipt time.
type RaceStartedPayload struct {
	Text      string    `json:"text"`
	StartTime time.Time `json:"startTime"`
}

// RaceUpdatePayload is the payload for race:update
type RaceUpdatePayload struct {
	PlayerID string  `json:"playerId"`
	Progress float64 `json:"progress"`
	WPM      float64 `json:"wpm"`
	Accuracy float64 `json:"accuracy"`
}

// PlayerFinishedPayload is the payload for race:player-finished
type PlayerFinishedPayload struct {
	PlayerID string  `json:"playerId"`
	WPM      float64 `json:"wpm"`
	Accuracy float64 `json:"accuracy"`
	Time     float64 `json:"time"`
}

// PlayerResult is one entry of race:finished
type PlayerResult struct {
	ID       string  `json:"id"`
	Email    string  `json:"email"`
	WPM      float64 `json:"wpm"`
	Accuracy float64 `json:"accuracy"`
	Time     float64 `json:"time"`
}

// RaceFinishedPayload is the payload for race:finished. Results keep arrival order.
type RaceFinishedPayload struct {
	Results []PlayerResult `json:"results"`
}

// ChatPayload is the payload for an outbound chat:message
type ChatPayload struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// UserPresencePayload is the payload for user:online and user:offline
type UserPresencePayload struct {
	UserID string `json:"userId"`
}

// FriendPayload is the payload for outbound friend:request and friend:accepted
type FriendPayload struct {
	FromUserID string `json:"fromUserId"`
	FromEmail  string `json:"fromEmail"`
}

// TypingPayload is the payload for outbound typing:start and typing:stop
type TypingPayload struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}
