package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/race/events"
	"github.com/mcdev12/typerace/go/internal/race/presence"
	"github.com/mcdev12/typerace/go/internal/race/room"
)

// ErrHubStopped is returned when work is submitted after the hub has stopped
var ErrHubStopped = errors.New("hub stopped")

// Hub serializes every state mutation of the gateway. Rooms, presence and the session table
// are only touched by the goroutine running Run, so client events are applied one at a time in
// the order the hub receives them.
type Hub struct {
	registry *room.Registry
	presence *presence.Directory
	sessions map[string]*Connection

	clock     clockwork.Clock
	heartbeat time.Duration

	inbox chan func()
	done  chan struct{}
}

// HubConfig configures the hub event loop
type HubConfig struct {
	QueueSize int
	// PresenceHeartbeat is how often online users are re-recorded. Zero disables it.
	PresenceHeartbeat time.Duration
	Clock             clockwork.Clock
}

// NewHub creates a hub over a registry and presence directory
func NewHub(registry *room.Registry, directory *presence.Directory, config HubConfig) *Hub {
	if config.QueueSize <= 0 {
		config.QueueSize = 1024
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	return &Hub{
		registry:  registry,
		presence:  directory,
		sessions:  make(map[string]*Connection),
		clock:     config.Clock,
		heartbeat: config.PresenceHeartbeat,
		inbox:     make(chan func(), config.QueueSize),
		done:      make(chan struct{}),
	}
}

// Run processes submitted work until ctx is cancelled, then closes every session
func (h *Hub) Run(ctx context.Context) {
	log.Info().Msg("starting race hub")

	go h.presence.Run(ctx)

	var heartbeat <-chan time.Time
	if h.heartbeat > 0 {
		ticker := h.clock.NewTicker(h.heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.Chan()
	}

	for {
		select {
		case <-heartbeat:
			h.presence.Heartbeat()
		case <-ctx.Done():
			close(h.done)
			for _, c := range h.sessions {
				c.Close()
			}
			log.Info().Int("sessions", len(h.sessions)).Msg("race hub stopped")
			return
		case fn := <-h.inbox:
			fn()
		}
	}
}

func (h *Hub) submit(fn func()) bool {
	select {
	case <-h.done:
		return false
	default:
	}

	select {
	case h.inbox <- fn:
		return true
	case <-h.done:
		return false
	}
}

// Query runs fn on the hub goroutine and waits for it to complete
func (h *Hub) Query(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !h.submit(func() {
		defer close(finished)
		fn()
	}) {
		return ErrHubStopped
	}

	select {
	case <-finished:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect registers an authenticated connection and marks its user online
func (h *Hub) Connect(c *Connection) bool {
	return h.submit(func() {
		h.sessions[c.ID()] = c
		h.presence.Register(c.UserID(), c)

		log.Info().
			Str("connection_id", c.ID()).
			Str("user_id", c.UserID()).
			Int("sessions", len(h.sessions)).
			Msg("client connected")
	})
}

// Disconnect removes a connection from every room it joined and from presence
func (h *Hub) Disconnect(c *Connection) {
	h.submit(func() {
		if _, ok := h.sessions[c.ID()]; !ok {
			return
		}
		delete(h.sessions, c.ID())

		h.registry.Disconnect(c)
		h.presence.Remove(c.UserID(), c)

		log.Info().
			Str("connection_id", c.ID()).
			Str("user_id", c.UserID()).
			Dur("duration", time.Since(c.ConnectedAt)).
			Msg("client disconnected")
	})
}

// Dispatch queues a decoded client command. It returns false once the hub has stopped.
func (h *Hub) Dispatch(c *Connection, cmd events.Command) bool {
	return h.submit(func() {
		if _, ok := h.sessions[c.ID()]; !ok {
			return
		}
		if err := h.handle(c, cmd); err != nil {
			log.Debug().
				Err(err).
				Str("event_type", string(cmd.Type())).
				Str("connection_id", c.ID()).
				Str("user_id", c.UserID()).
				Msg("client event ignored")
		}
	})
}

func (h *Hub) handle(c *Connection, cmd events.Command) error {
	switch cmd := cmd.(type) {
	case *events.JoinRoomCommand:
		return h.registry.Join(cmd.RoomID, c, cmd.PlayerData)
	case *events.LeaveRoomCommand:
		return h.registry.Leave(cmd.RoomID, c)
	case *events.StartRaceCommand:
		return h.registry.Start(cmd.RoomID, c, cmd.Text)
	case *events.ProgressCommand:
		return h.registry.Progress(cmd.RoomID, c, cmd.Progress, cmd.WPM, cmd.Accuracy)
	case *events.FinishCommand:
		return h.registry.Finish(cmd.RoomID, c, cmd.WPM, cmd.Accuracy, cmd.Time)
	case *events.ChatCommand:
		return h.registry.Chat(cmd.RoomID, c, cmd.Message)
	case *events.TypingCommand:
		return h.registry.Typing(cmd.RoomID, c, cmd.Stop)
	case *events.FriendRequestCommand:
		return h.relayFriend(c, cmd.TargetUserID, events.EventTypeFriendRequest)
	case *events.FriendAcceptCommand:
		return h.relayFriend(c, cmd.TargetUserID, events.EventTypeFriendAccepted)
	default:
		return events.ErrUnknownEvent
	}
}

var (
	errMissingTarget = errors.New("target user id is required")
	errTargetOffline = errors.New("target user is offline")
)

// relayFriend forwards a friend request or acceptance to the target user's active connection.
// Persisting the friendship belongs to the REST collaborator.
func (h *Hub) relayFriend(c *Connection, targetUserID string, eventType events.EventType) error {
	if targetUserID == "" {
		return errMissingTarget
	}
	msg, err := events.Marshal(eventType, events.FriendPayload{
		FromUserID: c.UserID(),
		FromEmail:  c.Email(),
	})
	if err != nil {
		return err
	}
	if !h.presence.SendTo(targetUserID, msg) {
		return errTargetOffline
	}
	return nil
}

// HubStats is a point-in-time view of the hub
type HubStats struct {
	Connections int        `json:"total_connections"`
	OnlineUsers int        `json:"online_users"`
	Rooms       room.Stats `json:"rooms"`
}

// Stats returns hub statistics
func (h *Hub) Stats(ctx context.Context) (HubStats, error) {
	var stats HubStats
	err := h.Query(ctx, func() {
		stats = HubStats{
			Connections: len(h.sessions),
			OnlineUsers: h.presence.Len(),
			Rooms:       h.registry.Stats(),
		}
	})
	return stats, err
}

// LookupRoom returns a snapshot of a room
func (h *Hub) LookupRoom(ctx context.Context, roomID string) (events.RoomSnapshot, bool, error) {
	var (
		snapshot events.RoomSnapshot
		found    bool
	)
	err := h.Query(ctx, func() {
		snapshot, found = h.registry.Lookup(roomID)
	})
	return snapshot, found, err
}

// IsOnline reports whether a user has an active connection
func (h *Hub) IsOnline(ctx context.Context, userID string) (bool, error) {
	var online bool
	err := h.Query(ctx, func() {
		_, online = h.presence.Lookup(userID)
	})
	return online, err
}
