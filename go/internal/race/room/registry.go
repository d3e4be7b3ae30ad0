package room

import (
	"errors"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/race/events"
)

var (
	ErrInvalidRoomID     = errors.New("room id is required")
	ErrRoomNotFound      = errors.New("room not found")
	ErrPlayerNotFound    = errors.New("player not in room")
	ErrInvalidTransition = errors.New("invalid race state transition")
	ErrNotRacing         = errors.New("room is not racing")
	ErrAlreadyFinished   = errors.New("player already finished")
	ErrEmptyMessage      = errors.New("chat message is empty")
)

// RestartPolicy decides what race:start does while a room is already racing
type RestartPolicy string

const (
	// RestartReject ignores race:start unless the room is waiting
	RestartReject RestartPolicy = "reject"
	// RestartAllow lets race:start overwrite the text and start time of a running race
	RestartAllow RestartPolicy = "allow"
)

// Config holds registry behaviour switches
type Config struct {
	RestartPolicy RestartPolicy
}

// DefaultConfig returns the default registry configuration
func DefaultConfig() Config {
	return Config{
		RestartPolicy: RestartReject,
	}
}

// Notifier receives race lifecycle events for export outside the process. Implementations must
// not block.
type Notifier interface {
	RaceStarted(roomID, text string, startTime time.Time, playerIDs []string)
	RaceFinished(roomID string, finishedAt time.Time, results []events.PlayerResult)
}

// NoOpNotifier discards lifecycle events
type NoOpNotifier struct{}

func (NoOpNotifier) RaceStarted(roomID, text string, startTime time.Time, playerIDs []string) {}

func (NoOpNotifier) RaceFinished(roomID string, finishedAt time.Time, results []events.PlayerResult) {}

// Stats summarizes registry contents
type Stats struct {
	Rooms   int            `json:"rooms"`
	Players int            `json:"players"`
	ByState map[string]int `json:"by_state"`
}

// Registry owns room lifecycle and the race state machine.
//
// Registry holds no lock. Every method must be called from the single goroutine that owns it
// (the gateway hub); tests drive it directly from the test goroutine.
type Registry struct {
	store    Store
	fanout   *Fanout
	clock    clockwork.Clock
	notifier Notifier
	config   Config
}

// NewRegistry creates a registry. A nil notifier discards lifecycle events.
func NewRegistry(store Store, fanout *Fanout, clock clockwork.Clock, notifier Notifier, config Config) *Registry {
	if notifier == nil {
		notifier = NoOpNotifier{}
	}
	if config.RestartPolicy == "" {
		config.RestartPolicy = RestartReject
	}
	return &Registry{
		store:    store,
		fanout:   fanout,
		clock:    clock,
		notifier: notifier,
		config:   config,
	}
}

// Join adds the member's user to a room, creating the room if needed, and broadcasts a
// snapshot. Joining a room the user is already in only rebinds the player to this connection.
func (r *Registry) Join(roomID string, m Member, data events.PlayerData) error {
	if roomID == "" {
		return ErrInvalidRoomID
	}

	rm, ok := r.store.Get(roomID)
	if !ok {
		rm = newRoom(roomID, r.clock.Now().UTC())
		r.store.Put(rm)
		log.Debug().Str("room_id", roomID).Msg("room created")
	}

	if p, exists := rm.Player(m.UserID()); exists {
		if p.member != nil && p.member.ID() != m.ID() {
			r.fanout.Unsubscribe(roomID, p.member)
		}
		p.member = m
		if data.Name != "" {
			p.Name = data.Name
		}
	} else {
		rm.Players = append(rm.Players, &Player{
			UserID: m.UserID(),
			Email:  m.Email(),
			Name:   data.Name,
			member: m,
		})
	}
	r.fanout.Subscribe(roomID, m)

	log.Info().
		Str("room_id", roomID).
		Str("user_id", m.UserID()).
		Str("connection_id", m.ID()).
		Int("players", len(rm.Players)).
		Msg("player joined room")

	r.broadcastSnapshot(rm)
	return nil
}

// Leave removes the member's user from a room. The room is destroyed when its last player
// leaves; otherwise the remaining members get a snapshot.
func (r *Registry) Leave(roomID string, m Member) error {
	r.fanout.Unsubscribe(roomID, m)

	rm, ok := r.store.Get(roomID)
	if !ok {
		return ErrRoomNotFound
	}
	i := rm.indexOf(m.UserID())
	if i < 0 {
		return ErrPlayerNotFound
	}

	p := rm.removeAt(i)
	if p.member != nil && p.member.ID() != m.ID() {
		r.fanout.Unsubscribe(roomID, p.member)
	}

	log.Info().
		Str("room_id", roomID).
		Str("user_id", m.UserID()).
		Msg("player left room")

	r.afterRemoval(rm)
	return nil
}

// Disconnect performs a leave for every room the connection is subscribed to. Players already
// rebound to a newer connection stay in their rooms.
func (r *Registry) Disconnect(m Member) {
	for _, roomID := range r.fanout.RoomsOf(m.ID()) {
		r.fanout.Unsubscribe(roomID, m)

		rm, ok := r.store.Get(roomID)
		if !ok {
			continue
		}
		i := rm.indexOf(m.UserID())
		if i < 0 || rm.Players[i].member == nil || rm.Players[i].member.ID() != m.ID() {
			continue
		}
		rm.removeAt(i)

		log.Info().
			Str("room_id", roomID).
			Str("user_id", m.UserID()).
			Str("state", string(rm.State)).
			Msg("player disconnected from room")

		r.afterRemoval(rm)
	}
}

// Chat relays a chat message to every member of the room, the sender included
func (r *Registry) Chat(roomID string, m Member, message string) error {
	if strings.TrimSpace(message) == "" {
		return ErrEmptyMessage
	}
	if _, err := r.membership(roomID, m); err != nil {
		return err
	}

	r.fanout.Publish(roomID, events.EventTypeChatMessage, events.ChatPayload{
		UserID:    m.UserID(),
		Email:     m.Email(),
		Message:   message,
		Timestamp: r.clock.Now().UTC(),
	}, "")
	return nil
}

// Typing relays a typing indicator to the other members of the room
func (r *Registry) Typing(roomID string, m Member, stop bool) error {
	if _, err := r.membership(roomID, m); err != nil {
		return err
	}

	eventType := events.EventTypeTypingStart
	if stop {
		eventType = events.EventTypeTypingStop
	}
	r.fanout.Publish(roomID, eventType, events.TypingPayload{
		UserID: m.UserID(),
		Email:  m.Email(),
	}, m.ID())
	return nil
}

// Lookup returns a snapshot of a room
func (r *Registry) Lookup(roomID string) (events.RoomSnapshot, bool) {
	rm, ok := r.store.Get(roomID)
	if !ok {
		return events.RoomSnapshot{}, false
	}
	return rm.Snapshot(), true
}

// Stats summarizes the registry
func (r *Registry) Stats() Stats {
	stats := Stats{ByState: make(map[string]int)}
	r.store.Range(func(rm *Room) bool {
		stats.Rooms++
		stats.Players += len(rm.Players)
		stats.ByState[string(rm.State)]++
		return true
	})
	return stats
}

func (r *Registry) membership(roomID string, m Member) (*Room, error) {
	rm, ok := r.store.Get(roomID)
	if !ok {
		return nil, ErrRoomNotFound
	}
	if _, ok := rm.Player(m.UserID()); !ok {
		return nil, ErrPlayerNotFound
	}
	return rm, nil
}

func (r *Registry) afterRemoval(rm *Room) {
	if len(rm.Players) == 0 {
		r.store.Delete(rm.ID)
		log.Info().
			Str("room_id", rm.ID).
			Str("state", string(rm.State)).
			Msg("room destroyed")
		return
	}
	r.broadcastSnapshot(rm)
}

func (r *Registry) broadcastSnapshot(rm *Room) {
	r.fanout.Publish(rm.ID, events.EventTypeRoomUpdated, rm.Snapshot(), "")
}
