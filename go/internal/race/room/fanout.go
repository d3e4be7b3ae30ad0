package room

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/race/events"
)

// Member is a connection that can be subscribed to rooms
type Member interface {
	// ID identifies the connection, not the user
	ID() string
	UserID() string
	Email() string
	// Send queues a frame without blocking and reports whether it was accepted
	Send(msg []byte) bool
}

// Fanout tracks which connections are subscribed to which room and delivers frames to them.
// Delivery is best-effort: a member that cannot accept a frame simply misses it.
type Fanout struct {
	rooms    map[string]map[string]Member // roomID -> memberID -> Member
	byMember map[string]map[string]struct{}
}

// NewFanout creates an empty fanout
func NewFanout() *Fanout {
	return &Fanout{
		rooms:    make(map[string]map[string]Member),
		byMember: make(map[string]map[string]struct{}),
	}
}

// Subscribe adds a member to a room's channel. Subscribing twice is a no-op.
func (f *Fanout) Subscribe(roomID string, m Member) {
	if f.rooms[roomID] == nil {
		f.rooms[roomID] = make(map[string]Member)
	}
	f.rooms[roomID][m.ID()] = m

	if f.byMember[m.ID()] == nil {
		f.byMember[m.ID()] = make(map[string]struct{})
	}
	f.byMember[m.ID()][roomID] = struct{}{}
}

// Unsubscribe removes a member from a room's channel
func (f *Fanout) Unsubscribe(roomID string, m Member) {
	if members, ok := f.rooms[roomID]; ok {
		delete(members, m.ID())
		if len(members) == 0 {
			delete(f.rooms, roomID)
		}
	}
	if rooms, ok := f.byMember[m.ID()]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(f.byMember, m.ID())
		}
	}
}

// RoomsOf returns the rooms a member is subscribed to, sorted
func (f *Fanout) RoomsOf(memberID string) []string {
	rooms := make([]string, 0, len(f.byMember[memberID]))
	for id := range f.byMember[memberID] {
		rooms = append(rooms, id)
	}
	sort.Strings(rooms)
	return rooms
}

// Subscribers returns the number of members subscribed to a room
func (f *Fanout) Subscribers(roomID string) int {
	return len(f.rooms[roomID])
}

// Broadcast delivers a pre-encoded frame to every member of a room except exceptID, returning
// how many members accepted it
func (f *Fanout) Broadcast(roomID string, msg []byte, exceptID string) int {
	delivered := 0
	for id, m := range f.rooms[roomID] {
		if id == exceptID {
			continue
		}
		if m.Send(msg) {
			delivered++
			continue
		}
		log.Warn().
			Str("room_id", roomID).
			Str("connection_id", id).
			Str("user_id", m.UserID()).
			Msg("send buffer full, dropping room message")
	}
	return delivered
}

// Publish encodes an event once and broadcasts it to a room
func (f *Fanout) Publish(roomID string, eventType events.EventType, payload interface{}, exceptID string) {
	msg, err := events.Marshal(eventType, payload)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to marshal room event")
		return
	}

	n := f.Broadcast(roomID, msg, exceptID)

	log.Debug().
		Str("event_type", string(eventType)).
		Str("room_id", roomID).
		Int("connections", n).
		Msg("event broadcasted")
}
