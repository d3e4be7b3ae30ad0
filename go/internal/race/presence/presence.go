package presence

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/race/events"
)

// Conn is a connection the directory can address
type Conn interface {
	ID() string
	Send(msg []byte) bool
}

// Recorder mirrors presence changes to an external store. Calls run off the event loop, one at
// a time, in the order the directory issued them.
type Recorder interface {
	Online(ctx context.Context, userID string) error
	Offline(ctx context.Context, userID string, at time.Time) error
}

const (
	recorderTimeout   = 2 * time.Second
	recorderQueueSize = 1024
)

type session struct {
	userID string
	conn   Conn
}

// Directory maps user ids to their single active connection. Like the room registry it holds
// no lock and is owned by the gateway hub goroutine.
type Directory struct {
	conns    map[string]Conn
	sessions map[string]session
	recorder Recorder
	clock    clockwork.Clock

	records chan func(ctx context.Context) error
}

// NewDirectory creates an empty directory. recorder may be nil. Recorder calls are applied by
// Run.
func NewDirectory(clock clockwork.Clock, recorder Recorder) *Directory {
	return &Directory{
		conns:    make(map[string]Conn),
		sessions: make(map[string]session),
		recorder: recorder,
		clock:    clock,
		records:  make(chan func(ctx context.Context) error, recorderQueueSize),
	}
}

// Run applies queued recorder calls until ctx is cancelled
func (d *Directory) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-d.records:
			callCtx, cancel := context.WithTimeout(ctx, recorderTimeout)
			if err := fn(callCtx); err != nil {
				log.Warn().Err(err).Msg("failed to record presence")
			}
			cancel()
		}
	}
}

// Register binds a user to a connection, replacing any previous one, and announces user:online
// to the connections of every other user
func (d *Directory) Register(userID string, conn Conn) {
	if prev, ok := d.conns[userID]; ok && prev.ID() != conn.ID() {
		log.Debug().
			Str("user_id", userID).
			Str("previous_connection_id", prev.ID()).
			Str("connection_id", conn.ID()).
			Msg("presence replaced by newer connection")
	}
	d.conns[userID] = conn
	d.sessions[conn.ID()] = session{userID: userID, conn: conn}

	d.broadcast(events.EventTypeUserOnline, userID)
	d.record(func(ctx context.Context) error { return d.recorder.Online(ctx, userID) })
}

// Lookup returns the active connection of a user
func (d *Directory) Lookup(userID string) (Conn, bool) {
	c, ok := d.conns[userID]
	return c, ok
}

// Remove forgets conn and, if it was still the user's active connection, drops the user and
// announces user:offline. A connection that was already superseded leaves the user online.
func (d *Directory) Remove(userID string, conn Conn) bool {
	delete(d.sessions, conn.ID())

	current, ok := d.conns[userID]
	if !ok || current.ID() != conn.ID() {
		return false
	}
	delete(d.conns, userID)

	d.broadcast(events.EventTypeUserOffline, userID)
	at := d.clock.Now().UTC()
	d.record(func(ctx context.Context) error { return d.recorder.Offline(ctx, userID, at) })
	return true
}

// Heartbeat re-records every online user so the external store does not expire users whose
// connections are still open
func (d *Directory) Heartbeat() {
	for userID := range d.conns {
		d.record(func(ctx context.Context) error { return d.recorder.Online(ctx, userID) })
	}
}

// Len returns the number of online users
func (d *Directory) Len() int {
	return len(d.conns)
}

// SendTo delivers a frame to a single user if they are online
func (d *Directory) SendTo(userID string, msg []byte) bool {
	c, ok := d.conns[userID]
	if !ok {
		return false
	}
	return c.Send(msg)
}

// broadcast reaches every open connection, superseded ones included, except the user's own
func (d *Directory) broadcast(eventType events.EventType, userID string) {
	msg, err := events.Marshal(eventType, events.UserPresencePayload{UserID: userID})
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to marshal presence event")
		return
	}
	for _, s := range d.sessions {
		if s.userID == userID {
			continue
		}
		s.conn.Send(msg)
	}
}

func (d *Directory) record(fn func(ctx context.Context) error) {
	if d.recorder == nil {
		return
	}
	select {
	case d.records <- fn:
	default:
		log.Warn().Msg("presence recorder queue full, dropping update")
	}
}
