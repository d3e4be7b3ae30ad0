package room

import (
	"time"

	"github.com/mcdev12/typerace/go/internal/race/events"
)

// State is the race lifecycle state of a room
type State string

const (
	StateWaiting  State = "waiting"
	StateRacing   State = "racing"
	StateFinished State = "finished"
)

// Room is the in-memory state of one race room
type Room struct {
	ID        string
	State     State
	Text      string
	StartTime *time.Time
	Players   []*Player
	CreatedAt time.Time

	// user ids in the order their race:finish arrived
	finishOrder []string
}

// Player is a user's membership in a room, including live race telemetry
type Player struct {
	UserID        string
	Email         string
	Name          string
	Progress      float64
	WPM           float64
	Accuracy      float64
	Finished      bool
	FinishTime    float64
	FinalWPM      float64
	FinalAccuracy float64
	FinishedAt    *time.Time

	member Member
}

// Member returns the connection currently bound to this player
func (p *Player) Member() Member {
	return p.member
}

func newRoom(id string, now time.Time) *Room {
	return &Room{
		ID:        id,
		State:     StateWaiting,
		CreatedAt: now,
	}
}

// Player returns the player for a user id
func (r *Room) Player(userID string) (*Player, bool) {
	for _, p := range r.Players {
		if p.UserID == userID {
			return p, true
		}
	}
	return nil, false
}

func (r *Room) indexOf(userID string) int {
	for i, p := range r.Players {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

func (r *Room) removeAt(i int) *Player {
	p := r.Players[i]
	r.Players = append(r.Players[:i], r.Players[i+1:]...)
	for j, id := range r.finishOrder {
		if id == p.UserID {
			r.finishOrder = append(r.finishOrder[:j], r.finishOrder[j+1:]...)
			break
		}
	}
	return p
}

func (r *Room) allFinished() bool {
	if len(r.Players) == 0 {
		return false
	}
	for _, p := range r.Players {
		if !p.Finished {
			return false
		}
	}
	return true
}

// resetRace clears live and final stats ahead of a (re)start
func (r *Room) resetRace() {
	r.finishOrder = nil
	for _, p := range r.Players {
		p.Progress = 0
		p.WPM = 0
		p.Accuracy = 0
		p.Finished = false
		p.FinishTime = 0
		p.FinalWPM = 0
		p.FinalAccuracy = 0
		p.FinishedAt = nil
	}
}

// Results returns the final stats of finished players in arrival order
func (r *Room) Results() []events.PlayerResult {
	results := make([]events.PlayerResult, 0, len(r.finishOrder))
	for _, id := range r.finishOrder {
		p, ok := r.Player(id)
		if !ok {
			continue
		}
		results = append(results, events.PlayerResult{
			ID:       p.UserID,
			Email:    p.Email,
			WPM:      p.FinalWPM,
			Accuracy: p.FinalAccuracy,
			Time:     p.FinishTime,
		})
	}
	return results
}

// Snapshot returns the wire representation of the room
func (r *Room) Snapshot() events.RoomSnapshot {
	snap := events.RoomSnapshot{
		ID:      r.ID,
		State:   string(r.State),
		Text:    r.Text,
		Players: make([]events.PlayerSnapshot, 0, len(r.Players)),
	}
	if r.StartTime != nil {
		t := *r.StartTime
		snap.StartTime = &t
	}
	for _, p := range r.Players {
		ps := events.PlayerSnapshot{
			ID:            p.UserID,
			Email:         p.Email,
			Name:          p.Name,
			Progress:      p.Progress,
			WPM:           p.WPM,
			Accuracy:      p.Accuracy,
			Finished:      p.Finished,
			FinishTime:    p.FinishTime,
			FinalWPM:      p.FinalWPM,
			FinalAccuracy: p.FinalAccuracy,
		}
		if p.FinishedAt != nil {
			t := *p.FinishedAt
			ps.FinishedAt = &t
		}
		snap.Players = append(snap.Players, ps)
	}
	return snap
}
