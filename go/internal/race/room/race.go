package room

import (
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/race/events"
)

// Start moves a waiting room to racing, stamps the server start time and broadcasts
// race:started so every client runs its race clock from the same instant.
func (r *Registry) Start(roomID string, m Member, text string) error {
	rm, err := r.membership(roomID, m)
	if err != nil {
		return err
	}

	switch rm.State {
	case StateWaiting:
	case StateRacing:
		if r.config.RestartPolicy != RestartAllow {
			return ErrInvalidTransition
		}
		log.Info().Str("room_id", roomID).Str("user_id", m.UserID()).Msg("restarting running race")
	default:
		return ErrInvalidTransition
	}

	now := r.clock.Now().UTC()
	rm.resetRace()
	rm.State = StateRacing
	rm.Text = text
	rm.StartTime = &now

	log.Info().
		Str("room_id", roomID).
		Str("user_id", m.UserID()).
		Int("players", len(rm.Players)).
		Time("start_time", now).
		Msg("race started")

	r.fanout.Publish(roomID, events.EventTypeRaceStarted, events.RaceStartedPayload{
		Text:      text,
		StartTime: now,
	}, "")

	playerIDs := make([]string, 0, len(rm.Players))
	for _, p := range rm.Players {
		playerIDs = append(playerIDs, p.UserID)
	}
	r.notifier.RaceStarted(roomID, text, now, playerIDs)
	return nil
}

// Progress records a player's live telemetry and relays it to the other members. Progress is
// clamped to [0,100] and never moves backwards.
func (r *Registry) Progress(roomID string, m Member, progress, wpm, accuracy float64) error {
	p, err := r.racingPlayer(roomID, m)
	if err != nil {
		return err
	}

	if progress = clampPercent(progress); progress > p.Progress {
		p.Progress = progress
	}
	p.WPM = wpm
	p.Accuracy = accuracy

	r.fanout.Publish(roomID, events.EventTypeRaceUpdate, events.RaceUpdatePayload{
		PlayerID: p.UserID,
		Progress: p.Progress,
		WPM:      p.WPM,
		Accuracy: p.Accuracy,
	}, m.ID())
	return nil
}

// Finish marks a player finished with final stats. When every current member has finished the
// room moves to finished and race:finished carries the results in arrival order.
func (r *Registry) Finish(roomID string, m Member, wpm, accuracy, elapsed float64) error {
	p, err := r.racingPlayer(roomID, m)
	if err != nil {
		return err
	}
	rm, _ := r.store.Get(roomID)

	now := r.clock.Now().UTC()
	p.Finished = true
	p.Progress = 100
	p.WPM = wpm
	p.Accuracy = accuracy
	p.FinalWPM = wpm
	p.FinalAccuracy = accuracy
	p.FinishTime = elapsed
	p.FinishedAt = &now
	rm.finishOrder = append(rm.finishOrder, p.UserID)

	log.Info().
		Str("room_id", roomID).
		Str("user_id", p.UserID).
		Float64("wpm", wpm).
		Float64("accuracy", accuracy).
		Msg("player finished")

	r.fanout.Publish(roomID, events.EventTypeRacePlayerFinished, events.PlayerFinishedPayload{
		PlayerID: p.UserID,
		WPM:      wpm,
		Accuracy: accuracy,
		Time:     elapsed,
	}, "")

	if !rm.allFinished() {
		return nil
	}

	rm.State = StateFinished
	results := rm.Results()

	log.Info().
		Str("room_id", roomID).
		Int("results", len(results)).
		Msg("race finished")

	r.fanout.Publish(roomID, events.EventTypeRaceFinished, events.RaceFinishedPayload{
		Results: results,
	}, "")
	r.notifier.RaceFinished(roomID, now, results)
	return nil
}

func (r *Registry) racingPlayer(roomID string, m Member) (*Player, error) {
	rm, err := r.membership(roomID, m)
	if err != nil {
		return nil, err
	}
	if rm.State != StateRacing {
		return nil, ErrNotRacing
	}
	p, _ := rm.Player(m.UserID())
	if p.Finished {
		return nil, ErrAlreadyFinished
	}
	return p, nil
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
