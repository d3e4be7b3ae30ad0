package room

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/typerace/go/internal/race/events"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

type fakeMember struct {
	id     string
	userID string
	full   bool
	frames [][]byte
}

func newMember(id, userID string) *fakeMember {
	return &fakeMember{id: id, userID: userID}
}

func (m *fakeMember) ID() string     { return m.id }
func (m *fakeMember) UserID() string { return m.userID }
func (m *fakeMember) Email() string  { return m.userID + "@example.com" }

func (m *fakeMember) Send(msg []byte) bool {
	if m.full {
		return false
	}
	m.frames = append(m.frames, msg)
	return true
}

func (m *fakeMember) received(t *testing.T, eventType events.EventType) []events.Envelope {
	t.Helper()
	var out []events.Envelope
	for _, frame := range m.frames {
		var env events.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		if env.Type == eventType {
			out = append(out, env)
		}
	}
	return out
}

func (m *fakeMember) reset() { m.frames = nil }

type recordingNotifier struct {
	started  []string
	finished [][]events.PlayerResult
}

func (n *recordingNotifier) RaceStarted(roomID, text string, startTime time.Time, playerIDs []string) {
	n.started = append(n.started, roomID)
}

func (n *recordingNotifier) RaceFinished(roomID string, finishedAt time.Time, results []events.PlayerResult) {
	n.finished = append(n.finished, results)
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRegistry(config Config) (*Registry, *clockwork.FakeClock, *recordingNotifier) {
	clock := clockwork.NewFakeClockAt(epoch)
	notifier := &recordingNotifier{}
	return NewRegistry(NewMemoryStore(), NewFanout(), clock, notifier, config), clock, notifier
}

func decode[T any](t *testing.T, env events.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func playerIDs(snap events.RoomSnapshot) []string {
	ids := make([]string, 0, len(snap.Players))
	for _, p := range snap.Players {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestRegistry_JoinLeaveNetResult(t *testing.T) {
	r, _, _ := newTestRegistry(DefaultConfig())
	a, b, c := newMember("c-a", "a"), newMember("c-b", "b"), newMember("c-c", "c")

	require.NoError(t, r.Join("R", a, events.PlayerData{Name: "alice"}))
	require.NoError(t, r.Join("R", b, events.PlayerData{}))
	require.NoError(t, r.Join("R", b, events.PlayerData{}))
	require.NoError(t, r.Join("R", c, events.PlayerData{}))
	require.NoError(t, r.Leave("R", a))

	snap, ok := r.Lookup("R")
	require.True(t, ok)
	assert.Equal(t, []string{"b", "c"}, playerIDs(snap))
	assert.Equal(t, string(StateWaiting), snap.State)

	// a no longer receives room traffic
	a.reset()
	require.NoError(t, r.Chat("R", b, "hi"))
	assert.Empty(t, a.frames)

	assert.ErrorIs(t, r.Leave("R", a), ErrPlayerNotFound)
	assert.ErrorIs(t, r.Leave("nope", a), ErrRoomNotFound)
	assert.ErrorIs(t, r.Join("", a, events.PlayerData{}), ErrInvalidRoomID)
}

func TestRegistry_JoinBroadcastsSnapshot(t *testing.T) {
	r, _, _ := newTestRegistry(DefaultConfig())
	a, b := newMember("c-a", "a"), newMember("c-b", "b")

	require.NoError(t, r.Join("R", a, events.PlayerData{Name: "alice"}))
	require.NoError(t, r.Join("R", b, events.PlayerData{Name: "bob"}))

	updates := a.received(t, events.EventTypeRoomUpdated)
	require.Len(t, updates, 2)
	snap := decode[events.RoomSnapshot](t, updates[1])
	assert.Equal(t, "R", snap.ID)
	assert.Equal(t, []string{"a", "b"}, playerIDs(snap))
	assert.Equal(t, "bob", snap.Players[1].Name)
	assert.Nil(t, snap.StartTime)

	require.Len(t, b.received(t, events.EventTypeRoomUpdated), 1)
}

func TestRegistry_EmptyRoomIsDestroyed(t *testing.T) {
	t.Run("leave", func(t *testing.T) {
		r, _, _ := newTestRegistry(DefaultConfig())
		a := newMember("c-a", "a")
		require.NoError(t, r.Join("R", a, events.PlayerData{}))
		require.NoError(t, r.Leave("R", a))

		_, ok := r.Lookup("R")
		assert.False(t, ok)
		assert.Equal(t, 0, r.Stats().Rooms)
	})

	t.Run("disconnect", func(t *testing.T) {
		r, _, _ := newTestRegistry(DefaultConfig())
		a := newMember("c-a", "a")
		require.NoError(t, r.Join("R2", a, events.PlayerData{}))
		r.Disconnect(a)

		_, ok := r.Lookup("R2")
		assert.False(t, ok)
	})

	t.Run("disconnect without rooms", func(t *testing.T) {
		r, _, _ := newTestRegistry(DefaultConfig())
		assert.NotPanics(t, func() { r.Disconnect(newMember("c-x", "x")) })
	})

	t.Run("stale id creates a fresh room", func(t *testing.T) {
		r, _, _ := newTestRegistry(DefaultConfig())
		a := newMember("c-a", "a")
		require.NoError(t, r.Join("R", a, events.PlayerData{}))
		require.NoError(t, r.Start("R", a, "text"))
		require.NoError(t, r.Leave("R", a))
		require.NoError(t, r.Join("R", a, events.PlayerData{}))

		snap, ok := r.Lookup("R")
		require.True(t, ok)
		assert.Equal(t, string(StateWaiting), snap.State)
		assert.Empty(t, snap.Text)
	})
}

func TestRegistry_RaceScenario(t *testing.T) {
	r, clock, notifier := newTestRegistry(DefaultConfig())
	a, b := newMember("c-a", "a"), newMember("c-b", "b")

	require.NoError(t, r.Join("R1", a, events.PlayerData{}))
	require.NoError(t, r.Join("R1", b, events.PlayerData{}))

	require.NoError(t, r.Start("R1", a, "hello world"))

	startedA := a.received(t, events.EventTypeRaceStarted)
	startedB := b.received(t, events.EventTypeRaceStarted)
	require.Len(t, startedA, 1)
	require.Len(t, startedB, 1)
	payloadA := decode[events.RaceStartedPayload](t, startedA[0])
	payloadB := decode[events.RaceStartedPayload](t, startedB[0])
	assert.Equal(t, "hello world", payloadA.Text)
	assert.True(t, payloadA.StartTime.Equal(epoch))
	assert.True(t, payloadA.StartTime.Equal(payloadB.StartTime))

	snap, _ := r.Lookup("R1")
	assert.Equal(t, string(StateRacing), snap.State)
	assert.Equal(t, []string{"R1"}, notifier.started)

	require.NoError(t, r.Progress("R1", a, 50, 40, 100))
	updates := b.received(t, events.EventTypeRaceUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, events.RaceUpdatePayload{PlayerID: "a", Progress: 50, WPM: 40, Accuracy: 100},
		decode[events.RaceUpdatePayload](t, updates[0]))
	assert.Empty(t, a.received(t, events.EventTypeRaceUpdate))

	clock.Advance(10 * time.Second)
	require.NoError(t, r.Finish("R1", a, 60, 98, 10))
	assert.Len(t, b.received(t, events.EventTypeRacePlayerFinished), 1)
	assert.Empty(t, a.received(t, events.EventTypeRaceFinished))

	clock.Advance(2 * time.Second)
	require.NoError(t, r.Finish("R1", b, 50, 95, 12))

	for _, m := range []*fakeMember{a, b} {
		finished := m.received(t, events.EventTypeRaceFinished)
		require.Len(t, finished, 1)
		results := decode[events.RaceFinishedPayload](t, finished[0]).Results
		require.Len(t, results, 2)
		assert.Equal(t, "a", results[0].ID)
		assert.Equal(t, 60.0, results[0].WPM)
		assert.Equal(t, "b", results[1].ID)
		assert.Equal(t, 12.0, results[1].Time)
	}

	snap, _ = r.Lookup("R1")
	assert.Equal(t, string(StateFinished), snap.State)
	require.Len(t, notifier.finished, 1)
	assert.Len(t, notifier.finished[0], 2)

	// finished is terminal
	assert.ErrorIs(t, r.Progress("R1", a, 10, 10, 10), ErrNotRacing)
	assert.ErrorIs(t, r.Finish("R1", b, 1, 1, 1), ErrNotRacing)
	assert.ErrorIs(t, r.Start("R1", a, "again"), ErrInvalidTransition)
	assert.Len(t, a.received(t, events.EventTypeRaceFinished), 1)
}

func TestRegistry_FinishedOnlyWhenEveryMemberFinished(t *testing.T) {
	r, _, _ := newTestRegistry(DefaultConfig())
	a, b, c := newMember("c-a", "a"), newMember("c-b", "b"), newMember("c-c", "c")
	for _, m := range []*fakeMember{a, b, c} {
		require.NoError(t, r.Join("R", m, events.PlayerData{}))
	}
	require.NoError(t, r.Start("R", a, "text"))

	require.NoError(t, r.Finish("R", a, 1, 1, 1))
	require.NoError(t, r.Finish("R", b, 1, 1, 1))

	snap, _ := r.Lookup("R")
	assert.Equal(t, string(StateRacing), snap.State)
	assert.Empty(t, c.received(t, events.EventTypeRaceFinished))

	// a second finish from the same player changes nothing
	assert.ErrorIs(t, r.Finish("R", a, 99, 99, 99), ErrAlreadyFinished)
	snap, _ = r.Lookup("R")
	p, _ := snap.Player("a")
	assert.Equal(t, 1.0, p.FinalWPM)
}

func TestRegistry_StartGuards(t *testing.T) {
	t.Run("non member", func(t *testing.T) {
		r, _, _ := newTestRegistry(DefaultConfig())
		a, x := newMember("c-a", "a"), newMember("c-x", "x")
		require.NoError(t, r.Join("R", a, events.PlayerData{}))

		assert.ErrorIs(t, r.Start("R", x, "text"), ErrPlayerNotFound)
		assert.ErrorIs(t, r.Start("missing", a, "text"), ErrRoomNotFound)
	})

	t.Run("reject restart", func(t *testing.T) {
		r, _, notifier := newTestRegistry(DefaultConfig())
		a := newMember("c-a", "a")
		require.NoError(t, r.Join("R", a, events.PlayerData{}))
		require.NoError(t, r.Start("R", a, "first"))

		assert.ErrorIs(t, r.Start("R", a, "second"), ErrInvalidTransition)
		snap, _ := r.Lookup("R")
		assert.Equal(t, "first", snap.Text)
		assert.Len(t, a.received(t, events.EventTypeRaceStarted), 1)
		assert.Len(t, notifier.started, 1)
	})

	t.Run("allow restart", func(t *testing.T) {
		r, clock, _ := newTestRegistry(Config{RestartPolicy: RestartAllow})
		a, b := newMember("c-a", "a"), newMember("c-b", "b")
		require.NoError(t, r.Join("R", a, events.PlayerData{}))
		require.NoError(t, r.Join("R", b, events.PlayerData{}))
		require.NoError(t, r.Start("R", a, "first"))
		require.NoError(t, r.Progress("R", b, 70, 50, 90))

		clock.Advance(time.Minute)
		require.NoError(t, r.Start("R", a, "second"))

		snap, _ := r.Lookup("R")
		assert.Equal(t, "second", snap.Text)
		require.NotNil(t, snap.StartTime)
		assert.True(t, snap.StartTime.Equal(epoch.Add(time.Minute)))
		p, _ := snap.Player("b")
		assert.Zero(t, p.Progress)
		assert.Len(t, b.received(t, events.EventTypeRaceStarted), 2)
	})
}

func TestRegistry_ProgressGuards(t *testing.T) {
	r, _, _ := newTestRegistry(DefaultConfig())
	a, b := newMember("c-a", "a"), newMember("c-b", "b")
	require.NoError(t, r.Join("R", a, events.PlayerData{}))
	require.NoError(t, r.Join("R", b, events.PlayerData{}))

	assert.ErrorIs(t, r.Progress("R", a, 10, 10, 10), ErrNotRacing)
	assert.ErrorIs(t, r.Finish("R", a, 10, 10, 10), ErrNotRacing)
	assert.ErrorIs(t, r.Progress("missing", a, 10, 10, 10), ErrRoomNotFound)
	assert.Empty(t, b.received(t, events.EventTypeRaceUpdate))

	require.NoError(t, r.Start("R", a, "text"))
	require.NoError(t, r.Progress("R", a, 60, 40, 100))
	require.NoError(t, r.Progress("R", a, 30, 35, 99))

	snap, _ := r.Lookup("R")
	p, _ := snap.Player("a")
	assert.Equal(t, 60.0, p.Progress)
	assert.Equal(t, 35.0, p.WPM)

	require.NoError(t, r.Progress("R", a, 150, 40, 100))
	snap, _ = r.Lookup("R")
	p, _ = snap.Player("a")
	assert.Equal(t, 100.0, p.Progress)

	require.NoError(t, r.Finish("R", a, 40, 100, 9))
	assert.ErrorIs(t, r.Progress("R", a, 100, 1, 1), ErrAlreadyFinished)
}

func TestRegistry_MidRaceDisconnect(t *testing.T) {
	r, _, notifier := newTestRegistry(DefaultConfig())
	a, b := newMember("c-a", "a"), newMember("c-b", "b")
	require.NoError(t, r.Join("R", a, events.PlayerData{}))
	require.NoError(t, r.Join("R", b, events.PlayerData{}))
	require.NoError(t, r.Start("R", a, "text"))

	r.Disconnect(b)

	snap, ok := r.Lookup("R")
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, playerIDs(snap))
	assert.Equal(t, string(StateRacing), snap.State)

	require.NoError(t, r.Finish("R", a, 50, 100, 8))
	snap, _ = r.Lookup("R")
	assert.Equal(t, string(StateFinished), snap.State)
	require.Len(t, notifier.finished, 1)
	assert.Len(t, notifier.finished[0], 1)

	r.Disconnect(a)
	_, ok = r.Lookup("R")
	assert.False(t, ok)
}

func TestRegistry_LastPlayerDisconnectWhileRacing(t *testing.T) {
	r, _, notifier := newTestRegistry(DefaultConfig())
	a := newMember("c-a", "a")
	require.NoError(t, r.Join("R", a, events.PlayerData{}))
	require.NoError(t, r.Start("R", a, "text"))

	r.Disconnect(a)

	_, ok := r.Lookup("R")
	assert.False(t, ok)
	assert.Empty(t, notifier.finished)
}

func TestRegistry_RejoinFromNewConnection(t *testing.T) {
	r, _, _ := newTestRegistry(DefaultConfig())
	old, fresh := newMember("c-1", "a"), newMember("c-2", "a")
	b := newMember("c-b", "b")

	require.NoError(t, r.Join("R", old, events.PlayerData{}))
	require.NoError(t, r.Join("R", b, events.PlayerData{}))
	require.NoError(t, r.Join("R", fresh, events.PlayerData{}))

	snap, _ := r.Lookup("R")
	assert.Equal(t, []string{"a", "b"}, playerIDs(snap))

	// the superseded connection dropping does not remove the player
	r.Disconnect(old)
	snap, ok := r.Lookup("R")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, playerIDs(snap))

	old.reset()
	fresh.reset()
	require.NoError(t, r.Chat("R", b, "hello"))
	assert.Empty(t, old.frames)
	assert.Len(t, fresh.received(t, events.EventTypeChatMessage), 1)
}

func TestRegistry_ChatAndTyping(t *testing.T) {
	r, clock, _ := newTestRegistry(DefaultConfig())
	a, b, x := newMember("c-a", "a"), newMember("c-b", "b"), newMember("c-x", "x")
	require.NoError(t, r.Join("R", a, events.PlayerData{}))
	require.NoError(t, r.Join("R", b, events.PlayerData{}))

	require.NoError(t, r.Chat("R", a, "glhf"))
	for _, m := range []*fakeMember{a, b} {
		msgs := m.received(t, events.EventTypeChatMessage)
		require.Len(t, msgs, 1)
		payload := decode[events.ChatPayload](t, msgs[0])
		assert.Equal(t, "a", payload.UserID)
		assert.Equal(t, "a@example.com", payload.Email)
		assert.Equal(t, "glhf", payload.Message)
		assert.True(t, payload.Timestamp.Equal(clock.Now()))
	}

	assert.ErrorIs(t, r.Chat("R", a, "   "), ErrEmptyMessage)
	assert.ErrorIs(t, r.Chat("R", x, "hi"), ErrPlayerNotFound)

	require.NoError(t, r.Typing("R", a, false))
	require.NoError(t, r.Typing("R", a, true))
	assert.Empty(t, a.received(t, events.EventTypeTypingStart))
	assert.Len(t, b.received(t, events.EventTypeTypingStart), 1)
	assert.Len(t, b.received(t, events.EventTypeTypingStop), 1)
	assert.ErrorIs(t, r.Typing("missing", a, false), ErrRoomNotFound)
}

func TestRegistry_Stats(t *testing.T) {
	r, _, _ := newTestRegistry(DefaultConfig())
	a, b, c := newMember("c-a", "a"), newMember("c-b", "b"), newMember("c-c", "c")
	require.NoError(t, r.Join("R1", a, events.PlayerData{}))
	require.NoError(t, r.Join("R1", b, events.PlayerData{}))
	require.NoError(t, r.Join("R2", c, events.PlayerData{}))
	require.NoError(t, r.Start("R2", c, "text"))

	stats := r.Stats()
	assert.Equal(t, 2, stats.Rooms)
	assert.Equal(t, 3, stats.Players)
	assert.Equal(t, map[string]int{"waiting": 1, "racing": 1}, stats.ByState)
}
