package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/race/events"
)

var (
	ErrNoCredentials = errors.New("no credentials")
	ErrNotConnected  = errors.New("not connected")
	ErrUnauthorized  = errors.New("handshake rejected")
)

// Config holds client connection settings
type Config struct {
	// URL is the race socket, e.g. ws://localhost:8082/ws/race
	URL          string
	Dialer       *websocket.Dialer
	WriteTimeout time.Duration
	UpdateBuffer int
}

// DefaultConfig returns default client configuration for a gateway URL
func DefaultConfig(url string) Config {
	return Config{
		URL:          url,
		Dialer:       websocket.DefaultDialer,
		WriteTimeout: 10 * time.Second,
		UpdateBuffer: 256,
	}
}

// SyncContext mirrors the room this client is in. The mirror only changes when the server
// says so; intents are sent and forgotten.
type SyncContext struct {
	config Config

	mu     sync.RWMutex
	token  string
	conn   *websocket.Conn
	roomID string
	room   *events.RoomSnapshot

	writeMu sync.Mutex
	updates chan events.Envelope
}

// New creates a sync context
func New(config Config) *SyncContext {
	if config.Dialer == nil {
		config.Dialer = websocket.DefaultDialer
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.UpdateBuffer <= 0 {
		config.UpdateBuffer = 256
	}
	return &SyncContext{
		config:  config,
		updates: make(chan events.Envelope, config.UpdateBuffer),
	}
}

// SetCredentials stores the token presented at the next Connect
func (s *SyncContext) SetCredentials(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// ClearCredentials drops the token, closes the connection and forgets the local room
func (s *SyncContext) ClearCredentials() {
	s.mu.Lock()
	s.token = ""
	conn := s.conn
	s.conn = nil
	s.roomID = ""
	s.room = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Connect dials the gateway with the stored token. A previous room is not rejoined.
func (s *SyncContext) Connect(ctx context.Context) error {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token == "" {
		return ErrNoCredentials
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := s.config.Dialer.DialContext(ctx, s.config.URL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		return fmt.Errorf("dial %s: %w", s.config.URL, err)
	}

	s.mu.Lock()
	prev := s.conn
	s.conn = conn
	s.roomID = ""
	s.room = nil
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	go s.listen(conn)
	return nil
}

// Close closes the connection and forgets the local room. Credentials are kept.
func (s *SyncContext) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.roomID = ""
	s.room = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Connected reports whether a connection is open
func (s *SyncContext) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil
}

// Room returns a copy of the local room, if any
func (s *SyncContext) Room() (events.RoomSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.room == nil {
		return events.RoomSnapshot{}, false
	}
	snap := *s.room
	snap.Players = append([]events.PlayerSnapshot(nil), s.room.Players...)
	return snap, true
}

// Updates delivers every server message after it has been applied to the mirror. Messages
// are dropped when the consumer falls behind.
func (s *SyncContext) Updates() <-chan events.Envelope {
	return s.updates
}

// JoinRoom asks to join a room. The local room appears with the first snapshot.
func (s *SyncContext) JoinRoom(roomID, name string) error {
	s.mu.Lock()
	if s.roomID != roomID {
		s.roomID = roomID
		s.room = nil
	}
	s.mu.Unlock()

	return s.send(&events.JoinRoomCommand{RoomID: roomID, PlayerData: events.PlayerData{Name: name}})
}

// LeaveRoom leaves a room and detaches the local mirror from it
func (s *SyncContext) LeaveRoom(roomID string) error {
	s.mu.Lock()
	if s.roomID == roomID {
		s.roomID = ""
		s.room = nil
	}
	s.mu.Unlock()

	return s.send(&events.LeaveRoomCommand{RoomID: roomID})
}

func (s *SyncContext) StartRace(roomID, text string) error {
	return s.send(&events.StartRaceCommand{RoomID: roomID, Text: text})
}

func (s *SyncContext) UpdateProgress(roomID string, progress, wpm, accuracy float64) error {
	return s.send(&events.ProgressCommand{RoomID: roomID, Progress: progress, WPM: wpm, Accuracy: accuracy})
}

// FinishRace reports final stats; elapsed is the race time in seconds measured from the
// server start time
func (s *SyncContext) FinishRace(roomID string, wpm, accuracy, elapsed float64) error {
	return s.send(&events.FinishCommand{RoomID: roomID, WPM: wpm, Accuracy: accuracy, Time: elapsed})
}

func (s *SyncContext) SendChatMessage(roomID, message string) error {
	return s.send(&events.ChatCommand{RoomID: roomID, Message: message})
}

func (s *SyncContext) SendTyping(roomID string, stop bool) error {
	return s.send(&events.TypingCommand{RoomID: roomID, Stop: stop})
}

func (s *SyncContext) SendFriendRequest(targetUserID string) error {
	return s.send(&events.FriendRequestCommand{TargetUserID: targetUserID})
}

func (s *SyncContext) AcceptFriendRequest(targetUserID string) error {
	return s.send(&events.FriendAcceptCommand{TargetUserID: targetUserID})
}

func (s *SyncContext) send(cmd events.Command) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	frame, err := events.EncodeCommand(cmd)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", cmd.Type(), err)
	}
	return nil
}

func (s *SyncContext) listen(conn *websocket.Conn) {
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
			s.roomID = ""
			s.room = nil
		}
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("race connection closed")
			return
		}

		var env events.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Warn().Err(err).Msg("failed to parse server message")
			continue
		}

		if err := s.apply(env); err != nil {
			log.Warn().Err(err).Str("event_type", string(env.Type)).Msg("failed to apply server message")
		}

		select {
		case s.updates <- env:
		default:
		}
	}
}

// apply folds one server message into the local room
func (s *SyncContext) apply(env events.Envelope) error {
	payload, err := events.ParseEventPayload(env)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if snap, ok := payload.(events.RoomSnapshot); ok {
		if snap.ID == s.roomID {
			s.room = &snap
		}
		return nil
	}

	rm := s.room
	if rm == nil {
		return nil
	}

	switch p := payload.(type) {
	case events.RaceStartedPayload:
		start := p.StartTime
		rm.State = "racing"
		rm.Text = p.Text
		rm.StartTime = &start
		for i := range rm.Players {
			rm.Players[i] = events.PlayerSnapshot{
				ID:    rm.Players[i].ID,
				Email: rm.Players[i].Email,
				Name:  rm.Players[i].Name,
			}
		}

	case events.RaceUpdatePayload:
		if player, ok := rm.Player(p.PlayerID); ok {
			player.Progress = p.Progress
			player.WPM = p.WPM
			player.Accuracy = p.Accuracy
		}

	case events.PlayerFinishedPayload:
		if player, ok := rm.Player(p.PlayerID); ok {
			player.Finished = true
			player.Progress = 100
			player.WPM = p.WPM
			player.Accuracy = p.Accuracy
			player.FinalWPM = p.WPM
			player.FinalAccuracy = p.Accuracy
			player.FinishTime = p.Time
		}

	case events.RaceFinishedPayload:
		rm.State = "finished"
		for _, result := range p.Results {
			if player, ok := rm.Player(result.ID); ok {
				player.Finished = true
				player.FinalWPM = result.WPM
				player.FinalAccuracy = result.Accuracy
				player.FinishTime = result.Time
			}
		}
	}
	return nil
}
