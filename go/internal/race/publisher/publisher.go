package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/race/events"
)

// Event types exported on the stream
const (
	EventTypeRaceStarted  = "RaceStarted"
	EventTypeRaceFinished = "RaceFinished"
)

// JetStreamConfig holds configuration for the race event stream
type JetStreamConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	MaxAge        time.Duration // How long to keep messages
	QueueSize     int
}

// DefaultJetStreamConfig returns default stream configuration
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:           nats.DefaultURL,
		StreamName:    "RACE_EVENTS",
		SubjectPrefix: "race.events",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
		MaxAge:        24 * time.Hour,
		QueueSize:     256,
	}
}

// RaceStartedPayload is exported when a race starts
type RaceStartedPayload struct {
	RoomID    string    `json:"room_id"`
	Text      string    `json:"text"`
	StartTime time.Time `json:"start_time"`
	PlayerIDs []string  `json:"player_ids"`
}

// RaceFinishedPayload is exported when every player of a race has finished. The results
// collaborator persists these for history and leaderboards.
type RaceFinishedPayload struct {
	RoomID     string                `json:"room_id"`
	FinishedAt time.Time             `json:"finished_at"`
	Results    []events.PlayerResult `json:"results"`
}

// Event is one message queued for the stream
type Event struct {
	ID        uuid.UUID
	RoomID    string
	EventType string
	Payload   []byte
	CreatedAt time.Time
}

// streamPublisher is the part of jetstream.JetStream the publisher uses
type streamPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher exports race lifecycle events to JetStream. Enqueueing never blocks the caller;
// Run drains the queue.
type Publisher struct {
	js     streamPublisher
	nc     *nats.Conn
	config JetStreamConfig
	queue  chan Event
}

// Connect dials NATS, ensures the stream exists and returns a publisher
func Connect(ctx context.Context, cfg JetStreamConfig) (*Publisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	if err := ensureStream(ctx, js, cfg); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	p := New(js, cfg)
	p.nc = nc
	return p, nil
}

// New creates a publisher over an existing JetStream handle
func New(js streamPublisher, cfg JetStreamConfig) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultJetStreamConfig().QueueSize
	}
	return &Publisher{
		js:     js,
		config: cfg,
		queue:  make(chan Event, cfg.QueueSize),
	}
}

func ensureStream(ctx context.Context, js jetstream.JetStream, cfg JetStreamConfig) error {
	sc := jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Race lifecycle events",
		Subjects:    []string{fmt.Sprintf("%s.>", cfg.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		Storage:     jetstream.FileStorage,
	}

	if _, err := js.Stream(ctx, cfg.StreamName); err != nil {
		if _, err = js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", cfg.StreamName).Msg("created JetStream stream")
		return nil
	}
	log.Info().Str("stream", cfg.StreamName).Msg("using existing JetStream stream")
	return nil
}

// RaceStarted queues a RaceStarted event
func (p *Publisher) RaceStarted(roomID, text string, startTime time.Time, playerIDs []string) {
	p.enqueue(roomID, EventTypeRaceStarted, RaceStartedPayload{
		RoomID:    roomID,
		Text:      text,
		StartTime: startTime,
		PlayerIDs: playerIDs,
	})
}

// RaceFinished queues a RaceFinished event
func (p *Publisher) RaceFinished(roomID string, finishedAt time.Time, results []events.PlayerResult) {
	p.enqueue(roomID, EventTypeRaceFinished, RaceFinishedPayload{
		RoomID:     roomID,
		FinishedAt: finishedAt,
		Results:    results,
	})
}

func (p *Publisher) enqueue(roomID, eventType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal race event")
		return
	}

	event := Event{
		ID:        uuid.New(),
		RoomID:    roomID,
		EventType: eventType,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}

	select {
	case p.queue <- event:
	default:
		log.Warn().
			Str("room_id", roomID).
			Str("event_type", eventType).
			Msg("race event queue full, dropping event")
	}
}

// Run publishes queued events until ctx is cancelled
func (p *Publisher) Run(ctx context.Context) {
	log.Info().Str("stream", p.config.StreamName).Msg("race event publisher started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("race event publisher shutting down")
			return
		case event := <-p.queue:
			if err := p.Publish(ctx, event); err != nil {
				log.Error().
					Err(err).
					Str("event_id", event.ID.String()).
					Str("event_type", event.EventType).
					Msg("failed to publish race event")
			}
		}
	}
}

// Publish sends one event to the stream
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	subject := p.Subject(event.EventType)

	data, err := encodeEnvelope(event)
	if err != nil {
		return err
	}

	ack, err := p.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{event.EventType},
			"Room-ID":    []string{event.RoomID},
			"Event-ID":   []string{event.ID.String()},
		},
	},
		jetstream.WithMsgID(event.ID.String()),
		jetstream.WithExpectStream(p.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", event.ID.String()).
		Uint64("sequence", ack.Sequence).
		Msg("published race event")
	return nil
}

// Subject returns the stream subject for an event type
func (p *Publisher) Subject(eventType string) string {
	return fmt.Sprintf("%s.%s", p.config.SubjectPrefix, eventType)
}

// Close closes the NATS connection if the publisher owns one
func (p *Publisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

func encodeEnvelope(event Event) ([]byte, error) {
	env := map[string]interface{}{
		"eventId":   event.ID.String(),
		"eventType": event.EventType,
		"roomId":    event.RoomID,
		"timestamp": event.CreatedAt,
		"payload":   json.RawMessage(event.Payload),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}
