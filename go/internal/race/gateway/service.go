package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/race/presence"
	"github.com/mcdev12/typerace/go/internal/race/room"
)

// Service is the race gateway: WebSocket connections, rooms, races and presence
type Service struct {
	hub       *Hub
	wsHandler *WebSocketHandler
	cors      *cors.Cors
	auth      *Authenticator
}

// Config holds configuration for the race gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	Auth             AuthConfig
	Registry         room.Config
	AllowedOrigin    string
	HubQueueSize     int
	// PresenceHeartbeat refreshes recorded presence while users stay connected
	PresenceHeartbeat time.Duration
}

// DefaultConfig returns default configuration for the race gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		Registry:         room.DefaultConfig(),
		HubQueueSize:     1024,
	}
}

// Dependencies are the optional collaborators of the gateway
type Dependencies struct {
	Clock    clockwork.Clock
	Notifier room.Notifier
	Recorder presence.Recorder
	LastSeen LastSeenReader
}

// NewService creates a new race gateway service
func NewService(config Config, deps Dependencies) *Service {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	registry := room.NewRegistry(room.NewMemoryStore(), room.NewFanout(), deps.Clock, deps.Notifier, config.Registry)
	directory := presence.NewDirectory(deps.Clock, deps.Recorder)
	hub := NewHub(registry, directory, HubConfig{
		QueueSize:         config.HubQueueSize,
		PresenceHeartbeat: config.PresenceHeartbeat,
		Clock:             deps.Clock,
	})

	c := newCORS(config.AllowedOrigin)
	if config.ConnectionConfig.CheckOrigin == nil {
		config.ConnectionConfig.CheckOrigin = checkOrigin(c)
	}

	auth := NewAuthenticator(config.Auth, deps.Clock)
	wsHandler := NewWebSocketHandler(hub, auth, config.ConnectionConfig, deps.LastSeen)
	wsHandler.cookieAuth = cookieAuthAllowed(config.AllowedOrigin)

	return &Service{
		hub:       hub,
		wsHandler: wsHandler,
		cors:      c,
		auth:      auth,
	}
}

// Start runs the hub until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting race gateway service")

	s.hub.Run(ctx)

	log.Info().Msg("race gateway service shutting down")
	return s.Stop()
}

// Stop finishes shutdown. Connections are closed by the hub when its context ends.
func (s *Service) Stop() error {
	log.Info().Msg("race gateway service stopped")
	return nil
}

// RegisterRoutes registers the gateway HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("race gateway routes registered")
}

// Handler returns a mux with the gateway routes and a health check behind the CORS policy
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return s.cors.Handler(mux)
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats(ctx context.Context) (map[string]interface{}, error) {
	hubStats, err := s.hub.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"service":           "race_gateway",
		"status":            "running",
		"total_connections": hubStats.Connections,
		"online_users":      hubStats.OnlineUsers,
		"active_rooms":      hubStats.Rooms.Rooms,
		"players":           hubStats.Rooms.Players,
	}, nil
}

// Authenticator returns the token authenticator the gateway verifies handshakes with
func (s *Service) Authenticator() *Authenticator {
	return s.auth
}
