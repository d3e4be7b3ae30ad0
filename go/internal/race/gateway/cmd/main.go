package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/typerace/go/internal/race/gateway"
	"github.com/mcdev12/typerace/go/internal/race/presence"
	"github.com/mcdev12/typerace/go/internal/race/publisher"
	"github.com/mcdev12/typerace/go/internal/race/room"
	"github.com/mcdev12/typerace/go/internal/raceconfig"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := raceconfig.Load(os.Getenv("RACE_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	log.Info().
		Str("port", cfg.Port).
		Str("allowed_origin", cfg.AllowedOrigin).
		Str("restart_policy", cfg.RestartPolicy).
		Bool("nats", cfg.NATS.URL != "").
		Bool("redis", cfg.Redis.Addr != "").
		Msg("starting race gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := gateway.Dependencies{}

	if cfg.NATS.URL != "" {
		jsCfg := publisher.DefaultJetStreamConfig()
		jsCfg.URL = cfg.NATS.URL
		jsCfg.StreamName = cfg.NATS.Stream
		jsCfg.SubjectPrefix = cfg.NATS.SubjectPrefix

		pub, err := publisher.Connect(ctx, jsCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect race event publisher")
		}
		defer pub.Close()

		go pub.Run(ctx)
		deps.Notifier = pub
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("failed to connect to redis")
		}

		recorder := presence.NewRedisRecorder(rdb, cfg.Redis.PresenceTTL)
		deps.Recorder = recorder
		deps.LastSeen = recorder
	}

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.ConnectionConfig.WriteTimeout = cfg.WebSocket.WriteTimeout
	gatewayConfig.ConnectionConfig.ReadTimeout = cfg.WebSocket.ReadTimeout
	gatewayConfig.ConnectionConfig.PingInterval = cfg.WebSocket.PingInterval
	gatewayConfig.ConnectionConfig.MaxMessageSize = cfg.WebSocket.MaxMessageSize
	gatewayConfig.ConnectionConfig.SendBufferSize = cfg.WebSocket.SendBufferSize
	gatewayConfig.Auth = gateway.AuthConfig{
		Secret:   cfg.Auth.Secret,
		Issuer:   cfg.Auth.Issuer,
		TokenTTL: cfg.Auth.TokenTTL,
	}
	gatewayConfig.Registry = room.Config{RestartPolicy: room.RestartPolicy(cfg.RestartPolicy)}
	gatewayConfig.AllowedOrigin = cfg.AllowedOrigin
	if deps.Recorder != nil {
		// refresh well inside the TTL so connected users never expire
		gatewayConfig.PresenceHeartbeat = cfg.Redis.PresenceTTL / 3
	}

	gatewayService := gateway.NewService(gatewayConfig, deps)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     h2c.NewHandler(gatewayService.Handler(), &http2.Server{}),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Cancel service context to close every connection
	cancel()

	// Give connections time to send close frames
	time.Sleep(1 * time.Second)

	log.Info().Msg("race gateway shutdown complete")
}
