package raceconfig

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingSecret        = errors.New("JWT_SECRET is required")
	ErrInvalidRestartPolicy = errors.New("restart policy must be reject or allow")
	ErrInvalidPort          = errors.New("port is required")
)

// Config holds the race gateway settings.
type Config struct {
	Port          string `yaml:"port"`
	LogLevel      string `yaml:"log_level"`
	AllowedOrigin string `yaml:"allowed_origin"`
	RestartPolicy string `yaml:"restart_policy"`

	Auth      AuthConfig      `yaml:"auth"`
	NATS      NATSConfig      `yaml:"nats"`
	Redis     RedisConfig     `yaml:"redis"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// NATSConfig enables race event export when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url"`
	Stream        string `yaml:"stream"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// RedisConfig enables the presence mirror when Addr is set.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PresenceTTL time.Duration `yaml:"presence_ttl"`
}

type WebSocketConfig struct {
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	SendBufferSize int           `yaml:"send_buffer_size"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Port:          "8082",
		LogLevel:      "info",
		RestartPolicy: "reject",
		Auth: AuthConfig{
			Issuer:   "typerace",
			TokenTTL: 24 * time.Hour,
		},
		NATS: NATSConfig{
			Stream:        "RACE_EVENTS",
			SubjectPrefix: "race.events",
		},
		Redis: RedisConfig{
			PresenceTTL: 10 * time.Minute,
		},
		WebSocket: WebSocketConfig{
			WriteTimeout:   10 * time.Second,
			ReadTimeout:    60 * time.Second,
			PingInterval:   30 * time.Second,
			MaxMessageSize: 64 * 1024,
			SendBufferSize: 256,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path (skipped when path
// is empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.AllowedOrigin = getEnv("ALLOWED_ORIGIN", c.AllowedOrigin)
	c.RestartPolicy = getEnv("RACE_RESTART_POLICY", c.RestartPolicy)

	c.Auth.Secret = getEnv("JWT_SECRET", c.Auth.Secret)
	c.Auth.Issuer = getEnv("JWT_ISSUER", c.Auth.Issuer)
	c.Auth.TokenTTL = getEnvAsDuration("JWT_TTL", c.Auth.TokenTTL)

	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.Stream = getEnv("NATS_STREAM", c.NATS.Stream)
	c.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", c.NATS.SubjectPrefix)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvAsInt("REDIS_DB", c.Redis.DB)
	c.Redis.PresenceTTL = getEnvAsDuration("PRESENCE_TTL", c.Redis.PresenceTTL)

	c.WebSocket.WriteTimeout = getEnvAsDuration("WS_WRITE_TIMEOUT", c.WebSocket.WriteTimeout)
	c.WebSocket.ReadTimeout = getEnvAsDuration("WS_READ_TIMEOUT", c.WebSocket.ReadTimeout)
	c.WebSocket.PingInterval = getEnvAsDuration("WS_PING_INTERVAL", c.WebSocket.PingInterval)
	c.WebSocket.MaxMessageSize = int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", int(c.WebSocket.MaxMessageSize)))
	c.WebSocket.SendBufferSize = getEnvAsInt("WS_SEND_BUFFER_SIZE", c.WebSocket.SendBufferSize)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Port == "" {
		return ErrInvalidPort
	}
	if c.Auth.Secret == "" {
		return ErrMissingSecret
	}
	if c.RestartPolicy != "reject" && c.RestartPolicy != "allow" {
		return fmt.Errorf("%w: %q", ErrInvalidRestartPolicy, c.RestartPolicy)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	if c.WebSocket.PingInterval >= c.WebSocket.ReadTimeout {
		return fmt.Errorf("websocket ping interval %s must be shorter than read timeout %s",
			c.WebSocket.PingInterval, c.WebSocket.ReadTimeout)
	}
	if c.Redis.Addr != "" && c.Redis.PresenceTTL < time.Second {
		return fmt.Errorf("presence ttl %s must be at least 1s", c.Redis.PresenceTTL)
	}
	return nil
}

// Level returns the parsed log level, defaulting to info.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
