// Package config loads client configuration from a YAML file, expands
// ${VAR} references, and applies PROJECTLINK_* environment overrides.
//
// Precedence, lowest first: built-in defaults, YAML file, environment.
package config

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rickgao/projectlink/internal/connection"
	"github.com/rickgao/projectlink/internal/queue"
	"github.com/rickgao/projectlink/internal/realtime"
	"github.com/rickgao/projectlink/internal/request"
	"github.com/rickgao/projectlink/internal/room"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "PROJECTLINK_"

// Config is the root client configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Reconnect ReconnectConfig `yaml:"reconnect" envPrefix:"RECONNECT_"`
	Queue     QueueConfig     `yaml:"queue" envPrefix:"QUEUE_"`
	Rooms     RoomsConfig     `yaml:"rooms" envPrefix:"ROOMS_"`
	Requests  RequestsConfig  `yaml:"requests" envPrefix:"REQUESTS_"`
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"LOG_"`
}

// ServerConfig describes the WebSocket endpoint.
type ServerConfig struct {
	URL              string            `yaml:"url" env:"URL"`
	Headers          map[string]string `yaml:"headers" env:"HEADERS"` // env form: k1:v1,k2:v2
	HandshakeTimeout time.Duration     `yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
	PingInterval     time.Duration     `yaml:"ping_interval" env:"PING_INTERVAL"`
	PingTimeout      time.Duration     `yaml:"ping_timeout" env:"PING_TIMEOUT"`
	WriteTimeout     time.Duration     `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ReadLimit        int64             `yaml:"read_limit" env:"READ_LIMIT"`
}

// ReconnectConfig holds the backoff schedule.
type ReconnectConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"` // -1 retries forever
	BaseDelay   time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
	MaxDelay    time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	Jitter      float64       `yaml:"jitter" env:"JITTER"`
}

// QueueConfig bounds the offline outbound queue.
type QueueConfig struct {
	Capacity int           `yaml:"capacity" env:"CAPACITY"`
	MaxAge   time.Duration `yaml:"max_age" env:"MAX_AGE"`
}

// RoomsConfig holds room and project settings.
type RoomsConfig struct {
	Join            []string      `yaml:"join" env:"JOIN"` // Rooms joined at startup
	Project         string        `yaml:"project" env:"PROJECT"`
	SwitchTimeout   time.Duration `yaml:"switch_timeout" env:"SWITCH_TIMEOUT"`
	RevertOnFailure bool          `yaml:"revert_on_failure" env:"REVERT_ON_FAILURE"`
}

// RequestsConfig holds emit-and-wait settings.
type RequestsConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"FORMAT"` // text, json, console
}

// SlogLevel maps Level to a slog.Level. Unknown values map to info.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Realtime converts the file configuration into client configuration.
func (c *Config) Realtime() realtime.Config {
	transport := connection.DefaultClientConfig()
	transport.URL = c.Server.URL
	transport.HandshakeTimeout = c.Server.HandshakeTimeout
	transport.PingInterval = c.Server.PingInterval
	transport.PingTimeout = c.Server.PingTimeout
	transport.WriteTimeout = c.Server.WriteTimeout
	transport.ReadLimit = c.Server.ReadLimit
	if len(c.Server.Headers) > 0 {
		transport.Header = http.Header{}
		for k, v := range c.Server.Headers {
			transport.Header.Set(k, v)
		}
	}

	return realtime.Config{
		Transport: transport,
		Reconnect: connection.ManagerConfig{
			MaxAttempts:        c.Reconnect.MaxAttempts,
			ReconnectBaseDelay: c.Reconnect.BaseDelay,
			ReconnectMaxDelay:  c.Reconnect.MaxDelay,
			Jitter:             c.Reconnect.Jitter,
		},
		Queue: queue.Config{
			Capacity: c.Queue.Capacity,
			MaxAge:   c.Queue.MaxAge,
		},
		Rooms: room.Config{
			SwitchTimeout:   c.Rooms.SwitchTimeout,
			RevertOnFailure: c.Rooms.RevertOnFailure,
		},
		Requests: request.Config{
			DefaultTimeout: c.Requests.DefaultTimeout,
		},
	}
}
