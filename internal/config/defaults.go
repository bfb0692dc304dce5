package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultPingInterval     = 25 * time.Second
	DefaultPingTimeout      = 60 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultReadLimit        = 1 << 20
	DefaultMaxAttempts      = 5
	DefaultBaseDelay        = 1 * time.Second
	DefaultMaxDelay         = 16 * time.Second
	DefaultJitter           = 0.1
	DefaultQueueCapacity    = 100
	DefaultQueueMaxAge      = 5 * time.Minute
	DefaultSwitchTimeout    = 10 * time.Second
	DefaultRequestTimeout   = 10 * time.Second
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.HandshakeTimeout == 0 {
		c.Server.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = DefaultPingInterval
	}
	if c.Server.PingTimeout == 0 {
		c.Server.PingTimeout = DefaultPingTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.ReadLimit == 0 {
		c.Server.ReadLimit = DefaultReadLimit
	}

	// Reconnect defaults
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = DefaultMaxAttempts
	}
	if c.Reconnect.BaseDelay == 0 {
		c.Reconnect.BaseDelay = DefaultBaseDelay
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = DefaultMaxDelay
	}
	if c.Reconnect.Jitter == 0 {
		c.Reconnect.Jitter = DefaultJitter
	}

	// Queue defaults
	if c.Queue.Capacity == 0 {
		c.Queue.Capacity = DefaultQueueCapacity
	}
	if c.Queue.MaxAge == 0 {
		c.Queue.MaxAge = DefaultQueueMaxAge
	}

	if c.Rooms.SwitchTimeout == 0 {
		c.Rooms.SwitchTimeout = DefaultSwitchTimeout
	}
	if c.Requests.DefaultTimeout == 0 {
		c.Requests.DefaultTimeout = DefaultRequestTimeout
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}
