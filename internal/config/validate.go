package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return errors.New("server.url is required")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server.url scheme must be ws or wss, got %q", u.Scheme)
	}
	if c.Server.PingTimeout <= c.Server.PingInterval {
		return fmt.Errorf("server.ping_timeout (%v) must exceed ping_interval (%v)", c.Server.PingTimeout, c.Server.PingInterval)
	}

	if c.Reconnect.MaxAttempts < -1 {
		return errors.New("reconnect.max_attempts must be >= -1")
	}
	if c.Reconnect.BaseDelay < 0 {
		return errors.New("reconnect.base_delay must be >= 0")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return fmt.Errorf("reconnect.base_delay (%v) cannot exceed max_delay (%v)", c.Reconnect.BaseDelay, c.Reconnect.MaxDelay)
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter > 1 {
		return fmt.Errorf("reconnect.jitter must be between 0 and 1, got %v", c.Reconnect.Jitter)
	}

	if c.Queue.Capacity < 1 {
		return errors.New("queue.capacity must be >= 1")
	}
	if c.Queue.MaxAge < 0 {
		return errors.New("queue.max_age must be >= 0")
	}

	if c.Rooms.SwitchTimeout < 0 {
		return errors.New("rooms.switch_timeout must be >= 0")
	}
	if c.Requests.DefaultTimeout < 0 {
		return errors.New("requests.default_timeout must be >= 0")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json", "console":
	default:
		return fmt.Errorf("logging.format must be text, json or console, got %q", c.Logging.Format)
	}

	return nil
}
