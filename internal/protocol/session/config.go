package session

import (
	"time"

	"github.com/danmuck/edgewire/internal/protocol/frame"
)

// Config defines transport/session defaults shared by client and server sessions.
// Zero read/write timeouts leave socket operations without deadlines.
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Limits         frame.Limits
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		Limits:         frame.DefaultLimits(),
	}
}

// WithDefaults fills unset fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.ReadTimeout < 0 {
		c.ReadTimeout = 0
	}
	if c.WriteTimeout < 0 {
		c.WriteTimeout = 0
	}
	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits = def.Limits
	}
	return c
}

// ReadDeadline returns the deadline for the next read, or the zero time when unbounded.
func (c Config) ReadDeadline(now time.Time) time.Time {
	if c.ReadTimeout <= 0 {
		return time.Time{}
	}
	return now.Add(c.ReadTimeout)
}

// WriteDeadline returns the deadline for the next write, or the zero time when unbounded.
func (c Config) WriteDeadline(now time.Time) time.Time {
	if c.WriteTimeout <= 0 {
		return time.Time{}
	}
	return now.Add(c.WriteTimeout)
}
