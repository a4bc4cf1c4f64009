package database

import (
	"time"

	"github.com/pkg/errors"

	"chatlink/internal/config"
)

// Config holds the transcript database settings.
type Config struct {
	Path            string
	MaxConnections  int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// WriteTimeout bounds how long a write waits for the single writer.
	WriteTimeout time.Duration
	// RetryDelay is the pause before the one retry of a failed write.
	RetryDelay time.Duration
}

// DefaultConfig returns settings suited to a single local client.
func DefaultConfig() *Config {
	return &Config{
		Path:            "./data/chatlink.db",
		MaxConnections:  4,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		WriteTimeout:    30 * time.Second,
		RetryDelay:      500 * time.Millisecond,
	}
}

// FromTranscript derives the database settings from the application config.
func FromTranscript(cfg *config.TranscriptConfig) *Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	if cfg.Path != "" {
		c.Path = cfg.Path
	}
	if cfg.Timeout > 0 {
		c.WriteTimeout = cfg.Timeout
	}
	return c
}

func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be greater than 0")
	}
	if c.RetryDelay < 0 {
		return errors.New("retry delay cannot be negative")
	}
	return nil
}
