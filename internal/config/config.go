package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"chatlink/pkg/types"
)

// EnvPrefix is prepended to every environment variable the loader reads.
const EnvPrefix = "CHATLINK_"

// Config is the settings tree shared by the chat client and the relay.
type Config struct {
	Client     *ClientConfig     `json:"client" envPrefix:"CLIENT_"`
	Socket     *SocketConfig     `json:"socket" envPrefix:"SOCKET_"`
	ShortPoll  *ShortPollConfig  `json:"short_poll" envPrefix:"SHORT_POLL_"`
	LongPoll   *LongPollConfig   `json:"long_poll" envPrefix:"LONG_POLL_"`
	Relay      *RelayConfig      `json:"relay" envPrefix:"RELAY_"`
	Redis      *RedisConfig      `json:"redis" envPrefix:"REDIS_"`
	Transcript *TranscriptConfig `json:"transcript" envPrefix:"TRANSCRIPT_"`
	Log        *LogConfig        `json:"log" envPrefix:"LOG_"`
}

// ClientConfig points the client at a relay and names the participant.
type ClientConfig struct {
	ServerURL   string `json:"server_url" env:"SERVER_URL"`
	ClientID    string `json:"client_id" env:"ID"`
	InitialMode string `json:"initial_mode" env:"INITIAL_MODE"`
}

// SocketConfig tunes the persistent-connection strategy.
type SocketConfig struct {
	HandshakeTimeout time.Duration `json:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
	// ReadTimeout of zero leaves the read deadline unset; otherwise each pong
	// or frame pushes the deadline forward by this amount.
	ReadTimeout time.Duration `json:"read_timeout" env:"READ_TIMEOUT"`
}

// ShortPollConfig tunes the fixed-interval polling strategy.
type ShortPollConfig struct {
	Interval       time.Duration `json:"interval" env:"INTERVAL"`
	RequestTimeout time.Duration `json:"request_timeout" env:"REQUEST_TIMEOUT"`
}

// LongPollConfig tunes the chained long-poll strategy.
type LongPollConfig struct {
	RequestTimeout time.Duration `json:"request_timeout" env:"REQUEST_TIMEOUT"`
	// RetryDelay pauses the chain after a failed request. Zero re-issues
	// immediately.
	RetryDelay time.Duration `json:"retry_delay" env:"RETRY_DELAY"`
}

// RelayConfig configures the development relay server.
type RelayConfig struct {
	Host          string        `json:"host" env:"HOST"`
	Port          int           `json:"port" env:"PORT"`
	ReadTimeout   time.Duration `json:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout  time.Duration `json:"write_timeout" env:"WRITE_TIMEOUT"`
	LongPollHold  time.Duration `json:"long_poll_hold" env:"LONG_POLL_HOLD"`
	PingInterval  time.Duration `json:"ping_interval" env:"PING_INTERVAL"`
	RateLimit     int           `json:"rate_limit" env:"RATE_LIMIT"`
	QueueLimit    int           `json:"queue_limit" env:"QUEUE_LIMIT"`
	Mailbox       string        `json:"mailbox" env:"MAILBOX"`
	LegacyRoutes  bool          `json:"legacy_routes" env:"LEGACY_ROUTES"`
	AllowedOrigin []string      `json:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
}

// RedisConfig is used when the relay mailbox backend is "redis".
type RedisConfig struct {
	Addr      string        `json:"addr" env:"ADDR"`
	Password  string        `json:"password" env:"PASSWORD"`
	DB        int           `json:"db" env:"DB"`
	PoolSize  int           `json:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string        `json:"key_prefix" env:"KEY_PREFIX"`
	TTL       time.Duration `json:"ttl" env:"TTL"`
}

// TranscriptConfig controls the local record of delivered messages.
type TranscriptConfig struct {
	Enabled bool          `json:"enabled" env:"ENABLED"`
	Path    string        `json:"path" env:"PATH"`
	Timeout time.Duration `json:"timeout" env:"TIMEOUT"`
}

// LogConfig selects the zap level and encoding.
type LogConfig struct {
	Level       string `json:"level" env:"LEVEL"`
	Development bool   `json:"development" env:"DEVELOPMENT"`
}

// Mailbox backends understood by the relay.
const (
	MailboxMemory = "memory"
	MailboxRedis  = "redis"
)

// DefaultConfig puts the relay on :5000 with 2s short
// polls and a 10s server-side long-poll hold.
func DefaultConfig() *Config {
	return &Config{
		Client: &ClientConfig{
			ServerURL:   "http://localhost:5000",
			InitialMode: types.ModeDisconnected.String(),
		},
		Socket: &SocketConfig{
			HandshakeTimeout: 10 * time.Second,
			ReadTimeout:      0,
		},
		ShortPoll: &ShortPollConfig{
			Interval:       2 * time.Second,
			RequestTimeout: 5 * time.Second,
		},
		LongPoll: &LongPollConfig{
			RequestTimeout: 30 * time.Second,
		},
		Relay: &RelayConfig{
			Host:          "0.0.0.0",
			Port:          5000,
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  30 * time.Second,
			LongPollHold:  10 * time.Second,
			PingInterval:  30 * time.Second,
			RateLimit:     100,
			QueueLimit:    1000,
			Mailbox:       MailboxMemory,
			LegacyRoutes:  true,
			AllowedOrigin: []string{"*"},
		},
		Redis: &RedisConfig{
			Addr:      "127.0.0.1:6379",
			PoolSize:  10,
			KeyPrefix: "chatlink:mailbox:",
			TTL:       24 * time.Hour,
		},
		Transcript: &TranscriptConfig{
			Enabled: true,
			Path:    "./data/chatlink.db",
			Timeout: 30 * time.Second,
		},
		Log: &LogConfig{
			Level: "info",
		},
	}
}

// Validate checks every section and the relations between them.
func (c *Config) Validate() error {
	if c.Client == nil {
		return fmt.Errorf("client configuration is required")
	}
	u, err := url.Parse(c.Client.ServerURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("client server URL must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("client server URL scheme must be http or https")
	}
	if c.Client.ClientID != "" && !types.IsValidClientID(c.Client.ClientID) {
		return fmt.Errorf("client ID: %w", types.ErrInvalidClientID)
	}
	if _, err := types.ParseMode(c.Client.InitialMode); err != nil {
		return fmt.Errorf("client initial mode %q: %w", c.Client.InitialMode, err)
	}

	if c.Socket == nil {
		return fmt.Errorf("socket configuration is required")
	}
	if c.Socket.HandshakeTimeout <= 0 {
		return fmt.Errorf("socket handshake timeout must be positive")
	}
	if c.Socket.ReadTimeout < 0 {
		return fmt.Errorf("socket read timeout cannot be negative")
	}

	if c.ShortPoll == nil {
		return fmt.Errorf("short poll configuration is required")
	}
	if c.ShortPoll.Interval <= 0 {
		return fmt.Errorf("short poll interval must be positive")
	}
	if c.ShortPoll.RequestTimeout <= 0 {
		return fmt.Errorf("short poll request timeout must be positive")
	}

	if c.LongPoll == nil {
		return fmt.Errorf("long poll configuration is required")
	}
	if c.LongPoll.RequestTimeout <= 0 {
		return fmt.Errorf("long poll request timeout must be positive")
	}
	if c.LongPoll.RetryDelay < 0 {
		return fmt.Errorf("long poll retry delay cannot be negative")
	}

	if c.Relay == nil {
		return fmt.Errorf("relay configuration is required")
	}
	if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
		return fmt.Errorf("relay port must be between 1 and 65535")
	}
	if c.Relay.Host == "" {
		return fmt.Errorf("relay host cannot be empty")
	}
	if c.Relay.ReadTimeout <= 0 || c.Relay.WriteTimeout <= 0 {
		return fmt.Errorf("relay read and write timeouts must be positive")
	}
	if c.Relay.LongPollHold <= 0 {
		return fmt.Errorf("relay long poll hold must be positive")
	}
	if c.Relay.WriteTimeout <= c.Relay.LongPollHold {
		return fmt.Errorf("relay write timeout must exceed the long poll hold")
	}
	if c.LongPoll.RequestTimeout <= c.Relay.LongPollHold {
		return fmt.Errorf("long poll request timeout must exceed the relay long poll hold")
	}
	if c.Relay.PingInterval <= 0 {
		return fmt.Errorf("relay ping interval must be positive")
	}
	if c.Relay.RateLimit <= 0 {
		return fmt.Errorf("relay rate limit must be positive")
	}
	if c.Relay.QueueLimit <= 0 {
		return fmt.Errorf("relay queue limit must be positive")
	}
	switch c.Relay.Mailbox {
	case MailboxMemory:
	case MailboxRedis:
		if c.Redis == nil || c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for the redis mailbox")
		}
		if c.Redis.KeyPrefix == "" {
			return fmt.Errorf("redis key prefix cannot be empty")
		}
		if c.Redis.TTL < 0 {
			return fmt.Errorf("redis TTL cannot be negative")
		}
	default:
		return fmt.Errorf("unknown relay mailbox %q", c.Relay.Mailbox)
	}

	if c.Transcript == nil {
		return fmt.Errorf("transcript configuration is required")
	}
	if c.Transcript.Enabled && c.Transcript.Path == "" {
		return fmt.Errorf("transcript path cannot be empty when enabled")
	}
	if c.Transcript.Enabled && c.Transcript.Timeout <= 0 {
		return fmt.Errorf("transcript timeout must be positive")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}

	return nil
}

// LoadFromEnv applies CHATLINK_* variables over the defaults.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ConfigFile mirrors Config for JSON files, with durations as strings.
type ConfigFile struct {
	Client     *ClientConfig         `json:"client"`
	Socket     *SocketConfigFile     `json:"socket"`
	ShortPoll  *ShortPollConfigFile  `json:"short_poll"`
	LongPoll   *LongPollConfigFile   `json:"long_poll"`
	Relay      *RelayConfigFile      `json:"relay"`
	Redis      *RedisConfigFile      `json:"redis"`
	Transcript *TranscriptConfigFile `json:"transcript"`
	Log        *LogConfig            `json:"log"`
}

type SocketConfigFile struct {
	HandshakeTimeout string `json:"handshake_timeout"`
	ReadTimeout      string `json:"read_timeout"`
}

type ShortPollConfigFile struct {
	Interval       string `json:"interval"`
	RequestTimeout string `json:"request_timeout"`
}

type LongPollConfigFile struct {
	RequestTimeout string `json:"request_timeout"`
	RetryDelay     string `json:"retry_delay"`
}

type RelayConfigFile struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	ReadTimeout    string   `json:"read_timeout"`
	WriteTimeout   string   `json:"write_timeout"`
	LongPollHold   string   `json:"long_poll_hold"`
	PingInterval   string   `json:"ping_interval"`
	RateLimit      int      `json:"rate_limit"`
	QueueLimit     int      `json:"queue_limit"`
	Mailbox        string   `json:"mailbox"`
	LegacyRoutes   *bool    `json:"legacy_routes"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type RedisConfigFile struct {
	Addr      string `json:"addr"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	PoolSize  int    `json:"pool_size"`
	KeyPrefix string `json:"key_prefix"`
	TTL       string `json:"ttl"`
}

type TranscriptConfigFile struct {
	Enabled *bool  `json:"enabled"`
	Path    string `json:"path"`
	Timeout string `json:"timeout"`
}

// LoadFromFile reads a JSON file over the defaults and validates the result.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := applyFile(cfg, path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if file.Client != nil {
		setString(&cfg.Client.ServerURL, file.Client.ServerURL)
		setString(&cfg.Client.ClientID, file.Client.ClientID)
		setString(&cfg.Client.InitialMode, file.Client.InitialMode)
	}

	if file.Socket != nil {
		if err := setDuration(&cfg.Socket.HandshakeTimeout, file.Socket.HandshakeTimeout); err != nil {
			return err
		}
		if err := setDuration(&cfg.Socket.ReadTimeout, file.Socket.ReadTimeout); err != nil {
			return err
		}
	}

	if file.ShortPoll != nil {
		if err := setDuration(&cfg.ShortPoll.Interval, file.ShortPoll.Interval); err != nil {
			return err
		}
		if err := setDuration(&cfg.ShortPoll.RequestTimeout, file.ShortPoll.RequestTimeout); err != nil {
			return err
		}
	}

	if file.LongPoll != nil {
		if err := setDuration(&cfg.LongPoll.RequestTimeout, file.LongPoll.RequestTimeout); err != nil {
			return err
		}
		if err := setDuration(&cfg.LongPoll.RetryDelay, file.LongPoll.RetryDelay); err != nil {
			return err
		}
	}

	if r := file.Relay; r != nil {
		setString(&cfg.Relay.Host, r.Host)
		setString(&cfg.Relay.Mailbox, r.Mailbox)
		if r.Port > 0 {
			cfg.Relay.Port = r.Port
		}
		if r.RateLimit > 0 {
			cfg.Relay.RateLimit = r.RateLimit
		}
		if r.QueueLimit > 0 {
			cfg.Relay.QueueLimit = r.QueueLimit
		}
		if r.LegacyRoutes != nil {
			cfg.Relay.LegacyRoutes = *r.LegacyRoutes
		}
		if len(r.AllowedOrigins) > 0 {
			cfg.Relay.AllowedOrigin = r.AllowedOrigins
		}
		for dst, src := range map[*time.Duration]string{
			&cfg.Relay.ReadTimeout:  r.ReadTimeout,
			&cfg.Relay.WriteTimeout: r.WriteTimeout,
			&cfg.Relay.LongPollHold: r.LongPollHold,
			&cfg.Relay.PingInterval: r.PingInterval,
		} {
			if err := setDuration(dst, src); err != nil {
				return err
			}
		}
	}

	if file.Redis != nil {
		setString(&cfg.Redis.Addr, file.Redis.Addr)
		setString(&cfg.Redis.Password, file.Redis.Password)
		if file.Redis.DB > 0 {
			cfg.Redis.DB = file.Redis.DB
		}
		if file.Redis.PoolSize > 0 {
			cfg.Redis.PoolSize = file.Redis.PoolSize
		}
		setString(&cfg.Redis.KeyPrefix, file.Redis.KeyPrefix)
		if err := setDuration(&cfg.Redis.TTL, file.Redis.TTL); err != nil {
			return err
		}
	}

	if t := file.Transcript; t != nil {
		if t.Enabled != nil {
			cfg.Transcript.Enabled = *t.Enabled
		}
		setString(&cfg.Transcript.Path, t.Path)
		if err := setDuration(&cfg.Transcript.Timeout, t.Timeout); err != nil {
			return err
		}
	}

	if file.Log != nil {
		setString(&cfg.Log.Level, file.Log.Level)
		if file.Log.Development {
			cfg.Log.Development = true
		}
	}

	return nil
}

// Load builds the configuration with precedence env > file > defaults and
// validates it. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setString(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

func setDuration(dst *time.Duration, src string) error {
	if src == "" {
		return nil
	}
	d, err := time.ParseDuration(src)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", src, err)
	}
	*dst = d
	return nil
}
