package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const (
	BackplaneNone  = "none"
	BackplaneRedis = "redis"
	BackplaneNats  = "nats"

	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

const (
	DefaultPresenceGrace = 3 * time.Second
	DefaultTypingTTL     = 3 * time.Second
	DefaultPongWait      = 60 * time.Second
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	StoreKind      string
	SigningKey     []byte
	AllowedOrigins []string
	RelayKeyHash   []byte
	BackplaneKind  string
	BackplaneAddr  string
	PresenceGrace  time.Duration
	TypingTTL      time.Duration
	PongWait       time.Duration
	LogLevel       string
}

type Option func(*Config)

func WithStore(kind string) Option {
	return func(c *Config) { c.StoreKind = kind }
}

func WithBackplane(kind, addr string) Option {
	return func(c *Config) {
		c.BackplaneKind = kind
		c.BackplaneAddr = addr
	}
}

// WithRelayKeyHash sets the bcrypt hash internal callers' relay key is checked against.
func WithRelayKeyHash(hash string) Option {
	return func(c *Config) { c.RelayKeyHash = []byte(hash) }
}

func WithPresenceGrace(d time.Duration) Option {
	return func(c *Config) { c.PresenceGrace = d }
}

func WithTypingTTL(d time.Duration) Option {
	return func(c *Config) { c.TypingTTL = d }
}

func WithPongWait(d time.Duration) Option {
	return func(c *Config) { c.PongWait = d }
}

func WithLogLevel(level string) Option {
	return func(c *Config) { c.LogLevel = level }
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string, opts ...Option) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	cfg := &Config{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		StoreKind:      StorePostgres,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		BackplaneKind:  BackplaneNone,
		PresenceGrace:  DefaultPresenceGrace,
		TypingTTL:      DefaultTypingTTL,
		PongWait:       DefaultPongWait,
		LogLevel:       "info",
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreKind {
	case StorePostgres, StoreMongo:
	default:
		return fmt.Errorf("unknown store %q", c.StoreKind)
	}

	switch c.BackplaneKind {
	case BackplaneNone:
	case BackplaneRedis, BackplaneNats:
		if c.BackplaneAddr == "" {
			return fmt.Errorf("backplane %q requires an address", c.BackplaneKind)
		}
	default:
		return fmt.Errorf("unknown backplane %q", c.BackplaneKind)
	}

	if len(c.RelayKeyHash) == 0 {
		return fmt.Errorf("relay key hash cannot be empty")
	}
	if c.PresenceGrace <= 0 {
		return fmt.Errorf("presence grace must be positive")
	}
	if c.TypingTTL <= 0 {
		return fmt.Errorf("typing ttl must be positive")
	}
	if c.PongWait < time.Second {
		return fmt.Errorf("pong wait must be at least 1s")
	}

	return nil
}
