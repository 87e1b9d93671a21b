package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Provider exposes application configuration to the rest of the code base.
// Components depend on this interface rather than the concrete Config so
// tests can supply their own values.
type Provider interface {
	GetDBURL() string
	GetDBNs() string
	GetDBDb() string
	GetDBUser() string
	GetDBPass() string
	GetDBQueryTimeout() time.Duration
	GetDBExecuteTimeout() time.Duration
	GetStoreDriver() string

	GetAppAddr() string
	GetAppBaseURL() string
	GetSessionSecret() string
	GetMagicLinkSecret() string
	GetMagicLinkTTL() time.Duration

	GetEmailProvider() string
	GetEmailSender() string
	GetEmailAPIKey() string
	GetEmailOutboxDir() string

	GetFeedMaxRetries() int
	GetFeedBaseDelay() time.Duration
}

// Store drivers.
const (
	DriverSurreal = "surreal"
	DriverMemory  = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	DBUrl            string
	DBNs             string
	DBDb             string
	DBUser           string
	DBPass           string
	DBQueryTimeout   time.Duration
	DBExecuteTimeout time.Duration
	StoreDriver      string

	AppAddr         string
	AppBaseURL      string
	SessionSecret   string
	MagicLinkSecret string
	MagicLinkTTL    time.Duration

	EmailProvider  string
	EmailSender    string
	EmailAPIKey    string
	EmailOutboxDir string

	FeedMaxRetries int
	FeedBaseDelay  time.Duration
}

// New loads configuration from an optional .env file and the environment.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current process environment only.
func FromEnv() (*Config, error) {
	var errs []string
	dur := func(key string, def time.Duration) time.Duration {
		v := os.Getenv(key)
		if v == "" {
			return def
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
			return def
		}
		return d
	}

	cfg := &Config{
		DBUrl:            os.Getenv("SURREAL_URL"),
		DBUser:           os.Getenv("SURREAL_USER"),
		DBPass:           os.Getenv("SURREAL_PASS"),
		DBNs:             os.Getenv("SURREAL_NS"),
		DBDb:             os.Getenv("SURREAL_DB"),
		DBQueryTimeout:   dur("DB_QUERY_TIMEOUT", 10*time.Second),
		DBExecuteTimeout: dur("DB_EXECUTE_TIMEOUT", 30*time.Second),
		StoreDriver:      strings.ToLower(envOr("STORE_DRIVER", DriverSurreal)),

		AppAddr:         envOr("APP_ADDR", ":8080"),
		AppBaseURL:      strings.TrimRight(envOr("APP_BASE_URL", "http://localhost:8080"), "/"),
		SessionSecret:   os.Getenv("SESSION_SECRET"),
		MagicLinkSecret: os.Getenv("MAGIC_LINK_SECRET"),
		MagicLinkTTL:    dur("MAGIC_LINK_TTL", 15*time.Minute),

		EmailProvider:  strings.ToLower(envOr("EMAIL_PROVIDER", "log")),
		EmailSender:    envOr("EMAIL_SENDER", "Periskope <login@periskope.local>"),
		EmailAPIKey:    os.Getenv("EMAIL_API_KEY"),
		EmailOutboxDir: envOr("EMAIL_OUTBOX_DIR", "tmp/outbox"),

		FeedBaseDelay: dur("FEED_BASE_DELAY", 100*time.Millisecond),
	}

	cfg.FeedMaxRetries = 5
	if v := os.Getenv("FEED_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errs = append(errs, fmt.Sprintf("FEED_MAX_RETRIES: invalid value %q", v))
		} else {
			cfg.FeedMaxRetries = n
		}
	}

	switch cfg.StoreDriver {
	case DriverSurreal:
		if cfg.DBUrl == "" || cfg.DBNs == "" || cfg.DBDb == "" {
			errs = append(errs, "SURREAL_URL, SURREAL_NS and SURREAL_DB are required when STORE_DRIVER=surreal")
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Sprintf("STORE_DRIVER: unknown driver %q", cfg.StoreDriver))
	}

	if cfg.SessionSecret == "" {
		errs = append(errs, "SESSION_SECRET is required")
	}
	if cfg.MagicLinkSecret == "" {
		cfg.MagicLinkSecret = cfg.SessionSecret
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (c *Config) GetDBURL() string                   { return c.DBUrl }
func (c *Config) GetDBNs() string                    { return c.DBNs }
func (c *Config) GetDBDb() string                    { return c.DBDb }
func (c *Config) GetDBUser() string                  { return c.DBUser }
func (c *Config) GetDBPass() string                  { return c.DBPass }
func (c *Config) GetDBQueryTimeout() time.Duration   { return c.DBQueryTimeout }
func (c *Config) GetDBExecuteTimeout() time.Duration { return c.DBExecuteTimeout }
func (c *Config) GetStoreDriver() string             { return c.StoreDriver }
func (c *Config) GetAppAddr() string                 { return c.AppAddr }
func (c *Config) GetAppBaseURL() string              { return c.AppBaseURL }
func (c *Config) GetSessionSecret() string           { return c.SessionSecret }
func (c *Config) GetMagicLinkSecret() string         { return c.MagicLinkSecret }
func (c *Config) GetMagicLinkTTL() time.Duration     { return c.MagicLinkTTL }
func (c *Config) GetEmailProvider() string           { return c.EmailProvider }
func (c *Config) GetEmailSender() string             { return c.EmailSender }
func (c *Config) GetEmailAPIKey() string             { return c.EmailAPIKey }
func (c *Config) GetEmailOutboxDir() string          { return c.EmailOutboxDir }
func (c *Config) GetFeedMaxRetries() int             { return c.FeedMaxRetries }
func (c *Config) GetFeedBaseDelay() time.Duration    { return c.FeedBaseDelay }
