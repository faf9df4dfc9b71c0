// Package config provides configuration management for crmindex.
// It loads settings from environment variables with the CRMINDEX_ prefix,
// optionally seeded from a .env file, and provides sensible defaults for all
// configuration options.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"

	"github.com/scrypster/crmindex/internal/engine"
	"github.com/scrypster/crmindex/internal/llm"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "CRMINDEX"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration settings for crmindex.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Embedding EmbeddingConfig
	Sync      SyncConfig
	Backfill  BackfillConfig
	Search    SearchConfig
	Messaging MessagingConfig
	Security  SecurityConfig
	MCP       MCPConfig
	Log       LogConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    `default:"6363" validate:"min=1,max=65535"` // CRMINDEX_SERVER_PORT
	Host string `default:"127.0.0.1"`                       // CRMINDEX_SERVER_HOST

	ReadTimeout  time.Duration `split_words:"true" default:"15s"`
	WriteTimeout time.Duration `split_words:"true" default:"60s"`

	// Per-client request rate for /api routes.
	RateLimit float64 `split_words:"true" default:"20" validate:"gt=0"`
	RateBurst int     `split_words:"true" default:"40" validate:"min=1"`

	// Origins allowed to open the WebSocket stream in addition to the
	// server's own host.
	AllowedOrigins []string `split_words:"true"`
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	Engine      string `default:"sqlite" validate:"oneof=sqlite postgres"`
	DataPath    string `split_words:"true" default:"./data"` // sqlite database directory
	PostgresDSN string `split_words:"true"`                  // required for postgres
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider   string        `default:"hash" validate:"oneof=openai ollama gemini hash"`
	Model      string        // provider default when empty
	APIKey     string        `split_words:"true"`
	BaseURL    string        `split_words:"true"`
	Dimensions int           `validate:"min=0"`
	Timeout    time.Duration `default:"30s" validate:"gt=0"`

	// Client-side rate limit; zero disables it.
	RequestsPerSecond float64 `split_words:"true" default:"0" validate:"min=0"`
	Burst             int     `default:"1" validate:"min=1"`
}

// SyncConfig sizes the sync worker pool.
type SyncConfig struct {
	Workers              int           `default:"4" validate:"min=1,max=64"`
	QueueSize            int           `split_words:"true" default:"1000" validate:"min=1"`
	ShutdownTimeout      time.Duration `split_words:"true" default:"30s"`
	MaxRetries           int           `split_words:"true" default:"3" validate:"min=0,max=10"`
	RetryInitialInterval time.Duration `split_words:"true" default:"500ms" validate:"gt=0"`
	RetryMaxInterval     time.Duration `split_words:"true" default:"10s" validate:"gt=0"`
	MaxTextLength        int           `split_words:"true" default:"24000" validate:"min=0"`
}

// BackfillConfig controls batch backfill and the scheduled sweep.
type BackfillConfig struct {
	PageSize    int `split_words:"true" default:"10" validate:"min=1,max=500"`
	Concurrency int `default:"4" validate:"min=1,max=64"`

	// Schedule is a five-field cron expression. Empty disables the sweep.
	Schedule     string        `default:"0 3 * * *"`
	SweepTimeout time.Duration `split_words:"true" default:"30m"`
}

// SearchConfig bounds search requests.
type SearchConfig struct {
	Timeout time.Duration `default:"15s" validate:"gt=0"`
}

// MessagingConfig configures the NSQ change-event stream.
type MessagingConfig struct {
	// Enabled starts the change-event consumer in the web process.
	Enabled bool `default:"false"`

	// Publish makes CRM writes publish events instead of triggering the
	// local engine. Used by the import tool when workers run elsewhere.
	Publish bool `default:"false"`

	NSQDAddr    string `split_words:"true" default:"127.0.0.1:4150"`
	LookupdAddr string `split_words:"true"`
	Topic       string `default:"crm.record.changed"`
	Channel     string `default:"crmindex"`
	MaxInFlight int    `split_words:"true" default:"8" validate:"min=1"`
	MaxAttempts uint16 `split_words:"true" default:"5" validate:"min=1"`
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	Mode     string `default:"development" validate:"oneof=development production"`
	APIToken string `split_words:"true"`
}

// MCPConfig configures the stdio tool server.
type MCPConfig struct {
	// OwnerID is used by tool calls that do not name an owner.
	OwnerID string `split_words:"true"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `default:"info" validate:"oneof=trace debug info warn error"`
	Format string `default:"console" validate:"oneof=console json"`
}

// Load reads .env (if present) and the CRMINDEX_ environment, applies
// defaults and validates the result.
func Load() (*Config, error) {
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the rules that span fields.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %q", ErrInvalidConfig, verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.Security.Mode == "production" && c.Security.APIToken == "" {
		return fmt.Errorf("%w: CRMINDEX_SECURITY_API_TOKEN is required in production mode", ErrInvalidConfig)
	}
	if c.Storage.Engine == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("%w: CRMINDEX_STORAGE_POSTGRES_DSN is required for the postgres engine", ErrInvalidConfig)
	}
	switch c.Embedding.Provider {
	case "openai", "gemini":
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("%w: CRMINDEX_EMBEDDING_API_KEY is required for %s", ErrInvalidConfig, c.Embedding.Provider)
		}
	}
	if c.Sync.RetryMaxInterval < c.Sync.RetryInitialInterval {
		return fmt.Errorf("%w: retry max interval %s is below the initial interval %s",
			ErrInvalidConfig, c.Sync.RetryMaxInterval, c.Sync.RetryInitialInterval)
	}
	if c.Backfill.Schedule != "" {
		if _, err := cron.ParseStandard(c.Backfill.Schedule); err != nil {
			return fmt.Errorf("%w: backfill schedule: %v", ErrInvalidConfig, err)
		}
	}
	if (c.Messaging.Enabled || c.Messaging.Publish) && c.Messaging.NSQDAddr == "" && c.Messaging.LookupdAddr == "" {
		return fmt.Errorf("%w: messaging needs an nsqd or nsqlookupd address", ErrInvalidConfig)
	}
	return nil
}

// IsDevelopment reports whether auth is bypassed.
func (c *Config) IsDevelopment() bool {
	return c.Security.Mode == "development"
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// EngineConfig maps the sync and backfill sections onto the engine.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		NumWorkers:           c.Sync.Workers,
		QueueSize:            c.Sync.QueueSize,
		ShutdownTimeout:      c.Sync.ShutdownTimeout,
		MaxRetries:           c.Sync.MaxRetries,
		RetryInitialInterval: c.Sync.RetryInitialInterval,
		RetryMaxInterval:     c.Sync.RetryMaxInterval,
		MaxTextLength:        c.Sync.MaxTextLength,
		BackfillPageSize:     c.Backfill.PageSize,
		BackfillConcurrency:  c.Backfill.Concurrency,
	}
}

// LLMConfig maps the embedding section onto the provider factory.
func (c *Config) LLMConfig() llm.Config {
	return llm.Config{
		Provider:          c.Embedding.Provider,
		Model:             c.Embedding.Model,
		APIKey:            c.Embedding.APIKey,
		BaseURL:           c.Embedding.BaseURL,
		Dimensions:        c.Embedding.Dimensions,
		Timeout:           c.Embedding.Timeout,
		RequestsPerSecond: c.Embedding.RequestsPerSecond,
		Burst:             c.Embedding.Burst,
	}
}
