// Package config loads awoo settings from a YAML file, AWOO_* environment
// variables, a .env file and command-line flags, in viper's usual precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/NatalieWolfe/awoo-diffusion/internal/util"
)

// EnvPrefix prefixes every environment override, e.g. AWOO_DATABASE_DSN
const EnvPrefix = "AWOO"

// Remote kinds
const (
	RemoteHTTP = "http"
	RemoteS3   = "s3"
)

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Selection SelectionConfig `mapstructure:"selection"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Events    EventsConfig    `mapstructure:"events"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Ingest.Validate(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if err := c.Selection.Validate(); err != nil {
		return fmt.Errorf("selection: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := c.Remote.Validate(); err != nil {
		return fmt.Errorf("remote: %w", err)
	}
	return nil
}

// DatabaseConfig selects and tunes the store
type DatabaseConfig struct {
	Dialect       string `mapstructure:"dialect"`
	DSN           string `mapstructure:"dsn"` // file path for sqlite, connection URL for postgres
	MaxConns      int    `mapstructure:"max_conns"`
	RetryAttempts int    `mapstructure:"retry_attempts"`
}

// Validate validates the database configuration
func (c *DatabaseConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dialect, validation.Required, validation.In("sqlite", "postgres")),
		validation.Field(&c.DSN, validation.Required),
		validation.Field(&c.MaxConns, validation.Min(0)),
		validation.Field(&c.RetryAttempts, validation.Min(1)),
	)
}

// IngestConfig controls export batching
type IngestConfig struct {
	Export    string `mapstructure:"export"`
	BatchSize int    `mapstructure:"batch_size"`
	Backlog   int    `mapstructure:"backlog"`
	MaxRounds int    `mapstructure:"max_rounds"`
}

// Validate validates the ingest configuration
func (c *IngestConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BatchSize, validation.Required, validation.Min(1)),
		validation.Field(&c.Backlog, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxRounds, validation.Required, validation.Min(1)),
	)
}

// SelectionConfig holds the retention thresholds
type SelectionConfig struct {
	MinScore     int `mapstructure:"min_score"`
	MinFavorites int `mapstructure:"min_favorites"`
	ChunkSize    int `mapstructure:"chunk_size"`
}

// Validate validates the selection configuration
func (c *SelectionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ChunkSize, validation.Required, validation.Min(1), validation.Max(10000)),
	)
}

// CacheConfig locates the asset cache
type CacheConfig struct {
	Dir       string        `mapstructure:"dir"`
	LegacyDir string        `mapstructure:"legacy_dir"`
	Delay     time.Duration `mapstructure:"delay"`
}

// Validate validates the cache configuration
func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
		validation.Field(&c.Delay, validation.Min(time.Duration(0))),
	)
}

// RemoteConfig describes where assets are fetched from
type RemoteConfig struct {
	Kind      string        `mapstructure:"kind"`
	BaseURL   string        `mapstructure:"base_url"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
	S3        S3Config      `mapstructure:"s3"`
}

// Validate validates the remote configuration
func (c *RemoteConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Kind, validation.Required, validation.In(RemoteHTTP, RemoteS3)),
		validation.Field(&c.BaseURL, validation.When(c.Kind == RemoteHTTP, validation.Required, is.URL)),
	); err != nil {
		return err
	}
	if c.Kind == RemoteS3 {
		return c.S3.Validate()
	}
	return nil
}

// S3Config holds bucket mirror settings. Keys usually come from .env.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// Validate validates the S3 configuration
func (c *S3Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Bucket, validation.Required),
		validation.Field(&c.Endpoint, is.URL),
		validation.Field(&c.SecretAccessKey, validation.When(c.AccessKeyID != "", validation.Required)),
	)
}

// EventsConfig controls the JSONL event log
type EventsConfig struct {
	Dir        string `mapstructure:"dir"`
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// SetDefaults registers every key with its default so environment overrides
// reach Unmarshal
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.dialect", "sqlite")
	v.SetDefault("database.dsn", "awoo.db")
	v.SetDefault("database.max_conns", 0)
	v.SetDefault("database.retry_attempts", 5)

	v.SetDefault("ingest.export", "")
	v.SetDefault("ingest.batch_size", 1000)
	v.SetDefault("ingest.backlog", 4)
	v.SetDefault("ingest.max_rounds", 3)

	v.SetDefault("selection.min_score", 300)
	v.SetDefault("selection.min_favorites", 500)
	v.SetDefault("selection.chunk_size", 500)

	v.SetDefault("cache.dir", "cache")
	v.SetDefault("cache.legacy_dir", "")
	v.SetDefault("cache.delay", 500*time.Millisecond)

	v.SetDefault("remote.kind", RemoteHTTP)
	v.SetDefault("remote.base_url", "https://static1.e621.net/data")
	v.SetDefault("remote.user_agent", "")
	v.SetDefault("remote.timeout", 5*time.Minute)
	v.SetDefault("remote.s3.bucket", "")
	v.SetDefault("remote.s3.prefix", "")
	v.SetDefault("remote.s3.region", "")
	v.SetDefault("remote.s3.endpoint", "")
	v.SetDefault("remote.s3.access_key_id", "")
	v.SetDefault("remote.s3.secret_access_key", "")
	v.SetDefault("remote.s3.use_path_style", false)

	v.SetDefault("events.dir", "logs")
	v.SetDefault("events.level", "info")
	v.SetDefault("events.max_size_mb", 100)
	v.SetDefault("events.max_backups", 5)
}

// BindEnv maps nested keys onto AWOO_SECTION_KEY variables
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// LoadDotEnv loads secrets from .env files into the process environment.
// Missing files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		util.DebugLog("Loaded environment from %s", path)
	}
	return nil
}

// Load decodes v into a Config and validates it
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrInvalidConfig, err)
	}
	return &cfg, nil
}
