package main

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"

	"github.com/NatalieWolfe/awoo-diffusion/internal/cache"
	"github.com/NatalieWolfe/awoo-diffusion/internal/config"
	"github.com/NatalieWolfe/awoo-diffusion/internal/report"
	"github.com/NatalieWolfe/awoo-diffusion/internal/store"
	"github.com/NatalieWolfe/awoo-diffusion/internal/util"
)

// loadConfig decodes and validates the merged flag, env and file settings
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

// openStore opens the configured database and migrates it
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	dialect, err := store.ParseDialect(cfg.Database.Dialect)
	if err != nil {
		return nil, err
	}

	util.InfoLog("Opening database: %s (%s)", redactDSN(cfg.Database.DSN, dialect), dialect)

	retry := util.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Database.RetryAttempts

	db, err := store.OpenWithOptions(ctx, &store.OpenOptions{
		Dialect:  dialect,
		DSN:      cfg.Database.DSN,
		MaxConns: cfg.Database.MaxConns,
		Retry:    retry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// redactDSN hides credentials from connection URLs before logging
func redactDSN(dsn string, dialect store.Dialect) string {
	if dialect != store.DialectPostgres {
		return dsn
	}
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// openEventLogger creates the JSONL event log, falling back to a null logger
func openEventLogger(cfg *config.Config) *report.EventLogger {
	// Create event logger with appropriate log level
	level := report.EventLevel(cfg.Events.Level)
	if viper.GetBool("quiet") {
		level = report.LevelWarning // Only warnings and errors
	} else if viper.GetBool("verbose") {
		level = report.LevelDebug // Everything
	}

	logger, err := report.NewEventLoggerWithOptions(cfg.Events.Dir, &report.Options{
		MinLevel:   level,
		MaxSizeMB:  cfg.Events.MaxSizeMB,
		MaxBackups: cfg.Events.MaxBackups,
	})
	if err != nil {
		util.WarnLog("Failed to create event logger: %v", err)
		return report.NullLogger()
	}

	util.DebugLog("Event log: %s (run %s)", logger.Path(), logger.RunID())
	return logger
}

// newFetcher builds the configured remote asset source
func newFetcher(ctx context.Context, cfg *config.Config) (cache.Fetcher, error) {
	switch cfg.Remote.Kind {
	case config.RemoteS3:
		s3cfg := cfg.Remote.S3
		return cache.NewS3Fetcher(ctx, &cache.S3Config{
			Bucket:          s3cfg.Bucket,
			Prefix:          s3cfg.Prefix,
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
			UsePathStyle:    s3cfg.UsePathStyle,
		})
	default:
		return cache.NewHTTPFetcher(&cache.HTTPConfig{
			BaseURL:   cfg.Remote.BaseURL,
			UserAgent: cfg.Remote.UserAgent,
			Timeout:   cfg.Remote.Timeout,
		}), nil
	}
}

// cacheDelay maps the configured delay onto the synchronizer's convention,
// where zero means the default and negative disables the pause
func cacheDelay(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}
