package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/NatalieWolfe/awoo-diffusion/internal/cache"
	"github.com/NatalieWolfe/awoo-diffusion/internal/config"
	"github.com/NatalieWolfe/awoo-diffusion/internal/report"
	"github.com/NatalieWolfe/awoo-diffusion/internal/store"
	"github.com/NatalieWolfe/awoo-diffusion/internal/util"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Download missing assets and repair the cache",
	Long: `Bring the asset cache in line with the selection.

Selected posts without a cached asset are moved in from the legacy directory
when a matching file exists there, otherwise downloaded. Every cached asset is
re-hashed; missing or corrupt files are removed and downloaded again.`,
	RunE: runSyncCmd,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().String("legacy-dir", "", "digest-sharded directory to adopt existing assets from")
	syncCmd.Flags().Duration("delay", 0, "pause before each remote request")

	viper.BindPFlag("cache.legacy_dir", syncCmd.Flags().Lookup("legacy-dir"))
	viper.BindPFlag("cache.delay", syncCmd.Flags().Lookup("delay"))
}

func runSyncCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	logger := openEventLogger(cfg)
	defer logger.Close()

	_, err = runSync(ctx, cfg, db, logger)
	return err
}

// runSync reconciles the cache directory with the selection
func runSync(ctx context.Context, cfg *config.Config, db *store.Store, logger *report.EventLogger) (*cache.Result, error) {
	util.InfoLog("=== Cache Sync ===")

	fetcher, err := newFetcher(ctx, cfg)
	if err != nil {
		return nil, err
	}
	util.InfoLog("Remote: %s", fetcher.Location(""))

	if err := util.RetryableMkdirAll(cfg.Cache.Dir, 0755, nil); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	s := cache.New(&cache.Config{
		Store:     db,
		Fetcher:   fetcher,
		CacheDir:  cfg.Cache.Dir,
		LegacyDir: cfg.Cache.LegacyDir,
		Delay:     cacheDelay(cfg.Cache.Delay),
		Logger:    logger,
	})

	res, err := s.Sync(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache sync failed: %w", err)
	}

	util.InfoLog("  Already cached: %d verified, %d repaired", res.Verified, res.Repaired)
	util.InfoLog("  Placed from legacy: %d", res.Placed+res.Adopted)
	util.InfoLog("  Downloaded: %d (%s)", res.Downloaded, humanize.Bytes(uint64(res.BytesWritten)))
	if res.NotFound > 0 {
		util.WarnLog("  Not found: %d", res.NotFound)
	}
	if res.Invalid > 0 {
		util.WarnLog("  Invalid digest or extension: %d", res.Invalid)
	}
	if res.Failed+res.Mismatched > 0 {
		util.WarnLog("  Failed: %d (%d digest mismatches)", res.Failed+res.Mismatched, res.Mismatched)
	}

	return res, nil
}
