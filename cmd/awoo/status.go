package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/NatalieWolfe/awoo-diffusion/internal/util"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show record, tag and cache counts",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	stats, err := db.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}
	version, err := db.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	util.InfoLog("Schema version: %d", version)
	util.InfoLog("Records:        %s", humanize.Comma(int64(stats.Records)))
	util.InfoLog("Tags:           %s", humanize.Comma(int64(stats.Tags)))
	util.InfoLog("Selected:       %s", humanize.Comma(int64(stats.Selected)))
	util.InfoLog("  Cached:       %s", humanize.Comma(int64(stats.Downloaded)))
	util.InfoLog("  Pending:      %s", humanize.Comma(int64(stats.Pending())))
	return nil
}
