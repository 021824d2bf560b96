package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/NatalieWolfe/awoo-diffusion/internal/report"
	"github.com/NatalieWolfe/awoo-diffusion/internal/util"
)

var runCmd = &cobra.Command{
	Use:   "run [export]",
	Short: "Ingest, select and sync in one go",
	Long: `Run the whole cycle: ingest the export (when one is given), recompute the
selection, then sync the asset cache. A Markdown summary is written at the end.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAll,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("export", "", "export file (.jsonl or .jsonl.gz); skip ingest when empty")
	runCmd.Flags().String("report", "", "summary report path (default <events dir>/summary.md)")
}

func runAll(cmd *cobra.Command, args []string) error {
	// --export is shared with run, so it is not bound through viper
	if export, _ := cmd.Flags().GetString("export"); export != "" {
		viper.Set("ingest.export", export)
	}
	if len(args) == 1 {
		viper.Set("ingest.export", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	start := time.Now()

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	logger := openEventLogger(cfg)
	defer logger.Close()

	var summary report.SummaryReport

	if cfg.Ingest.Export != "" {
		res, err := runIngest(ctx, cfg, db, logger)
		if err != nil {
			return err
		}
		summary.RecordsApplied = res.Applied
		summary.RecordsSkipped = res.Skipped
		summary.RecordsDeferred = len(res.Unresolved)
	} else {
		util.InfoLog("No export given, skipping ingest")
	}

	sel, err := runSelect(ctx, cfg, db, logger)
	if err != nil {
		return err
	}
	summary.SelectionAdded = sel.Added
	summary.SelectionRemoved = sel.Removed

	synced, err := runSync(ctx, cfg, db, logger)
	if err != nil {
		return err
	}
	summary.AssetsPlaced = synced.Placed + synced.Adopted
	summary.AssetsDownloaded = synced.Downloaded
	summary.AssetsNotFound = synced.NotFound
	summary.AssetsMismatched = synced.Mismatched
	summary.AssetsRepaired = synced.Repaired
	summary.BytesWritten = synced.BytesWritten

	// Fill store totals and this run's errors on top of the counters above
	full, err := report.GenerateSummaryReport(ctx, db, logger.Path(), logger.RunID())
	if err != nil {
		return fmt.Errorf("failed to build summary: %w", err)
	}
	summary.GeneratedAt = full.GeneratedAt
	summary.RunID = full.RunID
	summary.Records = full.Records
	summary.Tags = full.Tags
	summary.Selected = full.Selected
	summary.Downloaded = full.Downloaded
	summary.TopErrors = full.TopErrors
	summary.EventLogPath = full.EventLogPath
	summary.DatabasePath = cfg.Database.DSN
	summary.CacheDir = cfg.Cache.Dir
	summary.Duration = time.Since(start)

	reportPath, _ := cmd.Flags().GetString("report")
	if reportPath == "" {
		reportPath = filepath.Join(cfg.Events.Dir, "summary.md")
	}
	if err := report.WriteMarkdownReport(&summary, reportPath); err != nil {
		util.WarnLog("Failed to write summary report: %v", err)
	} else {
		util.InfoLog("Summary report: %s", reportPath)
	}

	util.SuccessLog("Run complete in %v", summary.Duration.Round(time.Millisecond))
	return nil
}
