package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/NatalieWolfe/awoo-diffusion/internal/config"
	"github.com/NatalieWolfe/awoo-diffusion/internal/ingest"
	"github.com/NatalieWolfe/awoo-diffusion/internal/report"
	"github.com/NatalieWolfe/awoo-diffusion/internal/store"
	"github.com/NatalieWolfe/awoo-diffusion/internal/util"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [export]",
	Short: "Load a post export into the database",
	Long: `Load a JSON Lines post export (optionally gzip-compressed) into the database.

Records are written in batches, one transaction per batch. Records whose
update time, votes and favourite count are unchanged are skipped. Records whose
parent has not been loaded yet are retried after the rest of the export with
the parent link dropped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngestCmd,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().String("export", "", "export file (.jsonl or .jsonl.gz)")
	ingestCmd.Flags().Int("batch-size", 0, "records per transaction")
	ingestCmd.Flags().Int("backlog", 0, "batches read ahead of the writer")

	viper.BindPFlag("ingest.batch_size", ingestCmd.Flags().Lookup("batch-size"))
	viper.BindPFlag("ingest.backlog", ingestCmd.Flags().Lookup("backlog"))
}

func runIngestCmd(cmd *cobra.Command, args []string) error {
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

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	logger := openEventLogger(cfg)
	defer logger.Close()

	_, err = runIngest(ctx, cfg, db, logger)
	return err
}

// runIngest streams the configured export through the ingest pipeline
func runIngest(ctx context.Context, cfg *config.Config, db *store.Store, logger *report.EventLogger) (*ingest.PipelineResult, error) {
	path := cfg.Ingest.Export
	if path == "" {
		return nil, fmt.Errorf("export file is required (use --export or set ingest.export in config)")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("export file not accessible: %w", err)
	}

	util.InfoLog("=== Ingest ===")
	util.InfoLog("Export: %s", path)
	util.InfoLog("Batch size: %d", cfg.Ingest.BatchSize)

	src, err := ingest.OpenSource(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	pipeline := ingest.NewPipeline(ingest.NewEngine(db, logger), ingest.PipelineOptions{
		BatchSize: cfg.Ingest.BatchSize,
		Backlog:   cfg.Ingest.Backlog,
		MaxRounds: cfg.Ingest.MaxRounds,
	})

	res, err := pipeline.Run(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("ingest failed: %w", err)
	}

	util.InfoLog("  Records read: %d", res.Read)
	util.InfoLog("  Applied: %d", res.Applied)
	util.InfoLog("  Unchanged: %d", res.Skipped)
	util.InfoLog("  Tags added/removed: %d/%d", res.TagsAdded, res.TagsRemoved)
	if n := src.Rejected(); n > 0 {
		util.WarnLog("  Rejected lines: %d", n)
	}
	if res.Rejected > 0 {
		util.WarnLog("  Rejected records: %d", res.Rejected)
	}
	if res.Rounds > 0 {
		util.InfoLog("  Deferred rounds: %d", res.Rounds)
	}
	if len(res.Unresolved) > 0 {
		util.WarnLog("  Unresolved records: %d", len(res.Unresolved))
	}

	return res, nil
}
