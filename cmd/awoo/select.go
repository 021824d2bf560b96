package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/NatalieWolfe/awoo-diffusion/internal/config"
	"github.com/NatalieWolfe/awoo-diffusion/internal/report"
	"github.com/NatalieWolfe/awoo-diffusion/internal/selection"
	"github.com/NatalieWolfe/awoo-diffusion/internal/store"
	"github.com/NatalieWolfe/awoo-diffusion/internal/util"
)

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Recompute which posts have their assets cached",
	Long: `Recompute the selection: a post is kept when its score or its
favourite count reaches the configured threshold. Newly qualifying posts are
added (not yet downloaded); posts that no longer qualify are removed.`,
	RunE: runSelectCmd,
}

func init() {
	rootCmd.AddCommand(selectCmd)

	selectCmd.Flags().Int("min-score", 0, "minimum score to keep a post")
	selectCmd.Flags().Int("min-favorites", 0, "minimum favourite count to keep a post")

	viper.BindPFlag("selection.min_score", selectCmd.Flags().Lookup("min-score"))
	viper.BindPFlag("selection.min_favorites", selectCmd.Flags().Lookup("min-favorites"))
}

func runSelectCmd(cmd *cobra.Command, args []string) error {
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

	_, err = runSelect(ctx, cfg, db, logger)
	return err
}

// runSelect reconciles the selection against current records
func runSelect(ctx context.Context, cfg *config.Config, db *store.Store, logger *report.EventLogger) (*selection.Result, error) {
	util.InfoLog("=== Selection ===")

	r := selection.New(&selection.Config{
		Store:        db,
		MinScore:     cfg.Selection.MinScore,
		MinFavorites: cfg.Selection.MinFavorites,
		ChunkSize:    cfg.Selection.ChunkSize,
		Logger:       logger,
	})
	return r.Reconcile(ctx)
}
