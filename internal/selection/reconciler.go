// Package selection keeps selectable_records in line with the retention rule:
// a record is worth caching when its score or favourite count is high enough.
package selection

import (
	"context"
	"fmt"
	"time"

	"github.com/NatalieWolfe/awoo-diffusion/internal/report"
	"github.com/NatalieWolfe/awoo-diffusion/internal/store"
	"github.com/NatalieWolfe/awoo-diffusion/internal/util"
)

// Thresholds used when a caller has no configuration of its own
const (
	DefaultMinScore     = 300
	DefaultMinFavorites = 500
)

// Reconciler adds qualifying records to the selection and drops the rest
type Reconciler struct {
	store        *store.Store
	minScore     int
	minFavorites int
	chunkSize    int
	logger       *report.EventLogger
}

// Config holds reconciler configuration
type Config struct {
	Store        *store.Store
	MinScore     int // taken as given; 0 selects every record
	MinFavorites int
	ChunkSize    int // ids per DELETE/INSERT statement
	Logger       *report.EventLogger
}

// New creates a new Reconciler
func New(cfg *Config) *Reconciler {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = store.DefaultChunkSize
	}

	return &Reconciler{
		store:        cfg.Store,
		minScore:     cfg.MinScore,
		minFavorites: cfg.MinFavorites,
		chunkSize:    cfg.ChunkSize,
		logger:       cfg.Logger,
	}
}

// Result represents reconciliation results
type Result struct {
	Scanned  int
	Added    int
	Removed  int
	Duration time.Duration
}

// Qualifies reports whether a record belongs in the selection
func (r *Reconciler) Qualifies(sel store.Selection) bool {
	return sel.Score >= r.minScore || sel.FavCount >= r.minFavorites
}

// Reconcile scans every record and applies the resulting adds and removes.
// The scan and both writes share one transaction, so the selection always
// reflects a single consistent view of records.
func (r *Reconciler) Reconcile(ctx context.Context) (*Result, error) {
	start := time.Now()
	util.InfoLog("Reconciling selection (score >= %d or favorites >= %d)", r.minScore, r.minFavorites)

	var result *Result
	opts := &store.TxOptions{Serializable: true}
	err := r.store.TransactionWithOptions(ctx, "reconcile selection", opts, func(tx *store.Tx) error {
		result = &Result{}

		var add []store.Selection
		var remove []int64
		err := tx.ScanCandidates(ctx, func(sel store.Selection) error {
			result.Scanned++
			switch qualifies := r.Qualifies(sel); {
			case qualifies && !sel.IsSelected():
				add = append(add, sel)
			case !qualifies && sel.IsSelected():
				remove = append(remove, sel.RecordID)
			}
			return nil
		})
		if err != nil {
			return err
		}

		if err := tx.DeleteSelections(ctx, remove, r.chunkSize); err != nil {
			return err
		}
		if err := tx.InsertSelections(ctx, add, r.chunkSize); err != nil {
			return err
		}

		result.Added = len(add)
		result.Removed = len(remove)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile selection: %w", err)
	}

	result.Duration = time.Since(start)
	r.logger.LogSelect(result.Added, result.Removed, result.Duration)
	util.SuccessLog("Selection reconciled: %d scanned, %d added, %d removed",
		result.Scanned, result.Added, result.Removed)

	return result, nil
}
