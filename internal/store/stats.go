package store

import (
	"context"
	"fmt"
)

// Stats summarizes table sizes for status output
type Stats struct {
	Records    int
	Tags       int
	Selected   int
	Downloaded int
}

// Pending is the number of selected records still waiting for their asset
func (s *Stats) Pending() int {
	return s.Selected - s.Downloaded
}

// Stats counts records, tags, selections and cached assets
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	err := s.TransactionWithOptions(ctx, "stats", &TxOptions{ReadOnly: true}, func(tx *Tx) error {
		queries := []struct {
			query string
			args  []any
			dest  *int
		}{
			{"SELECT COUNT(*) FROM records", nil, &st.Records},
			{"SELECT COUNT(*) FROM tags", nil, &st.Tags},
			{"SELECT COUNT(*) FROM selectable_records", nil, &st.Selected},
			{"SELECT COUNT(*) FROM selectable_records WHERE is_downloaded = ?", []any{true}, &st.Downloaded},
		}
		for _, q := range queries {
			if err := tx.QueryRow(ctx, q.query, q.args...).Scan(q.dest); err != nil {
				return fmt.Errorf("failed to count (%s): %w", q.query, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}
