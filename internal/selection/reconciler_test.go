package selection

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NatalieWolfe/awoo-diffusion/internal/store"
)

func setupTestDB(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "selection.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// seed writes records with the given score and favourite counts, ids from 1
func seed(t *testing.T, db *store.Store, scores, favs []int) {
	t.Helper()
	ctx := context.Background()
	err := db.Transaction(ctx, "seed", func(tx *store.Tx) error {
		for i, score := range scores {
			rec := &store.Record{
				ID:       int64(i + 1),
				MD5:      fmt.Sprintf("%032x", i+1),
				FileExt:  "png",
				Rating:   "s",
				Score:    score,
				FavCount: favs[i],
			}
			if err := tx.UpsertRecord(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

// preselect forces selection rows for ids, bypassing the rule
func preselect(t *testing.T, db *store.Store, ids ...int64) {
	t.Helper()
	ctx := context.Background()
	err := db.Transaction(ctx, "preselect", func(tx *store.Tx) error {
		sels := make([]store.Selection, len(ids))
		for i, id := range ids {
			sels[i] = store.Selection{RecordID: id, Rating: "s"}
		}
		return tx.InsertSelections(ctx, sels, 10)
	})
	require.NoError(t, err)
}

func selectedIDs(t *testing.T, db *store.Store) []int64 {
	t.Helper()
	sels, err := db.Selections(context.Background())
	require.NoError(t, err)
	ids := []int64{}
	for _, s := range sels {
		ids = append(ids, s.RecordID)
	}
	return ids
}

func TestReconcile_ConvergesFromAnyStartingSelection(t *testing.T) {
	starts := map[string][]int64{
		"empty":         nil,
		"everything":    {1, 2, 3},
		"only low":      {1},
		"partial valid": {3},
	}

	for name, start := range starts {
		t.Run(name, func(t *testing.T) {
			db := setupTestDB(t)
			seed(t, db, []int{50, 400, 999}, []int{0, 0, 0})
			if len(start) > 0 {
				preselect(t, db, start...)
			}

			r := New(&Config{Store: db, MinScore: 300, ChunkSize: 1})
			res, err := r.Reconcile(context.Background())
			require.NoError(t, err)

			assert.Equal(t, 3, res.Scanned)
			assert.Equal(t, []int64{2, 3}, selectedIDs(t, db))

			// A second pass has nothing to do
			again, err := r.Reconcile(context.Background())
			require.NoError(t, err)
			assert.Zero(t, again.Added)
			assert.Zero(t, again.Removed)
		})
	}
}

func TestReconcile_FavoritesQualify(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db, []int{10, 10, 10}, []int{499, 500, 2000})

	res, err := New(defaultConfig(db)).Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Added)
	assert.Equal(t, []int64{2, 3}, selectedIDs(t, db))
}

func TestReconcile_KeepsDownloadedFlag(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seed(t, db, []int{400, 400}, []int{0, 0})

	r := New(defaultConfig(db))
	_, err := r.Reconcile(ctx)
	require.NoError(t, err)
	require.NoError(t, db.MarkDownloaded(ctx, 1, true))

	_, err = r.Reconcile(ctx)
	require.NoError(t, err)

	sel, err := db.GetSelection(ctx, 1)
	require.NoError(t, err)
	require.True(t, sel.IsSelected())
	assert.True(t, *sel.Downloaded)

	other, err := db.GetSelection(ctx, 2)
	require.NoError(t, err)
	require.True(t, other.IsSelected())
	assert.False(t, *other.Downloaded)
}

func TestReconcile_EmptyStore(t *testing.T) {
	res, err := New(defaultConfig(setupTestDB(t))).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)
}

func defaultConfig(db *store.Store) *Config {
	return &Config{Store: db, MinScore: DefaultMinScore, MinFavorites: DefaultMinFavorites}
}

func TestNew_Defaults(t *testing.T) {
	r := New(defaultConfig(nil))
	assert.Equal(t, store.DefaultChunkSize, r.chunkSize)

	assert.True(t, r.Qualifies(store.Selection{Score: 300}))
	assert.True(t, r.Qualifies(store.Selection{FavCount: 500}))
	assert.False(t, r.Qualifies(store.Selection{Score: 299, FavCount: 499}))
}

func TestReconcile_ZeroThresholdSelectsEverything(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db, []int{0, 5, -3}, []int{0, 0, 0})

	r := New(&Config{Store: db, MinScore: 0, MinFavorites: 0})
	assert.True(t, r.Qualifies(store.Selection{Score: -3}))

	res, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Added)
	assert.Equal(t, []int64{1, 2, 3}, selectedIDs(t, db))
}
