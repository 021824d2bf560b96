package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ScanCandidates streams every record's selection projection to fn.
// fn must not issue statements on the transaction; collect and write afterwards.
func (t *Tx) ScanCandidates(ctx context.Context, fn func(Selection) error) error {
	rows, err := t.Query(ctx, `
		SELECT r.id, r.rating, r.score, r.fav_count, s.is_downloaded
		FROM records r
		LEFT JOIN selectable_records s ON s.record_id = r.id
		ORDER BY r.id
	`)
	if err != nil {
		return fmt.Errorf("failed to query selection candidates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sel Selection
		var downloaded sql.NullBool
		if err := rows.Scan(&sel.RecordID, &sel.Rating, &sel.Score, &sel.FavCount, &downloaded); err != nil {
			return fmt.Errorf("failed to scan selection candidate: %w", err)
		}
		if downloaded.Valid {
			d := downloaded.Bool
			sel.Downloaded = &d
		}
		if err := fn(sel); err != nil {
			return err
		}
	}
	return rows.Err()
}

// DeleteSelections removes selection rows, chunkSize ids per statement
func (t *Tx) DeleteSelections(ctx context.Context, ids []int64, chunkSize int) error {
	for _, chunk := range chunks(ids, chunkSize) {
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		_, err := t.Exec(ctx, "DELETE FROM selectable_records WHERE record_id IN ("+inList(len(chunk))+")", args...)
		if err != nil {
			return fmt.Errorf("failed to delete selections: %w", err)
		}
	}
	return nil
}

// InsertSelections adds selection rows not yet downloaded, skipping existing ones
func (t *Tx) InsertSelections(ctx context.Context, sels []Selection, chunkSize int) error {
	for _, chunk := range chunks(sels, chunkSize) {
		args := make([]any, 0, len(chunk)*5)
		for _, sel := range chunk {
			args = append(args, sel.RecordID, sel.Rating, sel.Score, sel.FavCount, false)
		}
		_, err := t.Exec(ctx, `
			INSERT INTO selectable_records (record_id, rating, score, fav_count, is_downloaded)
			VALUES `+placeholders(len(chunk), 5)+`
			ON CONFLICT(record_id) DO NOTHING
		`, args...)
		if err != nil {
			return fmt.Errorf("failed to insert selections: %w", err)
		}
	}
	return nil
}

// Selections returns every selection row ordered by record id
func (s *Store) Selections(ctx context.Context) ([]Selection, error) {
	var out []Selection
	err := s.TransactionWithOptions(ctx, "list selections", &TxOptions{ReadOnly: true}, func(tx *Tx) error {
		out = out[:0]
		rows, err := tx.Query(ctx, `
			SELECT record_id, rating, score, fav_count, is_downloaded
			FROM selectable_records ORDER BY record_id
		`)
		if err != nil {
			return fmt.Errorf("failed to query selections: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var sel Selection
			var downloaded bool
			if err := rows.Scan(&sel.RecordID, &sel.Rating, &sel.Score, &sel.FavCount, &downloaded); err != nil {
				return fmt.Errorf("failed to scan selection: %w", err)
			}
			sel.Downloaded = &downloaded
			out = append(out, sel)
		}
		return rows.Err()
	})
	return out, err
}

// PendingAssets lists selected records whose asset is not cached yet
func (s *Store) PendingAssets(ctx context.Context) ([]Asset, error) {
	return s.assets(ctx, false)
}

// DownloadedAssets lists selected records whose asset is believed cached
func (s *Store) DownloadedAssets(ctx context.Context) ([]Asset, error) {
	return s.assets(ctx, true)
}

func (s *Store) assets(ctx context.Context, downloaded bool) ([]Asset, error) {
	var out []Asset
	err := s.TransactionWithOptions(ctx, "list assets", &TxOptions{ReadOnly: true}, func(tx *Tx) error {
		out = out[:0]
		rows, err := tx.Query(ctx, `
			SELECT r.id, r.md5, r.file_ext
			FROM selectable_records s
			JOIN records r ON r.id = s.record_id
			WHERE s.is_downloaded = ?
			ORDER BY r.id
		`, downloaded)
		if err != nil {
			return fmt.Errorf("failed to query assets: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var a Asset
			if err := rows.Scan(&a.RecordID, &a.MD5, &a.FileExt); err != nil {
				return fmt.Errorf("failed to scan asset: %w", err)
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	return out, err
}

// MarkDownloaded flips the cached flag of a selected record.
// Unselected records are left alone.
func (s *Store) MarkDownloaded(ctx context.Context, recordID int64, downloaded bool) error {
	return s.Transaction(ctx, "mark downloaded", func(tx *Tx) error {
		_, err := tx.Exec(ctx, "UPDATE selectable_records SET is_downloaded = ? WHERE record_id = ?", downloaded, recordID)
		if err != nil {
			return fmt.Errorf("failed to mark record %d downloaded=%v: %w", recordID, downloaded, err)
		}
		return nil
	})
}

// GetSelection returns a record's selection state; Downloaded is nil when not selected
func (s *Store) GetSelection(ctx context.Context, recordID int64) (Selection, error) {
	sel := Selection{RecordID: recordID}
	err := s.TransactionWithOptions(ctx, "get selection", &TxOptions{ReadOnly: true}, func(tx *Tx) error {
		var downloaded bool
		err := tx.QueryRow(ctx, `
			SELECT rating, score, fav_count, is_downloaded
			FROM selectable_records WHERE record_id = ?
		`, recordID).Scan(&sel.Rating, &sel.Score, &sel.FavCount, &downloaded)
		if err == sql.ErrNoRows {
			sel.Downloaded = nil
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get selection: %w", err)
		}
		sel.Downloaded = &downloaded
		return nil
	})
	return sel, err
}
