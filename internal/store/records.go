package store

import (
	"context"
	"database/sql"
	"fmt"
)

// LoadSnapshots reads the comparison projection for every id that exists.
// Ids are read in chunks to stay inside driver parameter limits.
func (s *Store) LoadSnapshots(ctx context.Context, ids []int64) (map[int64]Snapshot, error) {
	out := make(map[int64]Snapshot, len(ids))
	err := s.TransactionWithOptions(ctx, "load snapshots", &TxOptions{ReadOnly: true}, func(tx *Tx) error {
		clear(out)
		for _, chunk := range chunks(ids, DefaultChunkSize) {
			if err := tx.loadSnapshots(ctx, chunk, out); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Tx) loadSnapshots(ctx context.Context, ids []int64, out map[int64]Snapshot) error {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := t.Query(ctx, `
		SELECT id, updated_at, up_score, down_score, fav_count
		FROM records WHERE id IN (`+inList(len(ids))+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var snap Snapshot
		var updated sql.NullTime
		if err := rows.Scan(&snap.ID, &updated, &snap.UpScore, &snap.DownScore, &snap.FavCount); err != nil {
			return fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap.UpdatedAt = timePtr(updated)
		out[snap.ID] = snap
	}
	return rows.Err()
}

// UpsertRecord inserts the record or overwrites every column of the existing row
func (t *Tx) UpsertRecord(ctx context.Context, r *Record) error {
	var parent sql.NullInt64
	if r.ParentID != nil {
		parent = sql.NullInt64{Int64: *r.ParentID, Valid: true}
	}

	_, err := t.Exec(ctx, `
		INSERT INTO records (
			id, parent_id, md5, file_ext, rating, width, height, file_size,
			score, up_score, down_score, fav_count, comment_count,
			is_deleted, is_pending, is_flagged, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			parent_id = excluded.parent_id,
			md5 = excluded.md5,
			file_ext = excluded.file_ext,
			rating = excluded.rating,
			width = excluded.width,
			height = excluded.height,
			file_size = excluded.file_size,
			score = excluded.score,
			up_score = excluded.up_score,
			down_score = excluded.down_score,
			fav_count = excluded.fav_count,
			comment_count = excluded.comment_count,
			is_deleted = excluded.is_deleted,
			is_pending = excluded.is_pending,
			is_flagged = excluded.is_flagged,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
	`, r.ID, parent, r.MD5, r.FileExt, r.Rating, r.Width, r.Height, r.FileSize,
		r.Score, r.UpScore, r.DownScore, r.FavCount, r.CommentCount,
		r.IsDeleted, r.IsPending, r.IsFlagged, nullTime(r.CreatedAt), nullTime(r.UpdatedAt))

	if err != nil {
		return fmt.Errorf("failed to upsert record %d: %w", r.ID, err)
	}
	return nil
}

// RecordTagIDs returns the tag ids currently associated with a record
func (t *Tx) RecordTagIDs(ctx context.Context, recordID int64) ([]int64, error) {
	rows, err := t.Query(ctx, "SELECT tag_id FROM record_tags WHERE record_id = ?", recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query record tags: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan record tag: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AddRecordTags associates tag ids with a record in bulk
func (t *Tx) AddRecordTags(ctx context.Context, recordID int64, tagIDs []int64) error {
	for _, chunk := range chunks(tagIDs, DefaultChunkSize) {
		args := make([]any, 0, len(chunk)*2)
		for _, id := range chunk {
			args = append(args, recordID, id)
		}
		_, err := t.Exec(ctx, `
			INSERT INTO record_tags (record_id, tag_id)
			VALUES `+placeholders(len(chunk), 2)+`
			ON CONFLICT DO NOTHING
		`, args...)
		if err != nil {
			return fmt.Errorf("failed to add tags to record %d: %w", recordID, err)
		}
	}
	return nil
}

// RemoveRecordTags drops tag associations from a record in bulk
func (t *Tx) RemoveRecordTags(ctx context.Context, recordID int64, tagIDs []int64) error {
	for _, chunk := range chunks(tagIDs, DefaultChunkSize) {
		args := make([]any, 0, len(chunk)+1)
		args = append(args, recordID)
		for _, id := range chunk {
			args = append(args, id)
		}
		_, err := t.Exec(ctx, `
			DELETE FROM record_tags
			WHERE record_id = ? AND tag_id IN (`+inList(len(chunk))+`)
		`, args...)
		if err != nil {
			return fmt.Errorf("failed to remove tags from record %d: %w", recordID, err)
		}
	}
	return nil
}

// ReplaceSources swaps the record's source list for a new one
func (t *Tx) ReplaceSources(ctx context.Context, recordID int64, sources []string) error {
	if _, err := t.Exec(ctx, "DELETE FROM record_sources WHERE record_id = ?", recordID); err != nil {
		return fmt.Errorf("failed to clear sources for record %d: %w", recordID, err)
	}

	for _, chunk := range chunks(sources, DefaultChunkSize) {
		args := make([]any, 0, len(chunk)*2)
		for _, src := range chunk {
			args = append(args, recordID, src)
		}
		_, err := t.Exec(ctx, `
			INSERT INTO record_sources (record_id, source)
			VALUES `+placeholders(len(chunk), 2), args...)
		if err != nil {
			return fmt.Errorf("failed to insert sources for record %d: %w", recordID, err)
		}
	}
	return nil
}

// GetRecord loads a record with its tags and sources, nil if absent
func (s *Store) GetRecord(ctx context.Context, id int64) (*Record, error) {
	var out *Record
	err := s.TransactionWithOptions(ctx, "get record", &TxOptions{ReadOnly: true}, func(tx *Tx) error {
		r, err := tx.getRecord(ctx, id)
		out = r
		return err
	})
	return out, err
}

func (t *Tx) getRecord(ctx context.Context, id int64) (*Record, error) {
	r := &Record{}
	var parent sql.NullInt64
	var created, updated sql.NullTime

	err := t.QueryRow(ctx, `
		SELECT id, parent_id, md5, file_ext, rating, width, height, file_size,
		       score, up_score, down_score, fav_count, comment_count,
		       is_deleted, is_pending, is_flagged, created_at, updated_at
		FROM records WHERE id = ?
	`, id).Scan(
		&r.ID, &parent, &r.MD5, &r.FileExt, &r.Rating, &r.Width, &r.Height, &r.FileSize,
		&r.Score, &r.UpScore, &r.DownScore, &r.FavCount, &r.CommentCount,
		&r.IsDeleted, &r.IsPending, &r.IsFlagged, &created, &updated,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	if parent.Valid {
		p := parent.Int64
		r.ParentID = &p
	}
	r.CreatedAt = timePtr(created)
	r.UpdatedAt = timePtr(updated)

	tagRows, err := t.Query(ctx, `
		SELECT t.name FROM record_tags rt
		JOIN tags t ON t.id = rt.tag_id
		WHERE rt.record_id = ?
		ORDER BY t.name
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	for tagRows.Next() {
		var name string
		if err := tagRows.Scan(&name); err != nil {
			tagRows.Close()
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		r.Tags = append(r.Tags, name)
	}
	tagRows.Close()
	if err := tagRows.Err(); err != nil {
		return nil, err
	}

	srcRows, err := t.Query(ctx, "SELECT source FROM record_sources WHERE record_id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer srcRows.Close()
	for srcRows.Next() {
		var src string
		if err := srcRows.Scan(&src); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		r.Sources = append(r.Sources, src)
	}
	return r, srcRows.Err()
}
