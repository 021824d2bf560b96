package store

import (
	"context"
	"fmt"
)

// TagIDsByName looks up the ids of the named tags that already exist
func (t *Tx) TagIDsByName(ctx context.Context, names []string) (map[string]int64, error) {
	out := make(map[string]int64, len(names))
	for _, chunk := range chunks(names, DefaultChunkSize) {
		args := make([]any, len(chunk))
		for i, name := range chunk {
			args[i] = name
		}

		rows, err := t.Query(ctx, "SELECT id, name FROM tags WHERE name IN ("+inList(len(chunk))+")", args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query tags: %w", err)
		}
		for rows.Next() {
			var id int64
			var name string
			if err := rows.Scan(&id, &name); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan tag: %w", err)
			}
			out[name] = id
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// InsertTags creates the named tags, ignoring names that already exist
func (t *Tx) InsertTags(ctx context.Context, names []string) error {
	for _, chunk := range chunks(names, DefaultChunkSize) {
		args := make([]any, len(chunk))
		for i, name := range chunk {
			args[i] = name
		}
		_, err := t.Exec(ctx, `
			INSERT INTO tags (name)
			VALUES `+placeholders(len(chunk), 1)+`
			ON CONFLICT(name) DO NOTHING
		`, args...)
		if err != nil {
			return fmt.Errorf("failed to insert tags: %w", err)
		}
	}
	return nil
}
