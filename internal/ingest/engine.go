// Package ingest upserts export records into the store, reconciling tag and
// source lists and deferring records whose parent does not exist yet.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NatalieWolfe/awoo-diffusion/internal/report"
	"github.com/NatalieWolfe/awoo-diffusion/internal/store"
	"github.com/NatalieWolfe/awoo-diffusion/internal/util"
)

// Outcome is what happened to one record of a batch
type Outcome int

const (
	OutcomeApplied Outcome = iota
	OutcomeSkipped
	OutcomeDeferredMissingParent
	OutcomeRejected
)

// ErrInvalidAsset marks a record whose digest or extension cannot name a file
var ErrInvalidAsset = errors.New("invalid asset reference")

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeDeferredMissingParent:
		return "deferred_missing_parent"
	case OutcomeRejected:
		return "rejected"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// RecordOutcome pairs a record id with its outcome
type RecordOutcome struct {
	ID      int64
	Outcome Outcome
}

// Result summarizes one committed batch
type Result struct {
	Outcomes    []RecordOutcome
	Applied     int
	Skipped     int
	Rejected    int // malformed digest or extension, never written
	TagsAdded   int
	TagsRemoved int

	// Deferred holds records whose parent was missing, parent cleared,
	// ready to be submitted again
	Deferred []store.Record
}

func (r *Result) add(id int64, outcome Outcome) {
	r.Outcomes = append(r.Outcomes, RecordOutcome{ID: id, Outcome: outcome})
	switch outcome {
	case OutcomeApplied:
		r.Applied++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeRejected:
		r.Rejected++
	}
}

// Engine writes record batches. It owns the tag cache.
type Engine struct {
	store  *store.Store
	tags   *TagCache
	events *report.EventLogger
}

// NewEngine creates an engine over s. events may be nil.
func NewEngine(s *store.Store, events *report.EventLogger) *Engine {
	return &Engine{
		store:  s,
		tags:   NewTagCache(),
		events: events,
	}
}

// Tags exposes the engine's tag cache
func (e *Engine) Tags() *TagCache {
	return e.tags
}

// Ingest writes a batch in one transaction. Records whose comparison fields
// match the stored row are skipped. A record whose parent is missing is
// rolled back on its own, returned in Result.Deferred with ParentID cleared,
// and the rest of the batch still commits. Any other failure rolls back the
// whole batch.
func (e *Engine) Ingest(ctx context.Context, batch []store.Record) (*Result, error) {
	if len(batch) == 0 {
		return &Result{}, nil
	}
	start := time.Now()

	ids := make([]int64, len(batch))
	for i := range batch {
		ids[i] = batch[i].ID
	}
	prior, err := e.store.LoadSnapshots(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}

	var result *Result
	var learned map[string]int64

	err = e.store.Transaction(ctx, "ingest batch", func(tx *store.Tx) error {
		// Reset per attempt; a retried transaction starts from scratch
		result = &Result{}
		learned = make(map[string]int64)

		for i := range batch {
			rec := batch[i]

			if err := checkAsset(&rec); err != nil {
				util.WarnLog("Ingest: record %d rejected: %v", rec.ID, err)
				e.events.LogError(report.EventIngest, rec.ID, err)
				result.add(rec.ID, OutcomeRejected)
				continue
			}

			if snap, ok := prior[rec.ID]; ok && snap.Equal(rec.Snapshot()) {
				result.add(rec.ID, OutcomeSkipped)
				continue
			}

			staged := make(map[string]int64)
			var added, removed int
			err := tx.Savepoint(ctx, fmt.Sprintf("record_%d", i), func() error {
				var err error
				added, removed, err = e.apply(ctx, tx, &rec, learned, staged)
				return err
			})

			if err != nil {
				if store.Classify(err) != store.KindMissingReference {
					return err
				}
				parent := int64(0)
				if rec.ParentID != nil {
					parent = *rec.ParentID
				}
				util.DebugLog("Ingest: record %d deferred, parent %d missing", rec.ID, parent)
				e.events.LogDefer(rec.ID, parent)

				rec.ParentID = nil
				result.Deferred = append(result.Deferred, rec)
				result.add(rec.ID, OutcomeDeferredMissingParent)
				continue
			}

			for name, id := range staged {
				learned[name] = id
			}
			result.TagsAdded += added
			result.TagsRemoved += removed
			result.add(rec.ID, OutcomeApplied)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.tags.Merge(learned)
	e.events.LogIngest(result.Applied, result.Skipped, len(result.Deferred), time.Since(start))

	return result, nil
}

// checkAsset rejects records the cache could never place on disk
func checkAsset(rec *store.Record) error {
	if !util.IsDigest(rec.MD5) {
		return fmt.Errorf("%w: md5 %q", ErrInvalidAsset, rec.MD5)
	}
	if rec.FileExt == "" || strings.ContainsAny(rec.FileExt, `/\.`) {
		return fmt.Errorf("%w: file extension %q", ErrInvalidAsset, rec.FileExt)
	}
	return nil
}

// apply writes one record: row, tag diff, sources
func (e *Engine) apply(ctx context.Context, tx *store.Tx, rec *store.Record, learned, staged map[string]int64) (added, removed int, err error) {
	if err := tx.UpsertRecord(ctx, rec); err != nil {
		return 0, 0, err
	}

	tagIDs, err := e.resolveTags(ctx, tx, rec.Tags, learned, staged)
	if err != nil {
		return 0, 0, err
	}

	stored, err := tx.RecordTagIDs(ctx, rec.ID)
	if err != nil {
		return 0, 0, err
	}

	additions, removals := DiffTags(tagIDs, stored)
	if len(additions) > 0 {
		if err := tx.AddRecordTags(ctx, rec.ID, additions); err != nil {
			return 0, 0, err
		}
	}
	if len(removals) > 0 {
		if err := tx.RemoveRecordTags(ctx, rec.ID, removals); err != nil {
			return 0, 0, err
		}
	}

	if err := tx.ReplaceSources(ctx, rec.ID, rec.Sources); err != nil {
		return 0, 0, err
	}

	return len(additions), len(removals), nil
}

// resolveTags maps names to ids: committed cache, then ids seen earlier in
// this transaction, then the tags table, inserting whatever is still missing.
// Ids first seen here go to staged.
func (e *Engine) resolveTags(ctx context.Context, tx *store.Tx, names []string, learned, staged map[string]int64) ([]int64, error) {
	names = uniqueNames(names)
	ids := make([]int64, 0, len(names))

	var missing []string
	for _, name := range names {
		if id, ok := e.tags.Get(name); ok {
			ids = append(ids, id)
			continue
		}
		if id, ok := learned[name]; ok {
			ids = append(ids, id)
			continue
		}
		missing = append(missing, name)
	}
	if len(missing) == 0 {
		return ids, nil
	}

	found, err := tx.TagIDsByName(ctx, missing)
	if err != nil {
		return nil, err
	}

	var absent []string
	for _, name := range missing {
		if _, ok := found[name]; !ok {
			absent = append(absent, name)
		}
	}

	if len(absent) > 0 {
		if err := tx.InsertTags(ctx, absent); err != nil {
			return nil, err
		}
		created, err := tx.TagIDsByName(ctx, absent)
		if err != nil {
			return nil, err
		}
		for name, id := range created {
			found[name] = id
		}
	}

	for _, name := range missing {
		id, ok := found[name]
		if !ok {
			return nil, fmt.Errorf("tag %q could not be resolved", name)
		}
		staged[name] = id
		ids = append(ids, id)
	}
	return ids, nil
}
