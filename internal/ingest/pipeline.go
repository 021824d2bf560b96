package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/NatalieWolfe/awoo-diffusion/internal/queue"
	"github.com/NatalieWolfe/awoo-diffusion/internal/store"
	"github.com/NatalieWolfe/awoo-diffusion/internal/util"
)

// RecordSource yields records until io.EOF
type RecordSource interface {
	Next() (store.Record, error)
}

// PipelineOptions configures batching
type PipelineOptions struct {
	BatchSize int // records per transaction
	Backlog   int // batches allowed to wait behind the one being written
	MaxRounds int // resubmission rounds for deferred records
}

// DefaultPipelineOptions returns sensible batching defaults
func DefaultPipelineOptions() PipelineOptions {
	return PipelineOptions{
		BatchSize: 1000,
		Backlog:   4,
		MaxRounds: 3,
	}
}

// PipelineResult totals a whole export run
type PipelineResult struct {
	Read        int
	Batches     int
	Applied     int
	Skipped     int
	Rejected    int
	TagsAdded   int
	TagsRemoved int
	Rounds      int // deferred resubmission rounds that ran
	Pauses      int // times the reader waited on a full backlog

	// Unresolved holds deferred records that never went through
	Unresolved []store.Record
	Duration   time.Duration
}

// Pipeline feeds an export through the engine one batch at a time while the
// reader keeps filling a bounded backlog
type Pipeline struct {
	engine *Engine
	opts   PipelineOptions
}

// NewPipeline creates a pipeline with the given options; zero fields take defaults
func NewPipeline(engine *Engine, opts PipelineOptions) *Pipeline {
	def := DefaultPipelineOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.Backlog <= 0 {
		opts.Backlog = def.Backlog
	}
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = def.MaxRounds
	}
	return &Pipeline{engine: engine, opts: opts}
}

// Run reads src to the end, ingesting in batches, then resubmits deferred
// records until none remain, a round makes no progress, or MaxRounds is hit
func (p *Pipeline) Run(ctx context.Context, src RecordSource) (*PipelineResult, error) {
	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	res := &PipelineResult{}
	var mu sync.Mutex
	var deferred []store.Record

	bar := util.NewProgressBar(-1, "Ingesting", "records")

	q := queue.New(ctx, func(ctx context.Context, batch []store.Record) error {
		r, err := p.engine.Ingest(ctx, batch)
		if err != nil {
			return fmt.Errorf("batch of %d starting at record %d: %w", len(batch), batch[0].ID, err)
		}

		mu.Lock()
		res.Batches++
		res.Applied += r.Applied
		res.Skipped += r.Skipped
		res.Rejected += r.Rejected
		res.TagsAdded += r.TagsAdded
		res.TagsRemoved += r.TagsRemoved
		deferred = append(deferred, r.Deferred...)
		mu.Unlock()

		if bar != nil {
			bar.Add(len(batch))
		} else {
			util.DebugLog("Ingest: batch done (%d applied, %d unchanged, %d deferred)",
				r.Applied, r.Skipped, len(r.Deferred))
		}
		return nil
	}, queue.WithCapacity(p.opts.Backlog), queue.WithPauseHooks(
		func() {
			mu.Lock()
			res.Pauses++
			mu.Unlock()
			util.DebugLog("Ingest: backlog full, pausing export read")
		},
		func() { util.DebugLog("Ingest: backlog has room, resuming export read") },
	))

	batch := make([]store.Record, 0, p.opts.BatchSize)
	for {
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		res.Read++

		batch = append(batch, rec)
		if len(batch) >= p.opts.BatchSize {
			if err := q.Push(ctx, batch); err != nil {
				return nil, err
			}
			batch = make([]store.Record, 0, p.opts.BatchSize)
		}
	}
	if len(batch) > 0 {
		if err := q.Push(ctx, batch); err != nil {
			return nil, err
		}
	}
	if err := q.Settle(ctx); err != nil {
		return nil, err
	}

	for round := 1; ; round++ {
		mu.Lock()
		pending := deferred
		deferred = nil
		mu.Unlock()

		if len(pending) == 0 {
			break
		}
		if round > p.opts.MaxRounds {
			res.Unresolved = pending
			break
		}

		util.InfoLog("Ingest: resubmitting %d deferred records (round %d)", len(pending), round)
		for i := 0; i < len(pending); i += p.opts.BatchSize {
			end := min(i+p.opts.BatchSize, len(pending))
			if err := q.Push(ctx, pending[i:end]); err != nil {
				return nil, err
			}
		}
		if err := q.Settle(ctx); err != nil {
			return nil, err
		}
		res.Rounds++

		mu.Lock()
		stuck := len(deferred) >= len(pending)
		if stuck {
			res.Unresolved = deferred
			deferred = nil
		}
		mu.Unlock()
		if stuck {
			break
		}
	}

	if bar != nil {
		bar.Finish()
	}
	res.Duration = time.Since(start)

	if res.Rejected > 0 {
		util.WarnLog("Ingest: %d records rejected for an invalid digest or extension", res.Rejected)
	}
	if len(res.Unresolved) > 0 {
		util.WarnLog("Ingest: %d records still deferred after %d rounds", len(res.Unresolved), res.Rounds)
	}
	util.SuccessLog("Ingest complete: %d read, %d applied, %d unchanged in %s",
		res.Read, res.Applied, res.Skipped, res.Duration.Round(time.Millisecond))

	return res, nil
}
