package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/NatalieWolfe/awoo-diffusion/internal/queue"
	"github.com/NatalieWolfe/awoo-diffusion/internal/report"
	"github.com/NatalieWolfe/awoo-diffusion/internal/store"
	"github.com/NatalieWolfe/awoo-diffusion/internal/util"
)

// DefaultDelay is the pause before each remote request
const DefaultDelay = 500 * time.Millisecond

// Synchronizer reconciles the cache directory with the store's selection
type Synchronizer struct {
	store       *store.Store
	fetcher     Fetcher
	cacheDir    string
	legacyDir   string
	delay       time.Duration
	bufferSize  int
	retryConfig *util.RetryConfig
	logger      *report.EventLogger
}

// Config holds synchronizer configuration
type Config struct {
	Store       *store.Store
	Fetcher     Fetcher
	CacheDir    string
	LegacyDir   string            // digest-sharded directory to adopt files from; optional
	Delay       time.Duration     // politeness delay; negative disables it, 0 means DefaultDelay
	BufferSize  int               // copy buffer for downloads (0 = use default)
	RetryConfig *util.RetryConfig // file operation retries (nil = use default)
	Logger      *report.EventLogger
}

// New creates a new Synchronizer
func New(cfg *Config) *Synchronizer {
	if cfg.Delay == 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if cfg.RetryConfig == nil {
		cfg.RetryConfig = util.DefaultRetryConfig()
	}

	return &Synchronizer{
		store:       cfg.Store,
		fetcher:     cfg.Fetcher,
		cacheDir:    cfg.CacheDir,
		legacyDir:   cfg.LegacyDir,
		delay:       cfg.Delay,
		bufferSize:  cfg.BufferSize,
		retryConfig: cfg.RetryConfig,
		logger:      cfg.Logger,
	}
}

// Result represents synchronization results
type Result struct {
	Pending      int // selected assets not yet cached at start
	Cached       int // selected assets believed cached at start
	Adopted      int // already in the cache directory and valid
	Placed       int // moved in from the legacy directory
	Verified     int // cached files whose digest still matched
	Repaired     int // cached files found missing or corrupt and requeued
	Downloaded   int
	NotFound     int
	Mismatched   int // downloads whose digest did not match
	Failed       int // other download failures
	Invalid      int // selected records whose digest or extension is malformed
	BytesWritten int64
	Duration     time.Duration
}

// counters are shared by the feeds and both queues during one Sync
type counters struct {
	adopted, placed, verified, repaired    atomic.Int64
	downloaded, notFound, mismatched, fail atomic.Int64
	bytes, invalid                         atomic.Int64
}

// syncRun is the state of one Sync call
type syncRun struct {
	*Synchronizer
	downloads *queue.Queue[store.Asset]
	bar       *progressbar.ProgressBar
	counters
}

// Sync brings the cache in line with the store. Pending assets are placed
// from the legacy directory or queued for download; cached assets are
// re-hashed and requeued when they no longer match. Returns once both queues
// are empty.
func (s *Synchronizer) Sync(ctx context.Context) (*Result, error) {
	start := time.Now()
	util.InfoLog("Starting cache sync")
	util.InfoLog("Cache: %s", s.cacheDir)

	// Load both lists up front so no rows stay open while queue actions write
	pending, err := s.store.PendingAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending assets: %w", err)
	}
	cached, err := s.store.DownloadedAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load cached assets: %w", err)
	}
	util.InfoLog("Found %d pending and %d cached assets", len(pending), len(cached))

	// No queue action may outlive Sync
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	run := &syncRun{
		Synchronizer: s,
		bar:          util.NewProgressBar(-1, "Downloading", "assets"),
	}
	run.downloads = queue.New(ctx, run.download)
	validations := queue.New(ctx, run.validate)

	abort := func(err error) (*Result, error) {
		cancel()
		validations.Drain(context.Background())
		run.downloads.Drain(context.Background())
		return nil, err
	}

	pendingCount, cachedCount := len(pending), len(cached)
	pending = run.usable(pending)
	cached = run.usable(cached)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for _, a := range pending {
			if err := run.place(gctx, a); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for _, a := range cached {
			if err := gctx.Err(); err != nil {
				return err
			}
			validations.Enqueue(a)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return abort(err)
	}

	if err := validations.Settle(ctx); err != nil {
		return abort(fmt.Errorf("validation stopped: %w", err))
	}
	if err := run.downloads.Settle(ctx); err != nil {
		return abort(fmt.Errorf("downloads stopped: %w", err))
	}
	if run.bar != nil {
		run.bar.Finish()
	}

	result := &Result{
		Pending:      pendingCount,
		Cached:       cachedCount,
		Invalid:      int(run.invalid.Load()),
		Adopted:      int(run.adopted.Load()),
		Placed:       int(run.placed.Load()),
		Verified:     int(run.verified.Load()),
		Repaired:     int(run.repaired.Load()),
		Downloaded:   int(run.downloaded.Load()),
		NotFound:     int(run.notFound.Load()),
		Mismatched:   int(run.mismatched.Load()),
		Failed:       int(run.fail.Load()),
		BytesWritten: run.bytes.Load(),
		Duration:     time.Since(start),
	}

	util.SuccessLog("Cache sync complete: %d placed, %d downloaded (%s), %d repaired, %d not found, %d failed",
		result.Placed+result.Adopted, result.Downloaded, humanize.Bytes(uint64(result.BytesWritten)),
		result.Repaired, result.NotFound, result.Failed+result.Mismatched)

	return result, nil
}

// usable drops assets that cannot be laid out, logging each one
func (r *syncRun) usable(assets []store.Asset) []store.Asset {
	kept := assets[:0]
	for _, a := range assets {
		if err := ValidateAsset(a); err != nil {
			r.invalid.Add(1)
			util.WarnLog("Skipping %v", err)
			r.logger.LogError(report.EventError, a.RecordID, err)
			continue
		}
		kept = append(kept, a)
	}
	return kept
}

// place tries to satisfy a pending asset without the network: first from a
// valid file already at the cache path, then from the legacy directory.
// Anything else goes to the download queue.
func (r *syncRun) place(ctx context.Context, a store.Asset) error {
	dest := LocalPath(r.cacheDir, a)

	if err := util.VerifyFileDigest(ctx, dest, a.MD5); err == nil {
		if err := r.store.MarkDownloaded(ctx, a.RecordID, true); err != nil {
			return err
		}
		r.adopted.Add(1)
		util.DebugLog("Adopted: %s", dest)
		return nil
	} else if ctx.Err() != nil {
		return ctx.Err()
	}

	if r.legacyDir == "" {
		r.downloads.Enqueue(a)
		return nil
	}

	src := LegacyPath(r.legacyDir, a)
	if _, err := os.Stat(src); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			util.WarnLog("Cannot stat legacy file %s: %v", src, err)
		}
		r.downloads.Enqueue(a)
		return nil
	}

	if err := util.MoveFile(src, dest, r.retryConfig); err != nil {
		util.WarnLog("Failed to move %s into cache: %v", src, err)
		r.logger.LogError(report.EventPlace, a.RecordID, err)
		r.downloads.Enqueue(a)
		return nil
	}

	got, err := util.FileDigest(ctx, dest)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil || !strings.EqualFold(got, a.MD5) {
		util.WarnLog("Legacy file for record %d does not match its digest, fetching instead", a.RecordID)
		r.logger.LogMismatch(a.RecordID, a.MD5, got, dest)
		r.discard(dest)
		r.downloads.Enqueue(a)
		return nil
	}

	if err := r.store.MarkDownloaded(ctx, a.RecordID, true); err != nil {
		return err
	}
	r.placed.Add(1)
	r.logger.LogPlace(a.RecordID, a.MD5, src, dest)
	util.DebugLog("Placed: %s -> %s", src, dest)
	return nil
}

// validate re-hashes a cached file. A missing or mismatching file is removed,
// unflagged and queued for download.
func (r *syncRun) validate(ctx context.Context, a store.Asset) error {
	path := LocalPath(r.cacheDir, a)

	got, err := util.FileDigest(ctx, path)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var reason string
	switch {
	case errors.Is(err, fs.ErrNotExist):
		reason = "missing"
	case err != nil:
		reason = fmt.Sprintf("unreadable: %v", err)
	case !strings.EqualFold(got, a.MD5):
		reason = "digest mismatch"
		r.logger.LogMismatch(a.RecordID, a.MD5, got, path)
	default:
		r.verified.Add(1)
		return nil
	}

	util.WarnLog("Cached asset for record %d is %s, refetching", a.RecordID, reason)
	r.discard(path)
	if err := r.store.MarkDownloaded(ctx, a.RecordID, false); err != nil {
		return err
	}
	r.repaired.Add(1)
	r.logger.LogRepair(a.RecordID, path, reason)
	r.downloads.Enqueue(a)
	return nil
}

// download fetches one asset. Remote failures and digest mismatches are
// logged and dropped; the next validation pass will pick them up again.
// Only store or context errors stop the queue.
func (r *syncRun) download(ctx context.Context, a store.Asset) error {
	if r.bar != nil {
		defer r.bar.Add(1)
	}

	if err := ValidateAsset(a); err != nil {
		r.invalid.Add(1)
		util.WarnLog("Not downloading: %v", err)
		r.logger.LogError(report.EventDownload, a.RecordID, err)
		return nil
	}

	if r.delay > 0 {
		timer := time.NewTimer(r.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	key := RemoteKey(a)
	location := r.fetcher.Location(key)
	dest := LocalPath(r.cacheDir, a)
	start := time.Now()

	n, err := r.fetchTo(ctx, key, dest)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrNotFound) {
			r.notFound.Add(1)
			r.logger.LogNotFound(a.RecordID, a.MD5, location)
			util.WarnLog("Not found: record %d at %s", a.RecordID, location)
			return nil
		}
		r.fail.Add(1)
		r.logger.LogDownload(a.RecordID, a.MD5, location, dest, 0, time.Since(start), err)
		util.WarnLog("Download failed for record %d: %v", a.RecordID, err)
		return nil
	}

	got, err := util.FileDigest(ctx, dest)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil || !strings.EqualFold(got, a.MD5) {
		r.mismatched.Add(1)
		r.logger.LogMismatch(a.RecordID, a.MD5, got, dest)
		util.WarnLog("Downloaded asset for record %d does not match its digest", a.RecordID)
		r.discard(dest)
		return nil
	}

	if err := r.store.MarkDownloaded(ctx, a.RecordID, true); err != nil {
		return err
	}
	r.downloaded.Add(1)
	r.bytes.Add(n)
	r.logger.LogDownload(a.RecordID, a.MD5, location, dest, n, time.Since(start), nil)
	util.DebugLog("Downloaded: %s (%s)", dest, humanize.Bytes(uint64(n)))
	return nil
}

// fetchTo streams key into dest through a .part file
func (r *syncRun) fetchTo(ctx context.Context, key, dest string) (int64, error) {
	if err := util.RetryableMkdirAll(filepath.Dir(dest), 0755, r.retryConfig); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	body, err := r.fetcher.Fetch(ctx, key)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	tempPath := dest + ".part"
	out, err := util.RetryableCreate(tempPath, r.retryConfig)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	n, err := util.CopyWithContext(ctx, out, body, r.bufferSize)
	if err == nil {
		err = out.Sync()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		r.discard(tempPath)
		return 0, fmt.Errorf("failed to write %s: %w", tempPath, err)
	}

	if err := util.RetryableRename(tempPath, dest, r.retryConfig); err != nil {
		r.discard(tempPath)
		return 0, fmt.Errorf("failed to rename: %w", err)
	}
	return n, nil
}

// discard removes a stray or partial file, warning when it cannot
func (r *syncRun) discard(path string) {
	if err := util.RetryableRemove(path, r.retryConfig); err != nil {
		util.WarnLog("Failed to remove %s: %v", path, err)
	}
}
