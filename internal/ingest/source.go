package ingest

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/NatalieWolfe/awoo-diffusion/internal/store"
	"github.com/NatalieWolfe/awoo-diffusion/internal/util"
)

// exportRecord is one line of the JSON Lines export
type exportRecord struct {
	ID           int64      `json:"id"`
	ParentID     *int64     `json:"parent_id"`
	MD5          string     `json:"md5"`
	FileExt      string     `json:"file_ext"`
	Rating       string     `json:"rating"`
	Width        int        `json:"image_width"`
	Height       int        `json:"image_height"`
	FileSize     int64      `json:"file_size"`
	Score        int        `json:"score"`
	UpScore      int        `json:"up_score"`
	DownScore    int        `json:"down_score"`
	FavCount     int        `json:"fav_count"`
	CommentCount int        `json:"comment_count"`
	IsDeleted    bool       `json:"is_deleted"`
	IsPending    bool       `json:"is_pending"`
	IsFlagged    bool       `json:"is_flagged"`
	CreatedAt    *time.Time `json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at"`
	Tags         []string   `json:"tags"`
	TagString    string     `json:"tag_string"`
	Sources      []string   `json:"sources"`
	SourceString string     `json:"source"`
}

func (e *exportRecord) record() store.Record {
	tags := e.Tags
	if len(tags) == 0 && e.TagString != "" {
		tags = strings.Fields(e.TagString)
	}
	sources := e.Sources
	if len(sources) == 0 && e.SourceString != "" {
		for _, s := range strings.Split(e.SourceString, "\n") {
			if s = strings.TrimSpace(s); s != "" {
				sources = append(sources, s)
			}
		}
	}

	return store.Record{
		ID:           e.ID,
		ParentID:     e.ParentID,
		MD5:          strings.ToLower(e.MD5),
		FileExt:      strings.ToLower(strings.TrimPrefix(e.FileExt, ".")),
		Rating:       e.Rating,
		Width:        e.Width,
		Height:       e.Height,
		FileSize:     e.FileSize,
		Score:        e.Score,
		UpScore:      e.UpScore,
		DownScore:    e.DownScore,
		FavCount:     e.FavCount,
		CommentCount: e.CommentCount,
		IsDeleted:    e.IsDeleted,
		IsPending:    e.IsPending,
		IsFlagged:    e.IsFlagged,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
		Tags:         tags,
		Sources:      sources,
	}
}

// Source streams records from a JSON Lines export, plain or gzip-compressed.
// Lines that fail to parse or lack an id, digest or extension are skipped and counted.
type Source struct {
	closers  []io.Closer
	scanner  *bufio.Scanner
	line     int
	rejected int
}

// OpenSource opens an export file
func OpenSource(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open export: %w", err)
	}
	src, err := newSource(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	src.closers = append(src.closers, f)
	return src, nil
}

// NewSource reads an export from r, detecting gzip by its magic bytes
func NewSource(r io.Reader) (*Source, error) {
	return newSource(r)
}

func newSource(r io.Reader) (*Source, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	src := &Source{}

	magic, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}

	var body io.Reader = br
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		src.closers = append(src.closers, gz)
		body = gz
	}

	src.scanner = bufio.NewScanner(body)
	src.scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return src, nil
}

// Next returns the next valid record, or io.EOF when the export is exhausted
func (s *Source) Next() (store.Record, error) {
	for s.scanner.Scan() {
		s.line++
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}

		var raw exportRecord
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			s.rejected++
			util.WarnLog("Export: line %d: %v", s.line, err)
			continue
		}

		rec := raw.record()
		if rec.ID <= 0 || rec.FileExt == "" || !util.IsDigest(rec.MD5) {
			s.rejected++
			util.DebugLog("Export: line %d: record %d has no usable id, digest or extension", s.line, rec.ID)
			continue
		}
		return rec, nil
	}

	if err := s.scanner.Err(); err != nil {
		return store.Record{}, fmt.Errorf("failed to read export at line %d: %w", s.line, err)
	}
	return store.Record{}, io.EOF
}

// Rejected returns the number of lines skipped so far
func (s *Source) Rejected() int {
	return s.rejected
}

// Close releases the underlying readers
func (s *Source) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
