package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// EventType represents the type of event
type EventType string

const (
	EventIngest   EventType = "ingest"
	EventDefer    EventType = "defer"
	EventSelect   EventType = "select"
	EventPlace    EventType = "place"
	EventDownload EventType = "download"
	EventNotFound EventType = "not_found"
	EventMismatch EventType = "mismatch"
	EventRepair   EventType = "repair"
	EventError    EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// levelPriority maps event levels to numeric priorities for comparison
var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Event represents a single event in a run
type Event struct {
	Timestamp    time.Time         `json:"ts"`
	RunID        string            `json:"run_id"`
	Level        EventLevel        `json:"level"`
	Event        EventType         `json:"event"`
	RecordID     int64             `json:"record_id,omitempty"`
	MD5          string            `json:"md5,omitempty"`
	Path         string            `json:"path,omitempty"`
	URL          string            `json:"url,omitempty"`
	Count        int               `json:"count,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	BytesWritten int64             `json:"bytes_written,omitempty"`
	Duration     int64             `json:"duration_ms,omitempty"` // in milliseconds
	Error        string            `json:"error,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// Options controls event log rotation
type Options struct {
	MinLevel   EventLevel
	MaxSizeMB  int // rotate after this many megabytes
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// EventLogger writes events as JSON lines to a rotating file
type EventLogger struct {
	out      io.WriteCloser
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	runID    string
	minLevel EventLevel
}

// NewEventLogger creates a new event logger with a minimum log level
// minLevel determines which events are written (e.g., LevelInfo skips LevelDebug)
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	return NewEventLoggerWithOptions(outputDir, &Options{MinLevel: minLevel})
}

// NewEventLoggerWithOptions creates an event logger writing to
// <outputDir>/events.jsonl, rotated by size
func NewEventLoggerWithOptions(outputDir string, opts *Options) (*EventLogger, error) {
	if opts == nil {
		opts = &Options{}
	}
	if opts.MinLevel == "" {
		opts.MinLevel = LevelInfo
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 100
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(outputDir, "events.jsonl")
	out := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}

	return &EventLogger{
		out:      out,
		encoder:  json.NewEncoder(out),
		path:     path,
		runID:    uuid.NewString(),
		minLevel: opts.MinLevel,
	}, nil
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.out == nil {
		return nil // Silently ignore if logger not initialized
	}

	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.RunID = l.runID

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

// LogIngest logs one committed ingest batch
func (l *EventLogger) LogIngest(applied, skipped, deferred int, duration time.Duration) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventIngest,
		Count:    applied,
		Duration: duration.Milliseconds(),
		Extra: map[string]string{
			"skipped":  fmt.Sprintf("%d", skipped),
			"deferred": fmt.Sprintf("%d", deferred),
		},
	})
}

// LogDefer logs a record postponed because its parent is missing
func (l *EventLogger) LogDefer(recordID, parentID int64) error {
	return l.Log(&Event{
		Level:    LevelDebug,
		Event:    EventDefer,
		RecordID: recordID,
		Reason:   "missing parent",
		Extra: map[string]string{
			"parent_id": fmt.Sprintf("%d", parentID),
		},
	})
}

// LogSelect logs the outcome of a selection pass
func (l *EventLogger) LogSelect(added, removed int, duration time.Duration) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventSelect,
		Count:    added,
		Duration: duration.Milliseconds(),
		Extra: map[string]string{
			"removed": fmt.Sprintf("%d", removed),
		},
	})
}

// LogPlace logs an asset moved from the legacy store into the cache
func (l *EventLogger) LogPlace(recordID int64, md5, src, dest string) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventPlace,
		RecordID: recordID,
		MD5:      md5,
		Path:     dest,
		Extra: map[string]string{
			"src": src,
		},
	})
}

// LogDownload logs a fetched asset
func (l *EventLogger) LogDownload(recordID int64, md5, url, dest string, bytesWritten int64, duration time.Duration, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}

	return l.Log(&Event{
		Level:        level,
		Event:        EventDownload,
		RecordID:     recordID,
		MD5:          md5,
		URL:          url,
		Path:         dest,
		BytesWritten: bytesWritten,
		Duration:     duration.Milliseconds(),
		Error:        errMsg,
	})
}

// LogNotFound logs an asset the remote host no longer has
func (l *EventLogger) LogNotFound(recordID int64, md5, url string) error {
	return l.Log(&Event{
		Level:    LevelWarning,
		Event:    EventNotFound,
		RecordID: recordID,
		MD5:      md5,
		URL:      url,
	})
}

// LogMismatch logs a file whose digest differs from the declared one
func (l *EventLogger) LogMismatch(recordID int64, want, got, path string) error {
	return l.Log(&Event{
		Level:    LevelWarning,
		Event:    EventMismatch,
		RecordID: recordID,
		MD5:      want,
		Path:     path,
		Extra: map[string]string{
			"actual": got,
		},
	})
}

// LogRepair logs a cached file discarded and queued for re-fetch
func (l *EventLogger) LogRepair(recordID int64, path, reason string) error {
	return l.Log(&Event{
		Level:    LevelWarning,
		Event:    EventRepair,
		RecordID: recordID,
		Path:     path,
		Reason:   reason,
	})
}

// LogError logs an error event
func (l *EventLogger) LogError(event EventType, recordID int64, err error) error {
	return l.Log(&Event{
		Level:    LevelError,
		Event:    event,
		RecordID: recordID,
		Error:    err.Error(),
	})
}

// Close closes the event log file
func (l *EventLogger) Close() error {
	if l == nil || l.out == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.out.Close()
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// RunID returns the identifier stamped on every event of this run
func (l *EventLogger) RunID() string {
	if l == nil {
		return ""
	}
	return l.runID
}

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}
