package report

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// readEvents decodes every line of the logger's file
func readEvents(t *testing.T, path string) []Event {
	t.Helper()

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	lineCount := 0
	for scanner.Scan() {
		lineCount++
		var decoded Event
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("Failed to decode line %d: %v", lineCount, err)
		}
		events = append(events, decoded)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("Failed to scan log: %v", err)
	}
	return events
}

func TestNewEventLogger(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := NewEventLogger(filepath.Join(tmpDir, "logs"), LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}
	defer logger.Close()

	if logger.Path() != filepath.Join(tmpDir, "logs", "events.jsonl") {
		t.Errorf("Unexpected event log path: %s", logger.Path())
	}
	if logger.RunID() == "" {
		t.Error("Expected a run id")
	}

	other, err := NewEventLogger(tmpDir, LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}
	defer other.Close()
	if other.RunID() == logger.RunID() {
		t.Error("Expected distinct run ids per logger")
	}
}

func TestEventLogger_Log(t *testing.T) {
	tmpDir := t.TempDir()
	logger, err := NewEventLogger(tmpDir, LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}

	event := &Event{
		Level:    LevelInfo,
		Event:    EventDownload,
		RecordID: 42,
		MD5:      "5d41402abc4b2a76b9719d911017c592",
		Path:     "/cache/42/42.png",
	}

	if err := logger.Log(event); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	logger.Close()

	events := readEvents(t, logger.Path())
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	decoded := events[0]

	if decoded.RecordID != 42 {
		t.Errorf("Expected record_id 42, got %d", decoded.RecordID)
	}
	if decoded.Path != "/cache/42/42.png" {
		t.Errorf("Expected path '/cache/42/42.png', got '%s'", decoded.Path)
	}
	if decoded.RunID != logger.RunID() {
		t.Errorf("Expected run id %s, got %s", logger.RunID(), decoded.RunID)
	}
	if decoded.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestEventLogger_ConcurrentWrites(t *testing.T) {
	tmpDir := t.TempDir()
	logger, err := NewEventLogger(tmpDir, LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}

	const numGoroutines = 10
	const eventsPerGoroutine = 20

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				if err := logger.LogPlace(int64(id*100+j), "md5", "/legacy", "/cache"); err != nil {
					t.Errorf("Concurrent log failed: %v", err)
				}
			}
		}(i)
	}

	wg.Wait()
	logger.Close()

	expected := numGoroutines * eventsPerGoroutine
	if got := len(readEvents(t, logger.Path())); got != expected {
		t.Errorf("Expected %d events, got %d", expected, got)
	}
}

func TestEventLogger_Helpers(t *testing.T) {
	tmpDir := t.TempDir()
	logger, err := NewEventLogger(tmpDir, LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}

	logger.LogIngest(10, 5, 1, 1500*time.Millisecond)
	logger.LogDefer(7, 3)
	logger.LogSelect(4, 2, time.Second)
	logger.LogDownload(9, "abc", "https://host/ab/c", "/cache/9/9.png", 2048, time.Second, nil)
	logger.LogDownload(9, "abc", "https://host/ab/c", "/cache/9/9.png", 0, time.Second, errors.New("status 503"))
	logger.LogNotFound(11, "def", "https://host/de/f")
	logger.LogMismatch(12, "want", "got", "/cache/12/12.jpg")
	logger.LogRepair(12, "/cache/12/12.jpg", "digest mismatch")
	logger.LogError(EventError, 13, errors.New("boom"))
	logger.Close()

	events := readEvents(t, logger.Path())
	want := []struct {
		event EventType
		level EventLevel
	}{
		{EventIngest, LevelInfo},
		{EventDefer, LevelDebug},
		{EventSelect, LevelInfo},
		{EventDownload, LevelInfo},
		{EventDownload, LevelError},
		{EventNotFound, LevelWarning},
		{EventMismatch, LevelWarning},
		{EventRepair, LevelWarning},
		{EventError, LevelError},
	}
	if len(events) != len(want) {
		t.Fatalf("Expected %d events, got %d", len(want), len(events))
	}
	for i, w := range want {
		if events[i].Event != w.event || events[i].Level != w.level {
			t.Errorf("Event %d = %s/%s, want %s/%s", i, events[i].Event, events[i].Level, w.event, w.level)
		}
	}

	if events[0].Count != 10 || events[0].Extra["skipped"] != "5" || events[0].Duration != 1500 {
		t.Errorf("Unexpected ingest event: %+v", events[0])
	}
	if events[1].Extra["parent_id"] != "3" {
		t.Errorf("Expected parent_id 3, got %v", events[1].Extra)
	}
	if events[3].BytesWritten != 2048 {
		t.Errorf("Expected bytes_written 2048, got %d", events[3].BytesWritten)
	}
	if events[4].Error != "status 503" {
		t.Errorf("Expected error message, got %q", events[4].Error)
	}
	if events[6].Extra["actual"] != "got" {
		t.Errorf("Expected actual digest in extra, got %v", events[6].Extra)
	}
}

func TestEventLogger_NullLogger(t *testing.T) {
	logger := NullLogger()

	if err := logger.Log(&Event{Level: LevelInfo, Event: EventIngest}); err != nil {
		t.Errorf("NullLogger.Log should not error, got: %v", err)
	}
	if err := logger.LogNotFound(1, "x", "y"); err != nil {
		t.Errorf("NullLogger.LogNotFound should not error, got: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("NullLogger.Close should not error, got: %v", err)
	}
	if logger.Path() != "" || logger.RunID() != "" {
		t.Error("NullLogger should have empty path and run id")
	}
}

func TestEventLogger_LogLevelFiltering(t *testing.T) {
	tests := []struct {
		minLevel EventLevel
		expected int
	}{
		{LevelDebug, 4},
		{LevelInfo, 3},
		{LevelWarning, 2},
		{LevelError, 1},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("min_%s", tt.minLevel), func(t *testing.T) {
			logger, err := NewEventLogger(t.TempDir(), tt.minLevel)
			if err != nil {
				t.Fatalf("NewEventLogger failed: %v", err)
			}

			logger.Log(&Event{Level: LevelDebug, Event: EventDefer})
			logger.Log(&Event{Level: LevelInfo, Event: EventIngest})
			logger.Log(&Event{Level: LevelWarning, Event: EventNotFound})
			logger.Log(&Event{Level: LevelError, Event: EventError, Error: "x"})
			logger.Close()

			if got := len(readEvents(t, logger.Path())); got != tt.expected {
				t.Errorf("Expected %d events at min level %s, got %d", tt.expected, tt.minLevel, got)
			}
		})
	}
}

func TestEventLogger_Rotation(t *testing.T) {
	tmpDir := t.TempDir()
	logger, err := NewEventLoggerWithOptions(tmpDir, &Options{MinLevel: LevelDebug, MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewEventLoggerWithOptions failed: %v", err)
	}

	big := make([]byte, 64*1024)
	for i := range big {
		big[i] = 'x'
	}
	for i := 0; i < 20; i++ {
		if err := logger.Log(&Event{Level: LevelInfo, Event: EventError, Error: string(big)}); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}
	logger.Close()

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) < 2 {
		t.Errorf("Expected rotated backups next to events.jsonl, found %d files", len(entries))
	}
}
