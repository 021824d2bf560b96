package report

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/NatalieWolfe/awoo-diffusion/internal/store"
)

// SummaryReport represents the outcome of one run
type SummaryReport struct {
	GeneratedAt time.Time
	Duration    time.Duration
	RunID       string

	// Store totals
	Records    int
	Tags       int
	Selected   int
	Downloaded int

	// Ingest statistics
	RecordsApplied  int
	RecordsSkipped  int
	RecordsDeferred int

	// Selection statistics
	SelectionAdded   int
	SelectionRemoved int

	// Cache statistics
	AssetsPlaced     int
	AssetsDownloaded int
	AssetsNotFound   int
	AssetsMismatched int
	AssetsRepaired   int
	BytesWritten     int64

	TopErrors []ErrorSummary

	DatabasePath string
	CacheDir     string
	EventLogPath string
}

// ErrorSummary represents an error with its count
type ErrorSummary struct {
	Error string
	Count int
}

// GenerateSummaryReport reads store totals and tallies this run's events.
// Counters the caller already holds can be filled in on the returned report.
func GenerateSummaryReport(ctx context.Context, db *store.Store, eventLogPath, runID string) (*SummaryReport, error) {
	report := &SummaryReport{
		GeneratedAt:  time.Now(),
		RunID:        runID,
		EventLogPath: eventLogPath,
		TopErrors:    make([]ErrorSummary, 0),
	}

	stats, err := db.Stats(ctx)
	if err != nil {
		return nil, err
	}
	report.Records = stats.Records
	report.Tags = stats.Tags
	report.Selected = stats.Selected
	report.Downloaded = stats.Downloaded

	if eventLogPath != "" {
		errs, err := gatherTopErrors(eventLogPath, runID, 10)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		report.TopErrors = errs
	}

	return report, nil
}

// gatherTopErrors counts error messages logged by one run, most common first
func gatherTopErrors(path, runID string, limit int) ([]ErrorSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	errorCounts := make(map[string]int)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue // Skip torn lines
		}
		if ev.Error == "" || (runID != "" && ev.RunID != runID) {
			continue
		}
		errorCounts[ev.Error]++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	errors := make([]ErrorSummary, 0, len(errorCounts))
	for msg, count := range errorCounts {
		errors = append(errors, ErrorSummary{Error: msg, Count: count})
	}

	sort.Slice(errors, func(i, j int) bool {
		if errors[i].Count != errors[j].Count {
			return errors[i].Count > errors[j].Count
		}
		return errors[i].Error < errors[j].Error
	})

	if len(errors) > limit {
		errors = errors[:limit]
	}

	return errors, nil
}

// WriteMarkdownReport writes the summary report as Markdown
func WriteMarkdownReport(report *SummaryReport, outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var md strings.Builder

	md.WriteString("# awoo - Run Summary\n\n")
	md.WriteString(fmt.Sprintf("**Generated:** %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05")))
	if report.RunID != "" {
		md.WriteString(fmt.Sprintf("**Run:** `%s`\n\n", report.RunID))
	}
	if report.Duration > 0 {
		md.WriteString(fmt.Sprintf("**Duration:** %s\n\n", report.Duration.Round(time.Second)))
	}
	if report.DatabasePath != "" {
		md.WriteString(fmt.Sprintf("**Database:** `%s`\n\n", report.DatabasePath))
	}
	if report.CacheDir != "" {
		md.WriteString(fmt.Sprintf("**Cache:** `%s`\n\n", report.CacheDir))
	}
	if report.EventLogPath != "" {
		md.WriteString(fmt.Sprintf("**Event Log:** `%s`\n\n", report.EventLogPath))
	}

	md.WriteString("---\n\n")

	md.WriteString("## Overview\n\n")
	md.WriteString("| Metric | Value |\n")
	md.WriteString("|--------|-------|\n")
	md.WriteString(fmt.Sprintf("| Records | %s |\n", humanize.Comma(int64(report.Records))))
	md.WriteString(fmt.Sprintf("| Tags | %s |\n", humanize.Comma(int64(report.Tags))))
	md.WriteString(fmt.Sprintf("| Selected | %s |\n", humanize.Comma(int64(report.Selected))))
	md.WriteString(fmt.Sprintf("| Cached | %s |\n", humanize.Comma(int64(report.Downloaded))))
	md.WriteString("\n")

	if report.RecordsApplied > 0 || report.RecordsSkipped > 0 || report.RecordsDeferred > 0 {
		md.WriteString("## Ingest\n\n")
		md.WriteString("| Metric | Value |\n")
		md.WriteString("|--------|-------|\n")
		md.WriteString(fmt.Sprintf("| Applied | %d |\n", report.RecordsApplied))
		md.WriteString(fmt.Sprintf("| Unchanged | %d |\n", report.RecordsSkipped))
		if report.RecordsDeferred > 0 {
			md.WriteString(fmt.Sprintf("| Deferred (missing parent) | %d |\n", report.RecordsDeferred))
		}
		md.WriteString("\n")
	}

	if report.SelectionAdded > 0 || report.SelectionRemoved > 0 {
		md.WriteString("## Selection\n\n")
		md.WriteString("| Metric | Value |\n")
		md.WriteString("|--------|-------|\n")
		md.WriteString(fmt.Sprintf("| Added | %d |\n", report.SelectionAdded))
		md.WriteString(fmt.Sprintf("| Removed | %d |\n", report.SelectionRemoved))
		md.WriteString("\n")
	}

	if report.AssetsPlaced > 0 || report.AssetsDownloaded > 0 || report.AssetsNotFound > 0 ||
		report.AssetsMismatched > 0 || report.AssetsRepaired > 0 {
		md.WriteString("## Cache\n\n")
		md.WriteString("| Metric | Value |\n")
		md.WriteString("|--------|-------|\n")
		md.WriteString(fmt.Sprintf("| Placed from legacy store | %d |\n", report.AssetsPlaced))
		md.WriteString(fmt.Sprintf("| Downloaded | %d |\n", report.AssetsDownloaded))
		if report.AssetsNotFound > 0 {
			md.WriteString(fmt.Sprintf("| Not found remotely | %d |\n", report.AssetsNotFound))
		}
		if report.AssetsMismatched > 0 {
			md.WriteString(fmt.Sprintf("| Digest mismatches | %d |\n", report.AssetsMismatched))
		}
		if report.AssetsRepaired > 0 {
			md.WriteString(fmt.Sprintf("| Repaired | %d |\n", report.AssetsRepaired))
		}
		md.WriteString(fmt.Sprintf("| Bytes Written | %s |\n", humanize.Bytes(uint64(report.BytesWritten))))
		md.WriteString("\n")
	}

	if len(report.TopErrors) > 0 {
		md.WriteString("## Top Errors\n\n")
		md.WriteString("| Count | Error |\n")
		md.WriteString("|-------|-------|\n")
		for _, err := range report.TopErrors {
			md.WriteString(fmt.Sprintf("| %d | %s |\n", err.Count, truncate(err.Error, 120)))
		}
		md.WriteString("\n")
	}

	if err := os.WriteFile(outputPath, []byte(md.String()), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return nil
}

// truncate shortens s from the middle, keeping start and end
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	start := maxLen/2 - 2
	end := len(s) - (maxLen/2 - 2)
	return s[:start] + "..." + s[end:]
}
