package main

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/NatalieWolfe/awoo-diffusion/internal/config"
	"github.com/NatalieWolfe/awoo-diffusion/internal/store"
	"github.com/NatalieWolfe/awoo-diffusion/internal/util"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the environment and configuration",
	Long: `Run diagnostic checks to ensure awoo can operate correctly.

This command checks:
- Configuration validity
- SQLite version compatibility
- Database accessibility, schema version and integrity
- Cache directory permissions and free space
- Legacy directory readability (when configured)

Use this command to troubleshoot issues before running awoo operations.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	util.InfoLog("=== awoo doctor - System Diagnostics ===")
	util.InfoLog("")

	results := []checkResult{}

	cfg, err := loadConfig()
	if err != nil {
		results = append(results, checkResult{name: "Configuration", error: true, message: err.Error()})
		return printResults(results)
	}
	results = append(results, checkResult{name: "Configuration", message: "valid"})

	results = append(results, checkSQLite())
	results = append(results, checkDatabase(cmd.Context(), &cfg.Database))
	results = append(results, checkCacheDirectory(cfg.Cache.Dir))
	if cfg.Cache.LegacyDir != "" {
		results = append(results, checkLegacyDirectory(cfg.Cache.LegacyDir))
	}
	results = append(results, checkDiskSpace(cfg.Cache.Dir, "cache"))

	return printResults(results)
}

func printResults(results []checkResult) error {
	util.InfoLog("")
	util.InfoLog("=== Diagnostic Results ===")
	util.InfoLog("")

	hasErrors := false
	hasWarnings := false

	for _, r := range results {
		symbol := "✓"
		if r.error {
			symbol = "✗"
			hasErrors = true
		} else if r.warning {
			symbol = "⚠"
			hasWarnings = true
		}

		line := fmt.Sprintf("[%s] %s", symbol, r.name)
		if r.message != "" {
			line += fmt.Sprintf(": %s", r.message)
		}

		if r.error {
			util.ErrorLog("%s", line)
		} else if r.warning {
			util.WarnLog("%s", line)
		} else {
			util.SuccessLog("%s", line)
		}
	}

	// Summary
	util.InfoLog("")
	if hasErrors {
		util.ErrorLog("Some critical checks failed. Please resolve errors before running awoo.")
		return fmt.Errorf("system diagnostics failed")
	} else if hasWarnings {
		util.WarnLog("Some checks produced warnings. Review them before proceeding.")
	} else {
		util.SuccessLog("All checks passed! System is ready.")
	}

	return nil
}

// checkSQLite verifies SQLite version
func checkSQLite() checkResult {
	// modernc.org/sqlite is compiled in; just make sure it answers
	version := store.SQLiteVersion()
	if version == "" {
		return checkResult{
			name:    "SQLite",
			error:   true,
			message: "unable to determine version",
		}
	}

	return checkResult{
		name:    "SQLite",
		message: fmt.Sprintf("version %s (built-in)", version),
	}
}

// checkDatabase opens the configured database and reports its schema and size
func checkDatabase(ctx context.Context, cfg *config.DatabaseConfig) checkResult {
	dialect, err := store.ParseDialect(cfg.Dialect)
	if err != nil {
		return checkResult{name: "Database", error: true, message: err.Error()}
	}

	var size string
	if dialect == store.DialectSQLite {
		info, err := os.Stat(cfg.DSN)
		if err != nil {
			if os.IsNotExist(err) {
				return checkResult{
					name:    "Database",
					message: fmt.Sprintf("%s (will be created on first run)", cfg.DSN),
				}
			}
			return checkResult{
				name:    "Database",
				error:   true,
				message: fmt.Sprintf("cannot access %s: %v", cfg.DSN, err),
			}
		}
		if !info.Mode().IsRegular() {
			return checkResult{
				name:    "Database",
				error:   true,
				message: fmt.Sprintf("%s is not a regular file", cfg.DSN),
			}
		}
		size = humanize.Bytes(uint64(info.Size()))
	}

	// Opening also migrates, and fails on a schema newer than this binary
	db, err := store.OpenWithOptions(ctx, &store.OpenOptions{Dialect: dialect, DSN: cfg.DSN})
	if err != nil {
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("cannot open %s: %v", redactDSN(cfg.DSN, dialect), err),
		}
	}
	defer db.Close()

	if err := db.CheckIntegrity(ctx); err != nil {
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("integrity check failed: %v", err),
		}
	}

	version, _ := db.SchemaVersion(ctx)
	stats, err := db.Stats(ctx)
	if err != nil {
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("cannot read stats: %v", err),
		}
	}

	msg := fmt.Sprintf("%s (schema v%d, %s records)", redactDSN(cfg.DSN, dialect), version, humanize.Comma(int64(stats.Records)))
	if size != "" {
		msg = fmt.Sprintf("%s (%s, schema v%d, %s records)", cfg.DSN, size, version, humanize.Comma(int64(stats.Records)))
	}
	if dialect == store.DialectPostgres {
		if server, err := db.ServerVersion(ctx); err == nil {
			msg += ", " + server
		}
	}

	return checkResult{name: "Database", message: msg}
}

// checkCacheDirectory verifies the cache directory is writable
func checkCacheDirectory(path string) checkResult {
	// Check if exists
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Try to create it
			if err := os.MkdirAll(path, 0755); err != nil {
				return checkResult{
					name:    "Cache directory",
					error:   true,
					message: fmt.Sprintf("cannot create %s: %v", path, err),
				}
			}
			return checkResult{
				name:    "Cache directory",
				message: fmt.Sprintf("%s (created)", path),
			}
		}
		return checkResult{
			name:    "Cache directory",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", path, err),
		}
	}

	if !info.IsDir() {
		return checkResult{
			name:    "Cache directory",
			error:   true,
			message: fmt.Sprintf("%s is not a directory", path),
		}
	}

	if err := util.IsWritableDir(path); err != nil {
		return checkResult{
			name:    "Cache directory",
			error:   true,
			message: fmt.Sprintf("cannot write to %s: %v", path, err),
		}
	}

	return checkResult{
		name:    "Cache directory",
		message: fmt.Sprintf("%s (writable)", path),
	}
}

// checkLegacyDirectory verifies the legacy directory is readable
func checkLegacyDirectory(path string) checkResult {
	info, err := os.Stat(path)
	if err != nil {
		return checkResult{
			name:    "Legacy directory",
			warning: true,
			message: fmt.Sprintf("cannot access %s: %v (assets will be downloaded)", path, err),
		}
	}

	if !info.IsDir() {
		return checkResult{
			name:    "Legacy directory",
			error:   true,
			message: fmt.Sprintf("%s is not a directory", path),
		}
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return checkResult{
			name:    "Legacy directory",
			error:   true,
			message: fmt.Sprintf("cannot read %s: %v", path, err),
		}
	}

	return checkResult{
		name:    "Legacy directory",
		message: fmt.Sprintf("%s (%d shards)", path, len(entries)),
	}
}

// checkDiskSpace verifies available disk space
func checkDiskSpace(path string, label string) checkResult {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return checkResult{
			name:    fmt.Sprintf("Disk space (%s)", label),
			warning: true,
			message: fmt.Sprintf("cannot determine disk space: %v", err),
		}
	}

	// Available bytes = available blocks * block size
	availBytes := stat.Bavail * uint64(stat.Bsize)
	totalBytes := stat.Blocks * uint64(stat.Bsize)
	usedBytes := totalBytes - (stat.Bfree * uint64(stat.Bsize))

	usedPercent := 0.0
	if totalBytes > 0 {
		usedPercent = float64(usedBytes) / float64(totalBytes) * 100
	}

	// Warn if less than 10GB available or >90% used
	warning := false
	warningMsg := ""
	if availBytes < 10*humanize.GByte {
		warning = true
		warningMsg = " (low space!)"
	} else if usedPercent > 90 {
		warning = true
		warningMsg = " (>90% used)"
	}

	return checkResult{
		name:    fmt.Sprintf("Disk space (%s)", label),
		warning: warning,
		message: fmt.Sprintf("%s available%s", humanize.Bytes(availBytes), warningMsg),
	}
}
