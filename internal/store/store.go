package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver ("pgx")
	_ "modernc.org/sqlite"             // SQLite driver

	"github.com/NatalieWolfe/awoo-diffusion/internal/util"
)

const (
	currentSchemaVersion = 2

	// DefaultChunkSize bounds the number of rows per bulk statement
	DefaultChunkSize = 500
)

// ErrSchemaTooNew means the database was written by a newer binary
var ErrSchemaTooNew = errors.New("database schema is newer than this binary supports")

// Store represents the application's persistent state
type Store struct {
	db      *sql.DB
	dialect Dialect
	retry   *util.RetryConfig
}

// OpenOptions holds options for opening a database
type OpenOptions struct {
	Dialect  Dialect
	DSN      string // file path for SQLite, connection string for PostgreSQL
	MaxConns int    // ignored for SQLite, which always uses one connection
	Retry    *util.RetryConfig
}

// Open opens or creates a SQLite database at the given path with default options
func Open(path string) (*Store, error) {
	return OpenWithOptions(context.Background(), &OpenOptions{Dialect: DialectSQLite, DSN: path})
}

// OpenWithOptions opens the configured database and brings its schema up to date
func OpenWithOptions(ctx context.Context, opts *OpenOptions) (*Store, error) {
	if opts == nil {
		return nil, fmt.Errorf("%w: no database options", util.ErrInvalidConfig)
	}
	dialect := opts.Dialect
	if dialect == "" {
		dialect = DialectSQLite
	}

	dsn := opts.DSN
	if dialect == DialectSQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1) // SQLite works best with a single writer
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else if opts.MaxConns > 0 {
		db.SetMaxOpenConns(opts.MaxConns)
		db.SetMaxIdleConns(opts.MaxConns)
	}

	retry := opts.Retry
	if retry == nil {
		retry = &util.RetryConfig{
			MaxAttempts: 5,
			InitialWait: 100 * time.Millisecond,
			MaxWait:     5 * time.Second,
		}
	}

	store := &Store{db: db, dialect: dialect, retry: retry}

	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for custom queries
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect reports which SQL flavour the store speaks
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// SQLiteVersion returns the SQLite version string
func SQLiteVersion() string {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return ""
	}
	defer db.Close()

	var version string
	err = db.QueryRow("SELECT sqlite_version()").Scan(&version)
	if err != nil {
		return ""
	}
	return version
}

// ServerVersion returns the database engine version
func (s *Store) ServerVersion(ctx context.Context) (string, error) {
	query := "SELECT sqlite_version()"
	if s.dialect == DialectPostgres {
		query = "SHOW server_version"
	}
	var version string
	if err := s.db.QueryRowContext(ctx, query).Scan(&version); err != nil {
		return "", err
	}
	return version, nil
}

// CheckIntegrity runs PRAGMA integrity_check on SQLite databases.
// PostgreSQL has no equivalent and always passes.
func (s *Store) CheckIntegrity(ctx context.Context) error {
	if s.dialect != DialectSQLite {
		return nil
	}

	var result string
	err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result)
	if err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}

	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}

	return nil
}

// SchemaVersion returns the version recorded in schema_version
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	return s.getSchemaVersion(ctx)
}

// migrate applies database migrations
func (s *Store) migrate(ctx context.Context) error {
	version, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("%w: found v%d, support up to v%d", ErrSchemaTooNew, version, currentSchemaVersion)
	}
	if version == currentSchemaVersion {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range migrations {
		if version >= m.version {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.sql(s.dialect)); err != nil {
			return fmt.Errorf("failed to apply schema v%d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, s.dialect.rebind("INSERT INTO schema_version (version) VALUES (?)"), m.version); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
		util.DebugLog("Store: applied schema v%d", m.version)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	return nil
}

// getSchemaVersion returns the current schema version, 0 for an empty database
func (s *Store) getSchemaVersion(ctx context.Context) (int, error) {
	query := `
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`
	if s.dialect == DialectPostgres {
		query = `
			SELECT COUNT(*) FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = 'schema_version'
		`
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, query).Scan(&exists); err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, nil
	}

	var version int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, err
	}

	return version, nil
}

// Record is one canonical post from the export
type Record struct {
	ID           int64
	ParentID     *int64
	MD5          string
	FileExt      string
	Rating       string
	Width        int
	Height       int
	FileSize     int64
	Score        int
	UpScore      int
	DownScore    int
	FavCount     int
	CommentCount int
	IsDeleted    bool
	IsPending    bool
	IsFlagged    bool
	CreatedAt    *time.Time
	UpdatedAt    *time.Time
	Tags         []string
	Sources      []string
}

// Snapshot returns the comparison projection of the record
func (r *Record) Snapshot() Snapshot {
	return Snapshot{
		ID:        r.ID,
		UpdatedAt: normalizeTime(r.UpdatedAt),
		UpScore:   r.UpScore,
		DownScore: r.DownScore,
		FavCount:  r.FavCount,
	}
}

// Snapshot holds the fields compared to decide whether a record changed
type Snapshot struct {
	ID        int64
	UpdatedAt *time.Time
	UpScore   int
	DownScore int
	FavCount  int
}

// Equal reports whether two snapshots carry identical comparison fields
func (s Snapshot) Equal(o Snapshot) bool {
	if s.UpScore != o.UpScore || s.DownScore != o.DownScore || s.FavCount != o.FavCount {
		return false
	}
	a, b := normalizeTime(s.UpdatedAt), normalizeTime(o.UpdatedAt)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// Selection is a record's cache-worthiness state.
// Downloaded is nil when the record is not selected.
type Selection struct {
	RecordID   int64
	Rating     string
	Score      int
	FavCount   int
	Downloaded *bool
}

// IsSelected reports whether the record has a selectable_records row
func (s Selection) IsSelected() bool {
	return s.Downloaded != nil
}

// Asset is the minimal tuple needed to place or fetch a cached file
type Asset struct {
	RecordID int64
	MD5      string
	FileExt  string
}

// normalizeTime drops the monotonic clock, zone and sub-microsecond precision
// so values survive a round trip through either database
func normalizeTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	n := t.UTC().Truncate(time.Microsecond)
	return &n
}

func nullTime(t *time.Time) sql.NullTime {
	n := normalizeTime(t)
	if n == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *n, Valid: true}
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	return normalizeTime(&n.Time)
}
