package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/NatalieWolfe/awoo-diffusion/internal/util"
)

// ErrorKind is the closed set of failure classes callers branch on
type ErrorKind int

const (
	// KindOther is any failure that should abort the enclosing operation
	KindOther ErrorKind = iota
	// KindTransient is a dropped connection or lock contention; redo the whole operation
	KindTransient
	// KindMissingReference is a foreign key pointing at a row that does not exist yet
	KindMissingReference
	// KindConflict is a unique or primary key violation
	KindConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindMissingReference:
		return "missing_reference"
	case KindConflict:
		return "conflict"
	default:
		return "other"
	}
}

// Classify maps a driver error onto an ErrorKind
func Classify(err error) ErrorKind {
	if err == nil {
		return KindOther
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindOther
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return KindTransient
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return classifySQLite(liteErr)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyPostgres(pgErr)
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return KindTransient
	}

	if util.IsRetryableError(err) {
		return KindTransient
	}
	return KindOther
}

// IsTransient reports whether err is worth redoing on a fresh connection
func IsTransient(err error) bool {
	return Classify(err) == KindTransient
}

func classifySQLite(err *sqlite.Error) ErrorKind {
	code := err.Code()
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return KindMissingReference
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return KindConflict
	}

	// Primary code lives in the low byte of extended codes
	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return KindTransient
	case sqlite3.SQLITE_CONSTRAINT:
		msg := err.Error()
		if strings.Contains(msg, "FOREIGN KEY") {
			return KindMissingReference
		}
		if strings.Contains(msg, "UNIQUE") {
			return KindConflict
		}
	}
	return KindOther
}

func classifyPostgres(err *pgconn.PgError) ErrorKind {
	switch err.Code {
	case "23503": // foreign_key_violation
		return KindMissingReference
	case "23505": // unique_violation
		return KindConflict
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"57P01": // admin_shutdown
		return KindTransient
	}
	if strings.HasPrefix(err.Code, "08") {
		// connection_exception class
		return KindTransient
	}
	return KindOther
}
