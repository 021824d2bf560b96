package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/NatalieWolfe/awoo-diffusion/internal/util"
)

// Tx is a transaction bound to one pooled connection.
// Queries use ? placeholders regardless of dialect.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
}

// TxOptions tunes a Transaction
type TxOptions struct {
	// Serializable requests SERIALIZABLE isolation on PostgreSQL.
	// SQLite transactions are always serializable.
	Serializable bool
	ReadOnly     bool
}

// Exec runs a statement inside the transaction
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.rebind(query), args...)
}

// Query runs a query inside the transaction
func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.dialect.rebind(query), args...)
}

// QueryRow runs a single-row query inside the transaction
func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.rebind(query), args...)
}

// Savepoint runs fn under a named savepoint. The savepoint is released when
// fn succeeds and rolled back when it fails, leaving the outer transaction usable.
func (t *Tx) Savepoint(ctx context.Context, name string, fn func() error) error {
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}

	if err := fn(); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback to savepoint %s: %w", name, rbErr))
		}
		// Postgres keeps the savepoint after ROLLBACK TO; release it either way
		if _, relErr := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); relErr != nil {
			return errors.Join(err, fmt.Errorf("release savepoint %s: %w", name, relErr))
		}
		return err
	}

	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}

// Transaction executes fn within a transaction on a dedicated connection.
// Transient failures are retried on a fresh connection, redoing fn entirely,
// so fn must not keep side effects outside the transaction.
func (s *Store) Transaction(ctx context.Context, name string, fn func(*Tx) error) error {
	return s.TransactionWithOptions(ctx, name, nil, fn)
}

// TransactionWithOptions is Transaction with isolation control
func (s *Store) TransactionWithOptions(ctx context.Context, name string, opts *TxOptions, fn func(*Tx) error) error {
	return util.Retry(ctx, s.retry, func(ctx context.Context) error {
		return s.runTx(ctx, opts, fn)
	}, name, IsTransient)
}

func (s *Store) runTx(ctx context.Context, opts *TxOptions, fn func(*Tx) error) (err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() {
		if err != nil && connUnusable(err) {
			destroyConn(conn)
			return
		}
		conn.Close()
	}()

	var txOpts *sql.TxOptions
	if opts != nil {
		txOpts = &sql.TxOptions{ReadOnly: opts.ReadOnly && s.dialect == DialectPostgres}
		if opts.Serializable && s.dialect == DialectPostgres {
			txOpts.Isolation = sql.LevelSerializable
		}
	}

	tx, err := conn.BeginTx(ctx, txOpts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&Tx{tx: tx, dialect: s.dialect}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr), driver.ErrBadConn)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// connUnusable reports whether a connection should be dropped instead of
// returned to the pool
func connUnusable(err error) bool {
	return errors.Is(err, driver.ErrBadConn) || Classify(err) == KindTransient
}

// destroyConn evicts the connection from the pool: returning ErrBadConn from
// Raw makes database/sql close the underlying driver connection.
func destroyConn(conn *sql.Conn) {
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	conn.Close()
}
