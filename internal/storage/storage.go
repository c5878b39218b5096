// Package storage is the uniform query/mutate/transaction/advisoryLock
// abstraction over Postgres, built on pgx/v5 + pgxpool; every manager in
// the engine depends on this package instead of importing pgx directly.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tishiu/summa/internal/ledgererr"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, so managers can
// accept either a pool (read-only paths) or a bound transaction handle
// (mutating paths) through one interface.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Store struct {
	Pool   *pgxpool.Pool
	Schema string
}

func NewStore(pool *pgxpool.Pool, schema string) *Store {
	if schema == "" {
		schema = "summa"
	}
	return &Store{Pool: pool, Schema: schema}
}

// NewPool constructs a pgxpool.Pool from a database URL.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MaxConnLifetime = time.Hour
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return pool, nil
}

type txKey struct{}

// Transaction runs fn with a bound pgx.Tx, committing on success and
// rolling back on error or panic. Nested calls (tx already present on
// ctx) use a savepoint instead of BEGIN, so transactional helpers
// compose without double-opening a transaction.
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	if existing, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return s.withSavepoint(ctx, existing, fn)
	}

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return translateErr(err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ctx = context.WithValue(ctx, txKey{}, tx)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return translateErr(err)
	}
	return nil
}

// TransactionRepeatableRead is used for block-checkpoint creation, which
// must see a consistent snapshot of the event log for the block it seals.
func (s *Store) TransactionRepeatableRead(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return translateErr(err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ctx = context.WithValue(ctx, txKey{}, tx)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return translateErr(err)
	}
	return nil
}

var savepointCounter int

func (s *Store) withSavepoint(ctx context.Context, tx pgx.Tx, fn func(ctx context.Context, tx pgx.Tx) error) error {
	savepointCounter++
	name := fmt.Sprintf("sp_%d", savepointCounter)
	if _, err := tx.Exec(ctx, "SAVEPOINT "+name); err != nil {
		return translateErr(err)
	}
	if err := fn(ctx, tx); err != nil {
		_, _ = tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name)
		return err
	}
	if _, err := tx.Exec(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return translateErr(err)
	}
	return nil
}

// AdvisoryLock takes a transaction-scoped exclusive advisory
// lock, used both for account creation races and hot-path contention
// avoidance. It is released automatically at COMMIT/ROLLBACK.
func AdvisoryLock(ctx context.Context, q Querier, key int64) error {
	_, err := q.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", key)
	if err != nil {
		return translateErr(err)
	}
	return nil
}

// Dialect helpers.

func Now() string { return "now()" }

func GenerateUUID() string { return "gen_random_uuid()" }

func Interval(d time.Duration) string {
	return fmt.Sprintf("interval '%f seconds'", d.Seconds())
}

func ForUpdateSkipLocked() string { return "FOR UPDATE SKIP LOCKED" }

func OnConflictDoNothing(cols ...string) string {
	if len(cols) == 0 {
		return "ON CONFLICT DO NOTHING"
	}
	list := ""
	for i, c := range cols {
		if i > 0 {
			list += ", "
		}
		list += c
	}
	return fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", list)
}

func Returning(cols ...string) string {
	list := ""
	for i, c := range cols {
		if i > 0 {
			list += ", "
		}
		list += c
	}
	return "RETURNING " + list
}

func CountAsInt(expr string) string {
	return fmt.Sprintf("CAST(%s AS INTEGER)", expr)
}

// translateErr maps low-level pgx/pgconn failures to the ledgererr
// taxonomy: unique-violation AlreadyExists, serialization failure and
// deadlock Conflict, no rows NotFound, and everything else (connection
// errors included) Internal.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return ledgererr.Wrap(ledgererr.CodeAlreadyExists, "unique constraint violated", err)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return ledgererr.Wrap(ledgererr.CodeConflict, "transaction conflict, retry", err)
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ledgererr.Wrap(ledgererr.CodeNotFound, "no rows", err)
	}
	return ledgererr.Wrap(ledgererr.CodeInternal, "storage error", err)
}

// TranslateErr is the exported form used by managers outside this package.
func TranslateErr(err error) error { return translateErr(err) }

// IsNoRows reports whether err is pgx.ErrNoRows (unwrapped).
func IsNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }
