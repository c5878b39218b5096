package storage_test

import (
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/tishiu/summa/internal/ledgererr"
	"github.com/tishiu/summa/internal/storage"
)

func TestTranslateErrNilIsNil(t *testing.T) {
	assert.NoError(t, storage.TranslateErr(nil))
}

func TestTranslateErrMapsUniqueViolationToAlreadyExists(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505"}
	err := storage.TranslateErr(pgErr)

	le, ok := ledgererr.As(err)
	assert.True(t, ok)
	assert.Equal(t, ledgererr.CodeAlreadyExists, le.Code)
}

func TestTranslateErrMapsSerializationFailureToConflict(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "40001"}
	err := storage.TranslateErr(pgErr)

	le, ok := ledgererr.As(err)
	assert.True(t, ok)
	assert.Equal(t, ledgererr.CodeConflict, le.Code)
}

func TestTranslateErrMapsDeadlockToConflict(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "40P01"}
	err := storage.TranslateErr(pgErr)

	le, ok := ledgererr.As(err)
	assert.True(t, ok)
	assert.Equal(t, ledgererr.CodeConflict, le.Code)
}

func TestTranslateErrMapsNoRowsToNotFound(t *testing.T) {
	err := storage.TranslateErr(pgx.ErrNoRows)

	le, ok := ledgererr.As(err)
	assert.True(t, ok)
	assert.Equal(t, ledgererr.CodeNotFound, le.Code)
}

func TestTranslateErrMapsUnknownToInternal(t *testing.T) {
	err := storage.TranslateErr(errors.New("connection reset"))

	le, ok := ledgererr.As(err)
	assert.True(t, ok)
	assert.Equal(t, ledgererr.CodeInternal, le.Code)
}

func TestIsNoRows(t *testing.T) {
	assert.True(t, storage.IsNoRows(pgx.ErrNoRows))
	assert.False(t, storage.IsNoRows(errors.New("other")))
}

func TestIntervalRendersPostgresLiteral(t *testing.T) {
	assert.Equal(t, "interval '30.000000 seconds'", storage.Interval(30*time.Second))
}

func TestOnConflictDoNothingWithAndWithoutColumns(t *testing.T) {
	assert.Equal(t, "ON CONFLICT DO NOTHING", storage.OnConflictDoNothing())
	assert.Equal(t, "ON CONFLICT (ledger_id, key) DO NOTHING", storage.OnConflictDoNothing("ledger_id", "key"))
}

func TestReturningJoinsColumns(t *testing.T) {
	assert.Equal(t, "RETURNING id, version", storage.Returning("id", "version"))
}

func TestCountAsIntWrapsExpression(t *testing.T) {
	assert.Equal(t, "CAST(count(*) AS INTEGER)", storage.CountAsInt("count(*)"))
}
