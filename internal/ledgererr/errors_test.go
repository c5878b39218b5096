package ledgererr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tishiu/summa/internal/ledgererr"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[ledgererr.Code]int{
		ledgererr.CodeNotFound:                404,
		ledgererr.CodeInvalidArgument:         400,
		ledgererr.CodeAlreadyExists:           409,
		ledgererr.CodeConflict:                409,
		ledgererr.CodeAccountFrozen:           409,
		ledgererr.CodeAccountClosed:           409,
		ledgererr.CodeInsufficientBalance:     409,
		ledgererr.CodeCurrencyMismatch:        409,
		ledgererr.CodeRateLimited:             429,
		ledgererr.CodeChainIntegrityViolation: 500,
		ledgererr.CodeInternal:                500,
	}
	for code, want := range cases {
		assert.Equal(t, want, code.HTTPStatus(), "code %s", code)
	}
}

func TestNewAndStatus(t *testing.T) {
	err := ledgererr.New(ledgererr.CodeNotFound, "missing")
	assert.Equal(t, 404, err.Status())
	assert.Equal(t, "NOT_FOUND: missing", err.Error())
}

func TestWrapPreservesCauseAndUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := ledgererr.Wrap(ledgererr.CodeInternal, "internal error", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "boom")
}

func TestConstructorsFormatMessages(t *testing.T) {
	err := ledgererr.NotFound("account %s not found", "acct-1")
	assert.Equal(t, ledgererr.CodeNotFound, err.Code)
	assert.Equal(t, "account acct-1 not found", err.Message)

	err = ledgererr.InvalidArgument("bad %s", "input")
	assert.Equal(t, ledgererr.CodeInvalidArgument, err.Code)

	err = ledgererr.AlreadyExists("dup %s", "key")
	assert.Equal(t, ledgererr.CodeAlreadyExists, err.Code)

	err = ledgererr.Conflict("race %s", "detected")
	assert.Equal(t, ledgererr.CodeConflict, err.Code)
}

func TestInternalWrapsCauseUnderInternalCode(t *testing.T) {
	cause := errors.New("db exploded")
	err := ledgererr.Internal(cause)
	assert.Equal(t, ledgererr.CodeInternal, err.Code)
	assert.ErrorIs(t, err, cause)
}

func TestAsExtractsThroughWrapping(t *testing.T) {
	inner := ledgererr.NotFound("missing")
	wrapped := fmt.Errorf("context: %w", inner)

	extracted, ok := ledgererr.As(wrapped)
	assert.True(t, ok)
	assert.Equal(t, ledgererr.CodeNotFound, extracted.Code)
}

func TestAsFailsForPlainError(t *testing.T) {
	_, ok := ledgererr.As(errors.New("plain"))
	assert.False(t, ok)
}
