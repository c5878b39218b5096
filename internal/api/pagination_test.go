package api_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tishiu/summa/internal/api"
)

func TestCursorRoundTrips(t *testing.T) {
	cursor := api.Cursor{Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), ID: "acct-1"}
	token, err := api.EncodeCursor(cursor)
	require.NoError(t, err)

	decoded, err := api.DecodeCursor(token)
	require.NoError(t, err)
	assert.True(t, cursor.Timestamp.Equal(decoded.Timestamp))
	assert.Equal(t, cursor.ID, decoded.ID)
}

func TestDecodeCursorEmptyTokenIsZeroValue(t *testing.T) {
	cursor, err := api.DecodeCursor("")
	require.NoError(t, err)
	assert.Equal(t, api.Cursor{}, cursor)
}

func TestDecodeCursorRejectsGarbageToken(t *testing.T) {
	_, err := api.DecodeCursor("!!!not-base64!!!")
	assert.Error(t, err)
}

func TestValidateLimitDefaultsWhenNonPositive(t *testing.T) {
	assert.Equal(t, 100, api.ValidateLimit(0))
	assert.Equal(t, 100, api.ValidateLimit(-5))
}

func TestValidateLimitCapsAtMax(t *testing.T) {
	assert.Equal(t, 1000, api.ValidateLimit(5000))
}

func TestValidateLimitPassesThroughValidValue(t *testing.T) {
	assert.Equal(t, 50, api.ValidateLimit(50))
}
