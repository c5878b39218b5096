package logging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tishiu/summa/internal/logging"
)

func TestNopLoggerDiscardsOutputWithoutPanicking(t *testing.T) {
	logger := logging.Nop()
	assert.NotPanics(t, func() { logger.Info().Msg("should not panic or write anywhere") })
}

func TestNewReturnsUsableLoggerInBothModes(t *testing.T) {
	assert.NotPanics(t, func() {
		logging.New(true).Info().Msg("pretty mode")
	})
	assert.NotPanics(t, func() {
		logging.New(false).Info().Msg("json mode")
	})
}
