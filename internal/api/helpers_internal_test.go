package api

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tishiu/summa/internal/dispatch"
)

func TestDefaultCurrencyFallsBackToUSD(t *testing.T) {
	assert.Equal(t, "USD", defaultCurrency(&dispatch.Request{}))
}

func TestDefaultCurrencyUsesQueryParam(t *testing.T) {
	req := &dispatch.Request{Query: map[string][]string{"currency": {"EUR"}}}
	assert.Equal(t, "EUR", defaultCurrency(req))
}

func TestFirstQueryHandlesNilAndMissingKeys(t *testing.T) {
	assert.Equal(t, "", firstQuery(&dispatch.Request{}, "cursor"))
	req := &dispatch.Request{Query: map[string][]string{"cursor": {"abc", "def"}}}
	assert.Equal(t, "abc", firstQuery(req, "cursor"))
}

func TestQueryIntFallsBackOnMissingOrInvalid(t *testing.T) {
	assert.Equal(t, 100, queryInt(&dispatch.Request{}, "limit", 100))

	req := &dispatch.Request{Query: map[string][]string{"limit": {"not-a-number"}}}
	assert.Equal(t, 100, queryInt(req, "limit", 100))

	req = &dispatch.Request{Query: map[string][]string{"limit": {"42"}}}
	assert.Equal(t, 42, queryInt(req, "limit", 100))
}
