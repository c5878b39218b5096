package chain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tishiu/summa/internal/chain"
)

func TestCanonicalJSONSortsKeysRegardlessOfInsertionOrder(t *testing.T) {
	a, err := chain.CanonicalJSON(map[string]any{"b": 1, "a": 2, "c": 3})
	require.NoError(t, err)

	b, err := chain.CanonicalJSON(map[string]any{"c": 3, "a": 2, "b": 1})
	require.NoError(t, err)

	assert.Equal(t, string(a), string(b))
	assert.JSONEq(t, `{"a":2,"b":1,"c":3}`, string(a))
}

func TestCanonicalJSONIsStableAcrossCalls(t *testing.T) {
	data := map[string]any{"transaction_id": "txn-1", "type": "credit", "status": "posted"}
	first, err := chain.CanonicalJSON(data)
	require.NoError(t, err)
	second, err := chain.CanonicalJSON(data)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}
