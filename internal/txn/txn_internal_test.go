package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateLegsRejectsEmpty(t *testing.T) {
	err := validateLegs(nil, false)
	assert.Error(t, err)
}

func TestValidateLegsRejectsNonPositiveAmount(t *testing.T) {
	err := validateLegs([]Leg{{HolderID: "a", Currency: "USD", EntryType: EntryCredit, Amount: 0}}, false)
	assert.Error(t, err)
}

func TestValidateLegsRejectsUnbalancedCurrency(t *testing.T) {
	err := validateLegs([]Leg{
		{HolderID: "a", Currency: "USD", EntryType: EntryCredit, Amount: 100},
		{HolderID: "b", Currency: "USD", EntryType: EntryDebit, Amount: 50},
	}, false)
	assert.Error(t, err)
}

func TestValidateLegsAcceptsBalancedMultiCurrency(t *testing.T) {
	err := validateLegs([]Leg{
		{HolderID: "a", Currency: "USD", EntryType: EntryCredit, Amount: 100},
		{HolderID: "b", Currency: "USD", EntryType: EntryDebit, Amount: 100},
		{HolderID: "c", Currency: "EUR", EntryType: EntryCredit, Amount: 50},
		{HolderID: "d", Currency: "EUR", EntryType: EntryDebit, Amount: 50},
	}, false)
	assert.NoError(t, err)
}

func TestOrderedHoldersIsDeterministicRegardlessOfInputOrder(t *testing.T) {
	legsA := []Leg{
		{HolderID: "zeta", Currency: "USD", EntryType: EntryDebit, Amount: 1},
		{HolderID: "alpha", Currency: "USD", EntryType: EntryCredit, Amount: 1},
	}
	legsB := []Leg{
		{HolderID: "alpha", Currency: "USD", EntryType: EntryCredit, Amount: 1},
		{HolderID: "zeta", Currency: "USD", EntryType: EntryDebit, Amount: 1},
	}

	assert.Equal(t, orderedHolders(legsA), orderedHolders(legsB))
	assert.Equal(t, "alpha", orderedHolders(legsA)[0].holderID)
	assert.Equal(t, "zeta", orderedHolders(legsA)[1].holderID)
}

func TestOrderedHoldersDedupesSameHolderCurrency(t *testing.T) {
	legs := []Leg{
		{HolderID: "alpha", Currency: "USD", EntryType: EntryCredit, Amount: 1},
		{HolderID: "alpha", Currency: "USD", EntryType: EntryDebit, Amount: 1},
	}
	assert.Len(t, orderedHolders(legs), 1)
}

func TestNextEntryHashChangesWithAnyInput(t *testing.T) {
	leg := Leg{EntryType: EntryCredit, Amount: 100, Currency: "USD"}
	base := nextEntryHash("prev", "entry-1", leg)

	assert.NotEqual(t, base, nextEntryHash("other-prev", "entry-1", leg))
	assert.NotEqual(t, base, nextEntryHash("prev", "entry-2", leg))
	assert.NotEqual(t, base, nextEntryHash("prev", "entry-1", Leg{EntryType: EntryDebit, Amount: 100, Currency: "USD"}))
	assert.Equal(t, base, nextEntryHash("prev", "entry-1", leg))
}

func TestLedgerChainKeyIsStablePerLedger(t *testing.T) {
	a := ledgerChainKey("ledger-1")
	b := ledgerChainKey("ledger-1")
	c := ledgerChainKey("ledger-2")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
