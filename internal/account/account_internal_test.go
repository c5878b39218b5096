package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksumIsDeterministic(t *testing.T) {
	m := NewManager("summa", []byte("secret"), false, LockWait)
	v := Version{Balance: 100, CreditBalance: 100, Version: 1}

	assert.Equal(t, m.Checksum("acct-1", v), m.Checksum("acct-1", v))
}

func TestChecksumChangesWithEverySignificantField(t *testing.T) {
	m := NewManager("summa", []byte("secret"), false, LockWait)
	base := Version{Balance: 100, CreditBalance: 100, Version: 1}

	variants := []Version{
		{Balance: 200, CreditBalance: 100, Version: 1},
		{Balance: 100, CreditBalance: 200, Version: 1},
		{Balance: 100, CreditBalance: 100, Version: 2},
		{Balance: 100, CreditBalance: 100, DebitBalance: 1, Version: 1},
		{Balance: 100, CreditBalance: 100, PendingDebit: 1, Version: 1},
		{Balance: 100, CreditBalance: 100, PendingCredit: 1, Version: 1},
	}

	baseSum := m.Checksum("acct-1", base)
	for _, v := range variants {
		assert.NotEqual(t, baseSum, m.Checksum("acct-1", v))
	}
}

func TestChecksumDependsOnAccountID(t *testing.T) {
	m := NewManager("summa", []byte("secret"), false, LockWait)
	v := Version{Balance: 100}
	assert.NotEqual(t, m.Checksum("acct-1", v), m.Checksum("acct-2", v))
}

func TestChecksumDependsOnSecret(t *testing.T) {
	v := Version{Balance: 100}
	m1 := NewManager("summa", []byte("secret-a"), false, LockWait)
	m2 := NewManager("summa", []byte("secret-b"), false, LockWait)
	assert.NotEqual(t, m1.Checksum("acct-1", v), m2.Checksum("acct-1", v))
}

func TestVerifyChecksumAcceptsMatchingChecksum(t *testing.T) {
	m := NewManager("summa", []byte("secret"), false, LockWait)
	v := Version{Balance: 100, Version: 1}
	v.Checksum = m.Checksum("acct-1", v)

	assert.NoError(t, m.verifyChecksum("acct-1", v))
}

func TestVerifyChecksumRejectsTamperedBalance(t *testing.T) {
	m := NewManager("summa", []byte("secret"), false, LockWait)
	v := Version{Balance: 100, Version: 1}
	v.Checksum = m.Checksum("acct-1", v)

	v.Balance = 999 // tampered after checksum computed
	assert.Error(t, m.verifyChecksum("acct-1", v))
}

func TestAdvisoryKeyIsDeterministicAndNonNegative(t *testing.T) {
	a := advisoryKey("ledger-1", "alice", "USD")
	b := advisoryKey("ledger-1", "alice", "USD")
	c := advisoryKey("ledger-1", "bob", "USD")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.GreaterOrEqual(t, a, int64(0))
}

func TestNewManagerDefaultsLockModeToWait(t *testing.T) {
	m := NewManager("summa", []byte("secret"), false, "")
	assert.Equal(t, LockWait, m.LockMode)
}
