package outbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffScheduleMatchesDocumentedTiers(t *testing.T) {
	want := []time.Duration{5 * time.Second, 30 * time.Second, 2 * time.Minute, 15 * time.Minute, time.Hour}
	assert.Equal(t, want, backoffSchedule)
}

func TestBackoffScheduleIsMonotonicallyIncreasing(t *testing.T) {
	for i := 1; i < len(backoffSchedule); i++ {
		assert.Greater(t, backoffSchedule[i], backoffSchedule[i-1])
	}
}

func TestSignIsDeterministicAndSecretDependent(t *testing.T) {
	payload := []byte(`{"event":"test"}`)
	a := sign("secret-a", payload)
	b := sign("secret-a", payload)
	c := sign("secret-b", payload)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestSignChangesWithPayload(t *testing.T) {
	a := sign("secret", []byte(`{"event":"one"}`))
	b := sign("secret", []byte(`{"event":"two"}`))
	assert.NotEqual(t, a, b)
}
