package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/tishiu/summa/internal/storage"
	"github.com/tishiu/summa/internal/worker"
)

// TestMain verifies the per-job ticker goroutines Run spawns are fully
// drained on context cancellation, rather than merely detached and left
// running.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRunReturnsAfterContextCancelWithoutLeakingGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := storage.NewStore(nil, "summa")
	runtime := worker.NewRuntime(store, zerolog.Nop(), "instance-1")

	var ran int
	runtime.Register(worker.Job{
		Name:     "far-future",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			ran++
			return nil
		},
	})
	runtime.Register(worker.Job{
		Name:     "also-far-future",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			ran++
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runtime.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	assert.Equal(t, 0, ran, "hour-long interval should not have fired yet")
}

func TestRegisterAccumulatesJobs(t *testing.T) {
	store := storage.NewStore(nil, "summa")
	runtime := worker.NewRuntime(store, zerolog.Nop(), "instance-1")

	runtime.Register(worker.Job{Name: "a", Interval: time.Hour, Run: func(ctx context.Context) error { return nil }})
	runtime.Register(worker.Job{Name: "b", Interval: time.Hour, Run: func(ctx context.Context) error { return nil }})

	assert.Len(t, runtime.Jobs, 2)
}
