// Package worker is the interval-driven runtime: DB-backed lease
// acquisition so only one of N replicas runs a given job at a time,
// and graceful stop. Each job runs on its own time.Ticker goroutine;
// the runtime does not use riverqueue/river and does no batch
// consumption itself.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tishiu/summa/internal/storage"
)

// Job is one named, interval-driven unit of work (for example a
// reconciliation sweep or block checkpoint creation).
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Runtime struct {
	Schema string
	Store  *storage.Store
	Log    zerolog.Logger
	Jobs   []Job

	leaseDuration time.Duration
	instanceID    string
}

func NewRuntime(store *storage.Store, log zerolog.Logger, instanceID string) *Runtime {
	return &Runtime{
		Schema: store.Schema, Store: store, Log: log,
		leaseDuration: 30 * time.Second, instanceID: instanceID,
	}
}

func (r *Runtime) Register(j Job) { r.Jobs = append(r.Jobs, j) }

// Run starts one ticker goroutine per job and blocks until ctx is
// cancelled, at which point it waits for in-flight runs to finish
// before returning.
func (r *Runtime) Run(ctx context.Context) {
	done := make(chan struct{}, len(r.Jobs))
	for _, j := range r.Jobs {
		go r.runJob(ctx, j, done)
	}
	for range r.Jobs {
		<-done
	}
}

func (r *Runtime) runJob(ctx context.Context, j Job, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tryRun(ctx, j)
		}
	}
}

func (r *Runtime) tryRun(ctx context.Context, j Job) {
	acquired, err := r.acquireLease(ctx, j.Name)
	if err != nil {
		r.Log.Error().Err(err).Str("job", j.Name).Msg("lease acquisition failed")
		return
	}
	if !acquired {
		return
	}
	start := time.Now()
	if err := j.Run(ctx); err != nil {
		r.Log.Error().Err(err).Str("job", j.Name).Dur("elapsed", time.Since(start)).Msg("job run failed")
		return
	}
	r.Log.Debug().Str("job", j.Name).Dur("elapsed", time.Since(start)).Msg("job run completed")
}

// acquireLease implements the lease upsert:
// INSERT ... ON CONFLICT DO UPDATE ... WHERE lease_until < now().
// Zero rows affected means another replica currently owns the lease.
func (r *Runtime) acquireLease(ctx context.Context, jobName string) (bool, error) {
	tag, err := r.Store.Pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.worker_lease (job_name, owner, lease_until)
		VALUES ($1, $2, now() + %s)
		ON CONFLICT (job_name) DO UPDATE
		SET owner = EXCLUDED.owner, lease_until = EXCLUDED.lease_until
		WHERE %s.worker_lease.lease_until < now()
	`, r.Schema, storage.Interval(r.leaseDuration), r.Schema), jobName, r.instanceID)
	if err != nil {
		return false, storage.TranslateErr(err)
	}
	return tag.RowsAffected() > 0, nil
}
