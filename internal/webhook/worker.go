// Package webhook wires outbox.WebhookPublisher's HTTP delivery into a
// riverqueue/river job so the outbox drain loop runs on river's scheduler
// instead of a bare goroutine ticker, calling into outbox.Drainer rather
// than hand-rolling delivery/backoff/DLQ logic a second time.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/riverqueue/river"
	"github.com/rs/zerolog"

	"github.com/tishiu/summa/internal/outbox"
)

type DrainArgs struct{}

func (DrainArgs) Kind() string { return "outbox_drain" }

// DrainWorker is the river.Worker that periodically invokes
// outbox.Drainer.DrainOnce; river's own retry/backoff governs re-runs
// of the job itself, while outbox.Drainer governs per-row retry/DLQ.
type DrainWorker struct {
	river.WorkerDefaults[DrainArgs]
	Drainer *outbox.Drainer
	Log     zerolog.Logger
}

func NewDrainWorker(drainer *outbox.Drainer, log zerolog.Logger) *DrainWorker {
	return &DrainWorker{Drainer: drainer, Log: log}
}

func (w *DrainWorker) Work(ctx context.Context, job *river.Job[DrainArgs]) error {
	delivered, failed, deadLettered, err := w.Drainer.DrainOnce(ctx)
	if err != nil {
		return fmt.Errorf("outbox drain: %w", err)
	}
	w.Log.Info().
		Int("delivered", delivered).
		Int("failed", failed).
		Int("dead_lettered", deadLettered).
		Msg("outbox drain completed")
	return nil
}

// HTTPPublisher is the outbox.WebhookPublisher.Send implementation used
// outside of tests: a bounded-timeout POST with the pre-signed headers.
func HTTPPublisher() func(ctx context.Context, url string, headers map[string]string, body []byte) error {
	client := &http.Client{Timeout: 10 * time.Second}
	return func(ctx context.Context, url string, headers map[string]string, body []byte) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode >= 300 {
			return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
		}
		return nil
	}
}
