// Package outbox implements the transactional outbox and at-least-once
// delivery pipeline: appending an outbox row in the same transaction as
// the domain event, then draining it with FOR UPDATE SKIP LOCKED
// batches, processed-event dedup, retry backoff, and a dead-letter
// queue, behind a pluggable Publisher interface backed by
// riverqueue/river on the job-queue side.
package outbox

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tishiu/summa/internal/ledgererr"
	"github.com/tishiu/summa/internal/storage"
)

// Insert appends an outbox row; callers pass this as the OutboxInserter
// dependency of account.Manager / txn.Pipeline so domain writes and the
// delivery record land in the same transaction and commit atomically or
// not at all.
func Insert(ctx context.Context, tx pgx.Tx, schema, eventID, ledgerID, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return ledgererr.InvalidArgument("outbox payload not serializable: %v", err)
	}
	_, err = tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.outbox (id, event_id, ledger_id, topic, payload, status)
		VALUES ($1,$2,$3,$4,$5,'pending')
	`, schema), uuid.NewString(), eventID, ledgerID, topic, body)
	return storage.TranslateErr(err)
}

type Row struct {
	ID       string
	EventID  string
	LedgerID string
	Topic    string
	Payload  []byte
	Attempts int
}

// Publisher delivers one outbox row to its destination (webhook HTTP
// POST, message broker, etc.) and reports success/failure; the worker
// loop handles dedup, retry scheduling, and DLQ regardless of which
// Publisher is wired in.
type Publisher interface {
	Publish(ctx context.Context, row Row) error
}

// backoffSchedule is the retry delay tier applied after each failed
// delivery attempt before the row moves to the dead-letter queue.
var backoffSchedule = []time.Duration{5 * time.Second, 30 * time.Second, 2 * time.Minute, 15 * time.Minute, time.Hour}

type Drainer struct {
	Schema    string
	Store     *storage.Store
	Publisher Publisher
	BatchSize int
}

func NewDrainer(store *storage.Store, pub Publisher, batchSize int) *Drainer {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Drainer{Schema: store.Schema, Store: store, Publisher: pub, BatchSize: batchSize}
}

// DrainOnce claims up to BatchSize pending rows with FOR UPDATE SKIP
// LOCKED (so multiple worker replicas can drain concurrently without
// double-delivery contention), delivers each, and either
// marks it delivered + records a processed_event dedup row, schedules
// a retry at the next backoff tier, or moves it to the DLQ after the
// schedule is exhausted.
func (d *Drainer) DrainOnce(ctx context.Context) (delivered, failed, deadLettered int, err error) {
	err = d.Store.Transaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, qerr := tx.Query(ctx, fmt.Sprintf(`
			SELECT id, event_id, ledger_id, topic, payload, attempts
			FROM %s.outbox
			WHERE status = 'pending' AND next_attempt_at <= now()
			ORDER BY created_at ASC
			LIMIT %d
			FOR UPDATE SKIP LOCKED
		`, d.Schema, d.BatchSize))
		if qerr != nil {
			return storage.TranslateErr(qerr)
		}
		var batch []Row
		for rows.Next() {
			var r Row
			if serr := rows.Scan(&r.ID, &r.EventID, &r.LedgerID, &r.Topic, &r.Payload, &r.Attempts); serr != nil {
				rows.Close()
				return storage.TranslateErr(serr)
			}
			batch = append(batch, r)
		}
		rows.Close()
		if rerr := rows.Err(); rerr != nil {
			return storage.TranslateErr(rerr)
		}

		for _, r := range batch {
			var alreadyProcessed bool
			err := tx.QueryRow(ctx, fmt.Sprintf(`
				SELECT EXISTS(SELECT 1 FROM %s.processed_event WHERE event_id = $1 AND consumer = 'outbox-drainer')
			`, d.Schema), r.EventID).Scan(&alreadyProcessed)
			if err != nil {
				return storage.TranslateErr(err)
			}
			if alreadyProcessed {
				if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s.outbox SET status='delivered' WHERE id=$1`, d.Schema), r.ID); err != nil {
					return storage.TranslateErr(err)
				}
				delivered++
				continue
			}

			pubErr := d.Publisher.Publish(ctx, r)
			if pubErr == nil {
				if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s.outbox SET status='delivered', delivered_at=now() WHERE id=$1`, d.Schema), r.ID); err != nil {
					return storage.TranslateErr(err)
				}
				if _, err := tx.Exec(ctx, fmt.Sprintf(`
					INSERT INTO %s.processed_event (event_id, consumer) VALUES ($1, 'outbox-drainer')
					ON CONFLICT DO NOTHING
				`, d.Schema), r.EventID); err != nil {
					return storage.TranslateErr(err)
				}
				delivered++
				continue
			}

			nextAttempts := r.Attempts + 1
			if nextAttempts > len(backoffSchedule) {
				if _, err := tx.Exec(ctx, fmt.Sprintf(`
					UPDATE %s.outbox SET status='dead_letter' WHERE id=$1
				`, d.Schema), r.ID); err != nil {
					return storage.TranslateErr(err)
				}
				if _, err := tx.Exec(ctx, fmt.Sprintf(`
					INSERT INTO %s.dead_letter_queue (id, outbox_id, topic, payload, last_error)
					VALUES ($1,$2,$3,$4,$5)
				`, d.Schema), uuid.NewString(), r.ID, r.Topic, r.Payload, pubErr.Error()); err != nil {
					return storage.TranslateErr(err)
				}
				deadLettered++
				continue
			}

			delay := backoffSchedule[nextAttempts-1]
			if _, err := tx.Exec(ctx, fmt.Sprintf(`
				UPDATE %s.outbox SET attempts=$1, next_attempt_at=now()+$2, last_error=$3 WHERE id=$4
			`, d.Schema), nextAttempts, storage.Interval(delay), pubErr.Error(), r.ID); err != nil {
				return storage.TranslateErr(err)
			}
			failed++
		}
		return nil
	})
	return
}

// WebhookPublisher signs each delivery with HMAC-SHA256 over the raw
// payload and a per-endpoint secret, carried in the X-Summa-Signature
// header.
type WebhookPublisher struct {
	Schema string
	Store  *storage.Store
	Send   func(ctx context.Context, url string, headers map[string]string, body []byte) error
}

type endpoint struct {
	URL    string
	Secret string
}

func (w *WebhookPublisher) Publish(ctx context.Context, row Row) error {
	rows, err := w.Store.Pool.Query(ctx, fmt.Sprintf(`
		SELECT url, secret FROM %s.webhook_endpoint
		WHERE ledger_id = $1 AND is_active = true AND ($2 = ANY(topics) OR topics = '{}')
	`, w.Schema), row.LedgerID, row.Topic)
	if err != nil {
		return storage.TranslateErr(err)
	}
	defer rows.Close()

	var endpoints []endpoint
	for rows.Next() {
		var e endpoint
		if err := rows.Scan(&e.URL, &e.Secret); err != nil {
			return storage.TranslateErr(err)
		}
		endpoints = append(endpoints, e)
	}
	if err := rows.Err(); err != nil {
		return storage.TranslateErr(err)
	}

	for _, e := range endpoints {
		sig := sign(e.Secret, row.Payload)
		headers := map[string]string{
			"Content-Type":       "application/json",
			"X-Summa-Signature":  sig,
			"X-Summa-Event-Id":   row.EventID,
			"X-Summa-Topic":      row.Topic,
		}
		if err := w.Send(ctx, e.URL, headers, row.Payload); err != nil {
			return fmt.Errorf("deliver to %s: %w", e.URL, err)
		}
	}
	return nil
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
