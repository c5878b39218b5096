// Package chain implements the per-aggregate hash chain and block
// checkpoints : SHA-256 of prevHash plus
// canonical event data, gap-free via a unique (aggregateType, aggregateId,
// sequence) constraint, with periodic block checkpoints sealing ranges of
// events for O(recent) re-verification instead of O(all).
package chain

import (
	"context"
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

type AppendEventInput struct {
	LedgerID      string
	AggregateType string
	AggregateID   string
	EventType     string
	EventData     map[string]any
	CorrelationID string
}

type AppendedEvent struct {
	ID             string
	SequenceNumber int64
	EventHash      string
	PrevHash       string
}

// CanonicalJSON serializes v with recursively sorted object keys —
// Go's encoding/json already sorts map[string]any keys alphabetically
// when marshaling, which is exactly the "canonical_json sorts
// keys" requirement; no external library call is needed to get there.
func CanonicalJSON(data map[string]any) ([]byte, error) {
	return json.Marshal(data)
}

// AppendEvent is the per-aggregate hash-chain append: read the latest
// (sequence, hash) row FOR UPDATE, compute the next hash, insert. The
// unique (aggregateType, aggregateId, sequence) index makes a
// concurrent duplicate append fail with AlreadyExists / Conflict, which
// the caller retries.
func AppendEvent(ctx context.Context, tx pgx.Tx, schema string, in AppendEventInput) (*AppendedEvent, error) {
	var prevSeq int64
	var prevHash *string
	row := tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT sequence_number, event_hash
		FROM %s.ledger_event
		WHERE aggregate_type = $1 AND aggregate_id = $2
		ORDER BY sequence_number DESC
		LIMIT 1
		FOR UPDATE
	`, schema), in.AggregateType, in.AggregateID)

	err := row.Scan(&prevSeq, &prevHash)
	if err != nil && !storage.IsNoRows(err) {
		return nil, storage.TranslateErr(err)
	}

	nextSeq := prevSeq + 1
	prev := ""
	if prevHash != nil {
		prev = *prevHash
	}

	canon, err := CanonicalJSON(in.EventData)
	if err != nil {
		return nil, ledgererr.InvalidArgument("event data not serializable: %v", err)
	}

	sum := sha256.Sum256(append([]byte(prev), canon...))
	eventHash := hex.EncodeToString(sum[:])

	id := uuid.NewString()
	_, err = tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.ledger_event (
			id, ledger_id, aggregate_type, aggregate_id, event_type,
			event_data, sequence_number, prev_hash, event_hash, correlation_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, schema), id, in.LedgerID, in.AggregateType, in.AggregateID, in.EventType,
		canon, nextSeq, nullable(prevHash), eventHash, nullable(correlationPtr(in.CorrelationID)))
	if err != nil {
		return nil, storage.TranslateErr(err)
	}

	return &AppendedEvent{ID: id, SequenceNumber: nextSeq, EventHash: eventHash, PrevHash: prev}, nil
}

func correlationPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

type VerifyResult struct {
	Valid           bool
	BrokenAtVersion int64
	EventCount      int64
}

const verifyBatchSize = 500

// VerifyHashChain streams the aggregate's events in ascending sequence
// order in batches of 500, re-deriving each hash from the previous one.
func VerifyHashChain(ctx context.Context, q storage.Querier, schema, aggregateType, aggregateID string) (*VerifyResult, error) {
	result := &VerifyResult{Valid: true}
	var afterSeq int64 = 0
	prevHash := ""
	first := true

	for {
		rows, err := q.Query(ctx, fmt.Sprintf(`
			SELECT sequence_number, event_data, prev_hash, event_hash
			FROM %s.ledger_event
			WHERE aggregate_type = $1 AND aggregate_id = $2 AND sequence_number > $3
			ORDER BY sequence_number ASC
			LIMIT %d
		`, schema, verifyBatchSize), aggregateType, aggregateID, afterSeq)
		if err != nil {
			return nil, storage.TranslateErr(err)
		}

		batchCount := 0
		for rows.Next() {
			batchCount++
			var seq int64
			var eventData []byte
			var storedPrev *string
			var storedHash string
			if err := rows.Scan(&seq, &eventData, &storedPrev, &storedHash); err != nil {
				rows.Close()
				return nil, storage.TranslateErr(err)
			}

			expectedPrev := ""
			if !first {
				expectedPrev = prevHash
			}
			if storedPrev != nil {
				if *storedPrev != expectedPrev {
					result.Valid = false
					result.BrokenAtVersion = seq
				}
			} else if expectedPrev != "" {
				result.Valid = false
				result.BrokenAtVersion = seq
			}

			sum := sha256.Sum256(append([]byte(expectedPrev), eventData...))
			recomputed := hex.EncodeToString(sum[:])
			if recomputed != storedHash {
				result.Valid = false
				if result.BrokenAtVersion == 0 {
					result.BrokenAtVersion = seq
				}
			}

			prevHash = storedHash
			first = false
			afterSeq = seq
			result.EventCount++
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, storage.TranslateErr(err)
		}
		if batchCount < verifyBatchSize {
			break
		}
	}

	return result, nil
}

const blockBatchSize = 1000

// CreateBlockCheckpoint seals all ledger_event rows newer than the last
// sealed block into a new BlockCheckpoint. It runs in the caller's tx;
// cmd/worker opens that tx with Store.TransactionRepeatableRead.
func CreateBlockCheckpoint(ctx context.Context, tx pgx.Tx, schema, ledgerID string) (*AppendedBlock, error) {
	var prevBlockID *string
	var prevBlockHash string
	var prevToSeq int64
	var blockSeq int64

	row := tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, block_hash, to_event_sequence, block_sequence
		FROM %s.block_checkpoint
		WHERE ledger_id = $1
		ORDER BY block_sequence DESC
		LIMIT 1
		FOR UPDATE
	`, schema), ledgerID)
	err := row.Scan(&prevBlockID, &prevBlockHash, &prevToSeq, &blockSeq)
	if err != nil && !storage.IsNoRows(err) {
		return nil, storage.TranslateErr(err)
	}

	var maxSeq int64
	err = tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT COALESCE(MAX(sequence_number), 0) FROM %s.ledger_event WHERE ledger_id = $1
	`, schema), ledgerID).Scan(&maxSeq)
	if err != nil {
		return nil, storage.TranslateErr(err)
	}

	if maxSeq <= prevToSeq {
		return nil, nil
	}

	hasher := sha256.New()
	var eventCount int64
	afterSeq := prevToSeq
	for {
		rows, err := tx.Query(ctx, fmt.Sprintf(`
			SELECT event_hash FROM %s.ledger_event
			WHERE ledger_id = $1 AND sequence_number > $2 AND sequence_number <= $3
			ORDER BY sequence_number ASC
			LIMIT %d
		`, schema, blockBatchSize), ledgerID, afterSeq, maxSeq)
		if err != nil {
			return nil, storage.TranslateErr(err)
		}
		batchCount := 0
		for rows.Next() {
			batchCount++
			var h string
			if err := rows.Scan(&h); err != nil {
				rows.Close()
				return nil, storage.TranslateErr(err)
			}
			hasher.Write([]byte(h))
			eventCount++
			afterSeq++
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, storage.TranslateErr(err)
		}
		if batchCount < blockBatchSize {
			break
		}
	}

	eventsHash := hex.EncodeToString(hasher.Sum(nil))
	blockSum := sha256.Sum256([]byte(prevBlockHash + eventsHash))
	blockHash := hex.EncodeToString(blockSum[:])

	id := uuid.NewString()
	_, err = tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.block_checkpoint (
			id, ledger_id, block_sequence, from_event_sequence, to_event_sequence,
			event_count, events_hash, block_hash, prev_block_id, block_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, schema), id, ledgerID, blockSeq+1, prevToSeq+1, maxSeq, eventCount, eventsHash, blockHash, prevBlockID, time.Now().UTC())
	if err != nil {
		return nil, storage.TranslateErr(err)
	}

	return &AppendedBlock{ID: id, BlockSequence: blockSeq + 1, BlockHash: blockHash, EventsHash: eventsHash}, nil
}

type AppendedBlock struct {
	ID            string
	BlockSequence int64
	BlockHash     string
	EventsHash    string
}

type BlockVerifyResult struct {
	Valid       bool
	FirstBadID  string
	BlocksCheck int
}

// VerifyRecentBlocks recomputes every block sealed at or after `since`
// and checks both its own hash and linkage to its predecessor.
func VerifyRecentBlocks(ctx context.Context, q storage.Querier, schema, ledgerID string, since time.Time) (*BlockVerifyResult, error) {
	rows, err := q.Query(ctx, fmt.Sprintf(`
		SELECT id, from_event_sequence, to_event_sequence, events_hash, block_hash, prev_block_id
		FROM %s.block_checkpoint
		WHERE ledger_id = $1 AND block_at >= $2
		ORDER BY block_sequence ASC
	`, schema), ledgerID, since)
	if err != nil {
		return nil, storage.TranslateErr(err)
	}
	defer rows.Close()

	result := &BlockVerifyResult{Valid: true}
	blockHashes := map[string]string{}

	for rows.Next() {
		var id string
		var fromSeq, toSeq int64
		var eventsHash, blockHash string
		var prevBlockID *string
		if err := rows.Scan(&id, &fromSeq, &toSeq, &eventsHash, &blockHash, &prevBlockID); err != nil {
			return nil, storage.TranslateErr(err)
		}
		result.BlocksCheck++

		prevHash := ""
		if prevBlockID != nil {
			if h, ok := blockHashes[*prevBlockID]; ok {
				prevHash = h
			} else {
				_ = q.QueryRow(ctx, fmt.Sprintf(`SELECT block_hash FROM %s.block_checkpoint WHERE id = $1`, schema), *prevBlockID).Scan(&prevHash)
			}
		}

		recomputedEventsHash, err := recomputeEventsHash(ctx, q, schema, ledgerID, fromSeq, toSeq)
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256([]byte(prevHash + recomputedEventsHash))
		recomputedBlockHash := hex.EncodeToString(sum[:])

		blockHashes[id] = blockHash
		if recomputedEventsHash != eventsHash || recomputedBlockHash != blockHash {
			result.Valid = false
			if result.FirstBadID == "" {
				result.FirstBadID = id
			}
		}
	}
	return result, rows.Err()
}

type EventRecord struct {
	ID             string
	SequenceNumber int64
	EventType      string
	EventData      json.RawMessage
	EventHash      string
	CorrelationID  string
	CreatedAt      time.Time
}

// ListEvents returns an aggregate's event history in sequence order, as
// the GET /events/:aggregateType/:aggregateId returns.
func ListEvents(ctx context.Context, q storage.Querier, schema, aggregateType, aggregateID string) ([]EventRecord, error) {
	rows, err := q.Query(ctx, fmt.Sprintf(`
		SELECT id, sequence_number, event_type, event_data, event_hash, COALESCE(correlation_id,''), created_at
		FROM %s.ledger_event
		WHERE aggregate_type = $1 AND aggregate_id = $2
		ORDER BY sequence_number ASC
	`, schema), aggregateType, aggregateID)
	if err != nil {
		return nil, storage.TranslateErr(err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var e EventRecord
		if err := rows.Scan(&e.ID, &e.SequenceNumber, &e.EventType, &e.EventData, &e.EventHash, &e.CorrelationID, &e.CreatedAt); err != nil {
			return nil, storage.TranslateErr(err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func recomputeEventsHash(ctx context.Context, q storage.Querier, schema, ledgerID string, fromSeq, toSeq int64) (string, error) {
	hasher := sha256.New()
	rows, err := q.Query(ctx, fmt.Sprintf(`
		SELECT event_hash FROM %s.ledger_event
		WHERE ledger_id = $1 AND sequence_number >= $2 AND sequence_number <= $3
		ORDER BY sequence_number ASC
	`, schema), ledgerID, fromSeq, toSeq)
	if err != nil {
		return "", storage.TranslateErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return "", storage.TranslateErr(err)
		}
		hasher.Write([]byte(h))
	}
	return hex.EncodeToString(hasher.Sum(nil)), rows.Err()
}
