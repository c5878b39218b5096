// Command worker runs the background jobs: block checkpoint sealing and
// fast/daily reconciliation sweeps on the DB-lease-backed
// worker.Runtime, alongside a river client draining the outbox
// (webhook.DrainWorker).
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog"

	"github.com/tishiu/summa/internal/chain"
	"github.com/tishiu/summa/internal/config"
	"github.com/tishiu/summa/internal/outbox"
	"github.com/tishiu/summa/internal/reconcile"
	"github.com/tishiu/summa/internal/storage"
	"github.com/tishiu/summa/internal/webhook"
	"github.com/tishiu/summa/internal/worker"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "summa-worker").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	pool, err := storage.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	store := storage.NewStore(pool, cfg.Schema)

	webhookPublisher := &outbox.WebhookPublisher{Schema: cfg.Schema, Store: store, Send: webhook.HTTPPublisher()}
	drainer := outbox.NewDrainer(store, webhookPublisher, 100)

	workers := river.NewWorkers()
	river.AddWorker(workers, webhook.NewDrainWorker(drainer, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
	})
	if err != nil {
		log.Fatalf("failed to create river client: %v", err)
	}
	if err := riverClient.Start(ctx); err != nil {
		log.Fatalf("failed to start river: %v", err)
	}

	scanner := reconcile.NewScanner(store, logger)
	runtime := worker.NewRuntime(store, logger, uuid.NewString())

	runtime.Register(worker.Job{
		Name:     "block-checkpoint",
		Interval: 30 * time.Second,
		Run: func(ctx context.Context) error {
			return forEachLedger(ctx, pool, cfg.Schema, func(ledgerID string) error {
				return store.TransactionRepeatableRead(ctx, func(ctx context.Context, tx pgx.Tx) error {
					_, err := chain.CreateBlockCheckpoint(ctx, tx, cfg.Schema, ledgerID)
					return err
				})
			})
		},
	})

	runtime.Register(worker.Job{
		Name:     "reconcile-fast",
		Interval: time.Minute,
		Run: func(ctx context.Context) error {
			return forEachLedger(ctx, pool, cfg.Schema, func(ledgerID string) error {
				_, err := scanner.RunFast(ctx, ledgerID, 2*time.Hour)
				return err
			})
		},
	})

	runtime.Register(worker.Job{
		Name:     "reconcile-daily",
		Interval: 24 * time.Hour,
		Run: func(ctx context.Context) error {
			return forEachLedger(ctx, pool, cfg.Schema, func(ledgerID string) error {
				_, err := scanner.RunDaily(ctx, ledgerID)
				return err
			})
		},
	})

	go runtime.Run(ctx)

	logger.Info().Msg("worker processes started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	logger.Info().Msg("shutting down workers")
	cancel()
	riverClient.Stop(context.Background())
	logger.Info().Msg("workers stopped")
}

// forEachLedger scopes a periodic job to every provisioned ledger.
func forEachLedger(ctx context.Context, pool *pgxpool.Pool, schemaName string, fn func(ledgerID string) error) error {
	rows, err := pool.Query(ctx, fmt.Sprintf(`SELECT id FROM %s.ledger`, schemaName))
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range ids {
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}
