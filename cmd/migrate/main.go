// Command migrate applies the additive schema plan for
// the ledger core plus the outbox, reconciliation, verification-snapshot
// and identity dictionaries (always all four; the plugins config setting
// is not read), then runs river's own job-table migrations.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/tishiu/summa/internal/config"
	"github.com/tishiu/summa/internal/schema"
	"github.com/tishiu/summa/internal/storage"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	pool, err := storage.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", cfg.Schema)); err != nil {
		log.Fatalf("failed to create schema: %v", err)
	}

	dict := schema.CoreDictionary()
	must(dict.Merge(schema.OutboxDictionary()...))
	must(dict.Merge(schema.ReconciliationDictionary()...))
	must(dict.Merge(schema.VerificationSnapshotDictionary()...))
	must(dict.Merge(schema.IdentityDictionary()...))

	current, err := introspect(ctx, pool, cfg.Schema, dict)
	if err != nil {
		log.Fatalf("failed to introspect schema: %v", err)
	}

	plan := dict.Plan(current)
	upSQL := plan.UpSQL(cfg.Schema)
	if upSQL == "" {
		log.Println("schema already up to date")
	} else {
		if _, err := pool.Exec(ctx, upSQL); err != nil {
			log.Fatalf("failed to apply schema plan: %v", err)
		}
		if err := recordPlan(ctx, pool, cfg.Schema, plan.Hash(cfg.Schema)); err != nil {
			log.Fatalf("failed to record applied plan: %v", err)
		}
		log.Printf("applied schema plan %s", plan.Hash(cfg.Schema))
	}

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		log.Fatalf("failed to create river migrator: %v", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		log.Fatalf("failed to run river migrations: %v", err)
	}

	log.Println("all migrations completed successfully")
}

func must(err error) {
	if err != nil {
		log.Fatalf("dictionary merge conflict: %v", err)
	}
}

// introspect reads information_schema for the tables, columns, and
// indexes the dictionary declares, so re-running migrate against an
// already-provisioned database only emits the additive delta.
func introspect(ctx context.Context, pool *pgxpool.Pool, schemaName string, dict *schema.Dictionary) (*schema.IntrospectedState, error) {
	state := schema.NewIntrospectedState()

	tableRows, err := pool.Query(ctx, `
		SELECT table_name FROM information_schema.tables WHERE table_schema = $1
	`, schemaName)
	if err != nil {
		return nil, err
	}
	for tableRows.Next() {
		var name string
		if err := tableRows.Scan(&name); err != nil {
			tableRows.Close()
			return nil, err
		}
		state.Tables[name] = true
	}
	tableRows.Close()
	if err := tableRows.Err(); err != nil {
		return nil, err
	}

	for name := range dict.Tables {
		if !state.Tables[name] {
			continue
		}
		colRows, err := pool.Query(ctx, `
			SELECT column_name FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2
		`, schemaName, name)
		if err != nil {
			return nil, err
		}
		cols := map[string]bool{}
		for colRows.Next() {
			var col string
			if err := colRows.Scan(&col); err != nil {
				colRows.Close()
				return nil, err
			}
			cols[col] = true
		}
		colRows.Close()
		if err := colRows.Err(); err != nil {
			return nil, err
		}
		state.Columns[name] = cols

		idxRows, err := pool.Query(ctx, `
			SELECT indexname FROM pg_indexes WHERE schemaname = $1 AND tablename = $2
		`, schemaName, name)
		if err != nil {
			return nil, err
		}
		idxs := map[string]bool{}
		for idxRows.Next() {
			var idx string
			if err := idxRows.Scan(&idx); err != nil {
				idxRows.Close()
				return nil, err
			}
			idxs[idx] = true
		}
		idxRows.Close()
		if err := idxRows.Err(); err != nil {
			return nil, err
		}
		state.Indexes[name] = idxs
	}

	return state, nil
}

// recordPlan keeps a durable audit trail of every applied plan, recorded
// by its truncated SHA-256 hash and the time it was applied.
func recordPlan(ctx context.Context, pool *pgxpool.Pool, schemaName, hash string) error {
	if _, err := pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.schema_plan (
			hash text PRIMARY KEY,
			applied_at timestamptz NOT NULL DEFAULT now()
		)
	`, schemaName)); err != nil {
		return err
	}
	_, err := pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.schema_plan (hash) VALUES ($1) ON CONFLICT DO NOTHING
	`, schemaName), hash)
	return err
}
