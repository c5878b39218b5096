// Package integration exercises the account/txn/chain/reconcile stack
// end-to-end against a real Postgres, spun up with testcontainers-go,
// over the integer-minor-unit, hash-chained domain model.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tishiu/summa/internal/account"
	"github.com/tishiu/summa/internal/chain"
	"github.com/tishiu/summa/internal/config"
	"github.com/tishiu/summa/internal/outbox"
	"github.com/tishiu/summa/internal/reconcile"
	"github.com/tishiu/summa/internal/schema"
	"github.com/tishiu/summa/internal/storage"
	"github.com/tishiu/summa/internal/txn"
)

type testEnv struct {
	Store   *storage.Store
	Account *account.Manager
	Pipe    *txn.Pipeline
}

func setupEnv(t *testing.T, ctx context.Context) (*testEnv, string) {
	t.Helper()

	pgContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16"),
		postgres.WithDatabase("summa_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := storage.NewPool(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	const schemaName = "summa"
	_, err = pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+schemaName)
	require.NoError(t, err)

	dict := schema.CoreDictionary()
	require.NoError(t, dict.Merge(schema.OutboxDictionary()...))
	require.NoError(t, dict.Merge(schema.ReconciliationDictionary()...))
	plan := dict.Plan(schema.NewIntrospectedState())
	_, err = pool.Exec(ctx, plan.UpSQL(schemaName))
	require.NoError(t, err)

	store := storage.NewStore(pool, schemaName)

	var ledgerID string
	err = pool.QueryRow(ctx, "INSERT INTO summa.ledger (name) VALUES ('test') RETURNING id").Scan(&ledgerID)
	require.NoError(t, err)

	acctMgr := account.NewManager(schemaName, []byte("test-hmac-secret"), false, account.LockWait)
	systems := config.SystemAccounts{World: "@world", Fees: "@fees", Suspense: "@suspense"}
	pipe := txn.NewPipeline(store, acctMgr, account.LockWait, outbox.Insert, systems)

	return &testEnv{Store: store, Account: acctMgr, Pipe: pipe}, ledgerID
}

func TestCreditDebitTransferInvariants(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()
	env, ledgerID := setupEnv(t, ctx)

	err := env.Store.Transaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := env.Account.CreateAccount(ctx, tx, outbox.Insert, account.CreateInput{
			LedgerID: ledgerID, HolderID: "alice", HolderType: "user", Currency: "USD", AllowOverdraft: true,
		})
		return err
	})
	require.NoError(t, err)

	err = env.Store.Transaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := env.Account.CreateAccount(ctx, tx, outbox.Insert, account.CreateInput{
			LedgerID: ledgerID, HolderID: "bob", HolderType: "user", Currency: "USD",
		})
		return err
	})
	require.NoError(t, err)

	res, err := env.Pipe.Credit(ctx, ledgerID, "alice", "USD", 10000, "credit-1", "ref-1")
	require.NoError(t, err)
	require.Equal(t, "posted", res.Status)

	res2, err := env.Pipe.Transfer(ctx, ledgerID, "alice", "bob", "USD", 2500, "transfer-1", "ref-2")
	require.NoError(t, err)
	require.Equal(t, "posted", res2.Status)

	aliceBal, err := env.Account.GetBalance(ctx, env.Store.Pool, res2.Legs[0].AccountID, nil)
	require.NoError(t, err)
	require.Equal(t, int64(7500), aliceBal)

	bobBal, err := env.Account.GetBalance(ctx, env.Store.Pool, res2.Legs[1].AccountID, nil)
	require.NoError(t, err)
	require.Equal(t, int64(2500), bobBal)

	// replaying the same idempotency key must not double-post
	res3, err := env.Pipe.Credit(ctx, ledgerID, "alice", "USD", 10000, "credit-1", "ref-1")
	require.NoError(t, err)
	require.True(t, res3.Idempotent)
	require.Equal(t, res.TransactionID, res3.TransactionID)
}

func TestHoldCommitAndVoid(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()
	env, ledgerID := setupEnv(t, ctx)

	err := env.Store.Transaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := env.Account.CreateAccount(ctx, tx, outbox.Insert, account.CreateInput{
			LedgerID: ledgerID, HolderID: "carol", HolderType: "user", Currency: "USD",
		})
		return err
	})
	require.NoError(t, err)

	_, err = env.Pipe.Credit(ctx, ledgerID, "carol", "USD", 5000, "seed-1", "seed-ref")
	require.NoError(t, err)

	hold, err := env.Pipe.Hold(ctx, ledgerID, "carol", "USD", 2000, "hold-1", "hold-ref", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, "pending", hold.Status)

	require.NoError(t, env.Pipe.Commit(ctx, hold.TransactionID))

	voided, err := env.Pipe.Hold(ctx, ledgerID, "carol", "USD", 1000, "hold-2", "hold-ref-2", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, "pending", voided.Status)
	require.NoError(t, env.Pipe.Void(ctx, voided.TransactionID))
}

func TestHashChainVerifies(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()
	env, ledgerID := setupEnv(t, ctx)

	var accountID string
	err := env.Store.Transaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		wv, err := env.Account.CreateAccount(ctx, tx, outbox.Insert, account.CreateInput{
			LedgerID: ledgerID, HolderID: "dave", HolderType: "user", Currency: "USD",
		})
		if err != nil {
			return err
		}
		accountID = wv.ID
		return nil
	})
	require.NoError(t, err)

	result, err := chain.VerifyHashChain(ctx, env.Store.Pool, env.Store.Schema, "account_balance", accountID)
	require.NoError(t, err)
	require.True(t, result.Valid)

	err = env.Store.Transaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := chain.CreateBlockCheckpoint(ctx, tx, env.Store.Schema, ledgerID)
		return err
	})
	require.NoError(t, err)
}

func TestReconcileFindsNothingWrong(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()
	env, ledgerID := setupEnv(t, ctx)

	err := env.Store.Transaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := env.Account.CreateAccount(ctx, tx, outbox.Insert, account.CreateInput{
			LedgerID: ledgerID, HolderID: "erin", HolderType: "user", Currency: "USD",
		})
		return err
	})
	require.NoError(t, err)

	_, err = env.Pipe.Credit(ctx, ledgerID, "erin", "USD", 1000, "recon-seed", "recon-ref")
	require.NoError(t, err)

	scanner := reconcile.NewScanner(env.Store, zerolog.Nop())
	report, err := scanner.RunFast(ctx, ledgerID, time.Hour)
	require.NoError(t, err)
	require.True(t, report.Clean, "%+v", report.Findings)
}
