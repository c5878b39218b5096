// Package account is the account manager: account creation,
// freeze/unfreeze/close, balance reads, and the append-only
// versioned-balance HMAC checksum, split across an immutable account
// parent row and an append-only balance-version table.
package account

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tishiu/summa/internal/chain"
	"github.com/tishiu/summa/internal/ledgererr"
	"github.com/tishiu/summa/internal/storage"
)

type LockMode string

const (
	LockWait       LockMode = "wait"
	LockNoWait     LockMode = "nowait"
	LockOptimistic LockMode = "optimistic"
)

type Status string

const (
	StatusActive Status = "active"
	StatusFrozen Status = "frozen"
	StatusClosed Status = "closed"
)

type Account struct {
	ID             string
	LedgerID       string
	HolderID       string
	HolderType     string
	Currency       string
	AllowOverdraft bool
	OverdraftLimit int64
	AccountType    string
	AccountCode    string
	NormalBalance  string
	CreatedAt      time.Time
}

type Version struct {
	AccountID     string
	Version       int64
	Balance       int64
	CreditBalance int64
	DebitBalance  int64
	PendingCredit int64
	PendingDebit  int64
	Status        Status
	Checksum      string
	ChangeType    string
	FreezeReason  string
	FreezeWho     string
	FreezeWhen    time.Time
	ClosedReason  string
	ClosedWho     string
	ClosedWhen    time.Time
}

type WithVersion struct {
	Account
	Version
}

type Manager struct {
	Schema             string
	HMACSecret         []byte
	UseDenormalized    bool
	LockMode           LockMode
}

func NewManager(schema string, hmacSecret []byte, useDenormalized bool, lockMode LockMode) *Manager {
	if lockMode == "" {
		lockMode = LockWait
	}
	return &Manager{Schema: schema, HMACSecret: hmacSecret, UseDenormalized: useDenormalized, LockMode: lockMode}
}

// DefaultLockMode returns the ledger-configured concurrency mode
// for callers that resolve an
// account for update without choosing a mode explicitly.
func (m *Manager) DefaultLockMode() LockMode { return m.LockMode }

// Checksum computes HMAC-SHA256(secret, accountID‖balance‖creditBalance‖
// debitBalance‖pendingDebit‖pendingCredit‖version) so a tampered balance row fails
// verification on read.
func (m *Manager) Checksum(accountID string, v Version) string {
	mac := hmac.New(sha256.New, m.HMACSecret)
	fmt.Fprintf(mac, "%s|%d|%d|%d|%d|%d|%d", accountID, v.Balance, v.CreditBalance, v.DebitBalance, v.PendingDebit, v.PendingCredit, v.Version)
	return hex.EncodeToString(mac.Sum(nil))
}

type CreateInput struct {
	LedgerID       string
	HolderID       string
	HolderType     string
	Currency       string
	AllowOverdraft bool
	OverdraftLimit int64
	AccountType    string
	AccountCode    string
}

// CreateAccount implements the fast-path-read / advisory-lock
// slow path: check for an existing (ledger, holder, currency) row first;
// on miss, take a 64-bit advisory lock keyed on the tuple and re-check
// before inserting the immutable parent, v1 version, creation event, and
// outbox row in one transaction.
func (m *Manager) CreateAccount(ctx context.Context, tx pgx.Tx, outboxInsert OutboxInserter, in CreateInput) (*WithVersion, error) {
	existing, err := m.lookup(ctx, tx, in.LedgerID, in.HolderID, in.Currency)
	if err == nil {
		return existing, nil
	}
	if _, ok := err.(*ledgererr.Error); !ok || err.(*ledgererr.Error).Code != ledgererr.CodeNotFound {
		return nil, err
	}

	lockKey := advisoryKey(in.LedgerID, in.HolderID, in.Currency)
	if err := storage.AdvisoryLock(ctx, tx, lockKey); err != nil {
		return nil, err
	}

	existing, err = m.lookup(ctx, tx, in.LedgerID, in.HolderID, in.Currency)
	if err == nil {
		return existing, nil
	}
	if _, ok := err.(*ledgererr.Error); !ok || err.(*ledgererr.Error).Code != ledgererr.CodeNotFound {
		return nil, err
	}

	id := uuid.NewString()
	normalBalance := "debit"
	if in.AccountType == "liability" || in.AccountType == "equity" || in.AccountType == "revenue" {
		normalBalance = "credit"
	}

	_, err = tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.account_balance (
			id, ledger_id, holder_id, holder_type, currency, allow_overdraft,
			overdraft_limit, account_type, account_code, normal_balance
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, m.Schema), id, in.LedgerID, in.HolderID, in.HolderType, in.Currency,
		in.AllowOverdraft, in.OverdraftLimit, in.AccountType, in.AccountCode, normalBalance)
	if err != nil {
		return nil, storage.TranslateErr(err)
	}

	v := Version{AccountID: id, Version: 1, Status: StatusActive, ChangeType: "create"}
	v.Checksum = m.Checksum(id, v)
	if err := m.insertVersion(ctx, tx, v); err != nil {
		return nil, err
	}

	evt, err := chain.AppendEvent(ctx, tx, m.Schema, chain.AppendEventInput{
		LedgerID:      in.LedgerID,
		AggregateType: "account",
		AggregateID:   id,
		EventType:     "account.created",
		EventData: map[string]any{
			"account_id": id, "holder_id": in.HolderID, "currency": in.Currency,
		},
	})
	if err != nil {
		return nil, err
	}

	if outboxInsert != nil {
		if err := outboxInsert(ctx, tx, evt.ID, in.LedgerID, "ledger-account-created", map[string]any{
			"account_id": id, "holder_id": in.HolderID,
		}); err != nil {
			return nil, err
		}
	}

	acc := Account{
		ID: id, LedgerID: in.LedgerID, HolderID: in.HolderID, HolderType: in.HolderType,
		Currency: in.Currency, AllowOverdraft: in.AllowOverdraft, OverdraftLimit: in.OverdraftLimit,
		AccountType: in.AccountType, AccountCode: in.AccountCode, NormalBalance: normalBalance,
	}
	return &WithVersion{Account: acc, Version: v}, nil
}

// OutboxInserter lets account.Manager append an outbox row without this
// package importing the outbox package (which itself depends on chain
// and account for payload shaping) — avoids an import cycle.
type OutboxInserter func(ctx context.Context, tx pgx.Tx, eventID, ledgerID, topic string, payload map[string]any) error

func (m *Manager) insertVersion(ctx context.Context, tx pgx.Tx, v Version) error {
	_, err := tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.account_balance_version (
			account_id, version, balance, credit_balance, debit_balance,
			pending_credit, pending_debit, status, checksum, change_type,
			freeze_reason, freeze_who, freeze_when, closed_reason, closed_who, closed_when
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, m.Schema), v.AccountID, v.Version, v.Balance, v.CreditBalance, v.DebitBalance,
		v.PendingCredit, v.PendingDebit, v.Status, v.Checksum, v.ChangeType,
		nullStr(v.FreezeReason), nullStr(v.FreezeWho), nullTime(v.FreezeWhen),
		nullStr(v.ClosedReason), nullStr(v.ClosedWho), nullTime(v.ClosedWhen))
	if err != nil {
		return storage.TranslateErr(err)
	}
	if m.UseDenormalized {
		_, err = tx.Exec(ctx, fmt.Sprintf(`
			UPDATE %s.account_balance SET cached_balance=$1, cached_version=$2, cached_status=$3 WHERE id=$4
		`, m.Schema), v.Balance, v.Version, v.Status, v.AccountID)
		if err != nil {
			return storage.TranslateErr(err)
		}
	}
	return nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// lookup is the sole read path for unlocked GET routes: the
// denormalized fast path when UseDenormalized is set, falling back to
// the checksum-verified versioned join otherwise.
func (m *Manager) lookup(ctx context.Context, q storage.Querier, ledgerID, holderID, currency string) (*WithVersion, error) {
	if m.UseDenormalized {
		return m.lookupDenormalized(ctx, q, ledgerID, holderID, currency)
	}
	return m.lookupVersioned(ctx, q, ledgerID, holderID, currency)
}

// lookupDenormalized reads balance/version/status straight off
// account_balance's cached_* columns — one table, no LATERAL JOIN — and
// skips checksum verification, since the cache doesn't carry the other
// counters the checksum is computed over. Falls back to the versioned
// join when the cache has never been populated (cached_version = 0).
func (m *Manager) lookupDenormalized(ctx context.Context, q storage.Querier, ledgerID, holderID, currency string) (*WithVersion, error) {
	var a Account
	var balance, version int64
	var status string
	err := q.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, ledger_id, holder_id, holder_type, currency, allow_overdraft,
		       overdraft_limit, account_type, account_code, normal_balance, created_at,
		       cached_balance, cached_version, cached_status
		FROM %s.account_balance
		WHERE ledger_id = $1 AND holder_id = $2 AND currency = $3
	`, m.Schema), ledgerID, holderID, currency).Scan(
		&a.ID, &a.LedgerID, &a.HolderID, &a.HolderType, &a.Currency,
		&a.AllowOverdraft, &a.OverdraftLimit, &a.AccountType, &a.AccountCode,
		&a.NormalBalance, &a.CreatedAt, &balance, &version, &status,
	)
	if err != nil {
		if storage.IsNoRows(err) {
			return nil, ledgererr.NotFound("account not found")
		}
		return nil, storage.TranslateErr(err)
	}
	if version == 0 {
		return m.lookupVersioned(ctx, q, ledgerID, holderID, currency)
	}
	v := Version{AccountID: a.ID, Version: version, Balance: balance, Status: Status(status), ChangeType: "cached"}
	return &WithVersion{Account: a, Version: v}, nil
}

func (m *Manager) lookupVersioned(ctx context.Context, q storage.Querier, ledgerID, holderID, currency string) (*WithVersion, error) {
	var a Account
	var v Version
	err := q.QueryRow(ctx, fmt.Sprintf(`
		SELECT ab.id, ab.ledger_id, ab.holder_id, ab.holder_type, ab.currency,
		       ab.allow_overdraft, ab.overdraft_limit, ab.account_type, ab.account_code,
		       ab.normal_balance, ab.created_at,
		       v.version, v.balance, v.credit_balance, v.debit_balance,
		       v.pending_credit, v.pending_debit, v.status, v.checksum
		FROM %s.account_balance ab
		JOIN LATERAL (
			SELECT * FROM %s.account_balance_version
			WHERE account_id = ab.id ORDER BY version DESC LIMIT 1
		) v ON true
		WHERE ab.ledger_id = $1 AND ab.holder_id = $2 AND ab.currency = $3
	`, m.Schema, m.Schema), ledgerID, holderID, currency).Scan(
		&a.ID, &a.LedgerID, &a.HolderID, &a.HolderType, &a.Currency,
		&a.AllowOverdraft, &a.OverdraftLimit, &a.AccountType, &a.AccountCode,
		&a.NormalBalance, &a.CreatedAt,
		&v.Version, &v.Balance, &v.CreditBalance, &v.DebitBalance,
		&v.PendingCredit, &v.PendingDebit, &v.Status, &v.Checksum,
	)
	if err != nil {
		if storage.IsNoRows(err) {
			return nil, ledgererr.NotFound("account not found")
		}
		return nil, storage.TranslateErr(err)
	}
	v.AccountID = a.ID
	if err := m.verifyChecksum(a.ID, v); err != nil {
		return nil, err
	}
	return &WithVersion{Account: a, Version: v}, nil
}

func (m *Manager) verifyChecksum(accountID string, v Version) error {
	expected := m.Checksum(accountID, v)
	if expected != v.Checksum {
		return ledgererr.New(ledgererr.CodeChainIntegrityViolation, "account balance checksum mismatch")
	}
	return nil
}

// ResolveForUpdate is the sole path by which a mutating manager sees an
// account, in one of three lock modes: wait (FOR UPDATE on the parent
// row, then a read of its latest version row), nowait (FOR UPDATE
// NOWAIT), or optimistic (no lock; rely on the (accountId, version)
// UNIQUE constraint at insert time). Every mode reads the versioned row,
// never the denormalized cache.
func (m *Manager) ResolveForUpdate(ctx context.Context, tx pgx.Tx, ledgerID, holderID, currency string, mode LockMode) (*WithVersion, error) {
	lockClause := "FOR UPDATE"
	if mode == LockNoWait {
		lockClause = "FOR UPDATE NOWAIT"
	}

	var a Account
	var accountID string
	if mode == LockOptimistic {
		wv, err := m.lookupVersioned(ctx, tx, ledgerID, holderID, currency)
		if err != nil {
			return nil, err
		}
		return wv, nil
	}

	err := tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, ledger_id, holder_id, holder_type, currency, allow_overdraft,
		       overdraft_limit, account_type, account_code, normal_balance, created_at
		FROM %s.account_balance
		WHERE ledger_id = $1 AND holder_id = $2 AND currency = $3
		%s
	`, m.Schema, lockClause), ledgerID, holderID, currency).Scan(
		&accountID, &a.LedgerID, &a.HolderID, &a.HolderType, &a.Currency,
		&a.AllowOverdraft, &a.OverdraftLimit, &a.AccountType, &a.AccountCode,
		&a.NormalBalance, &a.CreatedAt,
	)
	if err != nil {
		if storage.IsNoRows(err) {
			return nil, ledgererr.NotFound("account not found")
		}
		return nil, storage.TranslateErr(err)
	}
	a.ID = accountID

	var v Version
	err = tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT version, balance, credit_balance, debit_balance, pending_credit,
		       pending_debit, status, checksum
		FROM %s.account_balance_version
		WHERE account_id = $1 ORDER BY version DESC LIMIT 1
	`, m.Schema), accountID).Scan(&v.Version, &v.Balance, &v.CreditBalance, &v.DebitBalance,
		&v.PendingCredit, &v.PendingDebit, &v.Status, &v.Checksum)
	if err != nil {
		return nil, storage.TranslateErr(err)
	}
	v.AccountID = accountID
	if err := m.verifyChecksum(accountID, v); err != nil {
		return nil, err
	}
	return &WithVersion{Account: a, Version: v}, nil
}

// AppendVersion inserts the next version row for an account, verifying
// (accountId, version) uniqueness — the sole source of truth for
// optimistic-mode conflict detection.
func (m *Manager) AppendVersion(ctx context.Context, tx pgx.Tx, next Version) error {
	next.Checksum = m.Checksum(next.AccountID, next)
	return m.insertVersion(ctx, tx, next)
}

func advisoryKey(ledgerID, holderID, currency string) int64 {
	sum := sha256.Sum256([]byte(ledgerID + ":" + holderID + ":" + currency))
	var k int64
	for i := 0; i < 8; i++ {
		k = (k << 8) | int64(sum[i])
	}
	if k < 0 {
		k = -k
	}
	return k
}

// Freeze/Unfreeze/Close append a new version row with the same balance
// numbers (except close-with-sweep) and a changed status.

func (m *Manager) Freeze(ctx context.Context, tx pgx.Tx, wv *WithVersion, reason, who string) (*WithVersion, error) {
	if wv.Version.Status == StatusFrozen {
		return wv, nil // idempotent no-op
	}
	if wv.Version.Status == StatusClosed {
		return nil, ledgererr.New(ledgererr.CodeAccountClosed, "account is closed")
	}
	next := wv.Version
	next.Version++
	next.Status = StatusFrozen
	next.ChangeType = "freeze"
	next.FreezeReason = reason
	next.FreezeWho = who
	next.FreezeWhen = time.Now().UTC()
	if err := m.AppendVersion(ctx, tx, next); err != nil {
		return nil, err
	}
	wv.Version = next
	return wv, nil
}

func (m *Manager) Unfreeze(ctx context.Context, tx pgx.Tx, wv *WithVersion) (*WithVersion, error) {
	if wv.Version.Status == StatusActive {
		return wv, nil
	}
	if wv.Version.Status == StatusClosed {
		return nil, ledgererr.New(ledgererr.CodeAccountClosed, "account is closed")
	}
	next := wv.Version
	next.Version++
	next.Status = StatusActive
	next.ChangeType = "unfreeze"
	if err := m.AppendVersion(ctx, tx, next); err != nil {
		return nil, err
	}
	wv.Version = next
	return wv, nil
}

// Close appends a closed version. The caller is responsible for sweeping
// any non-zero balance to a holder before calling Close — Close itself
// refuses to close an account that still carries a balance, so a
// transaction never goes missing silently on close.
func (m *Manager) Close(ctx context.Context, tx pgx.Tx, wv *WithVersion, reason, who string) (*WithVersion, error) {
	if wv.Version.Status == StatusClosed {
		return wv, nil
	}
	if wv.Version.Balance != 0 {
		return nil, ledgererr.New(ledgererr.CodeInvalidArgument, "account balance must be zero to close; sweep it first")
	}
	next := wv.Version
	next.Version++
	next.Status = StatusClosed
	next.ChangeType = "close"
	next.ClosedReason = reason
	next.ClosedWho = who
	next.ClosedWhen = time.Now().UTC()
	if err := m.AppendVersion(ctx, tx, next); err != nil {
		return nil, err
	}
	wv.Version = next
	return wv, nil
}

// GetBalance without asOf reads the checksum-verified latest version;
// with asOf it aggregates entry_record rows up to that time instead.
func (m *Manager) GetBalance(ctx context.Context, q storage.Querier, accountID string, asOf *time.Time) (int64, error) {
	if asOf == nil {
		var balance int64
		var v Version
		v.AccountID = accountID
		err := q.QueryRow(ctx, fmt.Sprintf(`
			SELECT version, balance, credit_balance, debit_balance, pending_credit, pending_debit, status, checksum
			FROM %s.account_balance_version WHERE account_id=$1 ORDER BY version DESC LIMIT 1
		`, m.Schema), accountID).Scan(&v.Version, &balance, &v.CreditBalance, &v.DebitBalance, &v.PendingCredit, &v.PendingDebit, &v.Status, &v.Checksum)
		if err != nil {
			return 0, storage.TranslateErr(err)
		}
		v.Balance = balance
		if err := m.verifyChecksum(accountID, v); err != nil {
			return 0, err
		}
		return balance, nil
	}

	var credit, debit int64
	err := q.QueryRow(ctx, fmt.Sprintf(`
		SELECT
			COALESCE(SUM(CASE WHEN entry_type='CREDIT' THEN amount ELSE 0 END),0),
			COALESCE(SUM(CASE WHEN entry_type='DEBIT' THEN amount ELSE 0 END),0)
		FROM %s.entry_record WHERE account_id=$1 AND created_at <= $2
	`, m.Schema), accountID, *asOf).Scan(&credit, &debit)
	if err != nil {
		return 0, storage.TranslateErr(err)
	}
	return credit - debit, nil
}

// ResolveReadOnly looks an account up without taking any lock, for GET
// routes; this is the same lookup the create fast-path already uses. The
// snapshot is checksum-verified unless UseDenormalized is set, in which
// case it comes from the cached_* columns without checksum verification.
func (m *Manager) ResolveReadOnly(ctx context.Context, q storage.Querier, ledgerID, holderID, currency string) (*WithVersion, error) {
	return m.lookup(ctx, q, ledgerID, holderID, currency)
}

type ListItem struct {
	WithVersion
}

// List implements offset-free cursor pagination for GET /accounts: rows
// ordered by created_at, filtered by status/holderType, paged by an
// opaque (timestamp, id) cursor.
func (m *Manager) List(ctx context.Context, q storage.Querier, ledgerID, status, holderType string, cursor Cursor, limit int) ([]Account, bool, error) {
	conds := "ab.ledger_id = $1"
	args := []any{ledgerID}
	argN := 2
	if status != "" {
		conds += fmt.Sprintf(" AND v.status = $%d", argN)
		args = append(args, status)
		argN++
	}
	if holderType != "" {
		conds += fmt.Sprintf(" AND ab.holder_type = $%d", argN)
		args = append(args, holderType)
		argN++
	}
	if !cursor.Timestamp.IsZero() {
		conds += fmt.Sprintf(" AND (ab.created_at, ab.id) > ($%d, $%d)", argN, argN+1)
		args = append(args, cursor.Timestamp, cursor.ID)
		argN += 2
	}
	args = append(args, limit+1)

	rows, err := q.Query(ctx, fmt.Sprintf(`
		SELECT ab.id, ab.ledger_id, ab.holder_id, ab.holder_type, ab.currency,
		       ab.allow_overdraft, ab.overdraft_limit, ab.account_type, ab.account_code,
		       ab.normal_balance, ab.created_at
		FROM %s.account_balance ab
		JOIN LATERAL (
			SELECT status FROM %s.account_balance_version
			WHERE account_id = ab.id ORDER BY version DESC LIMIT 1
		) v ON true
		WHERE %s
		ORDER BY ab.created_at ASC, ab.id ASC
		LIMIT $%d
	`, m.Schema, m.Schema, conds, argN), args...)
	if err != nil {
		return nil, false, storage.TranslateErr(err)
	}
	defer rows.Close()

	var items []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.LedgerID, &a.HolderID, &a.HolderType, &a.Currency,
			&a.AllowOverdraft, &a.OverdraftLimit, &a.AccountType, &a.AccountCode,
			&a.NormalBalance, &a.CreatedAt); err != nil {
			return nil, false, storage.TranslateErr(err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, false, storage.TranslateErr(err)
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}
	return items, hasMore, nil
}

// Cursor is the opaque-cursor pagination token shared with package api's
// pagination helpers.
type Cursor struct {
	Timestamp time.Time
	ID        string
}
