// Package txn implements the transaction pipeline: a single
// transactional template shared by credit, debit, transfer,
// multiTransfer, refund, hold, commit, and void, operating on integer
// minor-unit amounts against the account manager's versioned balances
// and hash-chained events.
package txn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tishiu/summa/internal/account"
	"github.com/tishiu/summa/internal/chain"
	"github.com/tishiu/summa/internal/config"
	"github.com/tishiu/summa/internal/ledgererr"
	"github.com/tishiu/summa/internal/storage"
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func sha256Sum(s string) int64 {
	sum := sha256.Sum256([]byte(s))
	var k int64
	for i := 0; i < 8; i++ {
		k = (k << 8) | int64(sum[i])
	}
	if k < 0 {
		k = -k
	}
	return k
}

type EntryType string

const (
	EntryCredit EntryType = "CREDIT"
	EntryDebit  EntryType = "DEBIT"
)

type Leg struct {
	HolderID         string
	Currency         string
	EntryType        EntryType
	Amount           int64
	OriginalAmount   int64
	OriginalCurrency string
	ExchangeRate     float64 // set on the destination leg of a cross-currency transfer; amount is already converted
}

type Input struct {
	LedgerID       string
	Type           string // "credit" | "debit" | "transfer" | "multi_transfer" | "refund" | "hold"
	IdempotencyKey string
	Reference      string
	CorrelationID  string
	Legs           []Leg
	IsHold         bool
	HoldExpiresAt  *time.Time
	ParentID       string // for refund/void/commit
	EffectiveDate  time.Time
	Metadata       map[string]any
	// OverdraftOverride, when set, replaces the destination account's
	// AllowOverdraft policy for this transaction only (debit's allowOverdraft param).
	OverdraftOverride *bool
}

type Result struct {
	TransactionID string
	Status        string
	Legs          []LegResult
	Idempotent    bool // true if this result was served from a stored idempotent response
}

type LegResult struct {
	AccountID      string
	EntryID        string
	BalanceBefore  int64
	BalanceAfter   int64
	AccountVersion int64
}

type OutboxInserter func(ctx context.Context, tx pgx.Tx, eventID, ledgerID, topic string, payload map[string]any) error

type Pipeline struct {
	Schema   string
	Store    *storage.Store
	Account  *account.Manager
	LockMode account.LockMode
	Outbox   OutboxInserter
	Systems  config.SystemAccounts
}

func NewPipeline(store *storage.Store, acct *account.Manager, lockMode account.LockMode, outbox OutboxInserter, systems config.SystemAccounts) *Pipeline {
	return &Pipeline{Schema: store.Schema, Store: store, Account: acct, LockMode: lockMode, Outbox: outbox, Systems: systems}
}

// isSystemAccount reports whether holderID names one of the ledger's
// configured system accounts (world/fees/suspense), which credit, debit,
// and cross-currency transfer post an implicit contra-leg against.
func (p *Pipeline) isSystemAccount(holderID string) bool {
	return holderID != "" && (holderID == p.Systems.World || holderID == p.Systems.Fees || holderID == p.Systems.Suspense)
}

// resolveForUpdate resolves an account for the transaction, lazily
// creating it first if it is a system account that has never been
// posted to in this currency yet.
func (p *Pipeline) resolveForUpdate(ctx context.Context, tx pgx.Tx, ledgerID, holderID, currency string) (*account.WithVersion, error) {
	wv, err := p.Account.ResolveForUpdate(ctx, tx, ledgerID, holderID, currency, p.LockMode)
	if err == nil {
		return wv, nil
	}
	lerr, ok := err.(*ledgererr.Error)
	if !ok || lerr.Code != ledgererr.CodeNotFound || !p.isSystemAccount(holderID) {
		return nil, err
	}
	_, cerr := p.Account.CreateAccount(ctx, tx, account.OutboxInserter(p.Outbox), account.CreateInput{
		LedgerID: ledgerID, HolderID: holderID, HolderType: "system",
		Currency: currency, AllowOverdraft: true, AccountType: "equity",
	})
	if cerr != nil {
		return nil, cerr
	}
	return p.Account.ResolveForUpdate(ctx, tx, ledgerID, holderID, currency, p.LockMode)
}

// Execute runs the shared template: idempotency check, ordered account
// locks, validation (balanced legs, currency match, overdraft/frozen
// checks), header insert, per-leg entry + version append, chained
// event + outbox row, and idempotency record — all in one transaction.
func (p *Pipeline) Execute(ctx context.Context, in Input) (*Result, error) {
	if err := validateLegs(in.Legs, in.IsHold); err != nil {
		return nil, err
	}

	var result *Result
	err := p.Store.Transaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if in.IdempotencyKey != "" {
			if stored, err := p.lookupIdempotent(ctx, tx, in.LedgerID, in.IdempotencyKey); err == nil {
				result = stored
				result.Idempotent = true
				return nil
			}
		}

		holders := orderedHolders(in.Legs)
		resolved := make(map[string]*account.WithVersion, len(holders))
		for _, h := range holders {
			wv, err := p.resolveForUpdate(ctx, tx, in.LedgerID, h.holderID, h.currency)
			if err != nil {
				return err
			}
			if wv.Version.Status == account.StatusClosed {
				return ledgererr.New(ledgererr.CodeAccountClosed, fmt.Sprintf("account %s is closed", wv.Account.ID))
			}
			if wv.Version.Status == account.StatusFrozen {
				return ledgererr.New(ledgererr.CodeAccountFrozen, fmt.Sprintf("account %s is frozen", wv.Account.ID))
			}
			resolved[key(h.holderID, h.currency)] = wv
		}

		for _, leg := range in.Legs {
			wv := resolved[key(leg.HolderID, leg.Currency)]
			if wv.Account.Currency != leg.Currency {
				return ledgererr.New(ledgererr.CodeCurrencyMismatch, "leg currency does not match account currency")
			}
		}

		txnID := uuid.NewString()
		status := "posted"
		if in.IsHold {
			status = "pending"
		}

		if err := p.insertHeader(ctx, tx, txnID, in, status); err != nil {
			return err
		}

		// Entries share a single ledger-wide hash chain distinct from the
		// transaction/account aggregate chains, via the entry_record
		// hash/prev_hash columns. Serialize appenders with an advisory
		// lock keyed on the ledger rather than contending on a row lock.
		if err := storage.AdvisoryLock(ctx, tx, ledgerChainKey(in.LedgerID)); err != nil {
			return err
		}
		seq, prevHash, err := p.latestEntryChainState(ctx, tx, in.LedgerID)
		if err != nil {
			return err
		}

		legResults := make([]LegResult, 0, len(in.Legs))
		for _, leg := range in.Legs {
			h := key(leg.HolderID, leg.Currency)
			wv := resolved[h]

			before := wv.Version.Balance
			after := before
			nextVersion := wv.Version
			nextVersion.Version++
			nextVersion.ChangeType = "posting"

			switch {
			case in.IsHold && leg.EntryType == EntryDebit:
				nextVersion.PendingDebit += leg.Amount
			case in.IsHold && leg.EntryType == EntryCredit:
				nextVersion.PendingCredit += leg.Amount
			case leg.EntryType == EntryDebit:
				after = before - leg.Amount
				allowOverdraft := wv.Account.AllowOverdraft
				if in.OverdraftOverride != nil {
					allowOverdraft = *in.OverdraftOverride
				}
				if !allowOverdraft && after < -wv.Account.OverdraftLimit {
					return ledgererr.New(ledgererr.CodeInsufficientBalance, fmt.Sprintf("account %s has insufficient balance", wv.Account.ID))
				}
				nextVersion.Balance = after
				nextVersion.DebitBalance += leg.Amount
			case leg.EntryType == EntryCredit:
				after = before + leg.Amount
				nextVersion.Balance = after
				nextVersion.CreditBalance += leg.Amount
			}

			if err := p.Account.AppendVersion(ctx, tx, nextVersion); err != nil {
				return err
			}

			seq++
			entryID := uuid.NewString()
			entryHash := nextEntryHash(prevHash, entryID, leg)
			if err := p.insertEntry(ctx, tx, entryID, txnID, wv.Account.ID, leg, before, after, nextVersion.Version, seq, prevHash, entryHash); err != nil {
				return err
			}
			prevHash = entryHash

			resolved[h].Version = nextVersion
			legResults = append(legResults, LegResult{
				AccountID: wv.Account.ID, EntryID: entryID,
				BalanceBefore: before, BalanceAfter: after, AccountVersion: nextVersion.Version,
			})
		}

		evt, err := chain.AppendEvent(ctx, tx, p.Schema, chain.AppendEventInput{
			LedgerID: in.LedgerID, AggregateType: "transaction", AggregateID: txnID,
			EventType: "transaction." + in.Type, CorrelationID: in.CorrelationID,
			EventData: map[string]any{"transaction_id": txnID, "type": in.Type, "status": status},
		})
		if err != nil {
			return err
		}

		if p.Outbox != nil {
			if err := p.Outbox(ctx, tx, evt.ID, in.LedgerID, "ledger-transaction-"+in.Type, map[string]any{
				"transaction_id": txnID, "status": status,
			}); err != nil {
				return err
			}
		}

		result = &Result{TransactionID: txnID, Status: status, Legs: legResults}

		if in.IdempotencyKey != "" {
			if err := p.storeIdempotent(ctx, tx, in.LedgerID, in.IdempotencyKey, result); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Credit/Debit/Transfer/MultiTransfer/Refund/Hold are thin constructors
// over Execute that shape the Legs slice operation
// catalog; Commit/Void mutate a held transaction's status in place.

// Credit books an implicit contra-leg against the ledger's world system
// account (or sourceSystemAccount, if given) so a holder-facing single
// credit still lands as a balanced double-entry posting.
func (p *Pipeline) Credit(ctx context.Context, ledgerID, holderID, currency string, amount int64, idemKey, reference string, sourceSystemAccount ...string) (*Result, error) {
	source := p.Systems.World
	if len(sourceSystemAccount) > 0 && sourceSystemAccount[0] != "" {
		source = sourceSystemAccount[0]
	}
	return p.Execute(ctx, Input{
		LedgerID: ledgerID, Type: "credit", IdempotencyKey: idemKey, Reference: reference,
		Legs: []Leg{
			{HolderID: source, Currency: currency, EntryType: EntryDebit, Amount: amount},
			{HolderID: holderID, Currency: currency, EntryType: EntryCredit, Amount: amount},
		},
		EffectiveDate: time.Now().UTC(),
	})
}

// Debit books an implicit contra-leg against the ledger's world system
// account (or destinationSystemAccount, if given). allowOverdraft, when
// supplied, overrides the account's own overdraft policy for this call.
func (p *Pipeline) Debit(ctx context.Context, ledgerID, holderID, currency string, amount int64, idemKey, reference string, destinationSystemAccount string, allowOverdraft ...bool) (*Result, error) {
	dest := p.Systems.World
	if destinationSystemAccount != "" {
		dest = destinationSystemAccount
	}
	in := Input{
		LedgerID: ledgerID, Type: "debit", IdempotencyKey: idemKey, Reference: reference,
		Legs: []Leg{
			{HolderID: holderID, Currency: currency, EntryType: EntryDebit, Amount: amount},
			{HolderID: dest, Currency: currency, EntryType: EntryCredit, Amount: amount},
		},
		EffectiveDate: time.Now().UTC(),
	}
	if len(allowOverdraft) > 0 {
		in.OverdraftOverride = &allowOverdraft[0]
	}
	return p.Execute(ctx, in)
}

// CrossCurrency carries the destination currency and rate for a
// cross-currency Transfer; amount is converted and the original
// amount/currency/rate are recorded on the destination entry.
type CrossCurrency struct {
	DestinationCurrency string
	ExchangeRate        float64
}

// Transfer books both legs against user accounts. With a CrossCurrency
// option, the source amount is routed through the suspense system
// account on both sides of the conversion so each currency's legs still
// net to zero independently.
func (p *Pipeline) Transfer(ctx context.Context, ledgerID, fromHolder, toHolder, currency string, amount int64, idemKey, reference string, cc ...CrossCurrency) (*Result, error) {
	if len(cc) == 0 || cc[0].DestinationCurrency == "" || cc[0].DestinationCurrency == currency {
		return p.Execute(ctx, Input{
			LedgerID: ledgerID, Type: "transfer", IdempotencyKey: idemKey, Reference: reference,
			Legs: []Leg{
				{HolderID: fromHolder, Currency: currency, EntryType: EntryDebit, Amount: amount},
				{HolderID: toHolder, Currency: currency, EntryType: EntryCredit, Amount: amount},
			},
			EffectiveDate: time.Now().UTC(),
		})
	}

	rate := cc[0].ExchangeRate
	if rate <= 0 {
		return nil, ledgererr.InvalidArgument("exchangeRate must be positive for a cross-currency transfer")
	}
	destCurrency := cc[0].DestinationCurrency
	destAmount := int64(float64(amount) * rate)
	if destAmount <= 0 {
		return nil, ledgererr.InvalidArgument("converted amount must be positive")
	}
	suspense := p.Systems.Suspense

	return p.Execute(ctx, Input{
		LedgerID: ledgerID, Type: "transfer", IdempotencyKey: idemKey, Reference: reference,
		Legs: []Leg{
			{HolderID: fromHolder, Currency: currency, EntryType: EntryDebit, Amount: amount},
			{HolderID: suspense, Currency: currency, EntryType: EntryCredit, Amount: amount},
			{HolderID: suspense, Currency: destCurrency, EntryType: EntryDebit, Amount: destAmount},
			{
				HolderID: toHolder, Currency: destCurrency, EntryType: EntryCredit, Amount: destAmount,
				OriginalAmount: amount, OriginalCurrency: currency, ExchangeRate: rate,
			},
		},
		EffectiveDate: time.Now().UTC(),
	})
}

func (p *Pipeline) MultiTransfer(ctx context.Context, ledgerID string, legs []Leg, idemKey, reference string) (*Result, error) {
	return p.Execute(ctx, Input{
		LedgerID: ledgerID, Type: "multi_transfer", IdempotencyKey: idemKey, Reference: reference,
		Legs: legs, EffectiveDate: time.Now().UTC(),
	})
}

// Hold reserves amount against holderID by incrementing its pendingDebit
// without moving balance; destinationHolderID, if given, mirrors a
// pendingCredit onto that holder so the hold is visible on both sides.
func (p *Pipeline) Hold(ctx context.Context, ledgerID, holderID, currency string, amount int64, idemKey, reference string, expiresAt time.Time, destinationHolderID ...string) (*Result, error) {
	legs := []Leg{{HolderID: holderID, Currency: currency, EntryType: EntryDebit, Amount: amount}}
	if len(destinationHolderID) > 0 && destinationHolderID[0] != "" {
		legs = append(legs, Leg{HolderID: destinationHolderID[0], Currency: currency, EntryType: EntryCredit, Amount: amount})
	}
	return p.Execute(ctx, Input{
		LedgerID: ledgerID, Type: "hold", IdempotencyKey: idemKey, Reference: reference,
		Legs: legs, IsHold: true, HoldExpiresAt: &expiresAt, EffectiveDate: time.Now().UTC(),
	})
}

// Refund books the inverse legs of parentID's transaction and links
// back to it via parent_id; the refunded amount cannot exceed the
// original minus whatever has already been refunded.
func (p *Pipeline) Refund(ctx context.Context, ledgerID, parentID string, amount int64, idemKey, reference string) (*Result, error) {
	var result *Result
	err := p.Store.Transaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var origAmount, refunded int64
		var srcHolder, dstHolder, currency string
		err := tx.QueryRow(ctx, fmt.Sprintf(`
			SELECT amount, refunded_amount, source_account_id, destination_account_id, currency
			FROM %s.transaction_record WHERE id = $1
		`, p.Schema), parentID).Scan(&origAmount, &refunded, &srcHolder, &dstHolder, &currency)
		if err != nil {
			return storage.TranslateErr(err)
		}
		if refunded+amount > origAmount {
			return ledgererr.New(ledgererr.CodeInvalidArgument, "refund amount exceeds remaining refundable balance")
		}

		res, err := p.Execute(ctx, Input{
			LedgerID: ledgerID, Type: "refund", IdempotencyKey: idemKey, Reference: reference,
			ParentID: parentID, EffectiveDate: time.Now().UTC(),
			Legs: []Leg{
				{HolderID: dstHolder, Currency: currency, EntryType: EntryDebit, Amount: amount},
				{HolderID: srcHolder, Currency: currency, EntryType: EntryCredit, Amount: amount},
			},
		})
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, fmt.Sprintf(`
			UPDATE %s.transaction_record SET refunded_amount = refunded_amount + $1 WHERE id = $2
		`, p.Schema), amount, parentID)
		if err != nil {
			return storage.TranslateErr(err)
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Commit converts amount of a hold's pending amounts into posted balance
// changes; omitting amount (or passing 0) commits whatever remains
// pending. A partial commit leaves the transaction in status "pending"
// with committed_amount advanced, so a later call can commit the rest.
// Void releases whatever remains pending without posting.
func (p *Pipeline) Commit(ctx context.Context, holdTransactionID string, amount ...int64) error {
	var amt int64
	if len(amount) > 0 {
		amt = amount[0]
	}
	return p.finalizeHold(ctx, holdTransactionID, true, amt)
}

func (p *Pipeline) Void(ctx context.Context, holdTransactionID string) error {
	return p.finalizeHold(ctx, holdTransactionID, false, 0)
}

func (p *Pipeline) finalizeHold(ctx context.Context, holdTransactionID string, commit bool, amount int64) error {
	return p.Store.Transaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var status string
		var committed int64
		err := tx.QueryRow(ctx, fmt.Sprintf(`
			SELECT status, committed_amount FROM %s.transaction_status WHERE transaction_id = $1 FOR UPDATE
		`, p.Schema), holdTransactionID).Scan(&status, &committed)
		if err != nil {
			return storage.TranslateErr(err)
		}
		if status != "pending" {
			return ledgererr.New(ledgererr.CodeConflict, "hold is not pending")
		}

		rows, err := tx.Query(ctx, fmt.Sprintf(`
			SELECT account_id, amount, entry_type FROM %s.entry_record WHERE transaction_id = $1
		`, p.Schema), holdTransactionID)
		if err != nil {
			return storage.TranslateErr(err)
		}
		type pendingLeg struct {
			accountID string
			amount    int64
			entryType string
		}
		var legs []pendingLeg
		for rows.Next() {
			var l pendingLeg
			if err := rows.Scan(&l.accountID, &l.amount, &l.entryType); err != nil {
				rows.Close()
				return storage.TranslateErr(err)
			}
			legs = append(legs, l)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return storage.TranslateErr(err)
		}
		if len(legs) == 0 {
			return ledgererr.New(ledgererr.CodeNotFound, "hold has no legs")
		}

		total := legs[0].amount
		remaining := total - committed
		release := remaining
		if commit && amount > 0 {
			if amount > remaining {
				return ledgererr.InvalidArgument("commit amount exceeds remaining pending hold")
			}
			release = amount
		}

		for _, l := range legs {
			var v account.Version
			var accountRowID string
			err := tx.QueryRow(ctx, fmt.Sprintf(`
				SELECT account_id, version, balance, credit_balance, debit_balance,
				       pending_credit, pending_debit, status, checksum
				FROM %s.account_balance_version WHERE account_id = $1 ORDER BY version DESC LIMIT 1
			`, p.Schema), l.accountID).Scan(&accountRowID, &v.Version, &v.Balance, &v.CreditBalance,
				&v.DebitBalance, &v.PendingCredit, &v.PendingDebit, &v.Status, &v.Checksum)
			if err != nil {
				return storage.TranslateErr(err)
			}
			v.AccountID = accountRowID
			next := v
			next.Version++
			next.ChangeType = "hold-release"
			if l.entryType == string(EntryDebit) {
				next.PendingDebit -= release
				if commit {
					next.Balance -= release
					next.DebitBalance += release
				}
			} else {
				next.PendingCredit -= release
				if commit {
					next.Balance += release
					next.CreditBalance += release
				}
			}
			if err := p.Account.AppendVersion(ctx, tx, next); err != nil {
				return err
			}
		}

		newCommitted := committed
		newStatus := "pending"
		if commit {
			newCommitted += release
			if newCommitted >= total {
				newStatus = "posted"
			}
		} else {
			newStatus = "voided"
		}
		_, err = tx.Exec(ctx, fmt.Sprintf(`
			UPDATE %s.transaction_status SET status = $1, committed_amount = $2, updated_at = now() WHERE transaction_id = $3
		`, p.Schema), newStatus, newCommitted, holdTransactionID)
		return storage.TranslateErr(err)
	})
}

func (p *Pipeline) insertHeader(ctx context.Context, tx pgx.Tx, txnID string, in Input, status string) error {
	var src, dst string
	if len(in.Legs) >= 2 {
		src = firstByType(in.Legs, EntryDebit)
		dst = firstByType(in.Legs, EntryCredit)
	}
	amount := int64(0)
	currency := ""
	if len(in.Legs) > 0 {
		amount = in.Legs[0].Amount
		currency = in.Legs[0].Currency
	}
	_, err := tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.transaction_record (
			id, ledger_id, type, reference, amount, currency, correlation_id,
			source_account_id, destination_account_id, is_hold, hold_expires_at,
			parent_id, is_reversal, effective_date, metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, p.Schema), txnID, in.LedgerID, in.Type, nullStr(in.Reference), amount, currency,
		nullStr(in.CorrelationID), nullStr(src), nullStr(dst), in.IsHold, in.HoldExpiresAt,
		nullStr(in.ParentID), in.Type == "refund", in.EffectiveDate, in.Metadata)
	if err != nil {
		return storage.TranslateErr(err)
	}
	_, err = tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.transaction_status (transaction_id, status) VALUES ($1, $2)
	`, p.Schema), txnID, status)
	return storage.TranslateErr(err)
}

func (p *Pipeline) insertEntry(ctx context.Context, tx pgx.Tx, entryID, txnID, accountID string, leg Leg, before, after, accountVersion, seq int64, prevHash, entryHash string) error {
	_, err := tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.entry_record (
			id, transaction_id, account_id, entry_type, amount, currency,
			original_amount, original_currency, exchange_rate,
			balance_before, balance_after, account_version, sequence_number,
			hash, prev_hash
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, p.Schema), entryID, txnID, accountID, leg.EntryType, leg.Amount, leg.Currency,
		nullZero(leg.OriginalAmount), nullStr(leg.OriginalCurrency), exchangeRateText(leg.ExchangeRate),
		before, after, accountVersion, seq, entryHash, nullStr(prevHash))
	return storage.TranslateErr(err)
}

// latestEntryChainState reads the current tail of the ledger-wide entry
// hash chain under the advisory lock the caller already holds.
func (p *Pipeline) latestEntryChainState(ctx context.Context, tx pgx.Tx, ledgerID string) (int64, string, error) {
	var seq int64
	var hash *string
	err := tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT e.sequence_number, e.hash
		FROM %s.entry_record e
		JOIN %s.transaction_record t ON t.id = e.transaction_id
		WHERE t.ledger_id = $1
		ORDER BY e.sequence_number DESC
		LIMIT 1
	`, p.Schema, p.Schema), ledgerID).Scan(&seq, &hash)
	if err != nil {
		if storage.IsNoRows(err) {
			return 0, "", nil
		}
		return 0, "", storage.TranslateErr(err)
	}
	if hash == nil {
		return seq, "", nil
	}
	return seq, *hash, nil
}

func ledgerChainKey(ledgerID string) int64 {
	sum := sha256Sum(ledgerID + ":entry-chain")
	return sum
}

func nextEntryHash(prevHash, entryID string, leg Leg) string {
	return sha256Hex(fmt.Sprintf("%s|%s|%s|%d|%s", prevHash, entryID, leg.EntryType, leg.Amount, leg.Currency))
}

func (p *Pipeline) lookupIdempotent(ctx context.Context, tx pgx.Tx, ledgerID, key string) (*Result, error) {
	var txnID, status string
	err := tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT transaction_id, status FROM %s.idempotency_key WHERE ledger_id = $1 AND key = $2
	`, p.Schema), ledgerID, key).Scan(&txnID, &status)
	if err != nil {
		return nil, storage.TranslateErr(err)
	}
	rows, err := tx.Query(ctx, fmt.Sprintf(`
		SELECT account_id, id, balance_before, balance_after, account_version
		FROM %s.entry_record WHERE transaction_id = $1 ORDER BY sequence_number ASC
	`, p.Schema), txnID)
	if err != nil {
		return nil, storage.TranslateErr(err)
	}
	defer rows.Close()
	var legs []LegResult
	for rows.Next() {
		var lr LegResult
		if err := rows.Scan(&lr.AccountID, &lr.EntryID, &lr.BalanceBefore, &lr.BalanceAfter, &lr.AccountVersion); err != nil {
			return nil, storage.TranslateErr(err)
		}
		legs = append(legs, lr)
	}
	return &Result{TransactionID: txnID, Status: status, Legs: legs}, rows.Err()
}

func (p *Pipeline) storeIdempotent(ctx context.Context, tx pgx.Tx, ledgerID, key string, result *Result) error {
	_, err := tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.idempotency_key (ledger_id, key, transaction_id) VALUES ($1,$2,$3)
	`, p.Schema), ledgerID, key, result.TransactionID)
	return storage.TranslateErr(err)
}

// validateLegs enforces the double-entry invariant: every leg amount is
// positive, and credits equal debits per currency. A hold is exempt from
// the balance check — it only stages pending counters (balance is
// unchanged until commit), and a hold with no destination holder is
// legitimately a single debit leg with nothing to balance against yet.
func validateLegs(legs []Leg, isHold bool) error {
	if len(legs) == 0 {
		return ledgererr.InvalidArgument("transaction requires at least one leg")
	}
	for _, l := range legs {
		if l.Amount <= 0 {
			return ledgererr.InvalidArgument("leg amount must be positive")
		}
	}
	if isHold {
		return nil
	}
	byCurrency := map[string]int64{}
	for _, l := range legs {
		if l.EntryType == EntryCredit {
			byCurrency[l.Currency] += l.Amount
		} else {
			byCurrency[l.Currency] -= l.Amount
		}
	}
	for currency, sum := range byCurrency {
		if sum != 0 {
			return ledgererr.InvalidArgument(fmt.Sprintf("unbalanced legs for currency %s", currency))
		}
	}
	return nil
}

type holderCurrency struct{ holderID, currency string }

// orderedHolders returns the distinct (holder, currency) pairs sorted
// deterministically so every concurrent transaction acquires account
// locks in the same canonical order, avoiding deadlocks.
func orderedHolders(legs []Leg) []holderCurrency {
	seen := map[string]bool{}
	var out []holderCurrency
	for _, l := range legs {
		k := key(l.HolderID, l.Currency)
		if !seen[k] {
			seen[k] = true
			out = append(out, holderCurrency{l.HolderID, l.Currency})
		}
	}
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && key(out[j-1].holderID, out[j-1].currency) > key(out[j].holderID, out[j].currency) {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out
}

func key(holderID, currency string) string { return holderID + "|" + currency }

func firstByType(legs []Leg, t EntryType) string {
	for _, l := range legs {
		if l.EntryType == t {
			return l.HolderID
		}
	}
	return ""
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullZero(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func exchangeRateText(rate float64) any {
	if rate == 0 {
		return nil
	}
	return fmt.Sprintf("%.8f", rate)
}
