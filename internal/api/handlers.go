// Package api wires the account/txn/chain managers into the
// dispatch package's route table, exposing the ledger's HTTP surface:
// accounts, transfers, holds, balances, and events, all over
// integer minor-unit legs.
package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tishiu/summa/internal/account"
	"github.com/tishiu/summa/internal/auth"
	"github.com/tishiu/summa/internal/chain"
	"github.com/tishiu/summa/internal/dispatch"
	"github.com/tishiu/summa/internal/ledgererr"
	"github.com/tishiu/summa/internal/storage"
	"github.com/tishiu/summa/internal/txn"
)

type Server struct {
	Store    *storage.Store
	Account  *account.Manager
	Pipeline *txn.Pipeline
}

// Register mounts every route under d.
func (s *Server) Register(d *dispatch.Dispatcher) {
	d.Handle("GET", "/ok", s.ok)
	d.Handle("GET", "/health", s.health)

	d.Handle("GET", "/accounts", s.listAccounts)
	d.Handle("POST", "/accounts", s.createAccount)
	d.Handle("GET", "/accounts/:holderId", s.getAccount)
	d.Handle("GET", "/accounts/:holderId/balance", s.getBalance)
	d.Handle("POST", "/accounts/:holderId/freeze", s.freezeAccount)
	d.Handle("POST", "/accounts/:holderId/unfreeze", s.unfreezeAccount)
	d.Handle("POST", "/accounts/:holderId/close", s.closeAccount)

	d.Handle("POST", "/transactions/credit", s.credit)
	d.Handle("POST", "/transactions/debit", s.debit)
	d.Handle("POST", "/transactions/transfer", s.transfer)
	d.Handle("POST", "/transactions/multi-transfer", s.multiTransfer)
	d.Handle("POST", "/transactions/refund", s.refund)
	d.Handle("GET", "/transactions/:id", s.getTransaction)

	d.Handle("POST", "/holds", s.createHold)
	d.Handle("POST", "/holds/:holdId/commit", s.commitHold)
	d.Handle("POST", "/holds/:holdId/void", s.voidHold)

	d.Handle("GET", "/events/:aggregateType/:aggregateId", s.listEvents)
	d.Handle("POST", "/events/verify", s.verifyEvents)
}

func (s *Server) ok(ctx context.Context, req *dispatch.Request, params map[string]string) (*dispatch.Response, error) {
	return jsonResponse(200, map[string]any{"ok": true})
}

func (s *Server) health(ctx context.Context, req *dispatch.Request, params map[string]string) (*dispatch.Response, error) {
	dbOK := s.Store.Pool.Ping(ctx) == nil
	return jsonResponse(200, map[string]any{
		"status":    "ok",
		"checks":    map[string]any{"database": dbOK, "schema": s.Store.Schema},
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) ledgerID(ctx context.Context, req *dispatch.Request) (string, error) {
	if p, err := auth.FromContext(ctx); err == nil {
		return p.LedgerID, nil
	}
	if v := req.Headers["X-Ledger-Id"]; v != "" {
		return v, nil
	}
	return "", ledgererr.InvalidArgument("missing X-Ledger-Id")
}

func (s *Server) createAccount(ctx context.Context, req *dispatch.Request, params map[string]string) (*dispatch.Response, error) {
	var body struct {
		HolderID   string         `json:"holderId"`
		HolderType string         `json:"holderType"`
		Currency   string         `json:"currency"`
		Metadata   map[string]any `json:"metadata"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return nil, ledgererr.InvalidArgument("invalid request body")
	}
	ledgerID, err := s.ledgerID(ctx, req)
	if err != nil {
		return nil, err
	}
	if body.Currency == "" {
		body.Currency = "USD"
	}

	var wv *account.WithVersion
	txErr := s.Store.Transaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		created, cerr := s.Account.CreateAccount(ctx, tx, nil, account.CreateInput{
			LedgerID: ledgerID, HolderID: body.HolderID, HolderType: body.HolderType,
			Currency: body.Currency, AccountType: "asset",
		})
		if cerr != nil {
			return cerr
		}
		wv = created
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return jsonResponse(201, accountView(wv))
}

func (s *Server) getAccount(ctx context.Context, req *dispatch.Request, params map[string]string) (*dispatch.Response, error) {
	ledgerID, err := s.ledgerID(ctx, req)
	if err != nil {
		return nil, err
	}
	wv, err := s.Account.ResolveReadOnly(ctx, s.Store.Pool, ledgerID, params["holderId"], defaultCurrency(req))
	if err != nil {
		return nil, err
	}
	return jsonResponse(200, accountView(wv))
}

func (s *Server) getBalance(ctx context.Context, req *dispatch.Request, params map[string]string) (*dispatch.Response, error) {
	ledgerID, err := s.ledgerID(ctx, req)
	if err != nil {
		return nil, err
	}
	wv, err := s.Account.ResolveReadOnly(ctx, s.Store.Pool, ledgerID, params["holderId"], defaultCurrency(req))
	if err != nil {
		return nil, err
	}
	var asOf *time.Time
	if v := firstQuery(req, "asOf"); v != "" {
		if t, perr := time.Parse(time.RFC3339, v); perr == nil {
			asOf = &t
		}
	}
	balance, err := s.Account.GetBalance(ctx, s.Store.Pool, wv.Account.ID, asOf)
	if err != nil {
		return nil, err
	}
	return jsonResponse(200, map[string]any{
		"accountId": wv.Account.ID, "balance": balance, "currency": wv.Account.Currency, "asOf": asOf,
	})
}

func (s *Server) freezeAccount(ctx context.Context, req *dispatch.Request, params map[string]string) (*dispatch.Response, error) {
	var body struct {
		Reason   string `json:"reason"`
		FrozenBy string `json:"frozenBy"`
	}
	_ = json.Unmarshal(req.Body, &body)
	return s.transitionAccount(ctx, req, params, func(tx pgx.Tx, wv *account.WithVersion) (*account.WithVersion, error) {
		return s.Account.Freeze(ctx, tx, wv, body.Reason, body.FrozenBy)
	})
}

func (s *Server) unfreezeAccount(ctx context.Context, req *dispatch.Request, params map[string]string) (*dispatch.Response, error) {
	return s.transitionAccount(ctx, req, params, func(tx pgx.Tx, wv *account.WithVersion) (*account.WithVersion, error) {
		return s.Account.Unfreeze(ctx, tx, wv)
	})
}

// closeAccount sweeps any non-zero balance to transferToHolderId before
// closing, in the same transaction: a transfer from (or to, if the
// balance is negative) this holder, then the close version.
func (s *Server) closeAccount(ctx context.Context, req *dispatch.Request, params map[string]string) (*dispatch.Response, error) {
	var body struct {
		Reason             string `json:"reason"`
		ClosedBy           string `json:"closedBy"`
		TransferToHolderID string `json:"transferToHolderId"`
	}
	_ = json.Unmarshal(req.Body, &body)

	ledgerID, err := s.ledgerID(ctx, req)
	if err != nil {
		return nil, err
	}
	currency := defaultCurrency(req)

	var result *account.WithVersion
	txErr := s.Store.Transaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		wv, rerr := s.Account.ResolveForUpdate(ctx, tx, ledgerID, params["holderId"], currency, s.Account.DefaultLockMode())
		if rerr != nil {
			return rerr
		}
		if wv.Version.Balance != 0 {
			if body.TransferToHolderID == "" {
				return ledgererr.InvalidArgument("account has a non-zero balance; transferToHolderId is required to close it")
			}
			var terr error
			if wv.Version.Balance > 0 {
				_, terr = s.Pipeline.Transfer(ctx, ledgerID, wv.Account.HolderID, body.TransferToHolderID, currency, wv.Version.Balance, "", "account-close-sweep")
			} else {
				_, terr = s.Pipeline.Transfer(ctx, ledgerID, body.TransferToHolderID, wv.Account.HolderID, currency, -wv.Version.Balance, "", "account-close-sweep")
			}
			if terr != nil {
				return terr
			}
			wv, rerr = s.Account.ResolveForUpdate(ctx, tx, ledgerID, params["holderId"], currency, s.Account.DefaultLockMode())
			if rerr != nil {
				return rerr
			}
		}
		closed, cerr := s.Account.Close(ctx, tx, wv, body.Reason, body.ClosedBy)
		if cerr != nil {
			return cerr
		}
		result = closed
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return jsonResponse(200, accountView(result))
}

func (s *Server) transitionAccount(ctx context.Context, req *dispatch.Request, params map[string]string, fn func(pgx.Tx, *account.WithVersion) (*account.WithVersion, error)) (*dispatch.Response, error) {
	ledgerID, err := s.ledgerID(ctx, req)
	if err != nil {
		return nil, err
	}
	var result *account.WithVersion
	txErr := s.Store.Transaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		wv, rerr := s.Account.ResolveForUpdate(ctx, tx, ledgerID, params["holderId"], defaultCurrency(req), s.Account.DefaultLockMode())
		if rerr != nil {
			return rerr
		}
		updated, ferr := fn(tx, wv)
		if ferr != nil {
			return ferr
		}
		result = updated
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return jsonResponse(200, accountView(result))
}

func (s *Server) listAccounts(ctx context.Context, req *dispatch.Request, params map[string]string) (*dispatch.Response, error) {
	ledgerID, err := s.ledgerID(ctx, req)
	if err != nil {
		return nil, err
	}
	limit := ValidateLimit(queryInt(req, "limit", 100))
	apiCursor, _ := DecodeCursor(firstQuery(req, "cursor"))
	cursor := account.Cursor{Timestamp: apiCursor.Timestamp, ID: apiCursor.ID}
	items, hasMore, err := s.Account.List(ctx, s.Store.Pool, ledgerID, firstQuery(req, "status"), firstQuery(req, "holderType"), cursor, limit)
	if err != nil {
		return nil, err
	}
	resp := map[string]any{"accounts": items, "hasMore": hasMore}
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		if tok, cerr := EncodeCursor(Cursor{Timestamp: last.CreatedAt, ID: last.ID}); cerr == nil {
			resp["nextCursor"] = tok
		}
	}
	return jsonResponse(200, resp)
}

func (s *Server) credit(ctx context.Context, req *dispatch.Request, params map[string]string) (*dispatch.Response, error) {
	var body struct {
		txnRequestBody
		SourceSystemAccount string `json:"sourceSystemAccount"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return nil, ledgererr.InvalidArgument("invalid request body")
	}
	ledgerID, err := s.ledgerID(ctx, req)
	if err != nil {
		return nil, err
	}
	result, err := s.Pipeline.Credit(ctx, ledgerID, body.HolderID, defaultCurrency(req), body.Amount, body.IdempotencyKey, body.Reference, body.SourceSystemAccount)
	if err != nil {
		return nil, err
	}
	return jsonResponse(201, result)
}

func (s *Server) debit(ctx context.Context, req *dispatch.Request, params map[string]string) (*dispatch.Response, error) {
	var body struct {
		txnRequestBody
		DestinationSystemAccount string `json:"destinationSystemAccount"`
		AllowOverdraft           *bool  `json:"allowOverdraft"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return nil, ledgererr.InvalidArgument("invalid request body")
	}
	ledgerID, err := s.ledgerID(ctx, req)
	if err != nil {
		return nil, err
	}
	var result *txn.Result
	if body.AllowOverdraft != nil {
		result, err = s.Pipeline.Debit(ctx, ledgerID, body.HolderID, defaultCurrency(req), body.Amount, body.IdempotencyKey, body.Reference, body.DestinationSystemAccount, *body.AllowOverdraft)
	} else {
		result, err = s.Pipeline.Debit(ctx, ledgerID, body.HolderID, defaultCurrency(req), body.Amount, body.IdempotencyKey, body.Reference, body.DestinationSystemAccount)
	}
	if err != nil {
		return nil, err
	}
	return jsonResponse(201, result)
}

func (s *Server) transfer(ctx context.Context, req *dispatch.Request, params map[string]string) (*dispatch.Response, error) {
	var body struct {
		SourceHolderID      string  `json:"sourceHolderId"`
		DestinationHolderID string  `json:"destinationHolderId"`
		Amount              int64   `json:"amount"`
		Reference           string  `json:"reference"`
		IdempotencyKey      string  `json:"idempotencyKey"`
		DestinationCurrency string  `json:"destinationCurrency"`
		ExchangeRate        float64 `json:"exchangeRate"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return nil, ledgererr.InvalidArgument("invalid request body")
	}
	ledgerID, err := s.ledgerID(ctx, req)
	if err != nil {
		return nil, err
	}
	var cc []txn.CrossCurrency
	if body.DestinationCurrency != "" {
		cc = append(cc, txn.CrossCurrency{DestinationCurrency: body.DestinationCurrency, ExchangeRate: body.ExchangeRate})
	}
	result, err := s.Pipeline.Transfer(ctx, ledgerID, body.SourceHolderID, body.DestinationHolderID, defaultCurrency(req), body.Amount, body.IdempotencyKey, body.Reference, cc...)
	if err != nil {
		return nil, err
	}
	return jsonResponse(201, result)
}

func (s *Server) multiTransfer(ctx context.Context, req *dispatch.Request, params map[string]string) (*dispatch.Response, error) {
	var body struct {
		SourceHolderID string `json:"sourceHolderId"`
		Amount         int64  `json:"amount"`
		Destinations   []struct {
			HolderID string `json:"holderId"`
			Amount   int64  `json:"amount"`
		} `json:"destinations"`
		Reference      string `json:"reference"`
		IdempotencyKey string `json:"idempotencyKey"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return nil, ledgererr.InvalidArgument("invalid request body")
	}
	ledgerID, err := s.ledgerID(ctx, req)
	if err != nil {
		return nil, err
	}
	currency := defaultCurrency(req)
	legs := []txn.Leg{{HolderID: body.SourceHolderID, Currency: currency, EntryType: txn.EntryDebit, Amount: body.Amount}}
	for _, d := range body.Destinations {
		legs = append(legs, txn.Leg{HolderID: d.HolderID, Currency: currency, EntryType: txn.EntryCredit, Amount: d.Amount})
	}
	result, err := s.Pipeline.MultiTransfer(ctx, ledgerID, legs, body.IdempotencyKey, body.Reference)
	if err != nil {
		return nil, err
	}
	return jsonResponse(201, result)
}

func (s *Server) refund(ctx context.Context, req *dispatch.Request, params map[string]string) (*dispatch.Response, error) {
	var body struct {
		TransactionID  string `json:"transactionId"`
		Amount         int64  `json:"amount"`
		Reason         string `json:"reason"`
		IdempotencyKey string `json:"idempotencyKey"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return nil, ledgererr.InvalidArgument("invalid request body")
	}
	ledgerID, err := s.ledgerID(ctx, req)
	if err != nil {
		return nil, err
	}
	result, err := s.Pipeline.Refund(ctx, ledgerID, body.TransactionID, body.Amount, body.IdempotencyKey, body.Reason)
	if err != nil {
		return nil, err
	}
	return jsonResponse(201, result)
}

func (s *Server) getTransaction(ctx context.Context, req *dispatch.Request, params map[string]string) (*dispatch.Response, error) {
	return s.fetchTransactionWithEntries(ctx, params["id"])
}

func (s *Server) createHold(ctx context.Context, req *dispatch.Request, params map[string]string) (*dispatch.Response, error) {
	var body struct {
		HolderID            string `json:"holderId"`
		DestinationHolderID string `json:"destinationHolderId"`
		Amount              int64  `json:"amount"`
		ExpiresInMinutes    int    `json:"expiresInMinutes"`
		Reference           string `json:"reference"`
		IdempotencyKey      string `json:"idempotencyKey"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return nil, ledgererr.InvalidArgument("invalid request body")
	}
	ledgerID, err := s.ledgerID(ctx, req)
	if err != nil {
		return nil, err
	}
	if body.ExpiresInMinutes <= 0 {
		body.ExpiresInMinutes = 60
	}
	expiresAt := time.Now().UTC().Add(time.Duration(body.ExpiresInMinutes) * time.Minute)
	result, err := s.Pipeline.Hold(ctx, ledgerID, body.HolderID, defaultCurrency(req), body.Amount, body.IdempotencyKey, body.Reference, expiresAt, body.DestinationHolderID)
	if err != nil {
		return nil, err
	}
	return jsonResponse(201, result)
}

func (s *Server) commitHold(ctx context.Context, req *dispatch.Request, params map[string]string) (*dispatch.Response, error) {
	var body struct {
		Amount int64 `json:"amount"`
	}
	_ = json.Unmarshal(req.Body, &body)
	var err error
	if body.Amount > 0 {
		err = s.Pipeline.Commit(ctx, params["holdId"], body.Amount)
	} else {
		err = s.Pipeline.Commit(ctx, params["holdId"])
	}
	if err != nil {
		return nil, err
	}
	return s.fetchTransactionWithEntries(ctx, params["holdId"])
}

func (s *Server) voidHold(ctx context.Context, req *dispatch.Request, params map[string]string) (*dispatch.Response, error) {
	if err := s.Pipeline.Void(ctx, params["holdId"]); err != nil {
		return nil, err
	}
	return jsonResponse(200, map[string]any{"id": params["holdId"], "status": "voided"})
}

func (s *Server) listEvents(ctx context.Context, req *dispatch.Request, params map[string]string) (*dispatch.Response, error) {
	events, err := chain.ListEvents(ctx, s.Store.Pool, s.Store.Schema, params["aggregateType"], params["aggregateId"])
	if err != nil {
		return nil, err
	}
	return jsonResponse(200, map[string]any{"events": events})
}

func (s *Server) verifyEvents(ctx context.Context, req *dispatch.Request, params map[string]string) (*dispatch.Response, error) {
	var body struct {
		AggregateType string `json:"aggregateType"`
		AggregateID   string `json:"aggregateId"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return nil, ledgererr.InvalidArgument("invalid request body")
	}
	result, err := chain.VerifyHashChain(ctx, s.Store.Pool, s.Store.Schema, body.AggregateType, body.AggregateID)
	if err != nil {
		return nil, err
	}
	return jsonResponse(200, result)
}
