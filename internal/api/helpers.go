package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/tishiu/summa/internal/account"
	"github.com/tishiu/summa/internal/dispatch"
	"github.com/tishiu/summa/internal/storage"
)

type txnRequestBody struct {
	HolderID       string `json:"holderId"`
	Amount         int64  `json:"amount"`
	Reference      string `json:"reference"`
	Description    string `json:"description"`
	IdempotencyKey string `json:"idempotencyKey"`
}

func jsonResponse(status int, v any) (*dispatch.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &dispatch.Response{
		Status:  status,
		Body:    body,
		Headers: map[string]string{"Content-Type": "application/json"},
	}, nil
}

func accountView(wv *account.WithVersion) map[string]any {
	v := map[string]any{
		"id":         wv.Account.ID,
		"holderId":   wv.Account.HolderID,
		"holderType": wv.Account.HolderType,
		"currency":   wv.Account.Currency,
		"status":     wv.Version.Status,
		"balance":    wv.Version.Balance,
		"version":    wv.Version.Version,
		"createdAt":  wv.Account.CreatedAt,
	}
	if wv.Version.FreezeReason != "" {
		v["freezeReason"] = wv.Version.FreezeReason
		v["frozenBy"] = wv.Version.FreezeWho
		v["frozenAt"] = wv.Version.FreezeWhen
	}
	if wv.Version.ClosedReason != "" {
		v["closedReason"] = wv.Version.ClosedReason
		v["closedBy"] = wv.Version.ClosedWho
		v["closedAt"] = wv.Version.ClosedWhen
	}
	return v
}

func defaultCurrency(req *dispatch.Request) string {
	if v := firstQuery(req, "currency"); v != "" {
		return v
	}
	return "USD"
}

func firstQuery(req *dispatch.Request, key string) string {
	if req.Query == nil {
		return ""
	}
	if vs, ok := req.Query[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func queryInt(req *dispatch.Request, key string, def int) int {
	v := firstQuery(req, key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (s *Server) fetchTransactionWithEntries(ctx context.Context, transactionID string) (*dispatch.Response, error) {
	var header struct {
		ID            string    `json:"id"`
		Type          string    `json:"type"`
		Reference     string    `json:"reference"`
		Amount        int64     `json:"amount"`
		Currency      string    `json:"currency"`
		Status        string    `json:"status"`
		EffectiveDate time.Time `json:"effectiveDate"`
	}
	err := s.Store.Pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT t.id, t.type, COALESCE(t.reference,''), t.amount, t.currency, st.status, t.effective_date
		FROM %s.transaction_record t
		JOIN %s.transaction_status st ON st.transaction_id = t.id
		WHERE t.id = $1
	`, s.Store.Schema, s.Store.Schema), transactionID).Scan(
		&header.ID, &header.Type, &header.Reference, &header.Amount, &header.Currency, &header.Status, &header.EffectiveDate)
	if err != nil {
		return nil, storage.TranslateErr(err)
	}

	rows, err := s.Store.Pool.Query(ctx, fmt.Sprintf(`
		SELECT account_id, entry_type, amount, balance_before, balance_after
		FROM %s.entry_record WHERE transaction_id = $1 ORDER BY sequence_number ASC
	`, s.Store.Schema), transactionID)
	if err != nil {
		return nil, storage.TranslateErr(err)
	}
	defer rows.Close()

	type entryView struct {
		AccountID     string `json:"accountId"`
		EntryType     string `json:"entryType"`
		Amount        int64  `json:"amount"`
		BalanceBefore int64  `json:"balanceBefore"`
		BalanceAfter  int64  `json:"balanceAfter"`
	}
	var entries []entryView
	for rows.Next() {
		var e entryView
		if err := rows.Scan(&e.AccountID, &e.EntryType, &e.Amount, &e.BalanceBefore, &e.BalanceAfter); err != nil {
			return nil, storage.TranslateErr(err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.TranslateErr(err)
	}

	return jsonResponse(200, map[string]any{"transaction": header, "entries": entries})
}
