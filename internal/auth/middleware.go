package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tishiu/summa/internal/dispatch"
	"github.com/tishiu/summa/internal/ledgererr"
)

type Principal struct {
	APIKeyID       string
	OrganizationID string
	ProjectID      string
	LedgerID       string
}

type contextKey string

const principalKey contextKey = "principal"

type Middleware struct {
	DB           *pgxpool.Pool
	Schema       string
	APIKeySecret []byte
}

// AuthHook is a dispatch.Hook: it resolves the bearer token to a
// Principal and stashes it on the request context. The dispatcher owns
// auth as a pre-dispatch hook rather than a net/http middleware chain.
func (m *Middleware) AuthHook() dispatch.Hook {
	return func(ctx context.Context, req *dispatch.Request) (context.Context, error) {
		raw := req.Headers["Authorization"]
		if raw == "" {
			return ctx, ledgererr.New(ledgererr.CodeInvalidArgument, "missing authorization header")
		}

		parts := strings.SplitN(raw, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return ctx, ledgererr.New(ledgererr.CodeInvalidArgument, "invalid authorization header")
		}

		apiKey := strings.TrimSpace(parts[1])
		if apiKey == "" {
			return ctx, ledgererr.New(ledgererr.CodeInvalidArgument, "invalid api key")
		}

		keyHash, err := ComputeKeyHash(m.APIKeySecret, apiKey)
		if err != nil {
			return ctx, ledgererr.New(ledgererr.CodeInvalidArgument, "invalid api key")
		}

		row := m.DB.QueryRow(ctx, fmt.Sprintf(`
			SELECT k.id, l.id, p.id, o.id
			FROM %s.api_key k
			JOIN %s.ledger l ON l.id = k.ledger_id
			JOIN %s.project p ON p.id = l.project_id
			JOIN %s.organization o ON o.id = p.organization_id
			WHERE k.key_hash = $1
			  AND k.is_active = true
			  AND k.revoked_at IS NULL
		`, m.Schema, m.Schema, m.Schema, m.Schema), keyHash)

		var principal Principal
		if err := row.Scan(&principal.APIKeyID, &principal.LedgerID, &principal.ProjectID, &principal.OrganizationID); err != nil {
			return ctx, ledgererr.New(ledgererr.CodeInvalidArgument, "invalid api key")
		}

		return context.WithValue(ctx, principalKey, principal), nil
	}
}

func FromContext(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok {
		return Principal{}, errors.New("missing principal")
	}
	return p, nil
}

func ComputeKeyHash(secret []byte, key string) (string, error) {
	h := hmac.New(sha256.New, secret)
	_, err := h.Write([]byte(key))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}
