package dashboard

import (
	"encoding/base32"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tishiu/summa/internal/auth"
)

type APIKeyHandler struct {
	DB           *pgxpool.Pool
	Schema       string
	JWTSecret    []byte
	APIKeySecret []byte
}

type APIKeyResponse struct {
	ID          string `json:"id"`
	Prefix      string `json:"prefix"`
	Description string `json:"description"`
	IsActive    bool   `json:"is_active"`
	CreatedAt   string `json:"created_at"`
	RevokedAt   string `json:"revoked_at,omitempty"`
}

type CreateAPIKeyRequest struct {
	Description string `json:"description"`
}

type CreateAPIKeyResponse struct {
	ID          string `json:"id"`
	RawKey      string `json:"raw_key"`
	Prefix      string `json:"prefix"`
	Description string `json:"description"`
}

func (h *APIKeyHandler) claims(r *http.Request) (*auth.Claims, error) {
	cookie, err := r.Cookie("session")
	if err != nil {
		return nil, err
	}
	return auth.ValidateJWT(cookie.Value, h.JWTSecret)
}

// GET /api/ledgers/api-keys?ledger_id=...
func (h *APIKeyHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, err := h.claims(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ledgerID := r.URL.Query().Get("ledger_id")
	if ledgerID == "" {
		http.Error(w, "ledger_id required", http.StatusBadRequest)
		return
	}

	var projectOrgID string
	err = h.DB.QueryRow(ctx, fmt.Sprintf(`
		SELECT p.organization_id
		FROM %s.ledger l
		JOIN %s.project p ON p.id = l.project_id
		WHERE l.id = $1
	`, h.Schema, h.Schema), ledgerID).Scan(&projectOrgID)
	if err != nil || projectOrgID != claims.OrgID {
		http.Error(w, "ledger not found", http.StatusNotFound)
		return
	}

	rows, err := h.DB.Query(ctx, fmt.Sprintf(`
		SELECT id, prefix, description, is_active, created_at, revoked_at
		FROM %s.api_key
		WHERE ledger_id = $1
		ORDER BY created_at DESC
	`, h.Schema), ledgerID)
	if err != nil {
		http.Error(w, "failed to query api keys", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	keys := []APIKeyResponse{}
	for rows.Next() {
		var key APIKeyResponse
		var description, revokedAt *string
		if err := rows.Scan(&key.ID, &key.Prefix, &description, &key.IsActive, &key.CreatedAt, &revokedAt); err != nil {
			http.Error(w, "failed to scan api key", http.StatusInternalServerError)
			return
		}
		if description != nil {
			key.Description = *description
		}
		if revokedAt != nil {
			key.RevokedAt = *revokedAt
		}
		keys = append(keys, key)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(keys)
}

// POST /api/ledgers/api-keys?ledger_id=...
func (h *APIKeyHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, err := h.claims(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ledgerID := r.URL.Query().Get("ledger_id")
	if ledgerID == "" {
		http.Error(w, "ledger_id required", http.StatusBadRequest)
		return
	}

	var projectOrgID string
	err = h.DB.QueryRow(ctx, fmt.Sprintf(`
		SELECT p.organization_id
		FROM %s.ledger l
		JOIN %s.project p ON p.id = l.project_id
		WHERE l.id = $1
	`, h.Schema, h.Schema), ledgerID).Scan(&projectOrgID)
	if err != nil || projectOrgID != claims.OrgID {
		http.Error(w, "ledger not found", http.StatusNotFound)
		return
	}

	var req CreateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	rawKey, err := generateAPIKey()
	if err != nil {
		http.Error(w, "failed to generate api key", http.StatusInternalServerError)
		return
	}

	keyHash, err := auth.ComputeKeyHash(h.APIKeySecret, rawKey)
	if err != nil {
		http.Error(w, "failed to hash api key", http.StatusInternalServerError)
		return
	}

	prefix := rawKey[:10]

	var keyID string
	err = h.DB.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s.api_key (ledger_id, key_hash, prefix, description, is_active)
		VALUES ($1, $2, $3, $4, true)
		RETURNING id
	`, h.Schema), ledgerID, keyHash, prefix, req.Description).Scan(&keyID)
	if err != nil {
		http.Error(w, "failed to create api key", http.StatusInternalServerError)
		return
	}

	resp := CreateAPIKeyResponse{
		ID:          keyID,
		RawKey:      rawKey,
		Prefix:      prefix,
		Description: req.Description,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

// POST /api/api-keys/revoke?id=...
func (h *APIKeyHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, err := h.claims(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	keyID := r.URL.Query().Get("id")
	if keyID == "" {
		http.Error(w, "key id required", http.StatusBadRequest)
		return
	}

	var projectOrgID string
	err = h.DB.QueryRow(ctx, fmt.Sprintf(`
		SELECT p.organization_id
		FROM %s.api_key k
		JOIN %s.ledger l ON l.id = k.ledger_id
		JOIN %s.project p ON p.id = l.project_id
		WHERE k.id = $1
	`, h.Schema, h.Schema, h.Schema), keyID).Scan(&projectOrgID)
	if err != nil || projectOrgID != claims.OrgID {
		http.Error(w, "api key not found", http.StatusNotFound)
		return
	}

	_, err = h.DB.Exec(ctx, fmt.Sprintf(`
		UPDATE %s.api_key
		SET is_active = false, revoked_at = now()
		WHERE id = $1
	`, h.Schema), keyID)
	if err != nil {
		http.Error(w, "failed to revoke api key", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func generateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	encoded := base32.StdEncoding.EncodeToString(b)
	encoded = strings.TrimRight(encoded, "=")
	return "sk_live_" + strings.ToLower(encoded), nil
}
