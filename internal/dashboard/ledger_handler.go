package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tishiu/summa/internal/auth"
)

type LedgerHandler struct {
	DB        *pgxpool.Pool
	Schema    string
	JWTSecret []byte
}

type LedgerResponse struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Code      string `json:"code"`
	Currency  string `json:"currency"`
	CreatedAt string `json:"created_at"`
}

type CreateLedgerRequest struct {
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Code      string `json:"code"`
	Currency  string `json:"currency"`
}

func (h *LedgerHandler) claims(r *http.Request) (*auth.Claims, error) {
	cookie, err := r.Cookie("session")
	if err != nil {
		return nil, err
	}
	return auth.ValidateJWT(cookie.Value, h.JWTSecret)
}

// GET /api/ledgers - list every ledger in the caller's organization
func (h *LedgerHandler) ListLedgers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, err := h.claims(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	rows, err := h.DB.Query(ctx, fmt.Sprintf(`
		SELECT l.id, l.project_id, l.name, l.code, l.currency, l.created_at
		FROM %s.ledger l
		JOIN %s.project p ON p.id = l.project_id
		WHERE p.organization_id = $1
		ORDER BY l.created_at DESC
	`, h.Schema, h.Schema), claims.OrgID)
	if err != nil {
		http.Error(w, "failed to query ledgers", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	ledgers := []LedgerResponse{}
	for rows.Next() {
		var ledger LedgerResponse
		var code, currency *string
		if err := rows.Scan(&ledger.ID, &ledger.ProjectID, &ledger.Name, &code, &currency, &ledger.CreatedAt); err != nil {
			http.Error(w, "failed to scan ledger", http.StatusInternalServerError)
			return
		}
		if code != nil {
			ledger.Code = *code
		}
		if currency != nil {
			ledger.Currency = *currency
		}
		ledgers = append(ledgers, ledger)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ledgers)
}

// GET /api/ledgers?id=...
func (h *LedgerHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, err := h.claims(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ledgerID := r.URL.Query().Get("id")
	if ledgerID == "" {
		http.Error(w, "ledger id required", http.StatusBadRequest)
		return
	}

	var ledger LedgerResponse
	var code, currency *string
	err = h.DB.QueryRow(ctx, fmt.Sprintf(`
		SELECT l.id, l.project_id, l.name, l.code, l.currency, l.created_at
		FROM %s.ledger l
		JOIN %s.project p ON p.id = l.project_id
		WHERE l.id = $1 AND p.organization_id = $2
	`, h.Schema, h.Schema), ledgerID, claims.OrgID).Scan(&ledger.ID, &ledger.ProjectID, &ledger.Name, &code, &currency, &ledger.CreatedAt)
	if err != nil {
		http.Error(w, "ledger not found", http.StatusNotFound)
		return
	}
	if code != nil {
		ledger.Code = *code
	}
	if currency != nil {
		ledger.Currency = *currency
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ledger)
}

// POST /api/ledgers
func (h *LedgerHandler) CreateLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, err := h.claims(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req CreateLedgerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var projectOrgID string
	err = h.DB.QueryRow(ctx, fmt.Sprintf(`
		SELECT organization_id FROM %s.project WHERE id = $1
	`, h.Schema), req.ProjectID).Scan(&projectOrgID)
	if err != nil || projectOrgID != claims.OrgID {
		http.Error(w, "project not found", http.StatusNotFound)
		return
	}

	var ledgerID string
	err = h.DB.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s.ledger (project_id, name, code, currency)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, h.Schema), req.ProjectID, req.Name, req.Code, req.Currency).Scan(&ledgerID)
	if err != nil {
		http.Error(w, "failed to create ledger", http.StatusInternalServerError)
		return
	}

	resp := map[string]string{
		"id":         ledgerID,
		"project_id": req.ProjectID,
		"name":       req.Name,
		"code":       req.Code,
		"currency":   req.Currency,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}
