package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tishiu/summa/internal/auth"
	"github.com/tishiu/summa/internal/config"
)

type AuthHandler struct {
	DB     *pgxpool.Pool
	Schema string
	Config *config.Config
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UserResponse struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
}

// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		http.Error(w, "failed to hash password", http.StatusInternalServerError)
		return
	}

	tx, err := h.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		http.Error(w, "failed to begin transaction", http.StatusInternalServerError)
		return
	}
	defer tx.Rollback(ctx)

	var userID string
	err = tx.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s.app_user (email, password_hash)
		VALUES ($1, $2)
		RETURNING id
	`, h.Schema), req.Email, passwordHash).Scan(&userID)
	if err != nil {
		http.Error(w, "email already exists", http.StatusConflict)
		return
	}

	var orgID string
	orgName := req.Email
	if atIndex := strings.Index(req.Email, "@"); atIndex > 0 {
		orgName = req.Email[:atIndex] + "'s Organization"
	}
	err = tx.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s.organization (name)
		VALUES ($1)
		RETURNING id
	`, h.Schema), orgName).Scan(&orgID)
	if err != nil {
		http.Error(w, "failed to create organization", http.StatusInternalServerError)
		return
	}

	_, err = tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.org_user (organization_id, user_id, role)
		VALUES ($1, $2, 'owner')
	`, h.Schema), orgID, userID)
	if err != nil {
		http.Error(w, "failed to link user to organization", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit transaction", http.StatusInternalServerError)
		return
	}

	token, err := auth.GenerateJWT(userID, orgID, h.Config.SessionTimeout, h.Config.JWTSecret)
	if err != nil {
		http.Error(w, "failed to generate token", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   false,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.Config.SessionTimeout.Seconds()),
	})

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{
		"user_id":         userID,
		"organization_id": orgID,
	})
}

// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var userID, passwordHash, orgID string
	err := h.DB.QueryRow(ctx, fmt.Sprintf(`
		SELECT u.id, u.password_hash, o.id
		FROM %s.app_user u
		JOIN %s.org_user ou ON ou.user_id = u.id
		JOIN %s.organization o ON o.id = ou.organization_id
		WHERE u.email = $1
		LIMIT 1
	`, h.Schema, h.Schema, h.Schema), req.Email).Scan(&userID, &passwordHash, &orgID)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	if err := auth.CheckPassword(passwordHash, req.Password); err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateJWT(userID, orgID, h.Config.SessionTimeout, h.Config.JWTSecret)
	if err != nil {
		http.Error(w, "failed to generate token", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   false,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.Config.SessionTimeout.Seconds()),
	})

	w.WriteHeader(http.StatusNoContent)
}

// GET /api/auth/me
func (h *AuthHandler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cookie, err := r.Cookie("session")
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	claims, err := auth.ValidateJWT(cookie.Value, h.Config.JWTSecret)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var user UserResponse
	err = h.DB.QueryRow(ctx, fmt.Sprintf(`
		SELECT u.id, u.email, ou.organization_id, ou.role
		FROM %s.app_user u
		JOIN %s.org_user ou ON ou.user_id = u.id
		WHERE u.id = $1 AND ou.organization_id = $2
	`, h.Schema, h.Schema), claims.UserID, claims.OrgID).Scan(&user.ID, &user.Email, &user.OrganizationID, &user.Role)
	if err != nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}
