package handler

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/captchad/captchad/internal/model"
	"github.com/captchad/captchad/internal/server/middleware"
	"github.com/captchad/captchad/internal/service"
	"github.com/captchad/captchad/internal/store"
)

// AdminHandler manages admin sessions and token CRUD. All token mutations go
// through the token service, which keeps the store, cache, limiter, and
// usage accumulator consistent.
type AdminHandler struct {
	tokens   *service.Tokens
	sessions *service.SessionStore
	username string
	password string
}

// NewAdminHandler creates an AdminHandler with the configured admin
// credentials.
func NewAdminHandler(tokens *service.Tokens, sessions *service.SessionStore, username, password string) *AdminHandler {
	return &AdminHandler{
		tokens:   tokens,
		sessions: sessions,
		username: username,
		password: password,
	}
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates the admin and sets the session cookie.
// POST /api/admin/login
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.password)) == 1
	if !userOK || !passOK {
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	id := h.sessions.Create()
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.sessions.TTL().Seconds()),
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// Logout revokes the current session and clears the cookie.
// POST /api/admin/logout
func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookie); err == nil {
		h.sessions.Revoke(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// ---------------------------------------------------------------------------
// Token CRUD
// ---------------------------------------------------------------------------

type tokenCreateRequest struct {
	Token       string `json:"token"`
	Name        string `json:"name"`
	MinuteLimit *int64 `json:"minute_limit"`
	HourLimit   *int64 `json:"hour_limit"`
}

type tokenUpdateRequest struct {
	TokenID     int64   `json:"token_id"`
	Token       *string `json:"token"`
	Name        *string `json:"name"`
	MinuteLimit *int64  `json:"minute_limit"`
	HourLimit   *int64  `json:"hour_limit"`
}

// CreateToken creates a token. An empty value means generate one; the full
// secret is returned once in the response.
// POST /api/admin/token
func (h *AdminHandler) CreateToken(w http.ResponseWriter, r *http.Request) {
	var req tokenCreateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	tok, err := h.tokens.Create(r.Context(), req.Token, req.Name, req.MinuteLimit, req.HourLimit)
	if err != nil {
		h.writeTokenError(w, err, "Failed to create token")
		return
	}
	writeJSON(w, http.StatusOK, model.TokenResponse{
		Success: true,
		Token:   *tok,
		Message: "Token created",
	})
}

// UpdateToken partially updates a token; absent fields keep their values.
// PUT /api/admin/token
func (h *AdminHandler) UpdateToken(w http.ResponseWriter, r *http.Request) {
	var req tokenUpdateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.TokenID == 0 {
		writeError(w, http.StatusBadRequest, "token_id is required")
		return
	}

	tok, err := h.tokens.Update(r.Context(), req.TokenID, req.Token, req.Name, req.MinuteLimit, req.HourLimit)
	if err != nil {
		h.writeTokenError(w, err, "Failed to update token")
		return
	}
	writeJSON(w, http.StatusOK, model.TokenResponse{
		Success: true,
		Token:   *tok,
		Message: "Token updated",
	})
}

// DeleteToken removes a token together with its rate-limit state and any
// unflushed usage.
// DELETE /api/admin/token/{id}
func (h *AdminHandler) DeleteToken(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.tokens.Delete(r.Context(), id); err != nil {
		h.writeTokenError(w, err, "Failed to delete token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Token deleted",
	})
}

// ResetUsage zeroes a token's usage count.
// POST /api/admin/token/{id}/reset_usage
func (h *AdminHandler) ResetUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.tokens.ResetUsage(r.Context(), id); err != nil {
		h.writeTokenError(w, err, "Failed to reset token usage")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Usage reset",
	})
}

// ListTokens returns all tokens with secrets masked.
// GET /api/admin/tokens
func (h *AdminHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.TokenListResponse{
		Success: true,
		Tokens:  h.tokens.List(),
	})
}

// GetToken returns the full record for one token, secret included, for the
// admin edit flow.
// GET /api/admin/token/{id}
func (h *AdminHandler) GetToken(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tok, err := h.tokens.Get(r.Context(), id)
	if err != nil {
		h.writeTokenError(w, err, "Failed to get token")
		return
	}
	writeJSON(w, http.StatusOK, model.TokenResponse{Success: true, Token: *tok})
}

// Status reports provisioning state without authentication.
// GET /api/admin/token/status
func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tokens.Status())
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid token id")
		return 0, false
	}
	return id, true
}

// writeTokenError maps token service failures onto HTTP statuses.
func (h *AdminHandler) writeTokenError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Token not found")
	case errors.Is(err, model.ErrSecretTooShort):
		writeError(w, http.StatusBadRequest, "Token value must be at least 16 characters")
	case errors.Is(err, service.ErrDuplicateSecret):
		writeError(w, http.StatusBadRequest, "Token value already in use")
	default:
		writeError(w, http.StatusInternalServerError, fallback+": "+err.Error())
	}
}
