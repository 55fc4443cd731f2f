package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/clubdesk/internal/auth"
	"github.com/dukerupert/clubdesk/internal/store"
)

type AuthHandler struct {
	staffStore   *store.StaffStore
	sessionStore *store.SessionStore
	logger       *slog.Logger
}

func NewAuthHandler(st *store.StaffStore, ss *store.SessionStore, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{staffStore: st, sessionStore: ss, logger: logger}
}

type loginRequest struct {
	Staff string `json:"staff"`
	PIN   string `json:"pin"`
}

// Login exchanges a staff name and PIN for a bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid JSON")
		return
	}

	st, err := h.staffStore.Authenticate(req.Staff, req.PIN)
	if errors.Is(err, store.ErrInvalidCredentials) {
		h.logger.Warn("login failed", "staff", req.Staff)
		writeError(w, http.StatusUnauthorized, "", "invalid staff name or PIN")
		return
	}
	if err != nil {
		h.logger.Error("login lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "", "login failed")
		return
	}

	sess, err := h.sessionStore.Create(st.ID)
	if err != nil {
		h.logger.Error("create session", "error", err)
		writeError(w, http.StatusInternalServerError, "", "login failed")
		return
	}

	h.logger.Info("staff logged in", "staff", st.Name)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     sess.Token,
		"expiresAt": sess.ExpiresAt,
		"staff":     st.Name,
	})
}

// Logout revokes the caller's session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sc, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "", "unauthorized")
		return
	}
	if err := h.sessionStore.Delete(sc.SessionID); err != nil {
		h.logger.Error("delete session", "error", err)
		writeError(w, http.StatusInternalServerError, "", "logout failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
