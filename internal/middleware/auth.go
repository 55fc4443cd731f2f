package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dukerupert/clubdesk/internal/auth"
	"github.com/dukerupert/clubdesk/internal/store"
)

// RequireStaff validates the bearer token and populates StaffContext.
// WebSocket upgrades may pass the token as ?token= since browsers cannot set
// headers on them.
func RequireStaff(sessions *store.SessionStore, staff *store.StaffStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				unauthorized(w)
				return
			}

			sess, err := sessions.GetByToken(token)
			if err != nil || sess == nil {
				unauthorized(w)
				return
			}

			st, err := staff.GetByID(sess.StaffID)
			if err != nil || st == nil {
				unauthorized(w)
				return
			}

			ctx := auth.WithStaff(r.Context(), auth.StaffContext{
				StaffID:   st.ID,
				StaffName: st.Name,
				SessionID: sess.ID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if rest, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}
