package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"srphub.org/internal/audit"
	"srphub.org/internal/authn"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/login",
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := authn.ParseAndValidate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := authn.ContextWithIdentity(r.Context(), authn.Identity{
			UserID: userID,
			Name:   claims.Name,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

type loginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.accounts == nil {
		writeError(w, r, http.StatusNotImplemented, "login is not configured")
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "name and password are required")
		return
	}

	userID, err := a.accounts.Authenticate(r.Context(), req.Name, req.Password)
	if err != nil {
		audit.LogEvent(r.Context(), "auth.login_failed", map[string]any{"name": req.Name})
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	ttl := a.tokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	token, err := authn.GenerateToken(userID, req.Name, ttl)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	audit.LogEvent(r.Context(), "auth.login", map[string]any{"name": req.Name, "login_user_id": userID})
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"user_id":    userID,
		"expires_in": int64(ttl.Seconds()),
	})
}
