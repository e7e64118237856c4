package web

import (
	"context"
	"net/http"

	"github.com/edgecore-dev/edgecore/internal/auth"
	"github.com/edgecore-dev/edgecore/internal/models"
)

// contextKey avoids collisions with other packages' context keys.
type contextKey int

const claimsContextKey contextKey = iota

// requireAuth validates a bearer access token and attaches its claims to
// the request context. Unauthenticated requests get 401 per the command
// error taxonomy.
func (s *Server) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.ExtractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeCommandError(w, "", models.ErrUnauthorized, "missing bearer token")
			return
		}
		claims, ok := s.deps.Auth.VerifyToken(token, auth.TokenTypeAccess, "")
		if !ok {
			writeCommandError(w, "", models.ErrUnauthorized, "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePermission checks the authenticated user's RBAC grant for action.
// Must run behind requireAuth.
func (s *Server) requirePermission(action string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r.Context())
		if claims == nil {
			writeCommandError(w, "", models.ErrUnauthorized, "authentication required")
			return
		}
		if !s.deps.Auth.CheckPermission(claims.UserID, action) {
			writeCommandError(w, "", models.ErrUnauthorized, "insufficient permissions")
			return
		}
		next.ServeHTTP(w, r)
	}
}

func claimsFrom(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsContextKey).(*auth.Claims)
	return claims
}
