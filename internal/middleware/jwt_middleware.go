package middleware

import (
	"context"
	"net/http"
	"strings"

	"moxie_companion/internal/auth"
	"moxie_companion/internal/config"
	"moxie_companion/internal/utils"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

// ClaimsKey stores the validated session claims
const ClaimsKey ContextKey = "claims"

// ParentJWT validates the parent session token and rejects everyone else
func ParentJWT(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := r.Header.Get("Authorization")
			if tokenString == "" {
				utils.RespondWithError(w, http.StatusUnauthorized, "Missing authentication token")
				return
			}

			// Remove "Bearer " prefix if present
			tokenString = strings.TrimPrefix(tokenString, "Bearer ")

			claims, err := auth.ValidateJWT(tokenString, cfg)
			if err != nil {
				utils.RespondWithError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}
			if !claims.Role.HasPermission(auth.RoleParent) {
				utils.RespondWithError(w, http.StatusForbidden, "Parent access required")
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClaims retrieves the session claims from the request context
func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.Claims)
	return claims, ok
}
