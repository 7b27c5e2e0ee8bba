package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rakrong1/ladicare-sub000/pkg/httputil"
)

// TokenValidator checks a bearer token and returns the user id it was issued to.
type TokenValidator func(token string) (userID string, err error)

type userIDKey struct{}

// OptionalAuth attaches the bearer token's user id to the context. Requests
// without an Authorization header stay anonymous. A header that is present
// but malformed, invalid or expired is rejected with 401 rather than being
// downgraded to anonymous.
func OptionalAuth(validate TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				httputil.WriteErrorCode(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid authorization header format")
				return
			}
			userID, err := validate(strings.TrimSpace(token))
			if err != nil || userID == "" {
				httputil.WriteErrorCode(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey{}, userID)))
		})
	}
}

// UserIDFromContext returns the user id set by OptionalAuth, or "".
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}
