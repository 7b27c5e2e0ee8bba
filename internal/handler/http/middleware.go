package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rakrong1/ladicare-sub000/internal/domain"
	"github.com/rakrong1/ladicare-sub000/pkg/httputil"
	"github.com/rakrong1/ladicare-sub000/pkg/logger"
	"github.com/rakrong1/ladicare-sub000/pkg/middleware"
)

const (
	// HeaderUserID is set by a trusted API gateway after it has verified the
	// caller. It is honored only when the router is told to trust it.
	HeaderUserID = "X-User-ID"
	// HeaderSessionID carries the anonymous storefront session.
	HeaderSessionID = "X-Session-ID"
	// QuerySessionID is accepted where clients cannot set headers.
	QuerySessionID = "sessionId"
)

type contextKey string

const ownerKey contextKey = "cart_owner"

// ResolveOwner determines the cart owner for the request and stores it in
// the context. A bearer-token identity wins, then X-User-ID when
// trustUserHeader is set, then the session id. Requests without any identity
// are rejected with 400.
func ResolveOwner(base *slog.Logger, trustUserHeader bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner, err := ownerFromRequest(r, trustUserHeader)
			if err != nil {
				httputil.WriteErrorCode(w, r, http.StatusBadRequest, "INVALID_INPUT", "a user or session identity is required")
				return
			}

			ctx := context.WithValue(r.Context(), ownerKey, owner)
			ctx = logger.WithOwner(ctx, string(owner.Kind()), owner.ID())
			next.ServeHTTP(w, middleware.Enrich(r.WithContext(ctx), base))
		})
	}
}

func ownerFromRequest(r *http.Request, trustUserHeader bool) (domain.OwnerKey, error) {
	if uid := middleware.UserIDFromContext(r.Context()); uid != "" {
		return domain.UserOwner(uid)
	}
	if trustUserHeader {
		if uid := strings.TrimSpace(r.Header.Get(HeaderUserID)); uid != "" {
			return domain.UserOwner(uid)
		}
	}
	return domain.SessionOwner(sessionIDFromRequest(r))
}

// sessionIDFromRequest returns the session id from the header or the query
// string, or "" when neither is set.
func sessionIDFromRequest(r *http.Request) string {
	if sid := strings.TrimSpace(r.Header.Get(HeaderSessionID)); sid != "" {
		return sid
	}
	return strings.TrimSpace(r.URL.Query().Get(QuerySessionID))
}

// ownerFromContext returns the owner stored by ResolveOwner.
func ownerFromContext(ctx context.Context) (domain.OwnerKey, bool) {
	owner, ok := ctx.Value(ownerKey).(domain.OwnerKey)
	return owner, ok && !owner.IsZero()
}

// ownerRateKey keys the rate limiter by cart owner.
func ownerRateKey(r *http.Request) string {
	if owner, ok := ownerFromContext(r.Context()); ok {
		return owner.String()
	}
	return ""
}

// ContentTypeJSON enforces that requests with a body have Content-Type: application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				httputil.WriteErrorCode(w, r, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
