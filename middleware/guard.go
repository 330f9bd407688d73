package middleware

import (
	"context"
	"net/http"

	goSession "github.com/MrEthical07/goSession"
)

// SessionSource is the subset of [goSession.Manager] used by the guards.
type SessionSource interface {
	AuthenticatedSnapshot() *goSession.UserSnapshot
	RecordActivity()
}

type userContextKey struct{}

// UserFromContext returns the user injected by [RequireSession].
func UserFromContext(ctx context.Context) (*goSession.UserSnapshot, bool) {
	u, ok := ctx.Value(userContextKey{}).(*goSession.UserSnapshot)
	return u, ok
}

// RequireSession rejects requests with 401 while the manager is not
// authenticated. Accepted requests count as activity.
func RequireSession(src SessionSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if src == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			user := src.AuthenticatedSnapshot()
			if user == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			src.RecordActivity()

			ctx := context.WithValue(r.Context(), userContextKey{}, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TrackActivity records activity for every request without guarding it.
func TrackActivity(src SessionSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if src != nil {
				src.RecordActivity()
			}
			next.ServeHTTP(w, r)
		})
	}
}
