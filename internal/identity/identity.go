// Package identity adapts the upstream identity provider. Authentication
// happens in front of this service; the user id it forwards is trusted as is.
package identity

import (
	"context"
	"net/http"
	"regexp"
	"strings"
)

// UserHeader carries the authenticated user id set by the identity provider.
const UserHeader = "X-User-ID"

type contextKey int

const userIDKey contextKey = iota

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// Middleware rejects requests without a well-formed user id and stores it in the context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if !userIDPattern.MatchString(userID) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"missing or invalid user identity"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}
