package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		header string
		status int
		user   string
	}{
		{header: "user-123", status: http.StatusNoContent, user: "user-123"},
		{header: " alice@example.com ", status: http.StatusNoContent, user: "alice@example.com"},
		{header: "", status: http.StatusUnauthorized},
		{header: "bad id with spaces", status: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		seen = ""
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set(UserHeader, tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, tc.status, rec.Code, "header %q", tc.header)
		require.Equal(t, tc.user, seen)
	}
}

func TestUserIDFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.Empty(t, UserIDFromContext(req.Context()))
}
