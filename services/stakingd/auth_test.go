package stakingd

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestNewAuthenticatorValidation(t *testing.T) {
	_, err := NewAuthenticator(nil)
	require.Error(t, err)

	_, err = NewAuthenticator(map[string]string{"token": "not-an-address"})
	require.Error(t, err)

	_, err = NewAuthenticator(map[string]string{" ": testAlice.Hex()})
	require.Error(t, err)
}

func TestAuthenticatorMiddleware(t *testing.T) {
	auth, err := NewAuthenticator(map[string]string{aliceToken: testAlice.Hex()})
	require.NoError(t, err)

	var seen common.Address
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok {
			t.Fatalf("caller missing from context")
		}
		seen = caller
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		header string
		status int
	}{
		{"", http.StatusUnauthorized},
		{"Bearer", http.StatusUnauthorized},
		{"Basic " + aliceToken, http.StatusUnauthorized},
		{"Bearer wrong", http.StatusUnauthorized},
		{"Bearer " + aliceToken, http.StatusNoContent},
		{"bearer   " + aliceToken + " ", http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != tc.status {
			t.Fatalf("header %q: expected %d got %d", tc.header, tc.status, resp.Code)
		}
	}
	require.Equal(t, testAlice, seen)
}

func TestRateLimiterSweep(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(1, 2, time.Minute)
	limiter.clockNow = func() time.Time { return now }

	require.True(t, limiter.allow("a"))
	require.True(t, limiter.allow("a"))
	require.False(t, limiter.allow("a"))
	require.True(t, limiter.allow("b"))

	now = now.Add(30 * time.Second)
	require.True(t, limiter.allow("b"))
	require.Equal(t, 0, limiter.Sweep())

	now = now.Add(45 * time.Second)
	require.Equal(t, 1, limiter.Sweep())
	require.Len(t, limiter.visitors, 1)

	// A forgotten caller starts with a fresh burst.
	require.True(t, limiter.allow("a"))
	require.True(t, limiter.allow("a"))
}

func TestRateLimiterDefaults(t *testing.T) {
	limiter := NewRateLimiter(0, 0, 0)
	require.Equal(t, 1, limiter.burst)
	require.Equal(t, 0, limiter.Sweep())
}
