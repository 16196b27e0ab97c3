package api

import (
	"encoding/json/v2"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rateLimitedHandler(limiter *RateLimiter) http.Handler {
	logger := slog.New(slog.DiscardHandler)
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return RateLimitMiddleware(limiter, logger)(next)
}

func doRequest(h http.Handler, method, remoteAddr string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(method, "/api/v1/users", nil)
	r.RemoteAddr = remoteAddr
	h.ServeHTTP(w, r)
	return w
}

func TestRateLimitMiddleware_BlocksWritesOverBurst(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute, 2)
	defer limiter.Stop()

	h := rateLimitedHandler(limiter)

	for i := 0; i < 2; i++ {
		w := doRequest(h, http.MethodPost, "10.0.0.1:4000")
		require.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
	}

	w := doRequest(h, http.MethodPost, "10.0.0.1:4000")
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	// The rejection carries the standard envelope even though it never
	// reached a handler.
	var envelope testEnvelope[any]
	err := json.Unmarshal(w.Body.Bytes(), &envelope)
	require.NoError(t, err)
	assert.Equal(t, EnvelopeVersion, envelope.Version)
	assert.False(t, envelope.Success)
	assert.NotEmpty(t, envelope.Error)
}

func TestRateLimitMiddleware_ReadsNeverThrottled(t *testing.T) {
	limiter := NewRateLimiter(1, time.Hour, 1)
	defer limiter.Stop()

	h := rateLimitedHandler(limiter)

	require.Equal(t, http.StatusOK, doRequest(h, http.MethodPost, "10.0.0.1:4000").Code)
	require.Equal(t, http.StatusTooManyRequests, doRequest(h, http.MethodPost, "10.0.0.1:4000").Code)

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, doRequest(h, http.MethodGet, "10.0.0.1:4000").Code)
	}
}

func TestRateLimitMiddleware_KeysByClientIP(t *testing.T) {
	limiter := NewRateLimiter(1, time.Hour, 1)
	defer limiter.Stop()

	h := rateLimitedHandler(limiter)

	require.Equal(t, http.StatusOK, doRequest(h, http.MethodPost, "10.0.0.1:4000").Code)
	require.Equal(t, http.StatusTooManyRequests, doRequest(h, http.MethodPost, "10.0.0.1:4000").Code)

	// A different client gets its own bucket.
	assert.Equal(t, http.StatusOK, doRequest(h, http.MethodPost, "10.0.0.2:4000").Code)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name   string
		xff    string
		xri    string
		remote string
		want   string
	}{
		{
			name:   "x-forwarded-for single",
			xff:    "203.0.113.7",
			remote: "10.0.0.1:1234",
			want:   "203.0.113.7",
		},
		{
			name:   "x-forwarded-for chain keeps first hop",
			xff:    "203.0.113.7, 70.41.3.18",
			remote: "10.0.0.1:1234",
			want:   "203.0.113.7",
		},
		{
			name:   "x-real-ip",
			xri:    "198.51.100.2",
			remote: "10.0.0.1:1234",
			want:   "198.51.100.2",
		},
		{
			name:   "remote addr strips port",
			remote: "10.0.0.1:1234",
			want:   "10.0.0.1",
		},
		{
			name:   "remote addr ipv6 drops brackets",
			remote: "[::1]:8080",
			want:   "::1",
		},
		{
			name:   "remote addr without port",
			remote: "10.0.0.9",
			want:   "10.0.0.9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			assert.Equal(t, tt.want, getClientIP(r))
		})
	}
}
