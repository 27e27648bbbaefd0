package ratelimit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shaper/internal/headers"
	"shaper/internal/models"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func bearer(payload string) string {
	body := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return "Bearer e30." + body + ".sig"
}

func TestMiddleware_AllowedRequest(t *testing.T) {
	limiter := NewMemoryLimiter("default", 60, time.Minute, 5*time.Minute)
	defer limiter.Close()

	handler := Middleware(limiter)(http.HandlerFunc(okHandler))

	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(headers.HeaderRateLimitPolicy))
	assert.NotEmpty(t, rr.Header().Get(headers.HeaderRateLimit))
	assert.Empty(t, rr.Header().Get(headers.HeaderRetryAfter))
}

func TestMiddleware_HeadersDecode(t *testing.T) {
	limiter := NewMemoryLimiter("per-minute", 60, time.Minute, 5*time.Minute)
	defer limiter.Close()

	handler := Middleware(limiter, WithPartitionClaim("sub"))(http.HandlerFunc(okHandler))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", bearer(`{"sub":"tenant-a"}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	snap, err := headers.NewDecoder(nil).Decode(rr.Header(), time.Now())
	require.NoError(t, err)

	require.Len(t, snap.Policies, 1)
	p := snap.Policies[0]
	assert.Equal(t, "per-minute", p.Name)
	assert.Equal(t, int64(60), p.Quota)
	require.NotNil(t, p.WindowSeconds)
	assert.Equal(t, int64(60), *p.WindowSeconds)
	require.NotNil(t, p.PartitionKey)
	assert.Equal(t, "tenant-a", *p.PartitionKey)

	require.Len(t, snap.Limits, 1)
	l := snap.Limits[0]
	assert.Equal(t, "per-minute", l.PolicyName)
	assert.Equal(t, int64(59), l.Remaining)
	require.NotNil(t, l.ResetSeconds)
	assert.True(t, *l.ResetSeconds >= 0 && *l.ResetSeconds <= 60)
	require.NotNil(t, l.PartitionKey)
	assert.Equal(t, "tenant-a", *l.PartitionKey)
}

func TestMiddleware_DeniedRequest(t *testing.T) {
	limiter := NewMemoryLimiter("default", 2, time.Hour, 5*time.Minute)
	defer limiter.Close()

	handler := Middleware(limiter)(http.HandlerFunc(okHandler))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	}

	// Third request should be denied
	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	retryAfter, err := strconv.ParseInt(rr.Header().Get(headers.HeaderRetryAfter), 10, 64)
	require.NoError(t, err)
	assert.True(t, retryAfter >= 1)

	snap, _ := headers.NewDecoder(nil).Decode(rr.Header(), time.Now())
	require.Len(t, snap.Limits, 1)
	assert.Equal(t, int64(0), snap.Limits[0].Remaining)
	require.NotNil(t, snap.RetryAfterSeconds)
	assert.Equal(t, retryAfter, *snap.RetryAfterSeconds)

	var errResp models.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&errResp))
	assert.Equal(t, "Rate limit exceeded", errResp.Message)
	assert.Equal(t, models.ErrorCodeTooManyRequests, errResp.Code)
	assert.Equal(t, retryAfter, errResp.RetryAfter)
}

func TestMiddleware_PartitionsByClaim(t *testing.T) {
	limiter := NewMemoryLimiter("default", 1, time.Hour, 5*time.Minute)
	defer limiter.Close()

	handler := Middleware(limiter, WithPartitionClaim("sub"))(http.HandlerFunc(okHandler))

	send := func(sub string) int {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		req.Header.Set("Authorization", bearer(`{"sub":"`+sub+`"}`))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, send("alice"))
	assert.Equal(t, http.StatusTooManyRequests, send("alice"))
	// Same IP, different claim
	assert.Equal(t, http.StatusOK, send("bob"))
}

func TestMiddleware_FallsBackToClientIP(t *testing.T) {
	limiter := NewMemoryLimiter("default", 60, time.Minute, 5*time.Minute)
	defer limiter.Close()

	var seen string
	handler := Middleware(limiter, WithPartitionClaim("sub"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PartitionFromContext(r.Context())
		info, ok := InfoFromContext(r.Context())
		assert.True(t, ok)
		assert.Equal(t, 60, info.Limit)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "203.0.113.7", seen)
}

func TestMiddleware_RecordsStats(t *testing.T) {
	limiter := NewMemoryLimiter("default", 1, time.Hour, 5*time.Minute)
	defer limiter.Close()
	stats := NewMemoryStats()

	handler := Middleware(limiter, WithStats(stats))(http.HandlerFunc(okHandler))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/api/v1/resource", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, Counters{Allowed: 1, Denied: 2}, stats.Total())
	assert.Equal(t, Counters{Allowed: 1, Denied: 2}, stats.ByPartition()["192.168.1.1:12345"])
	assert.Equal(t, Counters{Allowed: 1, Denied: 2}, stats.ByPath()["GET /api/v1/resource"])
}

type failingStats struct{}

func (failingStats) Record(context.Context, StatsEvent) error {
	return errors.New("store down")
}

func TestMiddleware_StatsErrorDoesNotFailRequest(t *testing.T) {
	limiter := NewMemoryLimiter("default", 60, time.Minute, 5*time.Minute)
	defer limiter.Close()

	handler := Middleware(limiter, WithStats(failingStats{}))(http.HandlerFunc(okHandler))

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		expected   string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "192.168.1.1:12345",
			expected:   "192.168.1.1:12345",
		},
		{
			name:       "X-Forwarded-For",
			remoteAddr: "10.0.0.1:12345",
			xff:        "203.0.113.50, 70.41.3.18",
			expected:   "203.0.113.50",
		},
		{
			name:       "X-Real-IP",
			remoteAddr: "10.0.0.1:12345",
			xri:        "203.0.113.50",
			expected:   "203.0.113.50",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			assert.Equal(t, tt.expected, getClientIP(req))
		})
	}
}
