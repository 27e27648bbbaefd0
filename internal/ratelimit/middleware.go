package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shaper/internal/headers"
	"shaper/internal/identity"
	"shaper/internal/models"
)

type contextKey int

const (
	partitionContextKey contextKey = iota
	infoContextKey
)

// PartitionFromContext returns the partition the middleware assigned to the
// request.
func PartitionFromContext(ctx context.Context) (string, bool) {
	pk, ok := ctx.Value(partitionContextKey).(string)
	return pk, ok
}

// InfoFromContext returns the limiter state recorded for an allowed request.
func InfoFromContext(ctx context.Context) (Info, bool) {
	info, ok := ctx.Value(infoContextKey).(Info)
	return info, ok
}

type middlewareOptions struct {
	claim string
	stats StatsStore
	now   func() time.Time
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareOptions)

// WithPartitionClaim partitions requests by the named bearer token claim.
// Requests without the claim fall back to the client IP.
func WithPartitionClaim(claim string) MiddlewareOption {
	return func(o *middlewareOptions) { o.claim = claim }
}

// WithStats records every decision in s.
func WithStats(s StatsStore) MiddlewareOption {
	return func(o *middlewareOptions) { o.stats = s }
}

// Middleware returns HTTP middleware that enforces limiter per partition and
// advertises the partition's quota on every response.
func Middleware(limiter Limiter, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	o := middlewareOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			partition := resolvePartition(r, o.claim)

			allowed, info := limiter.Allow(partition)
			now := o.now()

			// Always advertise the quota
			WriteHeaders(w.Header(), info, partition, now)

			if o.stats != nil {
				ev := StatsEvent{
					Partition: partition,
					Policy:    info.Policy,
					Allowed:   allowed,
					Method:    r.Method,
					Path:      r.URL.Path,
					At:        now,
				}
				if err := o.stats.Record(r.Context(), ev); err != nil {
					slog.Debug("Failed to record rate limit stats", "error", err)
				}
			}

			if !allowed {
				retryAfterSecs := RetryAfterSeconds(info.RetryAfter)
				w.Header().Set(headers.HeaderRetryAfter, strconv.FormatInt(retryAfterSecs, 10))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)

				errorResp := models.NewErrorResponse("Rate limit exceeded", models.ErrorCodeTooManyRequests)
				errorResp.RetryAfter = retryAfterSecs
				if err := json.NewEncoder(w).Encode(errorResp); err != nil {
					slog.Error("Failed to encode rate limit response", "error", err)
				}

				slog.Warn("Rate limit exceeded",
					"partition", partition,
					"policy", info.Policy,
					"limit", info.Limit,
					"retry_after", retryAfterSecs,
				)
				return
			}

			ctx := context.WithValue(r.Context(), partitionContextKey, partition)
			ctx = context.WithValue(ctx, infoContextKey, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolvePartition prefers the bearer claim and falls back to the client IP.
func resolvePartition(r *http.Request, claim string) string {
	if claim != "" {
		if v, ok := identity.FromRequest(r, claim); ok && v != "" {
			return v
		}
	}
	return getClientIP(r)
}

// getClientIP extracts the client IP from the request, checking proxy headers.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	return r.RemoteAddr
}
