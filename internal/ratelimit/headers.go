package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shaper/internal/headers"
	"shaper/internal/structfield"
)

// WriteHeaders advertises info on h. A non-empty partition is attached to
// both headers as a pk byte sequence.
func WriteHeaders(h http.Header, info Info, partition string, now time.Time) {
	pk := ""
	if partition != "" {
		pk = ";pk=" + structfield.SerializeByteSequence(partition)
	}
	name := strconv.Quote(info.Policy)

	var policy strings.Builder
	policy.WriteString(name)
	policy.WriteString(";q=")
	policy.WriteString(strconv.Itoa(info.Limit))
	if info.Window > 0 {
		policy.WriteString(";w=")
		policy.WriteString(strconv.FormatInt(ceilSeconds(info.Window), 10))
	}
	policy.WriteString(pk)
	h.Set(headers.HeaderRateLimitPolicy, policy.String())

	var limit strings.Builder
	limit.WriteString(name)
	limit.WriteString(";r=")
	limit.WriteString(strconv.Itoa(info.Remaining))
	limit.WriteString(";t=")
	limit.WriteString(strconv.FormatInt(ceilSeconds(info.ResetAt.Sub(now)), 10))
	limit.WriteString(pk)
	h.Set(headers.HeaderRateLimit, limit.String())
}

// RetryAfterSeconds rounds d up to whole seconds, never below 1.
func RetryAfterSeconds(d time.Duration) int64 {
	return max(ceilSeconds(d), 1)
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
