// Package headers decodes the RateLimit-Policy, RateLimit and Retry-After
// response headers into models records.
//
// Decoding is tolerant: malformed items are dropped, and a failure while
// decoding one header occurrence never affects another. Callers that want to
// know what was dropped use Decode, which reports it as a *ParseError next to
// a snapshot that is always usable.
package headers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shaper/internal/models"
	"shaper/internal/structfield"
)

// Header names.
const (
	HeaderRateLimitPolicy = "RateLimit-Policy"
	HeaderRateLimit       = "RateLimit"
	HeaderRetryAfter      = "Retry-After"
)

// Parameter names used by the rate limit headers.
const (
	paramQuota     = "q"
	paramWindow    = "w"
	paramQuotaUnit = "qu"
	paramPartition = "pk"
	paramRemaining = "r"
	paramReset     = "t"
)

// Decoder maps header values onto policies and limits through a
// structfield.Parser. A Decoder is stateless and safe for concurrent use.
type Decoder struct {
	parser structfield.Parser
}

// NewDecoder returns a Decoder using p, or structfield.DefaultParser when p
// is nil.
func NewDecoder(p structfield.Parser) *Decoder {
	if p == nil {
		p = structfield.DefaultParser{}
	}
	return &Decoder{parser: p}
}

// DecodePolicies decodes one RateLimit-Policy header value. Items without a
// positive q are dropped.
func (d *Decoder) DecodePolicies(value string) []models.Policy {
	policies, _ := d.decodePolicies(value)
	return policies
}

// DecodeLimits decodes one RateLimit header value. Items without a numeric r
// are dropped; r=0 is kept.
func (d *Decoder) DecodeLimits(value string, observedAt time.Time) []models.Limit {
	limits, _ := d.decodeLimits(value, observedAt)
	return limits
}

// Decode reads every rate limit header in h. Each occurrence of
// RateLimit-Policy and RateLimit is decoded independently. The returned
// error, when non-nil, is a *ParseError describing what was dropped.
func (d *Decoder) Decode(h http.Header, observedAt time.Time) (models.HeaderSnapshot, error) {
	snap := models.HeaderSnapshot{ObservedAt: observedAt}
	var errs []error

	for _, value := range h.Values(HeaderRateLimitPolicy) {
		policies, perr := d.decodePolicies(value)
		snap.Policies = append(snap.Policies, policies...)
		errs = append(errs, perr...)
	}

	for _, value := range h.Values(HeaderRateLimit) {
		limits, lerr := d.decodeLimits(value, observedAt)
		snap.Limits = append(snap.Limits, limits...)
		errs = append(errs, lerr...)
	}

	if raw := h.Get(HeaderRetryAfter); raw != "" {
		if secs, ok := ParseRetryAfter(raw, observedAt); ok {
			snap.RetryAfterSeconds = models.Int64Ptr(secs)
		} else {
			errs = append(errs, &FieldError{Header: HeaderRetryAfter, Item: raw, Err: ErrInvalidRetryAfter})
		}
	}

	if len(errs) > 0 {
		return snap, &ParseError{Errors: errs}
	}
	return snap, nil
}

func (d *Decoder) decodePolicies(value string) (policies []models.Policy, errs []error) {
	defer func() {
		if r := recover(); r != nil {
			policies = nil
			errs = []error{&FieldError{
				Header: HeaderRateLimitPolicy,
				Err:    fmt.Errorf("%w: %v", ErrDecoderPanic, r),
			}}
		}
	}()

	policies = []models.Policy{}
	for _, item := range d.parser.ParseList(value) {
		raw, ok := item.Param(paramQuota)
		if !ok {
			errs = append(errs, &FieldError{Header: HeaderRateLimitPolicy, Item: item.Value, Err: ErrMissingParameter})
			continue
		}
		quota, err := parseInt(raw)
		if err != nil || quota <= 0 {
			errs = append(errs, &FieldError{
				Header: HeaderRateLimitPolicy,
				Item:   item.Value,
				Err:    fmt.Errorf("%w: q=%s", ErrInvalidParameter, raw),
			})
			continue
		}

		policy := models.Policy{
			Name:      item.Value,
			Quota:     quota,
			QuotaUnit: models.DefaultQuotaUnit,
		}
		if raw, ok := item.Param(paramWindow); ok {
			if w, err := parseInt(raw); err == nil && w > 0 {
				policy.WindowSeconds = models.Int64Ptr(w)
			}
		}
		if raw, ok := item.Param(paramQuotaUnit); ok {
			if unit := d.parser.ParseString(raw); unit != "" {
				policy.QuotaUnit = unit
			}
		}
		if raw, ok := item.Param(paramPartition); ok {
			policy.PartitionKey = models.StringPtr(d.parser.ParseByteSequence(raw))
		}
		policies = append(policies, policy)
	}
	return policies, errs
}

func (d *Decoder) decodeLimits(value string, observedAt time.Time) (limits []models.Limit, errs []error) {
	defer func() {
		if r := recover(); r != nil {
			limits = nil
			errs = []error{&FieldError{
				Header: HeaderRateLimit,
				Err:    fmt.Errorf("%w: %v", ErrDecoderPanic, r),
			}}
		}
	}()

	limits = []models.Limit{}
	for _, item := range d.parser.ParseList(value) {
		raw, ok := item.Param(paramRemaining)
		if !ok {
			errs = append(errs, &FieldError{Header: HeaderRateLimit, Item: item.Value, Err: ErrMissingParameter})
			continue
		}
		remaining, err := parseInt(raw)
		if err != nil {
			errs = append(errs, &FieldError{
				Header: HeaderRateLimit,
				Item:   item.Value,
				Err:    fmt.Errorf("%w: r=%s", ErrInvalidParameter, raw),
			})
			continue
		}

		limit := models.Limit{
			PolicyName: item.Value,
			Remaining:  max(remaining, 0),
			ObservedAt: observedAt,
		}
		if raw, ok := item.Param(paramReset); ok {
			if t, err := parseInt(raw); err == nil && t >= 0 {
				limit.ResetSeconds = models.Int64Ptr(t)
			}
		}
		if raw, ok := item.Param(paramPartition); ok {
			limit.PartitionKey = models.StringPtr(d.parser.ParseByteSequence(raw))
		}
		limits = append(limits, limit)
	}
	return limits, errs
}

// ParseRetryAfter interprets a Retry-After value as delay-seconds or an
// HTTP-date relative to now. Dates in the past yield 0.
func ParseRetryAfter(value string, now time.Time) (int64, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		if secs < 0 {
			return 0, false
		}
		return secs, true
	}

	when, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	wait := when.Sub(now)
	if wait <= 0 {
		return 0, true
	}
	secs := int64(wait / time.Second)
	if wait%time.Second != 0 {
		secs++
	}
	return secs, true
}

func parseInt(raw string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
}
