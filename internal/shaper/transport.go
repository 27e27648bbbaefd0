// Package shaper provides an http.RoundTripper that paces outgoing requests
// according to the rate limit headers of earlier responses.
//
// Each request goes through the same steps: an optional wait before sending,
// the send itself, recording of the response headers in a tracker.Tracker, an
// optional wait after receiving, and on 429 an optional bounded retry. Waits
// are cancelled with the request context. Transport errors and 429 responses
// are returned to the caller unchanged.
package shaper

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"shaper/internal/headers"
	"shaper/internal/tracker"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// drainLimit bounds how much of a discarded 429 body is read so the
// connection can be reused.
const drainLimit = 64 << 10

// PartitionFunc returns the partition key a request is counted against, or
// "" when the request should be paced against every partition of its target.
type PartitionFunc func(*http.Request) string

// Transport is safe for concurrent use.
type Transport struct {
	base      http.RoundTripper
	tracker   *tracker.Tracker
	cfg       Config
	decoder   *headers.Decoder
	callbacks Callbacks
	partition PartitionFunc
	logger    *slog.Logger
	tracer    trace.Tracer
	sleep     func(ctx context.Context, d time.Duration) error
}

var _ http.RoundTripper = (*Transport)(nil)

// Option configures a Transport.
type Option func(*Transport)

// WithDecoder replaces the default header decoder.
func WithDecoder(d *headers.Decoder) Option {
	return func(t *Transport) {
		if d != nil {
			t.decoder = d
		}
	}
}

// WithCallbacks adds a callback set. Repeated use chains the sets.
func WithCallbacks(cb Callbacks) Option {
	return func(t *Transport) {
		t.callbacks = ChainCallbacks(t.callbacks, cb)
	}
}

// WithPartitionFunc sets how a request's partition key is derived.
func WithPartitionFunc(fn PartitionFunc) Option {
	return func(t *Transport) {
		t.partition = fn
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithTracer sets the tracer used for wait and round trip spans. Defaults to
// the global OpenTelemetry tracer provider.
func WithTracer(tr trace.Tracer) Option {
	return func(t *Transport) {
		if tr != nil {
			t.tracer = tr
		}
	}
}

// New wraps base, which defaults to http.DefaultTransport.
func New(base http.RoundTripper, t *tracker.Tracker, cfg Config, opts ...Option) (*Transport, error) {
	if t == nil {
		return nil, ErrNilTracker
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if base == nil {
		base = http.DefaultTransport
	}

	tr := &Transport{
		base:    base,
		tracker: t,
		cfg:     cfg,
		decoder: headers.NewDecoder(nil),
		logger:  slog.Default(),
		tracer:  otel.Tracer("shaper/transport"),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(tr)
	}
	return tr, nil
}

// Client returns an *http.Client using a new Transport.
func Client(base http.RoundTripper, t *tracker.Tracker, cfg Config, opts ...Option) (*http.Client, error) {
	tr, err := New(base, t, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: tr}, nil
}

// Tracker returns the tracker the transport records into.
func (t *Transport) Tracker() *tracker.Tracker {
	return t.tracker
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := t.tracer.Start(req.Context(), "shaper.roundtrip",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("shaper.target", t.tracker.TrackingKey(req.URL)),
		),
	)
	defer span.End()

	partition := t.partitionFor(req)
	current := req.WithContext(ctx)
	attempt := 0

	// retryDelay carries the delay a retry was decided on into the next
	// pre-send wait; negative means compute a fresh one.
	retryDelay := time.Duration(-1)

	for {
		if t.cfg.WaitMode == WaitBefore {
			delay := retryDelay
			if delay < 0 {
				delay = t.computeDelay(req.URL, partition)
			}
			if err := t.wait(ctx, delay, "before"); err != nil {
				closeRequestBody(current)
				recordError(span, err)
				return nil, err
			}
		}

		resp, err := t.base.RoundTrip(current)
		if err != nil {
			recordError(span, err)
			return nil, err
		}
		t.observe(req.URL, resp)

		throttled := resp.StatusCode == http.StatusTooManyRequests
		var delay time.Duration
		if t.cfg.WaitMode == WaitAfter || throttled {
			delay = t.computeDelay(req.URL, partition)
		}

		if t.cfg.WaitMode == WaitAfter {
			if err := t.wait(ctx, delay, "after"); err != nil {
				resp.Body.Close()
				recordError(span, err)
				return nil, err
			}
		}

		if !throttled {
			span.SetAttributes(
				attribute.Int("http.response.status_code", resp.StatusCode),
				attribute.Int("shaper.retries", attempt),
			)
			return resp, nil
		}

		t.notifyTooManyRequests(current, resp)

		if !t.shouldRetry(attempt, delay) {
			span.SetAttributes(
				attribute.Int("http.response.status_code", resp.StatusCode),
				attribute.Int("shaper.retries", attempt),
			)
			return resp, nil
		}

		next, err := rewindRequest(current)
		if err != nil {
			t.logger.Debug("Not retrying rate limited request", "url", req.URL.Redacted(), "error", err)
			return resp, nil
		}
		drainAndClose(resp.Body)

		attempt++
		t.logger.Info("Retrying rate limited request",
			"url", req.URL.Redacted(),
			"attempt", attempt,
			"delay", delay,
		)

		// Before mode waits at the top of the loop; after mode already waited.
		if t.cfg.WaitMode == WaitNever {
			if err := t.wait(ctx, delay, "retry"); err != nil {
				closeRequestBody(next)
				recordError(span, err)
				return nil, err
			}
		}
		retryDelay = delay
		current = next
	}
}

func (t *Transport) shouldRetry(attempt int, delay time.Duration) bool {
	if !t.cfg.AutoRetry || attempt >= t.cfg.MaxRetries {
		return false
	}
	return delay > 0 && delay <= t.cfg.MaxDelay
}

func (t *Transport) partitionFor(req *http.Request) string {
	if t.partition == nil {
		return ""
	}
	var key string
	t.safeCall("partition", func() { key = t.partition(req) })
	return key
}

// observe decodes the rate limit headers of resp into the tracker. Decoding
// problems are reported through OnParsingError and never fail the request.
func (t *Transport) observe(target *url.URL, resp *http.Response) {
	snap, err := t.decoder.Decode(resp.Header, t.tracker.Now())
	if err != nil {
		t.logger.Debug("Dropped malformed rate limit header items", "url", target.Redacted(), "error", err)
		if cb := t.callbacks.OnParsingError; cb != nil {
			t.safeCall("OnParsingError", func() { cb(target, err) })
		}
	}
	if snap.Empty() {
		return
	}

	t.tracker.Update(snap, target)
	if cb := t.callbacks.OnHeadersReceived; cb != nil {
		t.safeCall("OnHeadersReceived", func() { cb(target, snap) })
	}
}

func (t *Transport) computeDelay(target *url.URL, partition string) time.Duration {
	delay := t.tracker.ComputeDelay(target, partition)
	if cb := t.callbacks.OnDelayCalculated; cb != nil {
		t.safeCall("OnDelayCalculated", func() { cb(target, delay) })
	}
	return delay
}

func (t *Transport) notifyTooManyRequests(req *http.Request, resp *http.Response) {
	t.logger.Warn("Rate limited by upstream",
		"url", req.URL.Redacted(),
		"retry_after", resp.Header.Get(headers.HeaderRetryAfter),
	)
	if cb := t.callbacks.OnTooManyRequests; cb != nil {
		t.safeCall("OnTooManyRequests", func() { cb(req, resp) })
	}
}

func (t *Transport) wait(ctx context.Context, delay time.Duration, phase string) error {
	if delay <= 0 {
		return nil
	}

	ctx, span := t.tracer.Start(ctx, "shaper.wait", trace.WithAttributes(
		attribute.String("shaper.phase", phase),
		attribute.Int64("shaper.delay_ms", delay.Milliseconds()),
	))
	defer span.End()

	t.logger.Debug("Delaying request", "phase", phase, "delay", delay)
	if err := t.sleep(ctx, delay); err != nil {
		recordError(span, err)
		return err
	}
	return nil
}

func (t *Transport) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("Shaper callback panicked", "callback", name, "panic", r)
		}
	}()
	fn()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// rewindRequest returns a copy of req that can be sent again.
func rewindRequest(req *http.Request) (*http.Request, error) {
	next := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return next, nil
	}
	if req.GetBody == nil {
		return nil, errBodyNotReplayable
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	next.Body = body
	return next, nil
}

// closeRequestBody closes a body the base transport never received.
func closeRequestBody(req *http.Request) {
	if req != nil && req.Body != nil {
		req.Body.Close()
	}
}

func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, drainLimit))
	_ = body.Close()
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
