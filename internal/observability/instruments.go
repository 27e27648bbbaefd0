package observability

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"shaper/internal/models"
	"shaper/internal/shaper"
)

// ShaperInstruments records transport activity as OpenTelemetry metrics.
type ShaperInstruments struct {
	delay       metric.Float64Histogram
	throttled   metric.Int64Counter
	parseErrors metric.Int64Counter
	received    metric.Int64Counter
}

// NewShaperInstruments creates the transport instruments on mp, or on the
// global MeterProvider when mp is nil.
func NewShaperInstruments(mp metric.MeterProvider) (*ShaperInstruments, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("shaper/transport")

	delay, err := meter.Float64Histogram(
		"shaper.delay.duration",
		metric.WithDescription("Delay computed before or after a request in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	throttled, err := meter.Int64Counter(
		"shaper.throttled.responses",
		metric.WithDescription("Number of 429 responses received"),
		metric.WithUnit("{response}"),
	)
	if err != nil {
		return nil, err
	}

	parseErrors, err := meter.Int64Counter(
		"shaper.header.parse_errors",
		metric.WithDescription("Number of responses with malformed rate limit headers"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	received, err := meter.Int64Counter(
		"shaper.headers.received",
		metric.WithDescription("Number of responses carrying rate limit headers"),
		metric.WithUnit("{response}"),
	)
	if err != nil {
		return nil, err
	}

	return &ShaperInstruments{
		delay:       delay,
		throttled:   throttled,
		parseErrors: parseErrors,
		received:    received,
	}, nil
}

// Callbacks returns transport callbacks feeding the instruments.
func (s *ShaperInstruments) Callbacks() shaper.Callbacks {
	return shaper.Callbacks{
		OnHeadersReceived: func(target *url.URL, snap models.HeaderSnapshot) {
			s.received.Add(context.Background(), 1, metric.WithAttributes(
				targetAttr(target),
				attribute.Bool("retry_after", snap.RetryAfterSeconds != nil),
			))
		},
		OnDelayCalculated: func(target *url.URL, delay time.Duration) {
			s.delay.Record(context.Background(), delay.Seconds(), metric.WithAttributes(targetAttr(target)))
		},
		OnTooManyRequests: func(req *http.Request, _ *http.Response) {
			s.throttled.Add(req.Context(), 1, metric.WithAttributes(
				targetAttr(req.URL),
				attribute.String("method", req.Method),
			))
		},
		OnParsingError: func(target *url.URL, _ error) {
			s.parseErrors.Add(context.Background(), 1, metric.WithAttributes(targetAttr(target)))
		},
	}
}

func targetAttr(target *url.URL) attribute.KeyValue {
	host := "default"
	if target != nil && target.Host != "" {
		host = target.Host
	}
	return attribute.String("target", host)
}
