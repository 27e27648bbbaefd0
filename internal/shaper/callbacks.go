package shaper

import (
	"net/http"
	"net/url"
	"time"

	"shaper/internal/models"
)

// Callbacks are best-effort notifications. Any field may be nil. A panicking
// callback is recovered and logged; it never fails the request.
type Callbacks struct {
	OnHeadersReceived func(target *url.URL, snap models.HeaderSnapshot)
	OnDelayCalculated func(target *url.URL, delay time.Duration)
	OnTooManyRequests func(req *http.Request, resp *http.Response)
	OnParsingError    func(target *url.URL, err error)
}

// ChainCallbacks fans every notification out to each set in order. A panic in
// one set does not keep the others from running; the first panic is re-raised
// once all have run.
func ChainCallbacks(sets ...Callbacks) Callbacks {
	var chained Callbacks

	var headers []func(*url.URL, models.HeaderSnapshot)
	var delays []func(*url.URL, time.Duration)
	var throttled []func(*http.Request, *http.Response)
	var parsing []func(*url.URL, error)
	for _, s := range sets {
		if s.OnHeadersReceived != nil {
			headers = append(headers, s.OnHeadersReceived)
		}
		if s.OnDelayCalculated != nil {
			delays = append(delays, s.OnDelayCalculated)
		}
		if s.OnTooManyRequests != nil {
			throttled = append(throttled, s.OnTooManyRequests)
		}
		if s.OnParsingError != nil {
			parsing = append(parsing, s.OnParsingError)
		}
	}

	if len(headers) > 0 {
		chained.OnHeadersReceived = func(target *url.URL, snap models.HeaderSnapshot) {
			runAll(len(headers), func(i int) { headers[i](target, snap) })
		}
	}
	if len(delays) > 0 {
		chained.OnDelayCalculated = func(target *url.URL, delay time.Duration) {
			runAll(len(delays), func(i int) { delays[i](target, delay) })
		}
	}
	if len(throttled) > 0 {
		chained.OnTooManyRequests = func(req *http.Request, resp *http.Response) {
			runAll(len(throttled), func(i int) { throttled[i](req, resp) })
		}
	}
	if len(parsing) > 0 {
		chained.OnParsingError = func(target *url.URL, err error) {
			runAll(len(parsing), func(i int) { parsing[i](target, err) })
		}
	}
	return chained
}

func runAll(n int, call func(i int)) {
	var first any
	for i := 0; i < n; i++ {
		func() {
			defer func() {
				if r := recover(); r != nil && first == nil {
					first = r
				}
			}()
			call(i)
		}()
	}
	if first != nil {
		panic(first)
	}
}
