package headers

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingParameter is reported when an item lacks its required
	// parameter (q for policies, r for limits).
	ErrMissingParameter = errors.New("headers: missing required parameter")

	// ErrInvalidParameter is reported when a required parameter is present but
	// not a usable integer.
	ErrInvalidParameter = errors.New("headers: invalid parameter value")

	// ErrInvalidRetryAfter is reported when Retry-After is neither
	// delay-seconds nor an HTTP-date.
	ErrInvalidRetryAfter = errors.New("headers: invalid Retry-After value")

	// ErrDecoderPanic is reported when decoding one header occurrence panicked.
	// The occurrence contributes nothing to the snapshot.
	ErrDecoderPanic = errors.New("headers: decoder panic")
)

// FieldError describes one dropped item or header occurrence.
type FieldError struct {
	Header string
	Item   string
	Err    error
}

func (e *FieldError) Error() string {
	if e.Item == "" {
		return fmt.Sprintf("%s: %v", e.Header, e.Err)
	}
	return fmt.Sprintf("%s item %q: %v", e.Header, e.Item, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// ParseError aggregates everything dropped while decoding one response.
// The snapshot returned next to it is still usable.
type ParseError struct {
	Errors []error
}

func (e *ParseError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("rate limit headers: %d problem(s): %s", len(e.Errors), strings.Join(msgs, "; "))
}

func (e *ParseError) Unwrap() []error {
	return e.Errors
}
