// Package identity reads claims out of bearer tokens so requests can be
// assigned to a rate limit partition. Tokens are never verified; the claim is
// only used as an opaque grouping key.
package identity

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// BearerToken returns the token of an "Authorization: Bearer ..." header.
func BearerToken(r *http.Request) (string, bool) {
	if r == nil {
		return "", false
	}
	scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Claim returns the named claim from the payload segment of a JWT-shaped
// token. Numbers and booleans are formatted as strings. Missing claims,
// malformed tokens and non-scalar values all report false.
func Claim(token, name string) (string, bool) {
	parts := strings.Split(token, ".")
	if len(parts) < 2 || parts[1] == "" {
		return "", false
	}

	payload, err := decodeSegment(parts[1])
	if err != nil {
		return "", false
	}

	var claims map[string]any
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&claims); err != nil {
		return "", false
	}

	switch v := claims[name].(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}

// FromRequest returns the named claim of the request's bearer token.
func FromRequest(r *http.Request, name string) (string, bool) {
	token, ok := BearerToken(r)
	if !ok {
		return "", false
	}
	return Claim(token, name)
}

// PartitionFromBearer returns a partition function keyed by the named claim.
// Requests without a readable claim map to "".
func PartitionFromBearer(claim string) func(*http.Request) string {
	return func(r *http.Request) string {
		v, _ := FromRequest(r, claim)
		return v
	}
}

// decodeSegment accepts base64url or standard base64, with or without padding.
func decodeSegment(seg string) ([]byte, error) {
	seg = strings.TrimRight(seg, "=")
	if b, err := base64.RawURLEncoding.DecodeString(seg); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(seg)
}
