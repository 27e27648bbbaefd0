// Package structfield implements the small subset of the HTTP structured-field
// grammar needed to read rate-limit headers: lists of items, each with a bare
// value and an ordered set of parameters, plus the byte-sequence codec used
// for partition keys.
//
// Inner lists, dictionaries, tokens, decimals and booleans are not supported.
// Malformed input never produces an error; the parser skips what it cannot
// read or returns the input unchanged.
package structfield

import (
	"encoding/base64"
	"strings"
)

// Parser is the capability set the header decoder depends on. An alternative
// wire-format implementation can be substituted by satisfying it.
type Parser interface {
	// ParseList splits a structured-field list into items.
	ParseList(text string) []Item

	// ParseString strips one layer of surrounding double quotes.
	ParseString(text string) string

	// ParseByteSequence decodes a :base64: byte sequence into a UTF-8 string.
	ParseByteSequence(text string) string

	// SerializeByteSequence encodes text as a :base64: byte sequence.
	SerializeByteSequence(text string) string
}

// DefaultParser is the stateless built-in Parser.
type DefaultParser struct{}

var _ Parser = DefaultParser{}

// ParseList tokenizes a list header value. Commas and semicolons inside a
// double-quoted span are not separators, and a backslash copies the next
// character verbatim. Empty or whitespace-only input yields an empty list.
func (p DefaultParser) ParseList(text string) []Item {
	items := []Item{}
	if strings.TrimSpace(text) == "" {
		return items
	}

	for _, member := range splitTopLevel(text, ',') {
		member = strings.TrimSpace(member)
		if member == "" {
			continue
		}
		items = append(items, p.parseItem(member))
	}
	return items
}

func (p DefaultParser) parseItem(member string) Item {
	segments := splitTopLevel(member, ';')
	item := Item{
		Value:  p.ParseString(strings.TrimSpace(segments[0])),
		Params: newParams(len(segments) - 1),
	}

	for _, seg := range segments[1:] {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		key, value, found := strings.Cut(seg, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if !found {
			item.Params.set(key, "true")
			continue
		}
		item.Params.set(key, strings.TrimSpace(value))
	}
	return item
}

// ParseString removes one pair of surrounding double quotes. No other
// unescaping is done.
func (DefaultParser) ParseString(text string) string {
	if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
		return text[1 : len(text)-1]
	}
	return text
}

// ParseByteSequence decodes a colon-wrapped base64 value. Input that is not
// colon-wrapped, or that fails to decode, is returned unchanged.
func (DefaultParser) ParseByteSequence(text string) string {
	if len(text) < 2 || text[0] != ':' || text[len(text)-1] != ':' {
		return text
	}
	decoded, err := base64.StdEncoding.DecodeString(text[1 : len(text)-1])
	if err != nil {
		return text
	}
	return string(decoded)
}

// SerializeByteSequence is the inverse of ParseByteSequence.
func (DefaultParser) SerializeByteSequence(text string) string {
	return ":" + base64.StdEncoding.EncodeToString([]byte(text)) + ":"
}

// splitTopLevel splits s on sep, ignoring separators inside double-quoted
// spans. A backslash escapes the following byte. Always returns at least one
// element.
func splitTopLevel(s string, sep byte) []string {
	var (
		parts   []string
		start   int
		inQuote bool
	)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\':
			i++
		case c == '"':
			inQuote = !inQuote
		case c == sep && !inQuote:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// Package-level helpers delegating to DefaultParser.

// ParseList is DefaultParser{}.ParseList.
func ParseList(text string) []Item { return DefaultParser{}.ParseList(text) }

// ParseString is DefaultParser{}.ParseString.
func ParseString(text string) string { return DefaultParser{}.ParseString(text) }

// ParseByteSequence is DefaultParser{}.ParseByteSequence.
func ParseByteSequence(text string) string { return DefaultParser{}.ParseByteSequence(text) }

// SerializeByteSequence is DefaultParser{}.SerializeByteSequence.
func SerializeByteSequence(text string) string {
	return DefaultParser{}.SerializeByteSequence(text)
}
