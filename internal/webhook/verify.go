package webhook

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Headers maps header names to their values. A header with one value is a
// scalar; more than one value makes it multi-valued.
type Headers map[string][]string

// HeadersFromHTTP copies an http.Header.
func HeadersFromHTTP(h http.Header) Headers {
	out := make(Headers, len(h))
	for name, values := range h {
		out[name] = append([]string(nil), values...)
	}
	return out
}

// Values returns the values of name across every case variant of the key.
func (h Headers) Values(name string) []string {
	var out []string
	for key, v := range h {
		if strings.EqualFold(key, name) {
			out = append(out, v...)
		}
	}
	return out
}

// Without returns a copy of h with name removed (case-insensitive).
func (h Headers) Without(name string) Headers {
	out := make(Headers, len(h))
	for key, v := range h {
		if strings.EqualFold(key, name) {
			continue
		}
		out[key] = v
	}
	return out
}

// Object renders the headers the way they are attached to events: scalars as
// strings, multi-valued headers as lists, keys lower-cased.
func (h Headers) Object() map[string]any {
	out := make(map[string]any, len(h))
	for key := range h {
		lower := strings.ToLower(key)
		if _, seen := out[lower]; seen {
			continue
		}
		switch values := h.Values(key); len(values) {
		case 0:
			continue
		case 1:
			out[lower] = values[0]
		default:
			out[lower] = values
		}
	}
	return out
}

// VerifySecret checks the designated secret header against expected.
//
// It fails closed: an empty expected secret never verifies. The header must be
// present exactly once; multi-valued headers are rejected rather than merged.
// Values are compared exactly (case-sensitive) in constant time.
func VerifySecret(headers Headers, header, expected string) bool {
	if expected == "" {
		return false
	}
	if header == "" {
		header = DefaultSecretHeader
	}

	values := headers.Values(header)
	if len(values) != 1 || values[0] == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(values[0]), []byte(expected)) == 1
}
