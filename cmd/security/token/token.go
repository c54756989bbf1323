// Package token checks the shared bearer token that guards the REST API and
// the event stream.
package token

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
)

// Equal compares got against want in constant time. Both are hashed first
// so the comparison does not leak the configured token's length.
func Equal(got, want string) bool {
	a := sha256.Sum256([]byte(got))
	b := sha256.Sum256([]byte(want))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// FromHeader extracts the token of an "Authorization: Bearer <token>" header.
func FromHeader(h http.Header) (string, bool) {
	raw := strings.TrimSpace(h.Get("Authorization"))
	scheme, tok, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

// Guard reports whether a request presenting got may proceed. An empty want
// disables the check.
func Guard(got, want string) bool {
	if want == "" {
		return true
	}
	return Equal(got, want)
}
