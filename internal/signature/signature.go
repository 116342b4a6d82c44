// Package signature signs and verifies payment webhook payloads with
// HMAC-SHA256.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// Header names checked, in order, for an inbound webhook signature.
const (
	HeaderPrimary  = "X-Crossmint-Signature"
	HeaderFallback = "Crossmint-Signature"
)

// Create returns the lowercase hex HMAC-SHA256 of payload keyed by secret.
func Create(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// TimingSafeEqual compares a and b without short-circuiting on the first
// differing byte. Strings of different length never match.
func TimingSafeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := 0; i < len(a); i++ {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// Verify reports whether signature is the HMAC of payload under secret.
// Empty inputs never verify.
func Verify(signature, payload, secret string) bool {
	if signature == "" || payload == "" || secret == "" {
		return false
	}
	return TimingSafeEqual(signature, Create(payload, secret))
}

// FromHeader extracts the webhook signature from request headers.
func FromHeader(h http.Header) string {
	if v := strings.TrimSpace(h.Get(HeaderPrimary)); v != "" {
		return v
	}
	return strings.TrimSpace(h.Get(HeaderFallback))
}
