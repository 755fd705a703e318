// Package signature holds the keyed-hash scheme shared by the outbound hash
// gateway adapters and the inbound webhook verifier. Both sides call the same
// functions so the two computations cannot drift apart.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Delimiter between hash fields. The gateways sign over a pipe-joined string.
const Delimiter = "|"

// Keyed computes the lowercase hex SHA-512 digest of the ordered fields
// joined by Delimiter with the shared secret appended as the final field.
func Keyed(fields []string, secret string) string {
	material := strings.Join(fields, Delimiter) + Delimiter + secret
	sum := sha512.Sum512([]byte(material))
	return hex.EncodeToString(sum[:])
}

// KeyedV2 computes the secondary variant some counterpart services validate
// against: the same material with the secret reversed.
func KeyedV2(fields []string, secret string) string {
	return Keyed(fields, Reverse(secret))
}

// Reverse returns s with its bytes in reverse order.
func Reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

// Equal compares two hex digests case-insensitively in constant time.
// Gateways are known to deliver inconsistent casing in their hash material.
func Equal(a, b string) bool {
	x := []byte(strings.ToLower(strings.TrimSpace(a)))
	y := []byte(strings.ToLower(strings.TrimSpace(b)))
	if len(x) != len(y) {
		return false
	}
	return subtle.ConstantTimeCompare(x, y) == 1
}

// HMACSHA256 computes the lowercase hex HMAC-SHA256 of payload, the scheme
// the card processor signs its webhooks with.
func HMACSHA256(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
