package crawler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sign computes the lower-case hex HMAC-SHA256 of payload under secret.
// Returns "" when either input is empty.
func Sign(secret string, payload []byte) string {
	if secret == "" || len(payload) == 0 {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature over payload and compares it with sig,
// case-insensitively and in constant time. Returns false on any missing
// input; never panics.
func Verify(secret string, payload []byte, sig string) bool {
	if secret == "" || len(payload) == 0 || sig == "" {
		return false
	}
	want := Sign(secret, payload)
	return hmac.Equal([]byte(want), []byte(strings.ToLower(sig)))
}
