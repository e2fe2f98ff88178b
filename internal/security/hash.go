package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// HashRefreshToken derives the storage key of a refresh token; the raw value
// is never persisted.
func HashRefreshToken(token, pepper string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	_, _ = mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// HashAPIKey derives the lookup key of a static service API key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
