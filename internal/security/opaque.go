package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// opaqueTokenBytes is the entropy of session and verification tokens (256 bits).
const opaqueTokenBytes = 32

// NewOpaqueToken returns a random bearer value encoded as unpadded base64url.
// Only HashToken(value) is ever persisted.
func NewOpaqueToken() (string, error) {
	b := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken returns a SHA-256 hash of the token string, hex-encoded.
// Used for storing and looking up tokens without storing the raw value.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// TokenHashEqual performs constant-time comparison of the provided token's hash
// with the stored hash. Returns true only if they match.
func TokenHashEqual(providedToken, storedHash string) bool {
	providedHash := HashToken(providedToken)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}
