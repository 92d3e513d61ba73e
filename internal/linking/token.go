package linking

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

const tokenBytes = 32

// GenerateToken returns a fresh raw invite token and its storable digest.
// The raw value is 256 bits from crypto/rand rendered as unpadded URL-safe
// base64; it is shown to the caller exactly once and only the digest is kept.
func GenerateToken() (raw, digest string, err error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, DigestToken(raw), nil
}

// DigestToken maps a raw token to the deterministic digest used for storage
// and lookup. Tokens are high entropy and short lived, so a fast hash is the
// right tool here rather than a password KDF.
func DigestToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
