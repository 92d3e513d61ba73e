package linking

import (
	"encoding/base64"
	"testing"
)

func TestGenerateTokenShape(t *testing.T) {
	raw, digest, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		t.Fatalf("raw token is not URL-safe base64: %v", err)
	}
	if len(decoded) != tokenBytes {
		t.Fatalf("expected %d bytes of entropy, got %d", tokenBytes, len(decoded))
	}
	if len(digest) != 64 {
		t.Fatalf("expected 64 hex chars of digest, got %d", len(digest))
	}
	if digest == raw {
		t.Fatal("digest must not equal the raw token")
	}
}

func TestGenerateTokenUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		raw, _, err := GenerateToken()
		if err != nil {
			t.Fatalf("GenerateToken: %v", err)
		}
		if seen[raw] {
			t.Fatal("duplicate token generated")
		}
		seen[raw] = true
	}
}

func TestDigestTokenDeterministic(t *testing.T) {
	raw, digest, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if DigestToken(raw) != digest {
		t.Fatal("digest is not deterministic")
	}
	if DigestToken(raw+"x") == digest {
		t.Fatal("different tokens produced the same digest")
	}
}
