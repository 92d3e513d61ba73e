package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func setTestSecret(t *testing.T) {
	t.Helper()
	t.Setenv("KINLINK_AUTH_SECRET", "unit-test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
}

func TestGenerateAndParseRoundTrip(t *testing.T) {
	setTestSecret(t)

	token, err := GenerateToken("acct-1", "Sam@Example.com", RoleChild, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	id, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if id.AccountID != "acct-1" {
		t.Fatalf("unexpected account id: %s", id.AccountID)
	}
	if id.Email != "sam@example.com" {
		t.Fatalf("email not normalized: %s", id.Email)
	}
	if id.Role != RoleChild {
		t.Fatalf("unexpected role: %s", id.Role)
	}
}

func TestGenerateTokenValidation(t *testing.T) {
	setTestSecret(t)

	if _, err := GenerateToken("", "sam@example.com", RoleChild, time.Hour); err == nil {
		t.Fatal("expected error for empty account id")
	}
	if _, err := GenerateToken("acct-1", "sam@example.com", RoleChild, 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	setTestSecret(t)

	for _, token := range []string{"", "   ", "not.a.jwt", "a.b.c"} {
		if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	setTestSecret(t)
	token, err := GenerateToken("acct-1", "sam@example.com", RoleChild, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	t.Setenv("KINLINK_AUTH_SECRET", "a-different-secret")
	ResetSecretForTests()

	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestMissingSecret(t *testing.T) {
	t.Setenv("KINLINK_AUTH_SECRET", "")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	if _, err := GenerateToken("acct-1", "sam@example.com", RoleChild, time.Hour); err == nil {
		t.Fatal("expected error when secret is unset")
	}
}

func TestParseRole(t *testing.T) {
	cases := map[string]Role{
		"child":     RoleChild,
		" Guardian": RoleGuardian,
		"GUARDIAN":  RoleGuardian,
		"admin":     RoleOther,
		"":          RoleOther,
	}
	for raw, want := range cases {
		if got := ParseRole(raw); got != want {
			t.Errorf("ParseRole(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := ContextWithIdentity(context.Background(), Identity{AccountID: "acct-1", Email: "sam@example.com", Role: RoleChild})

	id, ok := FromContext(ctx)
	if !ok || id.AccountID != "acct-1" {
		t.Fatalf("FromContext = %+v, %v", id, ok)
	}
	acctID, ok := AccountIDFromContext(ctx)
	if !ok || acctID != "acct-1" {
		t.Fatalf("AccountIDFromContext = %q, %v", acctID, ok)
	}

	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("expected no identity on a bare context")
	}
}
