package identity

import (
	"context"
	"strings"
)

// Role classifies an account for access decisions.
type Role string

const (
	RoleChild    Role = "child"
	RoleGuardian Role = "guardian"
	RoleOther    Role = "other"
)

// ParseRole normalizes a raw role string; anything unrecognized maps to RoleOther.
func ParseRole(raw string) Role {
	switch Role(strings.TrimSpace(strings.ToLower(raw))) {
	case RoleChild:
		return RoleChild
	case RoleGuardian:
		return RoleGuardian
	default:
		return RoleOther
	}
}

// Identity is the verified caller as resolved by the identity gateway.
// The linking core trusts these fields; it never inspects credentials itself.
type Identity struct {
	AccountID string
	Email     string
	Role      Role
}

type identityContextKey struct{}

// ContextWithIdentity attaches the authenticated caller to the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, &id)
}

// FromContext extracts the authenticated caller from the context.
func FromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || v == nil || strings.TrimSpace(v.AccountID) == "" {
		return Identity{}, false
	}
	return *v, true
}

// AccountIDFromContext returns just the caller's account id, if present.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	id, ok := FromContext(ctx)
	if !ok {
		return "", false
	}
	return id.AccountID, true
}
