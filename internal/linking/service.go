package linking

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"kinlink.org/internal/identity"
	"kinlink.org/internal/ids"
)

const (
	defaultInviteTTL    = 7 * 24 * time.Hour
	defaultShareBaseURL = "http://localhost:3000"
)

// Service orchestrates invite and link operations. Role and ownership are
// checked against the typed caller identity before any store access.
type Service struct {
	store        Store
	now          func() time.Time
	inviteTTL    time.Duration
	shareBaseURL string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithInviteTTL configures how long a fresh invite stays acceptable.
func WithInviteTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.inviteTTL = ttl
		}
		return nil
	}
}

// WithShareBaseURL sets the frontend base used to build one-time share links.
func WithShareBaseURL(base string) ServiceOption {
	return func(s *Service) error {
		base = strings.TrimRight(strings.TrimSpace(base), "/")
		if base == "" {
			return errors.New("linking: share base URL must not be empty")
		}
		if _, err := url.Parse(base); err != nil {
			return fmt.Errorf("linking: parse share base URL: %w", err)
		}
		s.shareBaseURL = base
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	svc := &Service{
		store:        store,
		now:          time.Now,
		inviteTTL:    defaultInviteTTL,
		shareBaseURL: defaultShareBaseURL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// CreateInvite issues a new pending invite for the given email and returns
// its view with the one-time share link. The raw token appears nowhere else.
func (s *Service) CreateInvite(ctx context.Context, caller identity.Identity, inviteeEmail string) (InviteView, error) {
	if caller.Role != identity.RoleGuardian {
		return InviteView{}, fmt.Errorf("%w: only guardians can create invites", ErrForbidden)
	}
	email, err := normalizeEmail(inviteeEmail)
	if err != nil {
		return InviteView{}, err
	}
	now := s.now().UTC()

	// Friendly pre-check: an actively linked child cannot be re-invited.
	// The pending-invite uniqueness itself is enforced by the store.
	if acct, err := s.store.Accounts().FindByEmail(ctx, email); err == nil {
		link, err := s.store.Links().Find(ctx, caller.AccountID, acct.ID)
		if err == nil && link.Status == LinkStatusActive {
			return InviteView{}, fmt.Errorf("%w: account already linked; revoke the link first", ErrConflict)
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return InviteView{}, err
		}
	} else if !errors.Is(err, ErrNotFound) {
		return InviteView{}, err
	}

	raw, digest, err := GenerateToken()
	if err != nil {
		return InviteView{}, err
	}
	inv := &Invite{
		ID:           ids.New(),
		GuardianID:   caller.AccountID,
		InviteeEmail: email,
		TokenHash:    digest,
		Status:       InviteStatusInvited,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.inviteTTL),
	}
	err = s.store.Invites().Create(ctx, inv)
	if errors.Is(err, errTokenHashTaken) {
		// A digest collision at 256 bits means broken randomness more than
		// bad luck; retry once with fresh material, then give up.
		raw, digest, err = GenerateToken()
		if err != nil {
			return InviteView{}, err
		}
		inv.TokenHash = digest
		err = s.store.Invites().Create(ctx, inv)
		if errors.Is(err, errTokenHashTaken) {
			return InviteView{}, errors.New("linking: token digest collision persisted across regeneration")
		}
	}
	if err != nil {
		return InviteView{}, err
	}

	view := inv.View()
	view.ShareURL = s.shareBaseURL + "/accept-invite?t=" + url.QueryEscape(raw)
	return view, nil
}

// ListInvites returns the guardian's invites, oldest first, with lazy expiry
// applied and persisted before any filtering.
func (s *Service) ListInvites(ctx context.Context, caller identity.Identity, statusFilter string) ([]InviteView, error) {
	if caller.Role != identity.RoleGuardian {
		return nil, fmt.Errorf("%w: only guardians can list invites", ErrForbidden)
	}
	var filter InviteStatus
	if strings.TrimSpace(statusFilter) != "" {
		filter = InviteStatus(strings.TrimSpace(strings.ToLower(statusFilter)))
		if !filter.Valid() {
			return nil, fmt.Errorf("%w: unknown invite status %q", ErrInvalidInput, statusFilter)
		}
	}

	invites, err := s.store.Invites().ListByGuardian(ctx, caller.AccountID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	views := make([]InviteView, 0, len(invites))
	for _, inv := range invites {
		if filter != "" && inv.Status != filter {
			continue
		}
		views = append(views, inv.View())
	}
	return views, nil
}

// AcceptInvite redeems a raw token for the calling child and creates or
// reactivates the guardian-child link.
func (s *Service) AcceptInvite(ctx context.Context, caller identity.Identity, rawToken string) (LinkView, error) {
	if caller.Role != identity.RoleChild {
		return LinkView{}, fmt.Errorf("%w: only children can accept invites", ErrForbidden)
	}
	raw := strings.TrimSpace(rawToken)
	if raw == "" {
		return LinkView{}, fmt.Errorf("%w: token is required", ErrInvalidInput)
	}
	now := s.now().UTC()

	inv, err := s.store.Invites().Accept(ctx, DigestToken(raw), caller.Email, caller.AccountID, now)
	if err != nil {
		return LinkView{}, err
	}
	link, err := s.store.Links().UpsertActive(ctx, inv.GuardianID, caller.AccountID, now)
	if err != nil {
		return LinkView{}, err
	}
	return link.View(), nil
}

// RevokeInvite marks the guardian's invite revoked. The operation is
// idempotent and applies to every prior status; revoking an accepted invite
// deliberately leaves the resulting link untouched.
func (s *Service) RevokeInvite(ctx context.Context, caller identity.Identity, inviteID string) (InviteView, error) {
	if caller.Role != identity.RoleGuardian {
		return InviteView{}, fmt.Errorf("%w: only guardians can revoke invites", ErrForbidden)
	}
	inviteID = strings.TrimSpace(inviteID)
	if inviteID == "" {
		return InviteView{}, fmt.Errorf("%w: invite id is required", ErrInvalidInput)
	}
	inv, err := s.store.Invites().Revoke(ctx, caller.AccountID, inviteID)
	if err != nil {
		return InviteView{}, err
	}
	return inv.View(), nil
}

// ListChildren returns the guardian's actively linked children.
func (s *Service) ListChildren(ctx context.Context, caller identity.Identity) ([]LinkedAccount, error) {
	if caller.Role != identity.RoleGuardian {
		return nil, fmt.Errorf("%w: not a guardian", ErrForbidden)
	}
	return s.store.Links().ListChildrenOf(ctx, caller.AccountID)
}

// ListGuardians returns the child's actively linked guardians.
func (s *Service) ListGuardians(ctx context.Context, caller identity.Identity) ([]LinkedAccount, error) {
	if caller.Role != identity.RoleChild {
		return nil, fmt.Errorf("%w: not a child", ErrForbidden)
	}
	return s.store.Links().ListGuardiansOf(ctx, caller.AccountID)
}

// UnlinkChild revokes the guardian's link to the given child.
func (s *Service) UnlinkChild(ctx context.Context, caller identity.Identity, childID string) (LinkView, error) {
	if caller.Role != identity.RoleGuardian {
		return LinkView{}, fmt.Errorf("%w: not a guardian", ErrForbidden)
	}
	childID = strings.TrimSpace(childID)
	if childID == "" {
		return LinkView{}, fmt.Errorf("%w: child id is required", ErrInvalidInput)
	}
	link, err := s.store.Links().Revoke(ctx, caller.AccountID, childID)
	if err != nil {
		return LinkView{}, err
	}
	return link.View(), nil
}

// UnlinkGuardian revokes the child's link to the given guardian.
func (s *Service) UnlinkGuardian(ctx context.Context, caller identity.Identity, guardianID string) (LinkView, error) {
	if caller.Role != identity.RoleChild {
		return LinkView{}, fmt.Errorf("%w: not a child", ErrForbidden)
	}
	guardianID = strings.TrimSpace(guardianID)
	if guardianID == "" {
		return LinkView{}, fmt.Errorf("%w: guardian id is required", ErrInvalidInput)
	}
	link, err := s.store.Links().Revoke(ctx, guardianID, caller.AccountID)
	if err != nil {
		return LinkView{}, err
	}
	return link.View(), nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.TrimSpace(strings.ToLower(raw))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	return email, nil
}
