package linking

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"kinlink.org/internal/identity"
)

var (
	guardianCaller = identity.Identity{AccountID: "guard-1", Email: "pat@example.com", Role: identity.RoleGuardian}
	otherGuardian  = identity.Identity{AccountID: "guard-2", Email: "alex@example.com", Role: identity.RoleGuardian}
	childCaller    = identity.Identity{AccountID: "child-1", Email: "sam@example.com", Role: identity.RoleChild}
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func newTestService(t *testing.T) (*Service, *Memory, *testClock) {
	t.Helper()
	store := NewMemory()
	store.SeedAccount(Account{ID: "guard-1", Email: "pat@example.com", DisplayName: "Pat", Role: "guardian"})
	store.SeedAccount(Account{ID: "guard-2", Email: "alex@example.com", DisplayName: "Alex", Role: "guardian"})
	store.SeedAccount(Account{ID: "child-1", Email: "sam@example.com", DisplayName: "Sam", Role: "child"})

	clock := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	svc, err := NewService(store, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store, clock
}

func rawTokenFromShare(t *testing.T, view InviteView) string {
	t.Helper()
	if view.ShareURL == "" {
		t.Fatal("expected share URL on creation")
	}
	u, err := url.Parse(view.ShareURL)
	if err != nil {
		t.Fatalf("parse share URL: %v", err)
	}
	raw := u.Query().Get("t")
	if raw == "" {
		t.Fatal("share URL missing token parameter")
	}
	return raw
}

func TestCreateInviteHappyPath(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	view, err := svc.CreateInvite(ctx, guardianCaller, "Sam@Example.com")
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	if view.Status != InviteStatusInvited {
		t.Fatalf("unexpected status: %s", view.Status)
	}
	if view.InviteeEmail != "sam@example.com" {
		t.Fatalf("email not normalized: %s", view.InviteeEmail)
	}
	if want := clock.Now().Add(7 * 24 * time.Hour); !view.ExpiresAt.Equal(want) {
		t.Fatalf("unexpected expiry: %v, want %v", view.ExpiresAt, want)
	}
	rawTokenFromShare(t, view)
}

func TestCreateInviteDuplicatePending(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateInvite(ctx, guardianCaller, "sam@example.com"); err != nil {
		t.Fatalf("first CreateInvite: %v", err)
	}
	if _, err := svc.CreateInvite(ctx, guardianCaller, "SAM@example.com"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	// A different guardian inviting the same email is fine.
	if _, err := svc.CreateInvite(ctx, otherGuardian, "sam@example.com"); err != nil {
		t.Fatalf("other guardian CreateInvite: %v", err)
	}
}

func TestCreateInviteRoleAndValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateInvite(ctx, childCaller, "sam@example.com"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for child caller, got %v", err)
	}
	if _, err := svc.CreateInvite(ctx, guardianCaller, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty email, got %v", err)
	}
	if _, err := svc.CreateInvite(ctx, guardianCaller, "not-an-email"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for malformed email, got %v", err)
	}
}

func TestCreateInviteBlockedWhileLinked(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	view, err := svc.CreateInvite(ctx, guardianCaller, "sam@example.com")
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	if _, err := svc.AcceptInvite(ctx, childCaller, rawTokenFromShare(t, view)); err != nil {
		t.Fatalf("AcceptInvite: %v", err)
	}

	if _, err := svc.CreateInvite(ctx, guardianCaller, "sam@example.com"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict while link is active, got %v", err)
	}

	// After unlinking, a fresh invite is allowed again.
	if _, err := svc.UnlinkChild(ctx, guardianCaller, "child-1"); err != nil {
		t.Fatalf("UnlinkChild: %v", err)
	}
	if _, err := svc.CreateInvite(ctx, guardianCaller, "sam@example.com"); err != nil {
		t.Fatalf("CreateInvite after unlink: %v", err)
	}
}

func TestListInvitesLazyExpiryPersists(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateInvite(ctx, guardianCaller, "sam@example.com"); err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	created := clock.Now()

	clock.Advance(8 * 24 * time.Hour)
	views, err := svc.ListInvites(ctx, guardianCaller, "")
	if err != nil {
		t.Fatalf("ListInvites: %v", err)
	}
	if len(views) != 1 || views[0].Status != InviteStatusExpired {
		t.Fatalf("expected one expired invite, got %+v", views)
	}

	// The transition persisted: reading with a rewound clock must not
	// resurrect the invite.
	clock.Set(created)
	views, err = svc.ListInvites(ctx, guardianCaller, "")
	if err != nil {
		t.Fatalf("ListInvites: %v", err)
	}
	if views[0].Status != InviteStatusExpired {
		t.Fatalf("expiry did not persist, got %s", views[0].Status)
	}
}

func TestListInvitesStatusFilter(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateInvite(ctx, guardianCaller, "sam@example.com")
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	if _, err := svc.RevokeInvite(ctx, guardianCaller, first.ID); err != nil {
		t.Fatalf("RevokeInvite: %v", err)
	}
	if _, err := svc.CreateInvite(ctx, guardianCaller, "sam@example.com"); err != nil {
		t.Fatalf("second CreateInvite: %v", err)
	}

	views, err := svc.ListInvites(ctx, guardianCaller, "revoked")
	if err != nil {
		t.Fatalf("ListInvites: %v", err)
	}
	if len(views) != 1 || views[0].ID != first.ID {
		t.Fatalf("expected only the revoked invite, got %+v", views)
	}

	if _, err := svc.ListInvites(ctx, guardianCaller, "bogus"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown filter, got %v", err)
	}
}

func TestAcceptInviteFailures(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	view, err := svc.CreateInvite(ctx, guardianCaller, "sam@example.com")
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	raw := rawTokenFromShare(t, view)

	if _, err := svc.AcceptInvite(ctx, guardianCaller, raw); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for guardian caller, got %v", err)
	}
	if _, err := svc.AcceptInvite(ctx, childCaller, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank token, got %v", err)
	}
	if _, err := svc.AcceptInvite(ctx, childCaller, "definitely-wrong"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown token, got %v", err)
	}

	wrongChild := identity.Identity{AccountID: "child-9", Email: "other@example.com", Role: identity.RoleChild}
	if _, err := svc.AcceptInvite(ctx, wrongChild, raw); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for email mismatch, got %v", err)
	}

	clock.Advance(8 * 24 * time.Hour)
	if _, err := svc.AcceptInvite(ctx, childCaller, raw); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for expired invite, got %v", err)
	}
}

func TestAcceptInviteTwice(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	view, err := svc.CreateInvite(ctx, guardianCaller, "sam@example.com")
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	raw := rawTokenFromShare(t, view)

	if _, err := svc.AcceptInvite(ctx, childCaller, raw); err != nil {
		t.Fatalf("first AcceptInvite: %v", err)
	}
	if _, err := svc.AcceptInvite(ctx, childCaller, raw); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on second accept, got %v", err)
	}
}

func TestRevokeInviteIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	view, err := svc.CreateInvite(ctx, guardianCaller, "sam@example.com")
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}

	first, err := svc.RevokeInvite(ctx, guardianCaller, view.ID)
	if err != nil {
		t.Fatalf("RevokeInvite: %v", err)
	}
	second, err := svc.RevokeInvite(ctx, guardianCaller, view.ID)
	if err != nil {
		t.Fatalf("second RevokeInvite: %v", err)
	}
	if first.Status != InviteStatusRevoked || second.Status != InviteStatusRevoked {
		t.Fatalf("expected revoked both times, got %s then %s", first.Status, second.Status)
	}
}

func TestRevokeInviteOwnership(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	view, err := svc.CreateInvite(ctx, guardianCaller, "sam@example.com")
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}

	if _, err := svc.RevokeInvite(ctx, otherGuardian, view.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-owner, got %v", err)
	}
	if _, err := svc.RevokeInvite(ctx, guardianCaller, "no-such-invite"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.RevokeInvite(ctx, childCaller, view.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for child caller, got %v", err)
	}
}

func TestRevokeAcceptedInviteKeepsLink(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	view, err := svc.CreateInvite(ctx, guardianCaller, "sam@example.com")
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	if _, err := svc.AcceptInvite(ctx, childCaller, rawTokenFromShare(t, view)); err != nil {
		t.Fatalf("AcceptInvite: %v", err)
	}

	// Revoking the invite record after acceptance marks invite history only;
	// the link lives its own lifecycle and stays active.
	revoked, err := svc.RevokeInvite(ctx, guardianCaller, view.ID)
	if err != nil {
		t.Fatalf("RevokeInvite: %v", err)
	}
	if revoked.Status != InviteStatusRevoked {
		t.Fatalf("unexpected invite status: %s", revoked.Status)
	}

	children, err := svc.ListChildren(ctx, guardianCaller)
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if len(children) != 1 || children[0].AccountID != "child-1" {
		t.Fatalf("link should remain active, got %+v", children)
	}
}

func TestLinkRoundTripReactivatesSameRow(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	view, err := svc.CreateInvite(ctx, guardianCaller, "sam@example.com")
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	firstLink, err := svc.AcceptInvite(ctx, childCaller, rawTokenFromShare(t, view))
	if err != nil {
		t.Fatalf("AcceptInvite: %v", err)
	}

	children, err := svc.ListChildren(ctx, guardianCaller)
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if len(children) != 1 || children[0].Email != "sam@example.com" || children[0].DisplayName != "Sam" {
		t.Fatalf("unexpected children listing: %+v", children)
	}

	unlinked, err := svc.UnlinkChild(ctx, guardianCaller, "child-1")
	if err != nil {
		t.Fatalf("UnlinkChild: %v", err)
	}
	if unlinked.Status != LinkStatusRevoked || unlinked.ChildID != "child-1" {
		t.Fatalf("unexpected unlink result: %+v", unlinked)
	}
	children, _ = svc.ListChildren(ctx, guardianCaller)
	if len(children) != 0 {
		t.Fatalf("expected no active children after unlink, got %+v", children)
	}

	// Re-invite and accept: the same link row is reactivated, not duplicated.
	view2, err := svc.CreateInvite(ctx, guardianCaller, "sam@example.com")
	if err != nil {
		t.Fatalf("second CreateInvite: %v", err)
	}
	secondLink, err := svc.AcceptInvite(ctx, childCaller, rawTokenFromShare(t, view2))
	if err != nil {
		t.Fatalf("second AcceptInvite: %v", err)
	}
	if secondLink.ID != firstLink.ID {
		t.Fatalf("expected reactivated link %s, got new row %s", firstLink.ID, secondLink.ID)
	}
	if secondLink.Status != LinkStatusActive {
		t.Fatalf("unexpected status: %s", secondLink.Status)
	}
}

func TestUnlinkGuardianByChild(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	view, err := svc.CreateInvite(ctx, guardianCaller, "sam@example.com")
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	if _, err := svc.AcceptInvite(ctx, childCaller, rawTokenFromShare(t, view)); err != nil {
		t.Fatalf("AcceptInvite: %v", err)
	}

	guardians, err := svc.ListGuardians(ctx, childCaller)
	if err != nil {
		t.Fatalf("ListGuardians: %v", err)
	}
	if len(guardians) != 1 || guardians[0].AccountID != "guard-1" {
		t.Fatalf("unexpected guardians listing: %+v", guardians)
	}

	unlinked, err := svc.UnlinkGuardian(ctx, childCaller, "guard-1")
	if err != nil {
		t.Fatalf("UnlinkGuardian: %v", err)
	}
	if unlinked.Status != LinkStatusRevoked || unlinked.GuardianID != "guard-1" {
		t.Fatalf("unexpected unlink result: %+v", unlinked)
	}
	guardians, _ = svc.ListGuardians(ctx, childCaller)
	if len(guardians) != 0 {
		t.Fatalf("expected no active guardians, got %+v", guardians)
	}
}

func TestUnlinkPairWithoutHistory(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.UnlinkChild(ctx, guardianCaller, "child-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for pair without history, got %v", err)
	}
}

func TestUnlinkTwiceSucceedsSilently(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	view, err := svc.CreateInvite(ctx, guardianCaller, "sam@example.com")
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	if _, err := svc.AcceptInvite(ctx, childCaller, rawTokenFromShare(t, view)); err != nil {
		t.Fatalf("AcceptInvite: %v", err)
	}

	if _, err := svc.UnlinkChild(ctx, guardianCaller, "child-1"); err != nil {
		t.Fatalf("first UnlinkChild: %v", err)
	}
	second, err := svc.UnlinkChild(ctx, guardianCaller, "child-1")
	if err != nil {
		t.Fatalf("second UnlinkChild: %v", err)
	}
	if second.Status != LinkStatusRevoked {
		t.Fatalf("unexpected status: %s", second.Status)
	}
}

func TestConcurrentAcceptExactlyOneWins(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	view, err := svc.CreateInvite(ctx, guardianCaller, "sam@example.com")
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	raw := rawTokenFromShare(t, view)

	const n = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AcceptInvite(ctx, childCaller, raw)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || conflicts != n-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d/%d", n-1, successes, conflicts)
	}
}

func TestConcurrentCreateExactlyOneWins(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	const n = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateInvite(ctx, guardianCaller, "sam@example.com")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || conflicts != n-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d/%d", n-1, successes, conflicts)
	}
}

func TestListRoleChecks(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.ListInvites(ctx, childCaller, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.ListChildren(ctx, childCaller); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.ListGuardians(ctx, guardianCaller); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}
