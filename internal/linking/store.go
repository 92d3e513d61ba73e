package linking

import (
	"context"
	"time"
)

// Store bundles the persistence surfaces required by the linking subsystem.
// Implementations must be safe for concurrent use; every check-then-mutate
// sequence below is atomic inside the store, with the storage-level
// uniqueness constraints as the enforcement mechanism of record.
type Store interface {
	Invites() InviteStore
	Links() LinkStore
	Accounts() AccountDirectory
}

// InviteStore owns invitation rows and the invite state machine.
type InviteStore interface {
	// Create persists a new pending invite. Any stale pending invite for the
	// same (guardian, email) pair is lazily expired first; a live pending one
	// yields ErrConflict. A stored-digest collision yields errTokenHashTaken.
	Create(ctx context.Context, inv *Invite) error

	// ListByGuardian returns every invite owned by the guardian, oldest
	// first, after applying and persisting lazy expiry.
	ListByGuardian(ctx context.Context, guardianID string, now time.Time) ([]Invite, error)

	// Accept atomically transitions the invite identified by tokenHash to
	// accepted. It applies lazy expiry first, then fails with ErrNotFound
	// (unknown digest), ErrConflict (not in invited state), or ErrForbidden
	// (callerEmail does not match the invitee) without mutating the row.
	Accept(ctx context.Context, tokenHash, callerEmail, callerAccountID string, now time.Time) (Invite, error)

	// Revoke marks the invite revoked regardless of prior status. It fails
	// with ErrNotFound for unknown ids and ErrForbidden when the invite is
	// not owned by guardianID. Revoking an already-revoked invite succeeds
	// and returns the row unchanged.
	Revoke(ctx context.Context, guardianID, inviteID string) (Invite, error)
}

// LinkStore owns guardian-child relationship rows.
type LinkStore interface {
	// UpsertActive inserts the pair's row or reactivates the existing one as
	// a single atomic operation keyed on the pair uniqueness constraint.
	UpsertActive(ctx context.Context, guardianID, childID string, now time.Time) (Link, error)

	// Find returns the pair's row in any status, or ErrNotFound.
	Find(ctx context.Context, guardianID, childID string) (Link, error)

	// ListChildrenOf / ListGuardiansOf return the opposing party of every
	// active link, ordered by display name.
	ListChildrenOf(ctx context.Context, guardianID string) ([]LinkedAccount, error)
	ListGuardiansOf(ctx context.Context, childID string) ([]LinkedAccount, error)

	// Revoke sets the pair's row to revoked. Revoking a pair with no history
	// is ErrNotFound; revoking an already-revoked pair succeeds silently.
	Revoke(ctx context.Context, guardianID, childID string) (Link, error)
}

// AccountDirectory is the read-only view of externally provisioned accounts.
type AccountDirectory interface {
	Find(ctx context.Context, accountID string) (Account, error)
	// FindByEmail resolves an account by case-insensitive email.
	FindByEmail(ctx context.Context, email string) (Account, error)
}
