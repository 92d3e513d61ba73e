package linking

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kinlink.org/internal/ids"
)

const uniqueViolation = "23505"

// PGStore implements Store using PostgreSQL. The uniqueness constraints in
// the schema (pending invite per guardian+email, token digest, link pair) are
// the enforcement mechanism of record; application checks only produce
// friendlier errors.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

// NewPGStore wraps an existing database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Open connects to PostgreSQL with pool defaults tuned for request traffic.
func Open(dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &PGStore{db: db}, nil
}

func (s *PGStore) Close() error { return s.db.Close() }

// DB exposes the handle for readiness probes and migrations.
func (s *PGStore) DB() *sql.DB { return s.db }

func (s *PGStore) Invites() InviteStore       { return &pgInvites{db: s.db} }
func (s *PGStore) Links() LinkStore           { return &pgLinks{db: s.db} }
func (s *PGStore) Accounts() AccountDirectory { return &pgAccounts{db: s.db} }

// Invite store --------------------------------------------------------------

type pgInvites struct{ db *sql.DB }

func (s *pgInvites) Create(ctx context.Context, inv *Invite) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Lazy expiry: a stale pending invite must not block a fresh one.
	if _, err := tx.ExecContext(ctx, `
		update guardian_invites set status = 'expired'
		where guardian_id = $1 and invitee_email = $2 and status = 'invited' and expires_at <= $3
	`, inv.GuardianID, inv.InviteeEmail, inv.CreatedAt); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into guardian_invites(id, guardian_id, invitee_email, token_hash, status, created_at, expires_at)
		values($1,$2,$3,$4,$5,$6,$7)
	`, inv.ID, inv.GuardianID, inv.InviteeEmail, inv.TokenHash, inv.Status, inv.CreatedAt, inv.ExpiresAt); err != nil {
		return mapInviteInsertError(err)
	}
	return tx.Commit()
}

func mapInviteInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if strings.Contains(pgErr.ConstraintName, "token_hash") {
			return errTokenHashTaken
		}
		return ErrConflict
	}
	return err
}

func (s *pgInvites) ListByGuardian(ctx context.Context, guardianID string, now time.Time) ([]Invite, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		update guardian_invites set status = 'expired'
		where guardian_id = $1 and status = 'invited' and expires_at <= $2
	`, guardianID, now); err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		select id, guardian_id, invitee_email, status, created_at, expires_at, accepted_at, accepted_account_id
		from guardian_invites where guardian_id = $1 order by created_at asc, id asc
	`, guardianID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invites []Invite
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		invites = append(invites, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return invites, tx.Commit()
}

func (s *pgInvites) Accept(ctx context.Context, tokenHash, callerEmail, callerAccountID string, now time.Time) (Invite, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Invite{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		select id, guardian_id, invitee_email, status, created_at, expires_at, accepted_at, accepted_account_id
		from guardian_invites where token_hash = $1 for update
	`, tokenHash)
	inv, err := scanInvite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Invite{}, ErrNotFound
	}
	if err != nil {
		return Invite{}, err
	}

	if inv.ExpireDue(now) {
		if _, err := tx.ExecContext(ctx, `
			update guardian_invites set status = 'expired' where id = $1
		`, inv.ID); err != nil {
			return Invite{}, err
		}
		// The expiry transition must stick even though acceptance fails.
		if err := tx.Commit(); err != nil {
			return Invite{}, err
		}
		return Invite{}, ErrConflict
	}
	if inv.Status != InviteStatusInvited {
		return Invite{}, ErrConflict
	}
	if !strings.EqualFold(inv.InviteeEmail, strings.TrimSpace(callerEmail)) {
		return Invite{}, ErrForbidden
	}

	if _, err := tx.ExecContext(ctx, `
		update guardian_invites set status = 'accepted', accepted_at = $2, accepted_account_id = $3 where id = $1
	`, inv.ID, now, callerAccountID); err != nil {
		return Invite{}, err
	}
	if err := tx.Commit(); err != nil {
		return Invite{}, err
	}

	accepted := now
	inv.Status = InviteStatusAccepted
	inv.AcceptedAt = &accepted
	inv.AcceptedAccountID = callerAccountID
	return inv, nil
}

func (s *pgInvites) Revoke(ctx context.Context, guardianID, inviteID string) (Invite, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Invite{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		select id, guardian_id, invitee_email, status, created_at, expires_at, accepted_at, accepted_account_id
		from guardian_invites where id = $1 for update
	`, inviteID)
	inv, err := scanInvite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Invite{}, ErrNotFound
	}
	if err != nil {
		return Invite{}, err
	}
	if inv.GuardianID != guardianID {
		return Invite{}, ErrForbidden
	}

	if inv.Status != InviteStatusRevoked {
		if _, err := tx.ExecContext(ctx, `
			update guardian_invites set status = 'revoked' where id = $1
		`, inv.ID); err != nil {
			return Invite{}, err
		}
		inv.Status = InviteStatusRevoked
	}
	if err := tx.Commit(); err != nil {
		return Invite{}, err
	}
	return inv, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvite(row rowScanner) (Invite, error) {
	var (
		inv        Invite
		acceptedAt sql.NullTime
		acceptedBy sql.NullString
	)
	if err := row.Scan(&inv.ID, &inv.GuardianID, &inv.InviteeEmail, &inv.Status,
		&inv.CreatedAt, &inv.ExpiresAt, &acceptedAt, &acceptedBy); err != nil {
		return Invite{}, err
	}
	if acceptedAt.Valid {
		t := acceptedAt.Time
		inv.AcceptedAt = &t
	}
	if acceptedBy.Valid {
		inv.AcceptedAccountID = acceptedBy.String
	}
	return inv, nil
}

// Link store ----------------------------------------------------------------

type pgLinks struct{ db *sql.DB }

func (s *pgLinks) UpsertActive(ctx context.Context, guardianID, childID string, now time.Time) (Link, error) {
	// Single atomic insert-or-reactivate keyed on the pair constraint. The
	// original linked_at survives when the link is already active.
	row := s.db.QueryRowContext(ctx, `
		insert into guardian_child_links(id, guardian_id, child_id, status, linked_at)
		values($1,$2,$3,'active',$4)
		on conflict (guardian_id, child_id) do update
		set status = 'active',
		    linked_at = case when guardian_child_links.status = 'revoked'
		                     then excluded.linked_at
		                     else guardian_child_links.linked_at end
		returning id, guardian_id, child_id, status, linked_at
	`, ids.New(), guardianID, childID, now)
	return scanLink(row)
}

func (s *pgLinks) Find(ctx context.Context, guardianID, childID string) (Link, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, guardian_id, child_id, status, linked_at
		from guardian_child_links where guardian_id = $1 and child_id = $2
	`, guardianID, childID)
	link, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Link{}, ErrNotFound
	}
	return link, err
}

func (s *pgLinks) ListChildrenOf(ctx context.Context, guardianID string) ([]LinkedAccount, error) {
	return s.listLinked(ctx, `
		select a.id, a.display_name, a.email
		from guardian_child_links l
		join accounts a on a.id = l.child_id
		where l.guardian_id = $1 and l.status = 'active'
		order by a.display_name asc, a.id asc
	`, guardianID)
}

func (s *pgLinks) ListGuardiansOf(ctx context.Context, childID string) ([]LinkedAccount, error) {
	return s.listLinked(ctx, `
		select a.id, a.display_name, a.email
		from guardian_child_links l
		join accounts a on a.id = l.guardian_id
		where l.child_id = $1 and l.status = 'active'
		order by a.display_name asc, a.id asc
	`, childID)
}

func (s *pgLinks) listLinked(ctx context.Context, query, id string) ([]LinkedAccount, error) {
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LinkedAccount
	for rows.Next() {
		var la LinkedAccount
		if err := rows.Scan(&la.AccountID, &la.DisplayName, &la.Email); err != nil {
			return nil, err
		}
		out = append(out, la)
	}
	return out, rows.Err()
}

func (s *pgLinks) Revoke(ctx context.Context, guardianID, childID string) (Link, error) {
	// Unconditional set keeps the operation idempotent; zero rows means the
	// pair has no history at all.
	row := s.db.QueryRowContext(ctx, `
		update guardian_child_links set status = 'revoked'
		where guardian_id = $1 and child_id = $2
		returning id, guardian_id, child_id, status, linked_at
	`, guardianID, childID)
	link, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Link{}, ErrNotFound
	}
	return link, err
}

func scanLink(row rowScanner) (Link, error) {
	var link Link
	if err := row.Scan(&link.ID, &link.GuardianID, &link.ChildID, &link.Status, &link.LinkedAt); err != nil {
		return Link{}, err
	}
	return link, nil
}

// Account directory ---------------------------------------------------------

type pgAccounts struct{ db *sql.DB }

func (s *pgAccounts) Find(ctx context.Context, accountID string) (Account, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, email, display_name, role from accounts where id = $1
	`, accountID)
	return scanAccount(row)
}

func (s *pgAccounts) FindByEmail(ctx context.Context, email string) (Account, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, email, display_name, role from accounts where lower(email) = lower($1)
	`, strings.TrimSpace(email))
	return scanAccount(row)
}

func scanAccount(row rowScanner) (Account, error) {
	var acct Account
	if err := row.Scan(&acct.ID, &acct.Email, &acct.DisplayName, &acct.Role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	return acct, nil
}
