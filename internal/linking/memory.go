package linking

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"kinlink.org/internal/ids"
)

// Memory implements Store with in-process concurrency safety. It backs tests
// and local runs without a database; the Postgres store is the durable one.
type Memory struct {
	mu       sync.Mutex
	invites  map[string]*Invite // invite id -> row
	byDigest map[string]string  // token hash -> invite id
	links    map[string]*Link   // pairKey -> row
	accounts map[string]*Account
	byEmail  map[string]string // lower(email) -> account id
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		invites:  make(map[string]*Invite),
		byDigest: make(map[string]string),
		links:    make(map[string]*Link),
		accounts: make(map[string]*Account),
		byEmail:  make(map[string]string),
	}
}

func (m *Memory) Invites() InviteStore       { return &memInvites{m} }
func (m *Memory) Links() LinkStore           { return &memLinks{m} }
func (m *Memory) Accounts() AccountDirectory { return &memAccounts{m} }

// SeedAccount registers an externally provisioned account. Accounts are never
// mutated by the linking core; this mirrors directory synchronization.
func (m *Memory) SeedAccount(a Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := a
	cp.Email = strings.ToLower(strings.TrimSpace(cp.Email))
	m.accounts[cp.ID] = &cp
	m.byEmail[cp.Email] = cp.ID
}

func pairKey(guardianID, childID string) string {
	return guardianID + "\x00" + childID
}

// Invite store --------------------------------------------------------------

type memInvites struct{ m *Memory }

func (s *memInvites) Create(ctx context.Context, inv *Invite) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if _, taken := s.m.byDigest[inv.TokenHash]; taken {
		return errTokenHashTaken
	}
	for _, existing := range s.m.invites {
		if existing.GuardianID != inv.GuardianID || existing.InviteeEmail != inv.InviteeEmail {
			continue
		}
		existing.ExpireDue(inv.CreatedAt)
		if existing.Status == InviteStatusInvited {
			return ErrConflict
		}
	}

	cp := *inv
	s.m.invites[cp.ID] = &cp
	s.m.byDigest[cp.TokenHash] = cp.ID
	return nil
}

func (s *memInvites) ListByGuardian(ctx context.Context, guardianID string, now time.Time) ([]Invite, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	var out []Invite
	for _, inv := range s.m.invites {
		if inv.GuardianID != guardianID {
			continue
		}
		inv.ExpireDue(now)
		out = append(out, *inv)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memInvites) Accept(ctx context.Context, tokenHash, callerEmail, callerAccountID string, now time.Time) (Invite, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	id, ok := s.m.byDigest[tokenHash]
	if !ok {
		return Invite{}, ErrNotFound
	}
	inv := s.m.invites[id]
	inv.ExpireDue(now)
	if inv.Status != InviteStatusInvited {
		return Invite{}, ErrConflict
	}
	if !strings.EqualFold(inv.InviteeEmail, strings.TrimSpace(callerEmail)) {
		return Invite{}, ErrForbidden
	}

	accepted := now
	inv.Status = InviteStatusAccepted
	inv.AcceptedAt = &accepted
	inv.AcceptedAccountID = callerAccountID
	return *inv, nil
}

func (s *memInvites) Revoke(ctx context.Context, guardianID, inviteID string) (Invite, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	inv, ok := s.m.invites[inviteID]
	if !ok {
		return Invite{}, ErrNotFound
	}
	if inv.GuardianID != guardianID {
		return Invite{}, ErrForbidden
	}
	inv.Status = InviteStatusRevoked
	return *inv, nil
}

// Link store ----------------------------------------------------------------

type memLinks struct{ m *Memory }

func (s *memLinks) UpsertActive(ctx context.Context, guardianID, childID string, now time.Time) (Link, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	key := pairKey(guardianID, childID)
	if link, ok := s.m.links[key]; ok {
		if link.Status == LinkStatusRevoked {
			link.Status = LinkStatusActive
			link.LinkedAt = now
		}
		return *link, nil
	}
	link := &Link{
		ID:         ids.New(),
		GuardianID: guardianID,
		ChildID:    childID,
		Status:     LinkStatusActive,
		LinkedAt:   now,
	}
	s.m.links[key] = link
	return *link, nil
}

func (s *memLinks) Find(ctx context.Context, guardianID, childID string) (Link, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	link, ok := s.m.links[pairKey(guardianID, childID)]
	if !ok {
		return Link{}, ErrNotFound
	}
	return *link, nil
}

func (s *memLinks) ListChildrenOf(ctx context.Context, guardianID string) ([]LinkedAccount, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	var out []LinkedAccount
	for _, link := range s.m.links {
		if link.GuardianID != guardianID || link.Status != LinkStatusActive {
			continue
		}
		out = append(out, s.m.linkedAccount(link.ChildID))
	}
	sortLinked(out)
	return out, nil
}

func (s *memLinks) ListGuardiansOf(ctx context.Context, childID string) ([]LinkedAccount, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	var out []LinkedAccount
	for _, link := range s.m.links {
		if link.ChildID != childID || link.Status != LinkStatusActive {
			continue
		}
		out = append(out, s.m.linkedAccount(link.GuardianID))
	}
	sortLinked(out)
	return out, nil
}

func (s *memLinks) Revoke(ctx context.Context, guardianID, childID string) (Link, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	link, ok := s.m.links[pairKey(guardianID, childID)]
	if !ok {
		return Link{}, ErrNotFound
	}
	link.Status = LinkStatusRevoked
	return *link, nil
}

func (m *Memory) linkedAccount(accountID string) LinkedAccount {
	la := LinkedAccount{AccountID: accountID}
	if acct, ok := m.accounts[accountID]; ok {
		la.DisplayName = acct.DisplayName
		la.Email = acct.Email
	}
	return la
}

func sortLinked(list []LinkedAccount) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].DisplayName == list[j].DisplayName {
			return list[i].AccountID < list[j].AccountID
		}
		return list[i].DisplayName < list[j].DisplayName
	})
}

// Account directory ---------------------------------------------------------

type memAccounts struct{ m *Memory }

func (s *memAccounts) Find(ctx context.Context, accountID string) (Account, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	acct, ok := s.m.accounts[accountID]
	if !ok {
		return Account{}, ErrNotFound
	}
	return *acct, nil
}

func (s *memAccounts) FindByEmail(ctx context.Context, email string) (Account, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	id, ok := s.m.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return Account{}, ErrNotFound
	}
	return *s.m.accounts[id], nil
}
