package linking

import "time"

// InviteStatus is the lifecycle state of an invitation.
type InviteStatus string

const (
	InviteStatusInvited  InviteStatus = "invited"
	InviteStatusAccepted InviteStatus = "accepted"
	InviteStatusRevoked  InviteStatus = "revoked"
	InviteStatusExpired  InviteStatus = "expired"
)

// Valid reports whether the status is one of the known invite states.
func (s InviteStatus) Valid() bool {
	switch s {
	case InviteStatusInvited, InviteStatusAccepted, InviteStatusRevoked, InviteStatusExpired:
		return true
	}
	return false
}

// LinkStatus is the lifecycle state of a guardian-child link.
type LinkStatus string

const (
	LinkStatusActive  LinkStatus = "active"
	LinkStatusRevoked LinkStatus = "revoked"
)

// Invite is a single-use, time-limited authorization artifact allowing one
// specific email holder to establish a link to the issuing guardian.
// TokenHash stores the sha256 digest of the raw token; the raw value is
// surfaced exactly once at creation and never persisted.
type Invite struct {
	ID                string
	GuardianID        string
	InviteeEmail      string // stored lower-cased
	TokenHash         string
	Status            InviteStatus
	CreatedAt         time.Time
	ExpiresAt         time.Time
	AcceptedAt        *time.Time
	AcceptedAccountID string // set only on acceptance
}

// ExpireDue applies the lazy expiry transition: a still-pending invite whose
// deadline has passed becomes expired. Returns true when the transition fired
// so callers can persist it.
func (i *Invite) ExpireDue(now time.Time) bool {
	if i.Status == InviteStatusInvited && !i.ExpiresAt.After(now) {
		i.Status = InviteStatusExpired
		return true
	}
	return false
}

// Link is a persistent, revocable, reactivatable guardian-child relationship.
// A pair has at most one row ever; re-linking reactivates it.
type Link struct {
	ID         string
	GuardianID string
	ChildID    string
	Status     LinkStatus
	LinkedAt   time.Time
}

// Account is an externally provisioned account referenced by the linking core.
// This core never creates or mutates accounts.
type Account struct {
	ID          string
	Email       string
	DisplayName string
	Role        string
}

// InviteView is the caller-facing projection of an invite. ShareURL carries
// the raw token and is populated only in the creation response.
type InviteView struct {
	ID                string       `json:"invite_id"`
	InviteeEmail      string       `json:"invitee_email"`
	Status            InviteStatus `json:"status"`
	CreatedAt         time.Time    `json:"created_at"`
	ExpiresAt         time.Time    `json:"expires_at"`
	AcceptedAt        *time.Time   `json:"accepted_at,omitempty"`
	AcceptedAccountID string       `json:"accepted_account_id,omitempty"`
	ShareURL          string       `json:"share_url,omitempty"`
}

// View projects the invite without token material.
func (i Invite) View() InviteView {
	return InviteView{
		ID:                i.ID,
		InviteeEmail:      i.InviteeEmail,
		Status:            i.Status,
		CreatedAt:         i.CreatedAt,
		ExpiresAt:         i.ExpiresAt,
		AcceptedAt:        i.AcceptedAt,
		AcceptedAccountID: i.AcceptedAccountID,
	}
}

// LinkView is the caller-facing projection of a link.
type LinkView struct {
	ID         string     `json:"link_id"`
	GuardianID string     `json:"guardian_id"`
	ChildID    string     `json:"child_id"`
	Status     LinkStatus `json:"status"`
	LinkedAt   time.Time  `json:"linked_at"`
}

// View projects the link record.
func (l Link) View() LinkView {
	return LinkView{
		ID:         l.ID,
		GuardianID: l.GuardianID,
		ChildID:    l.ChildID,
		Status:     l.Status,
		LinkedAt:   l.LinkedAt,
	}
}

// LinkedAccount is the opposing party of an active link as returned by the
// listing operations.
type LinkedAccount struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}
