package httpapi

import (
	"net/http"
	"strings"

	"kinlink.org/internal/audit"
	"kinlink.org/internal/obs"
)

type createInviteRequest struct {
	InviteeEmail string `json:"invitee_email"`
}

type acceptInviteRequest struct {
	Token string `json:"token"`
}

func (a *API) handleInvitesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createInvite(w, r)
	case http.MethodGet:
		a.listInvites(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) createInvite(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}
	var req createInviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	view, err := a.linking.CreateInvite(r.Context(), caller, req.InviteeEmail)
	if err != nil {
		handleLinkingError(w, r, err)
		return
	}

	obs.IncInviteCreated()
	// The share URL with the raw token is never logged.
	_ = audit.LogEvent(r.Context(), "invite.created", map[string]any{
		"invite_id":     view.ID,
		"invitee_email": view.InviteeEmail,
		"expires_at":    view.ExpiresAt,
	})
	writeJSON(w, http.StatusOK, view)
}

func (a *API) listInvites(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}
	views, err := a.linking.ListInvites(r.Context(), caller, r.URL.Query().Get("status"))
	if err != nil {
		handleLinkingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) handleInviteAccept(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}
	var req acceptInviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	link, err := a.linking.AcceptInvite(r.Context(), caller, req.Token)
	if err != nil {
		handleLinkingError(w, r, err)
		return
	}

	obs.IncInviteAccepted()
	_ = audit.LogEvent(r.Context(), "invite.accepted", map[string]any{
		"link_id":     link.ID,
		"guardian_id": link.GuardianID,
	})
	writeJSON(w, http.StatusOK, link)
}

func (a *API) handleInviteResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/invites/")
	inviteID, action, found := strings.Cut(path, "/")
	if !found || action != "revoke" || inviteID == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}

	view, err := a.linking.RevokeInvite(r.Context(), caller, inviteID)
	if err != nil {
		handleLinkingError(w, r, err)
		return
	}

	obs.IncInviteRevoked()
	_ = audit.LogEvent(r.Context(), "invite.revoked", map[string]any{
		"invite_id": view.ID,
		"status":    view.Status,
	})
	writeJSON(w, http.StatusOK, view)
}
