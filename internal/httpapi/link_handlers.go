package httpapi

import (
	"net/http"
	"strings"

	"kinlink.org/internal/audit"
	"kinlink.org/internal/obs"
)

type unlinkResponse struct {
	Status     string `json:"status"`
	ChildID    string `json:"child_id,omitempty"`
	GuardianID string `json:"guardian_id,omitempty"`
}

func (a *API) handleChildren(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}
	children, err := a.linking.ListChildren(r.Context(), caller)
	if err != nil {
		handleLinkingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, children)
}

func (a *API) handleGuardians(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}
	guardians, err := a.linking.ListGuardians(r.Context(), caller)
	if err != nil {
		handleLinkingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, guardians)
}

// handleLinkResource serves both unlink directions:
//
//	DELETE /v1/me/links/{child_id}             guardian revokes a child link
//	DELETE /v1/me/links/guardian/{guardian_id} child revokes a guardian link
func (a *API) handleLinkResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/me/links/")
	if guardianID, found := strings.CutPrefix(path, "guardian/"); found {
		if guardianID == "" || strings.Contains(guardianID, "/") {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		link, err := a.linking.UnlinkGuardian(r.Context(), caller, guardianID)
		if err != nil {
			handleLinkingError(w, r, err)
			return
		}
		obs.IncLinkRevoked()
		_ = audit.LogEvent(r.Context(), "link.revoked", map[string]any{
			"link_id":     link.ID,
			"guardian_id": link.GuardianID,
			"revoked_by":  "child",
		})
		writeJSON(w, http.StatusOK, unlinkResponse{Status: string(link.Status), GuardianID: link.GuardianID})
		return
	}

	childID := path
	if childID == "" || strings.Contains(childID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	link, err := a.linking.UnlinkChild(r.Context(), caller, childID)
	if err != nil {
		handleLinkingError(w, r, err)
		return
	}
	obs.IncLinkRevoked()
	_ = audit.LogEvent(r.Context(), "link.revoked", map[string]any{
		"link_id":    link.ID,
		"child_id":   link.ChildID,
		"revoked_by": "guardian",
	})
	writeJSON(w, http.StatusOK, unlinkResponse{Status: string(link.Status), ChildID: link.ChildID})
}
