package handlers

import (
	"net/http"

	"github.com/kozaktomas/attendance-kiosk/internal/database"
	"github.com/kozaktomas/attendance-kiosk/internal/facematch"
	log "github.com/sirupsen/logrus"
)

// IdentitiesHandler lists enrolled identities for the configured scope.
type IdentitiesHandler struct {
	reader database.IdentityReader
	scope  database.Scope
}

// NewIdentitiesHandler creates an identities handler.
func NewIdentitiesHandler(reader database.IdentityReader, scope database.Scope) *IdentitiesHandler {
	return &IdentitiesHandler{reader: reader, scope: scope}
}

// IdentityResponse is the JSON form of an enrolled identity.
type IdentityResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	OrgID    string `json:"org_id,omitempty"`
	BranchID string `json:"branch_id,omitempty"`
	Active   bool   `json:"active"`
}

// List handles GET /api/v1/identities?q=&active=true. The name filter ignores case
// and diacritics.
func (h *IdentitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	activeOnly := r.URL.Query().Get("active") == "true"

	identities, err := h.reader.List(r.Context(), h.scope)
	if err != nil {
		log.WithError(err).Error("Failed to list identities")
		respondError(w, http.StatusInternalServerError, "failed to list identities")
		return
	}

	resp := make([]IdentityResponse, 0, len(identities))
	for _, identity := range identities {
		if activeOnly && !identity.Active {
			continue
		}
		if query != "" && !facematch.NameContains(identity.Name, query) {
			continue
		}
		resp = append(resp, IdentityResponse{
			ID:       identity.ID,
			Name:     identity.Name,
			OrgID:    identity.OrgID,
			BranchID: identity.BranchID,
			Active:   identity.Active,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}
