package server

import (
	"encoding/json"
	"net/http"

	"github.com/kasunbg/carbon-identity-mgt/internal/claim"
	"github.com/kasunbg/carbon-identity-mgt/internal/store"
)

// claimJSON is the wire form of a claim.
type claimJSON struct {
	DialectURI string `json:"dialectUri,omitempty"`
	ClaimURI   string `json:"claimUri"`
	Value      string `json:"value"`
}

func toClaims(in []claimJSON) []claim.Claim {
	out := make([]claim.Claim, 0, len(in))
	for _, c := range in {
		dialect := c.DialectURI
		if dialect == "" {
			dialect = claim.RootDialectURI
		}
		out = append(out, claim.Claim{DialectURI: dialect, ClaimURI: c.ClaimURI, Value: c.Value})
	}
	return out
}

func fromClaims(in []claim.Claim) []claimJSON {
	out := make([]claimJSON, 0, len(in))
	for _, c := range in {
		out = append(out, claimJSON{DialectURI: c.DialectURI, ClaimURI: c.ClaimURI, Value: c.Value})
	}
	return out
}

// userJSON is the wire form of a user handle.
type userJSON struct {
	UserID string `json:"userId"`
	Domain string `json:"domain"`
}

func fromUser(u store.User) userJSON {
	return userJSON{UserID: u.ID, Domain: u.DomainName}
}

// groupJSON is the wire form of a group handle.
type groupJSON struct {
	GroupID string `json:"groupId"`
	Domain  string `json:"domain"`
}

func fromGroup(g store.Group) groupJSON {
	return groupJSON{GroupID: g.ID, Domain: g.DomainName}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

// writeError maps a store error kind to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch store.KindOf(err) {
	case store.KindClient:
		status = http.StatusBadRequest
	case store.KindUserNotFound, store.KindGroupNotFound:
		status = http.StatusNotFound
	case store.KindAuthenticationFailure:
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
