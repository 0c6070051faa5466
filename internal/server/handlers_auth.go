package server

import (
	"net/http"
	"time"

	"github.com/kasunbg/carbon-identity-mgt/internal/claim"
	"github.com/kasunbg/carbon-identity-mgt/internal/credential"
)

type authenticateRequest struct {
	DialectURI string `json:"dialectUri,omitempty"`
	ClaimURI   string `json:"claimUri"`
	Value      string `json:"value"`
	Password   string `json:"password"`
	Domain     string `json:"domain,omitempty"`
}

type authenticateResponse struct {
	UserID    string    `json:"userId"`
	Domain    string    `json:"domain"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

func (h *handler) authenticate(w http.ResponseWriter, r *http.Request) {
	var req authenticateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	dialect := req.DialectURI
	if dialect == "" {
		dialect = claim.RootDialectURI
	}
	c := claim.Claim{DialectURI: dialect, ClaimURI: req.ClaimURI, Value: req.Value}
	cred := credential.Password{Password: []byte(req.Password)}

	authCtx, err := h.store.Authenticate(r.Context(), c, cred, req.Domain)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := authenticateResponse{
		UserID: authCtx.User.ID,
		Domain: authCtx.User.DomainName,
	}
	if h.tokens != nil {
		token, expiresAt, err := h.tokens.Issue(authCtx.User.ID, authCtx.User.DomainName)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.Token = token
		resp.ExpiresAt = expiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}
