package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kasunbg/carbon-identity-mgt/internal/claim"
	"github.com/kasunbg/carbon-identity-mgt/internal/credential"
	"github.com/kasunbg/carbon-identity-mgt/internal/security"
	"github.com/kasunbg/carbon-identity-mgt/internal/store"
)

type handler struct {
	store  *store.Store
	tokens *security.TokenProvider
}

type addUserRequest struct {
	Claims   []claimJSON `json:"claims"`
	Password string      `json:"password,omitempty"`
	Domain   string      `json:"domain,omitempty"`
}

func (req addUserRequest) model() store.UserModel {
	model := store.UserModel{Claims: toClaims(req.Claims)}
	if req.Password != "" {
		model.Credentials = []credential.Credential{credential.Password{Password: []byte(req.Password)}}
	}
	return model
}

func (h *handler) addUser(w http.ResponseWriter, r *http.Request) {
	var req addUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.store.AddUser(r.Context(), req.model(), req.Domain)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, fromUser(user))
}

type addUsersRequest struct {
	Users  []addUserRequest `json:"users"`
	Domain string           `json:"domain,omitempty"`
}

func (h *handler) addUsers(w http.ResponseWriter, r *http.Request) {
	var req addUsersRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	models := make([]store.UserModel, 0, len(req.Users))
	for _, u := range req.Users {
		models = append(models, u.model())
	}
	users, err := h.store.AddUsers(r.Context(), models, req.Domain)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]userJSON, 0, len(users))
	for _, u := range users {
		out = append(out, fromUser(u))
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *handler) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUser(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("domain"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromUser(user))
}

func (h *handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	err := h.store.DeleteUser(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("domain"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listUsers serves three shapes: plain pagination, claim-equality filtering
// (claimUri + value), and pattern filtering (claimUri + pattern).
func (h *handler) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, length := pagination(q.Get("offset"), q.Get("length"))
	domain := q.Get("domain")
	claimURI := q.Get("claimUri")
	ctx := r.Context()

	var (
		users []store.User
		err   error
	)
	switch {
	case claimURI != "" && q.Get("pattern") != "":
		mc := claim.MetaClaim{DialectURI: claim.RootDialectURI, ClaimURI: claimURI}
		users, err = h.store.ListUsersByMetaClaim(ctx, mc, q.Get("pattern"), offset, length, domain)
	case claimURI != "":
		c := claim.Claim{DialectURI: claim.RootDialectURI, ClaimURI: claimURI, Value: q.Get("value")}
		users, err = h.store.ListUsersByClaim(ctx, c, offset, length, domain)
	default:
		users, err = h.store.ListUsers(ctx, offset, length, domain)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]userJSON, 0, len(users))
	for _, u := range users {
		out = append(out, fromUser(u))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) getClaims(w http.ResponseWriter, r *http.Request) {
	claims, err := h.store.GetClaims(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("domain"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromClaims(claims))
}

type updateClaimsRequest struct {
	Claims []claimJSON `json:"claims"`
	Domain string      `json:"domain,omitempty"`
}

func (h *handler) updateUserClaims(w http.ResponseWriter, r *http.Request) {
	var req updateClaimsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := h.store.UpdateUserClaims(r.Context(), chi.URLParam(r, "id"), toClaims(req.Claims), req.Domain)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) getGroupsOfUser(w http.ResponseWriter, r *http.Request) {
	groups, err := h.store.GetGroupsOfUser(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("domain"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]groupJSON, 0, len(groups))
	for _, g := range groups {
		out = append(out, fromGroup(g))
	}
	writeJSON(w, http.StatusOK, out)
}

type updateGroupsOfUserRequest struct {
	GroupIDs []string `json:"groupIds"`
	Domain   string   `json:"domain,omitempty"`
}

func (h *handler) updateGroupsOfUser(w http.ResponseWriter, r *http.Request) {
	var req updateGroupsOfUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := h.store.UpdateGroupsOfUser(r.Context(), chi.URLParam(r, "id"), req.GroupIDs, req.Domain)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) isUserInGroup(w http.ResponseWriter, r *http.Request) {
	in, err := h.store.IsUserInGroup(r.Context(),
		chi.URLParam(r, "id"), chi.URLParam(r, "groupId"), r.URL.Query().Get("domain"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"member": in})
}

// pagination parses offset and length query params. A missing length lists
// everything; remember that an explicit length of 0 returns an empty page by
// contract.
func pagination(offsetStr, lengthStr string) (offset, length int) {
	offset, _ = strconv.Atoi(offsetStr)
	if lengthStr == "" {
		return offset, -1
	}
	length, err := strconv.Atoi(lengthStr)
	if err != nil {
		return offset, -1
	}
	return offset, length
}
