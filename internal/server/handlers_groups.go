package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kasunbg/carbon-identity-mgt/internal/claim"
	"github.com/kasunbg/carbon-identity-mgt/internal/store"
)

type addGroupRequest struct {
	Claims []claimJSON `json:"claims"`
	Domain string      `json:"domain,omitempty"`
}

func (h *handler) addGroup(w http.ResponseWriter, r *http.Request) {
	var req addGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	group, err := h.store.AddGroup(r.Context(), store.GroupModel{Claims: toClaims(req.Claims)}, req.Domain)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, fromGroup(group))
}

type addGroupsRequest struct {
	Groups []addGroupRequest `json:"groups"`
	Domain string            `json:"domain,omitempty"`
}

func (h *handler) addGroups(w http.ResponseWriter, r *http.Request) {
	var req addGroupsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	models := make([]store.GroupModel, 0, len(req.Groups))
	for _, g := range req.Groups {
		models = append(models, store.GroupModel{Claims: toClaims(g.Claims)})
	}
	groups, err := h.store.AddGroups(r.Context(), models, req.Domain)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]groupJSON, 0, len(groups))
	for _, g := range groups {
		out = append(out, fromGroup(g))
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *handler) getGroup(w http.ResponseWriter, r *http.Request) {
	group, err := h.store.GetGroup(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("domain"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromGroup(group))
}

func (h *handler) deleteGroup(w http.ResponseWriter, r *http.Request) {
	err := h.store.DeleteGroup(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("domain"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listGroups(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, length := pagination(q.Get("offset"), q.Get("length"))
	domain := q.Get("domain")
	claimURI := q.Get("claimUri")
	ctx := r.Context()

	var (
		groups []store.Group
		err    error
	)
	switch {
	case claimURI != "" && q.Get("pattern") != "":
		mc := claim.MetaClaim{DialectURI: claim.RootDialectURI, ClaimURI: claimURI}
		groups, err = h.store.ListGroupsByMetaClaim(ctx, mc, q.Get("pattern"), offset, length, domain)
	case claimURI != "":
		c := claim.Claim{DialectURI: claim.RootDialectURI, ClaimURI: claimURI, Value: q.Get("value")}
		groups, err = h.store.ListGroupsByClaim(ctx, c, offset, length, domain)
	default:
		groups, err = h.store.ListGroups(ctx, offset, length, domain)
	}
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

func (h *handler) getGroupClaims(w http.ResponseWriter, r *http.Request) {
	claims, err := h.store.GetGroupClaims(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("domain"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromClaims(claims))
}

func (h *handler) updateGroupClaims(w http.ResponseWriter, r *http.Request) {
	var req updateClaimsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := h.store.UpdateGroupClaims(r.Context(), chi.URLParam(r, "id"), toClaims(req.Claims), req.Domain)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) getUsersOfGroup(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.GetUsersOfGroup(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("domain"))
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

type updateUsersOfGroupRequest struct {
	UserIDs []string `json:"userIds"`
	Domain  string   `json:"domain,omitempty"`
}

func (h *handler) updateUsersOfGroup(w http.ResponseWriter, r *http.Request) {
	var req updateUsersOfGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := h.store.UpdateUsersOfGroup(r.Context(), chi.URLParam(r, "id"), req.UserIDs, req.Domain)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
