package store

import (
	"context"

	"github.com/kasunbg/carbon-identity-mgt/internal/claim"
	"github.com/kasunbg/carbon-identity-mgt/internal/credential"
)

// UserModel is the caller-supplied material for a new user: claims,
// credentials, or both.
type UserModel struct {
	Claims      []claim.Claim
	Credentials []credential.Credential
}

// GroupModel is the caller-supplied material for a new group.
type GroupModel struct {
	Claims []claim.Claim
}

// AuthorizationStore is the authorization collaborator handles reach through.
// The virtual store does not perform authorization checks itself.
type AuthorizationStore interface {
	IsUserAuthorized(ctx context.Context, uniqueUserID, domainName, action, resource string) (bool, error)
}

// User is a lightweight handle on a logical user. It holds identifiers and
// back-references only; attribute fetches re-enter the virtual store.
type User struct {
	ID         string
	DomainName string

	store *Store
	authz AuthorizationStore
}

// GetClaims returns the user's claims assembled across its attribute
// partitions.
func (u User) GetClaims(ctx context.Context) ([]claim.Claim, error) {
	return u.store.GetClaims(ctx, u.ID, u.DomainName)
}

// GetClaimsOf returns the user's claims for the requested meta claims only.
func (u User) GetClaimsOf(ctx context.Context, metaClaims []claim.MetaClaim) ([]claim.Claim, error) {
	return u.store.GetClaimsOfMetaClaims(ctx, u.ID, metaClaims, u.DomainName)
}

// GetGroups returns the groups the user belongs to.
func (u User) GetGroups(ctx context.Context) ([]Group, error) {
	return u.store.GetGroupsOfUser(ctx, u.ID, u.DomainName)
}

// IsInGroup reports whether the user belongs to the group.
func (u User) IsInGroup(ctx context.Context, uniqueGroupID string) (bool, error) {
	return u.store.IsUserInGroup(ctx, u.ID, uniqueGroupID, u.DomainName)
}

// IsAuthorized asks the authorization store whether the user may perform the
// action on the resource. Returns false when no authorization store is
// configured.
func (u User) IsAuthorized(ctx context.Context, action, resource string) (bool, error) {
	if u.authz == nil {
		return false, nil
	}
	return u.authz.IsUserAuthorized(ctx, u.ID, u.DomainName, action, resource)
}

// Group is a lightweight handle on a logical group.
type Group struct {
	ID         string
	DomainName string

	store *Store
	authz AuthorizationStore
}

// GetClaims returns the group's claims assembled across its connected
// groups.
func (g Group) GetClaims(ctx context.Context) ([]claim.Claim, error) {
	return g.store.GetGroupClaims(ctx, g.ID, g.DomainName)
}

// GetUsers returns the group's members.
func (g Group) GetUsers(ctx context.Context) ([]User, error) {
	return g.store.GetUsersOfGroup(ctx, g.ID, g.DomainName)
}

// HasUser reports whether the user belongs to this group.
func (g Group) HasUser(ctx context.Context, uniqueUserID string) (bool, error) {
	return g.store.IsUserInGroup(ctx, uniqueUserID, g.ID, g.DomainName)
}

// AuthenticationContext is the successful outcome of Authenticate.
type AuthenticationContext struct {
	User User
}
