// Package memresolver is a map-backed unique id resolver. It serves small
// deployments and tests; linkage does not survive a restart.
package memresolver

import (
	"context"
	"fmt"
	"sync"

	"github.com/kasunbg/carbon-identity-mgt/internal/resolver"
)

// Resolver keeps the logical-id linkage in memory. Safe for concurrent use.
type Resolver struct {
	mu sync.RWMutex

	users       map[string]resolver.UniqueUser
	userOrder   []string
	userDomains map[string]string

	groups       map[string]resolver.UniqueGroup
	groupOrder   []string
	groupDomains map[string]string

	// groupsOfUser maps a user id to the set of group ids it belongs to.
	groupsOfUser map[string]map[string]bool
}

var _ resolver.UniqueIDResolver = (*Resolver)(nil)

// New returns an empty in-memory resolver.
func New() *Resolver {
	return &Resolver{
		users:        make(map[string]resolver.UniqueUser),
		userDomains:  make(map[string]string),
		groups:       make(map[string]resolver.UniqueGroup),
		groupDomains: make(map[string]string),
		groupsOfUser: make(map[string]map[string]bool),
	}
}

// IsUserExists implements resolver.UniqueIDResolver.
func (r *Resolver) IsUserExists(ctx context.Context, uniqueUserID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[uniqueUserID]
	return ok, nil
}

// IsGroupExists implements resolver.UniqueIDResolver.
func (r *Resolver) IsGroupExists(ctx context.Context, uniqueGroupID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.groups[uniqueGroupID]
	return ok, nil
}

// GetUniqueUser implements resolver.UniqueIDResolver.
func (r *Resolver) GetUniqueUser(ctx context.Context, uniqueUserID string) (*resolver.UniqueUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[uniqueUserID]
	if !ok {
		return nil, nil
	}
	copied := copyUser(u)
	return &copied, nil
}

// GetUniqueUserFromConnectorUserID implements resolver.UniqueIDResolver.
func (r *Resolver) GetUniqueUserFromConnectorUserID(ctx context.Context, connectorUserID, connectorID string) (*resolver.UniqueUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.userOrder {
		u := r.users[id]
		for _, p := range u.Partitions {
			if p.ConnectorID == connectorID && p.ConnectorUserID == connectorUserID {
				copied := copyUser(u)
				return &copied, nil
			}
		}
	}
	return nil, nil
}

// GetUniqueUsers implements resolver.UniqueIDResolver.
func (r *Resolver) GetUniqueUsers(ctx context.Context, connectorUserIDs []string, connectorID string) ([]resolver.UniqueUser, error) {
	var users []resolver.UniqueUser
	for _, connectorUserID := range connectorUserIDs {
		u, err := r.GetUniqueUserFromConnectorUserID(ctx, connectorUserID, connectorID)
		if err != nil {
			return nil, err
		}
		if u != nil {
			users = append(users, *u)
		}
	}
	return users, nil
}

// ListUsers implements resolver.UniqueIDResolver. Users list in insertion
// order.
func (r *Resolver) ListUsers(ctx context.Context, offset, length int) ([]resolver.UniqueUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var users []resolver.UniqueUser
	for _, id := range window(r.userOrder, offset, length) {
		users = append(users, copyUser(r.users[id]))
	}
	return users, nil
}

// GetUniqueGroup implements resolver.UniqueIDResolver.
func (r *Resolver) GetUniqueGroup(ctx context.Context, uniqueGroupID string) (*resolver.UniqueGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[uniqueGroupID]
	if !ok {
		return nil, nil
	}
	copied := copyGroup(g)
	return &copied, nil
}

// GetUniqueGroupFromConnectorGroupID implements resolver.UniqueIDResolver.
func (r *Resolver) GetUniqueGroupFromConnectorGroupID(ctx context.Context, connectorGroupID, connectorID string) (*resolver.UniqueGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.groupOrder {
		g := r.groups[id]
		for _, cg := range g.Groups {
			if cg.ConnectorID == connectorID && cg.ConnectorGroupID == connectorGroupID {
				copied := copyGroup(g)
				return &copied, nil
			}
		}
	}
	return nil, nil
}

// GetUniqueGroups implements resolver.UniqueIDResolver.
func (r *Resolver) GetUniqueGroups(ctx context.Context, connectorGroupIDs []string, connectorID string) ([]resolver.UniqueGroup, error) {
	var groups []resolver.UniqueGroup
	for _, connectorGroupID := range connectorGroupIDs {
		g, err := r.GetUniqueGroupFromConnectorGroupID(ctx, connectorGroupID, connectorID)
		if err != nil {
			return nil, err
		}
		if g != nil {
			groups = append(groups, *g)
		}
	}
	return groups, nil
}

// ListGroups implements resolver.UniqueIDResolver.
func (r *Resolver) ListGroups(ctx context.Context, offset, length int) ([]resolver.UniqueGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var groups []resolver.UniqueGroup
	for _, id := range window(r.groupOrder, offset, length) {
		groups = append(groups, copyGroup(r.groups[id]))
	}
	return groups, nil
}

// GetGroupsOfUser implements resolver.UniqueIDResolver.
func (r *Resolver) GetGroupsOfUser(ctx context.Context, uniqueUserID string) ([]resolver.UniqueGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	memberships := r.groupsOfUser[uniqueUserID]
	var groups []resolver.UniqueGroup
	for _, id := range r.groupOrder {
		if memberships[id] {
			groups = append(groups, copyGroup(r.groups[id]))
		}
	}
	return groups, nil
}

// GetUsersOfGroup implements resolver.UniqueIDResolver.
func (r *Resolver) GetUsersOfGroup(ctx context.Context, uniqueGroupID string) ([]resolver.UniqueUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var users []resolver.UniqueUser
	for _, id := range r.userOrder {
		if r.groupsOfUser[id][uniqueGroupID] {
			users = append(users, copyUser(r.users[id]))
		}
	}
	return users, nil
}

// IsUserInGroup implements resolver.UniqueIDResolver.
func (r *Resolver) IsUserInGroup(ctx context.Context, uniqueUserID, uniqueGroupID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.groupsOfUser[uniqueUserID][uniqueGroupID], nil
}

// AddUser implements resolver.UniqueIDResolver.
func (r *Resolver) AddUser(ctx context.Context, user resolver.UniqueUser, domainName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.UniqueUserID]; ok {
		return fmt.Errorf("memresolver: duplicate unique user id %s", user.UniqueUserID)
	}
	r.users[user.UniqueUserID] = copyUser(user)
	r.userOrder = append(r.userOrder, user.UniqueUserID)
	r.userDomains[user.UniqueUserID] = domainName
	return nil
}

// AddUsers implements resolver.UniqueIDResolver.
func (r *Resolver) AddUsers(ctx context.Context, partitions map[string][]resolver.UserPartition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for uniqueUserID := range partitions {
		if _, ok := r.users[uniqueUserID]; ok {
			return fmt.Errorf("memresolver: duplicate unique user id %s", uniqueUserID)
		}
	}
	for uniqueUserID, userPartitions := range partitions {
		r.users[uniqueUserID] = copyUser(resolver.UniqueUser{
			UniqueUserID: uniqueUserID,
			Partitions:   userPartitions,
		})
		r.userOrder = append(r.userOrder, uniqueUserID)
	}
	return nil
}

// UpdateUser implements resolver.UniqueIDResolver. Identity partitions are
// replaced by the given connector map; credential partitions are kept.
func (r *Resolver) UpdateUser(ctx context.Context, uniqueUserID string, connectorUserIDs map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[uniqueUserID]
	if !ok {
		return fmt.Errorf("memresolver: unknown unique user id %s", uniqueUserID)
	}
	var partitions []resolver.UserPartition
	for _, p := range u.Partitions {
		if !p.IdentityStore {
			partitions = append(partitions, p)
		}
	}
	for connectorID, connectorUserID := range connectorUserIDs {
		partitions = append(partitions, resolver.UserPartition{
			ConnectorID:     connectorID,
			ConnectorUserID: connectorUserID,
			IdentityStore:   true,
		})
	}
	u.Partitions = partitions
	r.users[uniqueUserID] = u
	return nil
}

// DeleteUser implements resolver.UniqueIDResolver.
func (r *Resolver) DeleteUser(ctx context.Context, uniqueUserID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[uniqueUserID]; !ok {
		return fmt.Errorf("memresolver: unknown unique user id %s", uniqueUserID)
	}
	delete(r.users, uniqueUserID)
	delete(r.userDomains, uniqueUserID)
	delete(r.groupsOfUser, uniqueUserID)
	r.userOrder = remove(r.userOrder, uniqueUserID)
	return nil
}

// AddGroup implements resolver.UniqueIDResolver.
func (r *Resolver) AddGroup(ctx context.Context, group resolver.UniqueGroup, domainName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[group.UniqueGroupID]; ok {
		return fmt.Errorf("memresolver: duplicate unique group id %s", group.UniqueGroupID)
	}
	r.groups[group.UniqueGroupID] = copyGroup(group)
	r.groupOrder = append(r.groupOrder, group.UniqueGroupID)
	r.groupDomains[group.UniqueGroupID] = domainName
	return nil
}

// AddGroups implements resolver.UniqueIDResolver.
func (r *Resolver) AddGroups(ctx context.Context, groups map[string][]resolver.ConnectedGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for uniqueGroupID := range groups {
		if _, ok := r.groups[uniqueGroupID]; ok {
			return fmt.Errorf("memresolver: duplicate unique group id %s", uniqueGroupID)
		}
	}
	for uniqueGroupID, connectedGroups := range groups {
		r.groups[uniqueGroupID] = copyGroup(resolver.UniqueGroup{
			UniqueGroupID: uniqueGroupID,
			Groups:        connectedGroups,
		})
		r.groupOrder = append(r.groupOrder, uniqueGroupID)
	}
	return nil
}

// UpdateGroup implements resolver.UniqueIDResolver.
func (r *Resolver) UpdateGroup(ctx context.Context, uniqueGroupID string, connectorGroupIDs map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[uniqueGroupID]
	if !ok {
		return fmt.Errorf("memresolver: unknown unique group id %s", uniqueGroupID)
	}
	var connected []resolver.ConnectedGroup
	for connectorID, connectorGroupID := range connectorGroupIDs {
		connected = append(connected, resolver.ConnectedGroup{
			ConnectorID:      connectorID,
			ConnectorGroupID: connectorGroupID,
		})
	}
	g.Groups = connected
	r.groups[uniqueGroupID] = g
	return nil
}

// DeleteGroup implements resolver.UniqueIDResolver.
func (r *Resolver) DeleteGroup(ctx context.Context, uniqueGroupID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[uniqueGroupID]; !ok {
		return fmt.Errorf("memresolver: unknown unique group id %s", uniqueGroupID)
	}
	delete(r.groups, uniqueGroupID)
	delete(r.groupDomains, uniqueGroupID)
	for _, memberships := range r.groupsOfUser {
		delete(memberships, uniqueGroupID)
	}
	r.groupOrder = remove(r.groupOrder, uniqueGroupID)
	return nil
}

// UpdateGroupsOfUser implements resolver.UniqueIDResolver.
func (r *Resolver) UpdateGroupsOfUser(ctx context.Context, uniqueUserID string, uniqueGroupIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[uniqueUserID]; !ok {
		return fmt.Errorf("memresolver: unknown unique user id %s", uniqueUserID)
	}
	memberships := make(map[string]bool, len(uniqueGroupIDs))
	for _, id := range uniqueGroupIDs {
		memberships[id] = true
	}
	r.groupsOfUser[uniqueUserID] = memberships
	return nil
}

// UpdateUsersOfGroup implements resolver.UniqueIDResolver.
func (r *Resolver) UpdateUsersOfGroup(ctx context.Context, uniqueGroupID string, uniqueUserIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[uniqueGroupID]; !ok {
		return fmt.Errorf("memresolver: unknown unique group id %s", uniqueGroupID)
	}
	members := make(map[string]bool, len(uniqueUserIDs))
	for _, id := range uniqueUserIDs {
		members[id] = true
	}
	for userID, memberships := range r.groupsOfUser {
		if memberships[uniqueGroupID] && !members[userID] {
			delete(memberships, uniqueGroupID)
		}
	}
	for _, userID := range uniqueUserIDs {
		memberships, ok := r.groupsOfUser[userID]
		if !ok {
			memberships = make(map[string]bool)
			r.groupsOfUser[userID] = memberships
		}
		memberships[uniqueGroupID] = true
	}
	return nil
}

func copyUser(u resolver.UniqueUser) resolver.UniqueUser {
	u.Partitions = append([]resolver.UserPartition(nil), u.Partitions...)
	return u
}

func copyGroup(g resolver.UniqueGroup) resolver.UniqueGroup {
	g.Groups = append([]resolver.ConnectedGroup(nil), g.Groups...)
	return g
}

func remove(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

func window(ids []string, offset, length int) []string {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(ids) {
		return nil
	}
	ids = ids[offset:]
	if length >= 0 && length < len(ids) {
		ids = ids[:length]
	}
	return ids
}
