package store

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/google/uuid"

	"github.com/kasunbg/carbon-identity-mgt/internal/claim"
	"github.com/kasunbg/carbon-identity-mgt/internal/connector"
	"github.com/kasunbg/carbon-identity-mgt/internal/resolver"
)

// GetGroup returns a handle on the logical group with the given id.
func (s *Store) GetGroup(ctx context.Context, uniqueGroupID, domainName string) (Group, error) {
	if uniqueGroupID == "" {
		return Group{}, newError(KindClient, "invalid unique group id")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return Group{}, err
	}

	exists, err := d.UniqueIDResolver().IsGroupExists(ctx, uniqueGroupID)
	if err != nil {
		return Group{}, wrapError(KindServer,
			fmt.Sprintf("failed to check existence of unique group %s", uniqueGroupID), err)
	}
	if !exists {
		return Group{}, newError(KindGroupNotFound, "invalid unique group id")
	}
	return s.groupHandle(uniqueGroupID, d), nil
}

// GetGroupByClaim returns a handle on the logical group owning the given
// claim value.
func (s *Store) GetGroupByClaim(ctx context.Context, c claim.Claim, domainName string) (Group, error) {
	if c.Value == "" {
		return Group{}, newError(KindClient, "invalid claim")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return Group{}, err
	}

	mapping, err := d.MetaClaimMapping(c.ClaimURI)
	if err != nil {
		return Group{}, wrapError(KindServer, "failed to retrieve the meta claim mapping for the claim URI", err)
	}
	conn, err := d.IdentityStoreConnector(mapping.IdentityStoreConnectorID)
	if err != nil {
		return Group{}, wrapError(KindServer, "failed to retrieve the identity store connector", err)
	}

	connectorGroupID, err := conn.GetConnectorGroupID(ctx, mapping.AttributeName, c.Value)
	if err != nil {
		if errors.Is(err, connector.ErrNotFound) {
			return Group{}, newError(KindGroupNotFound, "invalid claim value")
		}
		return Group{}, wrapError(KindServer, "failed to resolve the connector group id", err)
	}
	if connectorGroupID == "" {
		return Group{}, newError(KindGroupNotFound, "invalid claim value")
	}

	uniqueGroup, err := d.UniqueIDResolver().GetUniqueGroupFromConnectorGroupID(ctx, connectorGroupID, mapping.IdentityStoreConnectorID)
	if err != nil {
		return Group{}, wrapError(KindServer, "failed to retrieve the unique group id", err)
	}
	if uniqueGroup == nil || uniqueGroup.UniqueGroupID == "" {
		return Group{}, newError(KindServer, "failed to retrieve the unique group id")
	}
	return s.groupHandle(uniqueGroup.UniqueGroupID, d), nil
}

// ListGroups returns handles for the groups of the domain, windowed by
// offset and length. length == 0 returns an empty list without any I/O.
func (s *Store) ListGroups(ctx context.Context, offset, length int, domainName string) ([]Group, error) {
	if length == 0 {
		return nil, nil
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return nil, err
	}

	uniqueGroups, err := d.UniqueIDResolver().ListGroups(ctx, offset, length)
	if err != nil {
		return nil, wrapError(KindServer, fmt.Sprintf("failed to list groups in the domain %s", d.Name()), err)
	}
	groups := make([]Group, 0, len(uniqueGroups))
	for _, g := range uniqueGroups {
		groups = append(groups, s.groupHandle(g.UniqueGroupID, d))
	}
	return groups, nil
}

// ListGroupsByClaim returns handles for the groups whose mapped attribute
// equals the claim value.
func (s *Store) ListGroupsByClaim(ctx context.Context, c claim.Claim, offset, length int, domainName string) ([]Group, error) {
	if c.Value == "" {
		return nil, newError(KindClient, "invalid claim")
	}
	if length == 0 {
		return nil, nil
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return nil, err
	}
	mapping, err := d.MetaClaimMapping(c.ClaimURI)
	if err != nil {
		return nil, wrapError(KindServer, "failed to retrieve the meta claim mapping for the claim URI", err)
	}
	conn, err := d.IdentityStoreConnector(mapping.IdentityStoreConnectorID)
	if err != nil {
		return nil, wrapError(KindServer, "failed to retrieve the identity store connector", err)
	}
	connectorGroupIDs, err := conn.ListConnectorGroupIDs(ctx, mapping.AttributeName, c.Value, offset, length)
	if err != nil {
		return nil, wrapError(KindServer, "failed to list connector group ids", err)
	}
	return s.groupsFromConnectorIDs(ctx, d, connectorGroupIDs, mapping.IdentityStoreConnectorID)
}

// ListGroupsByMetaClaim returns handles for the groups whose mapped
// attribute matches the filter pattern.
func (s *Store) ListGroupsByMetaClaim(ctx context.Context, mc claim.MetaClaim, filterPattern string, offset, length int, domainName string) ([]Group, error) {
	if mc.ClaimURI == "" {
		return nil, newError(KindClient, "invalid claim URI")
	}
	if length == 0 {
		return nil, nil
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return nil, err
	}
	mapping, err := d.MetaClaimMapping(mc.ClaimURI)
	if err != nil {
		return nil, wrapError(KindServer, "failed to retrieve the meta claim mapping for the claim URI", err)
	}
	conn, err := d.IdentityStoreConnector(mapping.IdentityStoreConnectorID)
	if err != nil {
		return nil, wrapError(KindServer, "failed to retrieve the identity store connector", err)
	}
	connectorGroupIDs, err := conn.ListConnectorGroupIDsByPattern(ctx, mapping.AttributeName, filterPattern, offset, length)
	if err != nil {
		return nil, wrapError(KindServer, "failed to list connector group ids by pattern", err)
	}
	return s.groupsFromConnectorIDs(ctx, d, connectorGroupIDs, mapping.IdentityStoreConnectorID)
}

func (s *Store) groupsFromConnectorIDs(ctx context.Context, d *Domain, connectorGroupIDs []string, connectorID string) ([]Group, error) {
	if len(connectorGroupIDs) == 0 {
		return nil, nil
	}
	uniqueGroups, err := d.UniqueIDResolver().GetUniqueGroups(ctx, connectorGroupIDs, connectorID)
	if err != nil {
		return nil, wrapError(KindServer, "failed to retrieve the unique group ids", err)
	}
	if len(uniqueGroups) == 0 {
		return nil, newError(KindServer, "failed to retrieve the unique group ids")
	}
	groups := make([]Group, 0, len(uniqueGroups))
	for _, g := range uniqueGroups {
		groups = append(groups, s.groupHandle(g.UniqueGroupID, d))
	}
	return groups, nil
}

// GetGroupsOfUser returns handles for the groups the user belongs to.
func (s *Store) GetGroupsOfUser(ctx context.Context, uniqueUserID, domainName string) ([]Group, error) {
	if uniqueUserID == "" {
		return nil, newError(KindClient, "invalid unique user id")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return nil, err
	}

	exists, err := d.UniqueIDResolver().IsUserExists(ctx, uniqueUserID)
	if err != nil {
		return nil, wrapError(KindServer,
			fmt.Sprintf("failed to check existence of unique user %s", uniqueUserID), err)
	}
	if !exists {
		return nil, newError(KindUserNotFound, "invalid unique user id")
	}

	uniqueGroups, err := d.UniqueIDResolver().GetGroupsOfUser(ctx, uniqueUserID)
	if err != nil {
		return nil, wrapError(KindServer,
			fmt.Sprintf("failed to retrieve the unique group ids for user id %s", uniqueUserID), err)
	}
	groups := make([]Group, 0, len(uniqueGroups))
	for _, g := range uniqueGroups {
		groups = append(groups, s.groupHandle(g.UniqueGroupID, d))
	}
	return groups, nil
}

// GetUsersOfGroup returns handles for the group's members.
func (s *Store) GetUsersOfGroup(ctx context.Context, uniqueGroupID, domainName string) ([]User, error) {
	if uniqueGroupID == "" {
		return nil, newError(KindClient, "invalid unique group id")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return nil, err
	}

	exists, err := d.UniqueIDResolver().IsGroupExists(ctx, uniqueGroupID)
	if err != nil {
		return nil, wrapError(KindServer,
			fmt.Sprintf("failed to check existence of unique group %s", uniqueGroupID), err)
	}
	if !exists {
		return nil, newError(KindGroupNotFound, "invalid unique group id")
	}

	uniqueUsers, err := d.UniqueIDResolver().GetUsersOfGroup(ctx, uniqueGroupID)
	if err != nil {
		return nil, wrapError(KindServer,
			fmt.Sprintf("failed to retrieve the unique user ids for group id %s", uniqueGroupID), err)
	}
	users := make([]User, 0, len(uniqueUsers))
	for _, u := range uniqueUsers {
		users = append(users, s.userHandle(u.UniqueUserID, d))
	}
	return users, nil
}

// IsUserInGroup reports whether the user belongs to the group.
func (s *Store) IsUserInGroup(ctx context.Context, uniqueUserID, uniqueGroupID, domainName string) (bool, error) {
	if uniqueUserID == "" || uniqueGroupID == "" {
		return false, newError(KindClient, "invalid inputs")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return false, err
	}

	exists, err := d.UniqueIDResolver().IsUserExists(ctx, uniqueUserID)
	if err != nil {
		return false, wrapError(KindServer,
			fmt.Sprintf("failed to check existence of unique user %s", uniqueUserID), err)
	}
	if !exists {
		return false, newError(KindUserNotFound, "invalid unique user id")
	}

	in, err := d.UniqueIDResolver().IsUserInGroup(ctx, uniqueUserID, uniqueGroupID)
	if err != nil {
		return false, wrapError(KindServer,
			fmt.Sprintf("failed to check unique user %s belongs to the group %s", uniqueUserID, uniqueGroupID), err)
	}
	return in, nil
}

// GetGroupClaims returns the group's claims assembled from its connected
// groups.
func (s *Store) GetGroupClaims(ctx context.Context, uniqueGroupID, domainName string) ([]claim.Claim, error) {
	if uniqueGroupID == "" {
		return nil, newError(KindClient, "invalid unique group id")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return nil, err
	}
	uniqueGroup, err := s.uniqueGroup(ctx, d, uniqueGroupID)
	if err != nil {
		return nil, err
	}

	attrsByConnector := make(map[string][]claim.Attribute)
	for _, g := range uniqueGroup.Groups {
		conn, err := d.IdentityStoreConnector(g.ConnectorID)
		if err != nil {
			return nil, wrapError(KindServer, "failed to retrieve the identity store connector", err)
		}
		attrs, err := conn.GetGroupAttributeValues(ctx, g.ConnectorGroupID)
		if err != nil {
			return nil, wrapError(KindServer,
				fmt.Sprintf("failed to retrieve attribute values from connector %s", g.ConnectorID), err)
		}
		attrsByConnector[g.ConnectorID] = attrs
	}
	return claim.ToClaims(d.MetaClaimMappings(), attrsByConnector), nil
}

func (s *Store) uniqueGroup(ctx context.Context, d *Domain, uniqueGroupID string) (*resolver.UniqueGroup, error) {
	uniqueGroup, err := d.UniqueIDResolver().GetUniqueGroup(ctx, uniqueGroupID)
	if err != nil {
		return nil, wrapError(KindServer, fmt.Sprintf("failed to retrieve unique group %s", uniqueGroupID), err)
	}
	if uniqueGroup == nil {
		return nil, newError(KindGroupNotFound, "invalid unique group id")
	}
	return uniqueGroup, nil
}

// AddGroup creates a logical group from the model's claims. Connected groups
// written before a failure are compensated; the resolver linkage commits
// last.
func (s *Store) AddGroup(ctx context.Context, model GroupModel, domainName string) (Group, error) {
	if len(model.Claims) == 0 {
		return Group{}, newError(KindClient, "invalid group or claim list is empty")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return Group{}, err
	}
	return s.doAddGroup(ctx, model, d)
}

func (s *Store) doAddGroup(ctx context.Context, model GroupModel, d *Domain) (Group, error) {
	mappings := d.MetaClaimMappings()
	if len(mappings) == 0 {
		return Group{}, newError(KindServer, "invalid domain configuration found, no meta claim mappings")
	}
	attrsByConnector := claim.ToConnectorAttributes(model.Claims, mappings)

	var connectedGroups []resolver.ConnectedGroup
	for _, conn := range d.IdentityStoreConnectors() {
		attrs, ok := attrsByConnector[conn.ID()]
		if !ok {
			continue
		}
		connectorGroupID, err := conn.AddGroup(ctx, attrs)
		if err != nil {
			if len(connectedGroups) > 0 {
				s.removeAddedGroupsInAFailure(ctx, d, connectedGroups)
			}
			return Group{}, wrapError(KindServer, "identity store connector failed to add group attributes", err)
		}
		connectedGroups = append(connectedGroups, resolver.ConnectedGroup{
			ConnectorID:      conn.ID(),
			ConnectorGroupID: connectorGroupID,
		})
	}

	uniqueGroupID := uuid.NewString()
	err := d.UniqueIDResolver().AddGroup(ctx, resolver.UniqueGroup{
		UniqueGroupID: uniqueGroupID,
		Groups:        connectedGroups,
	}, d.Name())
	if err != nil {
		s.removeAddedGroupsInAFailure(ctx, d, connectedGroups)
		return Group{}, wrapError(KindServer, "error occurred while persisting group unique id", err)
	}
	return s.groupHandle(uniqueGroupID, d), nil
}

// AddGroups creates a batch of logical groups from the models' claims, with
// the same correlation-key and compensation contract as AddUsers.
func (s *Store) AddGroups(ctx context.Context, models []GroupModel, domainName string) ([]Group, error) {
	if len(models) == 0 {
		return nil, newError(KindClient, "invalid group list")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return nil, err
	}
	return s.doAddGroups(ctx, models, d)
}

func (s *Store) doAddGroups(ctx context.Context, models []GroupModel, d *Domain) ([]Group, error) {
	mappings := d.MetaClaimMappings()
	if len(mappings) == 0 {
		return nil, newError(KindServer, "invalid domain configuration found, no meta claim mappings")
	}

	uniqueGroupIDs := make([]string, 0, len(models))
	batchByConnector := make(map[string]map[string][]claim.Attribute)
	for _, model := range models {
		if len(model.Claims) == 0 {
			continue
		}
		uniqueGroupID := uuid.NewString()
		uniqueGroupIDs = append(uniqueGroupIDs, uniqueGroupID)
		for connectorID, attrs := range claim.ToConnectorAttributes(model.Claims, mappings) {
			batch, ok := batchByConnector[connectorID]
			if !ok {
				batch = make(map[string][]claim.Attribute)
				batchByConnector[connectorID] = batch
			}
			batch[uniqueGroupID] = attrs
		}
	}

	groupsByID := make(map[string][]resolver.ConnectedGroup)
	compensateAll := func() {
		for _, groups := range groupsByID {
			s.removeAddedGroupsInAFailure(ctx, d, groups)
		}
	}

	for _, conn := range d.IdentityStoreConnectors() {
		batch, ok := batchByConnector[conn.ID()]
		if !ok {
			continue
		}
		connectorGroupIDs, err := conn.AddGroups(ctx, batch)
		if err != nil {
			compensateAll()
			return nil, wrapError(KindServer, "identity store connector failed to add groups", err)
		}
		for uniqueGroupID, connectorGroupID := range connectorGroupIDs {
			groupsByID[uniqueGroupID] = append(groupsByID[uniqueGroupID], resolver.ConnectedGroup{
				ConnectorID:      conn.ID(),
				ConnectorGroupID: connectorGroupID,
			})
		}
		for uniqueGroupID := range batch {
			if _, ok := connectorGroupIDs[uniqueGroupID]; !ok {
				compensateAll()
				return nil, newError(KindServer,
					fmt.Sprintf("identity store connector %s failed to add every group in the batch", conn.ID()))
			}
		}
	}

	if err := d.UniqueIDResolver().AddGroups(ctx, groupsByID); err != nil {
		compensateAll()
		return nil, wrapError(KindServer, "error occurred while persisting group unique ids", err)
	}

	groups := make([]Group, 0, len(uniqueGroupIDs))
	for _, uniqueGroupID := range uniqueGroupIDs {
		if _, ok := groupsByID[uniqueGroupID]; !ok {
			continue
		}
		groups = append(groups, s.groupHandle(uniqueGroupID, d))
	}
	return groups, nil
}

// UpdateGroupClaims replaces the group's claims, mirroring UpdateUserClaims
// without a credential stage.
func (s *Store) UpdateGroupClaims(ctx context.Context, uniqueGroupID string, claims []claim.Claim, domainName string) error {
	if uniqueGroupID == "" {
		return newError(KindClient, "invalid unique group id")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return err
	}
	uniqueGroup, err := s.uniqueGroup(ctx, d, uniqueGroupID)
	if err != nil {
		return err
	}

	existing := make(map[string]string)
	for _, g := range uniqueGroup.Groups {
		existing[g.ConnectorID] = g.ConnectorGroupID
	}

	updated := make(map[string]string)
	if len(claims) == 0 && len(existing) > 0 {
		for connectorID, connectorGroupID := range existing {
			conn, err := d.IdentityStoreConnector(connectorID)
			if err != nil {
				return wrapError(KindServer, "failed to retrieve the identity store connector", err)
			}
			updatedID, err := conn.UpdateGroupAttributes(ctx, connectorGroupID, nil)
			if err != nil {
				return wrapError(KindServer, "identity store connector failed to update group attributes", err)
			}
			updated[connectorID] = updatedID
		}
	} else if len(claims) > 0 {
		attrsByConnector := claim.ToConnectorAttributes(claims, d.MetaClaimMappings())

		target := make(map[string]string, len(attrsByConnector))
		for connectorID := range attrsByConnector {
			target[connectorID] = ""
		}
		maps.Copy(target, existing)

		for connectorID, connectorGroupID := range target {
			conn, err := d.IdentityStoreConnector(connectorID)
			if err != nil {
				return wrapError(KindServer, "failed to retrieve the identity store connector", err)
			}
			var updatedID string
			if connectorGroupID == "" {
				updatedID, err = conn.AddGroup(ctx, attrsByConnector[connectorID])
				if err != nil {
					return wrapError(KindServer, "identity store connector failed to add group attributes", err)
				}
			} else {
				updatedID, err = conn.UpdateGroupAttributes(ctx, connectorGroupID, attrsByConnector[connectorID])
				if err != nil {
					return wrapError(KindServer, "identity store connector failed to update group attributes", err)
				}
			}
			updated[connectorID] = updatedID
		}
	}

	if !maps.Equal(existing, updated) {
		if err := d.UniqueIDResolver().UpdateGroup(ctx, uniqueGroupID, updated); err != nil {
			return wrapError(KindServer, "failed to update group connector ids", err)
		}
	}
	return nil
}

// DeleteGroup removes the group's connected groups from their connectors and
// then the linkage, resolver last.
func (s *Store) DeleteGroup(ctx context.Context, uniqueGroupID, domainName string) error {
	if uniqueGroupID == "" {
		return newError(KindClient, "invalid unique group id")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return err
	}
	uniqueGroup, err := s.uniqueGroup(ctx, d, uniqueGroupID)
	if err != nil {
		return err
	}

	for _, g := range uniqueGroup.Groups {
		conn, err := d.IdentityStoreConnector(g.ConnectorID)
		if err != nil {
			return wrapError(KindServer, "failed to retrieve the identity store connector", err)
		}
		if err := conn.DeleteGroup(ctx, g.ConnectorGroupID); err != nil {
			return wrapError(KindServer,
				fmt.Sprintf("identity store connector %s failed to delete the group", g.ConnectorID), err)
		}
	}

	if err := d.UniqueIDResolver().DeleteGroup(ctx, uniqueGroupID); err != nil {
		return wrapError(KindServer, fmt.Sprintf("failed to delete group %s", uniqueGroupID), err)
	}
	return nil
}

// UpdateUsersOfGroup replaces the group's member list in the resolver.
func (s *Store) UpdateUsersOfGroup(ctx context.Context, uniqueGroupID string, uniqueUserIDs []string, domainName string) error {
	if uniqueGroupID == "" {
		return newError(KindClient, "invalid unique group id")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return err
	}
	if err := d.UniqueIDResolver().UpdateUsersOfGroup(ctx, uniqueGroupID, uniqueUserIDs); err != nil {
		return wrapError(KindServer, fmt.Sprintf("failed to update users of group %s", uniqueGroupID), err)
	}
	return nil
}
