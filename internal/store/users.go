package store

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/google/uuid"

	"github.com/kasunbg/carbon-identity-mgt/internal/claim"
	"github.com/kasunbg/carbon-identity-mgt/internal/connector"
	"github.com/kasunbg/carbon-identity-mgt/internal/credential"
	"github.com/kasunbg/carbon-identity-mgt/internal/resolver"
)

// GetUser returns a handle on the logical user with the given id. An empty
// domainName targets the primary domain. No attributes are fetched.
func (s *Store) GetUser(ctx context.Context, uniqueUserID, domainName string) (User, error) {
	if uniqueUserID == "" {
		return User{}, newError(KindClient, "invalid unique user id")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return User{}, err
	}

	exists, err := d.UniqueIDResolver().IsUserExists(ctx, uniqueUserID)
	if err != nil {
		return User{}, wrapError(KindServer,
			fmt.Sprintf("failed to check existence of unique user %s", uniqueUserID), err)
	}
	if !exists {
		return User{}, newError(KindUserNotFound, "invalid unique user id")
	}
	return s.userHandle(uniqueUserID, d), nil
}

// GetUserByClaim returns a handle on the logical user owning the given claim
// value.
func (s *Store) GetUserByClaim(ctx context.Context, c claim.Claim, domainName string) (User, error) {
	if c.Value == "" {
		return User{}, newError(KindClient, "invalid claim")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return User{}, err
	}

	mapping, err := d.MetaClaimMapping(c.ClaimURI)
	if err != nil {
		return User{}, wrapError(KindServer, "failed to retrieve the meta claim mapping for the claim URI", err)
	}
	conn, err := d.IdentityStoreConnector(mapping.IdentityStoreConnectorID)
	if err != nil {
		return User{}, wrapError(KindServer, "failed to retrieve the identity store connector", err)
	}

	connectorUserID, err := conn.GetConnectorUserID(ctx, mapping.AttributeName, c.Value)
	if err != nil {
		if errors.Is(err, connector.ErrNotFound) {
			return User{}, newError(KindUserNotFound, "invalid claim value")
		}
		return User{}, wrapError(KindServer, "failed to resolve the connector user id", err)
	}
	if connectorUserID == "" {
		return User{}, newError(KindUserNotFound, "invalid claim value")
	}

	uniqueUser, err := d.UniqueIDResolver().GetUniqueUserFromConnectorUserID(ctx, connectorUserID, mapping.IdentityStoreConnectorID)
	if err != nil {
		return User{}, wrapError(KindServer, "failed to retrieve the unique user id", err)
	}
	if uniqueUser == nil || uniqueUser.UniqueUserID == "" {
		return User{}, newError(KindServer, "failed to retrieve the unique user id")
	}
	return s.userHandle(uniqueUser.UniqueUserID, d), nil
}

// ListUsers returns handles for the users of the domain, windowed by offset
// and length. length == 0 returns an empty list without any connector or
// resolver I/O.
func (s *Store) ListUsers(ctx context.Context, offset, length int, domainName string) ([]User, error) {
	if length == 0 {
		return nil, nil
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return nil, err
	}

	uniqueUsers, err := d.UniqueIDResolver().ListUsers(ctx, offset, length)
	if err != nil {
		return nil, wrapError(KindServer, fmt.Sprintf("failed to list users in the domain %s", d.Name()), err)
	}
	users := make([]User, 0, len(uniqueUsers))
	for _, u := range uniqueUsers {
		users = append(users, s.userHandle(u.UniqueUserID, d))
	}
	return users, nil
}

// ListUsersByClaim returns handles for the users whose mapped attribute
// equals the claim value.
func (s *Store) ListUsersByClaim(ctx context.Context, c claim.Claim, offset, length int, domainName string) ([]User, error) {
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
	connectorUserIDs, err := conn.ListConnectorUserIDs(ctx, mapping.AttributeName, c.Value, offset, length)
	if err != nil {
		return nil, wrapError(KindServer, "failed to list connector user ids", err)
	}
	return s.usersFromConnectorIDs(ctx, d, connectorUserIDs, mapping.IdentityStoreConnectorID)
}

// ListUsersByMetaClaim returns handles for the users whose mapped attribute
// matches the filter pattern. Pattern syntax is connector-defined.
func (s *Store) ListUsersByMetaClaim(ctx context.Context, mc claim.MetaClaim, filterPattern string, offset, length int, domainName string) ([]User, error) {
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
	connectorUserIDs, err := conn.ListConnectorUserIDsByPattern(ctx, mapping.AttributeName, filterPattern, offset, length)
	if err != nil {
		return nil, wrapError(KindServer, "failed to list connector user ids by pattern", err)
	}
	return s.usersFromConnectorIDs(ctx, d, connectorUserIDs, mapping.IdentityStoreConnectorID)
}

func (s *Store) usersFromConnectorIDs(ctx context.Context, d *Domain, connectorUserIDs []string, connectorID string) ([]User, error) {
	if len(connectorUserIDs) == 0 {
		return nil, nil
	}
	uniqueUsers, err := d.UniqueIDResolver().GetUniqueUsers(ctx, connectorUserIDs, connectorID)
	if err != nil {
		return nil, wrapError(KindServer, "failed to retrieve the unique user ids", err)
	}
	if len(uniqueUsers) == 0 {
		return nil, newError(KindServer, "failed to retrieve the unique user ids")
	}
	users := make([]User, 0, len(uniqueUsers))
	for _, u := range uniqueUsers {
		users = append(users, s.userHandle(u.UniqueUserID, d))
	}
	return users, nil
}

// GetClaims returns the user's claims assembled from every attribute
// partition.
func (s *Store) GetClaims(ctx context.Context, uniqueUserID, domainName string) ([]claim.Claim, error) {
	if uniqueUserID == "" {
		return nil, newError(KindClient, "invalid unique user id")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return nil, err
	}
	uniqueUser, err := s.uniqueUser(ctx, d, uniqueUserID)
	if err != nil {
		return nil, err
	}

	attrsByConnector := make(map[string][]claim.Attribute)
	for _, p := range uniqueUser.Partitions {
		if !p.IdentityStore {
			continue
		}
		conn, err := d.IdentityStoreConnector(p.ConnectorID)
		if err != nil {
			return nil, wrapError(KindServer, "failed to retrieve the identity store connector", err)
		}
		attrs, err := conn.GetUserAttributeValues(ctx, p.ConnectorUserID)
		if err != nil {
			return nil, wrapError(KindServer,
				fmt.Sprintf("failed to retrieve attribute values from connector %s", p.ConnectorID), err)
		}
		attrsByConnector[p.ConnectorID] = attrs
	}
	return claim.ToClaims(d.MetaClaimMappings(), attrsByConnector), nil
}

// GetClaimsOfMetaClaims returns the user's claims restricted to the
// requested meta claims. An empty meta claim list returns an empty result.
func (s *Store) GetClaimsOfMetaClaims(ctx context.Context, uniqueUserID string, metaClaims []claim.MetaClaim, domainName string) ([]claim.Claim, error) {
	if uniqueUserID == "" {
		return nil, newError(KindClient, "invalid unique user id")
	}
	if len(metaClaims) == 0 {
		return nil, nil
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return nil, err
	}
	uniqueUser, err := s.uniqueUser(ctx, d, uniqueUserID)
	if err != nil {
		return nil, err
	}

	mappings := d.MetaClaimMappings()
	namesByConnector := claim.ConnectorAttributeNames(mappings, metaClaims)

	attrsByConnector := make(map[string][]claim.Attribute)
	for _, p := range uniqueUser.Partitions {
		if !p.IdentityStore {
			continue
		}
		attributeNames, ok := namesByConnector[p.ConnectorID]
		if !ok {
			continue
		}
		conn, err := d.IdentityStoreConnector(p.ConnectorID)
		if err != nil {
			return nil, wrapError(KindServer, "failed to retrieve the identity store connector", err)
		}
		attrs, err := conn.GetUserAttributeValuesByNames(ctx, p.ConnectorUserID, attributeNames)
		if err != nil {
			return nil, wrapError(KindServer,
				fmt.Sprintf("failed to retrieve attribute values from connector %s", p.ConnectorID), err)
		}
		attrsByConnector[p.ConnectorID] = attrs
	}
	return claim.ToClaims(mappings, attrsByConnector), nil
}

func (s *Store) uniqueUser(ctx context.Context, d *Domain, uniqueUserID string) (*resolver.UniqueUser, error) {
	uniqueUser, err := d.UniqueIDResolver().GetUniqueUser(ctx, uniqueUserID)
	if err != nil {
		return nil, wrapError(KindServer, fmt.Sprintf("failed to retrieve unique user %s", uniqueUserID), err)
	}
	if uniqueUser == nil {
		return nil, newError(KindUserNotFound, "invalid unique user id")
	}
	return uniqueUser, nil
}

// AddUser creates a logical user from the model's claims and credentials.
// The model must carry at least one claim or credential; non-empty claims
// must include a username claim with a non-empty value. Partitions written
// before a failure are compensated before the error is surfaced; the
// resolver linkage commits last.
func (s *Store) AddUser(ctx context.Context, model UserModel, domainName string) (User, error) {
	if len(model.Claims) == 0 && len(model.Credentials) == 0 {
		return User{}, newError(KindClient, "invalid user")
	}
	if len(model.Claims) > 0 && !hasUsernameClaim(model.Claims) {
		return User{}, newError(KindClient, "valid username claim must be present")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return User{}, err
	}
	return s.doAddUser(ctx, model, d)
}

func hasUsernameClaim(claims []claim.Claim) bool {
	for _, c := range claims {
		if c.ClaimURI == claim.UsernameClaimURI && c.Value != "" {
			return true
		}
	}
	return false
}

func (s *Store) doAddUser(ctx context.Context, model UserModel, d *Domain) (User, error) {
	var partitions []resolver.UserPartition

	if len(model.Claims) > 0 {
		attrsByConnector := claim.ToConnectorAttributes(model.Claims, d.MetaClaimMappings())
		for _, conn := range d.IdentityStoreConnectors() {
			attrs, ok := attrsByConnector[conn.ID()]
			if !ok {
				continue
			}
			connectorUserID, err := conn.AddUser(ctx, attrs)
			if err != nil {
				if len(partitions) > 0 {
					s.removeAddedUsersInAFailure(ctx, d, partitions)
				}
				return User{}, wrapError(KindServer, "identity store connector failed to add user attributes", err)
			}
			partitions = append(partitions, resolver.UserPartition{
				ConnectorID:     conn.ID(),
				ConnectorUserID: connectorUserID,
				IdentityStore:   true,
			})
		}
	}

	if len(model.Credentials) > 0 {
		credsByConnector := credential.PartitionByConnector(model.Credentials, d.CredentialStoreConnectors())
		for _, conn := range d.CredentialStoreConnectors() {
			creds, ok := credsByConnector[conn.ID()]
			if !ok {
				continue
			}
			connectorUserID, err := conn.AddCredential(ctx, creds)
			if err != nil {
				if len(partitions) > 0 {
					s.removeAddedUsersInAFailure(ctx, d, partitions)
				}
				return User{}, wrapError(KindServer, "credential store connector failed to add user credentials", err)
			}
			partitions = append(partitions, resolver.UserPartition{
				ConnectorID:     conn.ID(),
				ConnectorUserID: connectorUserID,
				IdentityStore:   false,
			})
		}
	}

	uniqueUserID := uuid.NewString()
	err := d.UniqueIDResolver().AddUser(ctx, resolver.UniqueUser{
		UniqueUserID: uniqueUserID,
		Partitions:   partitions,
	}, d.Name())
	if err != nil {
		s.removeAddedUsersInAFailure(ctx, d, partitions)
		return User{}, wrapError(KindServer, "error occurred while persisting user unique id", err)
	}
	return s.userHandle(uniqueUserID, d), nil
}

// AddUsers creates a batch of logical users from the models' claims. Each
// user is assigned a fresh logical id that doubles as the bulk correlation
// key. A connector error, a missing entry in a connector's bulk result, or a
// resolver commit failure compensates every partition recorded so far and
// surfaces a server error.
func (s *Store) AddUsers(ctx context.Context, models []UserModel, domainName string) ([]User, error) {
	if len(models) == 0 {
		return nil, newError(KindClient, "invalid user list")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return nil, err
	}
	return s.doAddUsers(ctx, models, d)
}

func (s *Store) doAddUsers(ctx context.Context, models []UserModel, d *Domain) ([]User, error) {
	mappings := d.MetaClaimMappings()

	// Per-connector batches keyed by the freshly minted logical user ids.
	uniqueUserIDs := make([]string, 0, len(models))
	batchByConnector := make(map[string]map[string][]claim.Attribute)
	for _, model := range models {
		uniqueUserID := uuid.NewString()
		uniqueUserIDs = append(uniqueUserIDs, uniqueUserID)
		for connectorID, attrs := range claim.ToConnectorAttributes(model.Claims, mappings) {
			batch, ok := batchByConnector[connectorID]
			if !ok {
				batch = make(map[string][]claim.Attribute)
				batchByConnector[connectorID] = batch
			}
			batch[uniqueUserID] = attrs
		}
	}

	partitionsByUser := make(map[string][]resolver.UserPartition)
	compensateAll := func() {
		for _, partitions := range partitionsByUser {
			s.removeAddedUsersInAFailure(ctx, d, partitions)
		}
	}

	for _, conn := range d.IdentityStoreConnectors() {
		batch, ok := batchByConnector[conn.ID()]
		if !ok {
			continue
		}
		connectorUserIDs, err := conn.AddUsers(ctx, batch)
		if err != nil {
			compensateAll()
			return nil, wrapError(KindServer, "identity store connector failed to add users", err)
		}
		for uniqueUserID, connectorUserID := range connectorUserIDs {
			partitionsByUser[uniqueUserID] = append(partitionsByUser[uniqueUserID], resolver.UserPartition{
				ConnectorID:     conn.ID(),
				ConnectorUserID: connectorUserID,
				IdentityStore:   true,
			})
		}
		for uniqueUserID := range batch {
			if _, ok := connectorUserIDs[uniqueUserID]; !ok {
				compensateAll()
				return nil, newError(KindServer,
					fmt.Sprintf("identity store connector %s failed to add every user in the batch", conn.ID()))
			}
		}
	}

	if err := d.UniqueIDResolver().AddUsers(ctx, partitionsByUser); err != nil {
		compensateAll()
		return nil, wrapError(KindServer, "error occurred while persisting user unique ids", err)
	}

	users := make([]User, 0, len(uniqueUserIDs))
	for _, uniqueUserID := range uniqueUserIDs {
		if _, ok := partitionsByUser[uniqueUserID]; !ok {
			continue
		}
		users = append(users, s.userHandle(uniqueUserID, d))
	}
	return users, nil
}

// UpdateUserClaims replaces the user's claims. Connectors gaining claims
// receive new partitions, connectors keeping claims are updated in place,
// and an empty claim list clears every existing partition. The resolver
// linkage is updated only when a connector rekeyed or gained a partition.
func (s *Store) UpdateUserClaims(ctx context.Context, uniqueUserID string, claims []claim.Claim, domainName string) error {
	if uniqueUserID == "" {
		return newError(KindClient, "invalid unique user id")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return err
	}
	uniqueUser, err := s.uniqueUser(ctx, d, uniqueUserID)
	if err != nil {
		return err
	}

	existing := make(map[string]string)
	for _, p := range uniqueUser.Partitions {
		if p.IdentityStore {
			existing[p.ConnectorID] = p.ConnectorUserID
		}
	}

	updated := make(map[string]string)
	if len(claims) == 0 && len(existing) > 0 {
		for connectorID, connectorUserID := range existing {
			conn, err := d.IdentityStoreConnector(connectorID)
			if err != nil {
				return wrapError(KindServer, "failed to retrieve the identity store connector", err)
			}
			updatedID, err := conn.UpdateUserAttributes(ctx, connectorUserID, nil)
			if err != nil {
				return wrapError(KindServer, "identity store connector failed to update user attributes", err)
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

		for connectorID, connectorUserID := range target {
			conn, err := d.IdentityStoreConnector(connectorID)
			if err != nil {
				return wrapError(KindServer, "failed to retrieve the identity store connector", err)
			}
			var updatedID string
			if connectorUserID == "" {
				updatedID, err = conn.AddUser(ctx, attrsByConnector[connectorID])
				if err != nil {
					return wrapError(KindServer, "identity store connector failed to add user attributes", err)
				}
			} else {
				updatedID, err = conn.UpdateUserAttributes(ctx, connectorUserID, attrsByConnector[connectorID])
				if err != nil {
					return wrapError(KindServer, "identity store connector failed to update user attributes", err)
				}
			}
			updated[connectorID] = updatedID
		}
	}

	if !maps.Equal(existing, updated) {
		if err := d.UniqueIDResolver().UpdateUser(ctx, uniqueUserID, updated); err != nil {
			return wrapError(KindServer, "failed to update user connector ids", err)
		}
	}
	return nil
}

// DeleteUser removes the user's attribute partitions from their connectors
// and then the linkage. The resolver is touched last, so a connector
// failure leaves the linkage intact. Credential partitions are left to the
// credential stores' own retention.
func (s *Store) DeleteUser(ctx context.Context, uniqueUserID, domainName string) error {
	if uniqueUserID == "" {
		return newError(KindClient, "invalid unique user id")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return err
	}
	uniqueUser, err := s.uniqueUser(ctx, d, uniqueUserID)
	if err != nil {
		return err
	}

	for _, p := range uniqueUser.Partitions {
		if !p.IdentityStore {
			continue
		}
		conn, err := d.IdentityStoreConnector(p.ConnectorID)
		if err != nil {
			return wrapError(KindServer, "failed to retrieve the identity store connector", err)
		}
		if err := conn.DeleteUser(ctx, p.ConnectorUserID); err != nil {
			return wrapError(KindServer,
				fmt.Sprintf("identity store connector %s failed to delete the user", p.ConnectorID), err)
		}
	}

	if err := d.UniqueIDResolver().DeleteUser(ctx, uniqueUserID); err != nil {
		return wrapError(KindServer, fmt.Sprintf("failed to delete user %s", uniqueUserID), err)
	}
	return nil
}

// UpdateGroupsOfUser replaces the user's group memberships in the resolver.
func (s *Store) UpdateGroupsOfUser(ctx context.Context, uniqueUserID string, uniqueGroupIDs []string, domainName string) error {
	if uniqueUserID == "" {
		return newError(KindClient, "invalid unique user id")
	}
	d, err := s.resolveDomain(domainName)
	if err != nil {
		return err
	}
	if err := d.UniqueIDResolver().UpdateGroupsOfUser(ctx, uniqueUserID, uniqueGroupIDs); err != nil {
		return wrapError(KindServer, fmt.Sprintf("failed to update groups of user %s", uniqueUserID), err)
	}
	return nil
}
