// Package resolver declares the unique-id resolver contract: the
// authoritative mapping between a logical user or group id and the
// per-connector partitions it is assembled from.
package resolver

import "context"

// UserPartition names the slice of a user held by one connector.
// IdentityStore is true for attribute partitions in identity store
// connectors and false for credential partitions.
type UserPartition struct {
	ConnectorID     string
	ConnectorUserID string
	IdentityStore   bool
}

// UniqueUser links a logical user id to its partitions.
type UniqueUser struct {
	UniqueUserID string
	Partitions   []UserPartition
}

// ConnectedGroup names the slice of a group held by one identity store
// connector. Groups carry no credential partitions.
type ConnectedGroup struct {
	ConnectorID      string
	ConnectorGroupID string
}

// UniqueGroup links a logical group id to its connected groups.
type UniqueGroup struct {
	UniqueGroupID string
	Groups        []ConnectedGroup
}

// UniqueIDResolver is the source of truth for logical-id linkage. All write
// paths of the virtual store commit to the resolver last. Implementations
// must tolerate concurrent callers and reject duplicate logical ids.
type UniqueIDResolver interface {
	// IsUserExists reports whether a linkage exists for the logical user id.
	IsUserExists(ctx context.Context, uniqueUserID string) (bool, error)

	// IsGroupExists reports whether a linkage exists for the logical group id.
	IsGroupExists(ctx context.Context, uniqueGroupID string) (bool, error)

	// GetUniqueUser returns the linkage for the logical user id, or nil when
	// absent.
	GetUniqueUser(ctx context.Context, uniqueUserID string) (*UniqueUser, error)

	// GetUniqueUserFromConnectorUserID reverse-resolves the logical user
	// owning the given partition, or nil when absent.
	GetUniqueUserFromConnectorUserID(ctx context.Context, connectorUserID, connectorID string) (*UniqueUser, error)

	// GetUniqueUsers reverse-resolves a batch of partitions of one
	// connector. Result order matches the input order; missing entries are
	// skipped.
	GetUniqueUsers(ctx context.Context, connectorUserIDs []string, connectorID string) ([]UniqueUser, error)

	// ListUsers returns linkages windowed by offset and length.
	ListUsers(ctx context.Context, offset, length int) ([]UniqueUser, error)

	// GetUniqueGroup returns the linkage for the logical group id, or nil
	// when absent.
	GetUniqueGroup(ctx context.Context, uniqueGroupID string) (*UniqueGroup, error)

	// GetUniqueGroupFromConnectorGroupID reverse-resolves the logical group
	// owning the given connected group, or nil when absent.
	GetUniqueGroupFromConnectorGroupID(ctx context.Context, connectorGroupID, connectorID string) (*UniqueGroup, error)

	// GetUniqueGroups reverse-resolves a batch of connected groups of one
	// connector. Result order matches the input order; missing entries are
	// skipped.
	GetUniqueGroups(ctx context.Context, connectorGroupIDs []string, connectorID string) ([]UniqueGroup, error)

	// ListGroups returns linkages windowed by offset and length.
	ListGroups(ctx context.Context, offset, length int) ([]UniqueGroup, error)

	// GetGroupsOfUser returns the groups the user belongs to.
	GetGroupsOfUser(ctx context.Context, uniqueUserID string) ([]UniqueGroup, error)

	// GetUsersOfGroup returns the members of the group.
	GetUsersOfGroup(ctx context.Context, uniqueGroupID string) ([]UniqueUser, error)

	// IsUserInGroup reports whether the user is a member of the group.
	IsUserInGroup(ctx context.Context, uniqueUserID, uniqueGroupID string) (bool, error)

	// AddUser commits the linkage for a new user in the named domain.
	AddUser(ctx context.Context, user UniqueUser, domainName string) error

	// AddUsers commits linkages for a batch of new users keyed by logical id.
	AddUsers(ctx context.Context, partitions map[string][]UserPartition) error

	// UpdateUser replaces the identity-partition map of the user with the
	// given connector-id to connector-user-id entries.
	UpdateUser(ctx context.Context, uniqueUserID string, connectorUserIDs map[string]string) error

	// DeleteUser removes the user's linkage and its group memberships.
	DeleteUser(ctx context.Context, uniqueUserID string) error

	// AddGroup commits the linkage for a new group in the named domain.
	AddGroup(ctx context.Context, group UniqueGroup, domainName string) error

	// AddGroups commits linkages for a batch of new groups keyed by logical id.
	AddGroups(ctx context.Context, groups map[string][]ConnectedGroup) error

	// UpdateGroup replaces the connected-group map of the group.
	UpdateGroup(ctx context.Context, uniqueGroupID string, connectorGroupIDs map[string]string) error

	// DeleteGroup removes the group's linkage and its memberships.
	DeleteGroup(ctx context.Context, uniqueGroupID string) error

	// UpdateGroupsOfUser replaces the user's group memberships.
	UpdateGroupsOfUser(ctx context.Context, uniqueUserID string, uniqueGroupIDs []string) error

	// UpdateUsersOfGroup replaces the group's member list.
	UpdateUsersOfGroup(ctx context.Context, uniqueGroupID string, uniqueUserIDs []string) error
}
