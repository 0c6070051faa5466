// Package connector declares the contracts the virtual identity store
// consumes from backing-store drivers. Implementations own their pools and
// handles; the core neither opens nor closes them.
package connector

import (
	"context"
	"errors"

	"github.com/kasunbg/carbon-identity-mgt/internal/claim"
	"github.com/kasunbg/carbon-identity-mgt/internal/credential"
)

// ErrNotFound is returned by lookup operations when no entity matches.
var ErrNotFound = errors.New("connector: not found")

// ErrAuthenticationFailed is returned by CredentialStoreConnector.Authenticate
// when the presented credential does not verify.
var ErrAuthenticationFailed = errors.New("connector: authentication failed")

// IdentityStoreConnector drives the attribute partitions of one backing
// store (LDAP shard, SQL table, ...). Implementations must be safe for
// concurrent use.
type IdentityStoreConnector interface {
	// ID returns the connector id the domain configuration assigned.
	ID() string

	// AddUser stores a new attribute partition and returns its
	// connector-local user id.
	AddUser(ctx context.Context, attributes []claim.Attribute) (string, error)

	// AddUsers stores a batch of partitions keyed by an opaque correlation
	// token. Partial success is permitted: the returned map covers the keys
	// that were written.
	AddUsers(ctx context.Context, attributes map[string][]claim.Attribute) (map[string]string, error)

	// UpdateUserAttributes replaces the partition's attributes. The returned
	// id may differ from the input when the connector rekeys the entry.
	UpdateUserAttributes(ctx context.Context, connectorUserID string, attributes []claim.Attribute) (string, error)

	// DeleteUser removes the partition stored under connectorUserID.
	DeleteUser(ctx context.Context, connectorUserID string) error

	// GetConnectorUserID resolves the partition holding the given attribute
	// value. Returns ErrNotFound when no partition matches.
	GetConnectorUserID(ctx context.Context, attributeName, attributeValue string) (string, error)

	// ListConnectorUserIDs lists partition ids whose attribute equals the
	// given value, windowed by offset and length.
	ListConnectorUserIDs(ctx context.Context, attributeName, attributeValue string, offset, length int) ([]string, error)

	// ListConnectorUserIDsByPattern is ListConnectorUserIDs with a pattern
	// filter. Pattern syntax is connector-defined.
	ListConnectorUserIDsByPattern(ctx context.Context, attributeName, pattern string, offset, length int) ([]string, error)

	// GetUserAttributeValues returns every attribute of the partition.
	GetUserAttributeValues(ctx context.Context, connectorUserID string) ([]claim.Attribute, error)

	// GetUserAttributeValuesByNames returns the named attributes of the
	// partition.
	GetUserAttributeValuesByNames(ctx context.Context, connectorUserID string, attributeNames []string) ([]claim.Attribute, error)

	// RemoveAddedUsersInAFailure deletes partitions written by a failed
	// multi-connector operation. It must be idempotent; the virtual store
	// logs and swallows its errors.
	RemoveAddedUsersInAFailure(ctx context.Context, connectorUserIDs []string) error

	// Group counterparts.

	AddGroup(ctx context.Context, attributes []claim.Attribute) (string, error)
	AddGroups(ctx context.Context, attributes map[string][]claim.Attribute) (map[string]string, error)
	UpdateGroupAttributes(ctx context.Context, connectorGroupID string, attributes []claim.Attribute) (string, error)
	DeleteGroup(ctx context.Context, connectorGroupID string) error
	GetConnectorGroupID(ctx context.Context, attributeName, attributeValue string) (string, error)
	ListConnectorGroupIDs(ctx context.Context, attributeName, attributeValue string, offset, length int) ([]string, error)
	ListConnectorGroupIDsByPattern(ctx context.Context, attributeName, pattern string, offset, length int) ([]string, error)
	GetGroupAttributeValues(ctx context.Context, connectorGroupID string) ([]claim.Attribute, error)
	RemoveAddedGroupsInAFailure(ctx context.Context, connectorGroupIDs []string) error
}

// CredentialStoreConnector persists and verifies credential partitions in
// one backend. Implementations must be safe for concurrent use.
type CredentialStoreConnector interface {
	// ID returns the connector id the domain configuration assigned.
	ID() string

	// CanStore reports whether this connector can persist the credential.
	// Cheap and side-effect free.
	CanStore(cred credential.Credential) bool

	// CanHandle reports whether this connector can verify the credential
	// given the request metadata. Cheap and side-effect free.
	CanHandle(cred credential.Credential, meta map[string]string) bool

	// AddCredential persists the credentials as one partition and returns
	// its connector-local user id.
	AddCredential(ctx context.Context, creds []credential.Credential) (string, error)

	// Authenticate verifies the credential against the partition named by
	// meta[credential.UserIDKey]. Returns ErrAuthenticationFailed on
	// mismatch; success returns nil.
	Authenticate(ctx context.Context, cred credential.Credential, meta map[string]string) error
}
