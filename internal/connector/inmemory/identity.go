// Package inmemory provides map-backed connector implementations. They serve
// small deployments and tests; state does not survive a restart.
package inmemory

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/kasunbg/carbon-identity-mgt/internal/claim"
	"github.com/kasunbg/carbon-identity-mgt/internal/connector"
)

// IdentityStore is an in-memory identity store connector. Safe for
// concurrent use. Pattern filters use path.Match glob syntax.
type IdentityStore struct {
	id string

	mu     sync.RWMutex
	nextID int
	users  map[string][]claim.Attribute
	groups map[string][]claim.Attribute
}

var _ connector.IdentityStoreConnector = (*IdentityStore)(nil)

// NewIdentityStore returns an empty in-memory identity store connector with
// the given connector id.
func NewIdentityStore(id string) *IdentityStore {
	return &IdentityStore{
		id:     id,
		users:  make(map[string][]claim.Attribute),
		groups: make(map[string][]claim.Attribute),
	}
}

// ID implements connector.IdentityStoreConnector.
func (s *IdentityStore) ID() string { return s.id }

func (s *IdentityStore) newLocalID() string {
	s.nextID++
	return fmt.Sprintf("%s-%d", s.id, s.nextID)
}

// AddUser implements connector.IdentityStoreConnector.
func (s *IdentityStore) AddUser(ctx context.Context, attributes []claim.Attribute) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	localID := s.newLocalID()
	s.users[localID] = append([]claim.Attribute(nil), attributes...)
	return localID, nil
}

// AddUsers implements connector.IdentityStoreConnector.
func (s *IdentityStore) AddUsers(ctx context.Context, attributes map[string][]claim.Attribute) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	localIDs := make(map[string]string, len(attributes))
	for key, attrs := range attributes {
		localID := s.newLocalID()
		s.users[localID] = append([]claim.Attribute(nil), attrs...)
		localIDs[key] = localID
	}
	return localIDs, nil
}

// UpdateUserAttributes implements connector.IdentityStoreConnector. The
// stored attributes are replaced; the id never changes.
func (s *IdentityStore) UpdateUserAttributes(ctx context.Context, connectorUserID string, attributes []claim.Attribute) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[connectorUserID]; !ok {
		return "", connector.ErrNotFound
	}
	s.users[connectorUserID] = append([]claim.Attribute(nil), attributes...)
	return connectorUserID, nil
}

// DeleteUser implements connector.IdentityStoreConnector.
func (s *IdentityStore) DeleteUser(ctx context.Context, connectorUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[connectorUserID]; !ok {
		return connector.ErrNotFound
	}
	delete(s.users, connectorUserID)
	return nil
}

// GetConnectorUserID implements connector.IdentityStoreConnector.
func (s *IdentityStore) GetConnectorUserID(ctx context.Context, attributeName, attributeValue string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := matchIDs(s.users, attributeName, func(v string) bool { return v == attributeValue })
	if len(ids) == 0 {
		return "", connector.ErrNotFound
	}
	return ids[0], nil
}

// ListConnectorUserIDs implements connector.IdentityStoreConnector.
func (s *IdentityStore) ListConnectorUserIDs(ctx context.Context, attributeName, attributeValue string, offset, length int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := matchIDs(s.users, attributeName, func(v string) bool { return v == attributeValue })
	return window(ids, offset, length), nil
}

// ListConnectorUserIDsByPattern implements connector.IdentityStoreConnector.
func (s *IdentityStore) ListConnectorUserIDsByPattern(ctx context.Context, attributeName, pattern string, offset, length int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := matchIDs(s.users, attributeName, func(v string) bool {
		ok, err := path.Match(pattern, v)
		return err == nil && ok
	})
	return window(ids, offset, length), nil
}

// GetUserAttributeValues implements connector.IdentityStoreConnector.
func (s *IdentityStore) GetUserAttributeValues(ctx context.Context, connectorUserID string) ([]claim.Attribute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attrs, ok := s.users[connectorUserID]
	if !ok {
		return nil, connector.ErrNotFound
	}
	return append([]claim.Attribute(nil), attrs...), nil
}

// GetUserAttributeValuesByNames implements connector.IdentityStoreConnector.
func (s *IdentityStore) GetUserAttributeValuesByNames(ctx context.Context, connectorUserID string, attributeNames []string) ([]claim.Attribute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attrs, ok := s.users[connectorUserID]
	if !ok {
		return nil, connector.ErrNotFound
	}
	wanted := make(map[string]bool, len(attributeNames))
	for _, name := range attributeNames {
		wanted[name] = true
	}
	var out []claim.Attribute
	for _, a := range attrs {
		if wanted[a.Name] {
			out = append(out, a)
		}
	}
	return out, nil
}

// RemoveAddedUsersInAFailure implements connector.IdentityStoreConnector.
// Unknown ids are ignored so the operation stays idempotent.
func (s *IdentityStore) RemoveAddedUsersInAFailure(ctx context.Context, connectorUserIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range connectorUserIDs {
		delete(s.users, id)
	}
	return nil
}

// AddGroup implements connector.IdentityStoreConnector.
func (s *IdentityStore) AddGroup(ctx context.Context, attributes []claim.Attribute) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	localID := s.newLocalID()
	s.groups[localID] = append([]claim.Attribute(nil), attributes...)
	return localID, nil
}

// AddGroups implements connector.IdentityStoreConnector.
func (s *IdentityStore) AddGroups(ctx context.Context, attributes map[string][]claim.Attribute) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	localIDs := make(map[string]string, len(attributes))
	for key, attrs := range attributes {
		localID := s.newLocalID()
		s.groups[localID] = append([]claim.Attribute(nil), attrs...)
		localIDs[key] = localID
	}
	return localIDs, nil
}

// UpdateGroupAttributes implements connector.IdentityStoreConnector.
func (s *IdentityStore) UpdateGroupAttributes(ctx context.Context, connectorGroupID string, attributes []claim.Attribute) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[connectorGroupID]; !ok {
		return "", connector.ErrNotFound
	}
	s.groups[connectorGroupID] = append([]claim.Attribute(nil), attributes...)
	return connectorGroupID, nil
}

// DeleteGroup implements connector.IdentityStoreConnector.
func (s *IdentityStore) DeleteGroup(ctx context.Context, connectorGroupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[connectorGroupID]; !ok {
		return connector.ErrNotFound
	}
	delete(s.groups, connectorGroupID)
	return nil
}

// GetConnectorGroupID implements connector.IdentityStoreConnector.
func (s *IdentityStore) GetConnectorGroupID(ctx context.Context, attributeName, attributeValue string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := matchIDs(s.groups, attributeName, func(v string) bool { return v == attributeValue })
	if len(ids) == 0 {
		return "", connector.ErrNotFound
	}
	return ids[0], nil
}

// ListConnectorGroupIDs implements connector.IdentityStoreConnector.
func (s *IdentityStore) ListConnectorGroupIDs(ctx context.Context, attributeName, attributeValue string, offset, length int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := matchIDs(s.groups, attributeName, func(v string) bool { return v == attributeValue })
	return window(ids, offset, length), nil
}

// ListConnectorGroupIDsByPattern implements connector.IdentityStoreConnector.
func (s *IdentityStore) ListConnectorGroupIDsByPattern(ctx context.Context, attributeName, pattern string, offset, length int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := matchIDs(s.groups, attributeName, func(v string) bool {
		ok, err := path.Match(pattern, v)
		return err == nil && ok
	})
	return window(ids, offset, length), nil
}

// GetGroupAttributeValues implements connector.IdentityStoreConnector.
func (s *IdentityStore) GetGroupAttributeValues(ctx context.Context, connectorGroupID string) ([]claim.Attribute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attrs, ok := s.groups[connectorGroupID]
	if !ok {
		return nil, connector.ErrNotFound
	}
	return append([]claim.Attribute(nil), attrs...), nil
}

// RemoveAddedGroupsInAFailure implements connector.IdentityStoreConnector.
func (s *IdentityStore) RemoveAddedGroupsInAFailure(ctx context.Context, connectorGroupIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range connectorGroupIDs {
		delete(s.groups, id)
	}
	return nil
}

// matchIDs returns the sorted local ids whose attribute passes the value
// predicate. Sorting keeps listings stable across calls.
func matchIDs(entries map[string][]claim.Attribute, attributeName string, match func(string) bool) []string {
	var ids []string
	for id, attrs := range entries {
		for _, a := range attrs {
			if a.Name == attributeName && match(a.Value) {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// window applies offset and length to ids. A negative length means the rest
// of the list.
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
