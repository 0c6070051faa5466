// Package store implements the virtual identity store: a federation layer
// presenting a single logical user and group directory on top of multiple
// heterogeneous backing stores. Reads and writes are routed to the
// connectors of a chosen domain, the cross-connector linkage is kept by the
// domain's unique id resolver, and partial write failures are compensated so
// no orphan partitions remain in the backends.
package store

import (
	"context"
	"fmt"
	"log"

	"github.com/kasunbg/carbon-identity-mgt/internal/resolver"
)

// Store is the virtual identity store. It is re-entrant and safe for
// concurrent use: it holds no mutable state beyond the registry populated at
// construction, and delegates concurrency control to the resolver and the
// connectors.
type Store struct {
	registry *registry
	authz    AuthorizationStore
}

// New builds a virtual identity store over the given domains. The domain
// list must not be empty. authzStore may be nil; handles then report
// unauthorized for every check.
func New(domains []*Domain, authzStore AuthorizationStore) (*Store, error) {
	if len(domains) == 0 {
		return nil, newError(KindConfig, "no domains registered")
	}
	r, err := newRegistry(domains)
	if err != nil {
		return nil, err
	}
	return &Store{registry: r, authz: authzStore}, nil
}

// PrimaryDomain returns the first domain by the priority ordering.
func (s *Store) PrimaryDomain() (*Domain, error) {
	return s.registry.primary()
}

// DomainFromName returns the domain registered under the given name.
func (s *Store) DomainFromName(domainName string) (*Domain, error) {
	return s.registry.domain(domainName)
}

// resolveDomain picks the operation's target domain. An empty name is a
// transparent fallback to the primary domain; an unknown name is a server
// error.
func (s *Store) resolveDomain(domainName string) (*Domain, error) {
	if domainName == "" {
		d, err := s.registry.primary()
		if err != nil {
			return nil, wrapError(KindServer, "error while retrieving the primary domain", err)
		}
		return d, nil
	}
	d, err := s.registry.domain(domainName)
	if err != nil {
		return nil, wrapError(KindServer,
			fmt.Sprintf("error while retrieving domain from the domain name %s", domainName), err)
	}
	return d, nil
}

func (s *Store) userHandle(uniqueUserID string, d *Domain) User {
	return User{ID: uniqueUserID, DomainName: d.Name(), store: s, authz: s.authz}
}

func (s *Store) groupHandle(uniqueGroupID string, d *Domain) Group {
	return Group{ID: uniqueGroupID, DomainName: d.Name(), store: s, authz: s.authz}
}

// removeAddedUsersInAFailure reverses partitions written by a failed
// multi-connector write. Cleanup is best effort: failures are logged and
// swallowed, never re-raised through the original failure path. Credential
// partitions are skipped; only identity connectors expose compensation.
func (s *Store) removeAddedUsersInAFailure(ctx context.Context, d *Domain, partitions []resolver.UserPartition) {
	for _, p := range partitions {
		if !p.IdentityStore {
			continue
		}
		conn, err := d.IdentityStoreConnector(p.ConnectorID)
		if err != nil {
			log.Printf("store: cannot compensate partition %s/%s: %v", p.ConnectorID, p.ConnectorUserID, err)
			continue
		}
		if err := conn.RemoveAddedUsersInAFailure(ctx, []string{p.ConnectorUserID}); err != nil {
			log.Printf("store: error while removing invalid connector user id %s from connector %s: %v",
				p.ConnectorUserID, p.ConnectorID, err)
		}
	}
}

// removeAddedGroupsInAFailure is the group counterpart of
// removeAddedUsersInAFailure.
func (s *Store) removeAddedGroupsInAFailure(ctx context.Context, d *Domain, groups []resolver.ConnectedGroup) {
	for _, g := range groups {
		conn, err := d.IdentityStoreConnector(g.ConnectorID)
		if err != nil {
			log.Printf("store: cannot compensate group partition %s/%s: %v", g.ConnectorID, g.ConnectorGroupID, err)
			continue
		}
		if err := conn.RemoveAddedGroupsInAFailure(ctx, []string{g.ConnectorGroupID}); err != nil {
			log.Printf("store: error while removing invalid connector group id %s from connector %s: %v",
				g.ConnectorGroupID, g.ConnectorID, err)
		}
	}
}
