package store

import (
	"fmt"

	"github.com/kasunbg/carbon-identity-mgt/internal/claim"
	"github.com/kasunbg/carbon-identity-mgt/internal/connector"
	"github.com/kasunbg/carbon-identity-mgt/internal/resolver"
)

// Domain is a named, priority-carrying bundle of connectors, the meta claim
// mapping table, and the unique-id resolver serving one logical user
// population. Domains are built once at init and are read-only afterwards.
type Domain struct {
	name     string
	priority int

	identityConnectors   []connector.IdentityStoreConnector
	credentialConnectors []connector.CredentialStoreConnector
	mappings             []claim.MetaClaimMapping
	uniqueIDResolver     resolver.UniqueIDResolver

	identityByID      map[string]connector.IdentityStoreConnector
	credentialByID    map[string]connector.CredentialStoreConnector
	mappingByClaimURI map[string]claim.MetaClaimMapping
}

// NewDomain builds and validates a domain. Every mapping must reference a
// registered identity connector, and a claim URI may be mapped at most once.
func NewDomain(
	name string,
	priority int,
	identityConnectors []connector.IdentityStoreConnector,
	credentialConnectors []connector.CredentialStoreConnector,
	mappings []claim.MetaClaimMapping,
	uniqueIDResolver resolver.UniqueIDResolver,
) (*Domain, error) {
	if name == "" {
		return nil, newError(KindConfig, "domain name must not be empty")
	}
	if uniqueIDResolver == nil {
		return nil, newError(KindConfig, fmt.Sprintf("domain %s has no unique id resolver", name))
	}

	d := &Domain{
		name:                 name,
		priority:             priority,
		identityConnectors:   identityConnectors,
		credentialConnectors: credentialConnectors,
		mappings:             mappings,
		uniqueIDResolver:     uniqueIDResolver,
		identityByID:         make(map[string]connector.IdentityStoreConnector, len(identityConnectors)),
		credentialByID:       make(map[string]connector.CredentialStoreConnector, len(credentialConnectors)),
		mappingByClaimURI:    make(map[string]claim.MetaClaimMapping, len(mappings)),
	}

	for _, c := range identityConnectors {
		if _, ok := d.identityByID[c.ID()]; ok {
			return nil, newError(KindConfig, fmt.Sprintf("domain %s has duplicate identity store connector id %s", name, c.ID()))
		}
		d.identityByID[c.ID()] = c
	}
	for _, c := range credentialConnectors {
		if _, ok := d.credentialByID[c.ID()]; ok {
			return nil, newError(KindConfig, fmt.Sprintf("domain %s has duplicate credential store connector id %s", name, c.ID()))
		}
		d.credentialByID[c.ID()] = c
	}
	for _, m := range mappings {
		if _, ok := d.mappingByClaimURI[m.MetaClaim.ClaimURI]; ok {
			return nil, newError(KindConfig, fmt.Sprintf("domain %s maps claim URI %s more than once", name, m.MetaClaim.ClaimURI))
		}
		if _, ok := d.identityByID[m.IdentityStoreConnectorID]; !ok {
			return nil, newError(KindConfig, fmt.Sprintf("domain %s maps claim URI %s to unknown connector %s",
				name, m.MetaClaim.ClaimURI, m.IdentityStoreConnectorID))
		}
		d.mappingByClaimURI[m.MetaClaim.ClaimURI] = m
	}

	return d, nil
}

// Name returns the domain name.
func (d *Domain) Name() string { return d.name }

// Priority returns the domain priority. Lower sorts first.
func (d *Domain) Priority() int { return d.priority }

// IsClaimSupported reports whether the claim URI is mapped in this domain.
func (d *Domain) IsClaimSupported(claimURI string) bool {
	_, ok := d.mappingByClaimURI[claimURI]
	return ok
}

// MetaClaimMapping resolves the mapping for a claim URI. Absence of a
// mapping is a domain configuration error.
func (d *Domain) MetaClaimMapping(claimURI string) (claim.MetaClaimMapping, error) {
	m, ok := d.mappingByClaimURI[claimURI]
	if !ok {
		return claim.MetaClaimMapping{}, newError(KindDomain,
			fmt.Sprintf("no meta claim mapping for claim URI %s in domain %s", claimURI, d.name))
	}
	return m, nil
}

// MetaClaimMappings returns the domain's mapping table.
func (d *Domain) MetaClaimMappings() []claim.MetaClaimMapping { return d.mappings }

// ConnectorIDToMetaClaimMappings groups the mapping table by identity store
// connector id.
func (d *Domain) ConnectorIDToMetaClaimMappings() map[string][]claim.MetaClaimMapping {
	byConnector := make(map[string][]claim.MetaClaimMapping)
	for _, m := range d.mappings {
		byConnector[m.IdentityStoreConnectorID] = append(byConnector[m.IdentityStoreConnectorID], m)
	}
	return byConnector
}

// IdentityStoreConnector resolves an identity store connector by id.
func (d *Domain) IdentityStoreConnector(connectorID string) (connector.IdentityStoreConnector, error) {
	c, ok := d.identityByID[connectorID]
	if !ok {
		return nil, newError(KindDomain,
			fmt.Sprintf("no identity store connector %s in domain %s", connectorID, d.name))
	}
	return c, nil
}

// CredentialStoreConnector resolves a credential store connector by id.
func (d *Domain) CredentialStoreConnector(connectorID string) (connector.CredentialStoreConnector, error) {
	c, ok := d.credentialByID[connectorID]
	if !ok {
		return nil, newError(KindDomain,
			fmt.Sprintf("no credential store connector %s in domain %s", connectorID, d.name))
	}
	return c, nil
}

// IdentityStoreConnectors returns the domain's identity connectors in
// declaration order.
func (d *Domain) IdentityStoreConnectors() []connector.IdentityStoreConnector {
	return d.identityConnectors
}

// CredentialStoreConnectors returns the domain's credential connectors in
// declaration order.
func (d *Domain) CredentialStoreConnectors() []connector.CredentialStoreConnector {
	return d.credentialConnectors
}

// UniqueIDResolver returns the domain's unique id resolver.
func (d *Domain) UniqueIDResolver() resolver.UniqueIDResolver { return d.uniqueIDResolver }
