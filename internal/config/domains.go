package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Connector types recognized by the server wiring.
const (
	ConnectorTypeInMemory = "inmemory"
	ConnectorTypePostgres = "postgres"
	ConnectorTypeSQLite   = "sqlite"
	ConnectorTypePassword = "password"
	ConnectorTypeBadger   = "badger"
	ResolverTypeInMemory  = "inmemory"
	ResolverTypePostgres  = "postgres"
)

// DomainsConfig is the root of the YAML domain bundle.
type DomainsConfig struct {
	Domains []DomainConfig `mapstructure:"domains"`
}

// DomainConfig describes one domain: its connectors, resolver, and mapping
// table.
type DomainConfig struct {
	Name                      string            `mapstructure:"name"`
	Priority                  int               `mapstructure:"priority"`
	IdentityStoreConnectors   []ConnectorConfig `mapstructure:"identityStoreConnectors"`
	CredentialStoreConnectors []ConnectorConfig `mapstructure:"credentialStoreConnectors"`
	Resolver                  ResolverConfig    `mapstructure:"uniqueIdResolver"`
	MetaClaimMappings         []MappingConfig   `mapstructure:"metaClaimMappings"`
}

// ConnectorConfig names and types one connector.
type ConnectorConfig struct {
	ID   string `mapstructure:"id"`
	Type string `mapstructure:"type"`
}

// ResolverConfig selects the domain's unique id resolver backend.
type ResolverConfig struct {
	Type string `mapstructure:"type"`
}

// MappingConfig binds a claim URI to a connector attribute. The profile
// knobs (required, readonly, regex, defaultValue, dataType and free-form
// properties) are carried opaquely on the meta claim.
type MappingConfig struct {
	ClaimURI                 string            `mapstructure:"claimURI"`
	DialectURI               string            `mapstructure:"dialectURI"`
	IdentityStoreConnectorID string            `mapstructure:"identityStoreConnectorId"`
	AttributeName            string            `mapstructure:"attributeName"`
	Unique                   bool              `mapstructure:"unique"`
	Required                 bool              `mapstructure:"required"`
	Readonly                 bool              `mapstructure:"readonly"`
	Regex                    string            `mapstructure:"regex"`
	DefaultValue             string            `mapstructure:"defaultValue"`
	DataType                 string            `mapstructure:"dataType"`
	Properties               map[string]string `mapstructure:"properties"`
}

// LoadDomains parses the YAML domain bundle at path and validates the parts
// the wiring depends on. Claim-level validation happens later in the store.
func LoadDomains(path string) (*DomainsConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read domain bundle %s: %w", path, err)
	}

	var bundle DomainsConfig
	if err := v.Unmarshal(&bundle); err != nil {
		return nil, fmt.Errorf("config: parse domain bundle %s: %w", path, err)
	}

	if len(bundle.Domains) == 0 {
		return nil, fmt.Errorf("config: domain bundle %s declares no domains", path)
	}
	for _, d := range bundle.Domains {
		if d.Name == "" {
			return nil, fmt.Errorf("config: domain bundle %s has a domain with no name", path)
		}
		if len(d.IdentityStoreConnectors) == 0 {
			return nil, fmt.Errorf("config: domain %s declares no identity store connectors", d.Name)
		}
		for _, c := range d.IdentityStoreConnectors {
			if c.ID == "" || c.Type == "" {
				return nil, fmt.Errorf("config: domain %s has an identity connector without id or type", d.Name)
			}
		}
		for _, c := range d.CredentialStoreConnectors {
			if c.ID == "" || c.Type == "" {
				return nil, fmt.Errorf("config: domain %s has a credential connector without id or type", d.Name)
			}
		}
		if d.Resolver.Type == "" {
			return nil, fmt.Errorf("config: domain %s declares no unique id resolver", d.Name)
		}
		for _, m := range d.MetaClaimMappings {
			if m.ClaimURI == "" || m.IdentityStoreConnectorID == "" || m.AttributeName == "" {
				return nil, fmt.Errorf("config: domain %s has an incomplete meta claim mapping", d.Name)
			}
		}
	}
	return &bundle, nil
}

// MetaClaimProperties folds the named profile knobs and the free-form
// properties into one opaque map the core carries on the meta claim.
func (m MappingConfig) MetaClaimProperties() map[string]string {
	props := make(map[string]string, len(m.Properties)+5)
	for k, v := range m.Properties {
		props[k] = v
	}
	if m.Required {
		props["required"] = "true"
	}
	if m.Readonly {
		props["readonly"] = "true"
	}
	if m.Regex != "" {
		props["regex"] = m.Regex
	}
	if m.DefaultValue != "" {
		props["defaultValue"] = m.DefaultValue
	}
	if m.DataType != "" {
		props["dataType"] = m.DataType
	}
	if len(props) == 0 {
		return nil
	}
	return props
}
