package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.DomainsFile != "domains.yaml" {
		t.Errorf("DomainsFile = %q, want domains.yaml", cfg.DomainsFile)
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if cfg.TokenTTL() != 15*time.Minute {
		t.Errorf("TokenTTL = %v, want 15m", cfg.TokenTTL())
	}
}

func TestLoad_InvalidBcryptCost(t *testing.T) {
	os.Clearenv()
	os.Setenv("BCRYPT_COST", "99")

	if _, err := Load(); err == nil {
		t.Fatal("bcrypt cost 99 should be rejected")
	}
}

func TestTokenTTL_InvalidFallsBack(t *testing.T) {
	cfg := &Config{JWTTTL: "not-a-duration"}
	if cfg.TokenTTL() != 15*time.Minute {
		t.Errorf("TokenTTL = %v, want fallback 15m", cfg.TokenTTL())
	}
}

const testBundle = `
domains:
  - name: PRIMARY
    priority: 1
    identityStoreConnectors:
      - id: IC1
        type: inmemory
    credentialStoreConnectors:
      - id: CC1
        type: password
    uniqueIdResolver:
      type: inmemory
    metaClaimMappings:
      - claimURI: http://wso2.org/claims/username
        dialectURI: http://wso2.org/claims
        identityStoreConnectorId: IC1
        attributeName: attr_uid
        unique: true
        required: true
      - claimURI: http://wso2.org/claims/email
        dialectURI: http://wso2.org/claims
        identityStoreConnectorId: IC1
        attributeName: attr_mail
        unique: true
        regex: ".+@.+"
        dataType: string
  - name: SECONDARY
    priority: 2
    identityStoreConnectors:
      - id: IC2
        type: inmemory
    uniqueIdResolver:
      type: inmemory
    metaClaimMappings:
      - claimURI: http://wso2.org/claims/username
        dialectURI: http://wso2.org/claims
        identityStoreConnectorId: IC2
        attributeName: uid
        unique: true
`

func writeBundle(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "domains.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
	return path
}

func TestLoadDomains(t *testing.T) {
	bundle, err := LoadDomains(writeBundle(t, testBundle))
	if err != nil {
		t.Fatalf("LoadDomains: %v", err)
	}
	if len(bundle.Domains) != 2 {
		t.Fatalf("got %d domains, want 2", len(bundle.Domains))
	}

	primary := bundle.Domains[0]
	if primary.Name != "PRIMARY" || primary.Priority != 1 {
		t.Errorf("primary = %+v", primary)
	}
	if len(primary.MetaClaimMappings) != 2 {
		t.Fatalf("got %d mappings, want 2", len(primary.MetaClaimMappings))
	}

	email := primary.MetaClaimMappings[1]
	props := email.MetaClaimProperties()
	if props["regex"] != ".+@.+" || props["dataType"] != "string" {
		t.Errorf("email properties = %v", props)
	}
	username := primary.MetaClaimMappings[0]
	if username.MetaClaimProperties()["required"] != "true" {
		t.Errorf("username properties = %v", username.MetaClaimProperties())
	}
}

func TestLoadDomains_Invalid(t *testing.T) {
	cases := map[string]string{
		"no domains":   `domains: []`,
		"no name":      "domains:\n  - priority: 1\n    identityStoreConnectors:\n      - id: IC1\n        type: inmemory\n    uniqueIdResolver:\n      type: inmemory\n",
		"no connector": "domains:\n  - name: A\n    uniqueIdResolver:\n      type: inmemory\n",
		"no resolver":  "domains:\n  - name: A\n    identityStoreConnectors:\n      - id: IC1\n        type: inmemory\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadDomains(writeBundle(t, content)); err == nil {
				t.Errorf("bundle %q should be rejected", name)
			}
		})
	}
}
