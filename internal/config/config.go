// Package config loads and validates app config from env and an optional
// .env file using Viper, and parses the domain bundle from a YAML file.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN backing SQL connectors and the SQL
	// resolver; empty disables them.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// DomainsFile is the path to the YAML domain bundle.
	DomainsFile string `mapstructure:"DOMAINS_FILE"`
	// SQLiteDir is the directory for sqlite-backed identity connectors.
	SQLiteDir string `mapstructure:"SQLITE_DIR"`
	// BadgerDir is the directory for badger-backed credential vaults.
	BadgerDir string `mapstructure:"BADGER_DIR"`
	// BcryptCost is the bcrypt cost factor (4-31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// JWTPrivateKey is the PEM-encoded private key or a path to one; used
	// with JWT_PUBLIC_KEY to sign subject tokens after authentication.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or a path to one.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim on subject tokens.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim on subject tokens.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTTTL is the subject token lifetime (e.g. "15m").
	JWTTTL string `mapstructure:"JWT_TTL"`
	// OTLPEndpoint enables trace export when set (e.g. localhost:4317).
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure disables TLS for the OTLP exporter.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`
	// AuthzPolicyFile is an optional Rego policy file for the authorization
	// store; empty uses the built-in default policy.
	AuthzPolicyFile string `mapstructure:"AUTHZ_POLICY_FILE"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment via Viper. Missing .env is ignored; env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DOMAINS_FILE", "domains.yaml")
	v.SetDefault("SQLITE_DIR", "data")
	v.SetDefault("BADGER_DIR", "data/vault")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("JWT_ISSUER", "identity-mgt")
	v.SetDefault("JWT_AUDIENCE", "identity-mgt-api")
	v.SetDefault("JWT_TTL", "15m")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("AUTHZ_POLICY_FILE", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.DomainsFile == "" {
		return nil, errors.New("config: DOMAINS_FILE must be set")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	return &cfg, nil
}

// TokenTTL parses JWTTTL as a time.Duration. Returns 15m if unset or
// invalid.
func (c *Config) TokenTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}
