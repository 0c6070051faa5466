package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kasunbg/carbon-identity-mgt/internal/authz"
	"github.com/kasunbg/carbon-identity-mgt/internal/claim"
	"github.com/kasunbg/carbon-identity-mgt/internal/config"
	"github.com/kasunbg/carbon-identity-mgt/internal/connector"
	"github.com/kasunbg/carbon-identity-mgt/internal/connector/credstore"
	"github.com/kasunbg/carbon-identity-mgt/internal/connector/gormconn"
	"github.com/kasunbg/carbon-identity-mgt/internal/connector/inmemory"
	"github.com/kasunbg/carbon-identity-mgt/internal/connector/sqlconn"
	"github.com/kasunbg/carbon-identity-mgt/internal/db"
	"github.com/kasunbg/carbon-identity-mgt/internal/db/migrate"
	"github.com/kasunbg/carbon-identity-mgt/internal/resolver"
	"github.com/kasunbg/carbon-identity-mgt/internal/resolver/memresolver"
	"github.com/kasunbg/carbon-identity-mgt/internal/resolver/sqlresolver"
	"github.com/kasunbg/carbon-identity-mgt/internal/security"
	"github.com/kasunbg/carbon-identity-mgt/internal/server"
	"github.com/kasunbg/carbon-identity-mgt/internal/store"
	"github.com/kasunbg/carbon-identity-mgt/internal/telemetry/otel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "identity-mgt", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("otel: %v", err)
	}

	identityStore, closers, err := buildStore(cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeAll(closers)

	tokens, err := buildTokenProvider(cfg)
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.NewRouter(identityStore, tokens),
	}

	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("otel shutdown: %v", err)
	}
	log.Println("HTTP server stopped")
}

// buildStore assembles the virtual identity store from the domain bundle.
// Returned closers release connector-owned resources on shutdown.
func buildStore(cfg *config.Config) (*store.Store, []io.Closer, error) {
	bundle, err := config.LoadDomains(cfg.DomainsFile)
	if err != nil {
		return nil, nil, err
	}

	hasher := security.NewHasher(cfg.BcryptCost)
	var closers []io.Closer

	var sqlDB *sql.DB
	openPostgres := func() (*sql.DB, error) {
		if sqlDB != nil {
			return sqlDB, nil
		}
		if cfg.DatabaseURL == "" {
			return nil, errors.New("a postgres connector is configured but DATABASE_URL is not set")
		}
		if err := migrate.Run(cfg.DatabaseURL, "up"); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		sqlDB, err = db.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		closers = append(closers, sqlDB)
		return sqlDB, nil
	}

	domains := make([]*store.Domain, 0, len(bundle.Domains))
	for _, dc := range bundle.Domains {
		identityConnectors := make([]connector.IdentityStoreConnector, 0, len(dc.IdentityStoreConnectors))
		for _, cc := range dc.IdentityStoreConnectors {
			switch cc.Type {
			case config.ConnectorTypeInMemory:
				identityConnectors = append(identityConnectors, inmemory.NewIdentityStore(cc.ID))
			case config.ConnectorTypePostgres:
				pg, err := openPostgres()
				if err != nil {
					return nil, closers, err
				}
				identityConnectors = append(identityConnectors, sqlconn.NewIdentityStore(cc.ID, pg))
			case config.ConnectorTypeSQLite:
				path := filepath.Join(cfg.SQLiteDir, cc.ID+".db")
				gs, err := gormconn.OpenIdentityStore(cc.ID, path)
				if err != nil {
					return nil, closers, err
				}
				identityConnectors = append(identityConnectors, gs)
			default:
				return nil, closers, fmt.Errorf("domain %s: unknown identity connector type %q", dc.Name, cc.Type)
			}
		}

		credentialConnectors := make([]connector.CredentialStoreConnector, 0, len(dc.CredentialStoreConnectors))
		for _, cc := range dc.CredentialStoreConnectors {
			switch cc.Type {
			case config.ConnectorTypePassword:
				credentialConnectors = append(credentialConnectors, credstore.NewPasswordStore(cc.ID, hasher))
			case config.ConnectorTypeBadger:
				bs, err := credstore.OpenBadgerStore(cc.ID, filepath.Join(cfg.BadgerDir, cc.ID), hasher)
				if err != nil {
					return nil, closers, err
				}
				closers = append(closers, bs)
				credentialConnectors = append(credentialConnectors, bs)
			default:
				return nil, closers, fmt.Errorf("domain %s: unknown credential connector type %q", dc.Name, cc.Type)
			}
		}

		var uniqueIDResolver resolver.UniqueIDResolver
		switch dc.Resolver.Type {
		case config.ResolverTypeInMemory:
			uniqueIDResolver = memresolver.New()
		case config.ResolverTypePostgres:
			pg, err := openPostgres()
			if err != nil {
				return nil, closers, err
			}
			uniqueIDResolver = sqlresolver.New(pg)
		default:
			return nil, closers, fmt.Errorf("domain %s: unknown resolver type %q", dc.Name, dc.Resolver.Type)
		}

		mappings := make([]claim.MetaClaimMapping, 0, len(dc.MetaClaimMappings))
		for _, mc := range dc.MetaClaimMappings {
			dialect := mc.DialectURI
			if dialect == "" {
				dialect = claim.RootDialectURI
			}
			mappings = append(mappings, claim.MetaClaimMapping{
				MetaClaim: claim.MetaClaim{
					DialectURI: dialect,
					ClaimURI:   mc.ClaimURI,
					Properties: mc.MetaClaimProperties(),
				},
				IdentityStoreConnectorID: mc.IdentityStoreConnectorID,
				AttributeName:            mc.AttributeName,
				Unique:                   mc.Unique,
			})
		}

		domain, err := store.NewDomain(dc.Name, dc.Priority,
			identityConnectors, credentialConnectors, mappings, uniqueIDResolver)
		if err != nil {
			return nil, closers, err
		}
		domains = append(domains, domain)
	}

	authzStore, err := authz.NewFromFile(cfg.AuthzPolicyFile)
	if err != nil {
		return nil, closers, err
	}

	identityStore, err := store.New(domains, authzStore)
	if err != nil {
		return nil, closers, err
	}
	return identityStore, closers, nil
}

// buildTokenProvider returns nil when no key material is configured; the
// authenticate endpoint then responds without a token.
func buildTokenProvider(cfg *config.Config) (*security.TokenProvider, error) {
	if cfg.JWTPrivateKey == "" || cfg.JWTPublicKey == "" {
		return nil, nil
	}
	privateKey, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		return nil, err
	}
	publicKey, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		return nil, err
	}
	return security.NewTokenProvider(privateKey, publicKey, cfg.JWTIssuer, cfg.JWTAudience, cfg.TokenTTL()), nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Printf("close: %v", err)
		}
	}
}
