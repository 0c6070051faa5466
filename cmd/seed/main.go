// seed inserts development sample data for local testing against a
// Postgres-backed domain. Idempotent: skips inserts if the dev user
// (dev@example.com) already resolves.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/kasunbg/carbon-identity-mgt/internal/claim"
	"github.com/kasunbg/carbon-identity-mgt/internal/config"
	"github.com/kasunbg/carbon-identity-mgt/internal/connector"
	"github.com/kasunbg/carbon-identity-mgt/internal/connector/sqlconn"
	"github.com/kasunbg/carbon-identity-mgt/internal/db"
	"github.com/kasunbg/carbon-identity-mgt/internal/db/migrate"
	"github.com/kasunbg/carbon-identity-mgt/internal/resolver"
	"github.com/kasunbg/carbon-identity-mgt/internal/resolver/sqlresolver"
)

const (
	devConnectorID = "IC-PG"
	devDomainName  = "PRIMARY"
	devUsername    = "dev"
	devEmail       = "dev@example.com"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set; create a .env or set DATABASE_URL")
		os.Exit(1)
	}

	if err := migrate.Run(cfg.DatabaseURL, "up"); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("migrate: %v", err)
	}

	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer sqlDB.Close()

	ctx := context.Background()
	identity := sqlconn.NewIdentityStore(devConnectorID, sqlDB)
	linkage := sqlresolver.New(sqlDB)

	if _, err := identity.GetConnectorUserID(ctx, "attr_mail", devEmail); err == nil {
		log.Printf("dev user %s already present; nothing to do", devEmail)
		return
	} else if !errors.Is(err, connector.ErrNotFound) {
		log.Fatalf("lookup dev user: %v", err)
	}

	connectorUserID, err := identity.AddUser(ctx, []claim.Attribute{
		{Name: "attr_uid", Value: devUsername},
		{Name: "attr_mail", Value: devEmail},
	})
	if err != nil {
		log.Fatalf("add dev user partition: %v", err)
	}

	uniqueUserID := uuid.NewString()
	err = linkage.AddUser(ctx, resolver.UniqueUser{
		UniqueUserID: uniqueUserID,
		Partitions: []resolver.UserPartition{{
			ConnectorID:     devConnectorID,
			ConnectorUserID: connectorUserID,
			IdentityStore:   true,
		}},
	}, devDomainName)
	if err != nil {
		log.Fatalf("persist dev user linkage: %v", err)
	}

	log.Printf("seeded dev user %s with unique id %s", devEmail, uniqueUserID)
}
