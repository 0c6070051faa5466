package store

import (
	"context"

	"github.com/kasunbg/carbon-identity-mgt/internal/claim"
	"github.com/kasunbg/carbon-identity-mgt/internal/credential"
)

// Authenticate verifies the credential of the subject identified by the
// claim. With a domain name the claim is resolved in that domain only;
// without one, domains supporting the claim URI are tried in priority order
// and the first to produce a context wins. Every failure on this path,
// internal errors included, surfaces as an authentication failure.
func (s *Store) Authenticate(ctx context.Context, c claim.Claim, cred credential.Credential, domainName string) (AuthenticationContext, error) {
	if c.Value == "" || cred == nil {
		return AuthenticationContext{}, newError(KindAuthenticationFailure, "invalid credentials")
	}

	if domainName != "" {
		d, err := s.registry.domain(domainName)
		if err != nil {
			return AuthenticationContext{}, wrapError(KindAuthenticationFailure, "domain name is invalid", err)
		}
		return s.doAuthenticate(ctx, c, cred, d)
	}

	for _, d := range s.registry.domains() {
		if !d.IsClaimSupported(c.ClaimURI) {
			continue
		}
		authCtx, err := s.doAuthenticate(ctx, c, cred, d)
		if err == nil {
			return authCtx, nil
		}
	}
	return AuthenticationContext{}, newError(KindAuthenticationFailure, "invalid credentials")
}

func (s *Store) doAuthenticate(ctx context.Context, c claim.Claim, cred credential.Credential, d *Domain) (AuthenticationContext, error) {
	mapping, err := d.MetaClaimMapping(c.ClaimURI)
	if err != nil {
		return AuthenticationContext{}, wrapError(KindAuthenticationFailure,
			"failed to retrieve the meta claim mapping for the claim URI", err)
	}
	if !mapping.Unique {
		return AuthenticationContext{}, newError(KindAuthenticationFailure, "provided claim is not unique")
	}

	conn, err := d.IdentityStoreConnector(mapping.IdentityStoreConnectorID)
	if err != nil {
		return AuthenticationContext{}, wrapError(KindAuthenticationFailure,
			"failed to retrieve the identity store connector", err)
	}
	connectorUserID, err := conn.GetConnectorUserID(ctx, mapping.AttributeName, c.Value)
	if err != nil || connectorUserID == "" {
		return AuthenticationContext{}, wrapError(KindAuthenticationFailure,
			"invalid claim value, no user mapped to the provided claim", err)
	}

	uniqueUser, err := d.UniqueIDResolver().GetUniqueUserFromConnectorUserID(ctx, connectorUserID, mapping.IdentityStoreConnectorID)
	if err != nil || uniqueUser == nil {
		return AuthenticationContext{}, wrapError(KindAuthenticationFailure, "failed to retrieve unique user info", err)
	}

	for _, p := range uniqueUser.Partitions {
		if p.IdentityStore {
			continue
		}
		credConn, err := d.CredentialStoreConnector(p.ConnectorID)
		if err != nil {
			return AuthenticationContext{}, wrapError(KindAuthenticationFailure,
				"failed to retrieve the credential store connector", err)
		}
		meta := map[string]string{credential.UserIDKey: p.ConnectorUserID}
		if !credConn.CanHandle(cred, meta) {
			continue
		}
		if err := credConn.Authenticate(ctx, cred, meta); err != nil {
			return AuthenticationContext{}, wrapError(KindAuthenticationFailure,
				"failed to authenticate from the provided credential", err)
		}
		return AuthenticationContext{User: s.userHandle(uniqueUser.UniqueUserID, d)}, nil
	}
	return AuthenticationContext{}, newError(KindAuthenticationFailure, "failed to authenticate user")
}
