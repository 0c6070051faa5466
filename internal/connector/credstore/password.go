// Package credstore provides credential store connectors: an in-memory
// password store and a Badger-backed password vault. Both persist bcrypt
// hashes, never plaintext.
package credstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/kasunbg/carbon-identity-mgt/internal/connector"
	"github.com/kasunbg/carbon-identity-mgt/internal/credential"
	"github.com/kasunbg/carbon-identity-mgt/internal/security"
)

// PasswordStore is an in-memory password credential store connector. Safe
// for concurrent use; state does not survive a restart.
type PasswordStore struct {
	id     string
	hasher *security.Hasher

	mu     sync.RWMutex
	nextID int
	hashes map[string]string
}

var _ connector.CredentialStoreConnector = (*PasswordStore)(nil)

// NewPasswordStore returns an empty in-memory password store connector.
func NewPasswordStore(id string, hasher *security.Hasher) *PasswordStore {
	return &PasswordStore{id: id, hasher: hasher, hashes: make(map[string]string)}
}

// ID implements connector.CredentialStoreConnector.
func (s *PasswordStore) ID() string { return s.id }

// CanStore implements connector.CredentialStoreConnector.
func (s *PasswordStore) CanStore(cred credential.Credential) bool {
	return cred != nil && cred.Type() == credential.TypePassword
}

// CanHandle implements connector.CredentialStoreConnector.
func (s *PasswordStore) CanHandle(cred credential.Credential, meta map[string]string) bool {
	return s.CanStore(cred) && meta[credential.UserIDKey] != ""
}

// AddCredential implements connector.CredentialStoreConnector. The first
// password credential in the list is persisted as the partition's secret.
func (s *PasswordStore) AddCredential(ctx context.Context, creds []credential.Credential) (string, error) {
	password, err := firstPassword(creds)
	if err != nil {
		return "", err
	}
	hash, err := s.hasher.Hash(password.Password)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	localID := fmt.Sprintf("%s-%d", s.id, s.nextID)
	s.hashes[localID] = hash
	return localID, nil
}

// Authenticate implements connector.CredentialStoreConnector.
func (s *PasswordStore) Authenticate(ctx context.Context, cred credential.Credential, meta map[string]string) error {
	password, ok := cred.(credential.Password)
	if !ok {
		return connector.ErrAuthenticationFailed
	}

	s.mu.RLock()
	hash, ok := s.hashes[meta[credential.UserIDKey]]
	s.mu.RUnlock()
	if !ok {
		return connector.ErrAuthenticationFailed
	}
	if err := s.hasher.Compare(hash, password.Password); err != nil {
		return connector.ErrAuthenticationFailed
	}
	return nil
}

func firstPassword(creds []credential.Credential) (credential.Password, error) {
	for _, c := range creds {
		if p, ok := c.(credential.Password); ok {
			return p, nil
		}
	}
	return credential.Password{}, fmt.Errorf("credstore: no password credential in the list")
}
