package credstore

import (
	"context"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/kasunbg/carbon-identity-mgt/internal/connector"
	"github.com/kasunbg/carbon-identity-mgt/internal/credential"
	"github.com/kasunbg/carbon-identity-mgt/internal/security"
)

// BadgerStore is a password credential store connector backed by an embedded
// Badger database. It persists bcrypt hashes keyed by connector-local id and
// survives restarts. The connector owns the database handle; callers must
// Close it on teardown.
type BadgerStore struct {
	id     string
	hasher *security.Hasher
	db     *badger.DB
}

var _ connector.CredentialStoreConnector = (*BadgerStore)(nil)

// OpenBadgerStore opens (or creates) the vault at dir.
func OpenBadgerStore(id, dir string, hasher *security.Hasher) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("credstore: open badger vault at %s: %w", dir, err)
	}
	return &BadgerStore{id: id, hasher: hasher, db: db}, nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error { return s.db.Close() }

// ID implements connector.CredentialStoreConnector.
func (s *BadgerStore) ID() string { return s.id }

// CanStore implements connector.CredentialStoreConnector.
func (s *BadgerStore) CanStore(cred credential.Credential) bool {
	return cred != nil && cred.Type() == credential.TypePassword
}

// CanHandle implements connector.CredentialStoreConnector.
func (s *BadgerStore) CanHandle(cred credential.Credential, meta map[string]string) bool {
	return s.CanStore(cred) && meta[credential.UserIDKey] != ""
}

// AddCredential implements connector.CredentialStoreConnector.
func (s *BadgerStore) AddCredential(ctx context.Context, creds []credential.Credential) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	password, err := firstPassword(creds)
	if err != nil {
		return "", err
	}
	hash, err := s.hasher.Hash(password.Password)
	if err != nil {
		return "", err
	}

	localID := uuid.NewString()
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyCredential(localID), []byte(hash))
	})
	if err != nil {
		return "", fmt.Errorf("credstore: store credential: %w", err)
	}
	return localID, nil
}

// Authenticate implements connector.CredentialStoreConnector.
func (s *BadgerStore) Authenticate(ctx context.Context, cred credential.Credential, meta map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	password, ok := cred.(credential.Password)
	if !ok {
		return connector.ErrAuthenticationFailed
	}

	var hash []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyCredential(meta[credential.UserIDKey]))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			hash = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return connector.ErrAuthenticationFailed
	}
	if err := s.hasher.Compare(string(hash), password.Password); err != nil {
		return connector.ErrAuthenticationFailed
	}
	return nil
}

func keyCredential(localID string) []byte {
	return []byte("cred/" + localID)
}
