// Package credential defines the opaque credential values the core routes to
// credential store connectors, and the metadata keys exchanged with them.
package credential

// UserIDKey is the metadata key under which the connector-local user id is
// passed to a credential store connector during authentication.
const UserIDKey = "userId"

// TypePassword identifies password credentials.
const TypePassword = "password"

// Credential is an opaque secret supplied by a caller. The core never
// inspects the secret itself; connectors decide what they can store and
// verify via CanStore / CanHandle.
type Credential interface {
	// Type returns the credential type identifier (e.g. "password").
	Type() string
}

// Password is a plaintext password credential. Callers must not log or
// persist the plaintext.
type Password struct {
	Password []byte
}

// Type implements Credential.
func (Password) Type() string { return TypePassword }

// Router is the subset of a credential store connector the partitioning
// logic needs: an identity and a cheap, side-effect-free storability check.
type Router interface {
	ID() string
	CanStore(cred Credential) bool
}

// PartitionByConnector routes each credential to the first connector whose
// CanStore accepts it, preserving connector declaration order. Credentials
// unclaimed by every connector are dropped.
func PartitionByConnector[R Router](credentials []Credential, connectors []R) map[string][]Credential {
	credsByConnector := make(map[string][]Credential)
	for _, cred := range credentials {
		if cred == nil {
			continue
		}
		for _, conn := range connectors {
			if conn.CanStore(cred) {
				credsByConnector[conn.ID()] = append(credsByConnector[conn.ID()], cred)
				break
			}
		}
	}
	return credsByConnector
}
