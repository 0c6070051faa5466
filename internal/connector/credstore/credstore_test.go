package credstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasunbg/carbon-identity-mgt/internal/connector"
	"github.com/kasunbg/carbon-identity-mgt/internal/credential"
	"github.com/kasunbg/carbon-identity-mgt/internal/security"
)

func TestPasswordStore_RoundTrip(t *testing.T) {
	s := NewPasswordStore("CC1", security.NewHasher(4))
	ctx := context.Background()

	pw := credential.Password{Password: []byte("s3cret")}
	require.True(t, s.CanStore(pw))

	localID, err := s.AddCredential(ctx, []credential.Credential{pw})
	require.NoError(t, err)
	require.NotEmpty(t, localID)

	meta := map[string]string{credential.UserIDKey: localID}
	require.True(t, s.CanHandle(pw, meta))
	assert.NoError(t, s.Authenticate(ctx, pw, meta))

	wrong := credential.Password{Password: []byte("wrong")}
	assert.ErrorIs(t, s.Authenticate(ctx, wrong, meta), connector.ErrAuthenticationFailed)

	unknown := map[string]string{credential.UserIDKey: "missing"}
	assert.ErrorIs(t, s.Authenticate(ctx, pw, unknown), connector.ErrAuthenticationFailed)
}

func TestPasswordStore_RejectsNonPasswordLists(t *testing.T) {
	s := NewPasswordStore("CC1", security.NewHasher(4))
	_, err := s.AddCredential(context.Background(), nil)
	assert.Error(t, err)
}

func TestBadgerStore_RoundTrip(t *testing.T) {
	s, err := OpenBadgerStore("CC2", t.TempDir(), security.NewHasher(4))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	pw := credential.Password{Password: []byte("s3cret")}
	require.True(t, s.CanStore(pw))

	localID, err := s.AddCredential(ctx, []credential.Credential{pw})
	require.NoError(t, err)

	meta := map[string]string{credential.UserIDKey: localID}
	require.True(t, s.CanHandle(pw, meta))
	assert.NoError(t, s.Authenticate(ctx, pw, meta))

	wrong := credential.Password{Password: []byte("wrong")}
	assert.ErrorIs(t, s.Authenticate(ctx, wrong, meta), connector.ErrAuthenticationFailed)
}
