package gormconn

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasunbg/carbon-identity-mgt/internal/claim"
	"github.com/kasunbg/carbon-identity-mgt/internal/connector"
)

func newTestStore(t *testing.T) *IdentityStore {
	t.Helper()
	s, err := OpenIdentityStore("IC1", filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	return s
}

func TestGORMIdentityStore_AddLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.AddUser(ctx, []claim.Attribute{
		{Name: "attr_uid", Value: "alice"},
		{Name: "attr_mail", Value: "a@x"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.GetConnectorUserID(ctx, "attr_uid", "alice")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = s.GetConnectorUserID(ctx, "attr_uid", "bob")
	assert.ErrorIs(t, err, connector.ErrNotFound)

	attrs, err := s.GetUserAttributeValues(ctx, id)
	require.NoError(t, err)
	assert.Len(t, attrs, 2)

	filtered, err := s.GetUserAttributeValuesByNames(ctx, id, []string{"attr_mail"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "a@x", filtered[0].Value)
}

func TestGORMIdentityStore_ListByPattern(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"alice", "alina", "bob"} {
		_, err := s.AddUser(ctx, []claim.Attribute{{Name: "attr_uid", Value: name}})
		require.NoError(t, err)
	}

	ids, err := s.ListConnectorUserIDsByPattern(ctx, "attr_uid", "al%", 0, -1)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	page, err := s.ListConnectorUserIDsByPattern(ctx, "attr_uid", "%", 1, 1)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestGORMIdentityStore_UpdateDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.AddUser(ctx, []claim.Attribute{{Name: "attr_uid", Value: "alice"}})
	require.NoError(t, err)

	newID, err := s.UpdateUserAttributes(ctx, id, []claim.Attribute{{Name: "attr_uid", Value: "alice2"}})
	require.NoError(t, err)
	assert.Equal(t, id, newID)

	attrs, err := s.GetUserAttributeValues(ctx, id)
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, "alice2", attrs[0].Value)

	require.NoError(t, s.DeleteUser(ctx, id))
	_, err = s.GetUserAttributeValues(ctx, id)
	assert.ErrorIs(t, err, connector.ErrNotFound)
}

func TestGORMIdentityStore_BulkAndCompensation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids, err := s.AddUsers(ctx, map[string][]claim.Attribute{
		"k1": {{Name: "attr_uid", Value: "alice"}},
		"k2": {{Name: "attr_uid", Value: "bob"}},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	locals := []string{ids["k1"], ids["k2"]}
	require.NoError(t, s.RemoveAddedUsersInAFailure(ctx, locals))
	require.NoError(t, s.RemoveAddedUsersInAFailure(ctx, locals)) // idempotent

	for _, localID := range locals {
		_, err := s.GetUserAttributeValues(ctx, localID)
		assert.ErrorIs(t, err, connector.ErrNotFound)
	}
}

func TestGORMIdentityStore_GroupsAreSeparateNamespace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	groupID, err := s.AddGroup(ctx, []claim.Attribute{{Name: "attr_cn", Value: "admins"}})
	require.NoError(t, err)

	_, err = s.GetConnectorUserID(ctx, "attr_cn", "admins")
	assert.ErrorIs(t, err, connector.ErrNotFound)

	got, err := s.GetConnectorGroupID(ctx, "attr_cn", "admins")
	require.NoError(t, err)
	assert.Equal(t, groupID, got)
}
