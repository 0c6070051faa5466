package memresolver

import (
	"context"
	"testing"

	"github.com/kasunbg/carbon-identity-mgt/internal/resolver"
)

func partition(connectorID, connectorUserID string, identity bool) resolver.UserPartition {
	return resolver.UserPartition{
		ConnectorID:     connectorID,
		ConnectorUserID: connectorUserID,
		IdentityStore:   identity,
	}
}

func TestResolver_AddGetUser(t *testing.T) {
	r := New()
	ctx := context.Background()

	user := resolver.UniqueUser{
		UniqueUserID: "u1",
		Partitions:   []resolver.UserPartition{partition("IC1", "IC1-1", true), partition("CC1", "CC1-1", false)},
	}
	if err := r.AddUser(ctx, user, "PRIMARY"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if err := r.AddUser(ctx, user, "PRIMARY"); err == nil {
		t.Fatal("duplicate logical id must be rejected")
	}

	exists, err := r.IsUserExists(ctx, "u1")
	if err != nil || !exists {
		t.Fatalf("IsUserExists = (%v, %v), want (true, nil)", exists, err)
	}

	got, err := r.GetUniqueUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUniqueUser: %v", err)
	}
	if got == nil || len(got.Partitions) != 2 {
		t.Fatalf("GetUniqueUser = %v", got)
	}

	byConn, err := r.GetUniqueUserFromConnectorUserID(ctx, "IC1-1", "IC1")
	if err != nil {
		t.Fatalf("GetUniqueUserFromConnectorUserID: %v", err)
	}
	if byConn == nil || byConn.UniqueUserID != "u1" {
		t.Errorf("reverse lookup = %v, want u1", byConn)
	}

	missing, err := r.GetUniqueUser(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("missing user = (%v, %v), want (nil, nil)", missing, err)
	}
}

func TestResolver_GetUniqueUsersKeepsInputOrderAndSkipsMissing(t *testing.T) {
	r := New()
	ctx := context.Background()

	for _, id := range []string{"u1", "u2"} {
		err := r.AddUser(ctx, resolver.UniqueUser{
			UniqueUserID: id,
			Partitions:   []resolver.UserPartition{partition("IC1", id+"-local", true)},
		}, "PRIMARY")
		if err != nil {
			t.Fatalf("AddUser(%s): %v", id, err)
		}
	}

	users, err := r.GetUniqueUsers(ctx, []string{"u2-local", "missing", "u1-local"}, "IC1")
	if err != nil {
		t.Fatalf("GetUniqueUsers: %v", err)
	}
	if len(users) != 2 || users[0].UniqueUserID != "u2" || users[1].UniqueUserID != "u1" {
		t.Errorf("GetUniqueUsers = %v, want [u2 u1]", users)
	}
}

func TestResolver_UpdateUserKeepsCredentialPartitions(t *testing.T) {
	r := New()
	ctx := context.Background()

	err := r.AddUser(ctx, resolver.UniqueUser{
		UniqueUserID: "u1",
		Partitions:   []resolver.UserPartition{partition("IC1", "old", true), partition("CC1", "cred", false)},
	}, "PRIMARY")
	if err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	if err := r.UpdateUser(ctx, "u1", map[string]string{"IC1": "new", "IC2": "added"}); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}

	got, _ := r.GetUniqueUser(ctx, "u1")
	byConnector := make(map[string]resolver.UserPartition)
	for _, p := range got.Partitions {
		byConnector[p.ConnectorID] = p
	}
	if len(got.Partitions) != 3 {
		t.Fatalf("partitions = %v, want 3", got.Partitions)
	}
	if byConnector["IC1"].ConnectorUserID != "new" || !byConnector["IC1"].IdentityStore {
		t.Errorf("IC1 partition = %v", byConnector["IC1"])
	}
	if byConnector["CC1"].ConnectorUserID != "cred" || byConnector["CC1"].IdentityStore {
		t.Errorf("CC1 partition = %v", byConnector["CC1"])
	}
}

func TestResolver_Memberships(t *testing.T) {
	r := New()
	ctx := context.Background()

	if err := r.AddUser(ctx, resolver.UniqueUser{UniqueUserID: "u1"}, "PRIMARY"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if err := r.AddGroup(ctx, resolver.UniqueGroup{UniqueGroupID: "g1"}, "PRIMARY"); err != nil {
		t.Fatalf("AddGroup: %v", err)
	}
	if err := r.AddGroup(ctx, resolver.UniqueGroup{UniqueGroupID: "g2"}, "PRIMARY"); err != nil {
		t.Fatalf("AddGroup: %v", err)
	}

	if err := r.UpdateGroupsOfUser(ctx, "u1", []string{"g1", "g2"}); err != nil {
		t.Fatalf("UpdateGroupsOfUser: %v", err)
	}
	groups, err := r.GetGroupsOfUser(ctx, "u1")
	if err != nil || len(groups) != 2 {
		t.Fatalf("GetGroupsOfUser = (%v, %v), want 2 groups", groups, err)
	}

	if err := r.UpdateUsersOfGroup(ctx, "g1", nil); err != nil {
		t.Fatalf("UpdateUsersOfGroup: %v", err)
	}
	in, err := r.IsUserInGroup(ctx, "u1", "g1")
	if err != nil || in {
		t.Errorf("IsUserInGroup after removal = (%v, %v), want (false, nil)", in, err)
	}
	if in, _ := r.IsUserInGroup(ctx, "u1", "g2"); !in {
		t.Error("u1 should still be in g2")
	}

	users, err := r.GetUsersOfGroup(ctx, "g2")
	if err != nil || len(users) != 1 || users[0].UniqueUserID != "u1" {
		t.Errorf("GetUsersOfGroup = (%v, %v), want [u1]", users, err)
	}
}

func TestResolver_DeleteUserCleansMemberships(t *testing.T) {
	r := New()
	ctx := context.Background()

	_ = r.AddUser(ctx, resolver.UniqueUser{UniqueUserID: "u1"}, "PRIMARY")
	_ = r.AddGroup(ctx, resolver.UniqueGroup{UniqueGroupID: "g1"}, "PRIMARY")
	_ = r.UpdateGroupsOfUser(ctx, "u1", []string{"g1"})

	if err := r.DeleteUser(ctx, "u1"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if exists, _ := r.IsUserExists(ctx, "u1"); exists {
		t.Error("user still exists after delete")
	}
	users, _ := r.GetUsersOfGroup(ctx, "g1")
	if len(users) != 0 {
		t.Errorf("group still has %d members after user delete", len(users))
	}
}

func TestResolver_ListWindow(t *testing.T) {
	r := New()
	ctx := context.Background()

	for _, id := range []string{"u1", "u2", "u3"} {
		_ = r.AddUser(ctx, resolver.UniqueUser{UniqueUserID: id}, "PRIMARY")
	}

	users, err := r.ListUsers(ctx, 1, 1)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 1 || users[0].UniqueUserID != "u2" {
		t.Errorf("ListUsers(1,1) = %v, want [u2]", users)
	}
}
