package store

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/kasunbg/carbon-identity-mgt/internal/claim"
	"github.com/kasunbg/carbon-identity-mgt/internal/connector"
	"github.com/kasunbg/carbon-identity-mgt/internal/connector/credstore"
	"github.com/kasunbg/carbon-identity-mgt/internal/connector/inmemory"
	"github.com/kasunbg/carbon-identity-mgt/internal/credential"
	"github.com/kasunbg/carbon-identity-mgt/internal/resolver"
	"github.com/kasunbg/carbon-identity-mgt/internal/resolver/memresolver"
	"github.com/kasunbg/carbon-identity-mgt/internal/security"
)

const (
	emailClaimURI = "http://wso2.org/claims/email"
)

func identityList(conns ...connector.IdentityStoreConnector) []connector.IdentityStoreConnector {
	return conns
}

func credentialList(conns ...connector.CredentialStoreConnector) []connector.CredentialStoreConnector {
	return conns
}

func usernameMapping(connectorID string) claim.MetaClaimMapping {
	return claim.MetaClaimMapping{
		MetaClaim:                claim.MetaClaim{DialectURI: claim.RootDialectURI, ClaimURI: claim.UsernameClaimURI},
		IdentityStoreConnectorID: connectorID,
		AttributeName:            "attr_uid",
		Unique:                   true,
	}
}

func emailMapping(connectorID string, unique bool) claim.MetaClaimMapping {
	return claim.MetaClaimMapping{
		MetaClaim:                claim.MetaClaim{DialectURI: claim.RootDialectURI, ClaimURI: emailClaimURI},
		IdentityStoreConnectorID: connectorID,
		AttributeName:            "attr_mail",
		Unique:                   unique,
	}
}

func usernameClaim(value string) claim.Claim {
	return claim.Claim{DialectURI: claim.RootDialectURI, ClaimURI: claim.UsernameClaimURI, Value: value}
}

func emailClaim(value string) claim.Claim {
	return claim.Claim{DialectURI: claim.RootDialectURI, ClaimURI: emailClaimURI, Value: value}
}

func password(s string) credential.Credential {
	return credential.Password{Password: []byte(s)}
}

// newTestDomain builds a single-connector domain named name with a username
// and an email mapping on IC1 and a password credential store CC1.
func newTestDomain(t *testing.T, name string, priority int) (*Domain, *inmemory.IdentityStore, *memresolver.Resolver) {
	t.Helper()
	ic := inmemory.NewIdentityStore("IC1")
	cc := credstore.NewPasswordStore("CC1", security.NewHasher(4))
	res := memresolver.New()
	d, err := NewDomain(name, priority,
		identityList(ic),
		credentialList(cc),
		[]claim.MetaClaimMapping{usernameMapping("IC1"), emailMapping("IC1", true)},
		res)
	if err != nil {
		t.Fatalf("NewDomain(%s): %v", name, err)
	}
	return d, ic, res
}

func TestNew_NoDomains(t *testing.T) {
	_, err := New(nil, nil)
	if !IsKind(err, KindConfig) {
		t.Fatalf("init with no domains: want config error, got %v", err)
	}
}

func TestPrimaryDomain_EqualPriorityKeepsInsertionOrder(t *testing.T) {
	a, _, _ := newTestDomain(t, "A", 10)
	b, _, _ := newTestDomain(t, "B", 10)

	s, err := New([]*Domain{a, b}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	primary, err := s.PrimaryDomain()
	if err != nil {
		t.Fatalf("PrimaryDomain: %v", err)
	}
	if primary.Name() != "A" {
		t.Errorf("primary domain = %s, want A", primary.Name())
	}
}

func TestAddUser_ReadBack(t *testing.T) {
	d, _, _ := newTestDomain(t, "PRIMARY", 1)
	s, err := New([]*Domain{d}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	user, err := s.AddUser(ctx, UserModel{
		Claims:      []claim.Claim{usernameClaim("alice"), emailClaim("a@x")},
		Credentials: []credential.Credential{password("s3cret")},
	}, "")
	if err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if user.ID == "" {
		t.Fatal("expected a non-empty unique user id")
	}

	got, err := s.GetUser(ctx, user.ID, "")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("GetUser id = %s, want %s", got.ID, user.ID)
	}

	claims, err := s.GetClaims(ctx, user.ID, "")
	if err != nil {
		t.Fatalf("GetClaims: %v", err)
	}
	values := make(map[string]string, len(claims))
	for _, c := range claims {
		values[c.ClaimURI] = c.Value
	}
	if len(claims) != 2 || values[claim.UsernameClaimURI] != "alice" || values[emailClaimURI] != "a@x" {
		t.Errorf("GetClaims = %v, want username=alice and email=a@x", claims)
	}
}

func TestAddUser_Validation(t *testing.T) {
	d, _, _ := newTestDomain(t, "PRIMARY", 1)
	s, _ := New([]*Domain{d}, nil)
	ctx := context.Background()

	if _, err := s.AddUser(ctx, UserModel{}, ""); !IsKind(err, KindClient) {
		t.Errorf("empty model: want client error, got %v", err)
	}
	_, err := s.AddUser(ctx, UserModel{Claims: []claim.Claim{emailClaim("a@x")}}, "")
	if !IsKind(err, KindClient) {
		t.Errorf("missing username claim: want client error, got %v", err)
	}
}

// recordingIdentityStore counts compensation calls.
type recordingIdentityStore struct {
	*inmemory.IdentityStore
	removed [][]string
}

func (r *recordingIdentityStore) RemoveAddedUsersInAFailure(ctx context.Context, ids []string) error {
	r.removed = append(r.removed, append([]string(nil), ids...))
	return r.IdentityStore.RemoveAddedUsersInAFailure(ctx, ids)
}

// failingCredentialStore accepts passwords but fails every write.
type failingCredentialStore struct{ id string }

func (f *failingCredentialStore) ID() string { return f.id }
func (f *failingCredentialStore) CanStore(cred credential.Credential) bool {
	return cred != nil && cred.Type() == credential.TypePassword
}
func (f *failingCredentialStore) CanHandle(cred credential.Credential, meta map[string]string) bool {
	return f.CanStore(cred)
}
func (f *failingCredentialStore) AddCredential(ctx context.Context, creds []credential.Credential) (string, error) {
	return "", errors.New("vault unavailable")
}
func (f *failingCredentialStore) Authenticate(ctx context.Context, cred credential.Credential, meta map[string]string) error {
	return errors.New("vault unavailable")
}

func TestAddUser_CompensatesOnCredentialFailure(t *testing.T) {
	ic := &recordingIdentityStore{IdentityStore: inmemory.NewIdentityStore("IC1")}
	res := memresolver.New()
	d, err := NewDomain("PRIMARY", 1,
		identityList(ic),
		credentialList(&failingCredentialStore{id: "CC1"}),
		[]claim.MetaClaimMapping{usernameMapping("IC1"), emailMapping("IC1", true)},
		res)
	if err != nil {
		t.Fatalf("NewDomain: %v", err)
	}
	s, _ := New([]*Domain{d}, nil)
	ctx := context.Background()

	_, err = s.AddUser(ctx, UserModel{
		Claims:      []claim.Claim{usernameClaim("alice")},
		Credentials: []credential.Credential{password("s3cret")},
	}, "")
	if !IsKind(err, KindServer) {
		t.Fatalf("want server error, got %v", err)
	}
	if len(ic.removed) != 1 || len(ic.removed[0]) != 1 {
		t.Fatalf("compensation calls = %v, want exactly one call with one id", ic.removed)
	}

	users, err := res.ListUsers(ctx, 0, -1)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 0 {
		t.Errorf("resolver holds %d users after failed add, want 0", len(users))
	}
	if _, err := ic.GetConnectorUserID(ctx, "attr_uid", "alice"); err == nil {
		t.Error("orphan partition left in the identity connector")
	}
}

func TestAddUser_ResolverFailureCompensates(t *testing.T) {
	ic := &recordingIdentityStore{IdentityStore: inmemory.NewIdentityStore("IC1")}
	res := memresolver.New()
	d, err := NewDomain("PRIMARY", 1,
		identityList(ic),
		nil,
		[]claim.MetaClaimMapping{usernameMapping("IC1")},
		&failingResolver{Resolver: res})
	if err != nil {
		t.Fatalf("NewDomain: %v", err)
	}
	s, _ := New([]*Domain{d}, nil)

	_, err = s.AddUser(context.Background(), UserModel{
		Claims: []claim.Claim{usernameClaim("alice")},
	}, "")
	if !IsKind(err, KindServer) {
		t.Fatalf("want server error, got %v", err)
	}
	if len(ic.removed) != 1 {
		t.Errorf("compensation calls = %d, want 1", len(ic.removed))
	}
}

// failingResolver fails every write commit.
type failingResolver struct{ *memresolver.Resolver }

func (f *failingResolver) AddUser(ctx context.Context, user resolver.UniqueUser, domainName string) error {
	return errors.New("linkage store unavailable")
}

// countingResolver counts ListUsers calls.
type countingResolver struct {
	*memresolver.Resolver
	listCalls int
}

func (c *countingResolver) ListUsers(ctx context.Context, offset, length int) ([]resolver.UniqueUser, error) {
	c.listCalls++
	return c.Resolver.ListUsers(ctx, offset, length)
}

func TestListUsers_ZeroLengthDoesNoIO(t *testing.T) {
	res := &countingResolver{Resolver: memresolver.New()}
	ic := inmemory.NewIdentityStore("IC1")
	d, err := NewDomain("PRIMARY", 1, identityList(ic), nil,
		[]claim.MetaClaimMapping{usernameMapping("IC1")}, res)
	if err != nil {
		t.Fatalf("NewDomain: %v", err)
	}
	s, _ := New([]*Domain{d}, nil)

	users, err := s.ListUsers(context.Background(), 0, 0, "")
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 0 {
		t.Errorf("got %d users, want 0", len(users))
	}
	if res.listCalls != 0 {
		t.Errorf("resolver saw %d list calls, want 0", res.listCalls)
	}
}

func TestGetUserByClaim(t *testing.T) {
	d, _, _ := newTestDomain(t, "PRIMARY", 1)
	s, _ := New([]*Domain{d}, nil)
	ctx := context.Background()

	added, err := s.AddUser(ctx, UserModel{Claims: []claim.Claim{usernameClaim("alice"), emailClaim("a@x")}}, "")
	if err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	got, err := s.GetUserByClaim(ctx, emailClaim("a@x"), "")
	if err != nil {
		t.Fatalf("GetUserByClaim: %v", err)
	}
	if got.ID != added.ID {
		t.Errorf("GetUserByClaim id = %s, want %s", got.ID, added.ID)
	}

	if _, err := s.GetUserByClaim(ctx, emailClaim("nobody@x"), ""); !IsKind(err, KindUserNotFound) {
		t.Errorf("unknown claim value: want user not found, got %v", err)
	}
}

func TestAuthenticate_AcrossDomainsPriorityOrder(t *testing.T) {
	// Domain A (priority 1) does not support the email claim; domain B does
	// and holds the user.
	icA := inmemory.NewIdentityStore("IC1")
	resA := memresolver.New()
	domainA, err := NewDomain("A", 1, identityList(icA), nil,
		[]claim.MetaClaimMapping{usernameMapping("IC1")}, resA)
	if err != nil {
		t.Fatalf("NewDomain(A): %v", err)
	}

	icB := inmemory.NewIdentityStore("IC1")
	ccB := credstore.NewPasswordStore("CC1", security.NewHasher(4))
	resB := memresolver.New()
	domainB, err := NewDomain("B", 2, identityList(icB), credentialList(ccB),
		[]claim.MetaClaimMapping{usernameMapping("IC1"), emailMapping("IC1", true)}, resB)
	if err != nil {
		t.Fatalf("NewDomain(B): %v", err)
	}

	s, err := New([]*Domain{domainA, domainB}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if _, err := s.AddUser(ctx, UserModel{
		Claims:      []claim.Claim{usernameClaim("alice"), emailClaim("a@x")},
		Credentials: []credential.Credential{password("s3cret")},
	}, "B"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	authCtx, err := s.Authenticate(ctx, emailClaim("a@x"), password("s3cret"), "")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if authCtx.User.DomainName != "B" {
		t.Errorf("authenticated in domain %s, want B", authCtx.User.DomainName)
	}

	if _, err := s.Authenticate(ctx, emailClaim("a@x"), password("wrong"), ""); !IsKind(err, KindAuthenticationFailure) {
		t.Errorf("wrong password: want authentication failure, got %v", err)
	}
}

func TestAuthenticate_NonUniqueClaimFails(t *testing.T) {
	ic := inmemory.NewIdentityStore("IC1")
	cc := credstore.NewPasswordStore("CC1", security.NewHasher(4))
	res := memresolver.New()
	d, err := NewDomain("PRIMARY", 1, identityList(ic), credentialList(cc),
		[]claim.MetaClaimMapping{usernameMapping("IC1"), emailMapping("IC1", false)}, res)
	if err != nil {
		t.Fatalf("NewDomain: %v", err)
	}
	s, _ := New([]*Domain{d}, nil)
	ctx := context.Background()

	if _, err := s.AddUser(ctx, UserModel{
		Claims:      []claim.Claim{usernameClaim("alice"), emailClaim("a@x")},
		Credentials: []credential.Credential{password("s3cret")},
	}, ""); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	if _, err := s.Authenticate(ctx, emailClaim("a@x"), password("s3cret"), ""); !IsKind(err, KindAuthenticationFailure) {
		t.Errorf("non-unique claim: want authentication failure, got %v", err)
	}
}

func TestAuthenticate_EqualPriorityTriesFirstInsertedFirst(t *testing.T) {
	// Both domains map email and hold a matching user, but only the first
	// inserted one can verify the password. A compensating property of the
	// ordering rule: the first inserted domain is tried first and wins.
	mk := func(name string) *Domain {
		ic := inmemory.NewIdentityStore("IC1")
		cc := credstore.NewPasswordStore("CC1", security.NewHasher(4))
		res := memresolver.New()
		d, err := NewDomain(name, 10, identityList(ic), credentialList(cc),
			[]claim.MetaClaimMapping{usernameMapping("IC1"), emailMapping("IC1", true)}, res)
		if err != nil {
			t.Fatalf("NewDomain(%s): %v", name, err)
		}
		return d
	}
	d1 := mk("D1")
	d2 := mk("D2")
	s, err := New([]*Domain{d1, d2}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	for _, name := range []string{"D1", "D2"} {
		if _, err := s.AddUser(ctx, UserModel{
			Claims:      []claim.Claim{usernameClaim("alice"), emailClaim("a@x")},
			Credentials: []credential.Credential{password("pw-one")},
		}, name); err != nil {
			t.Fatalf("AddUser(%s): %v", name, err)
		}
	}

	authCtx, err := s.Authenticate(ctx, emailClaim("a@x"), password("pw-one"), "")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if authCtx.User.DomainName != "D1" {
		t.Errorf("authenticated in domain %s, want first inserted D1", authCtx.User.DomainName)
	}
}

func TestUpdateUserClaims_Idempotent(t *testing.T) {
	d, _, res := newTestDomain(t, "PRIMARY", 1)
	s, _ := New([]*Domain{d}, nil)
	ctx := context.Background()

	user, err := s.AddUser(ctx, UserModel{Claims: []claim.Claim{usernameClaim("alice"), emailClaim("a@x")}}, "")
	if err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	before, err := res.GetUniqueUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUniqueUser: %v", err)
	}

	claims, err := s.GetClaims(ctx, user.ID, "")
	if err != nil {
		t.Fatalf("GetClaims: %v", err)
	}
	if err := s.UpdateUserClaims(ctx, user.ID, claims, ""); err != nil {
		t.Fatalf("UpdateUserClaims: %v", err)
	}

	after, err := res.GetUniqueUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUniqueUser: %v", err)
	}
	if !samePartitions(before.Partitions, after.Partitions) {
		t.Errorf("linkage changed: before %v, after %v", before.Partitions, after.Partitions)
	}
}

func TestDeleteUser_RemovesPartitionsAndLinkage(t *testing.T) {
	d, ic, res := newTestDomain(t, "PRIMARY", 1)
	s, _ := New([]*Domain{d}, nil)
	ctx := context.Background()

	user, err := s.AddUser(ctx, UserModel{Claims: []claim.Claim{usernameClaim("alice")}}, "")
	if err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if err := s.DeleteUser(ctx, user.ID, ""); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}

	if exists, _ := res.IsUserExists(ctx, user.ID); exists {
		t.Error("linkage still present after delete")
	}
	if _, err := ic.GetConnectorUserID(ctx, "attr_uid", "alice"); err == nil {
		t.Error("partition still present after delete")
	}
	if _, err := s.GetUser(ctx, user.ID, ""); !IsKind(err, KindUserNotFound) {
		t.Errorf("GetUser after delete: want user not found, got %v", err)
	}
}

func TestAddUsers_Bulk(t *testing.T) {
	d, _, _ := newTestDomain(t, "PRIMARY", 1)
	s, _ := New([]*Domain{d}, nil)
	ctx := context.Background()

	users, err := s.AddUsers(ctx, []UserModel{
		{Claims: []claim.Claim{usernameClaim("alice"), emailClaim("a@x")}},
		{Claims: []claim.Claim{usernameClaim("bob"), emailClaim("b@x")}},
	}, "")
	if err != nil {
		t.Fatalf("AddUsers: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("got %d users, want 2", len(users))
	}
	for _, u := range users {
		if _, err := s.GetUser(ctx, u.ID, ""); err != nil {
			t.Errorf("GetUser(%s): %v", u.ID, err)
		}
	}
}

// partialBulkIdentityStore drops one batch entry to simulate partial failure.
type partialBulkIdentityStore struct {
	*recordingIdentityStore
}

func (p *partialBulkIdentityStore) AddUsers(ctx context.Context, attributes map[string][]claim.Attribute) (map[string]string, error) {
	ids, err := p.recordingIdentityStore.AddUsers(ctx, attributes)
	if err != nil {
		return nil, err
	}
	for key := range ids {
		delete(ids, key)
		break
	}
	return ids, nil
}

func TestAddUsers_PartialFailureCompensates(t *testing.T) {
	ic := &partialBulkIdentityStore{
		recordingIdentityStore: &recordingIdentityStore{IdentityStore: inmemory.NewIdentityStore("IC1")},
	}
	res := memresolver.New()
	d, err := NewDomain("PRIMARY", 1, identityList(ic), nil,
		[]claim.MetaClaimMapping{usernameMapping("IC1")}, res)
	if err != nil {
		t.Fatalf("NewDomain: %v", err)
	}
	s, _ := New([]*Domain{d}, nil)
	ctx := context.Background()

	_, err = s.AddUsers(ctx, []UserModel{
		{Claims: []claim.Claim{usernameClaim("alice")}},
		{Claims: []claim.Claim{usernameClaim("bob")}},
	}, "")
	if !IsKind(err, KindServer) {
		t.Fatalf("want server error, got %v", err)
	}
	if len(ic.removed) == 0 {
		t.Error("expected compensation on the surviving partitions")
	}
	users, _ := res.ListUsers(ctx, 0, -1)
	if len(users) != 0 {
		t.Errorf("resolver holds %d users after failed bulk add, want 0", len(users))
	}
}

func TestGroups_AddMembershipRoundTrip(t *testing.T) {
	d, _, _ := newTestDomain(t, "PRIMARY", 1)
	s, _ := New([]*Domain{d}, nil)
	ctx := context.Background()

	group, err := s.AddGroup(ctx, GroupModel{Claims: []claim.Claim{usernameClaim("admins")}}, "")
	if err != nil {
		t.Fatalf("AddGroup: %v", err)
	}
	user, err := s.AddUser(ctx, UserModel{Claims: []claim.Claim{usernameClaim("alice")}}, "")
	if err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	if err := s.UpdateGroupsOfUser(ctx, user.ID, []string{group.ID}, ""); err != nil {
		t.Fatalf("UpdateGroupsOfUser: %v", err)
	}

	in, err := s.IsUserInGroup(ctx, user.ID, group.ID, "")
	if err != nil {
		t.Fatalf("IsUserInGroup: %v", err)
	}
	if !in {
		t.Error("user should be in the group")
	}

	groups, err := s.GetGroupsOfUser(ctx, user.ID, "")
	if err != nil {
		t.Fatalf("GetGroupsOfUser: %v", err)
	}
	if len(groups) != 1 || groups[0].ID != group.ID {
		t.Errorf("GetGroupsOfUser = %v, want [%s]", groups, group.ID)
	}

	members, err := s.GetUsersOfGroup(ctx, group.ID, "")
	if err != nil {
		t.Fatalf("GetUsersOfGroup: %v", err)
	}
	if len(members) != 1 || members[0].ID != user.ID {
		t.Errorf("GetUsersOfGroup = %v, want [%s]", members, user.ID)
	}
}

func TestResolveDomain_UnknownNameIsServerError(t *testing.T) {
	d, _, _ := newTestDomain(t, "PRIMARY", 1)
	s, _ := New([]*Domain{d}, nil)

	_, err := s.GetUser(context.Background(), "some-id", "NOPE")
	if !IsKind(err, KindServer) {
		t.Errorf("unknown domain name: want server error, got %v", err)
	}
}

func samePartitions(a, b []resolver.UserPartition) bool {
	if len(a) != len(b) {
		return false
	}
	key := func(p resolver.UserPartition) string {
		return p.ConnectorID + "|" + p.ConnectorUserID
	}
	as := make([]string, 0, len(a))
	bs := make([]string, 0, len(b))
	for _, p := range a {
		as = append(as, key(p))
	}
	for _, p := range b {
		bs = append(bs, key(p))
	}
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
