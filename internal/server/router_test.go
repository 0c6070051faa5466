package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kasunbg/carbon-identity-mgt/internal/claim"
	"github.com/kasunbg/carbon-identity-mgt/internal/connector"
	"github.com/kasunbg/carbon-identity-mgt/internal/connector/credstore"
	"github.com/kasunbg/carbon-identity-mgt/internal/connector/inmemory"
	"github.com/kasunbg/carbon-identity-mgt/internal/resolver/memresolver"
	"github.com/kasunbg/carbon-identity-mgt/internal/security"
	"github.com/kasunbg/carbon-identity-mgt/internal/store"
)

const emailClaimURI = "http://wso2.org/claims/email"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ic := inmemory.NewIdentityStore("IC1")
	cc := credstore.NewPasswordStore("CC1", security.NewHasher(4))
	mappings := []claim.MetaClaimMapping{
		{
			MetaClaim:                claim.MetaClaim{DialectURI: claim.RootDialectURI, ClaimURI: claim.UsernameClaimURI},
			IdentityStoreConnectorID: "IC1",
			AttributeName:            "attr_uid",
			Unique:                   true,
		},
		{
			MetaClaim:                claim.MetaClaim{DialectURI: claim.RootDialectURI, ClaimURI: emailClaimURI},
			IdentityStoreConnectorID: "IC1",
			AttributeName:            "attr_mail",
			Unique:                   true,
		},
	}
	domain, err := store.NewDomain("PRIMARY", 1,
		[]connector.IdentityStoreConnector{ic},
		[]connector.CredentialStoreConnector{cc},
		mappings, memresolver.New())
	if err != nil {
		t.Fatalf("NewDomain: %v", err)
	}
	s, err := store.New([]*store.Domain{domain}, nil)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	ts := httptest.NewServer(NewRouter(s, tokens))
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHTTP_AddUserAuthenticateFlow(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/users", map[string]any{
		"claims": []map[string]string{
			{"claimUri": claim.UsernameClaimURI, "value": "alice"},
			{"claimUri": emailClaimURI, "value": "a@x"},
		},
		"password": "s3cret",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add user status = %d, want 201", resp.StatusCode)
	}
	created := decodeBody[map[string]string](t, resp)
	userID := created["userId"]
	if userID == "" {
		t.Fatal("expected a userId")
	}

	getResp, err := http.Get(fmt.Sprintf("%s/api/v1/users/%s", ts.URL, userID))
	if err != nil {
		t.Fatalf("GET user: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get user status = %d, want 200", getResp.StatusCode)
	}

	claimsResp, err := http.Get(fmt.Sprintf("%s/api/v1/users/%s/claims", ts.URL, userID))
	if err != nil {
		t.Fatalf("GET claims: %v", err)
	}
	defer claimsResp.Body.Close()
	claims := decodeBody[[]map[string]string](t, claimsResp)
	if len(claims) != 2 {
		t.Errorf("got %d claims, want 2", len(claims))
	}

	authResp := postJSON(t, ts.URL+"/api/v1/authenticate", map[string]string{
		"claimUri": emailClaimURI,
		"value":    "a@x",
		"password": "s3cret",
	})
	if authResp.StatusCode != http.StatusOK {
		t.Fatalf("authenticate status = %d, want 200", authResp.StatusCode)
	}
	auth := decodeBody[map[string]any](t, authResp)
	if auth["userId"] != userID || auth["domain"] != "PRIMARY" {
		t.Errorf("authenticate response = %v", auth)
	}
	if token, _ := auth["token"].(string); token == "" {
		t.Error("expected a token in the authenticate response")
	}
}

func TestHTTP_ErrorStatusMapping(t *testing.T) {
	ts := newTestServer(t)

	// Missing username claim is a client error.
	resp := postJSON(t, ts.URL+"/api/v1/users", map[string]any{
		"claims": []map[string]string{{"claimUri": emailClaimURI, "value": "a@x"}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("client error status = %d, want 400", resp.StatusCode)
	}

	// Unknown user is 404.
	getResp, err := http.Get(ts.URL + "/api/v1/users/no-such-id")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusNotFound {
		t.Errorf("not found status = %d, want 404", getResp.StatusCode)
	}

	// Bad credentials are 401.
	authResp := postJSON(t, ts.URL+"/api/v1/authenticate", map[string]string{
		"claimUri": emailClaimURI,
		"value":    "nobody@x",
		"password": "nope",
	})
	if authResp.StatusCode != http.StatusUnauthorized {
		t.Errorf("authentication failure status = %d, want 401", authResp.StatusCode)
	}
}

func TestHTTP_GroupsAndMembership(t *testing.T) {
	ts := newTestServer(t)

	userResp := postJSON(t, ts.URL+"/api/v1/users", map[string]any{
		"claims": []map[string]string{{"claimUri": claim.UsernameClaimURI, "value": "alice"}},
	})
	user := decodeBody[map[string]string](t, userResp)

	groupResp := postJSON(t, ts.URL+"/api/v1/groups", map[string]any{
		"claims": []map[string]string{{"claimUri": claim.UsernameClaimURI, "value": "admins"}},
	})
	if groupResp.StatusCode != http.StatusCreated {
		t.Fatalf("add group status = %d, want 201", groupResp.StatusCode)
	}
	group := decodeBody[map[string]string](t, groupResp)

	req, err := http.NewRequest(http.MethodPut,
		fmt.Sprintf("%s/api/v1/users/%s/groups", ts.URL, user["userId"]),
		bytes.NewReader(mustJSON(t, map[string]any{"groupIds": []string{group["groupId"]}})))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	putResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT groups: %v", err)
	}
	defer putResp.Body.Close()
	if putResp.StatusCode != http.StatusNoContent {
		t.Fatalf("update groups status = %d, want 204", putResp.StatusCode)
	}

	memberResp, err := http.Get(fmt.Sprintf("%s/api/v1/users/%s/groups/%s", ts.URL, user["userId"], group["groupId"]))
	if err != nil {
		t.Fatalf("GET membership: %v", err)
	}
	defer memberResp.Body.Close()
	membership := decodeBody[map[string]bool](t, memberResp)
	if !membership["member"] {
		t.Error("user should be a member of the group")
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	buf, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return buf
}
