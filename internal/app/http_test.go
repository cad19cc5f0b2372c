package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testIdentityToken(t *testing.T, secret, subject, email, name string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   subject,
		"email": email,
		"name":  name,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign identity token: %v", err)
	}
	return token
}

func newTestServer(t *testing.T) (*httptest.Server, *Service, *memStore, *fakeRealtime) {
	t.Helper()
	ms := newMemStore()
	rt := newFakeRealtime()
	svc := newTestService(ms, rt)
	server := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	t.Cleanup(server.Close)
	return server, svc, ms, rt
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func loginToken(t *testing.T, server *httptest.Server, email string) string {
	t.Helper()
	identity := testIdentityToken(t, "identity-secret", "sub_"+email, email, email)
	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/session/login", "", map[string]any{"identityToken": identity})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login returned %d: %v", resp.StatusCode, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("login response missing token: %v", body)
	}
	return token
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _, _ := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["ok"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	server, _, _, _ := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/documents", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if body["success"] != false {
		t.Errorf("envelope should be success:false, got %v", body)
	}
}

func TestDocumentFlowOverHTTP(t *testing.T) {
	server, _, _, _ := newTestServer(t)
	ownerToken := loginToken(t, server, "a@x.com")

	resp, created := doJSON(t, http.MethodPost, server.URL+"/api/documents", ownerToken, map[string]any{"title": "Launch Plan"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %v", resp.StatusCode, created)
	}
	if created["success"] != true {
		t.Errorf("create envelope: %v", created)
	}
	docID, _ := created["docId"].(string)
	if docID == "" {
		t.Fatal("create response missing docId")
	}

	resp, invited := doJSON(t, http.MethodPost, server.URL+"/api/documents/"+docID+"/users", ownerToken, map[string]any{"userId": "b@y.com"})
	if resp.StatusCode != http.StatusCreated || invited["role"] != "editor" {
		t.Fatalf("invite: %d %v", resp.StatusCode, invited)
	}

	// Duplicate invite surfaces the conflict in the uniform envelope.
	resp, dup := doJSON(t, http.MethodPost, server.URL+"/api/documents/"+docID+"/users", ownerToken, map[string]any{"userId": "b@y.com"})
	if resp.StatusCode != http.StatusConflict || dup["success"] != false || dup["code"] != "ALREADY_MEMBER" {
		t.Fatalf("duplicate invite: %d %v", resp.StatusCode, dup)
	}

	editorToken := loginToken(t, server, "b@y.com")
	resp, ownership := doJSON(t, http.MethodGet, server.URL+"/api/documents/"+docID+"/ownership", editorToken, nil)
	if resp.StatusCode != http.StatusOK || ownership["isOwner"] != false {
		t.Fatalf("ownership: %d %v", resp.StatusCode, ownership)
	}

	resp, members := doJSON(t, http.MethodGet, server.URL+"/api/documents/"+docID+"/users", editorToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("members: %d %v", resp.StatusCode, members)
	}
	if users, ok := members["users"].([]any); !ok || len(users) != 2 {
		t.Errorf("expected two members, got %v", members["users"])
	}

	// Editor cannot delete.
	resp, denied := doJSON(t, http.MethodDelete, server.URL+"/api/documents/"+docID, editorToken, nil)
	if resp.StatusCode != http.StatusForbidden || denied["success"] != false {
		t.Fatalf("editor delete: %d %v", resp.StatusCode, denied)
	}

	resp, deleted := doJSON(t, http.MethodDelete, server.URL+"/api/documents/"+docID, ownerToken, nil)
	if resp.StatusCode != http.StatusOK || deleted["success"] != true {
		t.Fatalf("owner delete: %d %v", resp.StatusCode, deleted)
	}

	resp, _ = doJSON(t, http.MethodGet, server.URL+"/api/documents/"+docID, ownerToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete: %d", resp.StatusCode)
	}
}

func TestRealtimeAuthPassthrough(t *testing.T) {
	server, svc, _, _ := newTestServer(t)
	ownerToken := loginToken(t, server, "a@x.com")

	created, err := svc.CreateDocument(context.Background(), ownerSession("a@x.com"), "Plan")
	if err != nil {
		t.Fatal(err)
	}
	docID := created["docId"].(string)

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/realtime/auth", bytes.NewReader([]byte(`{"room":"`+docID+`"}`)))
	req.Header.Set("Authorization", "Bearer "+ownerToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var grant map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		t.Fatalf("grant not passed through as JSON: %v", err)
	}
	if grant["token"] != "grant" {
		t.Errorf("grant = %v", grant)
	}
}

func TestRealtimeAuthForbiddenForNonMember(t *testing.T) {
	server, svc, _, rt := newTestServer(t)
	strangerToken := loginToken(t, server, "stranger@q.com")

	created, err := svc.CreateDocument(context.Background(), ownerSession("a@x.com"), "Plan")
	if err != nil {
		t.Fatal(err)
	}
	docID := created["docId"].(string)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/realtime/auth", strangerToken, map[string]any{"room": docID})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["error"] != "You are not in this room" {
		t.Errorf("error = %v", body["error"])
	}
	if rt.authorizeCount() != 0 {
		t.Error("collaboration service called for a forbidden session")
	}
}

func TestSessionRefreshOverHTTP(t *testing.T) {
	server, _, _, _ := newTestServer(t)

	identity := testIdentityToken(t, "identity-secret", "sub_1", "a@x.com", "Alice")
	_, login := doJSON(t, http.MethodPost, server.URL+"/api/session/login", "", map[string]any{"identityToken": identity})
	refreshToken, _ := login["refreshToken"].(string)
	if refreshToken == "" {
		t.Fatalf("login response missing refreshToken: %v", login)
	}

	resp, refreshed := doJSON(t, http.MethodPost, server.URL+"/api/session/refresh", "", map[string]any{"refreshToken": refreshToken})
	if resp.StatusCode != http.StatusOK || refreshed["token"] == "" {
		t.Fatalf("refresh: %d %v", resp.StatusCode, refreshed)
	}

	// Rotation: the old refresh token is now dead.
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/session/refresh", "", map[string]any{"refreshToken": refreshToken})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("stale refresh accepted: %d", resp.StatusCode)
	}
}

func TestUnknownRouteReturnsEnvelope(t *testing.T) {
	server, _, _, _ := newTestServer(t)
	token := loginToken(t, server, "a@x.com")
	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/nope", token, nil)
	if resp.StatusCode != http.StatusNotFound || body["success"] != false {
		t.Fatalf("%d %v", resp.StatusCode, body)
	}
}
