package stubserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/argosnet/barcodescanner/internal/api"
)

func newTestStub(t *testing.T) (*Server, *httptest.Server, *http.Client) {
	t.Helper()
	stub, err := NewServer(Dependencies{SigningSecret: []byte("test-secret")})
	if err != nil {
		t.Fatalf("failed to create stub: %v", err)
	}
	server := httptest.NewServer(stub.Handler())
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("failed to create cookie jar: %v", err)
	}
	return stub, server, &http.Client{Jar: jar}
}

func login(t *testing.T, server *httptest.Server, client *http.Client) api.User {
	t.Helper()
	payload := bytes.NewBufferString(`{"username": "operator", "password": "operator"}`)
	resp, err := client.Post(server.URL+"/api/v2/accounts/login", "application/json", payload)
	if err != nil {
		t.Fatalf("login request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from login, got %d", resp.StatusCode)
	}
	var user api.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		t.Fatalf("failed to decode user: %v", err)
	}
	return user
}

func csrfCookie(t *testing.T, server *httptest.Server, client *http.Client) string {
	t.Helper()
	serverURL, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("failed to parse server url: %v", err)
	}
	for _, cookie := range client.Jar.Cookies(serverURL) {
		if cookie.Name == "csrftoken" {
			return cookie.Value
		}
	}
	t.Fatalf("expected a csrftoken cookie after login")
	return ""
}

func TestLoginIssuesSessionAndCSRFCookies(t *testing.T) {
	_, server, client := newTestStub(t)

	user := login(t, server, client)
	if !user.IsAuthenticated || user.Username != "operator" {
		t.Fatalf("unexpected user payload: %+v", user)
	}

	serverURL, _ := url.Parse(server.URL)
	var haveSession, haveCSRF bool
	for _, cookie := range client.Jar.Cookies(serverURL) {
		switch cookie.Name {
		case "sessionid":
			haveSession = true
		case "csrftoken":
			haveCSRF = true
		}
	}
	if !haveSession || !haveCSRF {
		t.Fatalf("expected sessionid and csrftoken cookies, session=%v csrf=%v", haveSession, haveCSRF)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	_, server, client := newTestStub(t)

	payload := bytes.NewBufferString(`{"username": "operator", "password": "wrong"}`)
	resp, err := client.Post(server.URL+"/api/v2/accounts/login", "application/json", payload)
	if err != nil {
		t.Fatalf("login request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestTokenLoginAcceptsKnownToken(t *testing.T) {
	_, server, client := newTestStub(t)

	payload := bytes.NewBufferString(`{"token": "dev-login-token"}`)
	resp, err := client.Post(server.URL+"/api/v2/accounts/login/token", "application/json", payload)
	if err != nil {
		t.Fatalf("token login failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for known token, got %d", resp.StatusCode)
	}
}

func TestOrdersRequireSessionCookie(t *testing.T) {
	_, server, client := newTestStub(t)

	resp, err := http.Get(server.URL + "/api/v2/orders/orders-filters-for-scaner")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a session, got %d", resp.StatusCode)
	}

	login(t, server, client)
	resp, err = client.Get(server.URL + "/api/v2/orders/orders-filters-for-scaner")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with a session, got %d", resp.StatusCode)
	}
	var orders []api.Order
	if err := json.NewDecoder(resp.Body).Decode(&orders); err != nil {
		t.Fatalf("failed to decode orders: %v", err)
	}
	if len(orders) == 0 {
		t.Fatalf("expected fixture orders")
	}
}

func TestImportRejectsMissingCSRFHeader(t *testing.T) {
	stub, server, client := newTestStub(t)
	login(t, server, client)

	body := bytes.NewBufferString(`{"code": "ABC-1", "order": 7, "stage": 101, "user_id": 1, "is_good": true}`)
	resp, err := client.Post(server.URL+"/api/v2/barcode/import-barcode", "application/json", body)
	if err != nil {
		t.Fatalf("import request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF header, got %d", resp.StatusCode)
	}
	if len(stub.Imported()) != 0 {
		t.Fatalf("expected no record accepted")
	}
}

func TestImportAcceptsMatchingCSRFHeader(t *testing.T) {
	stub, server, client := newTestStub(t)
	login(t, server, client)
	token := csrfCookie(t, server, client)

	body := bytes.NewBufferString(`{"code": "ABC-1", "order": 7, "stage": 101, "user_id": 1, "is_good": true}`)
	req, err := http.NewRequest(http.MethodPost, server.URL+"/api/v2/barcode/import-barcode", body)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRFToken", token)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("import request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with CSRF header, got %d", resp.StatusCode)
	}

	imported := stub.Imported()
	if len(imported) != 1 || imported[0].Code != "ABC-1" || imported[0].Order != 7 {
		t.Fatalf("expected the record to be captured, got %+v", imported)
	}
}

func TestProcessTypeLookupReturnsStageList(t *testing.T) {
	_, server, client := newTestStub(t)
	login(t, server, client)

	resp, err := client.Get(server.URL + "/api/v2/orders/process-types/11")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var processType api.ProcessType
	if err := json.NewDecoder(resp.Body).Decode(&processType); err != nil {
		t.Fatalf("failed to decode process type: %v", err)
	}
	if processType.Name != "Assembly" || len(processType.Stages) != 3 {
		t.Fatalf("unexpected process type payload: %+v", processType)
	}
}
