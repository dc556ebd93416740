package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/crypto/bcrypt"

	"crmdesk.io/internal/auth"
	"crmdesk.io/internal/todo"
)

const testSecret = "test-secret-0123456789abcdef0123"

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

type testEnv struct {
	*apiClient
	svc   *auth.Service
	store *auth.InMemory
	todos *todo.InMemory
}

func newTestAPI(t *testing.T, mutate ...func(*Options)) *testEnv {
	t.Helper()

	store := auth.NewInMemory()
	codec, err := auth.NewTokenCodec(testSecret, "crmdesk", "crmdesk-web")
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	svc, err := auth.NewService(store, codec, auth.WithHasher(auth.NewHasher(bcrypt.MinCost)))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	todos := todo.NewInMemory()

	opts := Options{
		Version:        "test",
		RateMax:        1000,
		RateWindow:     time.Minute,
		LoginPerSecond: 1000,
		LoginBurst:     1000,
	}
	for _, m := range mutate {
		m(&opts)
	}
	api := New(svc, todos, ReadyProbe{}, opts)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{
		apiClient: &apiClient{baseURL: srv.URL, client: srv.Client(), t: t},
		svc:       svc,
		store:     store,
		todos:     todos,
	}
}

func (e *testEnv) seedUser(email, password string, role auth.Role) *auth.User {
	e.t.Helper()
	hash, err := e.svc.Hasher().Hash(password)
	if err != nil {
		e.t.Fatalf("hash: %v", err)
	}
	u := &auth.User{Email: email, Name: "Test", PasswordHash: hash, Role: role, Active: true}
	if err := e.store.Create(context.Background(), u); err != nil {
		e.t.Fatalf("create user: %v", err)
	}
	return u
}

func (e *testEnv) login(email, password string) auth.LoginResult {
	e.t.Helper()
	resp := e.do(http.MethodPost, "/api/auth/login", map[string]any{"email": email, "password": password}, nil)
	if resp.StatusCode != http.StatusOK {
		e.t.Fatalf("login status %d", resp.StatusCode)
	}
	return decode[auth.LoginResult](e.t, resp)
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

type errorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details"`
}

func expectError(t *testing.T, resp *http.Response, status int, code auth.Code) errorResponse {
	t.Helper()
	if resp.StatusCode != status {
		resp.Body.Close()
		t.Fatalf("expected status %d, got %d", status, resp.StatusCode)
	}
	body := decode[errorResponse](t, resp)
	if body.Code != string(code) {
		t.Fatalf("expected code %s, got %s (%s)", code, body.Code, body.Error)
	}
	if body.Error == "" {
		t.Fatal("expected error message")
	}
	return body
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
