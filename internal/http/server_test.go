package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"cashbook/internal/core"
	"cashbook/internal/log"
	"cashbook/internal/services"
	"cashbook/internal/storage"
	"cashbook/internal/storage/memory"
)

type brokenStore struct {
	storage.Store
	err error
}

func (b brokenStore) Ping(context.Context) error { return b.err }

func (b brokenStore) ListCashbooks(context.Context, int64) ([]core.Cashbook, error) {
	return nil, b.err
}

func newTestServer(t *testing.T, store storage.Store, opts Options) *Server {
	t.Helper()
	if store == nil {
		store = memory.New()
	}
	svc, err := services.New(store,
		services.WithPasswordCost(bcrypt.MinCost),
		services.WithSessionTTL(2*time.Hour),
		services.WithLogger(log.Discard()),
	)
	require.NoError(t, err)
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	srv, err := NewServer(":0", svc, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

// client drives the handler in-process and carries the session cookie.
type client struct {
	t      *testing.T
	srv    *Server
	cookie *http.Cookie
}

func (c *client) do(method, target, body string) *httptest.ResponseRecorder {
	c.t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	req.RemoteAddr = "203.0.113.10:5555"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	rec := httptest.NewRecorder()
	c.srv.Handler.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == SessionCookie {
			if ck.MaxAge < 0 {
				c.cookie = nil
			} else {
				c.cookie = ck
			}
		}
	}
	return rec
}

func (c *client) login(username string) {
	c.t.Helper()
	body := `{"username":"` + username + `","password":"secret1"}`
	rec := c.do(http.MethodPost, "/api/register", body)
	require.Equal(c.t, http.StatusOK, rec.Code, rec.Body.String())
	rec = c.do(http.MethodPost, "/api/login", body)
	require.Equal(c.t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(c.t, c.cookie)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	d, _ := decode(t, rec)["detail"].(string)
	return d
}

func TestHealth(t *testing.T) {
	c := &client{t: t, srv: newTestServer(t, nil, Options{})}
	rec := c.do(http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, map[string]any{"status": "ok"}, decode(t, rec))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestReady(t *testing.T) {
	c := &client{t: t, srv: newTestServer(t, nil, Options{})}
	rec := c.do(http.MethodGet, "/api/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ready", body["status"])
	assert.NotEmpty(t, body["timestamp"])
	assert.Equal(t, "ok", body["checks"].(map[string]any)["store"])

	down := &client{t: t, srv: newTestServer(t, brokenStore{Store: memory.New(), err: errors.New("db gone")}, Options{})}
	rec = down.do(http.MethodGet, "/api/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "unavailable", body["status"])
	assert.Equal(t, "unreachable", body["checks"].(map[string]any)["store"])
}

func TestReadyReportsMiddlewareCounters(t *testing.T) {
	c := &client{t: t, srv: newTestServer(t, nil, Options{AuthRateLimit: 1})}
	creds := `{"username":"alice","password":"secret1"}`
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/register", creds).Code)
	require.Equal(t, http.StatusTooManyRequests, c.do(http.MethodPost, "/api/login", creds).Code)
	assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet, "/wp-admin/setup.php", "").Code)

	rec := c.do(http.MethodGet, "/api/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)
	checks := decode(t, rec)["checks"].(map[string]any)

	assert.Equal(t, map[string]any{"active_clients": 1.0, "rejected_total": 1.0}, checks["rate_limiter"])
	assert.Equal(t, 1.0, checks["security"].(map[string]any)["suspicious_requests"])
	// The readiness request itself is counted before its handler runs.
	assert.Equal(t, 4.0, checks["requests"].(map[string]any)["total"])
}

func TestRegisterAndLogin(t *testing.T) {
	c := &client{t: t, srv: newTestServer(t, nil, Options{SecureCookie: true})}

	rec := c.do(http.MethodPost, "/api/register", `{"username":"alice","password":"secret1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Registered successfully", decode(t, rec)["message"])

	rec = c.do(http.MethodPost, "/api/register", `{"username":"alice","password":"secret1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Username already exists", detail(t, rec))

	rec = c.do(http.MethodPost, "/api/login", `{"username":"alice","password":"nope-nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", detail(t, rec))
	assert.Nil(t, c.cookie)

	rec = c.do(http.MethodPost, "/api/login", `{"username":"alice","password":"secret1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Logged in", body["message"])
	assert.Equal(t, "alice", body["username"])

	require.NotNil(t, c.cookie)
	assert.True(t, c.cookie.HttpOnly)
	assert.True(t, c.cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.cookie.SameSite)
	assert.Equal(t, "/", c.cookie.Path)
	assert.Equal(t, 7200, c.cookie.MaxAge)
}

func TestRegisterValidation(t *testing.T) {
	c := &client{t: t, srv: newTestServer(t, nil, Options{})}

	cases := []struct {
		body, want string
	}{
		{`{"username":"","password":"secret1"}`, "Username and password required"},
		{`{"username":"al","password":"secret1"}`, "Username or password too short"},
		{`{"username":"alice","password":"12345"}`, "Username or password too short"},
		{`{"username":`, "Invalid request body"},
		{`not json`, "Invalid request body"},
		{`{"username":5,"password":"secret1"}`, "Invalid request body"},
	}
	for _, tc := range cases {
		rec := c.do(http.MethodPost, "/api/register", tc.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, tc.body)
		assert.Equal(t, tc.want, detail(t, rec), tc.body)
	}

	rec := c.do(http.MethodPost, "/api/register", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthenticatedEndpointsRequireSession(t *testing.T) {
	c := &client{t: t, srv: newTestServer(t, nil, Options{})}

	routes := []struct{ method, path string }{
		{http.MethodPost, "/api/create_cashbook"},
		{http.MethodGet, "/api/get_cashbooks"},
		{http.MethodDelete, "/api/delete_cashbook"},
		{http.MethodPost, "/api/add_entry"},
		{http.MethodGet, "/api/get_entries?cashbook=x"},
		{http.MethodDelete, "/api/delete_entry/abc?cashbook=x"},
		{http.MethodGet, "/api/summary/x"},
		{http.MethodGet, "/api/export"},
	}
	for _, rt := range routes {
		rec := c.do(rt.method, rt.path, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, rt.path)
		assert.Equal(t, "Not authenticated", detail(t, rec), rt.path)
	}

	c.cookie = &http.Cookie{Name: SessionCookie, Value: "forged"}
	rec := c.do(http.MethodGet, "/api/get_cashbooks", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid session", detail(t, rec))
}

func TestLogout(t *testing.T) {
	c := &client{t: t, srv: newTestServer(t, nil, Options{})}
	c.login("alice")
	old := c.cookie

	rec := c.do(http.MethodPost, "/api/logout", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Logged out", decode(t, rec)["message"])
	assert.Nil(t, c.cookie, "cookie cleared")

	c.cookie = old
	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodGet, "/api/get_cashbooks", "").Code)

	anon := &client{t: t, srv: c.srv}
	assert.Equal(t, http.StatusOK, anon.do(http.MethodPost, "/api/logout", "").Code)
}

func TestCashbookLifecycle(t *testing.T) {
	c := &client{t: t, srv: newTestServer(t, nil, Options{})}
	c.login("alice")

	rec := c.do(http.MethodPost, "/api/create_cashbook", `{"name":" personal "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"message": "Cashbook created", "name": "personal"}, decode(t, rec))

	rec = c.do(http.MethodPost, "/api/create_cashbook", `{"name":"personal"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Cashbook already exists", detail(t, rec))

	rec = c.do(http.MethodPost, "/api/create_cashbook", `{"name":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = c.do(http.MethodGet, "/api/get_cashbooks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"username": "alice", "cashbooks": []any{"personal"}}, decode(t, rec))

	rec = c.do(http.MethodDelete, "/api/delete_cashbook", `{"name":"personal"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Cashbook 'personal' deleted successfully", decode(t, rec)["message"])

	rec = c.do(http.MethodDelete, "/api/delete_cashbook", `{"name":"personal"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Cashbook not found", detail(t, rec))

	rec = c.do(http.MethodGet, "/api/get_cashbooks", "")
	assert.Equal(t, []any{}, decode(t, rec)["cashbooks"])
}

func TestEntriesWorkedExample(t *testing.T) {
	c := &client{t: t, srv: newTestServer(t, nil, Options{})}
	c.login("alice")
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/create_cashbook", `{"name":"personal"}`).Code)

	rec := c.do(http.MethodPost, "/api/add_entry",
		`{"cashbook":"personal","type":"cash_in","date":"2024-01-01","amount":100,"note":"salary"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "Entry added", body["message"])
	first := body["entry"].(map[string]any)
	assert.Equal(t, "2024-01-01", first["date"])
	assert.Equal(t, "cash_in", first["type"])
	assert.Equal(t, 100.0, first["amount"])
	assert.Equal(t, "salary", first["note"])
	assert.NotEmpty(t, first["id"])

	rec = c.do(http.MethodPost, "/api/add_entry", `{"cashbook":"personal","type":"cash_out","amount":"40"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := decode(t, rec)["entry"].(map[string]any)
	assert.Equal(t, 40.0, second["amount"], "numeric strings are accepted")
	assert.Equal(t, "", second["note"])

	rec = c.do(http.MethodGet, "/api/summary/personal", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"total_in": 100.0, "total_out": 40.0, "balance": 60.0}, decode(t, rec))

	rec = c.do(http.MethodGet, "/api/get_entries?cashbook=personal", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode(t, rec)["entries"].([]any)
	require.Len(t, entries, 2)
	assert.Equal(t, first["id"], entries[0].(map[string]any)["id"])

	rec = c.do(http.MethodDelete, "/api/delete_entry/"+first["id"].(string)+"?cashbook=personal", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Entry deleted", decode(t, rec)["message"])

	rec = c.do(http.MethodDelete, "/api/delete_entry/"+first["id"].(string)+"?cashbook=personal", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Entry not found", detail(t, rec))

	rec = c.do(http.MethodGet, "/api/summary/personal", "")
	assert.Equal(t, map[string]any{"total_in": 0.0, "total_out": 40.0, "balance": -40.0}, decode(t, rec))
}

func TestAddEntryRejections(t *testing.T) {
	c := &client{t: t, srv: newTestServer(t, nil, Options{})}
	c.login("alice")
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/create_cashbook", `{"name":"personal"}`).Code)

	cases := []struct {
		body   string
		status int
		want   string
	}{
		{`{"cashbook":"personal","type":"cash_in","amount":0}`, http.StatusBadRequest, "Invalid date or amount"},
		{`{"cashbook":"personal","type":"cash_in","amount":-5}`, http.StatusBadRequest, "Invalid date or amount"},
		{`{"cashbook":"personal","type":"cash_in","amount":"abc"}`, http.StatusBadRequest, "Invalid date or amount"},
		{`{"cashbook":"personal","type":"cash_in","amount":true}`, http.StatusBadRequest, "Invalid date or amount"},
		{`{"cashbook":"personal","type":"cash_in","amount":null}`, http.StatusBadRequest, "Invalid date or amount"},
		{`{"cashbook":"personal","type":"cash_in","date":"2024-13-40","amount":5}`, http.StatusBadRequest, "Invalid date or amount"},
		{`{"cashbook":"personal","type":"transfer","amount":5}`, http.StatusBadRequest, "Invalid type"},
		{`{"cashbook":"missing","type":"cash_in","amount":5}`, http.StatusNotFound, "Cashbook not found"},
		{`{"cashbook":"","type":"cash_in","amount":5}`, http.StatusBadRequest, "Cashbook name required"},
		{`{"cashbook":"personal","type":"cash_in","amount":{}}`, http.StatusBadRequest, "Invalid date or amount"},
		{`{"cashbook":"personal","type":"cash_in","amount":1e308}`, http.StatusBadRequest, "Invalid date or amount"},
		{`{"cashbook":"personal","type":"cash_in","amount":1000000000000.5}`, http.StatusBadRequest, "Invalid date or amount"},
		{`{"cashbook":"personal","type":"cash_in","amount":"0x1p4"}`, http.StatusBadRequest, "Invalid date or amount"},
	}
	for _, tc := range cases {
		rec := c.do(http.MethodPost, "/api/add_entry", tc.body)
		assert.Equal(t, tc.status, rec.Code, tc.body)
		assert.Equal(t, tc.want, detail(t, rec), tc.body)
	}

	rec := c.do(http.MethodGet, "/api/get_entries?cashbook=personal", "")
	assert.Equal(t, []any{}, decode(t, rec)["entries"])
}

func TestSummaryAtAmountCeiling(t *testing.T) {
	c := &client{t: t, srv: newTestServer(t, nil, Options{})}
	c.login("alice")
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/create_cashbook", `{"name":"big"}`).Code)
	for i := 0; i < 2; i++ {
		rec := c.do(http.MethodPost, "/api/add_entry", `{"cashbook":"big","type":"cash_in","amount":1e12}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := c.do(http.MethodGet, "/api/summary/big", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"total_in": 2e12, "total_out": 0.0, "balance": 2e12}, decode(t, rec))
}

func TestUnencodableResponseIs500(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, core.Summary{TotalIn: math.Inf(1)})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "Internal server error", detail(t, rec))
}

func TestCrossUserIsolation(t *testing.T) {
	srv := newTestServer(t, nil, Options{})
	alice := &client{t: t, srv: srv}
	alice.login("alice")
	bob := &client{t: t, srv: srv}
	bob.login("bob")

	require.Equal(t, http.StatusOK, alice.do(http.MethodPost, "/api/create_cashbook", `{"name":"personal"}`).Code)
	rec := alice.do(http.MethodPost, "/api/add_entry", `{"cashbook":"personal","type":"cash_in","amount":10}`)
	require.Equal(t, http.StatusOK, rec.Code)
	id := decode(t, rec)["entry"].(map[string]any)["id"].(string)

	assert.Equal(t, http.StatusNotFound, bob.do(http.MethodGet, "/api/get_entries?cashbook=personal", "").Code)
	assert.Equal(t, http.StatusNotFound, bob.do(http.MethodGet, "/api/summary/personal", "").Code)
	assert.Equal(t, http.StatusNotFound, bob.do(http.MethodDelete, "/api/delete_entry/"+id+"?cashbook=personal", "").Code)
	assert.Equal(t, http.StatusNotFound, bob.do(http.MethodGet, "/api/export?cashbook=personal", "").Code)

	rec = bob.do(http.MethodGet, "/api/get_cashbooks", "")
	assert.Equal(t, []any{}, decode(t, rec)["cashbooks"])
}

func TestExport(t *testing.T) {
	c := &client{t: t, srv: newTestServer(t, nil, Options{})}
	c.login("alice")
	for _, name := range []string{"personal", "work"} {
		require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/create_cashbook", `{"name":"`+name+`"}`).Code)
	}
	require.Equal(t, http.StatusOK,
		c.do(http.MethodPost, "/api/add_entry", `{"cashbook":"work","type":"cash_in","amount":7.5}`).Code)

	rec := c.do(http.MethodGet, "/api/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "alice", body["username"])
	books := body["cashbooks"].(map[string]any)
	assert.Len(t, books, 2)
	assert.Equal(t, []any{}, books["personal"])
	assert.Len(t, books["work"], 1)

	rec = c.do(http.MethodGet, "/api/export?cashbook=work", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["cashbooks"], 1)

	rec = c.do(http.MethodGet, "/api/export?cashbook=%20%20", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEntriesWithoutCashbookIsBadRequest(t *testing.T) {
	c := &client{t: t, srv: newTestServer(t, nil, Options{})}
	c.login("alice")
	rec := c.do(http.MethodGet, "/api/get_entries", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Cashbook name required", detail(t, rec))
}

func TestWrongMethodIs405(t *testing.T) {
	c := &client{t: t, srv: newTestServer(t, nil, Options{})}
	assert.Equal(t, http.StatusMethodNotAllowed, c.do(http.MethodGet, "/api/login", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, c.do(http.MethodPost, "/api/get_cashbooks", "").Code)
}

func TestInternalErrorsAreOpaque(t *testing.T) {
	srv := newTestServer(t, brokenStore{Store: memory.New(), err: errors.New("disk on fire")}, Options{})
	c := &client{t: t, srv: srv}
	c.login("alice")

	rec := c.do(http.MethodGet, "/api/get_cashbooks", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", detail(t, rec))
	assert.NotContains(t, rec.Body.String(), "disk on fire")
}

func TestAuthRateLimit(t *testing.T) {
	c := &client{t: t, srv: newTestServer(t, nil, Options{AuthRateLimit: 2})}
	body := `{"username":"alice","password":"wrong-pw"}`

	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodPost, "/api/login", body).Code)
	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodPost, "/api/login", body).Code)

	rec := c.do(http.MethodPost, "/api/login", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Too many requests", detail(t, rec))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/health", "").Code, "other routes are not limited")
}

func TestNewServerRejectsBadInput(t *testing.T) {
	_, err := NewServer(":0", nil, Options{})
	assert.Error(t, err)

	svc, err := services.New(memory.New(), services.WithLogger(log.Discard()))
	require.NoError(t, err)
	_, err = NewServer(":0", svc, Options{TrustedProxies: []string{"bogus"}})
	assert.Error(t, err)
}
