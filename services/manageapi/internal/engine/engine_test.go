package engine

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/agentgraph/agentgraph-open/pkg/config"
	"github.com/agentgraph/agentgraph-open/pkg/logger"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/store/storetest"
)

const base = "/tenants/t1/projects/p1"

const g1Body = `{
	"id": "g1",
	"name": "Support",
	"defaultAgentId": "a1",
	"agents": {
		"a1": {"type": "internal", "name": "Router", "canTransferTo": ["a2"]},
		"a2": {"type": "internal", "name": "Billing"}
	}
}`

func newTestServer(t *testing.T, values map[string]string) *Server {
	t.Helper()
	cfg := config.New()
	cfg.Set("auth.disabled", "true")
	cfg.Update(values)

	e, err := NewEngine(cfg, storetest.Open(t), nil, logger.Discard())
	require.NoError(t, err)
	return NewServer(e)
}

func do(t *testing.T, s http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	assert.Equal(t, problemContentType, w.Header().Get("Content-Type"))
	var p map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	return p
}

func TestFullGraphLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	w := do(t, s, http.MethodPost, base+"/agent-graphs/full", g1Body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, s, http.MethodGet, base+"/agent-graphs/g1/full", "")
	require.Equal(t, http.StatusOK, w.Code)
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)

	var view struct {
		ID     string                    `json:"id"`
		Agents map[string]map[string]any `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "g1", view.ID)
	assert.Equal(t, []any{"a2"}, view.Agents["a1"]["canTransferTo"])
	assert.Equal(t, []any{}, view.Agents["a2"]["canTransferTo"])

	w = do(t, s, http.MethodGet, base+"/agent-graphs/g1/full", "", "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.Bytes())

	w = do(t, s, http.MethodPut, base+"/agent-graphs/g1/full", g1Body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, etag, w.Header().Get("ETag"))

	w = do(t, s, http.MethodDelete, base+"/agent-graphs/g1/full", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, s, http.MethodGet, base+"/agent-graphs/g1/full", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	p := decodeProblem(t, w)
	assert.Equal(t, "Agent graph not found", p["detail"])
	assert.Equal(t, float64(http.StatusNotFound), p["status"])
	assert.Equal(t, base+"/agent-graphs/g1/full", p["instance"])

	w = do(t, s, http.MethodDelete, base+"/agent-graphs/g1/full", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPutFullGraph(t *testing.T) {
	s := newTestServer(t, nil)

	w := do(t, s, http.MethodPut, base+"/agent-graphs/g1/full", g1Body)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = do(t, s, http.MethodPut, base+"/agent-graphs/other/full", g1Body)
	require.Equal(t, http.StatusBadRequest, w.Code)
	p := decodeProblem(t, w)
	assert.Equal(t, []any{map[string]any{"pointer": "/id", "reason": "must match the graph id in the path"}}, p["errors"])
}

func TestFullGraphValidationProblems(t *testing.T) {
	s := newTestServer(t, nil)

	w := do(t, s, http.MethodPost, base+"/agent-graphs/full", `{"id": "g1", "name": "G", "defaultAgentId": "ghost", "agents": {"a1": {"type": "internal", "name": "A"}}}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	p := decodeProblem(t, w)
	assert.Equal(t, "Reference Validation Failed", p["title"])
	assert.Equal(t, []any{map[string]any{
		"kind": "defaultAgent", "id": "ghost", "pointer": "/defaultAgentId", "reason": "not_found",
	}}, p["errors"])

	w = do(t, s, http.MethodGet, base+"/agent-graphs/g1/full", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodPost, base+"/agent-graphs/full", `{"id": "g1", "agents": {"a1": {"type": "robot"}}}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	p = decodeProblem(t, w)
	assert.Equal(t, "Schema Validation Failed", p["title"])
	assert.NotEmpty(t, p["errors"])

	w = do(t, s, http.MethodPost, base+"/agent-graphs/full", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScopedEndpointsShareRelations(t *testing.T) {
	s := newTestServer(t, nil)
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, base+"/agent-graphs/full", g1Body).Code)
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, base+"/agent-graphs/full",
		`{"id": "g2", "name": "Other", "agents": {"b1": {"type": "internal", "name": "B1"}}}`).Code)

	w := do(t, s, http.MethodPost, base+"/agent-graphs/g1/relations", `{"sourceAgentId": "a1", "targetAgentId": "b1", "relationType": "transfer"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	p := decodeProblem(t, w)
	assert.Equal(t, "Reference Validation Failed", p["title"])

	w = do(t, s, http.MethodPost, base+"/agent-graphs/g1/relations", `{"sourceAgentId": "a2", "targetAgentId": "a1", "relationType": "delegate"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, s, http.MethodGet, base+"/agent-graphs/g1/agents/a2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var agent map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &agent))
	assert.Equal(t, []any{"a1"}, agent["canDelegateTo"])

	w = do(t, s, http.MethodGet, base+"/agent-graphs/g1/relations?relationType=delegate", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, "a2", list.Data[0]["sourceAgentId"])

	w = do(t, s, http.MethodGet, base+"/agent-graphs/g1/relations?relationType=sideways", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodDelete, base+"/agent-graphs/g1/agents/a1", "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodGet, base+"/agent-graphs/g1/external-agents/a1", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "External agent not found", decodeProblem(t, w)["detail"])
}

func TestCatalogRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	w := do(t, s, http.MethodPost, base+"/tools", `{"id": "search", "name": "Search"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, s, http.MethodPost, base+"/tools", `{"id": "search", "name": "Again"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	body := `{"id": "g1", "name": "G", "agents": {"a1": {"type": "internal", "name": "A", "tools": ["search"]}}}`
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, base+"/agent-graphs/full", body).Code)

	w = do(t, s, http.MethodDelete, base+"/tools/search", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, s, http.MethodGet, base+"/data-components/search", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListGraphsPagination(t *testing.T) {
	s := newTestServer(t, nil)
	for i := 1; i <= 3; i++ {
		w := do(t, s, http.MethodPost, base+"/agent-graphs", fmt.Sprintf(`{"id": "g%d", "name": "Graph %d"}`, i, i))
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w := do(t, s, http.MethodGet, base+"/agent-graphs?limit=2&page=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data       []map[string]any `json:"data"`
		Pagination Pagination       `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 1)
	assert.Equal(t, Pagination{Page: 2, Limit: 2, Total: 3, Pages: 2}, resp.Pagination)

	w = do(t, s, http.MethodGet, "/tenants/t1/projects/other/agent-graphs", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Data)

	w = do(t, s, http.MethodGet, base+"/agent-graphs?limit=500", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for _, page := range []string{"9223372036854775807", "1000001", "0"} {
		w = do(t, s, http.MethodGet, base+"/agent-graphs?limit=100&page="+page, "")
		require.Equal(t, http.StatusBadRequest, w.Code, "page=%s", page)
		problem := decodeProblem(t, w)
		assert.Contains(t, w.Body.String(), `"?page"`, "page=%s", page)
		assert.Equal(t, float64(http.StatusBadRequest), problem["status"])
	}
	for _, path := range []string{"/tools?page=9223372036854775807", "/data-components?page=99999999999"} {
		w = do(t, s, http.MethodGet, base+path, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestAuthentication(t *testing.T) {
	secret := "test-secret"
	hash, err := bcrypt.GenerateFromPassword([]byte("key-123"), bcrypt.MinCost)
	require.NoError(t, err)

	s := newTestServer(t, map[string]string{
		"auth.disabled":   "false",
		"auth.jwt_secret": secret,
		"auth.api_keys":   "t1:" + string(hash),
	})

	token, err := SignToken([]byte(secret), "t1", "u1", time.Minute)
	require.NoError(t, err)
	otherTenant, err := SignToken([]byte(secret), "t2", "u1", time.Minute)
	require.NoError(t, err)
	expired, err := SignToken([]byte(secret), "t1", "u1", -time.Minute)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing token", header: "", status: http.StatusUnauthorized},
		{name: "valid jwt", header: "Bearer " + token, status: http.StatusOK},
		{name: "jwt for other tenant", header: "Bearer " + otherTenant, status: http.StatusUnauthorized},
		{name: "expired jwt", header: "Bearer " + expired, status: http.StatusUnauthorized},
		{name: "api key", header: "Bearer key-123", status: http.StatusOK},
		{name: "wrong api key", header: "Bearer key-456", status: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var headers []string
			if tc.header != "" {
				headers = []string{"Authorization", tc.header}
			}
			w := do(t, s, http.MethodGet, base+"/agent-graphs", "", headers...)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
		})
	}

	w := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewAuthenticatorRequiresCredentials(t *testing.T) {
	_, err := NewAuthenticator(config.New())
	assert.Error(t, err)

	cfg := config.New()
	cfg.Set("auth.api_keys", "t1-without-hash")
	_, err = NewAuthenticator(cfg)
	assert.Error(t, err)
}

func TestRequestIDAndBodyLimit(t *testing.T) {
	s := newTestServer(t, map[string]string{"server.max_body_bytes": "64"})

	w := do(t, s, http.MethodPost, base+"/agent-graphs/full", g1Body, "X-Request-ID", "req-42")
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "req-42", decodeProblem(t, w)["requestId"])

	w = do(t, s, http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRecoveryHidesInternals(t *testing.T) {
	cfg := config.New()
	cfg.Set("auth.disabled", "true")
	e, err := NewEngine(cfg, storetest.Open(t), nil, logger.Discard())
	require.NoError(t, err)
	m := NewMiddleware(e)

	h := m.RequestIDMiddleware(m.RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("connection string postgres://secret")
	})))
	w := do(t, h, http.MethodGet, "/boom", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	p := decodeProblem(t, w)
	assert.Equal(t, "An unexpected error occurred", p["detail"])
	assert.NotContains(t, w.Body.String(), "secret")
}
