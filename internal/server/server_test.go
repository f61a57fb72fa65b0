package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/SoNiC-HeRE/Zeotap-Rule-Engine-Assignment/internal/config"
	"github.com/SoNiC-HeRE/Zeotap-Rule-Engine-Assignment/internal/engine"
	"github.com/SoNiC-HeRE/Zeotap-Rule-Engine-Assignment/internal/observability"
	"github.com/SoNiC-HeRE/Zeotap-Rule-Engine-Assignment/internal/server"
	"github.com/SoNiC-HeRE/Zeotap-Rule-Engine-Assignment/internal/storage"
)

const sampleRule = "((age > 30 AND department = 'Sales') OR (age < 25 AND department = 'Marketing')) AND (salary > 50000 OR experience > 5)"

func newTestServer(t *testing.T, mutate func(*config.Config)) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	e := engine.New(storage.NewMemoryStore(), engine.WithMetrics(observability.NoopMetrics{}))
	ts := httptest.NewServer(server.New(e, cfg).Handler())
	t.Cleanup(ts.Close)
	return ts
}

type response struct {
	Code   int
	Header http.Header
	Body   map[string]any
}

func do(t *testing.T, ts *httptest.Server, method, path, body string, headers ...string) response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := response{Code: resp.StatusCode, Header: resp.Header}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out.Body), "body: %s", raw)
	}
	return out
}

func createRule(t *testing.T, ts *httptest.Server, rule string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"rule_string": rule})
	resp := do(t, ts, http.MethodPost, "/api/rules", string(body))
	require.Equal(t, http.StatusCreated, resp.Code, "%v", resp.Body)
	return resp.Body["id"].(string)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := do(t, ts, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ok", resp.Body["status"])
}

func TestCreateRule(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := do(t, ts, http.MethodPost, "/api/rules", `{"rule_string":"age > 30 AND dept = 'Sales'","name":"seniors"}`)
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "success", resp.Body["status"])
	assert.NotEmpty(t, resp.Body["id"])
	assert.Equal(t, "seniors", resp.Body["name"])
	assert.Equal(t, "age > 30 AND dept = 'Sales'", resp.Body["rule_string"])

	ast := resp.Body["ast"].(map[string]any)
	assert.Equal(t, "logical", ast["type"])
	assert.Equal(t, "AND", ast["operator"])
	assert.NotEmpty(t, resp.Body["created_at"])
}

func TestCreateRuleAlias(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := do(t, ts, http.MethodPost, "/create_rule", `{"rule_string":"a = 1"}`)
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "comparison", resp.Body["ast"].(map[string]any)["type"])

	resp = do(t, ts, http.MethodGet, "/create_rule", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.Code)
	assert.Equal(t, "Method not allowed", resp.Body["message"])
}

func TestCreateRuleCompileError(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := do(t, ts, http.MethodPost, "/api/rules", `{"rule_string":"age >"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "error", resp.Body["status"])
	assert.Contains(t, resp.Body["message"], "position 5")
	assert.Equal(t, float64(5), resp.Body["position"])

	list := do(t, ts, http.MethodGet, "/api/rules", "")
	assert.Empty(t, list.Body["rules"])
}

func TestRequestValidation(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Server.MaxBodyBytes = 64 })

	tests := []struct {
		name    string
		path    string
		body    string
		ctype   string
		code    int
		message string
	}{
		{"not json", "/api/rules", `rule_string=a`, "application/x-www-form-urlencoded", http.StatusBadRequest, "Request must be JSON"},
		{"missing field", "/api/rules", `{"name":"x"}`, "application/json", http.StatusBadRequest, "Missing required fields: rule_string"},
		{"missing both", "/api/evaluate", `{}`, "application/json", http.StatusBadRequest, "Missing required fields: ast, data"},
		{"invalid json", "/api/rules", `{"rule_string":`, "application/json", http.StatusBadRequest, "Invalid JSON"},
		{"array body", "/api/rules", `["a = 1"]`, "application/json", http.StatusBadRequest, "must be a JSON object"},
		{"wrong type", "/api/rules", `{"rule_string":42}`, "application/json", http.StatusBadRequest, "rule_string must be a string"},
		{"too large", "/api/rules", `{"rule_string":"` + strings.Repeat("a", 100) + `"}`, "application/json", http.StatusRequestEntityTooLarge, "exceeds 64 bytes"},
		{"json charset", "/api/compile", `{"rule_string":"a = 1"}`, "application/json; charset=utf-8", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, ts, http.MethodPost, tt.path, tt.body, "Content-Type", tt.ctype)
			assert.Equal(t, tt.code, resp.Code, "%v", resp.Body)
			if tt.message != "" {
				assert.Contains(t, resp.Body["message"], tt.message)
			}
		})
	}
}

func TestRuleLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	first := createRule(t, ts, "a = 1")
	second := createRule(t, ts, "b = 2")

	list := do(t, ts, http.MethodGet, "/api/rules", "")
	require.Equal(t, http.StatusOK, list.Code)
	rules := list.Body["rules"].([]any)
	require.Len(t, rules, 2)
	assert.Equal(t, second, rules[0].(map[string]any)["id"], "newest first")

	got := do(t, ts, http.MethodGet, "/api/rules/"+first, "")
	require.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, "a = 1", got.Body["rule_string"])

	del := do(t, ts, http.MethodDelete, "/api/rules/"+first, "")
	assert.Equal(t, http.StatusOK, del.Code)

	missing := do(t, ts, http.MethodGet, "/api/rules/"+first, "")
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, "Rule not found", missing.Body["message"])

	assert.Equal(t, http.StatusNotFound, do(t, ts, http.MethodDelete, "/api/rules/"+first, "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, ts, http.MethodPut, "/api/rules/"+second, `{}`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, ts, http.MethodDelete, "/api/rules", "").Code)
}

func TestEvaluateStoredRule(t *testing.T) {
	ts := newTestServer(t, nil)
	id := createRule(t, ts, sampleRule)

	resp := do(t, ts, http.MethodPost, "/api/rules/"+id+"/evaluate",
		`{"data":{"age":35,"department":"Sales","salary":60000,"experience":3}}`)
	require.Equal(t, http.StatusOK, resp.Code, "%v", resp.Body)
	assert.Equal(t, true, resp.Body["result"])
	assert.Equal(t, id, resp.Body["id"])

	resp = do(t, ts, http.MethodPost, "/api/rules/"+id+"/evaluate",
		`{"data":{"age":22,"department":"Sales","salary":60000,"experience":3}}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, false, resp.Body["result"])

	resp = do(t, ts, http.MethodPost, "/api/rules/missing/evaluate", `{"data":{}}`)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = do(t, ts, http.MethodGet, "/api/rules/"+id+"/evaluate", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.Code)

	resp = do(t, ts, http.MethodPost, "/api/rules/"+id+"/other", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestEvaluateExplain(t *testing.T) {
	ts := newTestServer(t, nil)
	id := createRule(t, ts, "a = 1 AND b = 2")

	resp := do(t, ts, http.MethodPost, "/api/rules/"+id+"/evaluate", `{"data":{"a":0},"explain":true}`)
	require.Equal(t, http.StatusOK, resp.Code, "%v", resp.Body)
	assert.Equal(t, false, resp.Body["result"])

	trace := resp.Body["trace"].(map[string]any)
	assert.Equal(t, "a = 1 AND b = 2", trace["expr"])
	children := trace["children"].([]any)
	require.Len(t, children, 2)
	assert.Equal(t, true, children[1].(map[string]any)["skipped"])

	resp = do(t, ts, http.MethodPost, "/api/rules/"+id+"/evaluate", `{"data":{"a":0},"explain":"yes"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestEvaluateAST(t *testing.T) {
	ts := newTestServer(t, nil)
	ast := `{"type":"logical","operator":"OR",` +
		`"left":{"type":"comparison","field":"a","operator":"=","value":1},` +
		`"right":{"type":"comparison","field":"b","operator":">","value":10}}`

	resp := do(t, ts, http.MethodPost, "/api/evaluate", `{"ast":`+ast+`,"data":{"a":2,"b":11}}`)
	require.Equal(t, http.StatusOK, resp.Code, "%v", resp.Body)
	assert.Equal(t, true, resp.Body["result"])

	quoted, _ := json.Marshal(ast)
	resp = do(t, ts, http.MethodPost, "/evaluate_rule", `{"ast":`+string(quoted)+`,"data":{"a":1}}`)
	require.Equal(t, http.StatusOK, resp.Code, "%v", resp.Body)
	assert.Equal(t, true, resp.Body["result"])
}

func TestEvaluateASTErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	cmp := `{"type":"comparison","field":"age","operator":">","value":18}`

	tests := []struct {
		name  string
		body  string
		code  int
		key   string
		value any
	}{
		{"unknown field", `{"ast":` + cmp + `,"data":{}}`, http.StatusUnprocessableEntity, "field", "age"},
		{"type mismatch", `{"ast":` + cmp + `,"data":{"age":"abc"}}`, http.StatusUnprocessableEntity, "kind", "type mismatch"},
		{"bad operator", `{"ast":{"type":"comparison","field":"age","operator":"~","value":1},"data":{}}`, http.StatusBadRequest, "path", "$.operator"},
		{"bad node", `{"ast":{"type":"logical","operator":"AND","left":` + cmp + `},"data":{}}`, http.StatusBadRequest, "path", "$.right"},
		{"data not object", `{"ast":` + cmp + `,"data":[1]}`, http.StatusBadRequest, "", nil},
		{"nested data", `{"ast":` + cmp + `,"data":{"age":{"v":1}}}`, http.StatusBadRequest, "", nil},
		{"ast string not json", `{"ast":"age > 18","data":{}}`, http.StatusBadRequest, "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, ts, http.MethodPost, "/api/evaluate", tt.body)
			assert.Equal(t, tt.code, resp.Code, "%v", resp.Body)
			assert.Equal(t, "error", resp.Body["status"])
			if tt.key != "" {
				assert.Equal(t, tt.value, resp.Body[tt.key])
			}
		})
	}
}

func TestCompile(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := do(t, ts, http.MethodPost, "/api/compile", `{"rule_string":"b = 1 AND a > 2"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "logical", resp.Body["ast"].(map[string]any)["type"])
	assert.Equal(t, []any{"a", "b"}, resp.Body["fields"])
	assert.Equal(t, float64(2), resp.Body["depth"])

	list := do(t, ts, http.MethodGet, "/api/rules", "")
	assert.Empty(t, list.Body["rules"], "compile must not store")

	resp = do(t, ts, http.MethodPost, "/api/compile", `{"rule_string":"(a = 1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "", resp.Body["token"])
}

func TestStats(t *testing.T) {
	ts := newTestServer(t, nil)
	id := createRule(t, ts, "a = 1")
	do(t, ts, http.MethodPost, "/api/rules/"+id+"/evaluate", `{"data":{"a":1}}`)

	resp := do(t, ts, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, resp.Code)
	stats := resp.Body["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["rules_created"])
	assert.Equal(t, float64(1), stats["evaluations"])
	assert.Equal(t, float64(1), stats["true_verdicts"])
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := do(t, ts, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "Resource not found", resp.Body["message"])
}

func TestRequestID(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := do(t, ts, http.MethodGet, "/healthz", "", server.RequestIDHeader, "req-123")
	assert.Equal(t, "req-123", resp.Header.Get(server.RequestIDHeader))

	resp = do(t, ts, http.MethodGet, "/healthz", "")
	assert.Len(t, resp.Header.Get(server.RequestIDHeader), 36)
}

func TestAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	ts := newTestServer(t, func(c *config.Config) { c.Auth.TokenHash = string(hash) })

	resp := do(t, ts, http.MethodGet, "/api/rules", "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "error", resp.Body["status"])
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))

	resp = do(t, ts, http.MethodGet, "/api/rules", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	for i := 0; i < 2; i++ {
		resp = do(t, ts, http.MethodGet, "/api/rules", "", "Authorization", "Bearer s3cret")
		assert.Equal(t, http.StatusOK, resp.Code)
	}

	resp = do(t, ts, http.MethodPost, "/create_rule", `{"rule_string":"a = 1"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.Code, "alias routes are protected")

	resp = do(t, ts, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestServeAndShutdown(t *testing.T) {
	cfg := config.Default()
	e := engine.New(storage.NewMemoryStore(), engine.WithMetrics(observability.NoopMetrics{}))
	srv := server.New(e, cfg)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	url := "http://" + ln.Addr().String() + "/api/compile"
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(`{"rule_string":"a = 1"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.NoError(t, <-done)
}
