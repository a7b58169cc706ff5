package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/kakehashi/internal/audit"
	"github.com/harunnryd/kakehashi/internal/auth"
	"github.com/harunnryd/kakehashi/internal/bridge"
	"github.com/harunnryd/kakehashi/internal/command"
	"github.com/harunnryd/kakehashi/internal/executor"
	"github.com/harunnryd/kakehashi/internal/guard"
	"github.com/harunnryd/kakehashi/internal/ratelimit"
	"github.com/harunnryd/kakehashi/internal/redact"
	"github.com/harunnryd/kakehashi/internal/store"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewSQLite(filepath.Join(dir, "bridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	rec, err := audit.New(s, "")
	require.NoError(t, err)
	a := auth.New(s, 3*time.Hour)
	limiter := ratelimit.New(s, ratelimit.Windows(10, 100, 500))
	g := guard.New(s, rec, guard.Options{
		ConfirmPhrase: "I UNDERSTAND THE RISKS",
		StageTTL:      10 * time.Minute,
		TokenTTL:      5 * time.Minute,
		StateDir:      filepath.Join(dir, "guard"),
	})
	v, err := command.New(nil)
	require.NoError(t, err)
	exec := executor.New(s, rec, g, v, redact.New(), nil, executor.Options{
		DefaultTimeout: 30 * time.Second,
		MaxOutputBytes: 64 * 1024,
	})
	b := bridge.New(s, a, limiter, redact.New(), rec, g, exec, bridge.Options{
		MaxMessageBytes: 50000,
		MaxFiles:        20,
		AliveWithin:     120 * time.Second,
	})

	srv := httptest.NewServer(NewHandler(b).Router())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path string, body map[string]any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func registerPair(t *testing.T, srv *httptest.Server) (convID, secretA, secretB string) {
	t.Helper()
	resp, body := post(t, srv, "/v1/register", map[string]any{
		"role_a": "planner",
		"role_b": "reviewer",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body["conversation_id"].(string), body["secret_a"].(string), body["secret_b"].(string)
}

func TestHealth(t *testing.T) {
	srv := newServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRegisterAndMessageFlow(t *testing.T) {
	srv := newServer(t)
	convID, secretA, secretB := registerPair(t, srv)

	resp, body := post(t, srv, "/v1/messages", map[string]any{
		"conversation_id": convID,
		"side":            "a",
		"secret":          secretA,
		"body":            "ready when you are",
		"category":        "status",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.EqualValues(t, 0, body["redactions"])

	resp, body = post(t, srv, "/v1/messages/poll", map[string]any{
		"conversation_id": convID,
		"side":            "b",
		"secret":          secretB,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 1)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "ready when you are", first["body"])
	assert.Equal(t, "a", first["from"])
}

func TestErrorMapping(t *testing.T) {
	srv := newServer(t)
	convID, secretA, _ := registerPair(t, srv)

	cases := []struct {
		name   string
		path   string
		body   map[string]any
		status int
		kind   string
	}{
		{
			name: "bad secret",
			path: "/v1/messages/poll",
			body: map[string]any{
				"conversation_id": convID, "side": "a",
				"secret": "not-the-secret",
			},
			status: http.StatusUnauthorized,
			kind:   "auth",
		},
		{
			name: "bad category",
			path: "/v1/messages",
			body: map[string]any{
				"conversation_id": convID, "side": "a", "secret": secretA,
				"body": "x", "category": "result",
			},
			status: http.StatusBadRequest,
			kind:   "invalid_input",
		},
		{
			name: "guard disabled by default",
			path: "/v1/guard/enable",
			body: map[string]any{
				"conversation_id": convID, "side": "a", "secret": secretA,
				"mode": "safe", "workspace": "/tmp",
			},
			status: http.StatusForbidden,
			kind:   "guard_state",
		},
		{
			name: "execute without guard",
			path: "/v1/execute",
			body: map[string]any{
				"conversation_id": convID, "side": "a", "secret": secretA,
				"token": "tok", "command": "ls",
			},
			status: http.StatusForbidden,
			kind:   "guard_state",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := post(t, srv, tc.path, tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
			errObj := body["error"].(map[string]any)
			assert.Equal(t, tc.kind, errObj["kind"])
		})
	}
}

func TestStrictDecoding(t *testing.T) {
	srv := newServer(t)

	resp, body := post(t, srv, "/v1/register", map[string]any{
		"role_a":     "planner",
		"role_b":     "reviewer",
		"unexpected": true,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "invalid_input", errObj["kind"])
}

func TestGuardStatusEndpoint(t *testing.T) {
	srv := newServer(t)
	convID, secretA, _ := registerPair(t, srv)

	resp, body := post(t, srv, "/v1/guard/status", map[string]any{
		"conversation_id": convID, "side": "a", "secret": secretA,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "disabled", body["stage"])
}
