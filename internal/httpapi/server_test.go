package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.router/internal/enhance"
	"dev.helix.router/internal/jsonrpc"
	"dev.helix.router/internal/promptcache"
	"dev.helix.router/internal/registry"
	"dev.helix.router/internal/sse"
	"dev.helix.router/internal/transport"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeBackend struct {
	resp *jsonrpc.Response
}

func (f *fakeBackend) Call(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	return f.resp, nil
}
func (f *fakeBackend) Status() transport.Status { return transport.Status{Name: "fake", Healthy: true} }
func (f *fakeBackend) Close() error             { return nil }

func newTestServer(t *testing.T) (*Server, *registry.Registry) {
	t.Helper()
	reg := registry.New(map[string]registry.ServerConfig{
		"echo": {Transport: "http", URL: "http://example.invalid"},
	}, nil, nil)
	reg.RegisterBackend("echo", &fakeBackend{resp: jsonrpc.NewResult(1, map[string]string{"ok": "yes"})})

	cache := promptcache.New(promptcache.DefaultConfig(), nil, nil)
	rules := &enhance.RuleSet{Default: enhance.Rule{Enabled: true, Model: "llama3"}}
	enhancer := enhance.New("http://example.invalid", rules, cache, nil)

	sessions := sse.NewManager(nil)

	return New(reg, enhancer, sessions, nil), reg
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMCPCallEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, _ := json.Marshal(jsonrpc.NewRequest("tools/list", nil, 1))
	resp, err := http.Post(srv.URL+"/mcp/echo", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var rpcResp jsonrpc.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	assert.False(t, rpcResp.IsError())
}

func TestMCPCallUnknownServer(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, _ := json.Marshal(jsonrpc.NewRequest("tools/list", nil, 1))
	resp, err := http.Post(srv.URL+"/mcp/missing", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var rpcResp jsonrpc.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	assert.True(t, rpcResp.IsError())
	assert.Equal(t, jsonrpc.InvalidRequest, rpcResp.Error.Code)
}

func TestEnhanceEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, _ := json.Marshal(enhanceRequest{Prompt: "hello"})
	resp, err := http.Post(srv.URL+"/ollama/enhance", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSSEConnectAndDisconnect(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	sessionID := resp.Header.Get("X-Session-Id")
	require.NotEmpty(t, sessionID)

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "event: endpoint"))

	cancel() // stop reading the stream before the keepalive fires

	delResp, err := http.NewRequest(http.MethodDelete, srv.URL+"/sse/"+sessionID, nil)
	require.NoError(t, err)
	out, err := http.DefaultClient.Do(delResp)
	require.NoError(t, err)
	defer out.Body.Close()
}

func TestSSESessionsListing(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sse/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
