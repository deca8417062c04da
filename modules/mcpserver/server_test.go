package mcpserver

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpetrucciani/loki-mcp/modules/audit"
	"github.com/jpetrucciani/loki-mcp/modules/dispatcher"
	"github.com/jpetrucciani/loki-mcp/modules/guardrails"
	"github.com/jpetrucciani/loki-mcp/modules/ratelimit"
	"github.com/jpetrucciani/loki-mcp/pkg/lokiclient"
	"github.com/jpetrucciani/loki-mcp/pkg/metrics"
)

func newTestServer(t *testing.T, limiter *ratelimit.Limiter, store *audit.Store, reg *metrics.Registry, identityHeader string) *Server {
	client, err := lokiclient.New(lokiclient.Config{
		URL:      "http://127.0.0.1:3100",
		AuthType: lokiclient.AuthTypeNone,
		Timeout:  time.Second,
	})
	require.NoError(t, err)

	d, err := dispatcher.New(dispatcher.Config{
		Timezone:   "UTC",
		Guardrails: guardrails.Config{MaxBytesScanned: "0"},
		Labels:     []dispatcher.SchemaField{{Name: "app"}},
	}, client, nil, reg)
	require.NoError(t, err)

	return New(d, limiter, store, reg, identityHeader, "", nil)
}

func requestContext(headers map[string]string, remoteAddr string) context.Context {
	header := http.Header{}
	for k, v := range headers {
		header.Set(k, v)
	}
	req := &http.Request{Header: header, RemoteAddr: remoteAddr}
	return ContextWithRequest(context.Background(), req)
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestBuildToolsSurface(t *testing.T) {
	tools := buildTools()
	require.Len(t, tools, 15)

	seen := map[string]struct{}{}
	for _, tool := range tools {
		assert.True(t, strings.HasPrefix(tool.Name, "loki_"), tool.Name)
		assert.NotEmpty(t, tool.Description, tool.Name)

		_, dup := seen[tool.Name]
		assert.False(t, dup, tool.Name)
		seen[tool.Name] = struct{}{}

		require.NotNil(t, tool.Annotations.ReadOnlyHint, tool.Name)
		assert.True(t, *tool.Annotations.ReadOnlyHint, tool.Name)
		require.NotNil(t, tool.Annotations.IdempotentHint, tool.Name)
		assert.True(t, *tool.Annotations.IdempotentHint, tool.Name)
	}
}

func TestCallToolSuccess(t *testing.T) {
	reg := metrics.New("loki_mcp")
	store := audit.New(audit.Config{Enabled: true, MaxEntries: 10, TTL: time.Hour})
	s := newTestServer(t, nil, store, reg, "")

	result, err := s.CallTool(context.Background(), dispatcher.ToolDescribeSchema, nil)
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), `"labels"`)

	actions := store.List(10)
	require.Len(t, actions, 1)
	assert.Equal(t, audit.OutcomeSuccess, actions[0].Outcome)
	assert.Equal(t, dispatcher.ToolDescribeSchema, actions[0].Tool)
	assert.Regexp(t, `^[0-9a-f]{16}$`, actions[0].IdentityHash)
}

func TestCallToolUnknownTool(t *testing.T) {
	reg := metrics.New("loki_mcp")
	store := audit.New(audit.Config{Enabled: true, MaxEntries: 10, TTL: time.Hour})
	s := newTestServer(t, nil, store, reg, "")

	_, err := s.CallTool(context.Background(), "loki_bogus", map[string]any{"query": "{}"})
	require.Error(t, err)
	assert.EqualError(t, err, "unknown tool: loki_bogus")

	actions := store.List(10)
	require.Len(t, actions, 1)
	assert.Equal(t, audit.OutcomeInvalidTool, actions[0].Outcome)
	assert.Equal(t, "invalid_tool", actions[0].ErrorClass)
}

func TestCallToolRateLimited(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{Enabled: true, RPS: 1, Burst: 1})
	store := audit.New(audit.Config{Enabled: true, MaxEntries: 10, TTL: time.Hour})
	s := newTestServer(t, limiter, store, nil, "x-user")
	ctx := requestContext(map[string]string{"x-user": "alice"}, "")

	first, err := s.CallTool(ctx, dispatcher.ToolDescribeSchema, nil)
	require.NoError(t, err)
	assert.False(t, first.IsError)

	second, err := s.CallTool(ctx, dispatcher.ToolDescribeSchema, nil)
	require.NoError(t, err)
	assert.True(t, second.IsError)
	text := resultText(t, second)
	assert.Contains(t, text, "rate limit exceeded")
	assert.Contains(t, text, `"identity":"alice"`)

	actions := store.List(10)
	require.Len(t, actions, 2)
	assert.Equal(t, audit.OutcomeRateLimited, actions[0].Outcome)
}

func TestCallToolErrorResult(t *testing.T) {
	reg := metrics.New("loki_mcp")
	store := audit.New(audit.Config{Enabled: true, MaxEntries: 10, TTL: time.Hour, StoreErrorText: true})
	s := newTestServer(t, nil, store, reg, "")

	// Unresolvable range fails inside the dispatcher, which must surface as
	// an error result rather than a protocol error.
	result, err := s.CallTool(context.Background(), dispatcher.ToolQueryLogs, map[string]any{
		"query": `{app="api"}`,
		"start": "not-a-time",
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), `"tool":"loki_query_logs"`)

	actions := store.List(10)
	require.Len(t, actions, 1)
	assert.Equal(t, audit.OutcomeError, actions[0].Outcome)
	assert.Equal(t, "tool_error", actions[0].ErrorClass)
	assert.True(t, actions[0].QueryRedacted)
	assert.Empty(t, actions[0].Query)
}

func TestResolveIdentity(t *testing.T) {
	s := newTestServer(t, nil, nil, nil, "x-user")

	tests := []struct {
		name     string
		ctx      context.Context
		expected string
	}{
		{
			name:     "configured header wins",
			ctx:      requestContext(map[string]string{"x-user": "alice", "x-forwarded-for": "10.0.0.1"}, "10.9.9.9:1234"),
			expected: "alice",
		},
		{
			name:     "forwarded-for first hop",
			ctx:      requestContext(map[string]string{"x-forwarded-for": " 10.0.0.1 , 10.0.0.2"}, "10.9.9.9:1234"),
			expected: "10.0.0.1",
		},
		{
			name:     "peer address fallback",
			ctx:      requestContext(nil, "10.9.9.9:1234"),
			expected: "10.9.9.9",
		},
		{
			name:     "no request context",
			ctx:      context.Background(),
			expected: "unknown",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, s.resolveIdentity(tc.ctx))
		})
	}
}

func TestForwardedIdentityIsHashedIntoAudit(t *testing.T) {
	store := audit.New(audit.Config{Enabled: true, MaxEntries: 10, TTL: time.Hour})
	s := newTestServer(t, nil, store, nil, "")
	ctx := requestContext(map[string]string{"x-forwarded-for": "10.0.0.5, 10.0.0.6"}, "10.9.9.9:1234")

	_, err := s.CallTool(ctx, dispatcher.ToolDescribeSchema, nil)
	require.NoError(t, err)

	actions := store.List(1)
	require.Len(t, actions, 1)
	assert.Equal(t, hashString("10.0.0.5"), actions[0].IdentityHash)
}

func TestClassifyError(t *testing.T) {
	outcome, class := classifyError("query rejected by guardrail: too expensive")
	assert.Equal(t, audit.OutcomeGuardrailReject, outcome)
	assert.Equal(t, "guardrail", class)

	outcome, class = classifyError("connection refused")
	assert.Equal(t, audit.OutcomeError, outcome)
	assert.Equal(t, "tool_error", class)
}

func TestMCPServerRegistersTools(t *testing.T) {
	s := newTestServer(t, nil, nil, nil, "")
	srv := s.MCPServer("1.0.0")
	require.NotNil(t, srv)
}
