// Package mcpserver exposes the tool dispatcher over the Model Context
// Protocol. Every call is wrapped with identity resolution, rate limiting,
// metrics and audit recording before it reaches the dispatcher.
package mcpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"

	"github.com/jpetrucciani/loki-mcp/modules/audit"
	"github.com/jpetrucciani/loki-mcp/modules/dispatcher"
	"github.com/jpetrucciani/loki-mcp/modules/ratelimit"
	"github.com/jpetrucciani/loki-mcp/pkg/metrics"
)

const (
	serverName   = "loki-mcp"
	instructions = "Query Grafana Loki. Start with loki_describe_schema, then use query tools."

	requestIDHeader    = "x-request-id"
	forwardedForHeader = "x-forwarded-for"
)

type contextKey int

const (
	headersContextKey contextKey = iota
	remoteAddrContextKey
)

// ContextWithRequest carries the HTTP request headers and peer address into
// the tool call context. Wired as the streamable server's context func.
func ContextWithRequest(ctx context.Context, r *http.Request) context.Context {
	ctx = context.WithValue(ctx, headersContextKey, r.Header)
	return context.WithValue(ctx, remoteAddrContextKey, r.RemoteAddr)
}

// Server wraps the dispatcher with the MCP call protocol.
type Server struct {
	dispatcher     *dispatcher.Dispatcher
	limiter        *ratelimit.Limiter
	auditStore     *audit.Store
	metrics        *metrics.Registry
	identityHeader string
	tenantID       string
	logger         log.Logger

	tools []mcp.Tool
	names map[string]struct{}

	now func() time.Time
}

// New builds the MCP wrapper. limiter, auditStore and reg may be nil.
func New(d *dispatcher.Dispatcher, limiter *ratelimit.Limiter, auditStore *audit.Store, reg *metrics.Registry, identityHeader, tenantID string, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	tools := buildTools()
	names := make(map[string]struct{}, len(tools))
	for _, tool := range tools {
		names[tool.Name] = struct{}{}
	}

	return &Server{
		dispatcher:     d,
		limiter:        limiter,
		auditStore:     auditStore,
		metrics:        reg,
		identityHeader: identityHeader,
		tenantID:       tenantID,
		logger:         logger,
		tools:          tools,
		names:          names,
		now:            time.Now,
	}
}

// Tools returns the advertised tool definitions.
func (s *Server) Tools() []mcp.Tool {
	return s.tools
}

// MCPServer builds the protocol server with every tool registered.
func (s *Server) MCPServer(version string) *server.MCPServer {
	srv := server.NewMCPServer(serverName, version,
		server.WithToolCapabilities(true),
		server.WithInstructions(instructions),
		server.WithRecovery(),
	)

	for _, tool := range s.tools {
		name := tool.Name
		srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return s.CallTool(ctx, name, req.GetArguments())
		})
	}

	return srv
}

// CallTool runs one wrapped tool call. The error return is reserved for
// protocol-level failures such as an unknown tool; tool failures come back
// as an error result payload.
func (s *Server) CallTool(ctx context.Context, tool string, args map[string]any) (*mcp.CallToolResult, error) {
	started := s.now()
	identity := s.resolveIdentity(ctx)
	identityHash := hashString(identity)
	requestID := headerFromContext(ctx, requestIDHeader)
	queryText := extractQueryText(args)

	if _, ok := s.names[tool]; !ok {
		s.metrics.IncToolCall(tool, "invalid_tool")
		s.recordAction(audit.Input{
			RequestID:    requestID,
			Tool:         tool,
			Outcome:      audit.OutcomeInvalidTool,
			DurationMs:   s.elapsedMillis(started),
			IdentityHash: identityHash,
			TenantID:     s.tenantID,
			Query:        queryText,
			ErrorClass:   "invalid_tool",
			Error:        "unknown tool: " + tool,
		})
		return nil, errors.Errorf("unknown tool: %s", tool)
	}

	if err := s.limiter.Check(tool, identity, s.tenantID); err != nil {
		s.metrics.IncToolRateLimited(tool)
		s.metrics.IncToolCall(tool, "rate_limited")
		s.recordAction(audit.Input{
			RequestID:    requestID,
			Tool:         tool,
			Outcome:      audit.OutcomeRateLimited,
			DurationMs:   s.elapsedMillis(started),
			IdentityHash: identityHash,
			TenantID:     s.tenantID,
			Query:        queryText,
			ErrorClass:   "rate_limited",
			Error:        err.Error(),
		})
		return errorResult(map[string]any{
			"error":    err.Error(),
			"tool":     tool,
			"identity": identity,
		}), nil
	}

	result, err := s.dispatcher.Call(ctx, tool, args)
	if err != nil {
		message := err.Error()
		outcome, errorClass := classifyError(message)
		s.metrics.IncToolCall(tool, "error")
		s.recordAction(audit.Input{
			RequestID:    requestID,
			Tool:         tool,
			Outcome:      outcome,
			DurationMs:   s.elapsedMillis(started),
			IdentityHash: identityHash,
			TenantID:     s.tenantID,
			Query:        queryText,
			ErrorClass:   errorClass,
			Error:        message,
		})
		level.Debug(s.logger).Log("msg", "tool call failed", "tool", tool, "err", message)
		return errorResult(map[string]any{
			"error": message,
			"tool":  tool,
		}), nil
	}

	s.metrics.IncToolCall(tool, "success")
	s.recordAction(audit.Input{
		RequestID:    requestID,
		Tool:         tool,
		Outcome:      audit.OutcomeSuccess,
		DurationMs:   s.elapsedMillis(started),
		IdentityHash: identityHash,
		TenantID:     s.tenantID,
		Query:        queryText,
	})

	return structuredResult(result)
}

// resolveIdentity picks the caller identity: configured header first, then
// the first x-forwarded-for hop, then the peer address.
func (s *Server) resolveIdentity(ctx context.Context) string {
	if s.identityHeader != "" {
		if identity := headerFromContext(ctx, s.identityHeader); identity != "" {
			return identity
		}
	}

	if forwarded := headerFromContext(ctx, forwardedForHeader); forwarded != "" {
		firstHop := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if firstHop != "" {
			return firstHop
		}
	}

	if remoteAddr, ok := ctx.Value(remoteAddrContextKey).(string); ok && remoteAddr != "" {
		if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
			return host
		}
		return remoteAddr
	}

	return "unknown"
}

func (s *Server) recordAction(input audit.Input) {
	s.auditStore.Record(input)
}

func (s *Server) elapsedMillis(started time.Time) int64 {
	return s.now().Sub(started).Milliseconds()
}

func headerFromContext(ctx context.Context, name string) string {
	headers, ok := ctx.Value(headersContextKey).(http.Header)
	if !ok {
		return ""
	}
	return strings.TrimSpace(headers.Get(name))
}

// hashString anonymizes identities before they reach the audit log.
func hashString(value string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(value))
}

func extractQueryText(args map[string]any) string {
	if args == nil {
		return ""
	}
	if query, ok := args["query"].(string); ok {
		return query
	}
	return ""
}

func classifyError(message string) (audit.Outcome, string) {
	if strings.Contains(strings.ToLower(message), "guardrail") {
		return audit.OutcomeGuardrailReject, "guardrail"
	}
	return audit.OutcomeError, "tool_error"
}

func structuredResult(payload map[string]any) (*mcp.CallToolResult, error) {
	raw, err := jsonAPI.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize tool result")
	}
	return mcp.NewToolResultText(string(raw)), nil
}

func errorResult(payload map[string]any) *mcp.CallToolResult {
	raw, err := jsonAPI.Marshal(payload)
	if err != nil {
		return mcp.NewToolResultError(`{"error":"failed to serialize error payload"}`)
	}
	return mcp.NewToolResultError(string(raw))
}
