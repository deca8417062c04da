// Package app wires the configured components into one HTTP server: the MCP
// service, the operational endpoints and the shared metrics registry.
package app

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	jsoniter "github.com/json-iterator/go"
	mcpgo "github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/jpetrucciani/loki-mcp/modules/audit"
	"github.com/jpetrucciani/loki-mcp/modules/dispatcher"
	"github.com/jpetrucciani/loki-mcp/modules/mcpserver"
	"github.com/jpetrucciani/loki-mcp/modules/querycache"
	"github.com/jpetrucciani/loki-mcp/modules/ratelimit"
	"github.com/jpetrucciani/loki-mcp/pkg/lokiclient"
	"github.com/jpetrucciani/loki-mcp/pkg/metrics"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// App is the assembled server.
type App struct {
	cfg    Config
	logger log.Logger

	lokiClient *lokiclient.Client
	metrics    *metrics.Registry
	auditStore *audit.Store
	streamable *mcpgo.StreamableHTTPServer

	requestCounter atomic.Int64

	readinessMtx sync.Mutex
	readiness    *cachedReadiness

	httpServer *http.Server
}

// New validates the config and assembles every component.
func New(cfg Config, version string, logger log.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}

	lokiClient, err := lokiclient.New(cfg.Loki)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create loki client")
	}

	reg := metrics.New(cfg.Metrics.Prefix)
	cache := querycache.New(cfg.Cache)
	limiter := ratelimit.New(cfg.RateLimit)
	auditStore := audit.New(cfg.RecentActions)

	disp, err := dispatcher.New(dispatcher.Config{
		Timezone:           cfg.Server.Timezone,
		Labels:             cfg.Labels,
		StructuredMetadata: cfg.StructuredMetadata,
		SavedQueries:       cfg.SavedQueries,
		Guardrails:         cfg.Guardrails,
	}, lokiClient, cache, reg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create tool dispatcher")
	}

	wrapper := mcpserver.New(disp, limiter, auditStore, reg,
		cfg.Server.IdentityHeader, cfg.Loki.TenantID, logger)

	streamable := mcpgo.NewStreamableHTTPServer(wrapper.MCPServer(version),
		mcpgo.WithHTTPContextFunc(mcpserver.ContextWithRequest),
		mcpgo.WithEndpointPath("/mcp"),
	)

	a := &App{
		cfg:        cfg,
		logger:     logger,
		lokiClient: lokiClient,
		metrics:    reg,
		auditStore: auditStore,
		streamable: streamable,
	}

	a.httpServer = &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      a.router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return a, nil
}

// Run serves until the listener fails or Shutdown is called.
func (a *App) Run() error {
	level.Info(a.logger).Log("msg", "loki-mcp server started", "listen", a.cfg.Server.Listen)

	err := a.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return errors.Wrap(err, "server exited unexpectedly")
}

// Shutdown drains in-flight requests.
func (a *App) Shutdown(ctx context.Context) error {
	return a.httpServer.Shutdown(ctx)
}
