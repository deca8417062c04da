package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/prometheus/common/expfmt"
)

const (
	readinessCacheTTL = 3 * time.Second
	requestIDHeader   = "x-request-id"

	recentActionsDefaultLimit = 100
	recentActionsMaxLimit     = 1000
)

// cachedReadiness holds one resolved readiness probe.
type cachedReadiness struct {
	observedAt time.Time
	status     int
	body       map[string]any
}

// router builds the full HTTP surface: operational endpoints plus the MCP
// service mounted at /mcp.
func (a *App) router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", a.healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.readyzHandler).Methods(http.MethodGet)
	r.HandleFunc("/metrics", a.metricsHandler).Methods(http.MethodGet)
	r.HandleFunc("/debug/recent-actions", a.recentActionsHandler).Methods(http.MethodGet)
	r.PathPrefix("/mcp").Handler(a.streamable)
	r.Use(a.requestContextMiddleware)
	return r
}

// requestContextMiddleware counts the request, assigns it a sequential id
// and reflects that id on both the request and the response.
func (a *App) requestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.metrics.IncHTTPRequests()

		requestID := fmt.Sprintf("req-%d", a.requestCounter.Inc())
		r.Header.Set(requestIDHeader, requestID)
		w.Header().Set(requestIDHeader, requestID)

		level.Debug(a.logger).Log("msg", "http request",
			"request_id", requestID, "method", r.Method, "path", r.URL.Path)

		next.ServeHTTP(w, r)
	})
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readyzHandler probes Loki, caching the outcome briefly so aggressive
// orchestrator polling does not hammer the backend.
func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if cached, ok := a.readCachedReadiness(); ok {
		a.metrics.IncReadinessCacheHit()
		writeJSON(w, cached.status, cached.body)
		return
	}
	a.metrics.IncReadinessCacheMiss()

	resolved := a.resolveReadiness(r)
	a.writeCachedReadiness(resolved)
	writeJSON(w, resolved.status, resolved.body)
}

func (a *App) resolveReadiness(r *http.Request) cachedReadiness {
	health, err := a.lokiClient.CheckHealth(r.Context())
	if err != nil {
		level.Warn(a.logger).Log("msg", "readiness check failed",
			"request_id", r.Header.Get(requestIDHeader), "err", err)
		return cachedReadiness{
			observedAt: time.Now(),
			status:     http.StatusServiceUnavailable,
			body:       map[string]any{"status": "not_ready", "message": err.Error()},
		}
	}

	if !health.Healthy {
		return cachedReadiness{
			observedAt: time.Now(),
			status:     http.StatusServiceUnavailable,
			body:       map[string]any{"status": "not_ready", "message": health.Message},
		}
	}

	return cachedReadiness{
		observedAt: time.Now(),
		status:     http.StatusOK,
		body:       map[string]any{"status": "ready"},
	}
}

func (a *App) readCachedReadiness() (cachedReadiness, bool) {
	a.readinessMtx.Lock()
	defer a.readinessMtx.Unlock()

	if a.readiness == nil || time.Since(a.readiness.observedAt) > readinessCacheTTL {
		return cachedReadiness{}, false
	}
	return *a.readiness, true
}

func (a *App) writeCachedReadiness(resolved cachedReadiness) {
	a.readinessMtx.Lock()
	defer a.readinessMtx.Unlock()
	a.readiness = &resolved
}

func (a *App) metricsHandler(w http.ResponseWriter, r *http.Request) {
	families, err := a.metrics.Gatherer().Gather()
	if err != nil {
		level.Warn(a.logger).Log("msg", "failed to render metrics",
			"request_id", r.Header.Get(requestIDHeader), "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to render metrics"})
		return
	}

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))
	encoder := expfmt.NewEncoder(w, format)
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			return
		}
	}
}

func (a *App) recentActionsHandler(w http.ResponseWriter, r *http.Request) {
	if a.auditStore == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "recent actions tracking is disabled"})
		return
	}

	limit := recentActionsDefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := parseLimit(raw); err == nil {
			limit = parsed
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > recentActionsMaxLimit {
		limit = recentActionsMaxLimit
	}

	actions := a.auditStore.List(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(actions),
		"actions": actions,
	})
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	raw, err := jsonAPI.Marshal(body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

func parseLimit(raw string) (int, error) {
	var value int
	if _, err := fmt.Sscanf(raw, "%d", &value); err != nil {
		return 0, err
	}
	return value, nil
}
