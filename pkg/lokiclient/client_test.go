package lokiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(url string) Config {
	return Config{
		URL:      url,
		AuthType: AuthTypeNone,
		Timeout:  5 * time.Second,
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(testConfig(server.URL))
	require.NoError(t, err)
	return client, server
}

func writeJSON(t *testing.T, w http.ResponseWriter, value any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(value))
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig("http://loki:3100")
	require.NoError(t, cfg.Validate())

	cfg.AuthType = AuthTypeBasic
	require.ErrorContains(t, cfg.Validate(), "loki.username is required")
	cfg.Username = "user"
	require.ErrorContains(t, cfg.Validate(), "loki.password is required")
	cfg.Password = "pass"
	require.NoError(t, cfg.Validate())

	cfg = testConfig("http://loki:3100")
	cfg.AuthType = AuthTypeBearer
	require.ErrorContains(t, cfg.Validate(), "loki.token is required")
	cfg.Token = "tok"
	require.NoError(t, cfg.Validate())

	cfg.AuthType = "digest"
	require.ErrorContains(t, cfg.Validate(), "unsupported loki auth type")

	cfg = testConfig("")
	require.ErrorContains(t, cfg.Validate(), "loki.url must not be empty")
}

func TestLabelsSendsTenantAndTimeRange(t *testing.T) {
	var gotOrgID, gotStart, gotEnd string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/loki/api/v1/labels", r.URL.Path)
		gotOrgID = r.Header.Get("X-Scope-OrgID")
		gotStart = r.URL.Query().Get("start")
		gotEnd = r.URL.Query().Get("end")
		writeJSON(t, w, map[string]any{"status": "success", "data": []string{"app", "env"}})
	}))
	client.tenantID = "team-a"

	start := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	labels, err := client.Labels(context.Background(), start, end)
	require.NoError(t, err)
	assert.Equal(t, []string{"app", "env"}, labels)
	assert.Equal(t, "team-a", gotOrgID)
	assert.Equal(t, "1771416000000000000", gotStart)
	assert.Equal(t, "1771419600000000000", gotEnd)
}

func TestLabelsOmitsAbsentBounds(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("start"))
		assert.False(t, r.URL.Query().Has("end"))
		writeJSON(t, w, map[string]any{"status": "success", "data": []string{}})
	}))

	_, err := client.Labels(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
}

func TestLabelValuesValidatesLabel(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/loki/api/v1/label/app/values", r.URL.Path)
		assert.Equal(t, `{env="prod"}`, r.URL.Query().Get("query"))
		writeJSON(t, w, map[string]any{"status": "success", "data": []string{"api", "worker"}})
	}))

	values, err := client.LabelValues(context.Background(), "app", time.Time{}, time.Time{}, `{env="prod"}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "worker"}, values)

	_, err = client.LabelValues(context.Background(), "app name", time.Time{}, time.Time{}, "")
	require.ErrorContains(t, err, "unsupported characters")

	_, err = client.LabelValues(context.Background(), "", time.Time{}, time.Time{}, "")
	require.ErrorContains(t, err, "label must not be empty")
}

func TestSeriesRequiresMatchers(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, []string{`{app="api"}`, `{app="worker"}`}, r.URL.Query()["match[]"])
		writeJSON(t, w, map[string]any{"status": "success", "data": []any{map[string]any{"app": "api"}}})
	}))

	_, err := client.Series(context.Background(), nil, time.Time{}, time.Time{})
	require.ErrorContains(t, err, "at least one series matcher is required")

	series, err := client.Series(context.Background(), []string{`{app="api"}`, `{app="worker"}`}, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, series, 1)
}

func TestQueryLogsParams(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/loki/api/v1/query_range", r.URL.Path)
		assert.Equal(t, `{app="api"}`, r.URL.Query().Get("query"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		assert.Equal(t, "backward", r.URL.Query().Get("direction"))
		writeJSON(t, w, map[string]any{"status": "success", "data": map[string]any{"resultType": "streams", "result": []any{}}})
	}))

	data, err := client.QueryLogs(context.Background(), `{app="api"}`, time.Time{}, time.Time{}, 100, "backward")
	require.NoError(t, err)
	payload := data.(map[string]any)
	assert.Equal(t, "streams", payload["resultType"])
}

func TestAPIErrorSurfacesTypeAndMessage(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"status": "error", "errorType": "bad_data", "error": "parse error"})
	}))

	_, err := client.QueryLogs(context.Background(), "{", time.Time{}, time.Time{}, 0, "")
	require.ErrorContains(t, err, "loki api error (bad_data): parse error")
}

func TestNonSuccessStatusIncludesBody(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))

	_, err := client.Labels(context.Background(), time.Time{}, time.Time{})
	require.ErrorContains(t, err, "non-success status 429")
	require.ErrorContains(t, err, "too many requests")
}

func TestQueryStatsEnveloped(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/loki/api/v1/index/stats", r.URL.Path)
		writeJSON(t, w, map[string]any{
			"status": "success",
			"data":   map[string]any{"bytes": 12345, "streams": 7, "chunks": 3, "entries": 900},
		})
	}))

	stats, err := client.QueryStats(context.Background(), `{app="api"}`, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.NotNil(t, stats.BytesProcessed)
	assert.Equal(t, uint64(12345), *stats.BytesProcessed)
	require.NotNil(t, stats.Streams)
	assert.Equal(t, uint64(7), *stats.Streams)
}

func TestQueryStatsRawPayload(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"bytes": "2048", "streams": 2})
	}))

	stats, err := client.QueryStats(context.Background(), `{app="api"}`, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.NotNil(t, stats.BytesProcessed)
	assert.Equal(t, uint64(2048), *stats.BytesProcessed)
}

func TestQueryRuntimeStats(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, "backward", r.URL.Query().Get("direction"))
		writeJSON(t, w, map[string]any{
			"status": "success",
			"data": map[string]any{
				"resultType": "streams",
				"result":     []any{map[string]any{}, map[string]any{}},
				"stats": map[string]any{
					"summary": map[string]any{
						"totalBytesProcessed": 4096,
						"totalLinesProcessed": 77,
						"totalChunksMatched":  5,
					},
				},
			},
		})
	}))

	stats, err := client.QueryRuntimeStats(context.Background(), `{app="api"}`, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.NotNil(t, stats.BytesProcessed)
	assert.Equal(t, uint64(4096), *stats.BytesProcessed)
	require.NotNil(t, stats.Streams)
	assert.Equal(t, uint64(2), *stats.Streams)
	require.NotNil(t, stats.Entries)
	assert.Equal(t, uint64(77), *stats.Entries)
	require.NotNil(t, stats.Chunks)
	assert.Equal(t, uint64(5), *stats.Chunks)
}

func TestMergeStats(t *testing.T) {
	u := func(v uint64) *uint64 { return &v }

	primary := QueryStats{BytesProcessed: u(0), Streams: u(10), Raw: map[string]any{"src": "index"}}
	fallback := QueryStats{BytesProcessed: u(2048), Streams: u(3), Entries: u(50)}

	merged := primary.Merge(fallback)
	assert.Equal(t, uint64(2048), *merged.BytesProcessed)
	assert.Equal(t, uint64(10), *merged.Streams)
	assert.Equal(t, uint64(50), *merged.Entries)
	assert.Nil(t, merged.Chunks)
	assert.Equal(t, map[string]any{"src": "index"}, merged.Raw)

	// A zero primary with no fallback stays absent.
	merged = QueryStats{BytesProcessed: u(0)}.Merge(QueryStats{})
	assert.Nil(t, merged.BytesProcessed)
}

func TestCheckHealthReady(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ready":
			w.WriteHeader(http.StatusOK)
		case "/loki/api/v1/status/buildinfo":
			writeJSON(t, w, map[string]any{"version": "3.0.0"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	health, err := client.CheckHealth(context.Background())
	require.NoError(t, err)
	assert.True(t, health.Healthy)
	assert.Empty(t, health.Message)
	assert.NotNil(t, health.BuildInfo)
	assert.Nil(t, health.RingStatus)
}

func TestCheckHealthReadyMissingButAPIReachable(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/loki/api/v1/labels":
			writeJSON(t, w, map[string]any{"status": "success", "data": []string{}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	health, err := client.CheckHealth(context.Background())
	require.NoError(t, err)
	assert.True(t, health.Healthy)
	assert.Contains(t, health.Message, "Loki API endpoints are reachable")
}

func TestCheckHealthUnhealthy(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	health, err := client.CheckHealth(context.Background())
	require.NoError(t, err)
	assert.False(t, health.Healthy)
	assert.Equal(t, "loki returned status 503 Service Unavailable", health.Message)
}

func TestEvaluateHealth(t *testing.T) {
	healthy, message := evaluateHealth(readinessProbe{status: http.StatusOK}, false)
	assert.True(t, healthy)
	assert.Empty(t, message)

	healthy, message = evaluateHealth(readinessProbe{status: http.StatusNotFound}, true)
	assert.True(t, healthy)
	assert.Contains(t, message, "Loki API endpoints are reachable")

	healthy, message = evaluateHealth(readinessProbe{status: http.StatusNotFound}, false)
	assert.False(t, healthy)
	assert.Equal(t, "loki returned status 404 Not Found", message)
}

func TestAuthHeaders(t *testing.T) {
	var gotAuth string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		writeJSON(t, w, map[string]any{"status": "success", "data": []string{}})
	})

	server := httptest.NewServer(handler)
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.AuthType = AuthTypeBasic
	cfg.Username = "user"
	cfg.Password = "secret"
	client, err := New(cfg)
	require.NoError(t, err)

	_, err = client.Labels(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Contains(t, gotAuth, "Basic ")

	cfg.AuthType = AuthTypeBearer
	cfg.Token = "tok-123"
	client, err = New(cfg)
	require.NoError(t, err)

	_, err = client.Labels(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", gotAuth)
}

func TestBaseURLTrailingSlashTrimmed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/loki/api/v1/labels", r.URL.Path)
		writeJSON(t, w, map[string]any{"status": "success", "data": []string{}})
	}))
	defer server.Close()

	client, err := New(testConfig(server.URL + "///"))
	require.NoError(t, err)

	_, err = client.Labels(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
}
