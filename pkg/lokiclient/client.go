// Package lokiclient is a thin HTTP client for the subset of the Loki API the
// server exposes as tools: label and series discovery, range queries, index
// stats, pattern detection and health probing.
package lokiclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

const (
	orgIDHeader = "X-Scope-OrgID"
	userAgent   = "loki-mcp/1.0.0"

	labelsEndpoint     = "/loki/api/v1/labels"
	seriesEndpoint     = "/loki/api/v1/series"
	queryRangeEndpoint = "/loki/api/v1/query_range"
	indexStatsEndpoint = "/loki/api/v1/index/stats"
	patternsEndpoint   = "/loki/api/v1/patterns"
	readyEndpoint      = "/ready"
	buildInfoEndpoint  = "/loki/api/v1/status/buildinfo"
	ringEndpoint       = "/distributor/ring"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Client talks to a single Loki instance.
type Client struct {
	client   *http.Client
	baseURL  string
	tenantID string
	auth     authProvider
}

// New builds a client from the given config. The CA certificate, when
// configured, is appended to the system trust store.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Timeout: cfg.Timeout,
	}

	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read CA certificate from %s", cfg.CACert)
		}

		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.Errorf("invalid PEM CA certificate at %s", cfg.CACert)
		}

		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool},
		}
	}

	return &Client{
		client:   httpClient,
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		tenantID: cfg.TenantID,
		auth:     authFromConfig(cfg),
	}, nil
}

// Labels lists label names seen in the given window. Zero times are omitted
// so Loki applies its own defaults.
func (c *Client) Labels(ctx context.Context, start, end time.Time) ([]string, error) {
	params := url.Values{}
	appendTimeRange(params, start, end)

	var labels []string
	if err := c.getAPIData(ctx, labelsEndpoint, params, &labels); err != nil {
		return nil, err
	}
	return labels, nil
}

// LabelValues lists the values of one label, optionally restricted to series
// matching a selector.
func (c *Client) LabelValues(ctx context.Context, label string, start, end time.Time, query string) ([]string, error) {
	if err := validateLabelName(label); err != nil {
		return nil, err
	}

	params := url.Values{}
	appendTimeRange(params, start, end)
	if query != "" {
		params.Set("query", query)
	}

	var values []string
	if err := c.getAPIData(ctx, "/loki/api/v1/label/"+label+"/values", params, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// Series lists the label sets of streams matching any of the selectors. At
// least one matcher is required.
func (c *Client) Series(ctx context.Context, matches []string, start, end time.Time) ([]any, error) {
	if len(matches) == 0 {
		return nil, errors.New("at least one series matcher is required")
	}

	params := url.Values{}
	for _, matcher := range matches {
		params.Add("match[]", matcher)
	}
	appendTimeRange(params, start, end)

	var series []any
	if err := c.getAPIData(ctx, seriesEndpoint, params, &series); err != nil {
		return nil, err
	}
	return series, nil
}

// QueryLogs runs a log query through query_range. limit 0 and direction ""
// are omitted from the request.
func (c *Client) QueryLogs(ctx context.Context, query string, start, end time.Time, limit int, direction string) (any, error) {
	params := url.Values{}
	params.Set("query", query)
	appendTimeRange(params, start, end)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if direction != "" {
		params.Set("direction", direction)
	}

	var data any
	if err := c.getAPIData(ctx, queryRangeEndpoint, params, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// QueryMetrics runs a metric query through query_range.
func (c *Client) QueryMetrics(ctx context.Context, query string, start, end time.Time, step string) (any, error) {
	params := url.Values{}
	params.Set("query", query)
	appendTimeRange(params, start, end)
	if step != "" {
		params.Set("step", step)
	}

	var data any
	if err := c.getAPIData(ctx, queryRangeEndpoint, params, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// QueryStats asks the index for a cost estimate of the query. Some Loki
// versions wrap the payload in the standard envelope and some return it bare,
// so both shapes are accepted.
func (c *Client) QueryStats(ctx context.Context, query string, start, end time.Time) (QueryStats, error) {
	params := url.Values{}
	params.Set("query", query)
	appendTimeRange(params, start, end)

	data, err := c.getAPIDataOrRaw(ctx, indexStatsEndpoint, params)
	if err != nil {
		return QueryStats{}, err
	}
	return StatsFromValue(data), nil
}

// DetectPatterns queries Loki's pattern detection endpoint.
func (c *Client) DetectPatterns(ctx context.Context, query string, start, end time.Time, step string) (any, error) {
	params := url.Values{}
	params.Set("query", query)
	appendTimeRange(params, start, end)
	if step != "" {
		params.Set("step", step)
	}

	var data any
	if err := c.getAPIData(ctx, patternsEndpoint, params, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// QueryRuntimeStats measures a query by running it with limit 1 and reading
// the runtime summary. The stream count is approximated by the number of
// returned streams, which undercounts once the line limit truncates them.
func (c *Client) QueryRuntimeStats(ctx context.Context, query string, start, end time.Time) (QueryStats, error) {
	data, err := c.QueryLogs(ctx, query, start, end, 1, "backward")
	if err != nil {
		return QueryStats{}, err
	}

	payload, _ := data.(map[string]any)
	summary := map[string]any{}
	if stats, ok := payload["stats"].(map[string]any); ok {
		summary, _ = stats["summary"].(map[string]any)
	}

	var streams *uint64
	if result, ok := payload["result"].([]any); ok {
		count := uint64(len(result))
		streams = &count
	}

	var raw any = data
	if stats, ok := payload["stats"]; ok {
		raw = stats
	}

	return QueryStats{
		BytesProcessed: extractUint64(summary, "totalBytesProcessed"),
		Streams:        streams,
		Chunks:         extractUint64(summary, "totalChunksMatched"),
		Entries:        extractUint64(summary, "totalLinesProcessed"),
		Raw:            raw,
	}, nil
}

// CheckHealth probes readiness and gathers build info and ring status. A 404
// from /ready is tolerated when the query API itself answers, which covers
// proxies that do not forward the readiness route.
func (c *Client) CheckHealth(ctx context.Context) (Health, error) {
	probe := c.probeReadiness(ctx)
	buildInfo := c.getOptionalJSON(ctx, buildInfoEndpoint)
	ringStatus := c.getOptionalJSON(ctx, ringEndpoint)

	apiReachable := false
	if probe.err == nil && probe.status == http.StatusNotFound {
		apiReachable = buildInfo != nil || c.isAPIReachable(ctx)
	}

	healthy, message := evaluateHealth(probe, apiReachable)

	return Health{
		Healthy:    healthy,
		Message:    message,
		BuildInfo:  buildInfo,
		RingStatus: ringStatus,
	}, nil
}

type readinessProbe struct {
	status int
	err    error
}

func (c *Client) probeReadiness(ctx context.Context) readinessProbe {
	resp, err := c.do(ctx, readyEndpoint, nil)
	if err != nil {
		return readinessProbe{err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	return readinessProbe{status: resp.StatusCode}
}

func (c *Client) isAPIReachable(ctx context.Context) bool {
	resp, err := c.do(ctx, labelsEndpoint, nil)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func evaluateHealth(probe readinessProbe, apiReachable bool) (bool, string) {
	switch {
	case probe.err != nil:
		return false, probe.err.Error()
	case probe.status >= 200 && probe.status < 300:
		return true, ""
	case probe.status == http.StatusNotFound && apiReachable:
		return true, "loki /ready returned status 404 Not Found; Loki API endpoints are reachable"
	default:
		return false, "loki returned status " + statusLine(probe.status)
	}
}

func statusLine(status int) string {
	return strconv.Itoa(status) + " " + http.StatusText(status)
}

func (c *Client) do(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", userAgent)
	if c.tenantID != "" {
		req.Header.Set(orgIDHeader, c.tenantID)
	}
	c.auth.apply(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "request to Loki failed")
	}

	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	resp, err := c.do(ctx, path, params)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Errorf("Loki returned non-success status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read Loki response")
	}
	if err := jsonAPI.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, "failed to decode Loki JSON response")
	}

	return nil
}

type apiEnvelope struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	ErrorType string          `json:"errorType"`
}

func (c *Client) getAPIData(ctx context.Context, path string, params url.Values, out any) error {
	var envelope apiEnvelope
	if err := c.getJSON(ctx, path, params, &envelope); err != nil {
		return err
	}

	if envelope.Status != "success" {
		return apiError(envelope.ErrorType, envelope.Error)
	}
	if len(envelope.Data) == 0 {
		return nil
	}

	return errors.Wrap(jsonAPI.Unmarshal(envelope.Data, out), "failed to decode Loki JSON response")
}

// getAPIDataOrRaw unwraps the standard envelope when present and otherwise
// returns the payload untouched.
func (c *Client) getAPIDataOrRaw(ctx context.Context, path string, params url.Values) (any, error) {
	var value any
	if err := c.getJSON(ctx, path, params, &value); err != nil {
		return nil, err
	}

	object, ok := value.(map[string]any)
	if !ok {
		return value, nil
	}
	status, ok := object["status"].(string)
	if !ok {
		return value, nil
	}

	if status == "success" {
		return object["data"], nil
	}

	errorType, _ := object["errorType"].(string)
	message, _ := object["error"].(string)
	return nil, apiError(errorType, message)
}

func (c *Client) getOptionalJSON(ctx context.Context, path string) any {
	resp, err := c.do(ctx, path, nil)
	if err != nil {
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}

	var value any
	if err := jsonAPI.Unmarshal(body, &value); err != nil {
		return nil
	}
	return value
}

func apiError(errorType, message string) error {
	if errorType == "" {
		errorType = "unknown_error"
	}
	if message == "" {
		message = "Loki returned an error response"
	}
	return errors.Errorf("loki api error (%s): %s", errorType, message)
}

func appendTimeRange(params url.Values, start, end time.Time) {
	if !start.IsZero() {
		params.Set("start", strconv.FormatInt(start.UnixNano(), 10))
	}
	if !end.IsZero() {
		params.Set("end", strconv.FormatInt(end.UnixNano(), 10))
	}
}

func validateLabelName(label string) error {
	if label == "" {
		return errors.New("label must not be empty")
	}

	for _, r := range label {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == ':' {
			continue
		}
		return errors.Errorf("label contains unsupported characters: %s", label)
	}

	return nil
}
