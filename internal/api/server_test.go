// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwrenn/ppubsd/internal/cache"
	"github.com/mwrenn/ppubsd/internal/config"
	"github.com/mwrenn/ppubsd/internal/jobstore"
	"github.com/mwrenn/ppubsd/internal/ppubs"
)

type testEnv struct {
	upstream *ppubs.MockServer
	gateway  *httptest.Server
	jobs     *jobstore.Store
	dataDir  string
}

func newTestEnv(t *testing.T, mutate func(*config.AppConfig)) *testEnv {
	t.Helper()

	upstream := ppubs.NewMockServer()
	t.Cleanup(upstream.Close)

	dataDir := t.TempDir()
	cfg := config.Defaults()
	cfg.BaseURL = upstream.URL
	cfg.DataDir = dataDir
	cfg.RetryMinWait = time.Millisecond
	cfg.RetryMaxWait = 2 * time.Millisecond
	cfg.PollInterval = time.Millisecond
	cfg.PollBudget = 250 * time.Millisecond
	cfg.UpstreamRPS = 1000
	cfg.UpstreamBurst = 1000
	cfg.CacheTTL = time.Minute
	cfg.RequestsPerMin = 0
	if mutate != nil {
		mutate(&cfg)
	}

	jobs, err := jobstore.Open(filepath.Join(dataDir, "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = jobs.Close() })

	client, err := ppubs.New(cfg, ppubs.Options{HTTPClient: upstream.Client(), Recorder: jobs})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	srv := NewServer(cfg, client, cache.NewMemory(0), jobs)
	gateway := httptest.NewServer(srv.Handler())
	t.Cleanup(gateway.Close)

	return &testEnv{upstream: upstream, gateway: gateway, jobs: jobs, dataDir: dataDir}
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.gateway.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.gateway.URL + path)
	require.NoError(t, err)
	return resp
}

func decodeFailure(t *testing.T, resp *http.Response) failure {
	t.Helper()
	var f failure
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&f))
	resp.Body.Close()
	return f
}

func TestSearchEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.post(t, "/api/search", map[string]any{"query": "widget"})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "miss", resp.Header.Get("X-Cache"))

	var result ppubs.SearchResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, 1, result.NumFound)
	require.Len(t, result.Docs, 1)
	assert.Equal(t, "US-12345678-B2", result.Docs[0].GUID)
}

func TestSearchEndpointUsesCache(t *testing.T) {
	env := newTestEnv(t, nil)

	first := env.post(t, "/api/search", map[string]any{"query": "widget"})
	first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := env.post(t, "/api/search", map[string]any{"query": "widget"})
	defer second.Body.Close()
	require.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, "hit", second.Header.Get("X-Cache"))
	assert.Equal(t, 1, env.upstream.SearchCalls(), "cache hit must not reach the upstream")
}

func TestSearchEndpointRequiresQuery(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.post(t, "/api/search", map[string]any{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	f := decodeFailure(t, resp)
	assert.True(t, f.Failed)
	assert.Equal(t, "bad_request", f.ErrorCode)
}

func TestSearchEndpointUpstreamQueryRejection(t *testing.T) {
	env := newTestEnv(t, nil)
	env.upstream.SetSearchError("PARSE-1", "unbalanced parenthesis")

	resp := env.post(t, "/api/search", map[string]any{"query": "((bad"})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	f := decodeFailure(t, resp)
	assert.Equal(t, "malformed_response", f.ErrorCode)
	assert.Equal(t, "PARSE-1", f.Details["upstreamCode"])
}

func TestDocumentEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.get(t, "/api/documents/US-12345678-B2?source=USPAT")
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "US-12345678-B2")
}

func TestDocumentEndpointNotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.get(t, "/api/documents/US-00000000-A1")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	f := decodeFailure(t, resp)
	assert.True(t, f.Failed)
	assert.Equal(t, "not_found", f.ErrorCode)
	assert.Equal(t, http.StatusNotFound, f.StatusCode)
}

func TestPDFEndpointStreamsArtifact(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.post(t, "/api/documents/US-12345678-B2/pdf", pdfRequest{
		ImageLocation: "US12345678",
		PageCount:     4,
		Source:        "USPAT",
	})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Job-Id"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("%PDF")))
}

func TestPDFEndpointPersists(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.post(t, "/api/documents/US-12345678-B2/pdf", pdfRequest{
		ImageLocation: "US12345678",
		PageCount:     4,
		Persist:       true,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var meta struct {
		JobID string `json:"jobId"`
		Path  string `json:"path"`
		Bytes int    `json:"bytes"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&meta))
	assert.NotEmpty(t, meta.JobID)
	assert.Greater(t, meta.Bytes, 0)

	data, err := os.ReadFile(meta.Path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
	assert.True(t, strings.HasPrefix(meta.Path, env.dataDir))
}

func TestPDFEndpointJobTimeoutCarriesJobID(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.AppConfig) {
		cfg.PollBudget = 20 * time.Millisecond
	})

	id := env.upstream.NextJobID()
	env.upstream.SetPollScript(id, ppubs.PollStatus{Status: "pending"})

	resp := env.post(t, "/api/documents/US-12345678-B2/pdf", pdfRequest{
		ImageLocation: "US12345678",
		PageCount:     4,
	})
	require.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)

	f := decodeFailure(t, resp)
	assert.Equal(t, "job_timeout", f.ErrorCode)
	assert.Equal(t, id, f.Details["jobId"], "a timed-out download names its job for later lookup")
}

func TestPDFEndpointValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.post(t, "/api/documents/US-12345678-B2/pdf", pdfRequest{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestJobEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	// Produce a completed job through the pipeline.
	resp := env.post(t, "/api/documents/US-12345678-B2/pdf", pdfRequest{
		ImageLocation: "US12345678",
		PageCount:     4,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	jobID := resp.Header.Get("X-Job-Id")
	resp.Body.Close()
	require.NotEmpty(t, jobID)

	lookup := env.get(t, "/api/jobs/"+jobID)
	defer lookup.Body.Close()
	require.Equal(t, http.StatusOK, lookup.StatusCode)

	var job jobResponse
	require.NoError(t, json.NewDecoder(lookup.Body).Decode(&job))
	assert.Equal(t, jobID, job.ID)
	assert.Equal(t, "completed", job.State)
	assert.NotEmpty(t, job.ArtifactName)
}

func TestJobEndpointUnknownID(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.get(t, "/api/jobs/job-999")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	f := decodeFailure(t, resp)
	assert.Equal(t, "not_found", f.ErrorCode)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.get(t, "/healthz")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyzReflectsSessionHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.get(t, "/readyz")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "ready before any upstream trouble")

	// Break session establishment and force a refresh attempt.
	env.upstream.SetFailures("/api/users/me/session", 10)
	env.upstream.ExpireSession()
	search := env.post(t, "/api/search", map[string]any{"query": "widget"})
	search.Body.Close()

	resp = env.get(t, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	f := decodeFailure(t, resp)
	assert.Equal(t, "not_ready", f.ErrorCode)
}

func TestInboundRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.AppConfig) {
		cfg.RequestsPerMin = 2
	})

	for i := 0; i < 2; i++ {
		resp := env.post(t, "/api/search", map[string]any{"query": "widget"})
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := env.post(t, "/api/search", map[string]any{"query": "widget"})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	f := decodeFailure(t, resp)
	assert.Equal(t, "rate_limited", f.ErrorCode)
}

func TestRequestIDPropagation(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.get(t, "/healthz")
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	req, err := http.NewRequest(http.MethodGet, env.gateway.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "caller-supplied")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, "caller-supplied", resp2.Header.Get("X-Request-Id"))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.get(t, "/metrics")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}
