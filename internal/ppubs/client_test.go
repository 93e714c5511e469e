// SPDX-License-Identifier: MIT

package ppubs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwrenn/ppubsd/internal/config"
)

// newMockClient wires a client to the mock upstream with millisecond retry
// and poll timings. The outbound throttle is removed so tests never block on
// real token-bucket waits.
func newMockClient(t *testing.T, m *MockServer) *Client {
	t.Helper()

	cfg := config.Defaults()
	cfg.BaseURL = m.URL
	cfg.RetryMinWait = time.Millisecond
	cfg.RetryMaxWait = 2 * time.Millisecond
	cfg.PollInterval = time.Millisecond
	cfg.PollBudget = 250 * time.Millisecond

	c, err := New(cfg, Options{HTTPClient: m.Client()})
	require.NoError(t, err)
	c.limiter = nil
	c.exec.limiter = nil

	t.Cleanup(c.Close)
	return c
}

func TestClientReusesSessionAcrossCalls(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	c := newMockClient(t, m)

	_, err := c.Search(context.Background(), "widget", DefaultSearchOptions())
	require.NoError(t, err)
	_, err = c.Search(context.Background(), "widget", DefaultSearchOptions())
	require.NoError(t, err)

	assert.Equal(t, 1, m.SessionCalls(), "second call must ride the cached session")
	assert.Equal(t, 1, m.BootstrapCalls())
}

func TestClientRefreshesOnceOnAuthExpiry(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	c := newMockClient(t, m)

	_, err := c.Search(context.Background(), "widget", DefaultSearchOptions())
	require.NoError(t, err)

	m.ExpireSession()

	res, err := c.Search(context.Background(), "widget", DefaultSearchOptions())
	require.NoError(t, err, "a single forced refresh must rescue the call")
	assert.Equal(t, 1, res.NumFound)
	assert.Equal(t, 2, m.SessionCalls())
}

func TestClientAuthFailureAfterRefreshIsFatal(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	c := newMockClient(t, m)

	m.RejectAuth(true)

	_, err := c.Search(context.Background(), "widget", DefaultSearchOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthExpired))
	assert.Equal(t, 2, m.SessionCalls(), "exactly one forced refresh per logical call")
	assert.Equal(t, 2, m.CountsCalls())
}

func TestClientAcceptsNumericCaseID(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	m.SetNumericCaseID(true)
	c := newMockClient(t, m)

	sess, err := c.sessions.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "5830", sess.CaseID)
}

func TestClientRejectsIncompleteSessionResponse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(bootstrapPath, func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc(sessionPath, func(w http.ResponseWriter, r *http.Request) {
		// No X-Access-Token header, no caseId.
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := config.Defaults()
	cfg.BaseURL = srv.URL
	c, err := New(cfg, Options{HTTPClient: srv.Client()})
	require.NoError(t, err)
	c.exec.limiter = nil

	_, err = c.sessions.Acquire(context.Background())
	assert.True(t, errors.Is(err, ErrBadResponse))
}

func TestClientSessionEstablishmentRetriesTransient(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	c := newMockClient(t, m)

	m.SetFailures(sessionPath, 2)

	_, err := c.sessions.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, m.SessionCalls())
}

func TestFlexStringDecoding(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"string", `"5830"`, "5830"},
		{"number", `5830`, "5830"},
		{"float", `58.30`, "58.30"},
		{"null", `null`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s flexString
			require.NoError(t, json.Unmarshal([]byte(tt.in), &s))
			assert.Equal(t, tt.want, string(s))
		})
	}
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	cfg := config.Defaults()
	cfg.BaseURL = "://not-a-url"
	_, err := New(cfg, Options{})
	assert.Error(t, err)
}
