// SPDX-License-Identifier: MIT

// Package ppubs implements a resilient client for the Patent Public Search
// upstream: session handshake and caching, bounded retry with failure
// classification, search, and the print job pipeline for document PDFs.
package ppubs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mwrenn/ppubsd/internal/config"
	"github.com/mwrenn/ppubsd/internal/log"
	"github.com/mwrenn/ppubsd/internal/platform/httpx"
	"github.com/mwrenn/ppubsd/internal/ratelimit"
)

const (
	bootstrapPath = "/pubwebapp/"
	sessionPath   = "/api/users/me/session"

	accessTokenHeader = "X-Access-Token"
)

// Client talks to the upstream service. It is safe for concurrent use; the
// session cache and outbound throttle are shared across all callers.
type Client struct {
	base     *url.URL
	http     *http.Client
	exec     *executor
	sessions *SessionStore
	limiter  *ratelimit.Upstream

	attempts     int
	pollInterval time.Duration
	pollBudget   time.Duration
	backoff      Backoff

	recorder JobRecorder
	logger   zerolog.Logger
}

// Options carries optional collaborators for New. Zero values get sensible
// defaults; tests inject their own HTTP client and recorder.
type Options struct {
	HTTPClient *http.Client
	Limiter    *ratelimit.Upstream
	Recorder   JobRecorder
}

// New builds a client from config. The session is established lazily on the
// first authenticated call.
func New(cfg config.AppConfig, opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("cookie jar: %w", err)
		}
		httpClient = httpx.NewClient(httpx.Options{
			Timeout:   cfg.RequestTimeout,
			UserAgent: cfg.UserAgent,
			Jar:       jar,
		})
	}

	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{RPS: cfg.UpstreamRPS, Burst: cfg.UpstreamBurst})
	}

	backoff := Backoff{Min: cfg.RetryMinWait, Max: cfg.RetryMaxWait}

	c := &Client{
		base:         base,
		http:         httpClient,
		limiter:      limiter,
		attempts:     cfg.MaxAttempts,
		pollInterval: cfg.PollInterval,
		pollBudget:   cfg.PollBudget,
		backoff:      backoff,
		recorder:     opts.Recorder,
		logger:       log.WithComponent("ppubs"),
	}
	c.exec = newExecutor(httpClient, backoff, limiter, cfg.RateLimitWait)
	c.sessions = NewSessionStore(c.establishSession, cfg.SessionLifetime, cfg.SessionCaching)
	return c, nil
}

// Close releases idle upstream connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// Ready reports whether the client is in a usable state. It fails when the
// most recent session establishment failed.
func (c *Client) Ready() error {
	return c.sessions.LastError()
}

// sessionEnvelope is the interesting slice of the session response body.
type sessionEnvelope struct {
	UserCase struct {
		CaseID flexString `json:"caseId"`
	} `json:"userCase"`
}

// establishSession performs the two-step handshake: a bootstrap GET that
// seeds cookies, then the session POST that yields the access token and
// case ID.
func (c *Client) establishSession(ctx context.Context) (Session, error) {
	_, err := c.exec.Do(ctx, "session.bootstrap", c.attempts, func(ctx context.Context) (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, bootstrapPath, nil)
	})
	if err != nil {
		return Session{}, err
	}

	res, err := c.exec.Do(ctx, "session.establish", c.attempts, func(ctx context.Context) (*http.Request, error) {
		req, err := c.newRequest(ctx, http.MethodPost, sessionPath, strings.NewReader(`"-1"`))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(accessTokenHeader, "null")
		return req, nil
	})
	if err != nil {
		return Session{}, err
	}

	token := res.Header.Get(accessTokenHeader)
	var env sessionEnvelope
	if err := json.Unmarshal(res.Body, &env); err != nil {
		return Session{}, &Error{Sentinel: ErrBadResponse, Operation: "session.establish", Status: res.Status, Err: err}
	}
	caseID := string(env.UserCase.CaseID)
	if token == "" || caseID == "" {
		return Session{}, &Error{
			Sentinel:  ErrBadResponse,
			Operation: "session.establish",
			Status:    res.Status,
			Body:      "response missing access token or case id",
		}
	}
	return Session{CaseID: caseID, AccessToken: token}, nil
}

// invoke runs one logical authenticated call. On auth expiry the cached
// session is force-refreshed exactly once and the call re-runs with a fresh
// retry budget; a second auth failure surfaces to the caller.
func (c *Client) invoke(ctx context.Context, op string, attempts int, build func(ctx context.Context, sess Session) (*http.Request, error)) (*upstreamResponse, error) {
	sess, err := c.sessions.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	res, err := c.exec.Do(ctx, op, attempts, func(ctx context.Context) (*http.Request, error) {
		return build(ctx, sess)
	})
	if err == nil || !errors.Is(err, ErrAuthExpired) {
		return res, err
	}

	logger := log.WithContext(ctx, c.logger)
	logger.Warn().
		Str(log.FieldEvent, "session.retry_after_refresh").
		Str("operation", op).
		Msg("auth expired, refreshing session and retrying once")

	sess, err = c.sessions.ForceRefresh(ctx)
	if err != nil {
		return nil, err
	}
	return c.exec.Do(ctx, op, attempts, func(ctx context.Context) (*http.Request, error) {
		return build(ctx, sess)
	})
}

// newRequest builds a request against the configured base URL.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	return http.NewRequestWithContext(ctx, method, u.String(), body)
}

// newJSONRequest builds an authenticated JSON request with the payload
// re-encoded per attempt.
func (c *Client) newJSONRequest(ctx context.Context, sess Session, method, path string, payload any) (*http.Request, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", path, err)
	}
	req, err := c.newRequest(ctx, method, path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(accessTokenHeader, sess.AccessToken)
	return req, nil
}

// flexString decodes a JSON value that may arrive as either a string or a
// bare number.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}
