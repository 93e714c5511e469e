// SPDX-License-Identifier: MIT

package ppubs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mwrenn/ppubsd/internal/log"
	"github.com/mwrenn/ppubsd/internal/metrics"
)

// Session is the cached authentication context for the upstream service.
// Values are copied out of the store; only the store mutates the live one.
type Session struct {
	CaseID      string
	AccessToken string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Valid reports whether the session can still authenticate calls at now.
func (s Session) Valid(now time.Time) bool {
	return s.CaseID != "" && now.Before(s.ExpiresAt)
}

// establishFunc performs the upstream handshake and returns a fresh session.
type establishFunc func(ctx context.Context) (Session, error)

// SessionStore owns the single cached session. Establishment runs under the
// store mutex so concurrent acquirers block on one in-flight handshake
// instead of racing their own.
type SessionStore struct {
	mu      sync.Mutex
	current Session
	has     bool
	lastErr error

	lifetime  time.Duration
	caching   bool
	establish establishFunc
	now       func() time.Time
	logger    zerolog.Logger
}

// NewSessionStore creates a store around the given handshake. caching=false
// forces a fresh session on every acquisition (testing/debugging aid).
func NewSessionStore(establish establishFunc, lifetime time.Duration, caching bool) *SessionStore {
	return &SessionStore{
		lifetime:  lifetime,
		caching:   caching,
		establish: establish,
		now:       time.Now,
		logger:    log.WithComponent("session"),
	}
}

// Acquire returns the cached session when valid, otherwise establishes a new
// one. Acquiring never mutates a valid cached session.
func (st *SessionStore) Acquire(ctx context.Context) (Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.caching && st.has && st.current.Valid(st.now()) {
		metrics.RecordSessionCacheHit()
		return st.current, nil
	}

	trigger := "cold"
	if st.has {
		trigger = "expired"
	}
	return st.replaceLocked(ctx, trigger)
}

// ForceRefresh unconditionally discards any cached session and establishes a
// new one.
func (st *SessionStore) ForceRefresh(ctx context.Context) (Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.replaceLocked(ctx, "forced")
}

// LastError reports the outcome of the most recent establishment attempt,
// nil when it succeeded or none has run yet. Used by the readiness probe.
func (st *SessionStore) LastError() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastErr
}

// replaceLocked runs the handshake while holding the store mutex.
func (st *SessionStore) replaceLocked(ctx context.Context, trigger string) (Session, error) {
	st.has = false
	st.current = Session{}

	sess, err := st.establish(ctx)
	st.lastErr = err
	if err != nil {
		metrics.RecordSessionRefresh(trigger, "failure")
		st.logger.Error().Err(err).
			Str(log.FieldEvent, "session.establish_failed").
			Str("trigger", trigger).
			Msg("session establishment failed")
		return Session{}, err
	}

	now := st.now()
	sess.IssuedAt = now
	sess.ExpiresAt = now.Add(st.lifetime)

	st.current = sess
	st.has = true

	metrics.RecordSessionRefresh(trigger, "success")
	st.logger.Info().
		Str(log.FieldEvent, "session.established").
		Str("trigger", trigger).
		Str(log.FieldCaseID, sess.CaseID).
		Time("expires_at", sess.ExpiresAt).
		Msg("session established")
	return sess, nil
}
