// Package auth manages the rotating bearer credential shared by all
// catalog workers.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/propwatch/ingest-cli/internal/resilience"
)

// Credential is a bearer token plus its validity window.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Valid reports whether the credential is usable at time now.
func (c Credential) Valid(now time.Time) bool {
	return c.Token != "" && now.Before(c.ExpiresAt)
}

// TokenSource acquires a fresh credential. The acquisition flow itself
// (interactive login, client-credentials grant) is opaque to the manager.
type TokenSource interface {
	Acquire(ctx context.Context) (Credential, error)
}

// State is the credential lifecycle state.
type State int

const (
	StateUnauthenticated State = iota
	StateAcquiring
	StateValid
	StateExpiring
	StateExpired
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAcquiring:
		return "acquiring"
	case StateValid:
		return "valid"
	case StateExpiring:
		return "expiring"
	case StateExpired:
		return "expired"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options configures the Manager.
type Options struct {
	// ExpirySkew treats the credential as expiring this long before its
	// reported expiry, triggering a proactive background refresh.
	ExpirySkew time.Duration

	// MaxFailures is the consecutive acquisition failure count after which
	// the manager latches into StateFailed and reports a FatalError.
	MaxFailures int
}

// Manager owns the single shared credential. Concurrent callers that need a
// refresh share one in-flight acquisition (single-flight); no duplicate
// refresh calls are ever issued.
type Manager struct {
	source TokenSource
	opts   Options

	sf singleflight.Group

	mu       sync.Mutex
	cred     Credential
	failures int
	fatalErr error

	nowFunc func() time.Time
}

// NewManager creates a credential manager over the given source.
func NewManager(source TokenSource, opts Options) *Manager {
	if opts.ExpirySkew <= 0 {
		opts.ExpirySkew = 2 * time.Minute
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 3
	}
	return &Manager{
		source:  source,
		opts:    opts,
		nowFunc: time.Now,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	switch {
	case m.fatalErr != nil:
		return StateFailed
	case m.cred.Token == "":
		return StateUnauthenticated
	case !m.cred.Valid(now):
		return StateExpired
	case now.After(m.cred.ExpiresAt.Add(-m.opts.ExpirySkew)):
		return StateExpiring
	default:
		return StateValid
	}
}

// Current returns a valid bearer token, blocking while a refresh is in
// flight. Inside the expiry skew window the stale-but-valid token is
// returned immediately and a background refresh is kicked off. Once
// acquisition has failed MaxFailures times consecutively, every caller
// receives the latched FatalError.
func (m *Manager) Current(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.fatalErr != nil {
		err := m.fatalErr
		m.mu.Unlock()
		return "", err
	}

	now := m.nowFunc()
	if m.cred.Valid(now) {
		cred := m.cred
		expiring := now.After(cred.ExpiresAt.Add(-m.opts.ExpirySkew))
		m.mu.Unlock()
		if expiring {
			// Proactive refresh; callers keep using the current token.
			go func() {
				_, _, _ = m.sf.Do("token", m.refresh)
			}()
		}
		return cred.Token, nil
	}
	m.mu.Unlock()

	return m.acquire(ctx)
}

// Invalidate marks the current credential expired. Called by the fetcher
// when the upstream rejects the token (401/403); the next Current call
// triggers a refresh.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred.ExpiresAt = time.Time{}
}

// acquire runs (or joins) the single-flight refresh and returns the token.
func (m *Manager) acquire(ctx context.Context) (string, error) {
	type result struct {
		val any
		err error
	}
	ch := make(chan result, 1)
	go func() {
		val, err, _ := m.sf.Do("token", m.refresh)
		ch <- result{val, err}
	}()

	select {
	case <-ctx.Done():
		return "", eris.Wrap(ctx.Err(), "auth: wait for credential")
	case r := <-ch:
		if r.err != nil {
			return "", r.err
		}
		return r.val.(Credential).Token, nil
	}
}

// refresh performs one acquisition attempt. Shared by every concurrent
// caller through the singleflight group.
func (m *Manager) refresh() (any, error) {
	m.mu.Lock()
	if m.fatalErr != nil {
		err := m.fatalErr
		m.mu.Unlock()
		return nil, err
	}
	// Another flight may have refreshed between the caller's check and this
	// execution; reuse its result.
	if m.cred.Valid(m.nowFunc().Add(m.opts.ExpirySkew)) {
		cred := m.cred
		m.mu.Unlock()
		return cred, nil
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cred, err := m.source.Acquire(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.failures++
		zap.L().Warn("credential acquisition failed",
			zap.Int("consecutive_failures", m.failures),
			zap.Int("max_failures", m.opts.MaxFailures),
			zap.Error(err),
		)
		if m.failures >= m.opts.MaxFailures {
			m.fatalErr = &resilience.FatalError{
				Reason: "credential acquisition exhausted",
				Err:    err,
			}
			zap.L().Error("credential manager halted", zap.Error(m.fatalErr))
			return nil, m.fatalErr
		}
		return nil, eris.Wrap(err, "auth: acquire credential")
	}

	m.failures = 0
	m.cred = cred
	zap.L().Info("credential acquired",
		zap.Time("expires_at", cred.ExpiresAt),
	)
	return cred, nil
}
