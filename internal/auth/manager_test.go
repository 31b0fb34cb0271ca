package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propwatch/ingest-cli/internal/resilience"
)

type fakeSource struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	fail  int // fail the first N acquisitions
	ttl   time.Duration
}

func (f *fakeSource) Acquire(ctx context.Context) (Credential, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Credential{}, ctx.Err()
		}
	}
	if n <= f.fail {
		return Credential{}, errors.New("identity provider unavailable")
	}
	ttl := f.ttl
	if ttl == 0 {
		ttl = time.Hour
	}
	return Credential{
		Token:     fmt.Sprintf("token-%d", n),
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestManager_AcquiresOnFirstUse(t *testing.T) {
	src := &fakeSource{}
	m := NewManager(src, Options{})

	token, err := m.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)
	assert.Equal(t, StateValid, m.State())
}

func TestManager_SingleFlightUnderContention(t *testing.T) {
	src := &fakeSource{delay: 50 * time.Millisecond}
	m := NewManager(src, Options{})

	const workers = 20
	var wg sync.WaitGroup
	tokens := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = m.Current(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "token-1", tokens[i])
	}
	assert.Equal(t, 1, src.callCount(), "concurrent refreshes must share one acquisition")
}

func TestManager_ReusesValidCredential(t *testing.T) {
	src := &fakeSource{}
	m := NewManager(src, Options{})

	_, err := m.Current(context.Background())
	require.NoError(t, err)
	_, err = m.Current(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, src.callCount())
}

func TestManager_InvalidateForcesRefresh(t *testing.T) {
	src := &fakeSource{}
	m := NewManager(src, Options{})

	first, err := m.Current(context.Background())
	require.NoError(t, err)

	m.Invalidate()

	second, err := m.Current(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, src.callCount())
}

func TestManager_ExpirySkewReturnsStaleAndRefreshesInBackground(t *testing.T) {
	src := &fakeSource{ttl: time.Hour}
	m := NewManager(src, Options{ExpirySkew: 2 * time.Minute})

	_, err := m.Current(context.Background())
	require.NoError(t, err)

	// Move the manager's clock into the skew window.
	m.mu.Lock()
	m.nowFunc = func() time.Time { return m.cred.ExpiresAt.Add(-time.Minute) }
	m.mu.Unlock()

	assert.Equal(t, StateExpiring, m.State())

	// The stale-but-valid token comes back without blocking.
	token, err := m.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)

	// The background refresh lands eventually.
	require.Eventually(t, func() bool {
		return src.callCount() == 2
	}, time.Second, 10*time.Millisecond)
}

func TestManager_LatchesAfterMaxFailures(t *testing.T) {
	src := &fakeSource{fail: 1000}
	m := NewManager(src, Options{MaxFailures: 3})

	for i := 0; i < 3; i++ {
		_, err := m.Current(context.Background())
		require.Error(t, err)
	}

	assert.Equal(t, StateFailed, m.State())
	calls := src.callCount()

	// Every subsequent caller fails fast with the latched fatal error.
	_, err := m.Current(context.Background())
	require.Error(t, err)
	assert.True(t, resilience.IsFatal(err))
	assert.Equal(t, calls, src.callCount(), "latched manager must not call the source")
}

func TestManager_SuccessResetsFailureCount(t *testing.T) {
	src := &fakeSource{fail: 2}
	m := NewManager(src, Options{MaxFailures: 3})

	_, err := m.Current(context.Background())
	require.Error(t, err)
	_, err = m.Current(context.Background())
	require.Error(t, err)

	// Third attempt succeeds and clears the failure streak.
	token, err := m.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-3", token)
	assert.Equal(t, StateValid, m.State())

	m.mu.Lock()
	failures := m.failures
	m.mu.Unlock()
	assert.Zero(t, failures)
}

func TestCredential_Valid(t *testing.T) {
	now := time.Now()
	assert.False(t, Credential{}.Valid(now))
	assert.False(t, Credential{Token: "t", ExpiresAt: now.Add(-time.Second)}.Valid(now))
	assert.True(t, Credential{Token: "t", ExpiresAt: now.Add(time.Second)}.Valid(now))
}
