package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state.
	CircuitClosed CircuitState = iota
	// CircuitOpen means too many consecutive failures; calls are rejected.
	CircuitOpen
	// CircuitHalfOpen allows a single trial request to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig controls circuit breaker behavior for one endpoint class.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	// Default: 5.
	FailureThreshold int

	// Cooldown is how long the circuit stays open before a trial request.
	// Default: 30s.
	Cooldown time.Duration

	// MaxOpenDuration latches the breaker into a fatal state when the
	// circuit has been continuously open for this long. Zero disables the
	// latch. A latched breaker rejects everything with a FatalError.
	MaxOpenDuration time.Duration

	// ShouldTrip decides which errors count toward the threshold. Defaults
	// to counting every retryable error and every non-nil error of unknown
	// class, but never auth errors (those recover via refresh, not cooldown).
	ShouldTrip func(err error) bool

	// OnStateChange is called on every transition.
	OnStateChange func(from, to CircuitState)
}

// Breaker implements the circuit breaker pattern for one endpoint class.
type Breaker struct {
	cfg BreakerConfig

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailureTime     time.Time
	openedAt            time.Time
	latched             bool
	trialInFlight       bool

	nowFunc func() time.Time
}

// NewBreaker creates a circuit breaker with the given config.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = func(err error) bool {
			if err == nil {
				return false
			}
			if isAs[*AuthError](err) {
				return false
			}
			return true
		}
	}
	return &Breaker{
		cfg:     cfg,
		state:   CircuitClosed,
		nowFunc: time.Now,
	}
}

// Execute runs fn through the breaker. Returns ErrCircuitOpen while the
// circuit is open, or a FatalError once the breaker has latched.
func Execute[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.allowRequest(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.recordResult(err)
	return val, err
}

// State returns the current circuit state, accounting for cooldown expiry.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.nowFunc().Sub(b.lastFailureTime) >= b.cfg.Cooldown {
		return CircuitHalfOpen
	}
	return b.state
}

// Latched reports whether the breaker has exceeded MaxOpenDuration.
func (b *Breaker) Latched() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latched
}

// Reset forces the circuit back to closed. Used by tests and manual recovery.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	old := b.state
	b.state = CircuitClosed
	b.consecutiveFailures = 0
	b.latched = false
	b.trialInFlight = false
	if old != CircuitClosed && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(old, CircuitClosed)
	}
}

func (b *Breaker) allowRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.latched {
		return &FatalError{Reason: "circuit breaker open past maximum duration"}
	}

	switch b.state {
	case CircuitOpen:
		now := b.nowFunc()
		if b.cfg.MaxOpenDuration > 0 && now.Sub(b.openedAt) >= b.cfg.MaxOpenDuration {
			b.latched = true
			return &FatalError{Reason: "circuit breaker open past maximum duration"}
		}
		if now.Sub(b.lastFailureTime) >= b.cfg.Cooldown {
			b.transition(CircuitHalfOpen)
			b.trialInFlight = true
			return nil // trial request
		}
		return ErrCircuitOpen
	case CircuitHalfOpen:
		// Exactly one trial at a time; concurrent callers wait for its verdict.
		if b.trialInFlight {
			return ErrCircuitOpen
		}
		b.trialInFlight = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) recordResult(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !b.cfg.ShouldTrip(err) {
		switch b.state {
		case CircuitHalfOpen:
			b.transition(CircuitClosed)
			b.consecutiveFailures = 0
		case CircuitClosed:
			b.consecutiveFailures = 0
		}
		return
	}

	b.consecutiveFailures++
	b.lastFailureTime = b.nowFunc()

	switch b.state {
	case CircuitClosed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.openedAt = b.lastFailureTime
			b.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		// A failed trial reopens the circuit; the open interval continues
		// from the original openedAt for MaxOpenDuration purposes.
		b.transition(CircuitOpen)
	}
}

func (b *Breaker) transition(to CircuitState) {
	from := b.state
	b.state = to
	if from == CircuitHalfOpen {
		b.trialInFlight = false
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

// EndpointBreakers manages one breaker per upstream endpoint class
// ("search", "detail").
type EndpointBreakers struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      BreakerConfig
}

// NewEndpointBreakers creates a registry of per-endpoint circuit breakers.
func NewEndpointBreakers(cfg BreakerConfig) *EndpointBreakers {
	return &EndpointBreakers{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
	}
}

// Get returns the breaker for the named endpoint class, creating it if needed.
func (eb *EndpointBreakers) Get(endpoint string) *Breaker {
	eb.mu.RLock()
	b, ok := eb.breakers[endpoint]
	eb.mu.RUnlock()
	if ok {
		return b
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()
	if b, ok = eb.breakers[endpoint]; ok {
		return b
	}
	b = NewBreaker(eb.cfg)
	eb.breakers[endpoint] = b
	return b
}

// States returns a snapshot of all breaker states.
func (eb *EndpointBreakers) States() map[string]CircuitState {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	states := make(map[string]CircuitState, len(eb.breakers))
	for name, b := range eb.breakers {
		states[name] = b.State()
	}
	return states
}
