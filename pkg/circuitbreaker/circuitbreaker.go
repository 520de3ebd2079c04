// Package circuitbreaker stops calling a failing dependency for a cool-down
// period. The traffic ETA client uses it so a dead upstream costs one fast
// fallback per donor instead of one timeout per donor.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without calling the dependency.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config tunes a breaker.
type Config struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int
	// CoolDown is how long the circuit stays open before one trial call.
	CoolDown time.Duration
	// IsFailure decides which errors count; nil means every non-nil error.
	IsFailure func(error) bool
	// OnStateChange is called with the lock held; keep it cheap.
	OnStateChange func(name string, from, to State)
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// DefaultConfig opens after 5 failures and allows a trial call after 30 seconds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		CoolDown:         30 * time.Second,
	}
}

// Breaker is a consecutive-failure circuit breaker with a single half-open trial call.
type Breaker struct {
	name string
	cfg  Config

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a closed breaker.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = DefaultConfig().CoolDown
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{name: name, cfg: cfg}
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, moving open to half-open once the
// cool-down elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.CoolDown {
		return StateHalfOpen
	}
	return b.state
}

// Execute runs fn unless the circuit is open.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.CoolDown {
			return ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
		b.probing = true
		return nil
	default: // half-open: one trial call at a time
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := err != nil
	if failed && b.cfg.IsFailure != nil {
		failed = b.cfg.IsFailure(err)
	}

	if b.state == StateHalfOpen {
		b.probing = false
		if failed {
			b.trip()
		} else {
			b.failures = 0
			b.setState(StateClosed)
		}
		return
	}

	if !failed {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.cfg.FailureThreshold {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.openedAt = b.cfg.Now()
	b.setState(StateOpen)
}

func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	from := b.state
	b.state = s
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, s)
	}
}
