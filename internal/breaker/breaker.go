// Package breaker implements a per-transport circuit breaker.
//
// DESIGN: Classic three-state machine. Closed counts failures in a sliding
// evaluation window; crossing the threshold opens the circuit. Open fast-fails
// every call until the cool-down elapses, then a single half-open probe is
// allowed. The probe's outcome decides between Closed and another full
// cool-down. State transitions are the only valid ones:
// Closed->Open->HalfOpen->{Closed,Open}.
package breaker

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State is the breaker state.
type State int

const (
	// StateClosed allows requests to pass through normally.
	StateClosed State = iota
	// StateOpen blocks all requests.
	StateOpen
	// StateHalfOpen allows a single probe request.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config contains circuit breaker tuning.
type Config struct {
	// FailureThreshold is the failure count inside EvaluationWindow that
	// opens the circuit.
	FailureThreshold int
	// EvaluationWindow is the sliding window for failure counting.
	EvaluationWindow time.Duration
	// CoolDown is how long the circuit stays open before allowing a probe.
	CoolDown time.Duration
}

// Breaker tracks failures for one transport.
type Breaker struct {
	mu   sync.Mutex
	name string
	cfg  Config

	state          State
	failureCount   int
	windowStart    time.Time
	lastTransition time.Time
	probeInFlight  bool

	onStateChange func(name string, state State)

	now func() time.Time
}

// New creates a closed breaker named after its transport.
func New(name string, cfg Config) *Breaker {
	return &Breaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// OnStateChange registers a callback invoked on every transition. The
// callback runs with the breaker locked and must not call back into it.
// Used to keep the state gauge current.
func (b *Breaker) OnStateChange(fn func(name string, state State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Allow reports whether a call may proceed. In half-open state only one
// in-flight probe is permitted; the caller must follow up with
// RecordSuccess or RecordFailure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if b.now().Sub(b.lastTransition) >= b.cfg.CoolDown {
			b.transitionLocked(StateHalfOpen)
			b.probeInFlight = true
			return true
		}
		return false

	case StateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true

	default:
		return false
	}
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount = 0

	case StateHalfOpen:
		b.probeInFlight = false
		b.failureCount = 0
		b.transitionLocked(StateClosed)
	}
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	switch b.state {
	case StateClosed:
		if b.failureCount == 0 || now.Sub(b.windowStart) > b.cfg.EvaluationWindow {
			b.windowStart = now
			b.failureCount = 0
		}
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.transitionLocked(StateOpen)
		}

	case StateHalfOpen:
		// The probe failed; restart the cool-down.
		b.probeInFlight = false
		b.transitionLocked(StateOpen)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the transport name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// transitionLocked must be called with b.mu held.
func (b *Breaker) transitionLocked(next State) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	b.lastTransition = b.now()

	log.Warn().
		Str("transport", b.name).
		Str("from", prev.String()).
		Str("to", next.String()).
		Msg("circuit breaker state change")

	if b.onStateChange != nil {
		b.onStateChange(b.name, next)
	}
}
