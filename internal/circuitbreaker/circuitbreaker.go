// Package circuitbreaker gates calls to an unreliable endpoint (RPC node,
// multisig coordination service) so that watchers back off while it is failing
// instead of hammering it every round.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
)

// State of the breaker
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls are skipped until the cool down ends
	StateHalfOpen              // probing whether the endpoint recovered
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

// Config of a Breaker
type Config struct {
	// Name identifies the guarded endpoint in logs
	Name string

	// FailureThreshold consecutive failures open the breaker
	FailureThreshold int

	// SuccessThreshold consecutive successes while half-open close it again
	SuccessThreshold int

	// CoolDown is how long the breaker stays open before probing
	CoolDown time.Duration

	// OnStateChange is called synchronously, outside the breaker lock
	OnStateChange func(from, to State)

	// Now overrides the clock, for tests
	Now func() time.Time
}

// DefaultConfig returns the configuration used when none is given
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		CoolDown:         30 * time.Second,
	}
}

// Breaker tracks the health of one endpoint
type Breaker struct {
	mu sync.Mutex

	cfg   Config
	state State

	failures    int
	successes   int
	openedAt    time.Time
	lastFailure time.Time
}

// New creates a closed breaker. Non positive thresholds and cool down fall back
// to DefaultConfig values.
func New(cfg Config) *Breaker {
	def := DefaultConfig(cfg.Name)
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = def.CoolDown
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// State returns the current state. An open breaker whose cool down elapsed
// reports half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.CoolDown {
		return StateHalfOpen
	}
	return b.state
}

// Allow reports whether a call should be attempted now
func (b *Breaker) Allow() bool {
	return b.State() != StateOpen
}

// Success records a call that reached the endpoint
func (b *Breaker) Success() {
	b.mu.Lock()
	b.failures = 0
	b.successes++

	var from, to State
	changed := false
	if cur := b.stateLocked(); cur == StateHalfOpen && b.successes >= b.cfg.SuccessThreshold {
		from, to, changed = cur, StateClosed, true
		b.state = StateClosed
		b.successes = 0
	}
	b.mu.Unlock()

	if changed {
		b.notify(from, to)
	}
}

// Failure records a call that could not reach the endpoint
func (b *Breaker) Failure() {
	b.mu.Lock()
	now := b.cfg.Now()
	b.successes = 0
	b.failures++
	b.lastFailure = now

	var from State
	changed := false
	switch cur := b.stateLocked(); cur {
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			from, changed = cur, true
		}
	case StateHalfOpen:
		// the probe failed, cool down again
		from, changed = cur, true
	}
	if changed {
		b.state = StateOpen
		b.openedAt = now
	}
	b.mu.Unlock()

	if changed {
		b.notify(from, StateOpen)
	}
}

// Reset closes the breaker and clears its counters
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.stateLocked()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.mu.Unlock()

	if from != StateClosed {
		b.notify(from, StateClosed)
	}
}

func (b *Breaker) notify(from, to State) {
	fields := logger.Fields{
		"endpoint": b.cfg.Name,
		"from":     from.String(),
		"to":       to.String(),
	}
	if to == StateOpen {
		logger.WithFields(fields).Warn("endpoint unhealthy, backing off")
	} else {
		logger.WithFields(fields).Info("endpoint state changed")
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

// Stats is a point in time view of the breaker
type Stats struct {
	State               State
	ConsecutiveFailures int
	LastFailure         time.Time
}

// Stats returns the current counters
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:               b.stateLocked(),
		ConsecutiveFailures: b.failures,
		LastFailure:         b.lastFailure,
	}
}
