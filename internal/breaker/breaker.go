// Package breaker implements a per-backend circuit breaker used to admit
// or reject requests to MCP servers that are failing repeatedly.
package breaker

import (
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config holds the tunables for a single breaker.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// DefaultConfig returns the router's default breaker tunables.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
	}
}

// Status is a point-in-time snapshot of a breaker's state, safe to marshal
// and hand to callers outside the package.
type Status struct {
	Name             string     `json:"name"`
	State            State      `json:"state"`
	Failures         int        `json:"failures"`
	FailureThreshold int        `json:"failure_threshold"`
	LastFailure      *time.Time `json:"last_failure"`
	LastSuccess      *time.Time `json:"last_success"`
}

// Breaker is a single per-backend circuit breaker. All methods are safe for
// concurrent use: every read and update of the state and failure counter
// happens under the breaker's own mutex.
type Breaker struct {
	mu     sync.Mutex
	name   string
	cfg    Config
	state  State
	fails  int
	lastFail *time.Time
	lastOK   *time.Time
}

// New creates a breaker in the CLOSED state with zero failures.
func New(name string, cfg Config) *Breaker {
	return &Breaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
	}
}

// RecordSuccess transitions the breaker back to CLOSED and resets the
// failure counter, regardless of prior state.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.fails = 0
	b.state = StateClosed
	now := time.Now()
	b.lastOK = &now
}

// RecordFailure increments the failure counter and opens the circuit once
// the threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.fails++
	now := time.Now()
	b.lastFail = &now

	if b.fails >= b.cfg.FailureThreshold {
		b.state = StateOpen
	}
}

// CanExecute reports whether a request should be admitted. OPEN transitions
// to HALF_OPEN (and admits) the first time it is called after the recovery
// timeout has elapsed; HALF_OPEN always admits, tolerating the fact that the
// caller is itself the recovery probe.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.lastFail != nil && time.Since(*b.lastFail) > b.cfg.RecoveryTimeout {
			b.state = StateHalfOpen
			return true
		}
		return false
	default: // HALF_OPEN
		return true
	}
}

// Status returns a snapshot of the breaker's current state.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Status{
		Name:             b.name,
		State:            b.state,
		Failures:         b.fails,
		FailureThreshold: b.cfg.FailureThreshold,
		LastFailure:      b.lastFail,
		LastSuccess:      b.lastOK,
	}
}

// Reset manually restores CLOSED with a zeroed failure counter.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.fails = 0
	b.state = StateClosed
	b.lastFail = nil
}

// Registry lazily materializes one breaker per backend name, sharing a
// single default configuration.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*Breaker
}

// NewRegistry creates a registry using cfg as the default for every
// lazily-created breaker.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = New(name, r.cfg)
		r.breakers[name] = b
	}
	return b
}

// AllStatus returns a status snapshot for every breaker created so far.
func (r *Registry) AllStatus() []Status {
	r.mu.Lock()
	names := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		names = append(names, b)
	}
	r.mu.Unlock()

	out := make([]Status, 0, len(names))
	for _, b := range names {
		out = append(out, b.Status())
	}
	return out
}

// ResetAll resets every known breaker to CLOSED.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	for _, b := range breakers {
		b.Reset()
	}
}

// ResetOne resets a single named breaker, reporting whether it existed.
func (r *Registry) ResetOne(name string) bool {
	r.mu.Lock()
	b, ok := r.breakers[name]
	r.mu.Unlock()

	if !ok {
		return false
	}
	b.Reset()
	return true
}
