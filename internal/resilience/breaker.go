// Package resilience provides a per-server circuit breaker so a tool
// server that starts failing every call stops being hammered with
// requests that are likely to time out anyway, adapted from the
// teacher's pkg/circuitbreaker for the connection manager's per-server
// call path instead of its original per-HTTP-route use.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrBreakerOpen = errors.New("circuit breaker open: tool server is failing repeatedly")

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

type Config struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

type counts struct {
	requests            uint32
	consecutiveSuccesses uint32
	consecutiveFailures  uint32
}

// Breaker guards calls to a single tool server. It opens after
// FailureThreshold consecutive failures, refusing calls until Timeout
// elapses, then allows a single probe call through (half-open) before
// closing again on success.
type Breaker struct {
	config     Config
	mu         sync.Mutex
	state      State
	counts     counts
	expiry     time.Time
	generation uint64
}

func New(config Config) *Breaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	b := &Breaker{config: config, state: StateClosed}
	b.toNewGeneration(time.Now())
	return b
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.currentState(time.Now())
	return state
}

// Call runs fn, tripping or resetting the breaker based on its outcome.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	generation, err := b.before()
	if err != nil {
		return nil, err
	}
	result, err := fn(ctx)
	b.after(generation, err == nil)
	return result, err
}

func (b *Breaker) before() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.currentState(now)
	if state == StateOpen {
		return generation, ErrBreakerOpen
	}
	if state == StateHalfOpen && b.counts.requests >= b.config.MaxRequests {
		return generation, ErrBreakerOpen
	}
	b.counts.requests++
	return generation, nil
}

func (b *Breaker) after(before uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.currentState(now)
	if generation != before {
		return
	}

	if success {
		b.counts.consecutiveSuccesses++
		b.counts.consecutiveFailures = 0
		if state == StateHalfOpen {
			b.setState(StateClosed, now)
		}
		return
	}

	b.counts.consecutiveFailures++
	b.counts.consecutiveSuccesses = 0
	if state == StateHalfOpen || b.counts.consecutiveFailures >= b.config.FailureThreshold {
		b.setState(StateOpen, now)
	}
}

func (b *Breaker) currentState(now time.Time) (State, uint64) {
	switch b.state {
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}
	b.state = state
	b.toNewGeneration(now)
}

func (b *Breaker) toNewGeneration(now time.Time) {
	b.generation++
	b.counts = counts{}
	if b.state == StateOpen {
		b.expiry = now.Add(b.config.Timeout)
	} else {
		b.expiry = time.Time{}
	}
}

// Registry hands out one Breaker per key (tool server id), creating it
// on first use.
type Registry struct {
	mu       sync.Mutex
	config   Config
	breakers map[string]*Breaker
}

func NewRegistry(config Config) *Registry {
	return &Registry{config: config, breakers: make(map[string]*Breaker)}
}

func (r *Registry) Get(key string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b := New(r.config)
	r.breakers[key] = b
	return b
}

func (r *Registry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, key)
}

func (r *Registry) State(key string) (State, bool) {
	r.mu.Lock()
	b, ok := r.breakers[key]
	r.mu.Unlock()
	if !ok {
		return StateClosed, false
	}
	return b.State(), true
}
