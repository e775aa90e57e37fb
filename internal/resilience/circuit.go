package resilience

import (
	"sync"
	"time"
)

// State is the circuit breaker state for one backend.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker is a consecutive-failure circuit breaker. Failures are recorded
// once per envelope call (after retries are exhausted), not per attempt, so
// the threshold counts whole failed calls. While half-open, exactly one probe
// call is admitted; everything else is short-circuited until the probe
// resolves.
type Breaker struct {
	mu            sync.Mutex
	state         State
	failureCount  int
	openedAt      time.Time
	probeInFlight bool

	threshold int
	cooldown  time.Duration
	now       func() time.Time
	onChange  func(from, to State)
}

// NewBreaker creates a closed breaker. onChange may be nil; when set it is
// invoked outside the lock-protected fast path for every state transition.
func NewBreaker(threshold int, cooldown time.Duration, onChange func(from, to State)) *Breaker {
	return &Breaker{
		state:     StateClosed,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		onChange:  onChange,
	}
}

// Allow reports whether a call may proceed. When the cooldown of an open
// breaker has elapsed, the first caller gets the half-open probe slot:
// probing is true and the caller must later resolve it with ProbeResult or
// ReleaseProbe.
func (b *Breaker) Allow() (allowed, probing bool) {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return true, false

	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return false, false
		}
		from := b.state
		b.state = StateHalfOpen
		b.probeInFlight = true
		b.mu.Unlock()
		b.notify(from, StateHalfOpen)
		return true, true

	case StateHalfOpen:
		if b.probeInFlight {
			b.mu.Unlock()
			return false, false
		}
		b.probeInFlight = true
		b.mu.Unlock()
		return true, true

	default:
		b.mu.Unlock()
		return false, false
	}
}

// RecordSuccess resets the consecutive failure count after a successful call
// admitted through a closed breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.failureCount = 0
	b.mu.Unlock()
}

// RecordFailure counts one failed call. Crossing the threshold opens the
// breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	b.failureCount++
	if b.state == StateClosed && b.failureCount >= b.threshold {
		b.state = StateOpen
		b.openedAt = b.now()
		b.mu.Unlock()
		b.notify(StateClosed, StateOpen)
		return
	}
	b.mu.Unlock()
}

// ProbeResult resolves the half-open probe: success closes the breaker,
// failure re-opens it and restarts the cooldown.
func (b *Breaker) ProbeResult(ok bool) {
	b.mu.Lock()
	if b.state != StateHalfOpen {
		// Probe raced with a manual state change; nothing to resolve.
		b.probeInFlight = false
		b.mu.Unlock()
		return
	}
	b.probeInFlight = false
	if ok {
		b.state = StateClosed
		b.failureCount = 0
		b.mu.Unlock()
		b.notify(StateHalfOpen, StateClosed)
		return
	}
	b.state = StateOpen
	b.openedAt = b.now()
	b.mu.Unlock()
	b.notify(StateHalfOpen, StateOpen)
}

// ProbeOutcome applies a background health probe result directly, bypassing
// the request-path gate: a healthy probe closes an open or half-open circuit
// immediately without waiting out the cooldown, while an unhealthy probe
// counts like a failed call, so circuits open and recover even with no user
// traffic.
func (b *Breaker) ProbeOutcome(healthy bool) {
	b.mu.Lock()
	from := b.state

	if healthy {
		if from == StateClosed {
			b.failureCount = 0
			b.mu.Unlock()
			return
		}
		b.state = StateClosed
		b.failureCount = 0
		b.probeInFlight = false
		b.mu.Unlock()
		b.notify(from, StateClosed)
		return
	}

	switch from {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.threshold {
			b.state = StateOpen
			b.openedAt = b.now()
			b.mu.Unlock()
			b.notify(StateClosed, StateOpen)
			return
		}
		b.mu.Unlock()
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = b.now()
		b.probeInFlight = false
		b.mu.Unlock()
		b.notify(StateHalfOpen, StateOpen)
	default:
		b.mu.Unlock()
	}
}

// ReleaseProbe returns an unused probe slot, for callers that were granted
// the probe but resolved from cache or were canceled before reaching the
// backend.
func (b *Breaker) ReleaseProbe() {
	b.mu.Lock()
	b.probeInFlight = false
	b.mu.Unlock()
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the current consecutive failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

func (b *Breaker) notify(from, to State) {
	if b.onChange != nil {
		b.onChange(from, to)
	}
}
