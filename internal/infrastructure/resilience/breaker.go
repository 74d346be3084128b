package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen rejects calls while the breaker is open
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTrialLimit rejects calls once every half-open trial slot is taken
	ErrTrialLimit = errors.New("circuit breaker trial limit reached")
)

// State is the breaker position
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
	}
	return "unknown"
}

// Counts are the call outcomes observed in the current epoch
type Counts struct {
	Requests             uint32
	Successes            uint32
	Failures             uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Settings configures a Breaker. Zero values get defaults in New.
type Settings struct {
	// Trials is the number of trial calls admitted while half-open and the
	// run of successes needed to close again
	Trials uint32
	// Window clears the closed-state counts periodically; zero never clears
	Window time.Duration
	// Cooldown is how long the breaker stays open before probing
	Cooldown time.Duration
	// ShouldTrip is consulted after each closed-state failure
	ShouldTrip func(Counts) bool
	// Healthy classifies a call result; false counts as a failure
	Healthy       func(err error) bool
	OnStateChange func(name string, from, to State)
	// Now replaces the clock
	Now func() time.Time
}

// Breaker guards calls to one remote dependency
type Breaker struct {
	name string
	cfg  Settings

	mu       sync.Mutex
	state    State
	counts   Counts
	epoch    uint64
	deadline time.Time
}

// New returns a closed breaker
func New(name string, s Settings) *Breaker {
	if s.Trials == 0 {
		s.Trials = 1
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.ShouldTrip == nil {
		s.ShouldTrip = func(c Counts) bool { return c.ConsecutiveFailures >= 5 }
	}
	if s.Healthy == nil {
		s.Healthy = func(err error) bool { return err == nil }
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	b := &Breaker{name: name, cfg: s}
	b.deadline = b.windowEnd(s.Now())
	return b
}

// Name returns the breaker label
func (b *Breaker) Name() string {
	return b.name
}

// State returns the position after any due timed transition
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.advance(b.cfg.Now())
}

// Counts returns a copy of the current epoch's counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance(b.cfg.Now())
	return b.counts
}

// Do runs fn unless b rejects the call. A panic in fn counts as a failure
// and is re-raised.
func Do[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	epoch, err := b.admit()
	if err != nil {
		return zero, err
	}

	settled := false
	defer func() {
		if !settled {
			b.settle(epoch, false)
		}
	}()

	result, err := fn()
	settled = true
	b.settle(epoch, b.cfg.Healthy(err))
	return result, err
}

func (b *Breaker) windowEnd(now time.Time) time.Time {
	if b.cfg.Window <= 0 {
		return time.Time{}
	}
	return now.Add(b.cfg.Window)
}

// advance applies timed transitions. Caller holds mu.
func (b *Breaker) advance(now time.Time) State {
	switch b.state {
	case StateClosed:
		if !b.deadline.IsZero() && now.After(b.deadline) {
			b.counts = Counts{}
			b.epoch++
			b.deadline = b.windowEnd(now)
		}
	case StateOpen:
		if !now.Before(b.deadline) {
			b.transition(StateHalfOpen, now)
		}
	}
	return b.state
}

// transition starts a new epoch in state to. Caller holds mu.
func (b *Breaker) transition(to State, now time.Time) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.counts = Counts{}
	b.epoch++
	switch to {
	case StateOpen:
		b.deadline = now.Add(b.cfg.Cooldown)
	case StateClosed:
		b.deadline = b.windowEnd(now)
	default:
		b.deadline = time.Time{}
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// admit reserves a call slot and returns the epoch it belongs to
func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.advance(b.cfg.Now()) {
	case StateOpen:
		return 0, ErrCircuitOpen
	case StateHalfOpen:
		if b.counts.Requests >= b.cfg.Trials {
			return 0, ErrTrialLimit
		}
	}
	b.counts.Requests++
	return b.epoch, nil
}

// settle records an outcome. Results from an earlier epoch are dropped.
func (b *Breaker) settle(epoch uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.cfg.Now()
	state := b.advance(now)
	if epoch != b.epoch {
		return
	}

	if ok {
		b.counts.Successes++
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.cfg.Trials {
			b.transition(StateClosed, now)
		}
		return
	}

	b.counts.Failures++
	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0
	if state == StateHalfOpen || b.cfg.ShouldTrip(b.counts) {
		b.transition(StateOpen, now)
	}
}
