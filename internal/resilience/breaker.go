// Package resilience guards outbound delivery calls against failing
// downstream services.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/confirmd/confirmd/internal/clock"
)

// ErrCircuitOpen rejects calls while the breaker is cooling down.
var ErrCircuitOpen = errors.New("circuit open")

// State is the breaker position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	}
	return "unknown"
}

// Breaker trips after a run of consecutive failures and rejects calls for a
// cooldown period. The first call after the cooldown probes the downstream;
// its outcome decides whether the breaker closes again or re-opens.
type Breaker struct {
	mu        sync.Mutex
	state     State
	failures  int
	threshold int
	cooldown  time.Duration
	openedAt  time.Time
	clk       clock.Clock
}

// NewBreaker creates a breaker that opens after threshold consecutive
// failures and probes again once cooldown has elapsed.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return NewBreakerWithClock(threshold, cooldown, clock.System{})
}

// NewBreakerWithClock is NewBreaker with an injected time source.
func NewBreakerWithClock(threshold int, cooldown time.Duration, clk clock.Clock) *Breaker {
	return &Breaker{threshold: threshold, cooldown: cooldown, clk: clk}
}

// Execute runs fn unless the breaker is open, then records the outcome.
func (b *Breaker) Execute(fn func() error) error {
	if !b.admit() {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		if b.state == HalfOpen || b.failures >= b.threshold {
			b.state = Open
			b.openedAt = b.clk.Now()
		}
		return err
	}
	b.failures = 0
	b.state = Closed
	return nil
}

// State reports the breaker position, accounting for an elapsed cooldown.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.clk.Now().Sub(b.openedAt) >= b.cooldown {
		return HalfOpen
	}
	return b.state
}

func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed, HalfOpen:
		return true
	case Open:
		if b.clk.Now().Sub(b.openedAt) >= b.cooldown {
			b.state = HalfOpen
			return true
		}
	}
	return false
}
