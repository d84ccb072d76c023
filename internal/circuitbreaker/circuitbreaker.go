// Package circuitbreaker stops the signal provider from dialing an origin
// that keeps failing. Each origin address gets a breaker that trips on the
// weighted failure rate of its most recent signals and probes again after a
// cooldown.
package circuitbreaker

import (
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	StateClosed   State = iota // signals flow
	StateOpen                  // signals are skipped
	StateHalfOpen              // one probe signal is allowed
)

// String returns the state name.
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

// maxWindow caps the outcome ring so it lives inline in the Breaker.
const maxWindow = 64

// Config holds breaker parameters. A FailureRate of 0 disables tripping.
type Config struct {
	FailureRate float64       // weighted failure rate that trips the breaker
	MinSamples  int           // outcomes required before it may trip
	Window      int           // number of recent outcomes considered (<= 64)
	Cooldown    time.Duration // time spent open before a probe
}

// DefaultConfig returns the defaults used when signal.breaker is omitted.
func DefaultConfig() Config {
	return Config{
		FailureRate: 0.5,
		MinSamples:  5,
		Window:      20,
		Cooldown:    30 * time.Second,
	}
}

// outcomes is a ring of the most recent failure weights.
type outcomes struct {
	weights [maxWindow]float64
	size    int
	next    int
	count   int
	sum     float64
}

func newOutcomes(size int) outcomes {
	if size <= 0 || size > maxWindow {
		size = maxWindow
	}
	return outcomes{size: size}
}

func (o *outcomes) add(weight float64) {
	if o.count == o.size {
		o.sum -= o.weights[o.next]
	} else {
		o.count++
	}
	o.weights[o.next] = weight
	o.sum += weight
	o.next = (o.next + 1) % o.size
}

func (o *outcomes) rate() (float64, int) {
	if o.count == 0 {
		return 0, 0
	}
	return o.sum / float64(o.count), o.count
}

func (o *outcomes) reset() {
	*o = newOutcomes(o.size)
}

// Breaker guards a single origin. It is safe for concurrent use.
type Breaker struct {
	mu       sync.Mutex
	cfg      Config
	state    State
	recent   outcomes
	openedAt time.Time
	probing  bool
	now      func() time.Time
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, recent: newOutcomes(cfg.Window), now: time.Now}
}

// State returns the current position, moving an expired open breaker to
// half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cool()
	return b.state
}

func (b *Breaker) cool() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.state = StateHalfOpen
		b.probing = false
	}
}

// Allow reports whether a signal may be sent. In half-open state only the
// first caller is let through as the probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cool()
	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

// Record stores the outcome of a signal. weight 0 is a success; see
// ClassifyError for failure weights.
func (b *Breaker) Record(weight float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		if weight > 0 {
			b.trip()
		} else {
			b.state = StateClosed
			b.recent.reset()
		}
		b.probing = false
		return
	}

	b.recent.add(weight)
	if b.state != StateClosed || b.cfg.FailureRate <= 0 {
		return
	}
	if rate, n := b.recent.rate(); n >= b.cfg.MinSamples && rate >= b.cfg.FailureRate {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
}
