package androidtv

import (
	"math/rand"
	"sync"
	"time"
)

// Default reconnect policy parameters.
const (
	defaultBaseDelay = 2 * time.Second
	defaultMaxDelay  = 2 * time.Minute

	// jitterFraction is the +/- fraction of the computed delay that is
	// randomised to avoid synchronised reconnect storms when several
	// devices drop at once (e.g. a network segment going down).
	jitterFraction = 0.1
)

// ReconnectPolicy computes backoff delays from consecutive failure
// counts: min(base * 2^(n-1), max) with a small random jitter. The
// first failure yields the base delay so a single transient drop
// recovers quickly; repeated failures back off exponentially up to max.
type ReconnectPolicy struct {
	base time.Duration
	max  time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewReconnectPolicy creates a policy with the given base and maximum
// delays. Zero values fall back to the defaults.
func NewReconnectPolicy(base, max time.Duration) *ReconnectPolicy {
	if base <= 0 {
		base = defaultBaseDelay
	}
	if max <= 0 {
		max = defaultMaxDelay
	}
	if max < base {
		max = base
	}
	return &ReconnectPolicy{
		base: base,
		max:  max,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // jitter does not need crypto randomness
	}
}

// NextDelay returns the delay before the retry following the given
// consecutive failure count (1 = first failure). The un-jittered value
// is monotonically non-decreasing in failureCount until capped at max.
func (p *ReconnectPolicy) NextDelay(failureCount int) time.Duration {
	if failureCount < 1 {
		failureCount = 1
	}

	delay := p.base
	for i := 1; i < failureCount; i++ {
		delay *= 2
		if delay >= p.max {
			delay = p.max
			break
		}
	}
	if delay > p.max {
		delay = p.max
	}

	return p.jitter(delay)
}

// jitter applies +/- jitterFraction to the delay.
func (p *ReconnectPolicy) jitter(d time.Duration) time.Duration {
	p.mu.Lock()
	f := p.rng.Float64()
	p.mu.Unlock()

	// f in [0,1) -> factor in [1-j, 1+j)
	factor := 1 - jitterFraction + 2*jitterFraction*f
	return time.Duration(float64(d) * factor)
}

// Base returns the configured base delay.
func (p *ReconnectPolicy) Base() time.Duration { return p.base }

// Max returns the configured maximum delay.
func (p *ReconnectPolicy) Max() time.Duration { return p.max }
