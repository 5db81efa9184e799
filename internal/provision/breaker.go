package provision

import (
	"sync"
	"time"

	"github.com/JacobWarners/New-Chaos-Web/internal/clock"
)

const (
	DefaultFailureThreshold = 3
	DefaultCooldown         = 30 * time.Second
)

// Breaker stops provisioning requests for a cooldown period after a run of
// consecutive failures.
type Breaker struct {
	mu        sync.Mutex
	clock     clock.Clock
	threshold int
	cooldown  time.Duration
	failures  int
	until     time.Time
}

func NewBreaker(threshold int, cooldown time.Duration, clk clock.Clock) *Breaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Breaker{clock: clk, threshold: threshold, cooldown: cooldown}
}

// RecordFailure counts a failure and reports whether it started a cooldown.
func (b *Breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.failures < b.threshold {
		return false
	}
	b.failures = 0
	b.until = b.clock.Now().Add(b.cooldown)
	return true
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.until = time.Time{}
}

// Remaining is the time left in the current cooldown, or zero.
func (b *Breaker) Remaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d := b.until.Sub(b.clock.Now()); d > 0 {
		return d
	}
	return 0
}
