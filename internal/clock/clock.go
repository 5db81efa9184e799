// Package clock abstracts the time operations the session timer depends on so
// tests can drive countdowns deterministically.
package clock

import "time"

type Clock interface {
	Now() time.Time
	// NewTicker delivers ticks on C every d. C has capacity 1; ticks are
	// dropped when the consumer falls behind.
	NewTicker(d time.Duration) *Ticker
}

type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns off the ticker. It does not close C.
func (t *Ticker) Stop() { t.stop() }

type realClock struct{}

func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stop: ticker.Stop}
}
