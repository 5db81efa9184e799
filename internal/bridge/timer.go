package bridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/JacobWarners/New-Chaos-Web/internal/clock"
	"github.com/JacobWarners/New-Chaos-Web/internal/host"
)

// WarningThreshold is the remaining time under which the countdown is shown
// as a warning.
const WarningThreshold = 5 * time.Minute

type TimerLevel int

const (
	TimerInactive TimerLevel = iota
	TimerNormal
	TimerWarning
	TimerExpired
)

func (l TimerLevel) String() string {
	switch l {
	case TimerInactive:
		return "inactive"
	case TimerNormal:
		return "normal"
	case TimerWarning:
		return "warning"
	case TimerExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// TimerState is the countdown as last computed. Active is false when no
// expiry has been reported.
type TimerState struct {
	Active           bool
	ExpiresAt        time.Time
	RemainingSeconds int
}

func (s TimerState) Level() TimerLevel {
	switch {
	case !s.Active:
		return TimerInactive
	case s.RemainingSeconds <= 0:
		return TimerExpired
	case time.Duration(s.RemainingSeconds)*time.Second < WarningThreshold:
		return TimerWarning
	default:
		return TimerNormal
	}
}

func (s TimerState) Display() string {
	switch s.Level() {
	case TimerInactive:
		return "Session Time: Not Active"
	case TimerExpired:
		return "Time Remaining: EXPIRED"
	}
	return fmt.Sprintf("Time Remaining: %02d:%02d", s.RemainingSeconds/60, s.RemainingSeconds%60)
}

// Cadence calls fn every d until the returned stop function is called.
type Cadence interface {
	Every(d time.Duration, fn func()) (stop func())
}

// ClockCadence delivers ticks from a clock onto a dispatcher.
type ClockCadence struct {
	Clock      clock.Clock
	Dispatcher Dispatcher
}

func (c ClockCadence) Every(d time.Duration, fn func()) func() {
	ticker := c.Clock.NewTicker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				c.Dispatcher.Post(fn)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

// SessionTimer counts down to the server-reported expiry of the session
// lease. It never computes time on its own after SetExpiry: each tick
// decrements the count by one second until it reaches zero.
type SessionTimer struct {
	clock   clock.Clock
	cadence Cadence

	state TimerState
	stop  func()
	// gen invalidates ticks that were already posted when the cadence stopped.
	gen uint64

	extend  func() bool
	changes host.Listener[TimerState]
}

func NewSessionTimer(clk clock.Clock, cadence Cadence) *SessionTimer {
	return &SessionTimer{clock: clk, cadence: cadence}
}

// SetExpiry replaces the expiry and restarts the countdown from it.
func (t *SessionTimer) SetExpiry(expiresAt time.Time) {
	t.stopCadence()

	remaining := 0
	if d := expiresAt.Sub(t.clock.Now()); d > 0 {
		remaining = int((d + time.Second - 1) / time.Second)
	}
	t.state = TimerState{Active: true, ExpiresAt: expiresAt, RemainingSeconds: remaining}
	t.notify()

	if remaining > 0 {
		gen := t.gen
		t.stop = t.cadence.Every(time.Second, func() { t.tick(gen) })
	}
}

func (t *SessionTimer) tick(gen uint64) {
	if gen != t.gen || !t.state.Active || t.state.RemainingSeconds <= 0 {
		return
	}
	t.state.RemainingSeconds--
	if t.state.RemainingSeconds == 0 {
		t.stopCadence()
	}
	t.notify()
}

// ExtendRequested asks the connection to extend the lease. The countdown is
// untouched; it changes when the server reports the new expiry.
func (t *SessionTimer) ExtendRequested() bool {
	if t.extend == nil {
		return false
	}
	return t.extend()
}

// Clear stops the countdown and forgets the expiry.
func (t *SessionTimer) Clear() {
	t.stopCadence()
	if !t.state.Active {
		return
	}
	t.state = TimerState{}
	t.notify()
}

func (t *SessionTimer) stopCadence() {
	t.gen++
	if t.stop != nil {
		t.stop()
		t.stop = nil
	}
}

func (t *SessionTimer) State() TimerState {
	return t.state
}

// Running reports whether a cadence is active.
func (t *SessionTimer) Running() bool {
	return t.stop != nil
}

// OnChange registers fn to receive every state change.
func (t *SessionTimer) OnChange(fn func(TimerState)) (unsubscribe func(), err error) {
	return t.changes.Subscribe(fn)
}

func (t *SessionTimer) notify() {
	t.changes.Fire(t.state)
}
