package domain

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

type SessionState int

const (
	SessionStateIdle SessionState = iota
	SessionStateConnecting
	SessionStateProvisioning
	SessionStateReady
	SessionStateClosing
	SessionStateClosed
	SessionStateErrored
)

func (s SessionState) String() string {
	switch s {
	case SessionStateIdle:
		return "idle"
	case SessionStateConnecting:
		return "connecting"
	case SessionStateProvisioning:
		return "provisioning"
	case SessionStateReady:
		return "ready"
	case SessionStateClosing:
		return "closing"
	case SessionStateClosed:
		return "closed"
	case SessionStateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotStartable      = errors.New("session cannot be started")
)

func NewInvalidTransitionError(from, to SessionState) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

var validTransitions = map[SessionState][]SessionState{
	SessionStateIdle:         {SessionStateConnecting, SessionStateClosing},
	SessionStateConnecting:   {SessionStateProvisioning, SessionStateErrored, SessionStateClosing},
	SessionStateProvisioning: {SessionStateReady, SessionStateErrored, SessionStateClosing},
	SessionStateReady:        {SessionStateClosing, SessionStateClosed, SessionStateErrored},
	SessionStateClosing:      {SessionStateClosed},
	SessionStateErrored:      {SessionStateClosing},
}

func CanTransition(from, to SessionState) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// CanStart reports whether a new connection may be started from state s.
// Every failure path ends in a startable state.
func CanStart(s SessionState) bool {
	return s == SessionStateIdle || s == SessionStateClosed || s == SessionStateErrored
}

// Lease is what provisioning hands back: the session identity and the opaque
// path of its terminal channel.
type Lease struct {
	SessionID     string
	WebsocketPath string
}

type StateTransition struct {
	SessionID string
	From      SessionState
	To        SessionState
	Reason    string
	Timestamp time.Time
}

type Session struct {
	ID            string
	ScenarioID    string
	WebsocketPath string
	State         SessionState
	ExpiresAt     time.Time
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Transitions   []StateTransition

	mu sync.RWMutex
}

func NewSession(lease Lease, scenarioID string) *Session {
	now := time.Now()
	return &Session{
		ID:            lease.SessionID,
		ScenarioID:    scenarioID,
		WebsocketPath: lease.WebsocketPath,
		State:         SessionStateIdle,
		CreatedAt:     now,
		UpdatedAt:     now,
		Transitions:   make([]StateTransition, 0),
	}
}

// TransitionTo moves the session to newState and returns the recorded
// transition.
func (s *Session) TransitionTo(newState SessionState, reason string) (StateTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !CanTransition(s.State, newState) {
		return StateTransition{}, NewInvalidTransitionError(s.State, newState)
	}

	transition := StateTransition{
		SessionID: s.ID,
		From:      s.State,
		To:        newState,
		Reason:    reason,
		Timestamp: time.Now(),
	}

	s.Transitions = append(s.Transitions, transition)
	s.State = newState
	s.UpdatedAt = transition.Timestamp

	return transition, nil
}

func (s *Session) GetState() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}

func (s *Session) SetError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ErrorMessage = message
	s.UpdatedAt = time.Now()
}

func (s *Session) SetExpiresAt(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ExpiresAt = t
	s.UpdatedAt = time.Now()
}

// IsTerminal reports whether the session has ended, cleanly or not.
func (s *Session) IsTerminal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State == SessionStateClosed || s.State == SessionStateErrored
}

// SessionSnapshot is a point-in-time, lock-free copy of a Session's fields.
type SessionSnapshot struct {
	ID            string
	ScenarioID    string
	WebsocketPath string
	State         SessionState
	ExpiresAt     time.Time
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Transitions   []StateTransition
}

// Snapshot returns an atomic copy of the session under its read lock.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	transitions := make([]StateTransition, len(s.Transitions))
	copy(transitions, s.Transitions)

	return SessionSnapshot{
		ID:            s.ID,
		ScenarioID:    s.ScenarioID,
		WebsocketPath: s.WebsocketPath,
		State:         s.State,
		ExpiresAt:     s.ExpiresAt,
		ErrorMessage:  s.ErrorMessage,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
		Transitions:   transitions,
	}
}
