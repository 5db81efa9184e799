package domain

import "time"

type EventType int

const (
	EventTypeStatusChange EventType = iota
	EventTypeError
	EventTypeExpiry
	EventTypeNotice
)

func (t EventType) String() string {
	switch t {
	case EventTypeStatusChange:
		return "status_change"
	case EventTypeError:
		return "error"
	case EventTypeExpiry:
		return "expiry"
	case EventTypeNotice:
		return "notice"
	default:
		return "unknown"
	}
}

// Event is what the session bridge reports to whoever renders its status.
type Event struct {
	Type      EventType
	Timestamp time.Time
	SessionID string
	Data      any
}

type StatusChangeData struct {
	OldState SessionState
	NewState SessionState
	Reason   string
}

type ErrorData struct {
	Message string
	Kind    ErrorKind
}

type ExpiryData struct {
	ExpiresAt time.Time
}

type NoticeData struct {
	Message string
}

// ErrorKind classifies why a session ended in SessionStateErrored.
type ErrorKind string

const (
	ErrorKindConnection      ErrorKind = "connection"
	ErrorKindProvisioning    ErrorKind = "provisioning"
	ErrorKindUnexpectedClose ErrorKind = "unexpected_close"
	ErrorKindPresentation    ErrorKind = "presentation"
)

func NewStatusChangeEvent(tr StateTransition) Event {
	return Event{
		Type:      EventTypeStatusChange,
		Timestamp: tr.Timestamp,
		SessionID: tr.SessionID,
		Data: StatusChangeData{
			OldState: tr.From,
			NewState: tr.To,
			Reason:   tr.Reason,
		},
	}
}

func NewErrorEvent(sessionID, message string, kind ErrorKind) Event {
	return Event{
		Type:      EventTypeError,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data: ErrorData{
			Message: message,
			Kind:    kind,
		},
	}
}

func NewExpiryEvent(sessionID string, expiresAt time.Time) Event {
	return Event{
		Type:      EventTypeExpiry,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      ExpiryData{ExpiresAt: expiresAt},
	}
}

func NewNoticeEvent(sessionID, message string) Event {
	return Event{
		Type:      EventTypeNotice,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      NoticeData{Message: message},
	}
}
