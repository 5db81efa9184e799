package domain

import (
	"testing"
	"time"
)

func TestEventTypeString(t *testing.T) {
	tests := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeStatusChange, "status_change"},
		{EventTypeError, "error"},
		{EventTypeExpiry, "expiry"},
		{EventTypeNotice, "notice"},
		{EventType(999), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.eventType.String(); got != tt.expected {
			t.Errorf("EventType(%d).String() = %q, want %q", tt.eventType, got, tt.expected)
		}
	}
}

func TestNewStatusChangeEvent(t *testing.T) {
	now := time.Now()
	e := NewStatusChangeEvent(StateTransition{
		SessionID: "session-123",
		From:      SessionStateProvisioning,
		To:        SessionStateReady,
		Reason:    "connected",
		Timestamp: now,
	})

	if e.Type != EventTypeStatusChange {
		t.Errorf("expected EventTypeStatusChange, got %v", e.Type)
	}
	if e.SessionID != "session-123" {
		t.Errorf("expected SessionID 'session-123', got %q", e.SessionID)
	}
	if !e.Timestamp.Equal(now) {
		t.Error("expected event to carry the transition timestamp")
	}

	data, ok := e.Data.(StatusChangeData)
	if !ok {
		t.Fatalf("expected StatusChangeData, got %T", e.Data)
	}
	if data.OldState != SessionStateProvisioning {
		t.Errorf("expected OldState provisioning, got %v", data.OldState)
	}
	if data.NewState != SessionStateReady {
		t.Errorf("expected NewState ready, got %v", data.NewState)
	}
	if data.Reason != "connected" {
		t.Errorf("expected Reason 'connected', got %q", data.Reason)
	}
}

func TestNewErrorEvent(t *testing.T) {
	e := NewErrorEvent("session-123", "scenario not found", ErrorKindProvisioning)

	if e.Type != EventTypeError {
		t.Errorf("expected EventTypeError, got %v", e.Type)
	}
	data, ok := e.Data.(ErrorData)
	if !ok {
		t.Fatalf("expected ErrorData, got %T", e.Data)
	}
	if data.Message != "scenario not found" {
		t.Errorf("expected message, got %q", data.Message)
	}
	if data.Kind != ErrorKindProvisioning {
		t.Errorf("expected provisioning kind, got %q", data.Kind)
	}
}

func TestNewExpiryEvent(t *testing.T) {
	expires := time.Date(2026, 10, 15, 13, 0, 0, 0, time.UTC)
	e := NewExpiryEvent("session-123", expires)

	data, ok := e.Data.(ExpiryData)
	if !ok {
		t.Fatalf("expected ExpiryData, got %T", e.Data)
	}
	if !data.ExpiresAt.Equal(expires) {
		t.Errorf("expected %v, got %v", expires, data.ExpiresAt)
	}
}

func TestNewNoticeEvent(t *testing.T) {
	e := NewNoticeEvent("session-123", "extension requested")
	if e.Type != EventTypeNotice {
		t.Errorf("expected EventTypeNotice, got %v", e.Type)
	}
	if data, ok := e.Data.(NoticeData); !ok || data.Message != "extension requested" {
		t.Errorf("unexpected notice data %#v", e.Data)
	}
}
