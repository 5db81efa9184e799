package provision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JacobWarners/New-Chaos-Web/internal/clock"
	apiTypes "github.com/JacobWarners/New-Chaos-Web/pkg/api"
)

func TestCreateSession(t *testing.T) {
	var got apiTypes.ScenarioRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != ScenariosPath {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(apiTypes.ScenarioResponse{
			Message:       "Scenario started!",
			SessionID:     "abc",
			WebsocketPath: "/terminal?session=abc",
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/", nil, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	resp, err := client.CreateSession(context.Background(), "kubernetes-crashloop")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if got.Repo != "kubernetes-crashloop" {
		t.Errorf("repo = %q", got.Repo)
	}
	lease := Lease(resp)
	if lease.SessionID != "abc" || lease.WebsocketPath != "/terminal?session=abc" {
		t.Errorf("lease = %+v", lease)
	}
}

func TestCreateSessionFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{name: "error body", status: http.StatusBadRequest, body: `{"error":"unknown scenario"}`, wantMsg: "unknown scenario"},
		{name: "status only", status: http.StatusBadGateway, body: `upstream down`, wantMsg: "502"},
		{name: "missing path", status: http.StatusOK, body: `{"sessionId":"abc"}`, wantMsg: "missing session id"},
		{name: "missing id", status: http.StatusOK, body: `{"websocketPath":"/terminal"}`, wantMsg: "missing session id"},
		{name: "not json", status: http.StatusOK, body: `<html>`, wantMsg: "decode response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client, err := NewClient(srv.URL, nil, nil)
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}
			_, err = client.CreateSession(context.Background(), "s")
			if !errors.Is(err, ErrProvisioning) {
				t.Fatalf("expected ErrProvisioning, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestCreateSessionRequiresScenario(t *testing.T) {
	client, err := NewClient("http://localhost:5000", nil, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.CreateSession(context.Background(), "  "); !errors.Is(err, ErrProvisioning) {
		t.Fatalf("expected ErrProvisioning, got %v", err)
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"ws://host", "localhost:5000", "http://", "://bad"} {
		if _, err := NewClient(raw, nil, nil); err == nil {
			t.Errorf("NewClient(%q) should fail", raw)
		}
	}
}

func TestCreateSessionBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	client, err := NewClient(srv.URL, nil, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	client.SetBreaker(NewBreaker(2, time.Minute, fake))

	for i := 0; i < 2; i++ {
		if _, err := client.CreateSession(context.Background(), "s"); !errors.Is(err, ErrProvisioning) {
			t.Fatalf("attempt %d: expected ErrProvisioning, got %v", i, err)
		}
	}
	if _, err := client.CreateSession(context.Background(), "s"); !errors.Is(err, ErrCoolingDown) {
		t.Fatalf("expected ErrCoolingDown, got %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("server called %d times during cooldown, want 2", n)
	}

	fake.Advance(time.Minute)
	if _, err := client.CreateSession(context.Background(), "s"); !errors.Is(err, ErrProvisioning) {
		t.Fatalf("expected a real attempt after cooldown, got %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestBreakerSuccessResets(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	b := NewBreaker(2, time.Minute, fake)
	b.RecordFailure()
	b.RecordSuccess()
	if b.RecordFailure() {
		t.Fatal("a success should reset the failure run")
	}
	if !b.RecordFailure() {
		t.Fatal("second consecutive failure should open the breaker")
	}
	if got := b.Remaining(); got != time.Minute {
		t.Errorf("Remaining = %v, want 1m", got)
	}
	fake.Advance(30 * time.Second)
	if got := b.Remaining(); got != 30*time.Second {
		t.Errorf("Remaining = %v, want 30s", got)
	}
}
