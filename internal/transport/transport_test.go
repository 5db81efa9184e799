package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JacobWarners/New-Chaos-Web/internal/bridge"
)

func TestResolveURL(t *testing.T) {
	tests := []struct {
		server  string
		path    string
		want    string
		wantErr bool
	}{
		{"http://localhost:5000", "/terminal", "ws://localhost:5000/terminal", false},
		{"https://lab.example.com/", "/terminal?session=abc", "wss://lab.example.com/terminal?session=abc", false},
		{"http://localhost:5000/api/", "/terminal", "ws://localhost:5000/terminal", false},
		{"ws://127.0.0.1:8080", "/terminal", "ws://127.0.0.1:8080/terminal", false},
		{"ftp://localhost", "/terminal", "", true},
		{"http://", "/terminal", "", true},
		{"http://localhost:5000", "ws://elsewhere/terminal", "", true},
	}

	for _, tt := range tests {
		got, err := ResolveURL(tt.server, tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("ResolveURL(%q, %q) error = %v, wantErr %v", tt.server, tt.path, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ResolveURL(%q, %q) = %q, want %q", tt.server, tt.path, got, tt.want)
		}
	}
}

func TestNew_RejectsUnknownTransport(t *testing.T) {
	if _, err := New("carrier-pigeon", Options{Server: "http://localhost"}); err == nil {
		t.Error("expected error for unknown transport")
	}
	if _, err := New(KindGorilla, Options{Server: "localhost"}); err == nil {
		t.Error("expected error for server without scheme")
	}
}

// echoServer echoes text frames and closes normally when it receives "bye".
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/terminal" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == "bye" {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDialers_EchoAndNormalClose(t *testing.T) {
	srv := echoServer(t)

	for _, kind := range []string{KindGorilla, KindCoder} {
		t.Run(kind, func(t *testing.T) {
			dialer, err := New(kind, Options{Server: srv.URL})
			if err != nil {
				t.Fatalf("new dialer: %v", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			conn, err := dialer.Dial(ctx, "/terminal")
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			defer conn.Close()

			frame := []byte(`{"type":"pty_input","payload":"ls\r"}`)
			if err := conn.WriteMessage(frame); err != nil {
				t.Fatalf("write: %v", err)
			}
			got, err := conn.ReadMessage()
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if string(got) != string(frame) {
				t.Errorf("expected echo %s, got %s", frame, got)
			}

			if err := conn.WriteMessage([]byte("bye")); err != nil {
				t.Fatalf("write bye: %v", err)
			}
			if _, err := conn.ReadMessage(); !errors.Is(err, bridge.ErrChannelClosed) {
				t.Errorf("expected ErrChannelClosed, got %v", err)
			}
		})
	}
}

func TestDialers_FailOnMissingPath(t *testing.T) {
	srv := echoServer(t)

	for _, kind := range []string{KindGorilla, KindCoder} {
		t.Run(kind, func(t *testing.T) {
			dialer, err := New(kind, Options{Server: srv.URL})
			if err != nil {
				t.Fatalf("new dialer: %v", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := dialer.Dial(ctx, "/nope"); err == nil {
				t.Error("expected dial to fail for unknown path")
			}
		})
	}
}
