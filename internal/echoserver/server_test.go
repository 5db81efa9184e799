package echoserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/JacobWarners/New-Chaos-Web/internal/bridge"
	"github.com/JacobWarners/New-Chaos-Web/internal/clock"
	"github.com/JacobWarners/New-Chaos-Web/internal/provision"
	"github.com/JacobWarners/New-Chaos-Web/internal/transport"
	"github.com/JacobWarners/New-Chaos-Web/pkg/realtime"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testServer struct {
	t      *testing.T
	http   *httptest.Server
	clock  *clock.FakeClock
	client *provision.Client
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	fake := clock.Fake(epoch)
	if cfg.Clock == nil {
		cfg.Clock = fake
	}
	srv := httptest.NewServer(New(cfg).Handler())
	t.Cleanup(srv.Close)
	client, err := provision.NewClient(srv.URL, srv.Client(), nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return &testServer{t: t, http: srv, clock: fake, client: client}
}

func (s *testServer) dial(path string) bridge.Conn {
	s.t.Helper()
	dialer := transport.NewGorillaDialer(transport.Options{Server: s.http.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := dialer.Dial(ctx, path)
	if err != nil {
		s.t.Fatalf("dial %s: %v", path, err)
	}
	s.t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// open provisions scenario and returns its channel with run_terraform sent.
func (s *testServer) open(scenario string) bridge.Conn {
	s.t.Helper()
	resp, err := s.client.CreateSession(context.Background(), scenario)
	if err != nil {
		s.t.Fatalf("CreateSession: %v", err)
	}
	conn := s.dial(resp.WebsocketPath)
	send(s.t, conn, realtime.ClientMessageTypeRunTerraform, scenario)
	return conn
}

func send(t *testing.T, conn bridge.Conn, kind realtime.ClientMessageType, payload any) {
	t.Helper()
	msg, err := realtime.NewMessage(kind, payload)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	data, err := realtime.Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := conn.WriteMessage(data); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
}

type frame struct {
	msg realtime.Message
	err error
}

func read(t *testing.T, conn bridge.Conn) (realtime.Message, error) {
	t.Helper()
	result := make(chan frame, 1)
	go func() {
		data, err := conn.ReadMessage()
		if err != nil {
			result <- frame{err: err}
			return
		}
		msg, err := realtime.Decode(data)
		result <- frame{msg: msg, err: err}
	}()
	select {
	case f := <-result:
		return f.msg, f.err
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for a frame")
		return realtime.Message{}, nil
	}
}

func expect(t *testing.T, conn bridge.Conn, kind realtime.ServerMessageType) realtime.Message {
	t.Helper()
	msg, err := read(t, conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != string(kind) {
		t.Fatalf("got %s frame %s, want %s", msg.Type, msg.Payload, kind)
	}
	return msg
}

func expectText(t *testing.T, conn bridge.Conn, kind realtime.ServerMessageType) string {
	t.Helper()
	text, err := expect(t, conn, kind).Text()
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	return text
}

// expectReady consumes the provisioning sequence and returns the first expiry.
func expectReady(t *testing.T, conn bridge.Conn) time.Time {
	t.Helper()
	if got := expectText(t, conn, realtime.ServerMessageTypePtyOutput); !strings.Contains(got, "Provisioning scenario") {
		t.Fatalf("first output = %q", got)
	}
	if got := expectText(t, conn, realtime.ServerMessageTypeStatus); got != realtime.StatusConnected {
		t.Fatalf("status = %q", got)
	}
	status, err := expect(t, conn, realtime.ServerMessageTypeSessionStatus).SessionStatus()
	if err != nil {
		t.Fatalf("SessionStatus: %v", err)
	}
	if got := expectText(t, conn, realtime.ServerMessageTypePtyOutput); got != welcomeBanner {
		t.Fatalf("welcome = %q", got)
	}
	return status.ExpiresAt
}

func TestScenarioLifecycle(t *testing.T) {
	srv := newTestServer(t, Config{SessionLifetime: time.Hour, ExtendBy: 30 * time.Minute})
	conn := srv.open("kubernetes-crashloop")

	expires := expectReady(t, conn)
	if !expires.Equal(epoch.Add(time.Hour)) {
		t.Fatalf("expires = %v, want %v", expires, epoch.Add(time.Hour))
	}

	send(t, conn, realtime.ClientMessageTypePtyInput, "ls\r")
	if got := expectText(t, conn, realtime.ServerMessageTypePtyOutput); got != "ls\r\n" {
		t.Errorf("echo = %q", got)
	}

	send(t, conn, realtime.ClientMessageTypeSessionExtend, nil)
	status, err := expect(t, conn, realtime.ServerMessageTypeSessionStatus).SessionStatus()
	if err != nil {
		t.Fatalf("SessionStatus: %v", err)
	}
	if !status.ExpiresAt.Equal(expires.Add(30 * time.Minute)) {
		t.Errorf("extended expiry = %v", status.ExpiresAt)
	}
	if status.Message != "Session extended." {
		t.Errorf("extend message = %q", status.Message)
	}
}

func TestUnknownSessionGetsError(t *testing.T) {
	srv := newTestServer(t, Config{})
	conn := srv.dial(realtime.TerminalPath + "?session=missing")
	send(t, conn, realtime.ClientMessageTypeRunTerraform, "anything")

	if got := expectText(t, conn, realtime.ServerMessageTypeError); !strings.Contains(got, "not found") {
		t.Errorf("error = %q", got)
	}
}

func TestFailingScenario(t *testing.T) {
	srv := newTestServer(t, Config{FailScenarios: []string{"broken"}})
	conn := srv.open("broken")

	if got := expectText(t, conn, realtime.ServerMessageTypeError); !strings.Contains(got, "failed to provision") {
		t.Errorf("error = %q", got)
	}
}

func TestSessionServesOneChannel(t *testing.T) {
	srv := newTestServer(t, Config{})
	resp, err := srv.client.CreateSession(context.Background(), "dns")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	first := srv.dial(resp.WebsocketPath)
	send(t, first, realtime.ClientMessageTypeRunTerraform, "dns")
	expectReady(t, first)

	second := srv.dial(resp.WebsocketPath)
	send(t, second, realtime.ClientMessageTypeRunTerraform, "dns")
	if got := expectText(t, second, realtime.ServerMessageTypeError); !strings.Contains(got, "already attached") {
		t.Errorf("error = %q", got)
	}
}

func TestInputBeforeReadyIsDropped(t *testing.T) {
	srv := newTestServer(t, Config{ProvisionDelay: 50 * time.Millisecond})
	conn := srv.open("dns")
	send(t, conn, realtime.ClientMessageTypePtyInput, "early")

	expectReady(t, conn)
	send(t, conn, realtime.ClientMessageTypePtyInput, "late")
	if got := expectText(t, conn, realtime.ServerMessageTypePtyOutput); got != "late" {
		t.Errorf("output = %q, want only the input sent after ready", got)
	}
}

func TestSessionExpiryClosesChannel(t *testing.T) {
	srv := newTestServer(t, Config{SessionLifetime: time.Minute})
	conn := srv.open("dns")
	expectReady(t, conn)

	srv.clock.Advance(time.Minute)

	if got := expectText(t, conn, realtime.ServerMessageTypePtyOutput); got != expiredBanner {
		t.Fatalf("output = %q", got)
	}
	if _, err := read(t, conn); !errors.Is(err, bridge.ErrChannelClosed) {
		t.Fatalf("expected a normal close, got %v", err)
	}
}

func TestCreateScenarioValidation(t *testing.T) {
	srv := newTestServer(t, Config{})

	_, err := srv.client.CreateSession(context.Background(), "x")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	resp, err := http.Post(srv.http.URL+"/api/scenarios", "application/json", strings.NewReader(`{"repo":""}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty repo status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS header = %q", got)
	}

	resp, err = http.Post(srv.http.URL+"/api/scenarios", "application/json", strings.NewReader(`{`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body status = %d", resp.StatusCode)
	}
}

func TestShellMode(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	srv := newTestServer(t, Config{Shell: "/bin/sh"})
	conn := srv.open("shell")

	if got := expectText(t, conn, realtime.ServerMessageTypePtyOutput); !strings.Contains(got, "Provisioning") {
		t.Fatalf("first output = %q", got)
	}
	send(t, conn, realtime.ClientMessageTypePtyInput, "echo chaos-$((6*7))\r")

	var seen strings.Builder
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		msg, err := read(t, conn)
		if err != nil {
			t.Fatalf("read: %v (output so far %q)", err, seen.String())
		}
		if msg.Type != string(realtime.ServerMessageTypePtyOutput) {
			continue
		}
		text, _ := msg.Text()
		seen.WriteString(text)
		if strings.Contains(seen.String(), "chaos-42") {
			return
		}
	}
	t.Fatalf("shell output never contained the command result: %q", seen.String())
}

func TestCompletePrefix(t *testing.T) {
	euro := []byte("€") // 3 bytes
	tests := []struct {
		name string
		in   []byte
		want int
	}{
		{"empty", nil, 0},
		{"ascii", []byte("abc"), 3},
		{"full rune", append([]byte("a"), euro...), 4},
		{"one byte of three", append([]byte("a"), euro[0]), 1},
		{"two bytes of three", append([]byte("a"), euro[:2]...), 1},
	}
	for _, tt := range tests {
		if got := completePrefix(tt.in); got != tt.want {
			t.Errorf("%s: completePrefix = %d, want %d", tt.name, got, tt.want)
		}
	}
}
