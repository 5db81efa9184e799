package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/JacobWarners/New-Chaos-Web/internal/clock"
	"github.com/JacobWarners/New-Chaos-Web/internal/domain"
	"github.com/JacobWarners/New-Chaos-Web/internal/host"
	"github.com/JacobWarners/New-Chaos-Web/pkg/realtime"
)

const waitTimeout = 2 * time.Second

// fakeConn is a channel whose server side is driven by the test.
type fakeConn struct {
	inbound chan []byte
	closeCh chan struct{}

	mu       sync.Mutex
	closeErr error
	closes   int
	writes   []realtime.Message
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte),
		closeCh: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closeCh:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.closeErr
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeErr != nil {
		return c.closeErr
	}
	msg, err := realtime.Decode(data)
	if err != nil {
		return err
	}
	c.writes = append(c.writes, msg)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.shutdown(ErrChannelClosed)
	return nil
}

func (c *fakeConn) shutdown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeErr != nil {
		return
	}
	c.closeErr = err
	close(c.closeCh)
}

// push blocks until the read pump has taken the frame.
func (c *fakeConn) push(t *testing.T, kind realtime.ServerMessageType, payload any) {
	t.Helper()
	msg, err := realtime.NewMessage(kind, payload)
	if err != nil {
		t.Fatalf("build %s: %v", kind, err)
	}
	data, err := realtime.Encode(msg)
	if err != nil {
		t.Fatalf("encode %s: %v", kind, err)
	}
	c.pushRaw(t, data)
}

func (c *fakeConn) pushRaw(t *testing.T, data []byte) {
	t.Helper()
	select {
	case c.inbound <- data:
	case <-time.After(waitTimeout):
		t.Fatalf("read pump did not take frame %s", data)
	}
}

// serverClose ends the channel from the server side.
func (c *fakeConn) serverClose(err error) {
	c.shutdown(err)
}

func (c *fakeConn) sent() []realtime.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]realtime.Message, len(c.writes))
	copy(out, c.writes)
	return out
}

func (c *fakeConn) sentOfType(kind realtime.ClientMessageType) []realtime.Message {
	var out []realtime.Message
	for _, msg := range c.sent() {
		if msg.Type == string(kind) {
			out = append(out, msg)
		}
	}
	return out
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

type fakeDialer struct {
	mu    sync.Mutex
	paths []string
	err   error
	gate  chan struct{}
	conns chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 8)}
}

func (d *fakeDialer) Dial(ctx context.Context, path string) (Conn, error) {
	d.mu.Lock()
	d.paths = append(d.paths, path)
	gate, err := d.gate, d.err
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	conn := newFakeConn()
	d.conns <- conn
	return conn, nil
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case conn := <-d.conns:
		return conn
	case <-time.After(waitTimeout):
		t.Fatal("no channel was dialed")
		return nil
	}
}

type fakeWindow struct {
	mu     sync.Mutex
	body   bytes.Buffer
	style  host.BodyStyle
	rules  [][]string
	closes int
	cols   int
	rows   int

	keysR *io.PipeReader
	keysW *io.PipeWriter

	closeL  host.Listener[struct{}]
	resizeL host.Listener[struct{}]
}

func newFakeWindow() *fakeWindow {
	r, w := io.Pipe()
	return &fakeWindow{cols: 80, rows: 24, keysR: r, keysW: w}
}

func (w *fakeWindow) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.body.Write(p)
}

func (w *fakeWindow) Body() io.Writer { return w }
func (w *fakeWindow) Keys() io.Reader { return w.keysR }

func (w *fakeWindow) Size() (int, int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cols, w.rows, nil
}

func (w *fakeWindow) SetTitle(string) error { return nil }

func (w *fakeWindow) SetBodyStyle(style host.BodyStyle) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.style = style
	return nil
}

func (w *fakeWindow) AddStyle(rules []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rules = append(w.rules, rules)
	return nil
}

func (w *fakeWindow) OnClose(fn func()) (func(), error) {
	return w.closeL.Subscribe(func(struct{}) { fn() })
}

func (w *fakeWindow) OnResize(fn func()) (func(), error) {
	return w.resizeL.Subscribe(func(struct{}) { fn() })
}

func (w *fakeWindow) Close() error {
	w.mu.Lock()
	w.closes++
	w.mu.Unlock()
	_ = w.keysW.Close()
	return nil
}

// userClose simulates the user closing the window.
func (w *fakeWindow) userClose() {
	_ = w.keysW.Close()
	w.closeL.Fire(struct{}{})
}

func (w *fakeWindow) closeCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closes
}

type fakeProvider struct {
	mu      sync.Mutex
	origin  string
	sheets  []host.StyleSheet
	err     error
	windows []*fakeWindow
}

func (p *fakeProvider) Origin() string                 { return p.origin }
func (p *fakeProvider) StyleSheets() []host.StyleSheet { return p.sheets }

func (p *fakeProvider) OpenWindow(host.WindowOptions) (host.Window, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	w := newFakeWindow()
	p.windows = append(p.windows, w)
	return w, nil
}

func (p *fakeProvider) opened() []*fakeWindow {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*fakeWindow, len(p.windows))
	copy(out, p.windows)
	return out
}

type fakeWidget struct {
	mu       sync.Mutex
	writes   []string
	onData   func(string)
	fits     int
	disposed bool
}

func (w *fakeWidget) Write(data string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, data)
}

func (w *fakeWidget) OnData(fn func(string)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onData = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.onData = nil
	}
}

func (w *fakeWidget) Fit() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fits++
}

func (w *fakeWidget) Dispose() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.disposed = true
}

// typeText simulates keystrokes arriving from the widget's own goroutine.
func (w *fakeWidget) typeText(data string) bool {
	w.mu.Lock()
	fn := w.onData
	w.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(data)
	return true
}

func (w *fakeWidget) written() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.writes))
	copy(out, w.writes)
	return out
}

// fakeCadence fires only when the test says so.
type fakeCadence struct {
	fn     func()
	starts int
	stops  int
}

func (c *fakeCadence) Every(_ time.Duration, fn func()) func() {
	c.fn = fn
	c.starts++
	stopped := false
	return func() {
		if stopped {
			return
		}
		stopped = true
		c.stops++
		c.fn = nil
	}
}

func (c *fakeCadence) fire() bool {
	if c.fn == nil {
		return false
	}
	c.fn()
	return true
}

type harness struct {
	t        *testing.T
	loop     *Loop
	dialer   *fakeDialer
	provider *fakeProvider
	clock    *clock.FakeClock
	cadence  *fakeCadence

	buffer  *OutputBuffer
	timer   *SessionTimer
	surface *TerminalSurface
	popout  *PopoutWindowManager
	conn    *SessionConnection

	mu      sync.Mutex
	widgets []*fakeWidget
	events  []domain.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		loop:     NewLoop(),
		dialer:   newFakeDialer(),
		provider: &fakeProvider{origin: "file://"},
		clock:    clock.Fake(time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)),
		cadence:  &fakeCadence{},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.loop.Run(ctx) }()
	t.Cleanup(cancel)

	h.buffer = NewOutputBuffer(DefaultMaxPendingBytes)
	h.timer = NewSessionTimer(h.clock, h.cadence)
	h.popout = NewPopoutWindowManager(h.provider, DefaultPopoutOptions(), h.loop, nil)
	h.surface = NewTerminalSurface(func(Container) (Widget, error) {
		w := &fakeWidget{}
		h.mu.Lock()
		h.widgets = append(h.widgets, w)
		h.mu.Unlock()
		return w, nil
	}, h.popout.ContentSink(), h.loop, nil)
	h.conn = NewSessionConnection(ConnectionOptions{
		Dialer:     h.dialer,
		Dispatcher: h.loop,
		Surface:    h.surface,
		Popout:     h.popout,
		Timer:      h.timer,
		Buffer:     h.buffer,
		Observer: func(e domain.Event) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.events = append(h.events, e)
		},
	})
	return h
}

// do runs fn on the loop and waits for it.
func (h *harness) do(fn func()) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := h.loop.Call(ctx, fn); err != nil {
		h.t.Fatalf("loop call: %v", err)
	}
}

func (h *harness) waitFor(desc string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		var ok bool
		h.do(func() { ok = cond() })
		if ok {
			return
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("timed out waiting for %s", desc)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (h *harness) state() domain.SessionState {
	h.t.Helper()
	var state domain.SessionState
	h.do(func() { state = h.conn.State() })
	return state
}

func (h *harness) waitState(want domain.SessionState) {
	h.t.Helper()
	h.waitFor("state "+want.String(), func() bool { return h.conn.State() == want })
}

func (h *harness) start(scenarioID, sessionID string) error {
	h.t.Helper()
	var err error
	h.do(func() {
		err = h.conn.Start(context.Background(), scenarioID, domain.Lease{
			SessionID:     sessionID,
			WebsocketPath: "/terminal?session=" + sessionID,
		})
	})
	return err
}

// provisioning starts a session and waits until run_terraform went out.
func (h *harness) provisioning(scenarioID, sessionID string) *fakeConn {
	h.t.Helper()
	if err := h.start(scenarioID, sessionID); err != nil {
		h.t.Fatalf("start: %v", err)
	}
	conn := h.dialer.next(h.t)
	h.waitState(domain.SessionStateProvisioning)
	return conn
}

func (h *harness) ready(scenarioID, sessionID string) *fakeConn {
	h.t.Helper()
	conn := h.provisioning(scenarioID, sessionID)
	conn.push(h.t, realtime.ServerMessageTypeStatus, realtime.StatusConnected)
	h.waitState(domain.SessionStateReady)
	return conn
}

func (h *harness) widget(i int) *fakeWidget {
	h.t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if i >= len(h.widgets) {
		h.t.Fatalf("widget %d not created (have %d)", i, len(h.widgets))
	}
	return h.widgets[i]
}

func (h *harness) widgetCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.widgets)
}

func (h *harness) errorEvents() []domain.ErrorData {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []domain.ErrorData
	for _, e := range h.events {
		if data, ok := e.Data.(domain.ErrorData); ok {
			out = append(out, data)
		}
	}
	return out
}

var errNetwork = errors.New("connection reset by peer")
