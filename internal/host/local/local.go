// Package local presents the terminal window on the invoking terminal. The
// window takes over the alternate screen while it is open.
package local

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/JacobWarners/New-Chaos-Web/internal/host"
)

const (
	// KeyClose (Ctrl-]) closes the window as if the user closed it.
	KeyClose = 0x1d
	// KeyExtend (Ctrl-E) asks for a session extension.
	KeyExtend = 0x05

	enterAltScreen = "\x1b[?1049h\x1b[H\x1b[2J"
	leaveAltScreen = "\x1b[?1049l"
	resetColours   = "\x1b]110\x07\x1b]111\x07\x1b]112\x07"
)

type Options struct {
	In  io.Reader
	Out io.Writer
	// Fd is the terminal descriptor used for sizes; -1 disables size
	// queries and resize signals.
	Fd          int
	StyleSheets []host.StyleSheet
	// Unclaimed receives keystrokes read while no window is open.
	Unclaimed func([]byte)
	// Extend is called for KeyExtend typed into an open window.
	Extend func()
	Logger *slog.Logger
}

// Provider opens at most one window at a time on the terminal. It owns the
// input stream for its lifetime.
type Provider struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	current *Window
	started bool
	outMu   sync.Mutex
}

func NewProvider(opts Options) *Provider {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Provider{opts: opts, logger: opts.Logger.With("component", "local")}
}

// Stdio returns options for the process terminal.
func Stdio() Options {
	return Options{In: os.Stdin, Out: os.Stdout, Fd: int(os.Stdout.Fd())}
}

func (p *Provider) Origin() string { return "file://" }

func (p *Provider) StyleSheets() []host.StyleSheet { return p.opts.StyleSheets }

// Start begins reading input. It is called by the first OpenWindow if the
// caller has not started it already.
func (p *Provider) Start() {
	p.mu.Lock()
	if p.started || p.opts.In == nil {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()
	go p.readInput()
}

func (p *Provider) OpenWindow(opts host.WindowOptions) (host.Window, error) {
	p.mu.Lock()
	if p.current != nil {
		p.mu.Unlock()
		return nil, errors.New("a window is already open on this terminal")
	}
	w := newWindow(p)
	p.current = w
	p.mu.Unlock()

	p.Start()
	if _, err := io.WriteString(w.Body(), enterAltScreen); err != nil {
		p.release(w)
		return nil, fmt.Errorf("enter alternate screen: %w", err)
	}
	if opts.Title != "" {
		_ = w.SetTitle(opts.Title)
	}
	if p.opts.Fd >= 0 {
		go w.watchResize()
	}
	return w, nil
}

func (p *Provider) release(w *Window) {
	p.mu.Lock()
	if p.current == w {
		p.current = nil
	}
	p.mu.Unlock()
}

func (p *Provider) write(b []byte) (int, error) {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	return p.opts.Out.Write(b)
}

func (p *Provider) readInput() {
	buf := make([]byte, 1024)
	for {
		n, err := p.opts.In.Read(buf)
		if n > 0 {
			p.route(append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.logger.Debug("input closed", "error", err)
			}
			p.mu.Lock()
			w := p.current
			p.mu.Unlock()
			if w != nil {
				_ = w.keysW.CloseWithError(io.EOF)
			}
			return
		}
	}
}

// route hands keystrokes to the open window, filtering its control keys.
func (p *Provider) route(data []byte) {
	p.mu.Lock()
	w := p.current
	p.mu.Unlock()
	if w == nil {
		if p.opts.Unclaimed != nil {
			p.opts.Unclaimed(data)
		}
		return
	}

	for len(data) > 0 {
		i := bytes.IndexAny(data, string([]byte{KeyClose, KeyExtend}))
		if i < 0 {
			w.deliver(data)
			return
		}
		if i > 0 {
			w.deliver(data[:i])
		}
		switch data[i] {
		case KeyClose:
			w.userClose()
			return
		case KeyExtend:
			if p.opts.Extend != nil {
				p.opts.Extend()
			}
		}
		data = data[i+1:]
	}
}

// Window is the terminal while it shows the session.
type Window struct {
	provider *Provider
	keys     *io.PipeReader
	keysW    *io.PipeWriter

	closeListener  host.Listener[struct{}]
	resizeListener host.Listener[struct{}]

	mu     sync.Mutex
	closed bool
	stop   chan struct{}
}

func newWindow(p *Provider) *Window {
	r, w := io.Pipe()
	return &Window{provider: p, keys: r, keysW: w, stop: make(chan struct{})}
}

func (w *Window) Body() io.Writer { return bodyWriter{w} }
func (w *Window) Keys() io.Reader { return w.keys }

type bodyWriter struct{ w *Window }

func (b bodyWriter) Write(p []byte) (int, error) {
	if b.w.isClosed() {
		return 0, host.ErrWindowClosed
	}
	return b.w.provider.write(p)
}

func (w *Window) deliver(data []byte) {
	if w.isClosed() {
		return
	}
	_, _ = w.keysW.Write(data)
}

func (w *Window) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *Window) Size() (int, int, error) {
	if w.provider.opts.Fd < 0 {
		return 0, 0, errors.New("terminal size unavailable")
	}
	return term.GetSize(w.provider.opts.Fd)
}

// SetTitle uses OSC 0.
func (w *Window) SetTitle(title string) error {
	_, err := w.provider.write([]byte("\x1b]0;" + title + "\x07"))
	return err
}

// SetBodyStyle sets the terminal background with OSC 11.
func (w *Window) SetBodyStyle(style host.BodyStyle) error {
	if style.Background == "" {
		return nil
	}
	_, err := w.provider.write([]byte("\x1b]11;" + style.Background + "\x07"))
	return err
}

// AddStyle maps colour declarations to OSC 10 (foreground), 11 (background)
// and 12 (cursor).
func (w *Window) AddStyle(rules []string) error {
	var seq bytes.Buffer
	for _, rule := range rules {
		property, value, ok := host.ParseDeclaration(rule)
		if !ok {
			continue
		}
		switch property {
		case "color":
			fmt.Fprintf(&seq, "\x1b]10;%s\x07", value)
		case "background", "background-color":
			fmt.Fprintf(&seq, "\x1b]11;%s\x07", value)
		case "caret-color", "cursor-color":
			fmt.Fprintf(&seq, "\x1b]12;%s\x07", value)
		}
	}
	if seq.Len() == 0 {
		return nil
	}
	_, err := w.provider.write(seq.Bytes())
	return err
}

func (w *Window) OnClose(fn func()) (func(), error) {
	return w.closeListener.Subscribe(func(struct{}) { fn() })
}

func (w *Window) OnResize(fn func()) (func(), error) {
	return w.resizeListener.Subscribe(func(struct{}) { fn() })
}

func (w *Window) Close() error {
	if !w.finish() {
		return host.ErrWindowClosed
	}
	return nil
}

func (w *Window) userClose() {
	if w.finish() {
		w.closeListener.Fire(struct{}{})
	}
}

// finish restores the terminal and releases the window. It reports false if
// the window was already closed.
func (w *Window) finish() bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	w.closed = true
	close(w.stop)
	w.mu.Unlock()

	_, _ = w.provider.write([]byte(resetColours + leaveAltScreen))
	_ = w.keysW.CloseWithError(io.EOF)
	w.provider.release(w)
	return true
}

func (w *Window) watchResize() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, unix.SIGWINCH)
	defer signal.Stop(signals)
	for {
		select {
		case <-w.stop:
			return
		case <-signals:
			w.resizeListener.Fire(struct{}{})
		}
	}
}
