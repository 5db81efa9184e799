package bridge

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/JacobWarners/New-Chaos-Web/internal/host"
)

var ErrAlreadyOpen = errors.New("pop-out window already open")

const DefaultWindowTitle = "Chaos Lab Terminal"

type PopoutOptions struct {
	Title  string
	Width  int
	Height int
	Body   host.BodyStyle
}

func DefaultPopoutOptions() PopoutOptions {
	return PopoutOptions{
		Title:  DefaultWindowTitle,
		Width:  1200,
		Height: 800,
		Body:   host.BodyStyle{Margin: 0, Background: "#1d2021"},
	}
}

// PopoutWindowManager owns the external window of a presenting session. The
// content sink it hands out persists across windows; each Open mounts it into
// the new window and Close unmounts it.
type PopoutWindowManager struct {
	provider   host.Provider
	opts       PopoutOptions
	dispatcher Dispatcher
	logger     *slog.Logger

	sink   *ContentSink
	window host.Window

	unsubClose  func()
	unsubResize func()
	onClose     func()
	onResize    func()
}

func NewPopoutWindowManager(provider host.Provider, opts PopoutOptions, dispatcher Dispatcher, logger *slog.Logger) *PopoutWindowManager {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Title == "" {
		opts.Title = DefaultWindowTitle
	}
	return &PopoutWindowManager{
		provider:   provider,
		opts:       opts,
		dispatcher: dispatcher,
		logger:     logger.With("component", "popout"),
		sink:       &ContentSink{},
	}
}

// SetCloseHandler registers fn for windows closed by the user. It runs on the
// loop after the manager has released the window.
func (m *PopoutWindowManager) SetCloseHandler(fn func()) {
	m.onClose = fn
}

// SetResizeHandler registers fn for window size changes. It runs on the loop.
func (m *PopoutWindowManager) SetResizeHandler(fn func()) {
	m.onResize = fn
}

func (m *PopoutWindowManager) ContentSink() *ContentSink {
	return m.sink
}

func (m *PopoutWindowManager) IsOpen() bool {
	return m.window != nil
}

func (m *PopoutWindowManager) Open() error {
	if m.window != nil {
		return ErrAlreadyOpen
	}

	window, err := m.provider.OpenWindow(host.WindowOptions{
		Title:  m.opts.Title,
		Width:  m.opts.Width,
		Height: m.opts.Height,
	})
	if err != nil {
		return fmt.Errorf("open window: %w", err)
	}

	m.sink.mount(window)
	m.copyStyles(window)
	if err := window.SetBodyStyle(m.opts.Body); err != nil {
		m.logger.Warn("apply body style failed", "error", err)
	}

	unsubClose, err := window.OnClose(func() {
		m.dispatcher.Post(func() { m.windowClosed(window) })
	})
	if err != nil {
		m.sink.unmount()
		_ = window.Close()
		return fmt.Errorf("watch window close: %w", err)
	}
	unsubResize, err := window.OnResize(func() {
		m.dispatcher.Post(func() { m.windowResized(window) })
	})
	if err != nil {
		m.logger.Warn("watch window resize failed", "error", err)
		unsubResize = func() {}
	}

	m.window = window
	m.unsubClose = unsubClose
	m.unsubResize = unsubResize
	m.logger.Debug("window opened", "title", m.opts.Title)
	return nil
}

// copyStyles replicates the launching surface's same-origin rules. Sheets
// from another origin, or whose rules cannot be read, are skipped.
func (m *PopoutWindowManager) copyStyles(window host.Window) {
	origin := m.provider.Origin()
	for _, sheet := range m.provider.StyleSheets() {
		if !host.SameOrigin(sheet, origin) {
			m.logger.Debug("skipping cross-origin style sheet", "href", sheet.Href())
			continue
		}
		rules, err := sheet.Rules()
		if err != nil {
			m.logger.Warn("skipping unreadable style sheet", "href", sheet.Href(), "error", err)
			continue
		}
		if len(rules) == 0 {
			continue
		}
		if err := window.AddStyle(rules); err != nil {
			m.logger.Warn("apply style sheet failed", "href", sheet.Href(), "error", err)
		}
	}
}

// Close releases the window. It is safe to call when nothing is open.
func (m *PopoutWindowManager) Close() error {
	window := m.release()
	if window == nil {
		return nil
	}
	m.logger.Debug("closing window")
	if err := window.Close(); err != nil && !errors.Is(err, host.ErrWindowClosed) {
		return fmt.Errorf("close window: %w", err)
	}
	return nil
}

func (m *PopoutWindowManager) release() host.Window {
	window := m.window
	if window == nil {
		return nil
	}
	m.unsubClose()
	m.unsubResize()
	m.unsubClose = nil
	m.unsubResize = nil
	m.sink.unmount()
	m.window = nil
	return window
}

func (m *PopoutWindowManager) windowClosed(window host.Window) {
	if m.window != window {
		return
	}
	m.logger.Debug("window closed by user")
	m.release()
	if m.onClose != nil {
		m.onClose()
	}
}

func (m *PopoutWindowManager) windowResized(window host.Window) {
	if m.window != window {
		return
	}
	if m.onResize != nil {
		m.onResize()
	}
}

// ContentSink is the persistent render target handed to the terminal widget.
// Writes made while no window is mounted are discarded. It is safe for
// concurrent use.
type ContentSink struct {
	mu     sync.Mutex
	window host.Window
	body   io.Writer
	gen    uint64

	keys   host.Listener[[]byte]
	mounts host.Listener[struct{}]
}

func (s *ContentSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.body == nil {
		return len(p), nil
	}
	return s.body.Write(p)
}

func (s *ContentSink) Size() (cols, rows int, ok bool) {
	s.mu.Lock()
	window := s.window
	s.mu.Unlock()
	if window == nil {
		return 0, 0, false
	}
	cols, rows, err := window.Size()
	if err != nil || cols <= 0 || rows <= 0 {
		return 0, 0, false
	}
	return cols, rows, true
}

// Mounted reports whether a window currently displays the sink.
func (s *ContentSink) Mounted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window != nil
}

// OnKeys registers fn for raw keystrokes typed into whichever window the
// sink is mounted in.
func (s *ContentSink) OnKeys(fn func([]byte)) (func(), error) {
	return s.keys.Subscribe(fn)
}

// OnMount registers fn to run each time the sink is mounted into a window,
// so the content can be redrawn.
func (s *ContentSink) OnMount(fn func()) (func(), error) {
	return s.mounts.Subscribe(func(struct{}) { fn() })
}

func (s *ContentSink) mount(window host.Window) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.window = window
	s.body = window.Body()
	s.mu.Unlock()

	if keys := window.Keys(); keys != nil {
		go s.pumpKeys(keys, gen)
	}
	s.mounts.Fire(struct{}{})
}

func (s *ContentSink) unmount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.window = nil
	s.body = nil
}

func (s *ContentSink) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *ContentSink) pumpKeys(r io.Reader, gen uint64) {
	buf := make([]byte, 1024)
	for {
		n, err := r.Read(buf)
		if n > 0 && s.current(gen) {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.keys.Fire(data)
		}
		if err != nil || !s.current(gen) {
			return
		}
	}
}
