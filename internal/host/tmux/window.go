package tmux

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/JacobWarners/New-Chaos-Web/internal/clock"
	"github.com/JacobWarners/New-Chaos-Web/internal/host"
)

const defaultPollInterval = 250 * time.Millisecond

type runner interface {
	Run(args ...string) (string, error)
}

type ProviderOptions struct {
	Server *Server
	// Executable is started in each window as "<Executable> view". It
	// defaults to the running binary.
	Executable   string
	StyleSheets  []host.StyleSheet
	PollInterval time.Duration
	Clock        clock.Clock
	Logger       *slog.Logger
}

// Provider opens tmux windows on one server.
type Provider struct {
	run    runner
	exe    string
	sheets []host.StyleSheet
	poll   time.Duration
	clock  clock.Clock
	logger *slog.Logger
}

func NewProvider(opts ProviderOptions) (*Provider, error) {
	if opts.Server == nil {
		return nil, errors.New("tmux provider requires a server")
	}
	if opts.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		opts.Executable = exe
	}
	return newProvider(opts.Server, opts), nil
}

func newProvider(run runner, opts ProviderOptions) *Provider {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Provider{
		run:    run,
		exe:    opts.Executable,
		sheets: opts.StyleSheets,
		poll:   opts.PollInterval,
		clock:  opts.Clock,
		logger: opts.Logger.With("component", "tmux"),
	}
}

// Origin is the local file system; only file style sheets are copied.
func (p *Provider) Origin() string { return "file://" }

func (p *Provider) StyleSheets() []host.StyleSheet { return p.sheets }

func (p *Provider) OpenWindow(opts host.WindowOptions) (host.Window, error) {
	dir, err := os.MkdirTemp("", "chaoslab-window-")
	if err != nil {
		return nil, fmt.Errorf("create fifo directory: %w", err)
	}
	pipes, err := openPipes(dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	args := []string{"new-window", "-P", "-F", "#{window_id}"}
	if opts.Title != "" {
		args = append(args, "-n", opts.Title)
	}
	args = append(args, p.exe, "view", "--in", pipes.inPath, "--out", pipes.outPath)
	out, err := p.run.Run(args...)
	if err != nil {
		pipes.release()
		return nil, fmt.Errorf("open tmux window: %w", err)
	}
	id := strings.TrimSpace(out)
	if id == "" {
		pipes.release()
		return nil, errors.New("open tmux window: no window id returned")
	}

	// tmux sizes windows from the attached client; pixel hints do not apply.
	p.logger.Debug("window opened", "window_id", id, "width_hint", opts.Width, "height_hint", opts.Height)
	w := newWindow(id, p.run, pipes, p.logger)
	go w.watch(p.clock.NewTicker(p.poll))
	return w, nil
}

// fifoPair connects the client to the viewer running in a window. The
// client opens both ends read-write so neither open waits for the viewer.
type fifoPair struct {
	dir     string
	inPath  string
	outPath string
	in      *os.File
	out     *os.File
	once    sync.Once
}

func openPipes(dir string) (*fifoPair, error) {
	p := &fifoPair{
		dir:     dir,
		inPath:  filepath.Join(dir, "in"),
		outPath: filepath.Join(dir, "out"),
	}
	for _, path := range []string{p.inPath, p.outPath} {
		if err := unix.Mkfifo(path, 0o600); err != nil {
			return nil, fmt.Errorf("create fifo %s: %w", path, err)
		}
	}
	in, err := os.OpenFile(p.inPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open input fifo: %w", err)
	}
	out, err := os.OpenFile(p.outPath, os.O_RDWR, 0)
	if err != nil {
		_ = in.Close()
		return nil, fmt.Errorf("open output fifo: %w", err)
	}
	p.in, p.out = in, out
	return p, nil
}

func (p *fifoPair) release() {
	p.once.Do(func() {
		if p.in != nil {
			_ = p.in.Close()
		}
		if p.out != nil {
			_ = p.out.Close()
		}
		_ = os.RemoveAll(p.dir)
	})
}

type windowStyle struct {
	fg string
	bg string
}

func (s windowStyle) String() string {
	var parts []string
	if s.fg != "" {
		parts = append(parts, "fg="+s.fg)
	}
	if s.bg != "" {
		parts = append(parts, "bg="+s.bg)
	}
	return strings.Join(parts, ",")
}

// Window is one tmux window running the viewer.
type Window struct {
	id     string
	run    runner
	pipes  *fifoPair
	logger *slog.Logger

	closeListener  host.Listener[struct{}]
	resizeListener host.Listener[struct{}]

	mu         sync.Mutex
	closed     bool
	style      windowStyle
	cols, rows int

	stop     chan struct{}
	stopOnce sync.Once
}

func newWindow(id string, run runner, pipes *fifoPair, logger *slog.Logger) *Window {
	return &Window{
		id:     id,
		run:    run,
		pipes:  pipes,
		logger: logger.With("window_id", id),
		stop:   make(chan struct{}),
	}
}

func (w *Window) ID() string { return w.id }

func (w *Window) Body() io.Writer { return w.pipes.out }
func (w *Window) Keys() io.Reader { return w.pipes.in }

func (w *Window) Size() (int, int, error) {
	out, err := w.run.Run("display-message", "-p", "-t", w.id, "#{window_width} #{window_height}")
	if err != nil {
		if benign(err) {
			return 0, 0, host.ErrWindowClosed
		}
		return 0, 0, err
	}
	return parseSize(strings.TrimSpace(out))
}

func (w *Window) SetTitle(title string) error {
	_, err := w.run.Run("rename-window", "-t", w.id, title)
	return err
}

// SetBodyStyle sets the window background. tmux panes have no margin.
func (w *Window) SetBodyStyle(style host.BodyStyle) error {
	w.mu.Lock()
	if style.Background != "" {
		w.style.bg = style.Background
	}
	w.mu.Unlock()
	return w.applyStyle()
}

// AddStyle maps color and background declarations onto window-style.
// Other properties have no tmux equivalent and are ignored.
func (w *Window) AddStyle(rules []string) error {
	w.mu.Lock()
	for _, rule := range rules {
		property, value, ok := host.ParseDeclaration(rule)
		if !ok {
			continue
		}
		switch property {
		case "color":
			w.style.fg = value
		case "background", "background-color":
			w.style.bg = value
		}
	}
	w.mu.Unlock()
	return w.applyStyle()
}

func (w *Window) applyStyle() error {
	w.mu.Lock()
	style := w.style.String()
	w.mu.Unlock()
	if style == "" {
		return nil
	}
	_, err := w.run.Run("set-option", "-w", "-t", w.id, "window-style", style)
	return err
}

func (w *Window) OnClose(fn func()) (func(), error) {
	return w.closeListener.Subscribe(func(struct{}) { fn() })
}

func (w *Window) OnResize(fn func()) (func(), error) {
	return w.resizeListener.Subscribe(func(struct{}) { fn() })
}

// Close kills the window. Closing a window that is already gone returns
// host.ErrWindowClosed.
func (w *Window) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return host.ErrWindowClosed
	}
	w.closed = true
	w.mu.Unlock()

	w.stopWatching()
	_, err := w.run.Run("kill-window", "-t", w.id)
	w.pipes.release()
	if benign(err) {
		return nil
	}
	return err
}

func (w *Window) stopWatching() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *Window) watch(ticker *clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if !w.poll() {
				return
			}
		}
	}
}

// poll checks the window once. It returns false when the window is gone.
func (w *Window) poll() bool {
	out, err := w.run.Run("list-windows", "-a", "-F", "#{window_id} #{window_width} #{window_height}")
	if err != nil && !benign(err) {
		w.logger.Warn("list windows failed", "error", err)
		return true
	}

	cols, rows, found := 0, 0, false
	if err == nil {
		for _, line := range strings.Split(out, "\n") {
			id, size, ok := strings.Cut(strings.TrimSpace(line), " ")
			if !ok || id != w.id {
				continue
			}
			if c, r, err := parseSize(size); err == nil {
				cols, rows, found = c, r, true
			}
			break
		}
	}

	if !found {
		w.gone()
		return false
	}

	w.mu.Lock()
	changed := w.cols != 0 && (w.cols != cols || w.rows != rows)
	w.cols, w.rows = cols, rows
	w.mu.Unlock()
	if changed {
		w.resizeListener.Fire(struct{}{})
	}
	return true
}

// gone handles a window closed from tmux rather than through Close.
func (w *Window) gone() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	w.logger.Info("window closed by user")
	w.stopWatching()
	w.pipes.release()
	w.closeListener.Fire(struct{}{})
}

func parseSize(s string) (int, int, error) {
	colsText, rowsText, ok := strings.Cut(s, " ")
	if !ok {
		return 0, 0, fmt.Errorf("parse window size %q", s)
	}
	cols, err := strconv.Atoi(colsText)
	if err != nil {
		return 0, 0, fmt.Errorf("parse window width %q: %w", colsText, err)
	}
	rows, err := strconv.Atoi(strings.TrimSpace(rowsText))
	if err != nil {
		return 0, 0, fmt.Errorf("parse window height %q: %w", rowsText, err)
	}
	return cols, rows, nil
}
