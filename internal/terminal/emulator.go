package terminal

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ricochet1k/termemu"
)

// Container is the render target of an emulator: a writer for ANSI output
// plus the size and keystrokes of whatever currently displays it.
type Container interface {
	io.Writer
	Size() (cols, rows int, ok bool)
	OnKeys(fn func([]byte)) (unsubscribe func(), err error)
	OnMount(fn func()) (unsubscribe func(), err error)
}

type EmulatorOptions struct {
	Cols       int
	Rows       int
	Scrollback int
	// ResyncInterval is how often the emulator checks whether screen events
	// were dropped and a full redraw is needed.
	ResyncInterval time.Duration
	Logger         *slog.Logger
}

func DefaultEmulatorOptions() EmulatorOptions {
	return EmulatorOptions{
		Cols:           80,
		Rows:           24,
		Scrollback:     2000,
		ResyncInterval: 200 * time.Millisecond,
	}
}

// Emulator is a headless terminal that renders into a Container. Remote
// output goes in through Write; keystrokes typed into the container come out
// through the OnData callback.
type Emulator struct {
	container  Container
	term       termemu.Terminal
	backend    *streamBackend
	frontend   *Frontend
	events     chan Event
	updates    *UpdateBroadcaster
	renderer   *Renderer
	scrollback *Scrollback
	logger     *slog.Logger

	mu        sync.Mutex
	onData    func(string)
	dataGen   uint64
	cursor    Cursor
	lastLines []string

	unsubscribers []func()
	done          chan struct{}
	disposeOnce   sync.Once
}

func NewEmulator(container Container, opts EmulatorOptions) (*Emulator, error) {
	defaults := DefaultEmulatorOptions()
	if opts.Cols <= 0 || opts.Rows <= 0 {
		opts.Cols, opts.Rows = defaults.Cols, defaults.Rows
	}
	if opts.ResyncInterval <= 0 {
		opts.ResyncInterval = defaults.ResyncInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	e := &Emulator{
		container:  container,
		events:     make(chan Event, EventBufferSize),
		updates:    NewUpdateBroadcaster(),
		renderer:   NewRenderer(container),
		scrollback: NewScrollback(opts.Scrollback),
		logger:     opts.Logger.With("component", "emulator"),
		done:       make(chan struct{}),
	}
	e.backend = newStreamBackend(e.dispatchInput)
	e.frontend = NewFrontend(e.events, e.done)

	term := termemu.NewWithMode(e.frontend, e.backend, termemu.TextReadModeRune)
	if term == nil {
		return nil, errors.New("failed to initialize termemu terminal")
	}
	e.term = term
	if err := SendInput(term, Input{Kind: InputResize, Resize: &ResizeInput{Cols: opts.Cols, Rows: opts.Rows}}); err != nil {
		_ = e.backend.Close()
		return nil, fmt.Errorf("size terminal: %w", err)
	}

	updates, unsubscribe := e.updates.Subscribe(EventBufferSize)
	e.unsubscribers = append(e.unsubscribers, unsubscribe)
	go e.render(updates)
	go e.processEvents(opts.ResyncInterval)

	unsubKeys, err := container.OnKeys(e.handleKeys)
	if err != nil {
		e.Dispose()
		return nil, fmt.Errorf("subscribe keys: %w", err)
	}
	e.unsubscribers = append(e.unsubscribers, unsubKeys)
	unsubMount, err := container.OnMount(e.redraw)
	if err != nil {
		e.Dispose()
		return nil, fmt.Errorf("subscribe mount: %w", err)
	}
	e.unsubscribers = append(e.unsubscribers, unsubMount)

	e.Fit()
	e.publishSnapshot()
	return e, nil
}

// Write feeds remote output to the emulator. It never blocks.
func (e *Emulator) Write(data string) {
	e.backend.feed([]byte(data))
}

func (e *Emulator) OnData(fn func(string)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dataGen++
	gen := e.dataGen
	e.onData = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.dataGen == gen {
			e.onData = nil
		}
	}
}

// Fit resizes the grid to the container when its size is known and differs.
func (e *Emulator) Fit() {
	cols, rows, ok := e.container.Size()
	if !ok {
		return
	}
	var curCols, curRows int
	e.term.WithLock(func() {
		curCols, curRows = e.term.Size()
	})
	if cols == curCols && rows == curRows {
		return
	}
	if err := SendInput(e.term, Input{Kind: InputResize, Resize: &ResizeInput{Cols: cols, Rows: rows}}); err != nil {
		e.logger.Warn("resize failed", "cols", cols, "rows", rows, "error", err)
		return
	}
	e.publishSnapshot()
}

// Snapshot returns the current screen.
func (e *Emulator) Snapshot() (Snapshot, bool) {
	e.mu.Lock()
	cursor := e.cursor
	e.mu.Unlock()
	return screenSnapshot(e.term, cursor)
}

// Scrollback returns rows that scrolled off the screen, oldest first.
func (e *Emulator) Scrollback() []string {
	return e.scrollback.Lines()
}

func (e *Emulator) Dispose() {
	e.disposeOnce.Do(func() {
		for _, unsubscribe := range e.unsubscribers {
			unsubscribe()
		}
		e.mu.Lock()
		e.onData = nil
		e.mu.Unlock()
		close(e.done)
		_ = e.backend.Close()
		e.updates.Close()
	})
}

func (e *Emulator) dispatchInput(p []byte) {
	e.mu.Lock()
	fn := e.onData
	e.mu.Unlock()
	if fn != nil {
		fn(string(p))
	}
}

func (e *Emulator) handleKeys(data []byte) {
	if err := SendInput(e.term, Input{Kind: InputRaw, Raw: data}); err != nil {
		e.logger.Debug("key input dropped", "error", err)
	}
}

func (e *Emulator) redraw() {
	if err := e.renderer.Redraw(); err != nil {
		e.logger.Debug("redraw failed", "error", err)
	}
}

func (e *Emulator) render(updates <-chan Update) {
	for update := range updates {
		if err := e.renderer.Apply(update); err != nil {
			e.logger.Debug("render failed", "error", err)
		}
	}
}

func (e *Emulator) processEvents(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case event := <-e.events:
			e.handleEvent(event)
		case <-ticker.C:
			if e.frontend.TakeStale() {
				e.publishSnapshot()
			}
		}
	}
}

func (e *Emulator) handleEvent(event Event) {
	switch event.Kind {
	case EventBell:
		e.updates.Broadcast(Update{Kind: UpdateBell})
	case EventCursorMoved:
		cursor := Cursor{X: event.X, Y: event.Y}
		e.mu.Lock()
		e.cursor = cursor
		e.mu.Unlock()
		e.updates.Broadcast(Update{Kind: UpdateCursor, Cursor: &cursor})
	case EventScrollLines:
		e.captureScrolled(event.ScrollY)
		e.publishSnapshot()
	case EventRegionChanged:
		if diff, ok := screenDiff(e.term, event.Region, event.Reason); ok {
			e.mu.Lock()
			for i, line := range diff.Lines {
				if y := diff.Region.Y + i; y < len(e.lastLines) {
					e.lastLines[y] = line
				}
			}
			e.mu.Unlock()
			e.updates.Broadcast(Update{Kind: UpdateDiff, Diff: &diff})
		}
	}
}

// captureScrolled moves the top n rows of the last frame into scrollback.
func (e *Emulator) captureScrolled(n int) {
	if n <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if n > len(e.lastLines) {
		n = len(e.lastLines)
	}
	e.scrollback.Push(e.lastLines[:n]...)
}

func (e *Emulator) publishSnapshot() {
	snapshot, ok := e.Snapshot()
	if !ok {
		return
	}
	e.mu.Lock()
	e.lastLines = append([]string(nil), snapshot.Lines...)
	e.mu.Unlock()
	e.updates.Broadcast(Update{Kind: UpdateSnapshot, Snapshot: &snapshot})
}
