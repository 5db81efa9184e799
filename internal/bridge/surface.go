package bridge

import (
	"errors"
	"io"
	"log/slog"

	"github.com/JacobWarners/New-Chaos-Web/internal/terminal"
)

var ErrNoWidget = errors.New("terminal widget not created")

// DefaultTranscriptSize is the number of output bytes retained per widget.
const DefaultTranscriptSize = 1 << 20

// Container is where a widget renders. It outlives individual windows.
type Container interface {
	io.Writer
	// Size reports the visible grid; ok is false while nothing is mounted.
	Size() (cols, rows int, ok bool)
	OnKeys(fn func([]byte)) (unsubscribe func(), err error)
	OnMount(fn func()) (unsubscribe func(), err error)
}

// Widget is a terminal emulator instance.
type Widget interface {
	Write(data string)
	// OnData registers fn for input typed into the widget. Only one
	// registration is active at a time.
	OnData(fn func(data string)) (unsubscribe func())
	// Fit resizes the grid to the container.
	Fit()
	Dispose()
}

type WidgetFactory func(container Container) (Widget, error)

// InputSender forwards typed input to the active channel.
type InputSender func(text string) error

// TerminalSurface owns at most one widget per session id. The widget survives
// channel replacement so scrollback and cursor state persist across
// reconnects; it is disposed only when the session id changes or on final
// teardown.
type TerminalSurface struct {
	factory        WidgetFactory
	container      Container
	dispatcher     Dispatcher
	logger         *slog.Logger
	transcriptSize int

	sessionID  string
	widget     Widget
	transcript *terminal.OutputLog

	buffer    *OutputBuffer
	unsubData func()
	// attachGen drops keystrokes posted by a binding that has since been
	// replaced.
	attachGen uint64
}

func NewTerminalSurface(factory WidgetFactory, container Container, dispatcher Dispatcher, logger *slog.Logger) *TerminalSurface {
	if logger == nil {
		logger = slog.Default()
	}
	return &TerminalSurface{
		factory:        factory,
		container:      container,
		dispatcher:     dispatcher,
		logger:         logger.With("component", "terminal_surface"),
		transcriptSize: DefaultTranscriptSize,
	}
}

// SetTranscriptSize applies to widgets created afterwards.
func (s *TerminalSurface) SetTranscriptSize(n int) {
	if n > 0 {
		s.transcriptSize = n
	}
}

// Bind associates the surface with a session. A different session id
// disposes the current widget.
func (s *TerminalSurface) Bind(sessionID string) {
	if s.sessionID != "" && s.sessionID != sessionID {
		s.logger.Debug("session changed; disposing widget", "old_session_id", s.sessionID, "session_id", sessionID)
		s.Dispose()
	}
	s.sessionID = sessionID
}

func (s *TerminalSurface) SessionID() string {
	return s.sessionID
}

// Create builds the widget unless one already exists.
func (s *TerminalSurface) Create() error {
	if s.widget != nil {
		return nil
	}
	widget, err := s.factory(s.container)
	if err != nil {
		return err
	}
	s.widget = widget
	s.transcript = terminal.NewOutputLog(s.transcriptSize)
	return nil
}

// AttachChannel routes widget input to send and makes the widget the
// consumer of buffer. Pending output is drained into the widget immediately.
func (s *TerminalSurface) AttachChannel(send InputSender, buffer *OutputBuffer) error {
	if s.widget == nil {
		return ErrNoWidget
	}
	s.DetachChannel()

	s.attachGen++
	gen := s.attachGen
	s.unsubData = s.widget.OnData(func(data string) {
		s.dispatcher.Post(func() {
			if gen != s.attachGen {
				return
			}
			if err := send(data); err != nil {
				s.logger.Debug("input dropped", "error", err)
			}
		})
	})
	s.buffer = buffer
	buffer.Attach(s.Write)
	return nil
}

// DetachChannel unbinds input and output and keeps the widget.
func (s *TerminalSurface) DetachChannel() {
	if s.unsubData != nil {
		s.unsubData()
		s.unsubData = nil
	}
	if s.buffer != nil {
		s.buffer.Detach()
		s.buffer = nil
	}
	s.attachGen++
}

// Attached reports whether the surface is currently consuming output.
func (s *TerminalSurface) Attached() bool {
	return s.widget != nil && s.buffer != nil
}

func (s *TerminalSurface) Write(data string) {
	if s.widget == nil || data == "" {
		return
	}
	_, _ = s.transcript.Write([]byte(data))
	s.widget.Write(data)
}

func (s *TerminalSurface) Resize() {
	if s.widget != nil {
		s.widget.Fit()
	}
}

func (s *TerminalSurface) Dispose() {
	s.DetachChannel()
	if s.widget == nil {
		return
	}
	s.widget.Dispose()
	s.widget = nil
	s.transcript = nil
}

func (s *TerminalSurface) HasWidget() bool {
	return s.widget != nil
}

// Transcript returns the output written to the current widget. truncated is
// true when older output fell out of the retained window.
func (s *TerminalSurface) Transcript() (output string, truncated bool) {
	if s.transcript == nil {
		return "", false
	}
	return s.transcript.ReadAll()
}
