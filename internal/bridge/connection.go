package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/JacobWarners/New-Chaos-Web/internal/domain"
	"github.com/JacobWarners/New-Chaos-Web/pkg/realtime"
)

var (
	// ErrChannelClosed is returned by Conn.ReadMessage when the peer closed
	// the channel normally.
	ErrChannelClosed = errors.New("channel closed")
	ErrNotReady      = errors.New("session not ready")
)

const (
	setupClosedMessage = "connection closed during setup"

	noticeConnected    = "\r\n\x1b[32mConnected to backend session.\x1b[0m\r\n"
	noticeDisconnected = "\r\n\x1b[31mDisconnected.\x1b[0m\r\n"
	noticeConnError    = "\r\n\x1b[31mConnection Error\x1b[0m\r\n"
)

// Conn is one open terminal channel. ReadMessage is only called from a single
// goroutine and WriteMessage only from the loop.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens the channel served at path, which is the opaque websocket path
// returned by provisioning.
type Dialer interface {
	Dial(ctx context.Context, path string) (Conn, error)
}

type ConnectionOptions struct {
	Dialer     Dialer
	Dispatcher Dispatcher
	Surface    *TerminalSurface
	Popout     *PopoutWindowManager
	Timer      *SessionTimer
	Buffer     *OutputBuffer
	Logger     *slog.Logger
	// Observer receives every state change, error and expiry update. It
	// runs on the loop.
	Observer func(domain.Event)
}

type channel struct {
	gen  uint64
	conn Conn
}

// SessionConnection owns the terminal channel of one session at a time and
// is the only component that changes session state. All methods must be
// called on the loop.
type SessionConnection struct {
	dialer     Dialer
	dispatcher Dispatcher
	surface    *TerminalSurface
	popout     *PopoutWindowManager
	timer      *SessionTimer
	buffer     *OutputBuffer
	base       *slog.Logger
	logger     *slog.Logger
	observer   func(domain.Event)

	session    *domain.Session
	ch         *channel
	gen        uint64
	cancelDial context.CancelFunc
}

func NewSessionConnection(opts ConnectionOptions) *SessionConnection {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "session_connection")
	c := &SessionConnection{
		dialer:     opts.Dialer,
		dispatcher: opts.Dispatcher,
		surface:    opts.Surface,
		popout:     opts.Popout,
		timer:      opts.Timer,
		buffer:     opts.Buffer,
		base:       logger,
		logger:     logger,
		observer:   opts.Observer,
	}
	c.timer.extend = c.Extend
	c.popout.SetCloseHandler(c.windowClosed)
	c.popout.SetResizeHandler(c.surface.Resize)
	return c
}

// State returns the state of the current session, or Idle when none was
// started.
func (c *SessionConnection) State() domain.SessionState {
	if c.session == nil {
		return domain.SessionStateIdle
	}
	return c.session.GetState()
}

// Session returns a copy of the current session, if any.
func (c *SessionConnection) Session() (domain.SessionSnapshot, bool) {
	if c.session == nil {
		return domain.SessionSnapshot{}, false
	}
	return c.session.Snapshot(), true
}

// Start begins a new session on the channel named by lease. The dial runs
// off the loop; its outcome is delivered back as an open or close event.
func (c *SessionConnection) Start(ctx context.Context, scenarioID string, lease domain.Lease) error {
	if state := c.State(); !domain.CanStart(state) {
		return fmt.Errorf("%w: session is %s", domain.ErrNotStartable, state)
	}
	if lease.SessionID == "" || lease.WebsocketPath == "" {
		return fmt.Errorf("%w: lease needs a session id and websocket path", domain.ErrNotStartable)
	}

	c.buffer.Clear()
	c.surface.Bind(lease.SessionID)
	c.session = domain.NewSession(lease, scenarioID)
	c.gen++
	gen := c.gen
	c.logger = c.base.With("session_id", lease.SessionID)

	dialCtx, cancel := context.WithCancel(ctx)
	c.cancelDial = cancel
	c.transition(domain.SessionStateConnecting, "start")

	go func() {
		conn, err := c.dialer.Dial(dialCtx, lease.WebsocketPath)
		if !c.dispatcher.Post(func() { c.handleDial(gen, conn, err) }) && conn != nil {
			_ = conn.Close()
		}
	}()
	return nil
}

func (c *SessionConnection) handleDial(gen uint64, conn Conn, err error) {
	if gen != c.gen || c.State() != domain.SessionStateConnecting {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	c.stopDial()
	if err != nil {
		c.fail(err.Error(), domain.ErrorKindConnection)
		return
	}
	c.handleOpen(gen, conn)
}

func (c *SessionConnection) handleOpen(gen uint64, conn Conn) {
	c.ch = &channel{gen: gen, conn: conn}
	go c.readPump(c.ch)

	c.routeOutput(noticeConnected)
	if err := c.send(realtime.ClientMessageTypeRunTerraform, c.session.ScenarioID); err != nil {
		c.fail(err.Error(), domain.ErrorKindConnection)
		return
	}
	c.transition(domain.SessionStateProvisioning, "provisioning requested")
}

func (c *SessionConnection) readPump(ch *channel) {
	for {
		data, err := ch.conn.ReadMessage()
		if err != nil {
			c.dispatcher.Post(func() { c.handleClose(ch.gen, err) })
			return
		}
		if !c.dispatcher.Post(func() { c.handleMessage(ch.gen, data) }) {
			_ = ch.conn.Close()
			return
		}
	}
}

func (c *SessionConnection) current(gen uint64) bool {
	return c.ch != nil && c.ch.gen == gen && gen == c.gen
}

func (c *SessionConnection) handleMessage(gen uint64, data []byte) {
	if !c.current(gen) {
		return
	}
	msg, err := realtime.Decode(data)
	if err != nil {
		c.logger.Warn("dropping malformed message", "error", err)
		return
	}

	switch realtime.ServerMessageType(msg.Type) {
	case realtime.ServerMessageTypeStatus:
		c.handleStatus(msg)
	case realtime.ServerMessageTypePtyOutput:
		text, err := msg.Text()
		if err != nil {
			c.logger.Warn("dropping malformed output", "error", err)
			return
		}
		c.handleOutput(text)
	case realtime.ServerMessageTypeSessionStatus:
		c.handleSessionStatus(msg)
	case realtime.ServerMessageTypeError:
		text, err := msg.Text()
		if err != nil || text == "" {
			text = "server reported an error"
		}
		c.fail(text, domain.ErrorKindProvisioning)
	default:
		c.logger.Warn("dropping unknown message", "type", msg.Type)
	}
}

func (c *SessionConnection) handleStatus(msg realtime.Message) {
	text, err := msg.Text()
	if err != nil {
		c.logger.Warn("dropping malformed status", "error", err)
		return
	}
	if text != realtime.StatusConnected {
		c.logger.Debug("ignoring status", "status", text)
		return
	}
	if c.State() != domain.SessionStateProvisioning {
		c.logger.Debug("ignoring connected status", "state", c.State())
		return
	}
	c.becomeReady()
}

func (c *SessionConnection) handleOutput(text string) {
	switch c.State() {
	case domain.SessionStateProvisioning, domain.SessionStateReady:
		c.routeOutput(text)
	default:
		c.logger.Debug("dropping output", "state", c.State(), "bytes", len(text))
	}
}

func (c *SessionConnection) handleSessionStatus(msg realtime.Message) {
	status, err := msg.SessionStatus()
	if err != nil {
		c.logger.Warn("dropping malformed session status", "error", err)
		return
	}
	c.session.SetExpiresAt(status.ExpiresAt)
	c.timer.SetExpiry(status.ExpiresAt)
	c.emit(domain.NewExpiryEvent(c.session.ID, status.ExpiresAt))
	if status.Message != "" {
		c.handleOutput(status.Message)
	}
}

func (c *SessionConnection) routeOutput(text string) {
	if c.surface.Attached() {
		c.surface.Write(text)
		return
	}
	c.buffer.Append(text)
}

// becomeReady is the only place presentation is created.
func (c *SessionConnection) becomeReady() {
	c.transition(domain.SessionStateReady, "server connected")

	if err := c.popout.Open(); err != nil {
		c.fail(err.Error(), domain.ErrorKindPresentation)
		return
	}
	if err := c.surface.Create(); err != nil {
		c.fail(fmt.Sprintf("create terminal: %v", err), domain.ErrorKindPresentation)
		return
	}
	if err := c.surface.AttachChannel(c.SendInput, c.buffer); err != nil {
		c.fail(fmt.Sprintf("attach terminal: %v", err), domain.ErrorKindPresentation)
		return
	}
	c.surface.Resize()
}

func (c *SessionConnection) handleClose(gen uint64, err error) {
	if !c.current(gen) {
		return
	}
	c.ch = nil
	clean := errors.Is(err, ErrChannelClosed)

	switch c.State() {
	case domain.SessionStateConnecting, domain.SessionStateProvisioning:
		if clean {
			c.fail(setupClosedMessage, domain.ErrorKindUnexpectedClose)
		} else {
			c.fail(err.Error(), domain.ErrorKindConnection)
		}
	case domain.SessionStateReady:
		if !clean {
			c.fail(err.Error(), domain.ErrorKindConnection)
			return
		}
		c.routeOutput(noticeDisconnected)
		c.leavePresenting(true)
		c.transition(domain.SessionStateClosed, "channel closed")
	}
}

func (c *SessionConnection) windowClosed() {
	if c.session == nil {
		return
	}
	switch c.State() {
	case domain.SessionStateClosing, domain.SessionStateClosed:
		return
	}
	c.close(false, "window closed")
}

// Extend asks the server to push back the session expiry. It only sends
// while the session is ready and its channel open, and reports whether a
// request went out.
func (c *SessionConnection) Extend() bool {
	if c.State() != domain.SessionStateReady || c.ch == nil {
		return false
	}
	if err := c.send(realtime.ClientMessageTypeSessionExtend, nil); err != nil {
		c.logger.Warn("extend failed", "error", err)
		return false
	}
	c.emit(domain.NewNoticeEvent(c.session.ID, "extension requested"))
	return true
}

// SendInput forwards typed input to the server.
func (c *SessionConnection) SendInput(text string) error {
	if c.State() != domain.SessionStateReady || c.ch == nil {
		return ErrNotReady
	}
	return c.send(realtime.ClientMessageTypePtyInput, text)
}

func (c *SessionConnection) send(kind realtime.ClientMessageType, payload any) error {
	if c.ch == nil {
		return ErrNotReady
	}
	msg, err := realtime.NewMessage(kind, payload)
	if err != nil {
		return err
	}
	data, err := realtime.Encode(msg)
	if err != nil {
		return err
	}
	if err := c.ch.conn.WriteMessage(data); err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	return nil
}

// Close ends the session from any state other than Closed.
func (c *SessionConnection) Close() {
	c.close(true, "closed by client")
}

// Shutdown closes the session and disposes the terminal widget.
func (c *SessionConnection) Shutdown() {
	c.Close()
	c.surface.Dispose()
}

func (c *SessionConnection) close(closeWindow bool, reason string) {
	if c.session == nil {
		return
	}
	switch c.State() {
	case domain.SessionStateClosing, domain.SessionStateClosed:
		return
	}
	c.transition(domain.SessionStateClosing, reason)
	c.dropChannel()
	c.buffer.Clear()
	c.leavePresenting(closeWindow)
	c.transition(domain.SessionStateClosed, reason)
}

// fail records message and ends the session in Errored.
func (c *SessionConnection) fail(message string, kind domain.ErrorKind) {
	c.logger.Error("session failed", "error", message, "kind", kind)
	if kind == domain.ErrorKindConnection {
		c.routeOutput(noticeConnError)
	}
	c.session.SetError(message)
	c.emit(domain.NewErrorEvent(c.session.ID, message, kind))
	c.dropChannel()
	c.leavePresenting(true)
	c.transition(domain.SessionStateErrored, message)
}

// dropChannel closes the channel and invalidates every event it has queued.
func (c *SessionConnection) dropChannel() {
	c.gen++
	c.stopDial()
	if c.ch == nil {
		return
	}
	if err := c.ch.conn.Close(); err != nil {
		c.logger.Debug("closing channel", "error", err)
	}
	c.ch = nil
}

func (c *SessionConnection) stopDial() {
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
}

func (c *SessionConnection) leavePresenting(closeWindow bool) {
	c.surface.DetachChannel()
	if closeWindow {
		if err := c.popout.Close(); err != nil {
			c.logger.Warn("close window failed", "error", err)
		}
	}
	c.timer.Clear()
}

func (c *SessionConnection) transition(to domain.SessionState, reason string) {
	tr, err := c.session.TransitionTo(to, reason)
	if err != nil {
		c.logger.Warn("transition rejected", "error", err)
		return
	}
	c.logger.Info("session state changed", "from", tr.From, "to", tr.To, "reason", reason)
	c.emit(domain.NewStatusChangeEvent(tr))
}

func (c *SessionConnection) emit(event domain.Event) {
	if c.observer != nil {
		c.observer(event)
	}
}
