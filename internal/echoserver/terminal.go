package echoserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/JacobWarners/New-Chaos-Web/internal/clock"
	"github.com/JacobWarners/New-Chaos-Web/pkg/realtime"
)

const (
	welcomeBanner = "\r\n\x1b[32mSUCCESS! Standard WebSocket Connected.\x1b[0m\r\n"
	expiredBanner = "\r\n\x1b[31mSession expired.\x1b[0m\r\n"
	expiryCheck   = time.Second
)

type scenarioSession struct {
	id       string
	scenario string

	mu        sync.Mutex
	expiresAt time.Time
	claimed   bool
}

// claim marks the session as attached to a channel. A session serves one
// channel for its lifetime.
func (s *scenarioSession) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed {
		return false
	}
	s.claimed = true
	return true
}

func (s *scenarioSession) setExpiry(t time.Time) {
	s.mu.Lock()
	s.expiresAt = t
	s.mu.Unlock()
}

func (s *scenarioSession) extend(by time.Duration) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresAt = s.expiresAt.Add(by)
	return s.expiresAt
}

func (s *scenarioSession) expiry() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

// terminalChannel is the server half of one terminal connection.
type terminalChannel struct {
	server *Server
	client *client
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	sessionID string
	session   *scenarioSession

	mu    sync.Mutex
	shell *shellProcess
}

func (s *Server) terminalWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sessionID := r.URL.Query().Get(SessionQueryParam)
	ctx, cancel := context.WithCancel(context.Background())
	ch := &terminalChannel{
		server:    s,
		client:    newClient(sessionID, conn),
		logger:    s.logger.With("session_id", sessionID),
		ctx:       ctx,
		cancel:    cancel,
		sessionID: sessionID,
	}
	go ch.client.WriteLoop()
	go func() {
		<-ch.client.Done()
		cancel()
	}()

	ch.logger.Info("terminal channel opened", "remote", r.RemoteAddr)
	ch.readLoop()
	ch.shutdown()
}

func (ch *terminalChannel) readLoop() {
	for {
		_, data, err := ch.client.conn.ReadMessage()
		if err != nil {
			ch.logger.Info("terminal channel closed", "error", err)
			return
		}
		msg, err := realtime.Decode(data)
		if err != nil {
			ch.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		switch realtime.ClientMessageType(msg.Type) {
		case realtime.ClientMessageTypeRunTerraform:
			scenario, _ := msg.Text()
			ch.provision(scenario)
		case realtime.ClientMessageTypePtyInput:
			text, err := msg.Text()
			if err != nil {
				ch.logger.Warn("dropping input", "error", err)
				continue
			}
			ch.input(text)
		case realtime.ClientMessageTypeSessionExtend:
			ch.extend()
		default:
			ch.logger.Warn("ignoring unknown message", "type", msg.Type)
		}
	}
}

func (ch *terminalChannel) provision(scenario string) {
	if ch.session != nil {
		ch.logger.Warn("ignoring repeated run_terraform")
		return
	}
	sess, err := ch.server.lookup(ch.sessionID)
	if err != nil {
		ch.sendError(fmt.Sprintf("session %q: %v", ch.sessionID, err))
		return
	}
	if !sess.claim() {
		ch.sendError(fmt.Sprintf("session %q is already attached", ch.sessionID))
		return
	}
	if scenario == "" {
		scenario = sess.scenario
	}
	ch.session = sess
	if ch.server.failing(scenario) {
		ch.sendError(fmt.Sprintf("scenario %q failed to provision", scenario))
		return
	}

	ch.queueOutput(fmt.Sprintf("Provisioning scenario %s...\r\n", scenario))
	go ch.finishProvisioning(scenario)
}

func (ch *terminalChannel) finishProvisioning(scenario string) {
	if delay := ch.server.cfg.ProvisionDelay; delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ch.ctx.Done():
			return
		case <-timer.C:
		}
	}

	if ch.server.cfg.Shell != "" {
		shell, err := startShell(ch.ctx, ch.server.cfg.Shell, ch.queueOutput)
		if err != nil {
			ch.sendError(fmt.Sprintf("start shell: %v", err))
			return
		}
		ch.mu.Lock()
		ch.shell = shell
		ch.mu.Unlock()
		go func() {
			<-shell.Done()
			ch.logger.Info("shell exited")
			ch.client.Finish()
		}()
	}

	now := ch.server.cfg.Clock.Now()
	ch.session.setExpiry(now.Add(ch.server.cfg.SessionLifetime))
	ticker := ch.server.cfg.Clock.NewTicker(expiryCheck)

	status, _ := realtime.NewMessage(realtime.ServerMessageTypeStatus, realtime.StatusConnected)
	ch.client.Queue(status)
	ch.queueStatus("")
	ch.queueOutput(welcomeBanner)
	ch.logger.Info("scenario ready", "scenario", scenario)

	go ch.watchExpiry(ticker)
}

func (ch *terminalChannel) input(text string) {
	if !ch.isReady() {
		return
	}
	if shell := ch.currentShell(); shell != nil {
		if err := shell.Write(text); err != nil {
			ch.logger.Warn("shell write failed", "error", err)
		}
		return
	}
	ch.queueOutput(strings.ReplaceAll(text, "\r", "\r\n"))
}

func (ch *terminalChannel) extend() {
	if !ch.isReady() {
		return
	}
	expires := ch.session.extend(ch.server.cfg.ExtendBy)
	ch.logger.Info("session extended", "expires_at", expires)
	ch.queueStatus("Session extended.")
}

// isReady reports whether provisioning has finished, which is when the
// session first gets an expiry.
func (ch *terminalChannel) isReady() bool {
	if ch.session == nil {
		return false
	}
	return !ch.session.expiry().IsZero()
}

func (ch *terminalChannel) currentShell() *shellProcess {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.shell
}

func (ch *terminalChannel) watchExpiry(ticker *clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-ch.ctx.Done():
			return
		case <-ticker.C:
			if ch.server.cfg.Clock.Now().Before(ch.session.expiry()) {
				continue
			}
			ch.logger.Info("session expired")
			ch.queueOutput(expiredBanner)
			ch.client.Finish()
			return
		}
	}
}

func (ch *terminalChannel) queueOutput(text string) {
	msg, err := realtime.NewMessage(realtime.ServerMessageTypePtyOutput, text)
	if err != nil {
		return
	}
	ch.client.Queue(msg)
}

func (ch *terminalChannel) queueStatus(message string) {
	msg, err := realtime.EncodeSessionStatus(realtime.SessionStatus{
		ExpiresAt: ch.session.expiry(),
		Message:   message,
	})
	if err != nil {
		ch.logger.Error("encode session status", "error", err)
		return
	}
	ch.client.Queue(msg)
}

func (ch *terminalChannel) sendError(message string) {
	ch.logger.Warn("provisioning failed", "error", message)
	msg, _ := realtime.NewMessage(realtime.ServerMessageTypeError, message)
	ch.client.Queue(msg)
}

func (ch *terminalChannel) shutdown() {
	ch.cancel()
	ch.client.Close()
	if shell := ch.currentShell(); shell != nil {
		shell.Close()
	}
	if ch.session != nil {
		ch.server.remove(ch.session.id)
	}
}
