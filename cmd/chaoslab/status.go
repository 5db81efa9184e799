package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/JacobWarners/New-Chaos-Web/internal/bridge"
	"github.com/JacobWarners/New-Chaos-Web/internal/domain"
)

var (
	stateStyle   = lipgloss.NewStyle().Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#fb4934"))
	noticeStyle  = lipgloss.NewStyle().Faint(true)
	inactiveTime = lipgloss.NewStyle().Foreground(lipgloss.Color("#fb4934"))
	normalTime   = lipgloss.NewStyle().Foreground(lipgloss.Color("#b8bb26"))
	warningTime  = lipgloss.NewStyle().Foreground(lipgloss.Color("#fabd2f")).Bold(true)
	expiredTime  = lipgloss.NewStyle().Foreground(lipgloss.Color("#fb4934")).Bold(true)
)

// statusView draws a single status line on the invoking terminal. All
// methods run on the loop.
type statusView struct {
	out io.Writer
	// hidden reports whether the terminal is showing the session itself.
	hidden func() bool
	keys   string

	state   domain.SessionState
	timer   bridge.TimerState
	message string
	failed  bool
}

func newStatusView(out io.Writer, keys string, hidden func() bool) *statusView {
	return &statusView{out: out, keys: keys, hidden: hidden, state: domain.SessionStateIdle}
}

func (v *statusView) handleEvent(event domain.Event) {
	switch data := event.Data.(type) {
	case domain.StatusChangeData:
		v.state = data.NewState
		if data.NewState != domain.SessionStateErrored {
			v.failed = false
		}
		switch data.NewState {
		case domain.SessionStateConnecting:
			v.message = "Connecting..."
		case domain.SessionStateProvisioning:
			v.message = "Provisioning scenario..."
		case domain.SessionStateReady:
			v.message = "Connected."
		case domain.SessionStateClosed:
			v.message = "Session closed."
		}
	case domain.ErrorData:
		v.message = data.Message
		v.failed = true
	case domain.NoticeData:
		v.message = data.Message
	}
	v.render()
}

func (v *statusView) setTimer(state bridge.TimerState) {
	v.timer = state
	v.render()
}

func (v *statusView) notice(message string) {
	v.message = message
	v.failed = false
	v.render()
}

func (v *statusView) render() {
	if v.hidden != nil && v.hidden() {
		return
	}
	fmt.Fprint(v.out, "\r\x1b[2K"+v.line())
}

func (v *statusView) line() string {
	parts := []string{
		stateStyle.Render("[" + v.state.String() + "]"),
		timerStyle(v.timer.Level()).Render(v.timer.Display()),
	}
	if v.message != "" {
		if v.failed {
			parts = append(parts, errorStyle.Render(v.message))
		} else {
			parts = append(parts, v.message)
		}
	}
	if hint := v.hint(); hint != "" {
		parts = append(parts, noticeStyle.Render(hint))
	}
	return strings.Join(parts, "  ")
}

func (v *statusView) hint() string {
	if domain.CanStart(v.state) && v.state != domain.SessionStateIdle {
		return "(r) new session  (q) quit"
	}
	return v.keys
}

func timerStyle(level bridge.TimerLevel) lipgloss.Style {
	switch level {
	case bridge.TimerNormal:
		return normalTime
	case bridge.TimerWarning:
		return warningTime
	case bridge.TimerExpired:
		return expiredTime
	default:
		return inactiveTime
	}
}
