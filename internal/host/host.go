// Package host describes the surfaces a terminal session can be presented on.
// The bridge only sees these interfaces; tmux and the local terminal provide
// concrete implementations.
package host

import (
	"errors"
	"io"
)

var (
	ErrCrossOrigin       = errors.New("style sheet is not same-origin")
	ErrWindowClosed      = errors.New("window closed")
	ErrAlreadySubscribed = errors.New("already subscribed")
)

type WindowOptions struct {
	Title  string
	Width  int
	Height int
}

// BodyStyle is applied to the window body before any content is shown.
type BodyStyle struct {
	Margin     int
	Background string
}

// Window is one external presentation surface.
type Window interface {
	// Body receives rendered content.
	Body() io.Writer
	// Keys yields raw keystrokes typed into the window until it closes.
	Keys() io.Reader
	Size() (cols, rows int, err error)
	SetTitle(title string) error
	SetBodyStyle(style BodyStyle) error
	// AddStyle applies presentation rules copied from a style sheet.
	AddStyle(rules []string) error
	// OnClose registers fn for a close the user initiated. Only one
	// subscription may be active; unsubscribe before registering again.
	OnClose(fn func()) (unsubscribe func(), err error)
	// OnResize registers fn for size changes, with the same single
	// subscription rule as OnClose.
	OnResize(fn func()) (unsubscribe func(), err error)
	Close() error
}

// Provider opens windows and exposes the presentation rules of the surface
// that launched them.
type Provider interface {
	Origin() string
	StyleSheets() []StyleSheet
	OpenWindow(opts WindowOptions) (Window, error)
}
