// Package transport dials terminal channels over websockets. Two
// implementations are provided: gorilla/websocket (the default) and
// coder/websocket.
package transport

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/JacobWarners/New-Chaos-Web/internal/bridge"
)

const (
	KindGorilla = "gorilla"
	KindCoder   = "coder"

	defaultWriteTimeout = 10 * time.Second
	defaultReadLimit    = 1 << 20
)

// ResolveURL joins the opaque channel path returned by provisioning onto the
// server URL, switching http(s) to ws(s).
func ResolveURL(server, path string) (string, error) {
	base, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch strings.ToLower(base.Scheme) {
	case "http", "ws":
		base.Scheme = "ws"
	case "https", "wss":
		base.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", base.Scheme)
	}
	if base.Host == "" {
		return "", fmt.Errorf("server url %q has no host", server)
	}

	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse channel path: %w", err)
	}
	if ref.IsAbs() {
		return "", fmt.Errorf("channel path %q must be relative to the server", path)
	}
	return base.ResolveReference(ref).String(), nil
}

type Options struct {
	Server       string
	WriteTimeout time.Duration
	ReadLimit    int64
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = defaultReadLimit
	}
	return o
}

// New returns the dialer named by kind.
func New(kind string, opts Options) (bridge.Dialer, error) {
	if _, err := ResolveURL(opts.Server, "/"); err != nil {
		return nil, err
	}
	switch kind {
	case "", KindGorilla:
		return NewGorillaDialer(opts), nil
	case KindCoder:
		return NewCoderDialer(opts), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}
