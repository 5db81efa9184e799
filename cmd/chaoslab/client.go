package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/JacobWarners/New-Chaos-Web/internal/bridge"
	"github.com/JacobWarners/New-Chaos-Web/internal/clock"
	"github.com/JacobWarners/New-Chaos-Web/internal/config"
	"github.com/JacobWarners/New-Chaos-Web/internal/domain"
	"github.com/JacobWarners/New-Chaos-Web/internal/host"
	"github.com/JacobWarners/New-Chaos-Web/internal/host/local"
	"github.com/JacobWarners/New-Chaos-Web/internal/host/tmux"
	"github.com/JacobWarners/New-Chaos-Web/internal/logging"
	"github.com/JacobWarners/New-Chaos-Web/internal/provision"
	"github.com/JacobWarners/New-Chaos-Web/internal/terminal"
	"github.com/JacobWarners/New-Chaos-Web/internal/transport"
)

const (
	tmuxKeys  = "(x) extend  (q) quit"
	localKeys = "Ctrl-E extend  Ctrl-] close"
)

// app is the running client. Fields touched by event handlers are only used
// on the loop.
type app struct {
	cfg      config.Config
	scenario string
	logger   *slog.Logger
	out      io.Writer

	loop        *bridge.Loop
	provisioner *provision.Client
	conn        *bridge.SessionConnection
	popout      *bridge.PopoutWindowManager
	timer       *bridge.SessionTimer
	status      *statusView

	quit      chan struct{}
	quitOnce  sync.Once
	starting  bool
	appCtx    context.Context
	localHost *local.Provider
}

func runClient(args []string) error {
	fs := pflag.NewFlagSet("chaoslab", pflag.ContinueOnError)
	flags := config.RegisterClientFlags(fs)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: chaoslab [flags] <scenario>\n       chaoslab view --in <fifo> --out <fifo>\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	cfg, err := flags.Resolve()
	if err != nil {
		return err
	}
	scenario := cfg.Scenario
	if fs.NArg() > 0 {
		scenario = fs.Arg(0)
	}
	if scenario == "" {
		fs.Usage()
		return errors.New("a scenario id is required")
	}

	stdinFd := int(os.Stdin.Fd())
	interactive := term.IsTerminal(stdinFd)

	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logOpts := logging.Options{Level: level}
	if interactive {
		logOpts.File = cfg.Log.File
	}
	logger, closeLog, err := logging.New(logOpts)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provisioner, err := provision.NewClient(cfg.Server, nil, logger)
	if err != nil {
		return err
	}
	resp, err := provisioner.CreateSession(ctx, scenario)
	if err != nil {
		return err
	}
	guide := domain.LookupScenario(scenario, cfg.Guides, cfg.GuideURL)
	if resp.Message != "" {
		fmt.Println(resp.Message)
	}
	fmt.Printf("Session %s for scenario %s\nGuide: %s\n", resp.SessionID, scenario, guide.GuideURL)

	if interactive {
		oldState, err := term.MakeRaw(stdinFd)
		if err != nil {
			return fmt.Errorf("set terminal raw mode: %w", err)
		}
		defer term.Restore(stdinFd, oldState)
	}

	a, err := newApp(ctx, cfg, scenario, provisioner, logger)
	if err != nil {
		return err
	}
	return a.run(ctx, provision.Lease(resp))
}

func newApp(ctx context.Context, cfg config.Config, scenario string, provisioner *provision.Client, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:         cfg,
		scenario:    scenario,
		logger:      logger,
		out:         os.Stdout,
		loop:        bridge.NewLoop(),
		provisioner: provisioner,
		quit:        make(chan struct{}),
		appCtx:      ctx,
	}
	dialer, err := transport.New(cfg.Transport, transport.Options{Server: cfg.Server})
	if err != nil {
		return nil, err
	}

	provider, keys, err := a.hostProvider()
	if err != nil {
		return nil, err
	}

	a.popout = bridge.NewPopoutWindowManager(provider, bridge.PopoutOptions{
		Title:  cfg.Window.Title,
		Width:  cfg.Window.Width,
		Height: cfg.Window.Height,
		Body:   host.BodyStyle{Margin: 0, Background: cfg.Window.Background},
	}, a.loop, logger)

	emulatorOpts := terminal.DefaultEmulatorOptions()
	emulatorOpts.Cols = cfg.Terminal.Cols
	emulatorOpts.Rows = cfg.Terminal.Rows
	emulatorOpts.Scrollback = cfg.Terminal.Scrollback
	emulatorOpts.Logger = logger
	factory := func(container bridge.Container) (bridge.Widget, error) {
		emu, err := terminal.NewEmulator(container, emulatorOpts)
		if err != nil {
			return nil, err
		}
		return emu, nil
	}
	surface := bridge.NewTerminalSurface(factory, a.popout.ContentSink(), a.loop, logger)
	surface.SetTranscriptSize(cfg.Terminal.TranscriptBytes)

	clk := clock.Real()
	a.timer = bridge.NewSessionTimer(clk, bridge.ClockCadence{Clock: clk, Dispatcher: a.loop})

	var hidden func() bool
	if a.localHost != nil {
		hidden = a.popout.IsOpen
	}
	a.status = newStatusView(a.out, keys, hidden)

	a.conn = bridge.NewSessionConnection(bridge.ConnectionOptions{
		Dialer:     dialer,
		Dispatcher: a.loop,
		Surface:    surface,
		Popout:     a.popout,
		Timer:      a.timer,
		Buffer:     bridge.NewOutputBuffer(cfg.Terminal.MaxPendingBytes),
		Logger:     logger,
		Observer:   a.status.handleEvent,
	})
	if _, err := a.timer.OnChange(a.status.setTimer); err != nil {
		return nil, err
	}
	return a, nil
}

// hostProvider picks tmux when asked to, or when running inside tmux in
// auto mode, and the invoking terminal otherwise.
func (a *app) hostProvider() (host.Provider, string, error) {
	sheets := a.styleSheets()
	kind := a.cfg.Host.Kind
	if kind == "" || kind == config.HostAuto {
		kind = config.HostLocal
		if tmux.Available(a.cfg.Host.TmuxSocket) {
			kind = config.HostTmux
		}
	}

	if kind == config.HostTmux {
		provider, err := tmux.NewProvider(tmux.ProviderOptions{
			Server:      tmux.NewServer(a.cfg.Host.TmuxSocket),
			StyleSheets: sheets,
			Logger:      a.logger,
		})
		if err != nil {
			return nil, "", err
		}
		go a.readControlKeys(os.Stdin)
		return provider, tmuxKeys, nil
	}

	opts := local.Stdio()
	opts.StyleSheets = sheets
	opts.Logger = a.logger
	opts.Unclaimed = a.controlKeys
	opts.Extend = func() { a.loop.Post(a.extend) }
	a.localHost = local.NewProvider(opts)
	a.localHost.Start()
	return a.localHost, localKeys, nil
}

// styleSheets are the configured sheets after an inline sheet carrying the
// configured foreground.
func (a *app) styleSheets() []host.StyleSheet {
	sheets := []host.StyleSheet{host.InlineStyleSheet{"color: " + a.cfg.Window.Foreground}}
	baseDir := ""
	if path := config.DefaultPath(); path != "" {
		baseDir = filepath.Dir(path)
	}
	return append(sheets, host.LoadStyleSheets(a.cfg.Window.StyleSheets, baseDir)...)
}

func (a *app) run(ctx context.Context, lease domain.Lease) error {
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go func() { _ = a.loop.Run(loopCtx) }()

	a.start(lease)

	select {
	case <-ctx.Done():
	case <-a.quit:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = a.loop.Call(shutdownCtx, func() {
		a.conn.Shutdown()
		a.timer.Clear()
	})
	a.loop.Stop()
	fmt.Fprint(a.out, "\r\n")
	return nil
}

func (a *app) start(lease domain.Lease) {
	a.loop.Post(func() {
		a.starting = false
		if err := a.conn.Start(a.appCtx, a.scenario, lease); err != nil {
			a.status.notice(fmt.Sprintf("cannot start session: %v", err))
		}
	})
}

// restart provisions a new session once the previous one has ended.
func (a *app) restart() {
	if a.starting || !domain.CanStart(a.conn.State()) {
		return
	}
	a.starting = true
	a.status.notice("Requesting a new session...")
	go func() {
		resp, err := a.provisioner.CreateSession(a.appCtx, a.scenario)
		if err != nil {
			a.loop.Post(func() {
				a.starting = false
				a.status.notice(err.Error())
			})
			return
		}
		a.start(provision.Lease(resp))
	}()
}

func (a *app) requestQuit() {
	a.quitOnce.Do(func() { close(a.quit) })
}

func (a *app) extend() {
	if a.timer.ExtendRequested() {
		a.status.notice("Extension requested.")
	}
}

// readControlKeys handles the invoking terminal while the session is shown
// in another window.
func (a *app) readControlKeys(r io.Reader) {
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			a.controlKeys(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (a *app) controlKeys(data []byte) {
	for _, b := range data {
		switch keyAction(b) {
		case actionExtend:
			a.loop.Post(a.extend)
		case actionRestart:
			a.loop.Post(a.restart)
		case actionQuit:
			a.requestQuit()
		}
	}
}

type action int

const (
	actionNone action = iota
	actionExtend
	actionRestart
	actionQuit
)

func keyAction(b byte) action {
	switch b {
	case 'x', 'X', local.KeyExtend:
		return actionExtend
	case 'r', 'R':
		return actionRestart
	case 'q', 'Q', 0x03, 0x04:
		return actionQuit
	}
	return actionNone
}
