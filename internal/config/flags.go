package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Flags collects command-line overrides. Only flags the user actually set
// are applied, so defaults registered here never mask the file or the
// environment.
type Flags struct {
	fs         *pflag.FlagSet
	ConfigPath string
	values     Config
}

func newFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs, values: Default()}
	fs.StringVar(&f.ConfigPath, "config", DefaultPath(), "path to the YAML config file")
	fs.StringVar(&f.values.Server, "server", f.values.Server, "Chaos Lab server URL")
	fs.StringVar(&f.values.Log.Level, "log-level", f.values.Log.Level, "log level (debug, info, warn, error)")
	fs.StringVar(&f.values.Log.File, "log-file", f.values.Log.File, "log file used while the terminal is in raw mode")
	return f
}

// RegisterClientFlags adds the chaoslab client flags to fs.
func RegisterClientFlags(fs *pflag.FlagSet) *Flags {
	f := newFlags(fs)
	v := &f.values
	fs.StringVar(&v.Transport, "transport", v.Transport, "websocket implementation (gorilla, coder)")
	fs.StringVar(&v.Host.Kind, "host", v.Host.Kind, "where the terminal window opens (auto, tmux, local)")
	fs.StringVar(&v.Host.TmuxSocket, "tmux-socket", v.Host.TmuxSocket, "tmux server socket path")
	fs.StringVar(&v.Window.Title, "title", v.Window.Title, "terminal window title")
	fs.IntVar(&v.Window.Width, "width", v.Window.Width, "terminal window width hint in pixels")
	fs.IntVar(&v.Window.Height, "height", v.Window.Height, "terminal window height hint in pixels")
	fs.StringVar(&v.Window.Background, "background", v.Window.Background, "terminal window background colour")
	fs.StringSliceVar(&v.Window.StyleSheets, "stylesheet", v.Window.StyleSheets, "style sheet file or URL to copy into the window (repeatable)")
	fs.IntVar(&v.Terminal.MaxPendingBytes, "max-pending-bytes", v.Terminal.MaxPendingBytes, "cap on output buffered before the terminal attaches (0 = unbounded)")
	fs.IntVar(&v.Terminal.Scrollback, "scrollback", v.Terminal.Scrollback, "terminal scrollback lines")
	return f
}

// RegisterEchoFlags adds the chaoslab-echo server flags to fs.
func RegisterEchoFlags(fs *pflag.FlagSet) *Flags {
	f := newFlags(fs)
	v := &f.values
	fs.StringVar(&v.Echo.Listen, "listen", v.Echo.Listen, "listen address")
	fs.DurationVar(&v.Echo.SessionLifetime, "session-lifetime", v.Echo.SessionLifetime, "initial session lease")
	fs.DurationVar(&v.Echo.ExtendBy, "extend-by", v.Echo.ExtendBy, "lease added per extension")
	fs.DurationVar(&v.Echo.ProvisionDelay, "provision-delay", v.Echo.ProvisionDelay, "simulated provisioning time")
	fs.StringVar(&v.Echo.Shell, "shell", v.Echo.Shell, "run this shell under a pty instead of echoing input")
	fs.StringSliceVar(&v.Echo.FailScenarios, "fail", v.Echo.FailScenarios, "scenario ids whose provisioning fails (repeatable)")
	return f
}

// Apply copies every flag the user set into cfg.
func (f *Flags) Apply(cfg *Config) {
	v := f.values
	f.fs.Visit(func(flag *pflag.Flag) {
		switch flag.Name {
		case "server":
			cfg.Server = v.Server
		case "log-level":
			cfg.Log.Level = v.Log.Level
		case "log-file":
			cfg.Log.File = v.Log.File
		case "transport":
			cfg.Transport = v.Transport
		case "host":
			cfg.Host.Kind = v.Host.Kind
		case "tmux-socket":
			cfg.Host.TmuxSocket = v.Host.TmuxSocket
		case "title":
			cfg.Window.Title = v.Window.Title
		case "width":
			cfg.Window.Width = v.Window.Width
		case "height":
			cfg.Window.Height = v.Window.Height
		case "background":
			cfg.Window.Background = v.Window.Background
		case "stylesheet":
			cfg.Window.StyleSheets = v.Window.StyleSheets
		case "max-pending-bytes":
			cfg.Terminal.MaxPendingBytes = v.Terminal.MaxPendingBytes
		case "scrollback":
			cfg.Terminal.Scrollback = v.Terminal.Scrollback
		case "listen":
			cfg.Echo.Listen = v.Echo.Listen
		case "session-lifetime":
			cfg.Echo.SessionLifetime = v.Echo.SessionLifetime
		case "extend-by":
			cfg.Echo.ExtendBy = v.Echo.ExtendBy
		case "provision-delay":
			cfg.Echo.ProvisionDelay = v.Echo.ProvisionDelay
		case "shell":
			cfg.Echo.Shell = v.Echo.Shell
		case "fail":
			cfg.Echo.FailScenarios = v.Echo.FailScenarios
		}
	})
}

// Resolve builds the effective configuration once fs has been parsed. An
// explicitly passed --config must exist.
func (f *Flags) Resolve() (Config, error) {
	cfg, err := Load(f.ConfigPath, f.fs.Changed("config"))
	if err != nil {
		return Config{}, err
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	f.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
