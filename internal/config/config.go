// Package config loads chaoslab settings. Sources are applied in order:
// built-in defaults, an optional YAML file, CHAOSLAB_* environment variables,
// then command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "CHAOSLAB"

const (
	HostAuto  = "auto"
	HostTmux  = "tmux"
	HostLocal = "local"
)

// Config is the full settings tree. Environment names follow the nesting,
// e.g. CHAOSLAB_WINDOW_TITLE or CHAOSLAB_TERMINAL_MAX_PENDING_BYTES.
type Config struct {
	Server    string         `yaml:"server"`
	Scenario  string         `yaml:"scenario"`
	Transport string         `yaml:"transport"`
	Host      HostConfig     `yaml:"host"`
	Window    WindowConfig   `yaml:"window"`
	Terminal  TerminalConfig `yaml:"terminal"`
	Log       LogConfig      `yaml:"log"`
	Echo      EchoConfig     `yaml:"echo"`

	// Guides maps scenario ids to guide URLs; GuideURL is the fallback.
	Guides   map[string]string `yaml:"guides"`
	GuideURL string            `yaml:"guide_url" split_words:"true"`
}

type HostConfig struct {
	// Kind is auto, tmux or local. auto picks tmux inside a tmux client.
	Kind       string `yaml:"kind"`
	TmuxSocket string `yaml:"tmux_socket" split_words:"true"`
}

type WindowConfig struct {
	Title       string   `yaml:"title"`
	Width       int      `yaml:"width"`
	Height      int      `yaml:"height"`
	Background  string   `yaml:"background"`
	Foreground  string   `yaml:"foreground"`
	StyleSheets []string `yaml:"stylesheets"`
}

type TerminalConfig struct {
	Cols            int `yaml:"cols"`
	Rows            int `yaml:"rows"`
	Scrollback      int `yaml:"scrollback"`
	MaxPendingBytes int `yaml:"max_pending_bytes" split_words:"true"`
	TranscriptBytes int `yaml:"transcript_bytes" split_words:"true"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type EchoConfig struct {
	Listen          string        `yaml:"listen"`
	SessionLifetime time.Duration `yaml:"session_lifetime" split_words:"true"`
	ExtendBy        time.Duration `yaml:"extend_by" split_words:"true"`
	ProvisionDelay  time.Duration `yaml:"provision_delay" split_words:"true"`
	Shell           string        `yaml:"shell"`
	FailScenarios   []string      `yaml:"fail_scenarios" split_words:"true"`
}

func Default() Config {
	return Config{
		Server:    "http://localhost:5000",
		Transport: "gorilla",
		Host:      HostConfig{Kind: HostAuto},
		Window: WindowConfig{
			Title:      "Chaos Lab Terminal",
			Width:      1200,
			Height:     800,
			Background: "#1d2021",
			Foreground: "#ebdbb2",
		},
		Terminal: TerminalConfig{
			Cols:            80,
			Rows:            24,
			Scrollback:      2000,
			MaxPendingBytes: 4 << 20,
			TranscriptBytes: 1 << 20,
		},
		Log: LogConfig{
			Level: "info",
			File:  DefaultLogFile(),
		},
		Echo: EchoConfig{
			Listen:          ":5000",
			SessionLifetime: 60 * time.Minute,
			ExtendBy:        30 * time.Minute,
		},
	}
}

// DefaultPath is $XDG_CONFIG_HOME/chaoslab/config.yaml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "chaoslab", "config.yaml")
}

// DefaultLogFile is $XDG_STATE_HOME/chaoslab/chaoslab.log.
func DefaultLogFile() string {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "chaoslab.log")
		}
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "chaoslab", "chaoslab.log")
}

// Load returns the defaults overlaid with the YAML file at path. A missing
// file is an error only when required is set.
func Load(path string, required bool) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any CHAOSLAB_* variables that are set.
func ApplyEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("load environment: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err)
	}
	switch c.Transport {
	case "", "gorilla", "coder":
	default:
		errs = append(errs, fmt.Errorf("transport %q: must be gorilla or coder", c.Transport))
	}
	switch c.Host.Kind {
	case "", HostAuto, HostTmux, HostLocal:
	default:
		errs = append(errs, fmt.Errorf("host.kind %q: must be auto, tmux or local", c.Host.Kind))
	}
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		errs = append(errs, fmt.Errorf("window size %dx%d must be positive", c.Window.Width, c.Window.Height))
	}
	if c.Terminal.Cols <= 0 || c.Terminal.Rows <= 0 {
		errs = append(errs, fmt.Errorf("terminal size %dx%d must be positive", c.Terminal.Cols, c.Terminal.Rows))
	}
	if c.Terminal.Scrollback < 0 {
		errs = append(errs, errors.New("terminal.scrollback must not be negative"))
	}
	if c.Terminal.MaxPendingBytes < 0 {
		errs = append(errs, errors.New("terminal.max_pending_bytes must not be negative"))
	}
	if c.Terminal.TranscriptBytes < 0 {
		errs = append(errs, errors.New("terminal.transcript_bytes must not be negative"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Echo.SessionLifetime <= 0 {
		errs = append(errs, errors.New("echo.session_lifetime must be positive"))
	}
	if c.Echo.ExtendBy <= 0 {
		errs = append(errs, errors.New("echo.extend_by must be positive"))
	}
	return errors.Join(errs...)
}

func validateServer(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("server %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("server %q: missing host", raw)
	}
	return nil
}

// ParseLevel accepts debug, info, warn and error.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("log level %q: %w", s, err)
	}
	return level, nil
}
