package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/JacobWarners/New-Chaos-Web/internal/host/tmux"
)

// runView is started by the tmux host inside each window it opens.
func runView(args []string) error {
	fs := pflag.NewFlagSet("chaoslab view", pflag.ContinueOnError)
	in := fs.String("in", "", "FIFO that receives keystrokes")
	out := fs.String("out", "", "FIFO that carries terminal output")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *in == "" || *out == "" {
		return errors.New("view requires --in and --out")
	}

	stdinFd := int(os.Stdin.Fd())
	if term.IsTerminal(stdinFd) {
		oldState, err := term.MakeRaw(stdinFd)
		if err != nil {
			return err
		}
		defer term.Restore(stdinFd, oldState)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGHUP)
	defer stop()
	return tmux.RunViewer(ctx, *in, *out, os.Stdin, os.Stdout)
}
