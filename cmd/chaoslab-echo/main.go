// Command chaoslab-echo serves the Chaos Lab provisioning API and terminal
// channel for local development.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/JacobWarners/New-Chaos-Web/internal/config"
	"github.com/JacobWarners/New-Chaos-Web/internal/echoserver"
	"github.com/JacobWarners/New-Chaos-Web/internal/logging"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "chaoslab-echo: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("chaoslab-echo", pflag.ContinueOnError)
	flags := config.RegisterEchoFlags(fs)
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
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger, closeLog, err := logging.New(logging.Options{Level: level})
	if err != nil {
		return err
	}
	defer closeLog()

	server := echoserver.New(echoserver.Config{
		SessionLifetime: cfg.Echo.SessionLifetime,
		ExtendBy:        cfg.Echo.ExtendBy,
		ProvisionDelay:  cfg.Echo.ProvisionDelay,
		Shell:           cfg.Echo.Shell,
		FailScenarios:   cfg.Echo.FailScenarios,
		Logger:          logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.Echo.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Echo.Listen, "shell", cfg.Echo.Shell)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
