// Package tmux presents terminal windows as tmux windows. Each window runs
// "chaoslab view" connected to the client through a pair of FIFOs.
package tmux

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Server runs tmux commands against one server. An empty socket path
// targets the server of the enclosing tmux client.
type Server struct {
	socketPath string
}

func NewServer(socketPath string) *Server {
	return &Server{socketPath: socketPath}
}

// Available reports whether tmux is installed and either a socket was given
// or the process runs inside a tmux client.
func Available(socketPath string) bool {
	if _, err := exec.LookPath("tmux"); err != nil {
		return false
	}
	return socketPath != "" || os.Getenv("TMUX") != ""
}

func (s *Server) args(args []string) []string {
	if s.socketPath == "" {
		return args
	}
	return append([]string{"-S", s.socketPath}, args...)
}

// Run executes a tmux subcommand and returns its combined output.
//
//	output, err := server.Run("list-windows", "-a", "-F", "#{window_id}")
func (s *Server) Run(args ...string) (string, error) {
	cmd := exec.Command("tmux", s.args(args)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w (%s)",
			strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// benign reports tmux errors that mean the target is already gone.
func benign(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "can't find window") ||
		strings.Contains(msg, "no server running") ||
		strings.Contains(msg, "server exited unexpectedly")
}
