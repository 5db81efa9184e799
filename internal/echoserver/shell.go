package echoserver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"unicode/utf8"

	"github.com/creack/pty"
)

const (
	shellCols = 80
	shellRows = 24
)

// shellProcess is a shell running under a pty. Output is delivered in order
// to emit and never splits a UTF-8 sequence.
type shellProcess struct {
	cmd  *exec.Cmd
	ptmx *os.File
	done chan struct{}

	closeOnce sync.Once
}

func startShell(ctx context.Context, shell string, emit func(string)) (*shellProcess, error) {
	cmd := exec.CommandContext(ctx, shell)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: shellCols, Rows: shellRows})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", shell, err)
	}
	p := &shellProcess{cmd: cmd, ptmx: ptmx, done: make(chan struct{})}
	go p.pump(emit)
	return p, nil
}

func (p *shellProcess) pump(emit func(string)) {
	defer close(p.done)
	buf := make([]byte, 4096)
	var carry []byte
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			chunk := append(carry, buf[:n]...)
			cut := completePrefix(chunk)
			if cut > 0 {
				emit(string(chunk[:cut]))
			}
			carry = append([]byte(nil), chunk[cut:]...)
		}
		if err != nil {
			if len(carry) > 0 {
				emit(string(carry))
			}
			_ = p.cmd.Wait()
			return
		}
	}
}

// completePrefix returns the length of b without a trailing partial rune.
func completePrefix(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return len(b)
		}
		return i
	}
	return len(b)
}

func (p *shellProcess) Write(text string) error {
	_, err := p.ptmx.WriteString(text)
	return err
}

func (p *shellProcess) Done() <-chan struct{} {
	return p.done
}

func (p *shellProcess) Close() {
	p.closeOnce.Do(func() {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		_ = p.ptmx.Close()
	})
}
