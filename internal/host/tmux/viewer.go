package tmux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// RunViewer is the process side of a window. It copies the output FIFO to
// stdout and stdin to the input FIFO, and returns when the client closes
// its end of the output FIFO or ctx is done.
func RunViewer(ctx context.Context, inPath, outPath string, stdin io.Reader, stdout io.Writer) error {
	// The client holds both FIFOs open read-write, so neither open blocks.
	out, err := os.OpenFile(outPath, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("open output fifo: %w", err)
	}
	defer out.Close()
	in, err := os.OpenFile(inPath, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open input fifo: %w", err)
	}
	defer in.Close()

	go func() {
		_, _ = io.Copy(in, stdin)
	}()

	copied := make(chan error, 1)
	go func() {
		_, err := io.Copy(stdout, out)
		copied <- err
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-copied:
		if err != nil && !errors.Is(err, os.ErrClosed) {
			return fmt.Errorf("copy output: %w", err)
		}
		return nil
	}
}
