package terminal

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/x/ansi"
)

const sgrReset = "\x1b[0m"

// Renderer turns screen updates into ANSI output for a real terminal. It
// remembers the last frame so the screen can be redrawn from scratch, for
// example when its output is attached to a new window.
type Renderer struct {
	mu     sync.Mutex
	out    io.Writer
	lines  []string
	cursor Cursor
}

func NewRenderer(out io.Writer) *Renderer {
	return &Renderer{out: out}
}

func (r *Renderer) Apply(update Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var buf bytes.Buffer
	switch update.Kind {
	case UpdateSnapshot:
		if update.Snapshot == nil {
			return nil
		}
		r.lines = append(r.lines[:0], update.Snapshot.Lines...)
		r.cursor = update.Snapshot.Cursor
		r.writeFrame(&buf)
	case UpdateDiff:
		if update.Diff == nil {
			return nil
		}
		for i, line := range update.Diff.Lines {
			y := update.Diff.Region.Y + i
			if y >= 0 && y < len(r.lines) {
				r.lines[y] = line
			}
			fmt.Fprintf(&buf, "\x1b[%d;1H\x1b[2K%s", y+1, visible(line))
		}
		r.writeCursor(&buf)
	case UpdateCursor:
		if update.Cursor == nil {
			return nil
		}
		r.cursor = *update.Cursor
		r.writeCursor(&buf)
	case UpdateBell:
		buf.WriteByte('\a')
	}

	if buf.Len() == 0 {
		return nil
	}
	_, err := r.out.Write(buf.Bytes())
	return err
}

// Redraw repaints the last frame.
func (r *Renderer) Redraw() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lines == nil {
		return nil
	}
	var buf bytes.Buffer
	r.writeFrame(&buf)
	_, err := r.out.Write(buf.Bytes())
	return err
}

func (r *Renderer) writeFrame(buf *bytes.Buffer) {
	buf.WriteString("\x1b[H\x1b[2J")
	for y, line := range r.lines {
		if text := visible(line); text != "" {
			fmt.Fprintf(buf, "\x1b[%d;1H%s", y+1, text)
		}
	}
	r.writeCursor(buf)
}

func (r *Renderer) writeCursor(buf *bytes.Buffer) {
	fmt.Fprintf(buf, "\x1b[%d;%dH", r.cursor.Y+1, r.cursor.X+1)
}

// visible drops trailing blanks so a full-width row never triggers an
// autowrap in the outer terminal. A styled row ends with a reset so its
// attributes do not bleed into the erase of the next row.
func visible(line string) string {
	text := strings.TrimRight(line, " \x00")
	if !strings.Contains(text, "\x1b[") {
		return text
	}
	for strings.HasSuffix(text, sgrReset) {
		text = strings.TrimRight(strings.TrimSuffix(text, sgrReset), " \x00")
	}
	if ansi.Strip(text) == "" {
		return ""
	}
	return text + sgrReset
}
