package terminal

import "sync"

// Scrollback retains rows that scrolled off the top of the screen, oldest
// first, up to a fixed number of lines.
type Scrollback struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func NewScrollback(limit int) *Scrollback {
	return &Scrollback{max: limit}
}

func (s *Scrollback) Push(lines ...string) {
	if s.max <= 0 || len(lines) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, lines...)
	if over := len(s.lines) - s.max; over > 0 {
		s.lines = append([]string(nil), s.lines[over:]...)
	}
}

func (s *Scrollback) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

func (s *Scrollback) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}
