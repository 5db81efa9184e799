package terminal

import (
	"io"
	"sync"
)

// streamBackend feeds remote output to the emulator and hands anything the
// emulator writes (typed input) to a callback. Feeding never blocks; the
// emulator's reader waits until output arrives or the backend is closed.
type streamBackend struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []byte
	closed  bool

	input func([]byte)
}

func newStreamBackend(input func([]byte)) *streamBackend {
	b := &streamBackend{input: input}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *streamBackend) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.pending) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.pending) == 0 {
		return 0, io.EOF
	}
	n := copy(p, b.pending)
	b.pending = b.pending[n:]
	if len(b.pending) == 0 {
		b.pending = nil
	}
	return n, nil
}

func (b *streamBackend) Write(p []byte) (int, error) {
	if b.input != nil && len(p) > 0 {
		data := make([]byte, len(p))
		copy(data, p)
		b.input(data)
	}
	return len(p), nil
}

func (b *streamBackend) SetSize(w, h int) error {
	return nil
}

func (b *streamBackend) feed(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || len(p) == 0 {
		return
	}
	b.pending = append(b.pending, p...)
	b.cond.Signal()
}

func (b *streamBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
	return nil
}
