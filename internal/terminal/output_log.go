package terminal

import (
	"sync"
)

// OutputLog keeps the most recent output written to a terminal in a fixed
// ring so a long session never grows without bound.
type OutputLog struct {
	buffer    []byte
	size      int
	writePos  int
	wrapped   bool
	truncated bool
	total     int64
	mu        sync.RWMutex
}

// NewOutputLog returns a log retaining size bytes. Sizes below one are
// raised to one.
func NewOutputLog(size int) *OutputLog {
	if size < 1 {
		size = 1
	}
	return &OutputLog{
		buffer: make([]byte, size),
		size:   size,
	}
}

func (l *OutputLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	written := len(p)
	l.total += int64(written)
	// Only the tail of an oversized write can survive.
	if len(p) >= l.size {
		copy(l.buffer, p[len(p)-l.size:])
		l.writePos = 0
		l.wrapped = true
		l.truncated = l.total > int64(l.size)
		return written, nil
	}

	for len(p) > 0 {
		n := copy(l.buffer[l.writePos:], p)
		p = p[n:]
		l.writePos += n
		if l.writePos == l.size {
			l.writePos = 0
			l.wrapped = true
			l.truncated = true
		}
	}
	return written, nil
}

// ReadAll returns the retained output in write order.
func (l *OutputLog) ReadAll() (output string, truncated bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.wrapped {
		return string(l.buffer[:l.writePos]), l.truncated
	}
	return string(l.buffer[l.writePos:]) + string(l.buffer[:l.writePos]), l.truncated
}

// Total is the number of bytes ever written, retained or not.
func (l *OutputLog) Total() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

func (l *OutputLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.writePos = 0
	l.wrapped = false
	l.truncated = false
	l.total = 0
}
