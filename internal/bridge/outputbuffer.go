package bridge

import "fmt"

// DefaultMaxPendingBytes bounds output held while no consumer is attached.
const DefaultMaxPendingBytes = 4 << 20

// OutputBuffer holds output chunks until a consumer attaches. Attach drains
// everything pending in arrival order before any newer chunk reaches the
// consumer; afterwards chunks bypass the buffer until Detach.
type OutputBuffer struct {
	maxBytes int

	chunks   []string
	size     int
	consumer func(string)

	droppedChunks int
	droppedBytes  int
}

// NewOutputBuffer returns a buffer capped at maxBytes of pending output.
// When the cap is exceeded the oldest whole chunks are discarded; a value of
// zero or less disables the cap.
func NewOutputBuffer(maxBytes int) *OutputBuffer {
	return &OutputBuffer{maxBytes: maxBytes}
}

func (b *OutputBuffer) Append(chunk string) {
	if chunk == "" {
		return
	}
	if b.consumer != nil {
		b.consumer(chunk)
		return
	}
	b.chunks = append(b.chunks, chunk)
	b.size += len(chunk)
	b.evict()
}

func (b *OutputBuffer) evict() {
	if b.maxBytes <= 0 {
		return
	}
	// The newest chunk is always kept, even when it alone exceeds the cap.
	n := 0
	for b.size > b.maxBytes && n < len(b.chunks)-1 {
		b.size -= len(b.chunks[n])
		b.droppedBytes += len(b.chunks[n])
		b.droppedChunks++
		b.chunks[n] = ""
		n++
	}
	if n > 0 {
		b.chunks = b.chunks[n:]
	}
}

// Attach registers consumer, replacing any previous one, and delivers pending
// output to it. A notice precedes the output when chunks were evicted.
func (b *OutputBuffer) Attach(consumer func(string)) {
	if consumer == nil {
		return
	}
	pending := b.chunks
	notice := b.dropNotice()
	b.chunks = nil
	b.size = 0
	b.droppedChunks = 0
	b.droppedBytes = 0

	if notice != "" {
		consumer(notice)
	}
	for _, chunk := range pending {
		consumer(chunk)
	}
	b.consumer = consumer
}

func (b *OutputBuffer) dropNotice() string {
	if b.droppedChunks == 0 {
		return ""
	}
	return fmt.Sprintf("\r\n\x1b[33m[%d earlier output chunks (%d bytes) discarded]\x1b[0m\r\n", b.droppedChunks, b.droppedBytes)
}

func (b *OutputBuffer) Detach() {
	b.consumer = nil
}

// Clear discards pending output. The consumer, if any, stays attached.
func (b *OutputBuffer) Clear() {
	b.chunks = nil
	b.size = 0
	b.droppedChunks = 0
	b.droppedBytes = 0
}

func (b *OutputBuffer) Attached() bool {
	return b.consumer != nil
}

// Len is the number of pending chunks.
func (b *OutputBuffer) Len() int {
	return len(b.chunks)
}

func (b *OutputBuffer) PendingBytes() int {
	return b.size
}

func (b *OutputBuffer) Dropped() int {
	return b.droppedChunks
}
