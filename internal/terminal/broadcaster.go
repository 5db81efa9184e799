package terminal

import (
	"sync"
)

// UpdateBroadcaster fans screen updates out to subscribers. Slow subscribers
// lose updates rather than stall the emulator; every subscriber starts from
// the latest full snapshot so it can render without waiting for a redraw.
type UpdateBroadcaster struct {
	mu     sync.Mutex
	subs   map[int64]chan Update
	closed bool
	seq    int64
	latest *Snapshot
}

func NewUpdateBroadcaster() *UpdateBroadcaster {
	return &UpdateBroadcaster{
		subs: make(map[int64]chan Update),
	}
}

func (b *UpdateBroadcaster) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Update, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.seq++
	id := b.seq
	if b.latest != nil {
		ch <- Update{Kind: UpdateSnapshot, Snapshot: b.latest}
	}
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
		b.mu.Unlock()
	}
}

func (b *UpdateBroadcaster) Broadcast(update Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if update.Kind == UpdateSnapshot && update.Snapshot != nil {
		b.latest = update.Snapshot
	}
	for _, sub := range b.subs {
		select {
		case sub <- update:
		default:
		}
	}
}

// Latest returns the most recent snapshot broadcast, if any.
func (b *UpdateBroadcaster) Latest() (Snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.latest == nil {
		return Snapshot{}, false
	}
	return *b.latest, true
}

func (b *UpdateBroadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub)
	}
	b.mu.Unlock()
}
