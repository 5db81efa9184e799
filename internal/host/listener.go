package host

import "sync"

// Listener holds at most one callback. Subscribing while a callback is
// registered fails; the returned unsubscribe is idempotent and only removes
// the subscription it created.
type Listener[T any] struct {
	mu  sync.Mutex
	fn  func(T)
	gen uint64
}

func (l *Listener[T]) Subscribe(fn func(T)) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fn != nil {
		return nil, ErrAlreadySubscribed
	}
	l.gen++
	gen := l.gen
	l.fn = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.gen == gen {
			l.fn = nil
		}
	}, nil
}

// Fire calls the registered callback, if any, outside the lock.
func (l *Listener[T]) Fire(value T) bool {
	l.mu.Lock()
	fn := l.fn
	l.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(value)
	return true
}

func (l *Listener[T]) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fn != nil
}
