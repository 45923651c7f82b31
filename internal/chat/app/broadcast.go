package app

import "sync"

// broadcaster fans a published snapshot out to watchers. Each watcher channel
// holds at most one pending snapshot; a newer one replaces it.
type broadcaster[T any] struct {
	mu       sync.Mutex
	next     int
	closed   bool
	watchers map[int]chan T
}

func newBroadcaster[T any]() *broadcaster[T] {
	return &broadcaster[T]{watchers: make(map[int]chan T)}
}

// subscribe registers a watcher primed with current. After closeAll the
// returned channel is already closed.
func (b *broadcaster[T]) subscribe(current T) (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	id := b.next
	b.next++
	ch := make(chan T, 1)
	ch <- current
	b.watchers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.watchers[id]; ok {
				delete(b.watchers, id)
				close(c)
			}
		})
	}
}

// publish never blocks; clone gives every watcher its own copy
func (b *broadcaster[T]) publish(v T, clone func(T) T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- clone(v)
	}
}

func (b *broadcaster[T]) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.watchers {
		delete(b.watchers, id)
		close(ch)
	}
}
