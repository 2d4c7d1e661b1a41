package bus

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Publisher/Subscriber fanout. Each subscriber
// gets a buffer of one pending notification; publishing into a full buffer
// coalesces with the pending delivery instead of blocking.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[string][]chan struct{}
	closed bool
}

var (
	_ Publisher  = (*MemoryBus)(nil)
	_ Subscriber = (*MemoryBus)(nil)
)

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[string][]chan struct{}),
	}
}

// Publish notifies every current subscriber of the signal. It never blocks.
func (b *MemoryBus) Publish(_ context.Context, signal string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	for _, ch := range b.subs[signal] {
		select {
		case ch <- struct{}{}:
		default:
			// A delivery is already pending, the subscriber will observe it.
		}
	}
	return nil
}

// Subscribe registers a channel for the signal. The channel is closed when
// ctx is cancelled or the bus is closed.
func (b *MemoryBus) Subscribe(ctx context.Context, signal string) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, nil
	}
	b.subs[signal] = append(b.subs[signal], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(signal, ch)
	}()

	return ch, nil
}

// Close closes all subscriber channels.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for signal, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
		delete(b.subs, signal)
	}
	return nil
}

func (b *MemoryBus) remove(signal string, ch chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	chans := b.subs[signal]
	for i, c := range chans {
		if c == ch {
			b.subs[signal] = append(chans[:i], chans[i+1:]...)
			close(ch)
			return
		}
	}
}
