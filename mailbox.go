package auth

import "sync"

// mailbox is an unbounded FIFO with a wake-up signal. Put never blocks,
// which lets callbacks running under a foreign lock hand work over safely.
type mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	signal chan struct{}
	closed bool
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{signal: make(chan struct{}, 1)}
}

// Put appends an item. It returns false once the mailbox is closed.
func (m *mailbox[T]) Put(item T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, item)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

// Take removes and returns every queued item.
func (m *mailbox[T]) Take() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}

// Wait returns the channel signalled after a Put.
func (m *mailbox[T]) Wait() <-chan struct{} {
	return m.signal
}

func (m *mailbox[T]) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}
