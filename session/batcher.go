package session

import (
	"sync"
	"time"

	"github.com/mudlark/mudlark/style"
)

// Batcher accumulates styled fragments and delivers them to a sink in
// batches, bounded by a time window and a size limit. Chatty servers can
// otherwise produce a flush per character. Fragments are never reordered
// and a started window always flushes.
type Batcher struct {
	mu sync.Mutex

	window time.Duration
	limit  int
	sink   func([]style.Fragment)

	pending []style.Fragment
	timer   *time.Timer
	stopped bool

	// deliverMu serializes sink calls so a timer flush racing a size-limit
	// flush cannot deliver batches out of extraction order.
	deliverMu sync.Mutex
}

// NewBatcher creates a batcher that flushes to sink after window elapses
// or once limit fragments are pending, whichever comes first.
func NewBatcher(window time.Duration, limit int, sink func([]style.Fragment)) *Batcher {
	return &Batcher{
		window: window,
		limit:  limit,
		sink:   sink,
	}
}

// Add appends fragments to the pending batch. The first fragment of a
// batch arms the flush timer; reaching the size limit flushes immediately.
func (b *Batcher) Add(fragments []style.Fragment) {
	if len(fragments) == 0 {
		return
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}

	b.pending = append(b.pending, fragments...)
	if len(b.pending) >= b.limit {
		b.mu.Unlock()
		b.Flush()
		return
	}

	if b.timer == nil {
		b.timer = time.AfterFunc(b.window, b.Flush)
	}
	b.mu.Unlock()
}

// Flush delivers everything pending right now. Safe to call at any time,
// including concurrently with the window timer.
func (b *Batcher) Flush() {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	batch := b.take()
	b.mu.Unlock()

	if len(batch) > 0 {
		b.sink(batch)
	}
}

// Stop flushes any pending fragments and cancels the timer. Stopping an
// already-stopped batcher is a no-op, and later Adds are dropped.
func (b *Batcher) Stop() {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	batch := b.take()
	b.mu.Unlock()

	if len(batch) > 0 {
		b.sink(batch)
	}
}

// take clears pending state and disarms the timer. Caller holds b.mu.
func (b *Batcher) take() []style.Fragment {
	batch := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	return batch
}
