package collector

import (
	"sync"

	"github.com/dvelasquez/node-perf/internal/entry"
)

// Buffer accumulates snapshots between drains.
type Buffer struct {
	mu    sync.Mutex
	items []entry.Snapshot
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds s at the end. It never blocks on consumers.
func (b *Buffer) Append(s ...entry.Snapshot) {
	if len(s) == 0 {
		return
	}
	b.mu.Lock()
	b.items = append(b.items, s...)
	b.mu.Unlock()
}

// DrainAll returns everything appended since the previous drain, in append
// order, and leaves the buffer empty. The result is never nil.
func (b *Buffer) DrainAll() []entry.Snapshot {
	b.mu.Lock()
	items := b.items
	b.items = nil
	b.mu.Unlock()
	if items == nil {
		return []entry.Snapshot{}
	}
	return items
}

// Len reports the number of buffered snapshots.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
