package processor

import (
	"sync"
	"time"

	"github.com/tradewire/signal-relay/internal/signal"
	"github.com/tradewire/signal-relay/internal/upstream"
)

// BufferCapacity bounds the durable buffer. On overflow the oldest item is
// evicted first.
const BufferCapacity = 500

// BufferedItem is one write-failed message awaiting retry.
type BufferedItem struct {
	Raw         upstream.Message
	Signal      *signal.TradingSignal
	Fingerprint string
	ChannelID   int64
	Retries     int
	EnqueuedAt  time.Time
}

// Buffer is a bounded in-memory FIFO of pending writes, used when the store
// is unreachable. Mutation is exclusive; flushing is coordinated by the
// processor's single-flight flag.
type Buffer struct {
	mu       sync.Mutex
	items    []BufferedItem
	capacity int
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = BufferCapacity
	}
	return &Buffer{capacity: capacity}
}

// Append enqueues an item, evicting the oldest when full. Returns true when
// an eviction happened so the caller can log it.
func (b *Buffer) Append(item BufferedItem) (evicted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) >= b.capacity {
		b.items = b.items[1:]
		evicted = true
	}
	b.items = append(b.items, item)
	return evicted
}

// Drain removes and returns every buffered item, oldest first.
func (b *Buffer) Drain() []BufferedItem {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := b.items
	b.items = nil
	return items
}

// Requeue pushes failed items back to the front, keeping their original
// order ahead of anything appended during the flush.
func (b *Buffer) Requeue(items []BufferedItem) {
	if len(items) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	merged := make([]BufferedItem, 0, len(items)+len(b.items))
	merged = append(merged, items...)
	merged = append(merged, b.items...)
	if len(merged) > b.capacity {
		merged = merged[len(merged)-b.capacity:]
	}
	b.items = merged
}

// Len reports the number of buffered items.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
