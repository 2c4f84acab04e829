package timeline

import (
	"sync"

	"emocall/internal/domain"
)

// DefaultCapacity is the number of points kept when none is configured.
const DefaultCapacity = 30

// Buffer is a fixed-capacity FIFO of timeline points. Push evicts the oldest
// point once full.
type Buffer struct {
	mu    sync.RWMutex
	items []domain.TimelinePoint
	head  int
	size  int
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{items: make([]domain.TimelinePoint, capacity)}
}

// Push appends point and returns the evicted point, if any.
func (b *Buffer) Push(point domain.TimelinePoint) (domain.TimelinePoint, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.items)
	if b.size < capacity {
		b.items[(b.head+b.size)%capacity] = point
		b.size++
		return domain.TimelinePoint{}, false
	}

	evicted := b.items[b.head]
	b.items[b.head] = point
	b.head = (b.head + 1) % capacity
	return evicted, true
}

// Snapshot returns a copy of the points in insertion order.
func (b *Buffer) Snapshot() []domain.TimelinePoint {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]domain.TimelinePoint, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}

func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.items)
	b.head = 0
	b.size = 0
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

func (b *Buffer) Cap() int {
	return len(b.items)
}
