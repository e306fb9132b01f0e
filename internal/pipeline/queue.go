package pipeline

import (
	"context"
	"sync"

	"github.com/echosub/echosub/internal/segment"
)

// WorkItem pairs a speech segment with its enqueue sequence. Queuing is FIFO
// by sequence; completion order is not guaranteed once workers run
// concurrently.
type WorkItem struct {
	Seq     uint64
	Segment segment.Segment
}

// Queue is a bounded FIFO with drop-oldest overflow: under sustained
// overload, recent speech wins over stale speech. Single reader, any number
// of writers.
type Queue struct {
	mu       sync.Mutex
	items    []WorkItem
	capacity int
	nextSeq  uint64
	dropped  uint64
	closed   bool
	signal   chan struct{}
}

// NewQueue creates a queue holding at most capacity pending items.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// Push enqueues seg, evicting the oldest pending item when full. Returns
// false once the queue is closed.
func (q *Queue) Push(seg segment.Segment) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.dropped++
	}
	q.nextSeq++
	q.items = append(q.items, WorkItem{Seq: q.nextSeq, Segment: seg})
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Pop blocks until an item is available, the queue is closed and drained, or
// ctx is done. The second return is false when no more items will arrive.
func (q *Queue) Pop(ctx context.Context) (WorkItem, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return WorkItem{}, false
		}
		select {
		case <-ctx.Done():
			return WorkItem{}, false
		case <-q.signal:
		}
	}
}

// Close stops accepting new items. Pending items remain poppable.
// Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many items the overflow policy has evicted.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
