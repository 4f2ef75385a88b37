package scheduler

import (
	"context"
	"sync"
)

// fifo is an unbounded first-in-first-out queue of task ids. Push never
// blocks; Pop blocks until an id is available or the context ends.
type fifo struct {
	mu     sync.Mutex
	items  []string
	signal chan struct{}
}

func newFIFO() *fifo {
	return &fifo{signal: make(chan struct{}, 1)}
}

func (q *fifo) Push(id string) {
	q.mu.Lock()
	q.items = append(q.items, id)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *fifo) Pop(ctx context.Context) (string, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			id := q.items[0]
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			// The signal slot coalesces rapid Pushes into one wakeup, so a
			// consumer that leaves items behind must pass the wakeup on or
			// an idle peer stays parked.
			if more {
				select {
				case q.signal <- struct{}{}:
				default:
				}
			}
			return id, true
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return "", false
		case <-q.signal:
		}
	}
}

func (q *fifo) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
