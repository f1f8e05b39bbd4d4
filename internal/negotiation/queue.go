package negotiation

import (
	"context"
	"sync"
)

type op struct {
	// Inbound ops always run; local actions run only if no reset happened
	// since they were queued.
	inbound bool
	epoch   uint64
	run     func(ctx context.Context) error
	done    chan error
}

// opQueue is an unbounded FIFO drained by the machine's single worker.
type opQueue struct {
	mu     sync.Mutex
	items  []op
	notify chan struct{}
}

func newOpQueue() *opQueue {
	return &opQueue{notify: make(chan struct{}, 1)}
}

func (q *opQueue) push(o op) {
	q.mu.Lock()
	q.items = append(q.items, o)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop blocks until an op is available or ctx is done.
func (q *opQueue) pop(ctx context.Context) (op, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			o := q.items[0]
			q.items[0] = op{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return o, true
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return op{}, false
		}
	}
}
