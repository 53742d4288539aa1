package ingest

import (
	"sync"
	"sync/atomic"

	"github.com/chainflux/logwatch/internal/core/domain"
)

// Queue is a FIFO of headers awaiting ingestion. AddHeader appends and kicks
// a drainer; at most one drain is ever active. While a header is being
// processed, further arrivals accumulate and the drainer re-reads the
// queue length after each step so late arrivals join the same pass.
type Queue struct {
	mu       sync.Mutex
	pending  []domain.Block
	draining atomic.Bool
	handle   func(domain.Block)
}

// NewQueue constructs a Queue whose drainer calls handle for each header,
// one at a time, in FIFO order.
func NewQueue(handle func(domain.Block)) *Queue {
	return &Queue{handle: handle}
}

// AddHeader appends h to the queue and starts a drain pass if none is
// already running.
func (q *Queue) AddHeader(h domain.Block) {
	q.mu.Lock()
	q.pending = append(q.pending, h)
	q.mu.Unlock()

	if q.draining.CompareAndSwap(false, true) {
		go q.drain()
	}
}

// Len reports the number of headers not yet handed to the callback.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) drain() {
	for {
		h, ok := q.pop()
		if !ok {
			q.draining.Store(false)
			// A header may have been enqueued between pop() finding the
			// queue empty and the latch above being cleared; if so, keep
			// draining instead of leaving it stranded until some later
			// AddHeader happens to win the next CompareAndSwap.
			if q.Len() == 0 {
				return
			}
			if !q.draining.CompareAndSwap(false, true) {
				return
			}
			continue
		}
		q.handle(h)
	}
}

func (q *Queue) pop() (domain.Block, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return domain.Block{}, false
	}
	h := q.pending[0]
	q.pending = q.pending[1:]
	return h, true
}
