package whatsapp

import (
	"sync"

	"github.com/MardaOneli/WaBot/internal/events"
)

// queue is the bounded batch channel between the library's event
// goroutine and the supervisor. A full queue blocks push until the
// consumer catches up or the queue is closed.
type queue struct {
	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	out      chan events.Batch
	done     chan struct{}
}

func newQueue(size int) *queue {
	return &queue{
		out:  make(chan events.Batch, size),
		done: make(chan struct{}),
	}
}

// push enqueues batch. It is a no-op once the queue is closed and returns
// early if the queue is closed while it waits.
func (q *queue) push(batch events.Batch) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.inflight.Add(1)
	q.mu.Unlock()
	defer q.inflight.Done()

	select {
	case q.out <- batch:
	case <-q.done:
	}
}

func (q *queue) events() <-chan events.Batch { return q.out }

// close releases blocked pushers, runs detach (which must stop further
// pushes from the library), waits for in-flight pushes and closes the
// channel. Only the first call has an effect.
func (q *queue) close(detach func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	if detach != nil {
		detach()
	}
	q.inflight.Wait()
	close(q.out)
}
