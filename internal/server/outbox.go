package server

import (
	"context"
	"sync"

	"github.com/danmuck/edgewire/internal/protocol/session"
	"github.com/eapache/queue"
)

// outbox is the unbounded FIFO of responses awaiting send on one Conn.
// It supports any number of producers and a single consumer.
type outbox struct {
	mu        sync.Mutex
	q         *queue.Queue
	ready     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func newOutbox() *outbox {
	return &outbox{
		q:      queue.New(),
		ready:  make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (o *outbox) Push(ex *session.Exchange) error {
	o.mu.Lock()
	select {
	case <-o.closed:
		o.mu.Unlock()
		return ErrConnClosed
	default:
	}
	o.q.Add(ex)
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}
	return nil
}

// Take blocks until an exchange is queued, the outbox closes, or ctx is done.
func (o *outbox) Take(ctx context.Context) (*session.Exchange, error) {
	for {
		o.mu.Lock()
		if o.q.Length() > 0 {
			ex := o.q.Remove().(*session.Exchange)
			o.mu.Unlock()
			return ex, nil
		}
		o.mu.Unlock()

		select {
		case <-o.ready:
		case <-o.closed:
			return nil, ErrConnClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (o *outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.q.Length()
}

// Close rejects further pushes and drops anything still queued.
func (o *outbox) Close() int {
	o.closeOnce.Do(func() {
		close(o.closed)
	})
	o.mu.Lock()
	defer o.mu.Unlock()
	n := o.q.Length()
	for o.q.Length() > 0 {
		o.q.Remove()
	}
	return n
}
