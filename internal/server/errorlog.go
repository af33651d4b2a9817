package server

import (
	"sync"
	"time"

	"github.com/eapache/queue"
)

// ErrorEntry is one logged server error.
type ErrorEntry struct {
	At  time.Time
	Err error
}

// ErrorLog keeps the most recent errors, evicting the oldest past capacity.
type ErrorLog struct {
	mu       sync.Mutex
	q        *queue.Queue
	capacity int
}

func NewErrorLog(capacity int) *ErrorLog {
	if capacity <= 0 {
		capacity = 100
	}
	return &ErrorLog{q: queue.New(), capacity: capacity}
}

func (l *ErrorLog) Append(at time.Time, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.q.Add(ErrorEntry{At: at, Err: err})
	for l.q.Length() > l.capacity {
		l.q.Remove()
	}
}

// Entries returns the logged errors oldest first.
func (l *ErrorLog) Entries() []ErrorEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ErrorEntry, 0, l.q.Length())
	for i := 0; i < l.q.Length(); i++ {
		out = append(out, l.q.Get(i).(ErrorEntry))
	}
	return out
}

func (l *ErrorLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.q.Length()
}
