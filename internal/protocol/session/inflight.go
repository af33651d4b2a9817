package session

import (
	"sort"
	"sync"
)

// Inflight stores sent exchanges awaiting a response, keyed by correlation id.
//
// FailAll closes the table: it resolves every stored exchange under the table
// lock, so a response racing the drain either takes its exchange first or finds
// it gone. Inserts after FailAll fail the exchange with the same error.
type Inflight struct {
	mu     sync.Mutex
	items  map[int64]*Exchange
	closed error
}

func NewInflight() *Inflight {
	return &Inflight{
		items: make(map[int64]*Exchange),
	}
}

// Insert registers ex under its id. It reports false, and fails ex, when the
// table is already closed.
func (t *Inflight) Insert(ex *Exchange) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed != nil {
		ex.Fail(t.closed)
		return false
	}
	t.items[ex.ID()] = ex
	return true
}

// Take removes and returns the exchange registered under id.
func (t *Inflight) Take(id int64) (*Exchange, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ex, ok := t.items[id]
	if ok {
		delete(t.items, id)
	}
	return ex, ok
}

// FailAll fails and removes every registered exchange, then closes the table.
// The first error wins; it returns how many exchanges were failed by this call.
func (t *Inflight) FailAll(err error) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed == nil {
		t.closed = err
	}
	n := 0
	for id, ex := range t.items {
		if ex.Fail(err) {
			n++
		}
		delete(t.items, id)
	}
	return n
}

// Closed returns the error the table was closed with, if any.
func (t *Inflight) Closed() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Inflight) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// IDs returns registered ids in ascending order.
func (t *Inflight) IDs() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int64, 0, len(t.items))
	for id := range t.items {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i] < out[j]
	})
	return out
}
