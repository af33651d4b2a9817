package session

import (
	"context"
	"sync"
	"sync/atomic"
)

// Exchange is one correlated request/response unit.
//
// The request payload is fixed at construction. Exactly one of Complete or Fail
// resolves the exchange; later calls are ignored and every waiter observes the
// same outcome.
type Exchange struct {
	id      atomic.Int64
	request []byte

	once     sync.Once
	done     chan struct{}
	response []byte
	err      error
}

// NewExchange builds an outbound exchange. The id is assigned when it is sent.
func NewExchange(request []byte) *Exchange {
	if request == nil {
		request = []byte{}
	}
	return &Exchange{
		request: request,
		done:    make(chan struct{}),
	}
}

// NewInboundExchange builds an exchange for a request frame received from a peer.
func NewInboundExchange(id int64, request []byte) *Exchange {
	ex := NewExchange(request)
	ex.id.Store(id)
	return ex
}

func (e *Exchange) ID() int64 {
	return e.id.Load()
}

// SetID is called by the owning session when the exchange is queued for send.
func (e *Exchange) SetID(id int64) {
	e.id.Store(id)
}

func (e *Exchange) Request() []byte {
	return e.request
}

// Complete resolves the exchange with a response payload.
// It reports whether this call resolved it.
func (e *Exchange) Complete(response []byte) bool {
	if response == nil {
		response = []byte{}
	}
	resolved := false
	e.once.Do(func() {
		e.response = response
		resolved = true
		close(e.done)
	})
	return resolved
}

// Fail resolves the exchange with err. It reports whether this call resolved it.
func (e *Exchange) Fail(err error) bool {
	if err == nil {
		err = ErrSessionStopped
	}
	resolved := false
	e.once.Do(func() {
		e.err = err
		resolved = true
		close(e.done)
	})
	return resolved
}

// Done is closed once the exchange is resolved.
func (e *Exchange) Done() <-chan struct{} {
	return e.done
}

// IsDone reports whether the exchange is resolved.
func (e *Exchange) IsDone() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the exchange resolves and returns its response or failure.
func (e *Exchange) Wait() ([]byte, error) {
	<-e.done
	return e.response, e.err
}

// WaitContext is Wait bounded by ctx. A ctx expiry does not resolve the exchange.
func (e *Exchange) WaitContext(ctx context.Context) ([]byte, error) {
	select {
	case <-e.done:
		return e.response, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Response returns the response payload, or nil while unresolved or failed.
func (e *Exchange) Response() []byte {
	if !e.IsDone() {
		return nil
	}
	return e.response
}

// Err returns the recorded failure, or nil while unresolved or completed.
func (e *Exchange) Err() error {
	if !e.IsDone() {
		return nil
	}
	return e.err
}
