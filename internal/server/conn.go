package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/edgewire/internal/observability"
	"github.com/danmuck/edgewire/internal/protocol/frame"
	"github.com/danmuck/edgewire/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrAlreadyConnected = errors.New("server: connection already started")

// Conn is the server side of one accepted connection. Its reader feeds the
// server's shared inbound queue and its writer drains the Conn's own outbox.
type Conn struct {
	id      string
	server  *Server
	conn    net.Conn
	srvCtx  context.Context
	inbound chan<- Received
	log     zerolog.Logger

	mu         sync.RWMutex
	connected  bool
	ctx        context.Context
	cancel     context.CancelFunc
	out        *outbox
	readerDone chan struct{}
	writerDone chan struct{}
	// closed is closed once the stopping disconnect has unregistered the Conn.
	closed chan struct{}

	stopped atomic.Bool
}

func newConn(s *Server, srvCtx context.Context, inbound chan<- Received, nc net.Conn) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:      id,
		server:  s,
		conn:    nc,
		srvCtx:  srvCtx,
		inbound: inbound,
		log: s.log.With().
			Str("conn", id).
			Str("remote", nc.RemoteAddr().String()).
			Logger(),
	}
}

// Connect registers the Conn with its server and starts its reader and writer.
// The socket is closed if the server is already stopping.
func (c *Conn) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return ErrAlreadyConnected
	}
	if !c.server.register(c) {
		_ = c.conn.Close()
		return ErrServerStopped
	}
	c.ctx, c.cancel = context.WithCancel(c.srvCtx)
	c.out = newOutbox()
	c.readerDone = make(chan struct{})
	c.writerDone = make(chan struct{})
	c.closed = make(chan struct{})
	c.stopped.Store(false)
	c.connected = true

	observability.SessionOpened(observability.RoleServer)
	go c.readLoop(c.ctx, c.readerDone)
	go c.writeLoop(c.ctx, c.out, c.writerDone)
	c.log.Info().Msg("server.Conn connected")
	return nil
}

// Disconnect stops the Conn and waits for its workers. It is a no-op on a Conn
// that is not connected. If another disconnect is already running, Disconnect
// waits for it to finish.
func (c *Conn) Disconnect() {
	c.disconnect(nil)
}

// disconnect skips joining self, the done channel of the calling worker. A
// worker that loses the race returns at once, since the winner may be joining it.
func (c *Conn) disconnect(self chan struct{}) {
	c.mu.RLock()
	connected := c.connected
	cancel, out := c.cancel, c.out
	readerDone, writerDone, closed := c.readerDone, c.writerDone, c.closed
	c.mu.RUnlock()
	if !connected {
		return
	}
	if !c.stopped.CompareAndSwap(false, true) {
		if self == nil {
			<-closed
		}
		return
	}
	defer close(closed)

	cancel()
	_ = c.conn.Close()
	timeout := c.server.cfg.DisconnectTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()
join:
	for _, done := range []chan struct{}{readerDone, writerDone} {
		if done == self {
			continue
		}
		select {
		case <-done:
		case <-timer.C:
			c.log.Warn().Dur("timeout", timeout).Msg("server.Conn.Disconnect worker still running")
			break join
		}
	}

	dropped := out.Close()
	c.server.unregister(c)
	observability.SessionClosed(observability.RoleServer)
	c.log.Info().Int("dropped_responses", dropped).Msg("server.Conn disconnected")
}

func (c *Conn) readLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	dec := frame.NewDecoder(c.conn, c.server.cfg.Session.Limits)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.conn.SetReadDeadline(c.server.cfg.Session.ReadDeadline(time.Now())); err != nil {
			c.failed("read", err, done)
			return
		}
		f, err := dec.Decode()
		if err != nil {
			c.failed("read", err, done)
			return
		}
		c.server.addReceived(len(f.Payload))
		ex := session.NewInboundExchange(f.ID, f.Payload)
		select {
		case c.inbound <- Received{Conn: c, Exchange: ex}:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Conn) writeLoop(ctx context.Context, out *outbox, done chan struct{}) {
	defer close(done)
	enc := frame.NewEncoder(c.conn, c.server.cfg.Session.Limits)
	for {
		ex, err := out.Take(ctx)
		if err != nil {
			// Shutdown or disconnect.
			return
		}
		if err := c.conn.SetWriteDeadline(c.server.cfg.Session.WriteDeadline(time.Now())); err != nil {
			c.failed("write", err, done)
			return
		}
		payload := ex.Response()
		if err := enc.Encode(frame.Frame{ID: ex.ID(), Payload: payload}); err != nil {
			c.failed("write", err, done)
			return
		}
		c.server.addSent(len(payload))
	}
}

// failed disconnects after a worker error, logging it unless the Conn is
// already stopping or the peer closed cleanly.
func (c *Conn) failed(op string, err error, self chan struct{}) {
	switch {
	case c.stopped.Load(), c.srvCtx.Err() != nil, errors.Is(err, net.ErrClosed):
		c.log.Debug().Err(err).Str("op", op).Msg("server.Conn worker exiting")
		return
	case errors.Is(err, io.EOF):
		c.log.Debug().Str("op", op).Msg("server.Conn peer closed")
	default:
		c.server.LogError(err)
	}
	c.disconnect(self)
}

// Push queues ex for sending back to the peer. ex must be completed with a
// response and keep the id of the request it answers.
func (c *Conn) Push(ex *session.Exchange) error {
	if ex == nil || !ex.IsDone() || ex.Err() != nil {
		return ErrNoResponse
	}
	c.mu.RLock()
	out := c.out
	c.mu.RUnlock()
	if out == nil || c.stopped.Load() {
		return ErrConnClosed
	}
	return out.Push(ex)
}

// Respond completes ex with payload and queues it.
func (c *Conn) Respond(ex *session.Exchange, payload []byte) error {
	ex.Complete(payload)
	return c.Push(ex)
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *Conn) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && !c.stopped.Load()
}

// Pending returns how many responses are queued but not yet written.
func (c *Conn) Pending() int {
	c.mu.RLock()
	out := c.out
	c.mu.RUnlock()
	if out == nil {
		return 0
	}
	return out.Len()
}
