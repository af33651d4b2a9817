package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/edgewire/internal/logging"
	"github.com/danmuck/edgewire/internal/observability"
	"github.com/danmuck/edgewire/internal/protocol/frame"
	"github.com/danmuck/edgewire/internal/protocol/session"
	"github.com/rs/zerolog"
)

var (
	ErrAddressRequired = errors.New("client: address required")
	ErrNotStarted      = errors.New("client: session not started")
	ErrAlreadyStarted  = errors.New("client: session already started")
	ErrSessionClosed   = errors.New("client: session closed")
)

// Config for one client session. Session.ReadTimeout and Session.WriteTimeout
// are the per-frame receive and send timeouts.
type Config struct {
	Address         string
	PendingCapacity int
	StopTimeout     time.Duration
	Session         session.Config
	// Dial replaces the TCP dialer when set.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
}

func DefaultConfig() Config {
	return Config{
		Address:         "localhost:7182",
		PendingCapacity: 64,
		StopTimeout:     2 * time.Second,
		Session:         session.DefaultConfig(),
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	c.Address = strings.TrimSpace(c.Address)
	if c.PendingCapacity <= 0 {
		c.PendingCapacity = def.PendingCapacity
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = def.StopTimeout
	}
	c.Session = c.Session.WithDefaults()
	return c
}

// Session multiplexes concurrent exchanges over one TCP connection.
//
// Send queues an exchange on a bounded pending queue; a writer goroutine moves
// it to the in-flight table and onto the wire, and a reader goroutine completes
// it when a frame with the same id arrives.
type Session struct {
	cfg Config
	log zerolog.Logger

	// lifeMu serializes Start and Stop.
	lifeMu sync.Mutex
	nextID atomic.Int64

	mu  sync.RWMutex
	run *run
}

// run is the state of one Start..Stop cycle.
type run struct {
	conn    net.Conn
	pending chan *session.Exchange
	sent    *session.Inflight

	ctx    context.Context
	cancel context.CancelFunc

	writerDone chan struct{}
	readerDone chan struct{}
	failOnce   sync.Once

	// gate is held shared by senders; closing it rejects further sends.
	gate      sync.RWMutex
	gateErr   error
	startedAt time.Time
}

func New(cfg Config) (*Session, error) {
	cfg = cfg.WithDefaults()
	if cfg.Address == "" {
		return nil, ErrAddressRequired
	}
	return &Session{
		cfg: cfg,
		log: logging.Component("client").With().Str("addr", cfg.Address).Logger(),
	}, nil
}

// Start dials the peer and starts one writer and one reader. A session whose
// connection failed may be started again without calling Stop.
func (s *Session) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.RLock()
	prev := s.run
	s.mu.RUnlock()
	if prev != nil {
		if prev.ctx.Err() == nil {
			return ErrAlreadyStarted
		}
		s.detach()
		s.teardown(prev, session.ErrSessionStopped)
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", s.cfg.Address, err)
	}
	rctx, cancel := context.WithCancel(context.Background())
	r := &run{
		conn:       conn,
		pending:    make(chan *session.Exchange, s.cfg.PendingCapacity),
		sent:       session.NewInflight(),
		ctx:        rctx,
		cancel:     cancel,
		writerDone: make(chan struct{}),
		readerDone: make(chan struct{}),
		startedAt:  time.Now(),
	}
	s.mu.Lock()
	s.run = r
	s.mu.Unlock()

	observability.SessionOpened(observability.RoleClient)
	go s.writeLoop(r)
	go s.readLoop(r)
	s.log.Info().
		Str("local", conn.LocalAddr().String()).
		Int("pending_capacity", s.cfg.PendingCapacity).
		Msg("client.Session started")
	return nil
}

func (s *Session) dial(ctx context.Context) (net.Conn, error) {
	if s.cfg.Dial != nil {
		return s.cfg.Dial(ctx, "tcp", s.cfg.Address)
	}
	dialer := net.Dialer{Timeout: s.cfg.Session.ConnectTimeout}
	return dialer.DialContext(ctx, "tcp", s.cfg.Address)
}

// Stop is a no-op on a session that is not started. Every exchange still
// in flight or queued fails with session.ErrSessionStopped before Stop returns.
func (s *Session) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	r := s.detach()
	if r == nil {
		return
	}
	s.teardown(r, session.ErrSessionStopped)
}

func (s *Session) detach() *run {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.run
	s.run = nil
	return r
}

func (s *Session) teardown(r *run, cause error) {
	r.cancel()
	_ = r.conn.SetDeadline(time.Now())
	if !r.join(s.cfg.StopTimeout) {
		s.log.Warn().Dur("timeout", s.cfg.StopTimeout).Msg("client.Session.Stop workers still running, closing socket")
	}
	_ = r.conn.Close()
	if !r.join(s.cfg.StopTimeout) {
		s.log.Error().Msg("client.Session.Stop workers did not exit after socket close")
	}

	r.closeGate(cause)
	failed := r.sent.FailAll(cause)
	dropped := r.drainPending(cause)
	observability.RecordExchange(observability.OutcomeFailed, failed+dropped)
	observability.SessionClosed(observability.RoleClient)
	s.log.Info().
		Int("failed_inflight", failed).
		Int("failed_pending", dropped).
		Dur("uptime", time.Since(r.startedAt)).
		Msg("client.Session stopped")
}

// fail tears down the connection after a worker error. Errors raised while
// the run is already cancelled belong to Stop and are ignored here.
func (s *Session) fail(r *run, err error) {
	if r.ctx.Err() != nil {
		return
	}
	r.failOnce.Do(func() {
		lost := fmt.Errorf("%w: %w", session.ErrConnectionLost, err)
		r.cancel()
		_ = r.conn.Close()
		r.closeGate(fmt.Errorf("%w: %w", ErrSessionClosed, err))
		failed := r.sent.FailAll(lost)
		dropped := r.drainPending(lost)
		observability.RecordExchange(observability.OutcomeFailed, failed+dropped)
		s.log.Warn().
			Err(err).
			Int("failed_inflight", failed).
			Int("failed_pending", dropped).
			Msg("client.Session connection failed")
	})
}

// Send assigns the next correlation id and queues ex. It blocks while the
// pending queue is full and returns once ex is queued, not when it completes.
func (s *Session) Send(ex *session.Exchange) error {
	return s.SendContext(context.Background(), ex)
}

// SendContext is Send that also gives up when ctx is done.
func (s *Session) SendContext(ctx context.Context, ex *session.Exchange) error {
	s.mu.RLock()
	r := s.run
	s.mu.RUnlock()
	if r == nil {
		return ErrNotStarted
	}

	r.gate.RLock()
	defer r.gate.RUnlock()
	if r.gateErr != nil {
		return r.gateErr
	}
	if r.ctx.Err() != nil {
		return session.ErrCancelled
	}
	ex.SetID(s.nextID.Add(1))
	select {
	case r.pending <- ex:
		return nil
	case <-r.ctx.Done():
		return session.ErrCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Request sends payload and waits for its response.
func (s *Session) Request(ctx context.Context, payload []byte) ([]byte, error) {
	ex := session.NewExchange(payload)
	if err := s.SendContext(ctx, ex); err != nil {
		return nil, err
	}
	return ex.WaitContext(ctx)
}

func (s *Session) writeLoop(r *run) {
	defer close(r.writerDone)
	enc := frame.NewEncoder(r.conn, s.cfg.Session.Limits)
	for {
		var ex *session.Exchange
		select {
		case <-r.ctx.Done():
			return
		case ex = <-r.pending:
		}
		if !r.sent.Insert(ex) {
			continue
		}
		if err := r.conn.SetWriteDeadline(s.cfg.Session.WriteDeadline(time.Now())); err != nil {
			s.fail(r, err)
			return
		}
		if r.ctx.Err() != nil {
			return
		}
		err := enc.Encode(frame.Frame{ID: ex.ID(), Payload: ex.Request()})
		if errors.Is(err, frame.ErrPayloadTooLarge) {
			// Rejected before any byte hit the stream.
			if taken, ok := r.sent.Take(ex.ID()); ok {
				taken.Fail(err)
				observability.RecordExchange(observability.OutcomeFailed, 1)
			}
			continue
		}
		if err != nil {
			s.fail(r, err)
			return
		}
		observability.RecordFrame(observability.RoleClient, observability.DirectionOut, len(ex.Request()))
	}
}

func (s *Session) readLoop(r *run) {
	defer close(r.readerDone)
	dec := frame.NewDecoder(r.conn, s.cfg.Session.Limits)
	for {
		if r.ctx.Err() != nil {
			return
		}
		if err := r.conn.SetReadDeadline(s.cfg.Session.ReadDeadline(time.Now())); err != nil {
			s.fail(r, err)
			return
		}
		// Stop sets its wake-up deadline after cancelling; recheck so ours never overrides it.
		if r.ctx.Err() != nil {
			return
		}
		f, err := dec.Decode()
		if err != nil {
			s.fail(r, err)
			return
		}
		observability.RecordFrame(observability.RoleClient, observability.DirectionIn, len(f.Payload))
		ex, ok := r.sent.Take(f.ID)
		if !ok {
			s.log.Debug().Int64("id", f.ID).Msg("client.Session discarding frame with no outstanding exchange")
			continue
		}
		ex.Complete(f.Payload)
		observability.RecordExchange(observability.OutcomeCompleted, 1)
	}
}

// join waits for both workers up to timeout.
func (r *run) join(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for _, done := range []chan struct{}{r.writerDone, r.readerDone} {
		select {
		case <-done:
		case <-timer.C:
			return false
		}
	}
	return true
}

// closeGate waits out senders holding the gate; callers cancel r.ctx first so
// blocked senders release it.
func (r *run) closeGate(err error) {
	r.gate.Lock()
	defer r.gate.Unlock()
	if r.gateErr == nil {
		r.gateErr = err
	}
}

// drainPending fails exchanges that were queued but never written.
func (r *run) drainPending(err error) int {
	n := 0
	for {
		select {
		case ex := <-r.pending:
			if ex.Fail(err) {
				n++
			}
		default:
			return n
		}
	}
}

// IsWorking reports whether the session is started and its connection is live.
func (s *Session) IsWorking() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run != nil && s.run.ctx.Err() == nil
}

// PendingCapacity returns the bound of the pending queue of the running session.
func (s *Session) PendingCapacity() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.run == nil {
		return 0, ErrNotStarted
	}
	return cap(s.run.pending), nil
}

// Pending returns how many exchanges are queued but not yet written.
func (s *Session) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.run == nil {
		return 0
	}
	return len(s.run.pending)
}

// InFlight returns the ids of exchanges written and awaiting a response.
func (s *Session) InFlight() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.run == nil {
		return nil
	}
	return s.run.sent.IDs()
}

func (s *Session) Addr() string {
	return s.cfg.Address
}
