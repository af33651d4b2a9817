package server

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
	"github.com/danmuck/edgewire/internal/protocol/session"
	"github.com/rs/zerolog"
)

var (
	ErrServerStopped = errors.New("server: stopped")
	ErrConnClosed    = errors.New("server: connection closed")
	ErrNoResponse    = errors.New("server: exchange has no response")
)

// Config for the listening server. Session.ReadTimeout and Session.WriteTimeout
// bound each frame read and write on accepted connections.
type Config struct {
	ListenAddr        string
	InboundCapacity   int
	ErrorLogCapacity  int
	DisconnectTimeout time.Duration
	StopTimeout       time.Duration
	Session           session.Config
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:        ":7182",
		InboundCapacity:   64,
		ErrorLogCapacity:  100,
		DisconnectTimeout: 5 * time.Second,
		StopTimeout:       5 * time.Second,
		Session:           session.DefaultConfig(),
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.InboundCapacity <= 0 {
		c.InboundCapacity = def.InboundCapacity
	}
	if c.ErrorLogCapacity <= 0 {
		c.ErrorLogCapacity = def.ErrorLogCapacity
	}
	if c.DisconnectTimeout <= 0 {
		c.DisconnectTimeout = def.DisconnectTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = def.StopTimeout
	}
	c.Session = c.Session.WithDefaults()
	return c
}

// Received pairs an inbound request with the connection that must answer it.
type Received struct {
	Conn     *Conn
	Exchange *session.Exchange
}

// Server owns the listener, the live connections and the inbound queue they
// share. The inbound bound applies to all connections together.
type Server struct {
	cfg Config
	log zerolog.Logger

	// lifeMu serializes Start and Stop.
	lifeMu sync.Mutex

	mu         sync.RWMutex
	ln         net.Listener
	inbound    chan Received
	ctx        context.Context
	cancel     context.CancelFunc
	acceptDone chan struct{}

	connsMu sync.Mutex
	conns   map[*Conn]struct{}

	errors        *ErrorLog
	bytesReceived atomic.Int64
	bytesSent     atomic.Int64
}

func New(cfg Config) *Server {
	cfg = cfg.WithDefaults()
	return &Server{
		cfg:    cfg,
		log:    logging.Component("server"),
		conns:  make(map[*Conn]struct{}),
		errors: NewErrorLog(cfg.ErrorLogCapacity),
	}
}

// Start stops any previous run, binds the listener and starts the accept loop.
func (s *Server) Start() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.stopLocked()

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.ListenAddr, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	inbound := make(chan Received, s.cfg.InboundCapacity)
	done := make(chan struct{})

	s.connsMu.Lock()
	s.conns = make(map[*Conn]struct{})
	s.connsMu.Unlock()

	s.mu.Lock()
	s.ln = ln
	s.inbound = inbound
	s.ctx = ctx
	s.cancel = cancel
	s.acceptDone = done
	s.mu.Unlock()

	go s.acceptLoop(ctx, ln, inbound, done)
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Int("inbound_capacity", s.cfg.InboundCapacity).
		Msg("server.Start listening")
	return nil
}

// Stop is a no-op on a server that is not started.
func (s *Server) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.stopLocked()
}

func (s *Server) stopLocked() {
	s.mu.RLock()
	ln, ctx, cancel, done := s.ln, s.ctx, s.cancel, s.acceptDone
	s.mu.RUnlock()
	if cancel == nil || ctx.Err() != nil {
		return
	}

	cancel()
	_ = ln.Close()
	conns := s.Conns()
	for _, c := range conns {
		c.Disconnect()
	}

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		s.log.Warn().Dur("timeout", s.cfg.StopTimeout).Msg("server.Stop accept loop still running")
	}
	s.log.Info().Int("disconnected", len(conns)).Msg("server.Stop stopped")
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, inbound chan Received, done chan struct{}) {
	defer close(done)
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.LogError(fmt.Errorf("server: accept: %w", err))
				continue
			}
			s.logError(fmt.Errorf("server: listener failed: %w", err), true)
			s.log.Error().Msg("server.acceptLoop no longer accepting")
			return
		}
		c := newConn(s, ctx, inbound, nc)
		if err := c.Connect(); err != nil {
			s.log.Debug().Err(err).Str("remote", c.RemoteAddr()).Msg("server.acceptLoop connection rejected")
		}
	}
}

// TakeReceived blocks until a request is available, ctx is done, or the
// server stops. Requests still queued at Stop are not handed out.
func (s *Server) TakeReceived(ctx context.Context) (Received, error) {
	s.mu.RLock()
	inbound, sctx := s.inbound, s.ctx
	s.mu.RUnlock()
	if inbound == nil || sctx.Err() != nil {
		return Received{}, ErrServerStopped
	}
	select {
	case r := <-inbound:
		return r, nil
	case <-ctx.Done():
		return Received{}, ctx.Err()
	case <-sctx.Done():
		return Received{}, ErrServerStopped
	}
}

// LogError records err in the bounded error log. It never affects control flow.
func (s *Server) LogError(err error) {
	s.logError(err, false)
}

func (s *Server) logError(err error, fatal bool) {
	if err == nil {
		return
	}
	s.errors.Append(time.Now(), err)
	observability.RecordServerError(fatal)
	s.log.Warn().Err(err).Bool("fatal", fatal).Msg("server error")
}

// Errors returns the logged errors, oldest first.
func (s *Server) Errors() []ErrorEntry {
	return s.errors.Entries()
}

// register adds c unless the server is shutting down. It shares connsMu with
// Stop's snapshot so a late accept cannot slip past Stop.
func (s *Server) register(c *Conn) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if c.srvCtx.Err() != nil {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) unregister(c *Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, c)
}

// Conns returns a snapshot of the live connections.
func (s *Server) Conns() []*Conn {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	out := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) ConnectionCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

func (s *Server) addReceived(n int) {
	s.bytesReceived.Add(int64(n))
	observability.RecordFrame(observability.RoleServer, observability.DirectionIn, n)
}

func (s *Server) addSent(n int) {
	s.bytesSent.Add(int64(n))
	observability.RecordFrame(observability.RoleServer, observability.DirectionOut, n)
}

func (s *Server) BytesReceived() int64 {
	return s.bytesReceived.Load()
}

func (s *Server) BytesSent() int64 {
	return s.bytesSent.Load()
}

// IsWorking reports whether the accept loop is running.
func (s *Server) IsWorking() bool {
	s.mu.RLock()
	done := s.acceptDone
	s.mu.RUnlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// IsShutdown reports whether the server is not started or has been stopped.
func (s *Server) IsShutdown() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx == nil || s.ctx.Err() != nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// InboundLen returns how many received requests are waiting for the handler.
func (s *Server) InboundLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.inbound)
}
