package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/edgewire/internal/testutil/testlog"
)

func TestExchangeCompleteIsSingleFire(t *testing.T) {
	testlog.Start(t)

	ex := NewExchange([]byte{0x01})
	if ex.IsDone() {
		t.Fatalf("new exchange should be unresolved")
	}
	if !ex.Complete([]byte{0x02}) {
		t.Fatalf("first complete should resolve")
	}
	if ex.Complete([]byte{0x03}) {
		t.Fatalf("second complete should be ignored")
	}
	if ex.Fail(errors.New("late")) {
		t.Fatalf("fail after complete should be ignored")
	}
	got, err := ex.Wait()
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !bytes.Equal(got, []byte{0x02}) {
		t.Fatalf("unexpected response: %x", got)
	}
}

func TestExchangeFailSurfacesToAllWaiters(t *testing.T) {
	testlog.Start(t)

	ex := NewExchange(nil)
	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ex.Wait()
			errs <- err
		}()
	}
	ex.Fail(ErrSessionStopped)
	wg.Wait()
	close(errs)
	for err := range errs {
		if !errors.Is(err, ErrSessionStopped) {
			t.Fatalf("expected ErrSessionStopped, got %v", err)
		}
	}
	if ex.Response() != nil {
		t.Fatalf("failed exchange should have no response")
	}
}

func TestExchangeWaitContextDoesNotResolve(t *testing.T) {
	testlog.Start(t)

	ex := NewExchange([]byte("req"))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := ex.WaitContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if ex.IsDone() {
		t.Fatalf("context expiry must not resolve the exchange")
	}
	ex.Complete([]byte("resp"))
	got, err := ex.WaitContext(context.Background())
	if err != nil || string(got) != "resp" {
		t.Fatalf("unexpected result: %q %v", got, err)
	}
}

func TestInboundExchangeCarriesID(t *testing.T) {
	testlog.Start(t)

	ex := NewInboundExchange(42, []byte{0x09})
	if ex.ID() != 42 {
		t.Fatalf("unexpected id: %d", ex.ID())
	}
	if !bytes.Equal(ex.Request(), []byte{0x09}) {
		t.Fatalf("unexpected request: %x", ex.Request())
	}
}

func TestInflightLifecycle(t *testing.T) {
	testlog.Start(t)

	table := NewInflight()
	a := NewInboundExchange(1, nil)
	b := NewInboundExchange(2, nil)
	if !table.Insert(b) || !table.Insert(a) {
		t.Fatalf("insert into open table should succeed")
	}
	if ids := table.IDs(); len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("unexpected ids: %v", ids)
	}

	got, ok := table.Take(1)
	if !ok || got != a {
		t.Fatalf("take 1: ok=%v", ok)
	}
	if _, ok := table.Take(1); ok {
		t.Fatalf("exchange must not be taken twice")
	}
	if _, ok := table.Take(99); ok {
		t.Fatalf("unknown id should miss")
	}

	if n := table.FailAll(ErrSessionStopped); n != 1 {
		t.Fatalf("expected one failed exchange, got %d", n)
	}
	if _, err := b.Wait(); !errors.Is(err, ErrSessionStopped) {
		t.Fatalf("expected ErrSessionStopped, got %v", err)
	}
	if table.Len() != 0 {
		t.Fatalf("table should be empty after FailAll")
	}

	late := NewInboundExchange(3, nil)
	if table.Insert(late) {
		t.Fatalf("insert into closed table should fail")
	}
	if _, err := late.Wait(); !errors.Is(err, ErrSessionStopped) {
		t.Fatalf("late insert should fail with close error, got %v", err)
	}
}

func TestInflightFailAllRacesResponses(t *testing.T) {
	testlog.Start(t)

	table := NewInflight()
	const n = 200
	exs := make([]*Exchange, n)
	for i := range exs {
		exs[i] = NewInboundExchange(int64(i+1), nil)
		table.Insert(exs[i])
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= n; i++ {
			if ex, ok := table.Take(int64(i)); ok {
				ex.Complete([]byte{0x01})
			}
		}
	}()
	table.FailAll(ErrSessionStopped)
	wg.Wait()

	for _, ex := range exs {
		if !ex.IsDone() {
			t.Fatalf("exchange %d left unresolved", ex.ID())
		}
	}
}

func TestConfigDeadlines(t *testing.T) {
	testlog.Start(t)

	now := time.Unix(1700000000, 0)
	cfg := Config{}.WithDefaults()
	if !cfg.ReadDeadline(now).IsZero() || !cfg.WriteDeadline(now).IsZero() {
		t.Fatalf("zero timeouts should give zero deadlines")
	}
	if cfg.Limits.MaxPayloadBytes != DefaultConfig().Limits.MaxPayloadBytes {
		t.Fatalf("expected default limits, got %+v", cfg.Limits)
	}
	cfg.ReadTimeout = time.Second
	cfg.WriteTimeout = 2 * time.Second
	if got := cfg.ReadDeadline(now); !got.Equal(now.Add(time.Second)) {
		t.Fatalf("unexpected read deadline: %v", got)
	}
	if got := cfg.WriteDeadline(now); !got.Equal(now.Add(2 * time.Second)) {
		t.Fatalf("unexpected write deadline: %v", got)
	}
}
