package server

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/danmuck/edgewire/internal/protocol/session"
	"github.com/danmuck/edgewire/internal/testutil/testlog"
)

func TestOutboxIsFIFOAndUnbounded(t *testing.T) {
	testlog.Start(t)

	out := newOutbox()
	const n = 1000
	for i := 1; i <= n; i++ {
		ex := session.NewInboundExchange(int64(i), nil)
		ex.Complete(nil)
		if err := out.Push(ex); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if out.Len() != n {
		t.Fatalf("expected %d queued, got %d", n, out.Len())
	}
	for i := 1; i <= n; i++ {
		ex, err := out.Take(context.Background())
		if err != nil {
			t.Fatalf("take %d: %v", i, err)
		}
		if ex.ID() != int64(i) {
			t.Fatalf("out of order: want %d got %d", i, ex.ID())
		}
	}
}

func TestOutboxTakeWaitsForPush(t *testing.T) {
	testlog.Start(t)

	out := newOutbox()
	got := make(chan int64, 1)
	go func() {
		ex, err := out.Take(context.Background())
		if err != nil {
			got <- -1
			return
		}
		got <- ex.ID()
	}()

	time.Sleep(20 * time.Millisecond)
	ex := session.NewInboundExchange(7, nil)
	ex.Complete([]byte("r"))
	if err := out.Push(ex); err != nil {
		t.Fatalf("push: %v", err)
	}
	select {
	case id := <-got:
		if id != 7 {
			t.Fatalf("unexpected id: %d", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("take did not wake on push")
	}
}

func TestOutboxTakeHonorsContext(t *testing.T) {
	testlog.Start(t)

	out := newOutbox()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := out.Take(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestOutboxCloseRejectsPushAndWakesTake(t *testing.T) {
	testlog.Start(t)

	out := newOutbox()
	for i := 0; i < 3; i++ {
		_ = out.Push(session.NewInboundExchange(int64(i), nil))
	}
	if dropped := out.Close(); dropped != 3 {
		t.Fatalf("expected 3 dropped, got %d", dropped)
	}
	if err := out.Push(session.NewInboundExchange(9, nil)); !errors.Is(err, ErrConnClosed) {
		t.Fatalf("expected ErrConnClosed, got %v", err)
	}
	if _, err := out.Take(context.Background()); !errors.Is(err, ErrConnClosed) {
		t.Fatalf("expected ErrConnClosed from take, got %v", err)
	}
	out.Close()
}

func TestErrorLogKeepsNewest(t *testing.T) {
	testlog.Start(t)

	log := NewErrorLog(100)
	base := time.Unix(1700000000, 0)
	for i := 0; i < 150; i++ {
		log.Append(base.Add(time.Duration(i)*time.Second), fmt.Errorf("err %d", i))
	}
	entries := log.Entries()
	if len(entries) != 100 || log.Len() != 100 {
		t.Fatalf("expected 100 entries, got %d", len(entries))
	}
	if entries[0].Err.Error() != "err 50" {
		t.Fatalf("oldest kept entry should be err 50, got %v", entries[0].Err)
	}
	if entries[99].Err.Error() != "err 149" {
		t.Fatalf("newest entry should be last, got %v", entries[99].Err)
	}
	if !entries[99].At.Equal(base.Add(149 * time.Second)) {
		t.Fatalf("unexpected timestamp: %v", entries[99].At)
	}
}

func TestErrorLogDefaultCapacity(t *testing.T) {
	testlog.Start(t)

	log := NewErrorLog(0)
	for i := 0; i < 101; i++ {
		log.Append(time.Now(), errors.New("x"))
	}
	if log.Len() != 100 {
		t.Fatalf("expected default capacity 100, got %d", log.Len())
	}
}
