package handler

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/edgewire/internal/client"
	"github.com/danmuck/edgewire/internal/server"
	"github.com/danmuck/edgewire/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func startPair(t *testing.T) (*server.Server, *client.Session) {
	t.Helper()
	srv := server.New(server.Config{ListenAddr: "127.0.0.1:0"})
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	cs, err := client.New(client.Config{Address: srv.Addr().String()})
	require.NoError(t, err)
	require.NoError(t, cs.Start(context.Background()))
	t.Cleanup(cs.Stop)
	return srv, cs
}

func TestEchoAnswersConcurrentRequests(t *testing.T) {
	testlog.Start(t)

	srv, cs := startPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Echo(ctx, srv, 4) }()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer reqCancel()
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		payload := []byte{byte(i), byte(i + 1)}
		go func() {
			resp, err := cs.Request(reqCtx, payload)
			if err == nil && !bytes.Equal(resp, payload) {
				err = errors.New("echo mismatch")
			}
			errs <- err
		}()
	}
	for i := 0; i < 32; i++ {
		require.NoError(t, <-errs)
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatalf("Echo did not return after cancel")
	}
}

func TestServeLogsFuncErrors(t *testing.T) {
	testlog.Start(t)

	srv, cs := startPair(t)
	boom := errors.New("boom")
	go func() {
		_ = Serve(context.Background(), srv, 1, func(context.Context, []byte) ([]byte, error) {
			return nil, boom
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	resp, err := cs.Request(ctx, []byte("q"))
	require.NoError(t, err)
	require.Empty(t, resp)

	entries := srv.Errors()
	require.Len(t, entries, 1)
	require.ErrorIs(t, entries[0].Err, boom)
}

func TestServeReturnsWhenServerStops(t *testing.T) {
	testlog.Start(t)

	srv, _ := startPair(t)
	done := make(chan error, 1)
	go func() { done <- Echo(context.Background(), srv, 2) }()

	time.Sleep(20 * time.Millisecond)
	srv.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatalf("Serve did not return after server stop")
	}
}
