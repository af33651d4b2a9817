// Package handler drains a server's inbound queue with a pool of workers and
// answers each request on the connection it arrived on.
package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/edgewire/internal/logging"
	"github.com/danmuck/edgewire/internal/server"
	"golang.org/x/sync/errgroup"
)

// Source is the part of server.Server a handler consumes.
type Source interface {
	TakeReceived(ctx context.Context) (server.Received, error)
	LogError(err error)
}

// Func computes the response payload for one request payload.
type Func func(ctx context.Context, request []byte) ([]byte, error)

// EchoFunc answers with the request payload.
func EchoFunc(_ context.Context, request []byte) ([]byte, error) {
	return request, nil
}

// Serve runs workers goroutines until ctx is done or src stops. A Func error is
// logged to src and answered with an empty payload.
func Serve(ctx context.Context, src Source, workers int, fn Func) error {
	if workers <= 0 {
		workers = 1
	}
	log := logging.Component("handler")
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		worker := i
		g.Go(func() error {
			for {
				r, err := src.TakeReceived(gctx)
				if err != nil {
					if errors.Is(err, server.ErrServerStopped) || gctx.Err() != nil {
						return nil
					}
					return err
				}
				resp, err := fn(gctx, r.Exchange.Request())
				if err != nil {
					src.LogError(fmt.Errorf("handler: request %d: %w", r.Exchange.ID(), err))
					resp = []byte{}
				}
				if err := r.Conn.Respond(r.Exchange, resp); err != nil {
					log.Debug().Err(err).Int("worker", worker).Int64("id", r.Exchange.ID()).Msg("handler response dropped")
				}
			}
		})
	}
	log.Info().Int("workers", workers).Msg("handler serving")
	return g.Wait()
}

// Echo serves EchoFunc.
func Echo(ctx context.Context, src Source, workers int) error {
	return Serve(ctx, src, workers, EchoFunc)
}
