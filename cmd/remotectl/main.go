package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/edgewire/internal/client"
	"github.com/danmuck/edgewire/internal/config"
	"github.com/danmuck/edgewire/internal/observability"
	"github.com/danmuck/edgewire/internal/protocol/session"
)

func main() {
	configPath := flag.String("config", "", "path to remotectl TOML config")
	addr := flag.String("addr", "", "server address (overrides config)")
	payload := flag.String("payload", "ping", "request payload")
	count := flag.Int("count", 1, "number of concurrent requests")
	flag.Parse()

	if err := run(*configPath, *addr, *payload, *count); err != nil {
		fmt.Fprintf(os.Stderr, "remotectl: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addr, payload string, count int) error {
	log := observability.InitLogger("remotectl")

	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Client.Address = addr
	}
	if count <= 0 {
		return fmt.Errorf("count must be positive, got %d", count)
	}

	cs, err := client.New(cfg.Client)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()
	if err := cs.Start(ctx); err != nil {
		return err
	}
	defer cs.Stop()

	exs, err := sendAll(ctx, cs, []byte(payload), count)
	if err != nil {
		return err
	}
	failures := 0
	for _, ex := range exs {
		resp, err := ex.WaitContext(ctx)
		if err != nil {
			failures++
			log.Warn().Err(err).Int64("id", ex.ID()).Msg("remotectl request failed")
			continue
		}
		fmt.Printf("%d\t%s\n", ex.ID(), resp)
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d requests failed", failures, count)
	}
	return nil
}

// sendAll queues count exchanges before waiting on any of them.
func sendAll(ctx context.Context, cs *client.Session, payload []byte, count int) ([]*session.Exchange, error) {
	exs := make([]*session.Exchange, 0, count)
	for i := 0; i < count; i++ {
		ex := session.NewExchange(payload)
		if err := cs.SendContext(ctx, ex); err != nil {
			return nil, fmt.Errorf("send %d: %w", i+1, err)
		}
		exs = append(exs, ex)
	}
	return exs, nil
}
