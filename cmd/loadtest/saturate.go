package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/whisper/pairbot/internal/auth"
	"github.com/whisper/pairbot/internal/loadtest/client"
	"github.com/whisper/pairbot/internal/loadtest/stats"
)

// runSaturate opens connections at a steady rate, holds them and reports how
// many the gateway dropped.
func runSaturate(args []string) error {
	fs := pflag.NewFlagSet("saturate", pflag.ContinueOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "gateway WebSocket URL")
	connections := fs.Int("connections", 1000, "number of connections to open")
	firstID := fs.Int64("first-id", 1_000_000, "user id of the first simulated user")
	rampUp := fs.Duration("ramp", 10*time.Second, "ramp-up duration")
	hold := fs.Duration("hold", 30*time.Second, "hold duration once all connections are open")
	concurrency := fs.Int("concurrency", 50, "maximum simultaneous dial attempts")
	secret := fs.String("secret", os.Getenv("GATEWAY_SECRET"), "gateway token secret")
	if err := fs.Parse(args); err != nil {
		return err
	}
	signer, err := auth.NewSigner(*secret)
	if err != nil {
		return fmt.Errorf("--secret: %w", err)
	}

	fmt.Printf("Saturate: %d connections to %s (ramp=%s, hold=%s)\n", *connections, *url, *rampUp, *hold)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	var mu sync.Mutex
	clients := make([]*client.Client, 0, *connections)

	interval := *rampUp / time.Duration(*connections)
	if interval <= 0 {
		interval = time.Millisecond
	}
	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup

	ticker := time.NewTicker(interval)
ramp:
	for i := 0; i < *connections; i++ {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during ramp-up.")
			break ramp
		case <-ticker.C:
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			defer func() { <-sem }()

			token, err := signer.Issue(uid, *rampUp+*hold+time.Hour)
			if err != nil {
				collector.AddError()
				return
			}
			dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			c, err := client.Dial(dialCtx, *url, token, uid)
			if err != nil {
				collector.AddError()
				return
			}
			if err := c.WaitReady(dialCtx); err != nil {
				collector.AddError()
				c.Close()
				return
			}
			collector.AddConnect(c.Metrics().ConnectLatency)
			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
		}(*firstID + int64(i))
	}
	ticker.Stop()
	wg.Wait()

	fmt.Printf("Ramp-up complete: %d/%d connections (%d errors)\n",
		collector.Connections(), *connections, collector.Errors())

	if ctx.Err() == nil {
		fmt.Printf("Holding for %s...\n", *hold)
		holdTimer := time.NewTimer(*hold)
		status := time.NewTicker(5 * time.Second)
	holdLoop:
		for {
			select {
			case <-ctx.Done():
				break holdLoop
			case <-holdTimer.C:
				break holdLoop
			case <-status.C:
				mu.Lock()
				alive := 0
				for _, c := range clients {
					select {
					case <-c.Closed():
					default:
						alive++
						_ = c.Ping()
					}
				}
				fmt.Printf("  [hold] alive: %d/%d\n", alive, len(clients))
				mu.Unlock()
			}
		}
		holdTimer.Stop()
		status.Stop()
	}

	mu.Lock()
	dropped := 0
	for _, c := range clients {
		select {
		case <-c.Closed():
			dropped++
		default:
		}
		c.Close()
	}
	mu.Unlock()
	if dropped > 0 {
		fmt.Printf("\nConnections dropped during hold: %d\n", dropped)
	}

	collector.Report(os.Stdout)
	return nil
}
