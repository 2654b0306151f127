package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/whisper/pairbot/internal/auth"
	"github.com/whisper/pairbot/internal/config"
	"github.com/whisper/pairbot/internal/loadtest/client"
	"github.com/whisper/pairbot/internal/loadtest/stats"
)

const stampPrefix = "lt:"

type chatOptions struct {
	url       string
	signer    *auth.Signer
	answers   []string
	found     string
	end       string
	messages  int
	pairDelay time.Duration
	timeout   time.Duration
}

// runChat registers pairs of users with the same answers so they match each
// other, then has each pair exchange timestamped messages and end the chat.
func runChat(args []string) error {
	controls := config.DefaultControls()

	fs := pflag.NewFlagSet("chat", pflag.ContinueOnError)
	var o chatOptions
	fs.StringVar(&o.url, "url", "ws://localhost:8080/ws", "gateway WebSocket URL")
	secret := fs.String("secret", os.Getenv("GATEWAY_SECRET"), "gateway token secret")
	pairs := fs.Int("pairs", 50, "number of concurrent pairs")
	firstID := fs.Int64("first-id", 2_000_000, "user id of the first simulated user")
	fs.StringSliceVar(&o.answers, "answers", []string{"Male", "18+", "Chatting"}, "registration answers, in order")
	fs.StringVar(&o.found, "found-prefix", "Partner found", "prefix of the partner-found notice")
	fs.StringVar(&o.end, "end", controls.End, "label of the end control")
	fs.IntVar(&o.messages, "messages", 10, "messages each user sends per chat")
	fs.DurationVar(&o.pairDelay, "interval", 200*time.Millisecond, "delay between messages")
	fs.DurationVar(&o.timeout, "timeout", 30*time.Second, "timeout for each pairing step")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(o.answers) == 0 {
		return errors.New("--answers must not be empty")
	}
	signer, err := auth.NewSigner(*secret)
	if err != nil {
		return fmt.Errorf("--secret: %w", err)
	}
	o.signer = signer

	fmt.Printf("Chat: %d pairs against %s, %d messages per user\n", *pairs, o.url, o.messages)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		a := *firstID + int64(2*i)
		go func() {
			defer wg.Done()
			if err := runPair(ctx, o, collector, a, a+1); err != nil {
				fmt.Printf("  pair %d/%d: %v\n", a, a+1, err)
				collector.AddError()
			}
		}()
	}
	wg.Wait()

	collector.Report(os.Stdout)
	return nil
}

// runPair drives two users through one conversation. Concurrent pairs may
// cross, so each user only waits for some partner and for stamps from it.
func runPair(ctx context.Context, o chatOptions, collector *stats.Collector, a, b int64) error {
	ua, err := connect(ctx, o, a, collector)
	if err != nil {
		return err
	}
	defer ua.Close()
	ub, err := connect(ctx, o, b, collector)
	if err != nil {
		return err
	}
	defer ub.Close()

	registered := time.Now()
	for _, u := range []*client.Client{ua, ub} {
		if err := register(u, o.answers); err != nil {
			return err
		}
	}

	isFound := func(s string) bool { return strings.HasPrefix(s, o.found) }
	for _, u := range []*client.Client{ua, ub} {
		stepCtx, cancel := context.WithTimeout(ctx, o.timeout)
		_, err := u.WaitFor(stepCtx, isFound)
		cancel()
		if err != nil {
			return fmt.Errorf("user %d waiting for partner: %w", u.UserID(), err)
		}
	}
	collector.AddPair(time.Since(registered))

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, pair := range [][2]*client.Client{{ua, ub}, {ub, ua}} {
		wg.Add(1)
		go func(from, to *client.Client) {
			defer wg.Done()
			errs <- exchange(ctx, o, collector, from, to)
		}(pair[0], pair[1])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}

	return ua.SendText(o.end)
}

func connect(ctx context.Context, o chatOptions, uid int64, collector *stats.Collector) (*client.Client, error) {
	token, err := o.signer.Issue(uid, time.Hour)
	if err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	c, err := client.Dial(dialCtx, o.url, token, uid)
	if err != nil {
		return nil, err
	}
	if err := c.WaitReady(dialCtx); err != nil {
		c.Close()
		return nil, err
	}
	collector.AddConnect(c.Metrics().ConnectLatency)
	return c, nil
}

func register(u *client.Client, answers []string) error {
	if err := u.Start(); err != nil {
		return err
	}
	for _, a := range answers {
		if err := u.SendText(a); err != nil {
			return err
		}
	}
	return nil
}

// exchange sends stamps from one user and times their arrival at the other.
func exchange(ctx context.Context, o chatOptions, collector *stats.Collector, from, to *client.Client) error {
	for i := 0; i < o.messages; i++ {
		if err := from.SendText(stamp(time.Now())); err != nil {
			return err
		}
		stepCtx, cancel := context.WithTimeout(ctx, o.timeout)
		text, err := to.WaitFor(stepCtx, func(s string) bool { return strings.HasPrefix(s, stampPrefix) })
		cancel()
		if err != nil {
			return fmt.Errorf("user %d waiting for relay: %w", to.UserID(), err)
		}
		if sent, ok := parseStamp(text); ok {
			collector.AddRelay(time.Since(sent))
		}
		time.Sleep(o.pairDelay)
	}
	return nil
}

func stamp(t time.Time) string {
	return stampPrefix + strconv.FormatInt(t.UnixNano(), 10)
}

func parseStamp(s string) (time.Time, bool) {
	n, err := strconv.ParseInt(strings.TrimPrefix(s, stampPrefix), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, n), true
}
