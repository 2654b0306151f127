package bot

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/whisper/pairbot/internal/metrics"
	"github.com/whisper/pairbot/internal/protocol"
)

// HandlerFunc processes one inbound event.
type HandlerFunc func(ctx context.Context, ev protocol.InboundEvent) error

// Workers runs a fixed set of goroutines, each owning a shard of users.
// Events for one user are always handled by the same goroutine in arrival
// order; different users proceed concurrently.
type Workers struct {
	handle HandlerFunc
	queues []chan protocol.InboundEvent
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewWorkers creates n workers with per-worker queues of the given depth.
func NewWorkers(n, depth int, handle HandlerFunc) *Workers {
	if n < 1 {
		n = 1
	}
	w := &Workers{handle: handle, queues: make([]chan protocol.InboundEvent, n)}
	for i := range w.queues {
		w.queues[i] = make(chan protocol.InboundEvent, depth)
	}
	return w
}

// Start launches the workers. They stop after Stop drains their queues.
func (w *Workers) Start(ctx context.Context) {
	for i, q := range w.queues {
		w.wg.Add(1)
		go w.run(ctx, i, q)
	}
}

func (w *Workers) run(ctx context.Context, id int, q <-chan protocol.InboundEvent) {
	defer w.wg.Done()
	for ev := range q {
		start := time.Now()
		if err := w.handle(ctx, ev); err != nil {
			log.Printf("[bot] worker %d: event %s (%s from %d): %v", id, ev.ID, ev.Kind, ev.UserID, err)
		}
		metrics.EventLatency.Observe(time.Since(start).Seconds())
	}
}

// Submit queues ev on its user's shard, blocking while that shard is full.
// Events submitted after Stop are dropped.
func (w *Workers) Submit(ev protocol.InboundEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		log.Printf("[bot] dropping event %s from %d: workers stopped", ev.ID, ev.UserID)
		return
	}
	w.queues[w.shard(ev.UserID)] <- ev
}

func (w *Workers) shard(userID int64) int {
	return int(uint64(userID) % uint64(len(w.queues)))
}

// Stop closes the queues and waits for queued events to be handled.
func (w *Workers) Stop() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		for _, q := range w.queues {
			close(q)
		}
	}
	w.mu.Unlock()
	w.wg.Wait()
}
