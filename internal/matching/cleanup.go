package matching

import (
	"context"
	"log"
	"time"
)

// DefaultJanitorInterval is how often the janitor sweeps the pool.
const DefaultJanitorInterval = 5 * time.Second

// StartJanitor periodically removes stale pool entries and refreshes the
// pool gauges. It never starts a match pass. It blocks until ctx is
// cancelled.
func StartJanitor(ctx context.Context, svc *Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[matcher] janitor stopped")
			return
		case <-ticker.C:
			sweep(svc)
		}
	}
}

func sweep(svc *Service) {
	if removed := svc.Purge(); removed > 0 {
		log.Printf("[matcher] janitor: removed %d stale entries", removed)
	}
}
