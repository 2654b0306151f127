// Package moderation records feedback after conversations and blocks users
// who collect too many complaints.
//
// Moderation is best-effort: persistence failures are logged and the
// user-facing flow continues as if the write were a no-op.
package moderation

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/whisper/pairbot/internal/config"
	"github.com/whisper/pairbot/internal/metrics"
	"github.com/whisper/pairbot/internal/transport"
)

// Outcome describes what a feedback submission did.
type Outcome struct {
	Target      int64
	Complaints  int
	AutoBlocked bool
}

// Pipeline processes feedback and administrative blocks.
type Pipeline struct {
	store     Persistence
	targets   Targets
	tr        transport.Transport
	evict     Evictor
	adminID   int64
	threshold int
	reason    string
	msgs      config.Messages
	now       func() time.Time
}

// NewPipeline creates a moderation pipeline. evict may be nil.
func NewPipeline(cfg *config.Config, store Persistence, targets Targets, tr transport.Transport, evict Evictor) *Pipeline {
	return &Pipeline{
		store:     store,
		targets:   targets,
		tr:        tr,
		evict:     evict,
		adminID:   cfg.AdminID,
		threshold: cfg.Moderation.ComplaintThreshold,
		reason:    cfg.Moderation.BlockReason,
		msgs:      cfg.Messages,
		now:       time.Now,
	}
}

// SetEvictor sets the evictor after construction, for wiring cycles.
func (p *Pipeline) SetEvictor(e Evictor) {
	p.evict = e
}

// Submit records feedback of kind from author about their current or
// just-ended partner. The author is always thanked. A complaint that brings
// the target to the threshold blocks the target.
func (p *Pipeline) Submit(ctx context.Context, author int64, kind Kind) Outcome {
	out := Outcome{Target: p.targets.TakeFeedbackTarget(author)}

	rec := FeedbackRecord{Author: author, Target: out.Target, Kind: kind, At: p.now().UTC()}
	stored := true
	if err := p.store.InsertFeedback(ctx, rec); err != nil {
		log.Printf("[moderation] store feedback from %d: %v", author, err)
		stored = false
	}
	metrics.FeedbackTotal.WithLabelValues(string(kind)).Inc()

	p.send(ctx, author, p.msgs.FeedbackThanks, transport.RemoveKeyboard())

	if kind == KindComplaint && out.Target != 0 && stored {
		out.Complaints, out.AutoBlocked = p.checkThreshold(ctx, out.Target)
	}
	return out
}

// checkThreshold counts complaints against target and blocks on reaching the
// threshold. Notices go out only when the block record is new.
func (p *Pipeline) checkThreshold(ctx context.Context, target int64) (int, bool) {
	count, err := p.store.CountComplaints(ctx, target)
	if err != nil {
		log.Printf("[moderation] count complaints for %d: %v", target, err)
		return 0, false
	}
	if count < p.threshold {
		return count, false
	}

	created, err := p.store.InsertBlock(ctx, target, p.reason)
	if err != nil {
		log.Printf("[moderation] auto-block %d: %v", target, err)
		return count, false
	}
	if !created {
		return count, false
	}

	metrics.AutoBlocks.Inc()
	log.Printf("[moderation] auto-blocked %d after %d complaints", target, count)

	p.send(ctx, target, p.msgs.AutoBlocked, transport.RemoveKeyboard())
	p.send(ctx, p.adminID, config.Render(p.msgs.AdminAutoBlock, map[string]string{
		"user":  strconv.FormatInt(target, 10),
		"count": strconv.Itoa(count),
	}), nil)

	if p.evict != nil {
		p.evict.Evict(ctx, target)
	}
	return count, true
}

// Block blocks userID on an administrator's behalf and reports whether a new
// record was created.
func (p *Pipeline) Block(ctx context.Context, userID int64, reason string) (bool, error) {
	if reason == "" {
		reason = "blocked by administrator"
	}
	created, err := p.store.InsertBlock(ctx, userID, reason)
	if err != nil {
		return false, err
	}
	if created {
		log.Printf("[moderation] %d blocked by admin: %s", userID, reason)
		p.send(ctx, userID, p.msgs.Blocked, transport.RemoveKeyboard())
		if p.evict != nil {
			p.evict.Evict(ctx, userID)
		}
	}
	return created, nil
}

// Unblock lifts userID's block and reports whether one existed.
func (p *Pipeline) Unblock(ctx context.Context, userID int64) (bool, error) {
	existed, err := p.store.DeleteBlock(ctx, userID)
	if err != nil {
		return false, err
	}
	if existed {
		log.Printf("[moderation] %d unblocked", userID)
	}
	return existed, nil
}

// IsBlocked reports whether userID is blocked. Lookup failures count as not
// blocked.
func (p *Pipeline) IsBlocked(ctx context.Context, userID int64) bool {
	blocked, err := p.store.IsBlocked(ctx, userID)
	if err != nil {
		log.Printf("[moderation] block lookup for %d: %v", userID, err)
		return false
	}
	return blocked
}

func (p *Pipeline) send(ctx context.Context, userID int64, text string, kb *transport.Keyboard) {
	if err := p.tr.SendText(ctx, userID, text, kb); err != nil {
		log.Printf("[moderation] send to %d: %v", userID, err)
	}
}
