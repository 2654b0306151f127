// Package conversation relays messages between paired users and handles the
// controls that end a conversation.
package conversation

import (
	"context"
	"errors"
	"log"

	"github.com/whisper/pairbot/internal/config"
	"github.com/whisper/pairbot/internal/metrics"
	"github.com/whisper/pairbot/internal/transport"
)

// ErrNotPaired is returned when a conversation command arrives from a user
// without a partner.
var ErrNotPaired = errors.New("conversation: user is not paired")

// Pairs is the part of the matching service the relay drives.
// *matching.Service implements it.
type Pairs interface {
	Partner(userID int64) int64
	Unpair(userID int64) (int64, bool)
	Enqueue(userID int64) bool
	Dequeue(userID int64)
	Match(ctx context.Context) int
	Remove(userID int64) int64
}

// BlockChecker reports whether a user is blocked.
type BlockChecker interface {
	IsBlocked(ctx context.Context, userID int64) bool
}

// Relay forwards messages and ends conversations.
type Relay struct {
	pairs    Pairs
	blocks   BlockChecker
	tr       transport.Transport
	msgs     config.Messages
	controls config.Controls
}

// NewRelay creates a Relay.
func NewRelay(cfg *config.Config, pairs Pairs, blocks BlockChecker, tr transport.Transport) *Relay {
	return &Relay{
		pairs:    pairs,
		blocks:   blocks,
		tr:       tr,
		msgs:     cfg.Messages,
		controls: cfg.Controls,
	}
}

// Forward delivers text from a paired user to their partner. Invalid text and
// delivery failures are reported to the sender and never change pairing.
func (r *Relay) Forward(ctx context.Context, from int64, text string) error {
	partner := r.pairs.Partner(from)
	if partner == 0 {
		metrics.MessagesTotal.WithLabelValues("unpaired").Inc()
		r.send(ctx, from, r.msgs.NotPaired, nil)
		return ErrNotPaired
	}

	if err := ValidateMessage(text); err != nil {
		metrics.MessagesTotal.WithLabelValues("invalid").Inc()
		r.send(ctx, from, config.Render(r.msgs.InvalidMessage, map[string]string{"reason": reason(err)}), nil)
		return err
	}

	if err := r.tr.SendText(ctx, partner, text, nil); err != nil {
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		log.Printf("[relay] %d -> %d: %v", from, partner, err)
		r.send(ctx, from, r.msgs.DeliveryFailed, nil)
		return err
	}

	metrics.MessagesTotal.WithLabelValues("relayed").Inc()
	return nil
}

// End breaks from's conversation. Both users are asked for feedback and go
// back to the waiting pool unless blocked. No match pass is started.
func (r *Relay) End(ctx context.Context, from int64) error {
	partner, ok := r.pairs.Unpair(from)
	if !ok {
		r.send(ctx, from, r.msgs.NotPaired, nil)
		return ErrNotPaired
	}
	log.Printf("[relay] %d ended conversation with %d", from, partner)

	r.promptFeedback(ctx, partner, r.msgs.PartnerEnded)
	r.promptFeedback(ctx, from, r.msgs.ChatEnded)
	r.requeue(ctx, partner)
	r.requeue(ctx, from)
	return nil
}

// Next breaks from's conversation like End, then immediately looks for new
// partners. An unpaired user is simply put back in the pool.
func (r *Relay) Next(ctx context.Context, from int64) error {
	partner, ok := r.pairs.Unpair(from)
	if ok {
		log.Printf("[relay] %d left %d for a new partner", from, partner)
		r.promptFeedback(ctx, partner, r.msgs.PartnerEnded)
		r.promptFeedback(ctx, from, r.msgs.ChatEnded)
		r.requeue(ctx, partner)
	}
	r.requeue(ctx, from)
	r.send(ctx, from, r.msgs.Searching, nil)
	r.pairs.Match(ctx)
	return nil
}

// Leave ends userID's conversation on their behalf and takes them out of the
// pool, as on disconnect or re-registration. The partner is told, asked for
// feedback and re-queued. userID's profile stays.
func (r *Relay) Leave(ctx context.Context, userID int64) {
	if partner, ok := r.pairs.Unpair(userID); ok {
		log.Printf("[relay] %d left conversation with %d", userID, partner)
		r.promptFeedback(ctx, partner, r.msgs.PartnerEnded)
		r.requeue(ctx, partner)
	}
	r.pairs.Dequeue(userID)
}

// Evict removes a blocked user from the registry. A partner is released as if
// the blocked user had ended the conversation.
func (r *Relay) Evict(ctx context.Context, userID int64) {
	partner := r.pairs.Remove(userID)
	if partner == 0 {
		return
	}
	log.Printf("[relay] evicted %d, releasing %d", userID, partner)
	r.promptFeedback(ctx, partner, r.msgs.PartnerEnded)
	r.requeue(ctx, partner)
}

func (r *Relay) promptFeedback(ctx context.Context, userID int64, text string) {
	r.send(ctx, userID, text, transport.Buttons(r.controls.FeedbackRows()))
}

func (r *Relay) requeue(ctx context.Context, userID int64) {
	if r.blocks.IsBlocked(ctx, userID) {
		return
	}
	r.pairs.Enqueue(userID)
}

func (r *Relay) send(ctx context.Context, userID int64, text string, kb *transport.Keyboard) {
	if err := r.tr.SendText(ctx, userID, text, kb); err != nil {
		log.Printf("[relay] send to %d: %v", userID, err)
	}
}
