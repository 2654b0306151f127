// Package bot routes inbound user events to registration, the conversation
// relay and moderation.
package bot

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/whisper/pairbot/internal/config"
	"github.com/whisper/pairbot/internal/conversation"
	"github.com/whisper/pairbot/internal/matching"
	"github.com/whisper/pairbot/internal/metrics"
	"github.com/whisper/pairbot/internal/moderation"
	"github.com/whisper/pairbot/internal/protocol"
	"github.com/whisper/pairbot/internal/ratelimit"
	"github.com/whisper/pairbot/internal/registration"
	"github.com/whisper/pairbot/internal/transport"
)

// CommandStart restarts registration when sent as text.
const CommandStart = "/start"

// Limiter throttles users. *ratelimit.Limiter implements it.
type Limiter interface {
	AllowUser(ctx context.Context, userID int64, rule ratelimit.Rule) (bool, error)
}

// OnlineCounter reports how many users hold a gateway connection.
// *session.Store implements it.
type OnlineCounter interface {
	OnlineCount(ctx context.Context) (int64, error)
}

// Deps are the bot's collaborators. Limiter and Online may be nil.
type Deps struct {
	Matching     *matching.Service
	Registration *registration.Machine
	Relay        *conversation.Relay
	Moderation   *moderation.Pipeline
	Transport    transport.Transport
	Limiter      Limiter
	Online       OnlineCounter
}

// Bot handles one inbound event at a time per user.
type Bot struct {
	Deps
	adminID  int64
	msgs     config.Messages
	controls config.Controls
	feedback map[string]moderation.Kind
}

// New creates a Bot.
func New(cfg *config.Config, deps Deps) *Bot {
	return &Bot{
		Deps:     deps,
		adminID:  cfg.AdminID,
		msgs:     cfg.Messages,
		controls: cfg.Controls,
		feedback: map[string]moderation.Kind{
			cfg.Controls.Positive:  moderation.KindPositive,
			cfg.Controls.Negative:  moderation.KindNegative,
			cfg.Controls.Complaint: moderation.KindComplaint,
		},
	}
}

// Handle routes one event. Errors the user was already told about are not
// returned.
func (b *Bot) Handle(ctx context.Context, ev protocol.InboundEvent) error {
	uid := ev.UserID

	switch ev.Kind {
	case protocol.KindDisconnect:
		b.Relay.Leave(ctx, uid)
		return nil
	case protocol.KindStart:
		return b.start(ctx, uid)
	case protocol.KindEvict:
		if b.Moderation.IsBlocked(ctx, uid) {
			b.Evict(ctx, uid)
		}
		return nil
	}

	text := ev.Text
	if strings.TrimSpace(text) == CommandStart {
		return b.start(ctx, uid)
	}

	active, err := b.Registration.Active(ctx, uid)
	if err != nil {
		log.Printf("[bot] registration state for %d: %v", uid, err)
	}
	if active {
		return b.quiet(b.Registration.Answer(ctx, uid, text))
	}

	if uid == b.adminID && strings.HasPrefix(text, "/") {
		if b.admin(ctx, text) {
			return nil
		}
	}

	if _, ok := b.Matching.Profile(uid); !ok {
		b.send(ctx, uid, b.msgs.NotRegistered, transport.RemoveKeyboard())
		return nil
	}

	switch text {
	case b.controls.End:
		return b.quiet(b.Relay.End(ctx, uid))
	case b.controls.Next:
		return b.Relay.Next(ctx, uid)
	}
	if kind, ok := b.feedback[text]; ok {
		b.Moderation.Submit(ctx, uid, kind)
		return nil
	}

	if !b.allow(ctx, uid, ratelimit.RuleRelay) {
		metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
		b.send(ctx, uid, b.msgs.RateLimited, nil)
		return nil
	}
	return b.quiet(b.Relay.Forward(ctx, uid, text))
}

// start ends any conversation on the user's behalf and restarts registration.
func (b *Bot) start(ctx context.Context, uid int64) error {
	if !b.allow(ctx, uid, ratelimit.RuleStart) {
		b.send(ctx, uid, b.msgs.RateLimited, nil)
		return nil
	}
	b.Relay.Leave(ctx, uid)
	return b.quiet(b.Registration.Start(ctx, uid))
}

// Evict takes a blocked user out of the pool, any conversation and any
// registration in progress. It implements moderation.Evictor.
func (b *Bot) Evict(ctx context.Context, uid int64) {
	b.Relay.Evict(ctx, uid)
	if err := b.Registration.Cancel(ctx, uid); err != nil {
		log.Printf("[bot] cancel registration for %d: %v", uid, err)
	}
}

func (b *Bot) allow(ctx context.Context, uid int64, rule ratelimit.Rule) bool {
	if b.Limiter == nil {
		return true
	}
	ok, _ := b.Limiter.AllowUser(ctx, uid, rule)
	return ok
}

// quiet drops errors the user has already been notified about.
func (b *Bot) quiet(err error) error {
	if err == nil || registration.Handled(err) ||
		errors.Is(err, conversation.ErrNotPaired) ||
		errors.Is(err, conversation.ErrInvalidMessage) ||
		transport.IsDeliveryError(err) {
		return nil
	}
	return err
}

func (b *Bot) send(ctx context.Context, uid int64, text string, kb *transport.Keyboard) {
	if err := b.Transport.SendText(ctx, uid, text, kb); err != nil {
		log.Printf("[bot] send to %d: %v", uid, err)
	}
}
