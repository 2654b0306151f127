package matching

import (
	"context"
	"log"

	"github.com/whisper/pairbot/internal/config"
	"github.com/whisper/pairbot/internal/transport"
)

// Announcer sends pairing notices through a Transport. It implements Notifier.
type Announcer struct {
	tr       transport.Transport
	msgs     config.Messages
	controls config.Controls
}

// NewAnnouncer creates an Announcer.
func NewAnnouncer(tr transport.Transport, msgs config.Messages, controls config.Controls) *Announcer {
	return &Announcer{tr: tr, msgs: msgs, controls: controls}
}

// Matched sends the partner-found notice, rendered with the partner's
// attributes, together with the in-chat keyboard.
func (a *Announcer) Matched(ctx context.Context, user, partner Profile) error {
	text := config.Render(a.msgs.PartnerFound, partner.Attributes)
	return a.tr.SendText(ctx, user.ID, text, transport.Buttons(a.controls.ChatRows()))
}

// Cancelled tells user the pairing fell through and they are still waiting.
func (a *Announcer) Cancelled(ctx context.Context, user, partner Profile) {
	if err := a.tr.SendText(ctx, user.ID, a.msgs.PartnerLost, transport.RemoveKeyboard()); err != nil {
		log.Printf("[matcher] cancel notice to %d (partner %d): %v", user.ID, partner.ID, err)
	}
}
