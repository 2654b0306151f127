package bot

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
)

// admin runs an administrator command and reports whether text was one.
// Replies go to the administrator only.
func (b *Bot) admin(ctx context.Context, text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "/block":
		id, ok := b.targetArg(ctx, fields, "/block <user_id> [reason]")
		if !ok {
			return true
		}
		reason := strings.Join(fields[2:], " ")
		created, err := b.Moderation.Block(ctx, id, reason)
		switch {
		case err != nil:
			log.Printf("[bot] admin block %d: %v", id, err)
			b.reply(ctx, fmt.Sprintf("Could not block %d: %v", id, err))
		case created:
			b.reply(ctx, fmt.Sprintf("User %d blocked.", id))
		default:
			b.reply(ctx, fmt.Sprintf("User %d was already blocked.", id))
		}
		return true

	case "/unblock":
		id, ok := b.targetArg(ctx, fields, "/unblock <user_id>")
		if !ok {
			return true
		}
		existed, err := b.Moderation.Unblock(ctx, id)
		switch {
		case err != nil:
			log.Printf("[bot] admin unblock %d: %v", id, err)
			b.reply(ctx, fmt.Sprintf("Could not unblock %d: %v", id, err))
		case existed:
			b.reply(ctx, fmt.Sprintf("User %d unblocked.", id))
		default:
			b.reply(ctx, fmt.Sprintf("User %d was not blocked.", id))
		}
		return true

	case "/stats":
		st := b.Matching.Stats()
		msg := fmt.Sprintf("Registered: %d\nWaiting: %d\nPairs: %d", st.Registered, st.Waiting, st.Pairs)
		if b.Online != nil {
			if n, err := b.Online.OnlineCount(ctx); err == nil {
				msg += fmt.Sprintf("\nOnline: %d", n)
			}
		}
		b.reply(ctx, msg)
		return true
	}
	return false
}

func (b *Bot) targetArg(ctx context.Context, fields []string, usage string) (int64, bool) {
	if len(fields) < 2 {
		b.reply(ctx, "Usage: "+usage)
		return 0, false
	}
	id, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || id <= 0 {
		b.reply(ctx, "Invalid user id: "+fields[1])
		return 0, false
	}
	return id, true
}

func (b *Bot) reply(ctx context.Context, text string) {
	b.send(ctx, b.adminID, text, nil)
}
