// Command moderator is the operator CLI for blocks, complaints and the
// membership gate. It talks to the same Postgres and Redis as the bot.
//
//	moderator block <user_id> [--reason text]
//	moderator unblock <user_id>
//	moderator blocks
//	moderator complaints <user_id>
//	moderator member <user_id> [status] [--channel name]
//	moderator token <user_id> [--ttl 24h]
//	moderator migrate
//
// block also asks the running bot, over NATS, to evict the user from the
// pool and any conversation.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/whisper/pairbot/internal/auth"
	"github.com/whisper/pairbot/internal/membership"
	"github.com/whisper/pairbot/internal/messaging"
	"github.com/whisper/pairbot/internal/moderation"
	"github.com/whisper/pairbot/internal/protocol"
	"github.com/whisper/pairbot/internal/session"
	"github.com/whisper/pairbot/internal/store"
)

var errUsage = errors.New("usage: moderator <block|unblock|blocks|complaints|member|token|migrate> [args]")

// blockStore is the part of *store.Store the CLI needs.
type blockStore interface {
	InsertBlock(ctx context.Context, userID int64, reason string) (bool, error)
	DeleteBlock(ctx context.Context, userID int64) (bool, error)
	CountComplaints(ctx context.Context, targetID int64) (int, error)
	Blocks(ctx context.Context) ([]moderation.BlockRecord, error)
}

type memberStore interface {
	Status(ctx context.Context, userID int64) (string, error)
	SetStatus(ctx context.Context, userID int64, status string) error
}

// tokenIssuer mints gateway connection tokens. *auth.Signer implements it.
type tokenIssuer interface {
	Issue(userID int64, ttl time.Duration) (string, error)
}

type cli struct {
	out     io.Writer
	blocks  func() (blockStore, error)
	members func(channel string) (memberStore, error)
	tokens  func() (tokenIssuer, error)
	evict   func(userID int64) error
	migrate func() error
}

func main() {
	databaseURL := os.Getenv("DATABASE_URL")
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}

	c := &cli{
		out: os.Stdout,
		blocks: func() (blockStore, error) {
			if databaseURL == "" {
				return nil, errors.New("DATABASE_URL is not set")
			}
			return store.Open(context.Background(), databaseURL)
		},
		members: func(channel string) (memberStore, error) {
			sessions, err := session.NewStore(redisAddr, "moderator")
			if err != nil {
				return nil, err
			}
			return membership.NewChecker(sessions.Client(), channel), nil
		},
		tokens: func() (tokenIssuer, error) {
			return auth.NewSigner(os.Getenv("GATEWAY_SECRET"))
		},
		evict: func(userID int64) error {
			natsConfig := messaging.DefaultNATSConfig()
			if v := os.Getenv("NATS_URL"); v != "" {
				natsConfig.URL = v
			}
			natsConfig.Name = "pairbot-moderator"
			natsConfig.MaxReconnects = 0
			client, err := messaging.NewNATSClient(natsConfig)
			if err != nil {
				return err
			}
			defer client.Close()
			return client.PublishInbound(protocol.NewInboundEvent(userID, protocol.KindEvict, ""))
		},
		migrate: func() error {
			if databaseURL == "" {
				return errors.New("DATABASE_URL is not set")
			}
			return store.Migrate(databaseURL)
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := c.run(ctx, os.Args[1:])
	cancel()
	if err != nil {
		log.Fatalf("[moderator] %v", err)
	}
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, args := args[0], args[1:]

	fs := pflag.NewFlagSet(cmd, pflag.ContinueOnError)
	fs.SetOutput(c.out)
	reason := fs.String("reason", "", "reason recorded with the block")
	channel := fs.String("channel", os.Getenv("CHANNEL_NAME"), "channel whose membership to read or set")
	ttl := fs.Duration("ttl", auth.DefaultTTL, "how long an issued token stays valid")
	if err := fs.Parse(args); err != nil {
		return err
	}
	args = fs.Args()

	switch cmd {
	case "migrate":
		if err := c.migrate(); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "schema up to date")
		return nil

	case "block", "unblock", "complaints":
		id, err := userArg(args)
		if err != nil {
			return err
		}
		st, err := c.blocks()
		if err != nil {
			return err
		}
		return c.runBlock(ctx, st, cmd, id, *reason)

	case "blocks":
		st, err := c.blocks()
		if err != nil {
			return err
		}
		recs, err := st.Blocks(ctx)
		if err != nil {
			return err
		}
		for _, r := range recs {
			fmt.Fprintf(c.out, "%d\t%s\t%s\n", r.UserID, r.At.Format(time.RFC3339), r.Reason)
		}
		return nil

	case "token":
		id, err := userArg(args)
		if err != nil {
			return err
		}
		signer, err := c.tokens()
		if err != nil {
			return err
		}
		tok, err := signer.Issue(id, *ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, tok)
		return nil

	case "member":
		id, err := userArg(args)
		if err != nil {
			return err
		}
		if *channel == "" {
			return errors.New("member: --channel or CHANNEL_NAME is required")
		}
		ms, err := c.members(*channel)
		if err != nil {
			return err
		}
		if len(args) > 1 {
			if err := ms.SetStatus(ctx, id, args[1]); err != nil {
				return err
			}
		}
		status, err := ms.Status(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%d in %s: %q (subscribed=%v)\n", id, *channel, status, membership.Subscribed(status))
		return nil
	}
	return errUsage
}

func (c *cli) runBlock(ctx context.Context, st blockStore, cmd string, id int64, reason string) error {
	switch cmd {
	case "block":
		created, err := st.InsertBlock(ctx, id, reason)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(c.out, "User %d blocked.\n", id)
		} else {
			fmt.Fprintf(c.out, "User %d was already blocked.\n", id)
		}
		if err := c.evict(id); err != nil {
			fmt.Fprintf(c.out, "warning: bot not notified (%v); user %d stays in the pool until their next /start\n", err, id)
		}
	case "unblock":
		existed, err := st.DeleteBlock(ctx, id)
		if err != nil {
			return err
		}
		if existed {
			fmt.Fprintf(c.out, "User %d unblocked.\n", id)
		} else {
			fmt.Fprintf(c.out, "User %d was not blocked.\n", id)
		}
	case "complaints":
		n, err := st.CountComplaints(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "User %d: %d complaints\n", id, n)
	}
	return nil
}

func userArg(args []string) (int64, error) {
	if len(args) == 0 {
		return 0, errors.New("missing user id")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id: %s", args[0])
	}
	return id, nil
}
