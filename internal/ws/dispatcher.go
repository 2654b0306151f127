package ws

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/whisper/pairbot/internal/protocol"
	"github.com/whisper/pairbot/internal/ratelimit"
)

// MessageHandler is the callback signature for handling a parsed client message.
// The msg parameter is the concrete struct returned by protocol.ParseClientMessage.
type MessageHandler func(conn *Connection, msg interface{})

// Publisher publishes inbound events for the bot. *messaging.NATSClient
// implements it.
type Publisher interface {
	PublishInbound(ev protocol.InboundEvent) error
}

// Limiter throttles identifiers. *ratelimit.Limiter implements it.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	RetryAfter(ctx context.Context, identifier string, rule ratelimit.Rule) time.Duration
}

// MessageDispatcher routes incoming WebSocket messages to registered handlers
// based on the message type. It answers pings itself, throttles everything
// else per user and sends structured errors for malformed or unsupported
// messages.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	limiter  Limiter
}

// NewMessageDispatcher creates a MessageDispatcher. A nil limiter disables
// frame throttling.
func NewMessageDispatcher(limiter Limiter) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		limiter:  limiter,
	}
}

// Register associates a MessageHandler with a message type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Forward registers handlers that turn start and message frames into
// inbound events published through pub.
func (d *MessageDispatcher) Forward(pub Publisher) {
	publish := func(conn *Connection, kind, text string) {
		ev := protocol.NewInboundEvent(conn.UserID, kind, text)
		if err := pub.PublishInbound(ev); err != nil {
			log.Printf("[gateway] publish %s for user=%d: %v", kind, conn.UserID, err)
			d.sendError(conn, protocol.CodeUnavailable, "bot unavailable, try again")
		}
	}

	d.Register(protocol.TypeStart, func(conn *Connection, _ interface{}) {
		publish(conn, protocol.KindStart, "")
	})
	d.Register(protocol.TypeMessage, func(conn *Connection, msg interface{}) {
		m, ok := msg.(protocol.ChatMsg)
		if !ok {
			return
		}
		publish(conn, protocol.KindText, m.Text)
	})
}

// Dispatch is the onMessage callback implementation. It parses the raw bytes
// into a typed message, handles ping internally, and routes all other types to
// the registered handler.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("[gateway] parse error user=%d: %v", conn.UserID, err)
		d.sendError(conn, protocol.CodeBadRequest, "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		log.Printf("[gateway] unsupported message type=%q user=%d", msgType, conn.UserID)
		d.sendError(conn, protocol.CodeBadRequest, "unsupported message type")
		return
	}

	if d.limiter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		id := strconv.FormatInt(conn.UserID, 10)
		if allowed, _ := d.limiter.Allow(ctx, id, ratelimit.RuleFrame); !allowed {
			retry := d.limiter.RetryAfter(ctx, id, ratelimit.RuleFrame)
			d.send(conn, protocol.TypeRateLimited, protocol.RateLimitedMsg{
				RetryAfter: int(retry.Round(time.Second) / time.Second),
			})
			return
		}
	}

	handler(conn, msg)
}

func (d *MessageDispatcher) sendError(conn *Connection, code string, message string) {
	d.send(conn, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}

// sendPong answers a client ping and refreshes the connection's liveness.
func (d *MessageDispatcher) sendPong(conn *Connection) {
	conn.LastPing = time.Now()
	d.send(conn, protocol.TypePong, protocol.PongMsg{})
}

func (d *MessageDispatcher) send(conn *Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[gateway] build %s for user=%d: %v", msgType, conn.UserID, err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("[gateway] send %s to user=%d: %v", msgType, conn.UserID, err)
	}
}
