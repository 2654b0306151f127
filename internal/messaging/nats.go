// Package messaging provides a NATS client wrapper for the bus between the
// WebSocket gateway and the bot. It handles connection lifecycle, the inbound
// event subject and per-user delivery subscriptions.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/whisper/pairbot/internal/protocol"
)

// NATS subjects.
const (
	SubjectInbound = "bot.inbound"
	SubjectDeliver = "deliver" // + .<user_id>
)

// InboundQueue is the queue group bot instances consume inbound events in.
const InboundQueue = "bot"

// DeliverSubject returns the delivery subject for userID.
func DeliverSubject(userID int64) string {
	return SubjectDeliver + "." + strconv.FormatInt(userID, 10)
}

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "pairbot",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("messaging: connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Conn exposes the underlying connection.
func (c *NATSClient) Conn() *nats.Conn {
	return c.conn
}

// PublishInbound publishes a user event for the bot.
func (c *NATSClient) PublishInbound(ev protocol.InboundEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("messaging: encode event: %w", err)
	}
	if err := c.conn.Publish(SubjectInbound, data); err != nil {
		return fmt.Errorf("messaging: publish %s: %w", SubjectInbound, err)
	}
	return nil
}

// SubscribeInbound consumes inbound events in the bot queue group.
// Undecodable or invalid events are logged and dropped.
func (c *NATSClient) SubscribeInbound(handler func(protocol.InboundEvent)) error {
	sub, err := c.conn.QueueSubscribe(SubjectInbound, InboundQueue, func(msg *nats.Msg) {
		var ev protocol.InboundEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("[nats] bad inbound event: %v", err)
			return
		}
		if err := ev.Validate(); err != nil {
			log.Printf("[nats] %v", err)
			return
		}
		handler(ev)
	})
	if err != nil {
		return fmt.Errorf("messaging: subscribe %s: %w", SubjectInbound, err)
	}
	c.track(SubjectInbound, sub)
	return nil
}

// SubscribeDelivery serves deliveries addressed to userID. The handler's
// error is returned to the requester in the ack.
func (c *NATSClient) SubscribeDelivery(userID int64, handler func(protocol.Delivery) error) error {
	subject := DeliverSubject(userID)
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		ack := protocol.DeliveryAck{OK: true}

		var d protocol.Delivery
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			ack = protocol.DeliveryAck{Error: "bad delivery: " + err.Error()}
		} else if err := handler(d); err != nil {
			ack = protocol.DeliveryAck{Error: err.Error()}
		}

		data, _ := json.Marshal(ack)
		if err := msg.Respond(data); err != nil {
			log.Printf("[nats] ack %s: %v", subject, err)
		}
	})
	if err != nil {
		return fmt.Errorf("messaging: subscribe %s: %w", subject, err)
	}
	c.track(subject, sub)
	return nil
}

// UnsubscribeDelivery stops serving deliveries for userID.
func (c *NATSClient) UnsubscribeDelivery(userID int64) error {
	return c.unsubscribe(DeliverSubject(userID))
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// track stores a subscription, replacing (and unsubscribing) any previous
// one on the same subject.
func (c *NATSClient) track(subject string, sub *nats.Subscription) {
	c.mu.Lock()
	old := c.subs[subject]
	c.subs[subject] = sub
	c.mu.Unlock()

	if old != nil {
		_ = old.Unsubscribe()
	}
}

func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("messaging: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("messaging: unsubscribe %s: %w", subject, err)
	}
	return nil
}
