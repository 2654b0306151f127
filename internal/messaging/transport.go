package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/whisper/pairbot/internal/protocol"
	"github.com/whisper/pairbot/internal/transport"
)

// DefaultDeliveryTimeout bounds one delivery round trip.
const DefaultDeliveryTimeout = 3 * time.Second

// ErrNotConnected is the cause when no gateway serves the user.
var ErrNotConnected = errors.New("user not connected")

// Requester is the request/reply half of *nats.Conn.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// Transport delivers messages to users through whichever gateway holds
// their connection. It implements transport.Transport.
type Transport struct {
	req     Requester
	timeout time.Duration
}

// NewTransport creates a Transport. A non-positive timeout uses
// DefaultDeliveryTimeout.
func NewTransport(req Requester, timeout time.Duration) *Transport {
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}
	return &Transport{req: req, timeout: timeout}
}

// SendText sends text and an optional keyboard hint to userID and waits for
// the gateway's ack. Every failure is a *transport.DeliveryError.
func (t *Transport) SendText(ctx context.Context, userID int64, text string, kb *transport.Keyboard) error {
	d := protocol.Delivery{UserID: userID, Text: text}
	if kb != nil {
		d.Keyboard = kb.Rows
		d.RemoveKeyboard = kb.Remove
	}

	data, err := json.Marshal(d)
	if err != nil {
		return &transport.DeliveryError{UserID: userID, Err: fmt.Errorf("encode: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	msg, err := t.req.RequestWithContext(ctx, DeliverSubject(userID), data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			err = ErrNotConnected
		}
		return &transport.DeliveryError{UserID: userID, Err: err}
	}

	var ack protocol.DeliveryAck
	if err := json.Unmarshal(msg.Data, &ack); err != nil {
		return &transport.DeliveryError{UserID: userID, Err: fmt.Errorf("decode ack: %w", err)}
	}
	if !ack.OK {
		return &transport.DeliveryError{UserID: userID, Err: errors.New(ack.Error)}
	}
	return nil
}
