package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/whisper/pairbot/internal/protocol"
	"github.com/whisper/pairbot/internal/transport"
)

type fakeRequester struct {
	subject string
	sent    protocol.Delivery
	reply   []byte
	err     error
}

func (f *fakeRequester) RequestWithContext(_ context.Context, subj string, data []byte) (*nats.Msg, error) {
	f.subject = subj
	if err := json.Unmarshal(data, &f.sent); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &nats.Msg{Subject: subj, Data: f.reply}, nil
}

func ack(t *testing.T, a protocol.DeliveryAck) []byte {
	t.Helper()
	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal ack: %v", err)
	}
	return data
}

func TestTransport_SendText(t *testing.T) {
	req := &fakeRequester{reply: ack(t, protocol.DeliveryAck{OK: true})}
	tr := NewTransport(req, time.Second)

	kb := transport.Buttons([][]string{{"Next"}, {"End"}})
	if err := tr.SendText(context.Background(), 42, "hi", kb); err != nil {
		t.Fatalf("SendText() error: %v", err)
	}
	if req.subject != "deliver.42" {
		t.Errorf("subject = %q, want deliver.42", req.subject)
	}
	if req.sent.Text != "hi" || req.sent.UserID != 42 || len(req.sent.Keyboard) != 2 {
		t.Errorf("unexpected delivery %+v", req.sent)
	}
}

func TestTransport_RemoveKeyboard(t *testing.T) {
	req := &fakeRequester{reply: ack(t, protocol.DeliveryAck{OK: true})}
	tr := NewTransport(req, 0)

	if err := tr.SendText(context.Background(), 1, "bye", transport.RemoveKeyboard()); err != nil {
		t.Fatalf("SendText() error: %v", err)
	}
	if !req.sent.RemoveKeyboard {
		t.Error("expected remove_keyboard in delivery")
	}
}

func TestTransport_Failures(t *testing.T) {
	tests := []struct {
		name  string
		req   *fakeRequester
		cause error
	}{
		{"no responders", &fakeRequester{err: nats.ErrNoResponders}, ErrNotConnected},
		{"timeout", &fakeRequester{err: context.DeadlineExceeded}, context.DeadlineExceeded},
		{"nack", &fakeRequester{reply: ack(t, protocol.DeliveryAck{Error: "socket closed"})}, nil},
		{"garbage ack", &fakeRequester{reply: []byte("not json")}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewTransport(tt.req, time.Second).SendText(context.Background(), 9, "x", nil)

			var de *transport.DeliveryError
			if !errors.As(err, &de) {
				t.Fatalf("expected DeliveryError, got %v", err)
			}
			if de.UserID != 9 {
				t.Errorf("UserID = %d, want 9", de.UserID)
			}
			if tt.cause != nil && !errors.Is(err, tt.cause) {
				t.Errorf("expected cause %v, got %v", tt.cause, err)
			}
		})
	}
}

// connect dials a local NATS server. Tests are skipped if it is unavailable.
func connect(t *testing.T) *NATSClient {
	t.Helper()
	cfg := DefaultNATSConfig()
	cfg.MaxReconnects = 0
	c, err := NewNATSClient(cfg)
	if err != nil {
		t.Skipf("skipping: NATS not available: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestDeliveryRoundTrip(t *testing.T) {
	c := connect(t)

	got := make(chan protocol.Delivery, 1)
	if err := c.SubscribeDelivery(77, func(d protocol.Delivery) error {
		got <- d
		return nil
	}); err != nil {
		t.Fatalf("SubscribeDelivery() error: %v", err)
	}

	tr := NewTransport(c.Conn(), time.Second)
	if err := tr.SendText(context.Background(), 77, "hello", nil); err != nil {
		t.Fatalf("SendText() error: %v", err)
	}
	select {
	case d := <-got:
		if d.Text != "hello" {
			t.Errorf("Text = %q, want hello", d.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("delivery not received")
	}

	if err := c.UnsubscribeDelivery(77); err != nil {
		t.Fatalf("UnsubscribeDelivery() error: %v", err)
	}
	err := tr.SendText(context.Background(), 77, "again", nil)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after unsubscribe, got %v", err)
	}
}

func TestInboundRoundTrip(t *testing.T) {
	c := connect(t)

	got := make(chan protocol.InboundEvent, 1)
	if err := c.SubscribeInbound(func(ev protocol.InboundEvent) { got <- ev }); err != nil {
		t.Fatalf("SubscribeInbound() error: %v", err)
	}

	if err := c.Conn().Publish(SubjectInbound, []byte(`{"user_id":0,"kind":"text"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ev := protocol.NewInboundEvent(5, protocol.KindText, "hey")
	if err := c.PublishInbound(ev); err != nil {
		t.Fatalf("PublishInbound() error: %v", err)
	}

	select {
	case e := <-got:
		if e.ID != ev.ID || e.Text != "hey" {
			t.Errorf("unexpected event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("event not received")
	}
}
