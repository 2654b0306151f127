package matching

import (
	"context"
	"errors"
	"testing"

	"github.com/whisper/pairbot/internal/config"
	"github.com/whisper/pairbot/internal/transport"
)

type sent struct {
	user int64
	text string
	kb   *transport.Keyboard
}

type recordingTransport struct {
	sent []sent
	err  error
}

func (r *recordingTransport) SendText(_ context.Context, userID int64, text string, kb *transport.Keyboard) error {
	if r.err != nil {
		return &transport.DeliveryError{UserID: userID, Err: r.err}
	}
	r.sent = append(r.sent, sent{userID, text, kb})
	return nil
}

func TestAnnouncer_MatchedRendersPartner(t *testing.T) {
	tr := &recordingTransport{}
	msgs := config.DefaultMessages()
	msgs.PartnerFound = "Found: {gender}, {mode}"
	a := NewAnnouncer(tr, msgs, config.DefaultControls())

	user := profile(1, "gender", "Male", "mode", "Flirt")
	partner := profile(2, "gender", "Female", "mode", "Flirt")
	if err := a.Matched(context.Background(), user, partner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(tr.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(tr.sent))
	}
	got := tr.sent[0]
	if got.user != 1 || got.text != "Found: Female, Flirt" {
		t.Errorf("unexpected message %+v", got)
	}
	if got.kb == nil || len(got.kb.Rows) != 2 {
		t.Errorf("expected chat keyboard, got %+v", got.kb)
	}
}

func TestAnnouncer_MatchedReturnsDeliveryError(t *testing.T) {
	tr := &recordingTransport{err: errors.New("gone")}
	a := NewAnnouncer(tr, config.DefaultMessages(), config.DefaultControls())

	err := a.Matched(context.Background(), profile(1), profile(2))
	if !transport.IsDeliveryError(err) {
		t.Errorf("expected DeliveryError, got %v", err)
	}
}

func TestAnnouncer_CancelledRemovesKeyboard(t *testing.T) {
	tr := &recordingTransport{}
	a := NewAnnouncer(tr, config.DefaultMessages(), config.DefaultControls())

	a.Cancelled(context.Background(), profile(1), profile(2))

	if len(tr.sent) != 1 || tr.sent[0].kb == nil || !tr.sent[0].kb.Remove {
		t.Errorf("expected keyboard removal, got %+v", tr.sent)
	}
}
