// Package transporttest provides an in-memory Transport for tests.
package transporttest

import (
	"context"
	"errors"
	"sync"

	"github.com/whisper/pairbot/internal/transport"
)

// ErrUnreachable is the cause wrapped in DeliveryErrors for failing users.
var ErrUnreachable = errors.New("unreachable")

// Message is one recorded delivery.
type Message struct {
	UserID   int64
	Text     string
	Keyboard *transport.Keyboard
}

// Recorder records every message sent through it. Users marked with Fail
// get a *transport.DeliveryError instead.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
	fail map[int64]bool
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{fail: make(map[int64]bool)}
}

// SendText implements transport.Transport.
func (r *Recorder) SendText(_ context.Context, userID int64, text string, kb *transport.Keyboard) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fail[userID] {
		return &transport.DeliveryError{UserID: userID, Err: ErrUnreachable}
	}
	r.msgs = append(r.msgs, Message{UserID: userID, Text: text, Keyboard: kb})
	return nil
}

// Fail makes deliveries to userID fail (or succeed again).
func (r *Recorder) Fail(userID int64, fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[userID] = fail
}

// Messages returns everything sent so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// To returns the texts sent to userID in order.
func (r *Recorder) To(userID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.msgs {
		if m.UserID == userID {
			out = append(out, m.Text)
		}
	}
	return out
}

// Last returns the last message sent to userID.
func (r *Recorder) Last(userID int64) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.msgs) - 1; i >= 0; i-- {
		if r.msgs[i].UserID == userID {
			return r.msgs[i], true
		}
	}
	return Message{}, false
}

// Reset forgets recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}
