// Package protocol defines the JSON messages exchanged between WebSocket
// clients and the gateway, and between the gateway and the bot over NATS.
// Client and server frames share an envelope with a "type" discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeStart   = "start"
	TypeMessage = "message"
	TypePing    = "ping"
)

// Server -> Client message types. TypeMessage is shared with the client side.
const (
	TypeSessionCreated = "session_created"
	TypeRateLimited    = "rate_limited"
	TypeError          = "error"
	TypePong           = "pong"
)

// Error codes carried by ErrorMsg.
const (
	CodeBadRequest  = "bad_request"
	CodeUnavailable = "unavailable"
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the raw bytes and extracts the type field.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server
// ---------------------------------------------------------------------------

// StartMsg asks to (re)start registration.
type StartMsg struct {
	Type string `json:"type"`
}

// ChatMsg carries user text: a registration answer, a control label, a
// feedback token or a message for the partner.
type ChatMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client
// ---------------------------------------------------------------------------

// ServerChatMsg is text addressed to the user, with an optional keyboard hint.
type ServerChatMsg struct {
	Type           string     `json:"type"`
	Text           string     `json:"text"`
	Keyboard       [][]string `json:"keyboard,omitempty"`
	RemoveKeyboard bool       `json:"remove_keyboard,omitempty"`
}

// SessionCreatedMsg confirms the connection is bound to a user.
type SessionCreatedMsg struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
}

// RateLimitedMsg tells the client to slow down.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg reports a protocol-level problem.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Gateway <-> Bot (NATS)
// ---------------------------------------------------------------------------

// Inbound event kinds.
const (
	KindStart      = "start"
	KindText       = "text"
	KindDisconnect = "disconnect"
	// KindEvict is published by the moderator CLI after a block, never by
	// the gateway. The bot acts on it only if the user is actually blocked.
	KindEvict = "evict"
)

// InboundEvent is published by the gateway for every user action and by
// the moderator CLI for evictions.
type InboundEvent struct {
	ID     string    `json:"id"`
	UserID int64     `json:"user_id"`
	Kind   string    `json:"kind"`
	Text   string    `json:"text,omitempty"`
	Ts     time.Time `json:"ts"`
}

// NewInboundEvent stamps an event with a fresh id and the current time.
func NewInboundEvent(userID int64, kind, text string) InboundEvent {
	return InboundEvent{
		ID:     uuid.NewString(),
		UserID: userID,
		Kind:   kind,
		Text:   text,
		Ts:     time.Now().UTC(),
	}
}

// Validate rejects events the bot cannot route.
func (e InboundEvent) Validate() error {
	if e.UserID <= 0 {
		return fmt.Errorf("protocol: event %s: invalid user id %d", e.ID, e.UserID)
	}
	switch e.Kind {
	case KindStart, KindText, KindDisconnect, KindEvict:
		return nil
	default:
		return fmt.Errorf("protocol: event %s: unknown kind %q", e.ID, e.Kind)
	}
}

// Delivery is a message from the bot to one user.
type Delivery struct {
	UserID         int64      `json:"user_id"`
	Text           string     `json:"text"`
	Keyboard       [][]string `json:"keyboard,omitempty"`
	RemoveKeyboard bool       `json:"remove_keyboard,omitempty"`
}

// Frame renders the delivery as the frame written to the user's socket.
func (d Delivery) Frame() ([]byte, error) {
	return NewServerMessage(TypeMessage, ServerChatMsg{
		Text:           d.Text,
		Keyboard:       d.Keyboard,
		RemoveKeyboard: d.RemoveKeyboard,
	})
}

// DeliveryAck is the gateway's reply to a Delivery.
type DeliveryAck struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeStart:
		var m StartMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
