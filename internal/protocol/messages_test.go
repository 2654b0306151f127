package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseClientMessage_ChatMsg(t *testing.T) {
	input := []byte(`{"type":"message","text":"Hello!"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMessage {
		t.Fatalf("expected type %q, got %q", TypeMessage, msgType)
	}

	cm, ok := msg.(ChatMsg)
	if !ok {
		t.Fatalf("expected ChatMsg, got %T", msg)
	}
	if cm.Text != "Hello!" {
		t.Errorf("expected text %q, got %q", "Hello!", cm.Text)
	}
}

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"find_match","interests":["music"]}`)

	msgType, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected an error for unknown message type, got nil")
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown type, got %v", msg)
	}
	if msgType != "find_match" {
		t.Errorf("expected returned type %q, got %q", "find_match", msgType)
	}
}

func TestParseClientMessage_BadPayload(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{"type":"message","text":42}`))
	if err == nil {
		t.Fatal("expected decode error for non-string text")
	}
}

func TestParseClientMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"start", `{"type":"start"}`, TypeStart},
		{"message", `{"type":"message","text":"hi"}`, TypeMessage},
		{"ping", `{"type":"ping"}`, TypePing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, msgType)
			}
			if msg == nil {
				t.Error("expected non-nil message")
			}
		})
	}
}

func TestNewServerMessage_InjectsType(t *testing.T) {
	data, err := NewServerMessage(TypeRateLimited, RateLimitedMsg{RetryAfter: 7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypeRateLimited {
		t.Errorf("expected type %q, got %v", TypeRateLimited, result["type"])
	}
	if result["retry_after"] != float64(7) {
		t.Errorf("expected retry_after 7, got %v", result["retry_after"])
	}
}

func TestDeliveryFrame(t *testing.T) {
	tests := []struct {
		name       string
		delivery   Delivery
		wantRows   int
		wantRemove bool
	}{
		{"plain", Delivery{UserID: 1, Text: "hi"}, 0, false},
		{"keyboard", Delivery{UserID: 1, Text: "pick", Keyboard: [][]string{{"a", "b"}, {"c"}}}, 2, false},
		{"remove", Delivery{UserID: 1, Text: "thanks", RemoveKeyboard: true}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.delivery.Frame()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var got ServerChatMsg
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("failed to unmarshal: %v", err)
			}
			if got.Type != TypeMessage || got.Text != tt.delivery.Text {
				t.Errorf("unexpected frame %s", data)
			}
			if len(got.Keyboard) != tt.wantRows {
				t.Errorf("expected %d keyboard rows, got %d", tt.wantRows, len(got.Keyboard))
			}
			if got.RemoveKeyboard != tt.wantRemove {
				t.Errorf("expected remove_keyboard %v, got %v", tt.wantRemove, got.RemoveKeyboard)
			}
			if !tt.wantRemove && strings.Contains(string(data), "remove_keyboard") {
				t.Errorf("remove_keyboard should be omitted: %s", data)
			}
		})
	}
}

func TestInboundEvent(t *testing.T) {
	ev := NewInboundEvent(42, KindText, "hello")
	if ev.ID == "" {
		t.Error("expected event id")
	}
	if ev.Ts.IsZero() {
		t.Error("expected timestamp")
	}
	if err := ev.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := NewInboundEvent(42, KindEvict, "").Validate(); err != nil {
		t.Errorf("evict rejected: %v", err)
	}

	if NewInboundEvent(42, KindText, "").ID == ev.ID {
		t.Error("event ids must be unique")
	}

	bad := []InboundEvent{
		NewInboundEvent(0, KindStart, ""),
		NewInboundEvent(-5, KindText, "x"),
		NewInboundEvent(1, "typing", ""),
	}
	for _, ev := range bad {
		if err := ev.Validate(); err == nil {
			t.Errorf("expected validation error for %+v", ev)
		}
	}
}

func TestEnvelope_MissingType(t *testing.T) {
	input := []byte(`{"data":"no type field"}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	input := []byte(`{invalid json}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}
