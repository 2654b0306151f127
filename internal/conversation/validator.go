package conversation

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // max relayed payload size
	MaxTextChars    = 2000 // max character count
)

// ErrInvalidMessage is wrapped by every validation failure.
var ErrInvalidMessage = errors.New("invalid message")

// ValidateMessage checks that a relayed message meets content requirements.
func ValidateMessage(text string) error {
	if len(text) == 0 {
		return fmt.Errorf("%w: message text is empty", ErrInvalidMessage)
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("%w: message exceeds %d byte limit", ErrInvalidMessage, MaxMessageBytes)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: message contains invalid UTF-8", ErrInvalidMessage)
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("%w: message exceeds %d character limit", ErrInvalidMessage, MaxTextChars)
	}
	return nil
}

// reason strips the sentinel prefix for user-facing notices.
func reason(err error) string {
	return strings.TrimPrefix(err.Error(), ErrInvalidMessage.Error()+": ")
}
