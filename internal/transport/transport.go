// Package transport defines how the bot talks to users. The core only ever
// sends text with an optional keyboard hint; delivery outcomes are explicit
// errors so callers can roll back or notify instead of guessing.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Keyboard is a reply keyboard hint: rows of button labels, or a request to
// remove whatever keyboard the client currently shows.
type Keyboard struct {
	Rows   [][]string
	Remove bool
}

// Buttons returns a keyboard with the given rows.
func Buttons(rows [][]string) *Keyboard {
	return &Keyboard{Rows: rows}
}

// RemoveKeyboard asks the client to hide its keyboard.
func RemoveKeyboard() *Keyboard {
	return &Keyboard{Remove: true}
}

// Transport delivers text to a user.
type Transport interface {
	SendText(ctx context.Context, userID int64, text string, kb *Keyboard) error
}

// DeliveryError reports that a message could not reach a user.
type DeliveryError struct {
	UserID int64
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("transport: deliver to %d: %v", e.UserID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsDeliveryError reports whether err is (or wraps) a DeliveryError.
func IsDeliveryError(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}
