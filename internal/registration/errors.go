package registration

import (
	"errors"
	"fmt"
)

var (
	// ErrBlocked is returned when a blocked user tries to register.
	ErrBlocked = errors.New("registration: user is blocked")

	// ErrNotSubscribed is returned when the subscription gate refuses a user.
	ErrNotSubscribed = errors.New("registration: user is not subscribed")

	// ErrRejected is returned when a gate attribute ends the attempt.
	ErrRejected = errors.New("registration: rejected by gate")

	// ErrNotActive is returned when an answer arrives with no registration in
	// progress.
	ErrNotActive = errors.New("registration: no registration in progress")
)

// ValidationError reports an answer that does not fit its attribute. The user
// has been re-prompted; the registration stays on the same step.
type ValidationError struct {
	Key    string
	Answer string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("registration: invalid answer %q for %s", e.Answer, e.Key)
}
