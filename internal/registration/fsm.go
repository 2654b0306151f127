package registration

import "fmt"

// State is the registration state of a user.
type State int

const (
	// StateIdle means no registration is in progress.
	StateIdle State = iota
	// StateCollecting means the user is answering attribute prompts.
	StateCollecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Input classifies an event fed to the state machine.
type Input int

const (
	InputStart     Input = iota // /start
	InputValid                  // valid answer, more attributes follow
	InputValidLast              // valid answer to the last attribute
	InputInvalid                // answer outside the attribute's domain
	InputRejected               // answer failed a gate
)

// Effect is the side effect of a transition.
type Effect int

const (
	EffectBegin    Effect = iota // reset answers, ask the first attribute
	EffectAdvance                // store the answer, ask the next attribute
	EffectReprompt               // explain and ask the same attribute again
	EffectReject                 // send the rejection, drop progress
	EffectComplete               // store the answer, create the profile, enter the pool
)

type transitionKey struct {
	state State
	input Input
}

// Transition is the outcome of feeding an input in a state.
type Transition struct {
	Next   State
	Effect Effect
}

// transitions is the full registration table. Pairs absent from the table
// are ignored.
var transitions = map[transitionKey]Transition{
	{StateIdle, InputStart}:           {StateCollecting, EffectBegin},
	{StateCollecting, InputStart}:     {StateCollecting, EffectBegin},
	{StateCollecting, InputValid}:     {StateCollecting, EffectAdvance},
	{StateCollecting, InputValidLast}: {StateIdle, EffectComplete},
	{StateCollecting, InputInvalid}:   {StateCollecting, EffectReprompt},
	{StateCollecting, InputRejected}:  {StateIdle, EffectReject},
}

// Next looks up the transition for input in state.
func Next(state State, input Input) (Transition, bool) {
	t, ok := transitions[transitionKey{state, input}]
	return t, ok
}
