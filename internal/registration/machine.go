// Package registration drives a user from /start through the configured
// attribute prompts into the waiting pool.
//
// The flow is an explicit table (see fsm.go): the current state and the
// classified input select the next state and one side effect. Progress is
// kept in a StateStore between messages, so the machine itself is stateless.
package registration

import (
	"context"
	"errors"
	"log"

	"github.com/whisper/pairbot/internal/config"
	"github.com/whisper/pairbot/internal/transport"
)

// BlockChecker reports whether a user has a block record.
type BlockChecker interface {
	IsBlocked(ctx context.Context, userID int64) (bool, error)
}

// MembershipChecker reports whether a user belongs to the subscription channel.
type MembershipChecker interface {
	IsMember(ctx context.Context, userID int64) (bool, error)
}

// Registrar receives completed profiles. *matching.Service implements it.
type Registrar interface {
	Register(ctx context.Context, userID int64, attrs map[string]string) error
}

// Deps groups the collaborators of a Machine.
type Deps struct {
	Store     StateStore
	Blocks    BlockChecker
	Members   MembershipChecker // nil disables the subscription gate
	Registrar Registrar
	Transport transport.Transport
}

// Machine runs registrations.
type Machine struct {
	attrs    []config.Attribute
	msgs     config.Messages
	channel  string
	store    StateStore
	blocks   BlockChecker
	members  MembershipChecker
	registry Registrar
	tr       transport.Transport
}

// NewMachine creates a Machine for the configured attribute schema.
func NewMachine(cfg *config.Config, deps Deps) *Machine {
	return &Machine{
		attrs:    cfg.Registration.Attributes,
		msgs:     cfg.Messages,
		channel:  cfg.Channel,
		store:    deps.Store,
		blocks:   deps.Blocks,
		members:  deps.Members,
		registry: deps.Registrar,
		tr:       deps.Transport,
	}
}

// Start begins (or restarts) registration for userID. Blocked and
// unsubscribed users are told why and get ErrBlocked or ErrNotSubscribed;
// no state is created for them.
func (m *Machine) Start(ctx context.Context, userID int64) error {
	blocked, err := m.blocks.IsBlocked(ctx, userID)
	if err != nil {
		log.Printf("[registration] block check for %d: %v (allowing)", userID, err)
	}
	if blocked {
		m.send(ctx, userID, m.msgs.Blocked, transport.RemoveKeyboard())
		return ErrBlocked
	}

	if m.members != nil {
		member, err := m.members.IsMember(ctx, userID)
		if err != nil {
			log.Printf("[registration] membership check for %d: %v (refusing)", userID, err)
			member = false
		}
		if !member {
			text := config.Render(m.msgs.NotSubscribed, map[string]string{"channel": m.channel})
			m.send(ctx, userID, text, transport.RemoveKeyboard())
			return ErrNotSubscribed
		}
	}

	p, err := m.store.Load(ctx, userID)
	if err != nil {
		return err
	}
	return m.apply(ctx, userID, stateOf(p), InputStart, p, "")
}

// Active reports whether userID has a registration in progress.
func (m *Machine) Active(ctx context.Context, userID int64) (bool, error) {
	p, err := m.store.Load(ctx, userID)
	if err != nil {
		return false, err
	}
	return p != nil, nil
}

// Answer feeds one message to an active registration. It returns a
// *ValidationError when the user was re-prompted, ErrRejected when a gate
// ended the attempt and ErrNotActive when nothing is in progress.
func (m *Machine) Answer(ctx context.Context, userID int64, text string) error {
	p, err := m.store.Load(ctx, userID)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrNotActive
	}
	if p.Answers == nil {
		p.Answers = make(map[string]string)
	}
	if p.Step < 0 || p.Step >= len(m.attrs) {
		// Schema changed under a saved registration; start over.
		return m.apply(ctx, userID, StateCollecting, InputStart, p, "")
	}

	attr := m.attrs[p.Step]
	value, verdict := attr.Check(text)

	var input Input
	switch verdict {
	case config.Valid:
		input = InputValid
		if p.Step == len(m.attrs)-1 {
			input = InputValidLast
		}
	case config.Rejected:
		input = InputRejected
	default:
		input = InputInvalid
	}

	if err := m.apply(ctx, userID, StateCollecting, input, p, value); err != nil {
		return err
	}

	switch input {
	case InputInvalid:
		return &ValidationError{Key: attr.Key, Answer: text}
	case InputRejected:
		return ErrRejected
	}
	return nil
}

// Cancel drops any registration in progress.
func (m *Machine) Cancel(ctx context.Context, userID int64) error {
	return m.store.Clear(ctx, userID)
}

func (m *Machine) apply(ctx context.Context, userID int64, state State, input Input, p *Progress, value string) error {
	t, ok := Next(state, input)
	if !ok {
		return nil
	}

	switch t.Effect {
	case EffectBegin:
		p = &Progress{Step: 0, Answers: make(map[string]string)}
		if err := m.store.Save(ctx, userID, p); err != nil {
			return err
		}
		m.prompt(ctx, userID, m.attrs[0], "")

	case EffectAdvance:
		p.Answers[m.attrs[p.Step].Key] = value
		p.Step++
		if err := m.store.Save(ctx, userID, p); err != nil {
			return err
		}
		m.prompt(ctx, userID, m.attrs[p.Step], "")

	case EffectReprompt:
		attr := m.attrs[p.Step]
		notice := attr.Invalid
		if notice == "" {
			notice = m.msgs.InvalidAnswer
		}
		m.prompt(ctx, userID, attr, notice)

	case EffectReject:
		if err := m.store.Clear(ctx, userID); err != nil {
			return err
		}
		attr := m.attrs[p.Step]
		text := attr.Rejection
		if text == "" {
			text = m.msgs.NotRegistered
		}
		m.send(ctx, userID, text, transport.RemoveKeyboard())
		log.Printf("[registration] %d rejected at %s", userID, attr.Key)

	case EffectComplete:
		p.Answers[m.attrs[p.Step].Key] = value
		return m.complete(ctx, userID, p.Answers)
	}
	return nil
}

// complete is the Ready state: confirm, drop progress, hand the profile to
// the registry. A block issued while the user was answering wins.
func (m *Machine) complete(ctx context.Context, userID int64, answers map[string]string) error {
	if err := m.store.Clear(ctx, userID); err != nil {
		return err
	}

	blocked, err := m.blocks.IsBlocked(ctx, userID)
	if err != nil {
		log.Printf("[registration] block check for %d: %v (allowing)", userID, err)
	}
	if blocked {
		m.send(ctx, userID, m.msgs.Blocked, transport.RemoveKeyboard())
		log.Printf("[registration] %d blocked before completing", userID)
		return ErrBlocked
	}

	m.send(ctx, userID, config.Render(m.msgs.Waiting, answers), transport.RemoveKeyboard())
	if err := m.registry.Register(ctx, userID, answers); err != nil {
		return err
	}
	log.Printf("[registration] %d completed", userID)
	return nil
}

// prompt asks attr, optionally preceded by a notice on its own line.
func (m *Machine) prompt(ctx context.Context, userID int64, attr config.Attribute, notice string) {
	text := attr.Prompt
	if notice != "" {
		text = notice + "\n" + attr.Prompt
	}
	kb := transport.RemoveKeyboard()
	if rows := attr.Rows(); len(rows) > 0 {
		kb = transport.Buttons(rows)
	}
	m.send(ctx, userID, text, kb)
}

func (m *Machine) send(ctx context.Context, userID int64, text string, kb *transport.Keyboard) {
	if err := m.tr.SendText(ctx, userID, text, kb); err != nil {
		log.Printf("[registration] send to %d: %v", userID, err)
	}
}

func stateOf(p *Progress) State {
	if p == nil {
		return StateIdle
	}
	return StateCollecting
}

// Handled reports whether err is an outcome the user has already been told
// about, as opposed to an infrastructure failure.
func Handled(err error) bool {
	var ve *ValidationError
	return errors.Is(err, ErrBlocked) || errors.Is(err, ErrNotSubscribed) ||
		errors.Is(err, ErrRejected) || errors.As(err, &ve)
}
