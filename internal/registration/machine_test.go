package registration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/pairbot/internal/config"
	"github.com/whisper/pairbot/internal/transport/transporttest"
)

type fakeBlocks struct {
	blocked map[int64]bool
	err     error
}

func (f *fakeBlocks) IsBlocked(_ context.Context, id int64) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.blocked[id], nil
}

type fakeMembers struct {
	members map[int64]bool
	err     error
}

func (f *fakeMembers) IsMember(_ context.Context, id int64) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.members[id], nil
}

type fakeRegistrar struct {
	mu   sync.Mutex
	regs map[int64]map[string]string
}

func (f *fakeRegistrar) Register(_ context.Context, id int64, attrs map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.regs == nil {
		f.regs = make(map[int64]map[string]string)
	}
	f.regs[id] = attrs
	return nil
}

type fixture struct {
	m       *Machine
	tr      *transporttest.Recorder
	store   *MemoryStore
	blocks  *fakeBlocks
	members *fakeMembers
	reg     *fakeRegistrar
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	f := &fixture{
		tr:      transporttest.NewRecorder(),
		store:   NewMemoryStore(),
		blocks:  &fakeBlocks{blocked: map[int64]bool{}},
		members: &fakeMembers{members: map[int64]bool{}},
		reg:     &fakeRegistrar{},
	}
	deps := Deps{
		Store:     f.store,
		Blocks:    f.blocks,
		Registrar: f.reg,
		Transport: f.tr,
	}
	if cfg.Channel != "" {
		deps.Members = f.members
	}
	f.m = NewMachine(cfg, deps)
	return f
}

func modeConfig() *config.Config {
	cfg := config.Default()
	cfg.AdminID = 1
	return cfg
}

func mutualConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("ADMIN_ID", "")
	cfg, err := config.Load("../../configs/mutual.yaml")
	require.NoError(t, err)
	return cfg
}

func TestRegistration_ModeHappyPath(t *testing.T) {
	f := newFixture(t, modeConfig())
	ctx := context.Background()

	require.NoError(t, f.m.Start(ctx, 7))
	active, err := f.m.Active(ctx, 7)
	require.NoError(t, err)
	assert.True(t, active)

	last, _ := f.tr.Last(7)
	assert.Equal(t, "Hi! What is your gender?", last.Text)
	require.NotNil(t, last.Keyboard)
	assert.Equal(t, [][]string{{"Male"}, {"Female"}}, last.Keyboard.Rows)

	require.NoError(t, f.m.Answer(ctx, 7, "Female"))
	require.NoError(t, f.m.Answer(ctx, 7, "18+"))
	last, _ = f.tr.Last(7)
	assert.Equal(t, [][]string{{"Roleplay", "Flirt"}, {"Chatting"}, {"Something else"}}, last.Keyboard.Rows)

	require.NoError(t, f.m.Answer(ctx, 7, "Flirt"))

	assert.Equal(t, map[string]string{
		"gender":      "Female",
		"age_confirm": "18+",
		"mode":        "Flirt",
	}, f.reg.regs[7])

	last, _ = f.tr.Last(7)
	assert.Equal(t, "You chose: Flirt. Waiting for a partner…", last.Text)
	assert.True(t, last.Keyboard.Remove)

	active, _ = f.m.Active(ctx, 7)
	assert.False(t, active, "progress should be cleared after completion")
}

func TestRegistration_InvalidAnswerReprompts(t *testing.T) {
	f := newFixture(t, modeConfig())
	ctx := context.Background()
	require.NoError(t, f.m.Start(ctx, 7))

	for i := 0; i < 3; i++ {
		err := f.m.Answer(ctx, 7, "Robot")
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "gender", ve.Key)
	}

	p, err := f.store.Load(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 0, p.Step, "invalid answers must not advance")

	last, _ := f.tr.Last(7)
	assert.Contains(t, last.Text, "Please pick one of the offered answers.")
	assert.Contains(t, last.Text, "What is your gender?")
}

func TestRegistration_ConsentRejection(t *testing.T) {
	f := newFixture(t, modeConfig())
	ctx := context.Background()
	require.NoError(t, f.m.Start(ctx, 7))
	require.NoError(t, f.m.Answer(ctx, 7, "Male"))

	err := f.m.Answer(ctx, 7, "No")
	assert.ErrorIs(t, err, ErrRejected)

	active, _ := f.m.Active(ctx, 7)
	assert.False(t, active, "rejection resets to start")
	assert.Empty(t, f.reg.regs, "no profile for rejected users")

	last, _ := f.tr.Last(7)
	assert.Equal(t, "You must be 18 or older to use this bot.", last.Text)
}

func TestRegistration_NumericAgeGate(t *testing.T) {
	f := newFixture(t, mutualConfig(t))
	ctx := context.Background()
	require.NoError(t, f.m.Start(ctx, 9))
	require.NoError(t, f.m.Answer(ctx, 9, "Male"))
	require.NoError(t, f.m.Answer(ctx, 9, "Female"))

	var ve *ValidationError
	require.ErrorAs(t, f.m.Answer(ctx, 9, "twenty"), &ve)
	last, _ := f.tr.Last(9)
	assert.Contains(t, last.Text, "Please send your age as a number.")

	assert.ErrorIs(t, f.m.Answer(ctx, 9, "16"), ErrRejected)
	assert.Empty(t, f.reg.regs)
}

func TestRegistration_MutualHappyPath(t *testing.T) {
	f := newFixture(t, mutualConfig(t))
	ctx := context.Background()
	require.NoError(t, f.m.Start(ctx, 9))
	for _, answer := range []string{"male", "Anyone", "30", "21"} {
		require.NoError(t, f.m.Answer(ctx, 9, answer))
	}

	assert.Equal(t, map[string]string{
		"gender":  "Male",
		"seeking": "Anyone",
		"age":     "30",
		"min_age": "21",
	}, f.reg.regs[9])

	last, _ := f.tr.Last(9)
	assert.Equal(t, "Looking for someone (Anyone, 21+)…", last.Text)
}

func TestRegistration_BlockedUserRejectedBeforeState(t *testing.T) {
	f := newFixture(t, modeConfig())
	f.blocks.blocked[7] = true
	ctx := context.Background()

	err := f.m.Start(ctx, 7)
	assert.ErrorIs(t, err, ErrBlocked)
	assert.True(t, Handled(err))

	active, _ := f.m.Active(ctx, 7)
	assert.False(t, active)
	assert.Equal(t, []string{config.DefaultMessages().Blocked}, f.tr.To(7))
}

func TestRegistration_BlockedMidwayNotRegistered(t *testing.T) {
	f := newFixture(t, modeConfig())
	ctx := context.Background()

	require.NoError(t, f.m.Start(ctx, 5))
	require.NoError(t, f.m.Answer(ctx, 5, "Male"))
	require.NoError(t, f.m.Answer(ctx, 5, "18+"))

	f.blocks.blocked[5] = true
	err := f.m.Answer(ctx, 5, "Chatting")
	assert.ErrorIs(t, err, ErrBlocked)
	assert.True(t, Handled(err))

	assert.NotContains(t, f.reg.regs, int64(5))
	active, _ := f.m.Active(ctx, 5)
	assert.False(t, active)
	last, _ := f.tr.Last(5)
	assert.Equal(t, config.DefaultMessages().Blocked, last.Text)
}

func TestRegistration_BlockCheckFailureAllows(t *testing.T) {
	f := newFixture(t, modeConfig())
	f.blocks.err = errors.New("db down")

	require.NoError(t, f.m.Start(context.Background(), 7))
	active, _ := f.m.Active(context.Background(), 7)
	assert.True(t, active)
}

func TestRegistration_SubscriptionGate(t *testing.T) {
	cfg := modeConfig()
	cfg.Channel = "@news"
	f := newFixture(t, cfg)
	ctx := context.Background()

	err := f.m.Start(ctx, 7)
	assert.ErrorIs(t, err, ErrNotSubscribed)
	assert.Equal(t, []string{"🔔 Please subscribe to @news to use this bot."}, f.tr.To(7))

	f.members.members[7] = true
	require.NoError(t, f.m.Start(ctx, 7))
}

func TestRegistration_MembershipErrorRefuses(t *testing.T) {
	cfg := modeConfig()
	cfg.Channel = "@news"
	f := newFixture(t, cfg)
	f.members.err = errors.New("redis down")

	assert.ErrorIs(t, f.m.Start(context.Background(), 7), ErrNotSubscribed)
}

func TestRegistration_StartRestartsCollection(t *testing.T) {
	f := newFixture(t, modeConfig())
	ctx := context.Background()
	require.NoError(t, f.m.Start(ctx, 7))
	require.NoError(t, f.m.Answer(ctx, 7, "Male"))

	require.NoError(t, f.m.Start(ctx, 7))
	p, _ := f.store.Load(ctx, 7)
	require.NotNil(t, p)
	assert.Equal(t, 0, p.Step)
	assert.Empty(t, p.Answers)
}

func TestRegistration_AnswerWithoutStart(t *testing.T) {
	f := newFixture(t, modeConfig())
	assert.ErrorIs(t, f.m.Answer(context.Background(), 7, "Male"), ErrNotActive)
}

func TestRegistration_Cancel(t *testing.T) {
	f := newFixture(t, modeConfig())
	ctx := context.Background()
	require.NoError(t, f.m.Start(ctx, 7))
	require.NoError(t, f.m.Cancel(ctx, 7))

	active, _ := f.m.Active(ctx, 7)
	assert.False(t, active)
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		state  State
		input  Input
		next   State
		effect Effect
		ok     bool
	}{
		{StateIdle, InputStart, StateCollecting, EffectBegin, true},
		{StateCollecting, InputStart, StateCollecting, EffectBegin, true},
		{StateCollecting, InputValid, StateCollecting, EffectAdvance, true},
		{StateCollecting, InputValidLast, StateIdle, EffectComplete, true},
		{StateCollecting, InputInvalid, StateCollecting, EffectReprompt, true},
		{StateCollecting, InputRejected, StateIdle, EffectReject, true},
		{StateIdle, InputValid, 0, 0, false},
		{StateIdle, InputInvalid, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			got, ok := Next(tt.state, tt.input)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.next, got.Next)
				assert.Equal(t, tt.effect, got.Effect)
			}
		})
	}
}
