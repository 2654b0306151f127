package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/pairbot/internal/auth"
	"github.com/whisper/pairbot/internal/moderation"
)

type fakeBlocks struct {
	blocked    map[int64]string
	complaints map[int64]int
}

func (f *fakeBlocks) InsertBlock(_ context.Context, id int64, reason string) (bool, error) {
	if _, ok := f.blocked[id]; ok {
		return false, nil
	}
	f.blocked[id] = reason
	return true, nil
}

func (f *fakeBlocks) DeleteBlock(_ context.Context, id int64) (bool, error) {
	_, ok := f.blocked[id]
	delete(f.blocked, id)
	return ok, nil
}

func (f *fakeBlocks) CountComplaints(_ context.Context, id int64) (int, error) {
	return f.complaints[id], nil
}

func (f *fakeBlocks) Blocks(context.Context) ([]moderation.BlockRecord, error) {
	var out []moderation.BlockRecord
	for id, reason := range f.blocked {
		out = append(out, moderation.BlockRecord{UserID: id, Reason: reason, At: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)})
	}
	return out, nil
}

type fakeMembers map[int64]string

func (f fakeMembers) Status(_ context.Context, id int64) (string, error) { return f[id], nil }

func (f fakeMembers) SetStatus(_ context.Context, id int64, status string) error {
	f[id] = status
	return nil
}

const testSecret = "moderator-test-secret"

// evictions records the users the CLI asked the bot to evict.
type evictions struct {
	ids []int64
	err error
}

func (e *evictions) evict(id int64) error {
	if e.err != nil {
		return e.err
	}
	e.ids = append(e.ids, id)
	return nil
}

func newCLI() (*cli, *bytes.Buffer, *fakeBlocks, fakeMembers) {
	c, out, blocks, members, _ := newCLIWithEvictions()
	return c, out, blocks, members
}

func newCLIWithEvictions() (*cli, *bytes.Buffer, *fakeBlocks, fakeMembers, *evictions) {
	out := &bytes.Buffer{}
	blocks := &fakeBlocks{blocked: map[int64]string{}, complaints: map[int64]int{7: 2}}
	members := fakeMembers{}
	ev := &evictions{}
	c := &cli{
		out:     out,
		blocks:  func() (blockStore, error) { return blocks, nil },
		members: func(string) (memberStore, error) { return members, nil },
		tokens: func() (tokenIssuer, error) {
			return auth.NewSigner(testSecret)
		},
		evict:   ev.evict,
		migrate: func() error { return nil },
	}
	return c, out, blocks, members, ev
}

func TestRun_BlockUnblock(t *testing.T) {
	c, out, blocks, _ := newCLI()
	ctx := context.Background()

	require.NoError(t, c.run(ctx, []string{"block", "7", "--reason", "spam"}))
	assert.Equal(t, "spam", blocks.blocked[7])
	require.NoError(t, c.run(ctx, []string{"block", "7"}))
	require.NoError(t, c.run(ctx, []string{"blocks"}))
	require.NoError(t, c.run(ctx, []string{"unblock", "7"}))
	require.NoError(t, c.run(ctx, []string{"unblock", "7"}))

	assert.Equal(t, "User 7 blocked.\n"+
		"User 7 was already blocked.\n"+
		"7\t2024-01-02T03:04:05Z\tspam\n"+
		"User 7 unblocked.\n"+
		"User 7 was not blocked.\n", out.String())
}

func TestRun_Complaints(t *testing.T) {
	c, out, _, _ := newCLI()
	require.NoError(t, c.run(context.Background(), []string{"complaints", "7"}))
	assert.Equal(t, "User 7: 2 complaints\n", out.String())
}

func TestRun_Member(t *testing.T) {
	c, out, _, members := newCLI()
	ctx := context.Background()

	require.NoError(t, c.run(ctx, []string{"member", "5", "member", "--channel", "news"}))
	assert.Equal(t, "member", members[5])
	assert.Equal(t, "5 in news: \"member\" (subscribed=true)\n", out.String())

	out.Reset()
	require.NoError(t, c.run(ctx, []string{"member", "6", "--channel", "news"}))
	assert.Equal(t, "6 in news: \"\" (subscribed=false)\n", out.String())
}

func TestRun_Errors(t *testing.T) {
	c, _, _, _ := newCLI()
	ctx := context.Background()

	assert.ErrorIs(t, c.run(ctx, nil), errUsage)
	assert.ErrorIs(t, c.run(ctx, []string{"nope"}), errUsage)
	assert.EqualError(t, c.run(ctx, []string{"block"}), "missing user id")
	assert.EqualError(t, c.run(ctx, []string{"unblock", "abc"}), "invalid user id: abc")

	t.Setenv("CHANNEL_NAME", "")
	assert.Error(t, c.run(ctx, []string{"member", "5"}))

	c.blocks = func() (blockStore, error) { return nil, errors.New("down") }
	assert.EqualError(t, c.run(ctx, []string{"blocks"}), "down")
}

func TestRun_BlockEvicts(t *testing.T) {
	c, out, _, _, ev := newCLIWithEvictions()
	ctx := context.Background()

	require.NoError(t, c.run(ctx, []string{"block", "9"}))
	require.NoError(t, c.run(ctx, []string{"block", "9"}))
	require.NoError(t, c.run(ctx, []string{"unblock", "9"}))
	assert.Equal(t, []int64{9, 9}, ev.ids, "every block notifies the bot, unblock does not")

	out.Reset()
	ev.err = errors.New("nats: no servers available")
	require.NoError(t, c.run(ctx, []string{"block", "9"}), "the block is stored even when the bot is unreachable")
	assert.Contains(t, out.String(), "User 9 blocked.")
	assert.Contains(t, out.String(), "warning: bot not notified")
}

func TestRun_Token(t *testing.T) {
	c, out, _, _ := newCLI()
	ctx := context.Background()

	require.NoError(t, c.run(ctx, []string{"token", "42", "--ttl", "1h"}))
	signer, err := auth.NewSigner(testSecret)
	require.NoError(t, err)
	id, err := signer.Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	assert.EqualError(t, c.run(ctx, []string{"token"}), "missing user id")

	c.tokens = func() (tokenIssuer, error) { return auth.NewSigner("short") }
	assert.ErrorIs(t, c.run(ctx, []string{"token", "42"}), auth.ErrWeakSecret)
}
