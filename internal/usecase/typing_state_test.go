package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchchat/internal/domain/entity"
	"matchchat/pkg/errors"
)

type publishCall struct {
	room, user string
	typing     bool
}

type publishLog struct {
	mu    sync.Mutex
	calls []publishCall
}

func (p *publishLog) publish(room, user string, typing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, publishCall{room, user, typing})
}

func (p *publishLog) snapshot() []publishCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishCall(nil), p.calls...)
}

func newTracker() (*typingTracker, *clock.Mock, *publishLog) {
	clk := clock.NewMock()
	log := &publishLog{}
	return newTypingTracker(clk, 300*time.Millisecond, 5*time.Second, log.publish), clk, log
}

func TestTypingTrackerDebouncesThenExpires(t *testing.T) {
	tr, clk, log := newTracker()

	tr.update("r1", "u1", true)
	assert.Equal(t, typingPending, tr.phase("r1", "u1"))

	clk.Add(100 * time.Millisecond)
	tr.update("r1", "u1", true)
	clk.Add(200 * time.Millisecond)
	assert.Empty(t, log.snapshot(), "activity restarts the quiet period")

	clk.Add(100 * time.Millisecond)
	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, waitFor, tick)
	assert.Equal(t, []publishCall{{"r1", "u1", true}}, log.snapshot())
	assert.Equal(t, typingActive, tr.phase("r1", "u1"))

	clk.Add(5 * time.Second)
	require.Eventually(t, func() bool { return len(log.snapshot()) == 2 }, waitFor, tick)
	assert.Equal(t, publishCall{"r1", "u1", false}, log.snapshot()[1])
	assert.Equal(t, typingIdle, tr.phase("r1", "u1"))
}

func TestTypingTrackerCollapsesToggles(t *testing.T) {
	tr, clk, log := newTracker()

	tr.update("r1", "u1", true)
	clk.Add(50 * time.Millisecond)
	tr.update("r1", "u1", false)
	clk.Add(300 * time.Millisecond)

	require.Eventually(t, func() bool { return tr.phase("r1", "u1") == typingIdle }, waitFor, tick)
	assert.Empty(t, log.snapshot(), "a flag that never went up is not written down")

	tr.update("r1", "u2", false)
	assert.Equal(t, typingIdle, tr.phase("r1", "u2"), "stopping while idle does nothing")
}

func TestTypingTrackerExplicitStopCancelsExpiry(t *testing.T) {
	tr, clk, log := newTracker()

	tr.update("r1", "u1", true)
	clk.Add(300 * time.Millisecond)
	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, waitFor, tick)

	tr.update("r1", "u1", false)
	clk.Add(300 * time.Millisecond)
	require.Eventually(t, func() bool { return len(log.snapshot()) == 2 }, waitFor, tick)

	clk.Add(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, log.snapshot(), 2, "the superseded expiry timer is a no-op")
}

func TestTypingTrackerIsPerUserAndRoom(t *testing.T) {
	tr, clk, log := newTracker()

	tr.update("r1", "u1", true)
	tr.update("r1", "u2", true)
	tr.update("r2", "u1", true)
	clk.Add(300 * time.Millisecond)

	require.Eventually(t, func() bool { return len(log.snapshot()) == 3 }, waitFor, tick)
	assert.ElementsMatch(t, []publishCall{
		{"r1", "u1", true}, {"r1", "u2", true}, {"r2", "u1", true},
	}, log.snapshot())
}

func TestTypingTrackerCloseClearsActiveFlags(t *testing.T) {
	tr, clk, log := newTracker()

	tr.update("r1", "u1", true)
	clk.Add(300 * time.Millisecond)
	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, waitFor, tick)
	tr.update("r1", "u2", true)

	tr.close()
	tr.close()
	assert.Equal(t, []publishCall{{"r1", "u1", true}, {"r1", "u1", false}}, log.snapshot())

	tr.update("r1", "u1", true)
	clk.Add(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, log.snapshot(), 2)
}

func TestTypingAutoExpiresInRoom(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	roomID := env.createRoom(t, "U1", "U2")

	rec := &recorder[map[string]bool]{}
	_, err := env.uc.SubscribeToTypingStatus(ctx, roomID, rec.on, rec.onError)
	require.NoError(t, err)

	require.NoError(t, env.uc.UpdateTypingStatus(roomID, "U1", true))
	env.clock.Add(DefaultTypingDebounce)

	require.Eventually(t, func() bool {
		return env.storedRoom(t, roomID).Typing["U1"]
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		typing, ok := rec.last()
		return ok && typing["U1"]
	}, waitFor, tick)
	assert.True(t, env.uc.CachedTyping(roomID)["U1"])

	env.clock.Add(DefaultTypingExpiry)
	require.Eventually(t, func() bool {
		return !env.storedRoom(t, roomID).Typing["U1"]
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		typing, ok := rec.last()
		return ok && !typing["U1"]
	}, waitFor, tick)
}

func TestTypingWriteFailureIsSwallowed(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.uc.UpdateTypingStatus("missing", "U1", true))
	env.clock.Add(DefaultTypingDebounce)
	require.Eventually(t, func() bool {
		return env.uc.typing.phase("missing", "U1") == typingActive
	}, waitFor, tick)
	assert.False(t, env.uc.CachedTyping("missing")["U1"])

	err := env.uc.UpdateTypingStatus("", "U1", true)
	assert.True(t, errors.Is(err, errors.CodeValidation))
}

func TestSubscribeToTypingReplacesPerRoom(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	roomID := env.createRoom(t, "U1", "U2")

	first := &recorder[map[string]bool]{}
	_, err := env.uc.SubscribeToTypingStatus(ctx, roomID, first.on, first.onError)
	require.NoError(t, err)
	second := &recorder[map[string]bool]{}
	unsubscribe, err := env.uc.SubscribeToTypingStatus(ctx, roomID, second.on, second.onError)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return second.count() > 0 }, waitFor, tick)
	assert.Equal(t, 1, env.uc.ActiveSubscriptions())
	assert.Equal(t, 1, env.store.ListenerCount())

	typing, _ := second.last()
	assert.Equal(t, map[string]bool{"U1": false, "U2": false}, typing)

	unsubscribe()
	assert.Equal(t, 0, env.store.ListenerCount())
}

func TestTypingUsersExcludesSelf(t *testing.T) {
	room := &entity.Room{Participants: []string{"a", "b", "c"}, Typing: map[string]bool{"a": true, "b": true}}
	assert.Equal(t, []string{"b"}, room.TypingUsers("a"))
}
