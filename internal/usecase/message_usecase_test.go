package usecase

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adapter "matchchat/internal/adapter/repository"
	"matchchat/internal/domain/entity"
	"matchchat/internal/domain/repository"
	"matchchat/pkg/errors"
)

func TestSendAndReadScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	roomID := env.createRoom(t, "U1", "U2")

	msgID := env.send(t, roomID, "U1", "hi")

	room := env.storedRoom(t, roomID)
	assert.Equal(t, 1, room.Unread("U2"))
	assert.Equal(t, 0, room.Unread("U1"))
	assert.Equal(t, "hi", room.LastMessage)
	assert.Equal(t, msgID, room.LastMessageID)

	require.NoError(t, env.uc.MarkMessagesAsRead(ctx, roomID, "U2"))

	room = env.storedRoom(t, roomID)
	assert.Equal(t, 0, room.Unread("U2"))
	assert.NotNil(t, room.LastSeen["U2"])

	for _, m := range env.storedMessages(t, roomID) {
		if m.ID == msgID {
			assert.Equal(t, entity.MessageStatusRead, m.Status)
		}
	}

	cached, ok := env.uc.CachedRoom(roomID)
	require.True(t, ok)
	assert.Equal(t, 0, cached.Unread("U2"))
}

func TestUnreadCountsOnlyMessagesSinceLastRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	roomID := env.createRoom(t, "U1", "U2", "U3")

	for i := 0; i < 3; i++ {
		env.send(t, roomID, "U1", "before")
	}
	require.NoError(t, env.uc.MarkMessagesAsRead(ctx, roomID, "U2"))
	env.send(t, roomID, "U1", "after")
	env.send(t, roomID, "U1", "after")

	room := env.storedRoom(t, roomID)
	assert.Equal(t, 2, room.Unread("U2"))
	assert.Equal(t, 5, room.Unread("U3"))
	assert.Equal(t, 0, room.Unread("U1"))

	require.NoError(t, env.uc.MarkMessagesAsDelivered(ctx, roomID, "U3"))
	room = env.storedRoom(t, roomID)
	assert.Equal(t, 5, room.Unread("U3"), "delivery does not clear the badge")

	statuses := map[entity.MessageStatus]int{}
	for _, m := range env.storedMessages(t, roomID) {
		if !m.System {
			statuses[m.Status]++
		}
	}
	assert.Equal(t, map[entity.MessageStatus]int{entity.MessageStatusRead: 3, entity.MessageStatusDelivered: 2}, statuses)
}

func TestMarkAsReadIsNoopWhenNothingQualifies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	roomID := env.createRoom(t, "U1", "U2")
	env.send(t, roomID, "U1", "hi")

	require.NoError(t, env.uc.MarkMessagesAsRead(ctx, roomID, "U2"))
	before := env.storedRoom(t, roomID)

	env.store.InjectFault(adapter.FaultCommit, stderrors.New("must not write"))
	assert.NoError(t, env.uc.MarkMessagesAsRead(ctx, roomID, "U2"))
	assert.NoError(t, env.uc.MarkMessagesAsDelivered(ctx, roomID, "U2"))
	assert.Equal(t, before.LastSeen["U2"], env.storedRoom(t, roomID).LastSeen["U2"])
}

func TestMarkOwnMessagesAreLeftAlone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	roomID := env.createRoom(t, "U1", "U2")
	id := env.send(t, roomID, "U1", "mine")

	require.NoError(t, env.uc.MarkMessagesAsRead(ctx, roomID, "U1"))
	for _, m := range env.storedMessages(t, roomID) {
		if m.ID == id {
			assert.Equal(t, entity.MessageStatusSent, m.Status)
		}
	}
}

func TestFailedSendIsAtomicAndRecoverable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	roomID := env.createRoom(t, "U1", "U2")
	before := env.storedRoom(t, roomID)
	storedBefore := len(env.storedMessages(t, roomID))

	env.store.InjectFault(adapter.FaultCommit, stderrors.New("network down"))
	id, err := env.uc.SendMessage(ctx, roomID, MessageInput{Text: "lost?", SenderID: "U1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeTransport))
	require.NotEmpty(t, id)

	after := env.storedRoom(t, roomID)
	assert.Equal(t, before.LastMessage, after.LastMessage)
	assert.Equal(t, before.Unread("U2"), after.Unread("U2"))
	assert.Len(t, env.storedMessages(t, roomID), storedBefore)

	view := env.uc.CachedMessages(roomID)
	require.NotEmpty(t, view)
	assert.Equal(t, id, view[0].ID)
	assert.Equal(t, entity.MessageStatusError, view[0].Status)

	env.store.InjectFault(adapter.FaultCommit, nil)
	require.NoError(t, env.uc.ResendMessage(ctx, roomID, id))

	assert.Equal(t, "lost?", env.storedRoom(t, roomID).LastMessage)
	assert.Equal(t, 1, env.storedRoom(t, roomID).Unread("U2"))
	view = env.uc.CachedMessages(roomID)
	assert.Equal(t, entity.MessageStatusSent, view[0].Status)

	err = env.uc.DiscardFailedMessage(roomID, id)
	assert.True(t, errors.Is(err, errors.CodeConflict))
	err = env.uc.ResendMessage(ctx, roomID, id)
	assert.True(t, errors.Is(err, errors.CodeConflict))
}

func TestSendRefusesAnExistingMessageID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	roomID := env.createRoom(t, "U1", "U2")

	_, err := env.uc.SendMessage(ctx, roomID, MessageInput{ID: "fixed-id", Text: "original from U1", SenderID: "U1"})
	require.NoError(t, err)
	env.clock.Add(time.Second)

	_, err = env.uc.SendMessage(ctx, roomID, MessageInput{ID: "fixed-id", Text: "overwrite from U2", SenderID: "U2"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeConflict))

	var stored *entity.Message
	for _, m := range env.storedMessages(t, roomID) {
		if m.ID == "fixed-id" {
			stored = m
		}
	}
	require.NotNil(t, stored)
	assert.Equal(t, "U1", stored.Sender.ID)
	assert.Equal(t, "original from U1", stored.Text)

	room := env.storedRoom(t, roomID)
	assert.Equal(t, "original from U1", room.LastMessage)
	assert.Equal(t, 0, room.Unread("U1"))
	assert.Equal(t, 1, room.Unread("U2"))

	for _, m := range env.uc.CachedMessages(roomID) {
		if m.ID == "fixed-id" {
			assert.Equal(t, "U1", m.Sender.ID)
		}
	}
}

func TestResendAcceptsItsOwnEarlierWrite(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	roomID := env.createRoom(t, "U1", "U2")

	env.store.InjectFault(adapter.FaultCommit, stderrors.New("timeout"))
	id, err := env.uc.SendMessage(ctx, roomID, MessageInput{Text: "did it land?", SenderID: "U1"})
	require.Error(t, err)
	env.store.InjectFault(adapter.FaultCommit, nil)

	// The write reached the store even though the client saw a failure.
	view := env.uc.CachedMessages(roomID)
	require.NotEmpty(t, view)
	landed := view[0].Clone()
	landed.Status = entity.MessageStatusSent
	require.NoError(t, env.store.Set(ctx, repository.MessagePath(roomID, id), landed.ToData(), false))

	require.NoError(t, env.uc.ResendMessage(ctx, roomID, id))
	view = env.uc.CachedMessages(roomID)
	require.NotEmpty(t, view)
	assert.Equal(t, id, view[0].ID)
	assert.Equal(t, entity.MessageStatusSent, view[0].Status)
}

func TestDiscardFailedMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	roomID := env.createRoom(t, "U1", "U2")

	env.store.InjectFault(adapter.FaultCommit, stderrors.New("down"))
	id, err := env.uc.SendMessage(ctx, roomID, MessageInput{Text: "oops", SenderID: "U1"})
	require.Error(t, err)

	require.NoError(t, env.uc.DiscardFailedMessage(roomID, id))
	for _, m := range env.uc.CachedMessages(roomID) {
		assert.NotEqual(t, id, m.ID)
	}
	assert.True(t, errors.Is(env.uc.DiscardFailedMessage(roomID, id), errors.CodeNotFound))
}

func TestSendToMissingRoom(t *testing.T) {
	env := newTestEnv(t)
	id, err := env.uc.SendMessage(context.Background(), "nope", MessageInput{Text: "hello", SenderID: "U1"})
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	view := env.uc.CachedMessages("nope")
	require.Len(t, view, 1)
	assert.Equal(t, id, view[0].ID)
	assert.Equal(t, entity.MessageStatusError, view[0].Status)
}

func TestSendValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.uc.SendMessage(ctx, "", MessageInput{Text: "x", SenderID: "U1"})
	assert.True(t, errors.Is(err, errors.CodeValidation))
	_, err = env.uc.SendMessage(ctx, "r", MessageInput{Text: "x"})
	assert.True(t, errors.Is(err, errors.CodeValidation))
	_, err = env.uc.SendMessage(ctx, "r", MessageInput{Text: "   ", SenderID: "U1"})
	assert.True(t, errors.Is(err, errors.CodeValidation))
	assert.Empty(t, env.uc.CachedMessages("r"))
}

func TestAttachmentPreviewAndSystemMessages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	roomID := env.createRoom(t, "U1", "U2")

	_, err := env.uc.SendMessage(ctx, roomID, MessageInput{
		SenderID:    "U1",
		Attachments: []entity.Attachment{{Type: entity.AttachmentImage, URL: "https://cdn/x.jpg"}},
	})
	require.NoError(t, err)
	room := env.storedRoom(t, roomID)
	assert.Equal(t, "📷 Photo", room.LastMessage)
	assert.Equal(t, 1, room.Unread("U2"))

	_, err = env.uc.SendMessage(ctx, roomID, MessageInput{Text: "Kickoff moved to 19:00", System: true})
	require.NoError(t, err)
	room = env.storedRoom(t, roomID)
	assert.Equal(t, "Kickoff moved to 19:00", room.LastMessage)
	assert.Equal(t, 1, room.Unread("U2"), "system messages do not count as unread")
}

func TestSendFillsSenderFromProfile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.Set(ctx, "users/U1", map[string]interface{}{
		"username": "ana", "fullName": "Ana Lima", "photoURL": "https://cdn/ana.png",
	}, false))
	roomID := env.createRoom(t, "U1", "U2")

	id, err := env.uc.SendMessage(ctx, roomID, MessageInput{Text: "hey", SenderID: "U1"})
	require.NoError(t, err)

	for _, m := range env.storedMessages(t, roomID) {
		if m.ID == id {
			assert.Equal(t, "Ana Lima", m.Sender.Name)
			assert.Equal(t, "https://cdn/ana.png", m.Sender.AvatarURL)
		}
	}
}

func TestSubscribeToMessagesDeliversNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	roomID := env.createRoom(t, "U1", "U2")
	env.send(t, roomID, "U1", "one")
	env.send(t, roomID, "U2", "two")

	rec := &recorder[[]*entity.Message]{}
	unsubscribe, err := env.uc.SubscribeToMessages(ctx, roomID, rec.on, rec.onError)
	require.NoError(t, err)
	defer unsubscribe()

	require.Eventually(t, func() bool {
		msgs, ok := rec.last()
		return ok && len(msgs) == 3
	}, waitFor, tick)
	msgs, _ := rec.last()
	assert.Equal(t, "two", msgs[0].Text)
	assert.Equal(t, "one", msgs[1].Text)
	assert.True(t, msgs[2].System)

	env.send(t, roomID, "U1", "three")
	require.Eventually(t, func() bool {
		msgs, ok := rec.last()
		return ok && len(msgs) == 4 && msgs[0].Text == "three" && msgs[0].Status == entity.MessageStatusSent
	}, waitFor, tick)
}

func TestSubscribeToMessagesRespectsPageSize(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	roomID := env.createRoom(t, "U1", "U2")
	for i := 0; i < 4; i++ {
		env.send(t, roomID, "U1", "m")
	}

	rec := &recorder[[]*entity.Message]{}
	_, err := env.uc.SubscribeToMessages(ctx, roomID, rec.on, rec.onError, WithPageSize(2))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs, ok := rec.last()
		return ok && len(msgs) == 2
	}, waitFor, tick)
}

func TestResubscribeReplacesPreviousListener(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	roomID := env.createRoom(t, "U1", "U2")

	first := &recorder[[]*entity.Message]{}
	_, err := env.uc.SubscribeToMessages(ctx, roomID, first.on, first.onError)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return first.count() > 0 }, waitFor, tick)

	second := &recorder[[]*entity.Message]{}
	unsubscribe, err := env.uc.SubscribeToMessages(ctx, roomID, second.on, second.onError)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return second.count() > 0 }, waitFor, tick)

	assert.Equal(t, 1, env.uc.ActiveSubscriptions())
	assert.Equal(t, 1, env.store.ListenerCount())
	seen := first.count()

	env.send(t, roomID, "U1", "after replace")
	require.Eventually(t, func() bool {
		msgs, ok := second.last()
		return ok && msgs[0].Text == "after replace" && msgs[0].Status == entity.MessageStatusSent
	}, waitFor, tick)
	assert.Equal(t, seen, first.count())

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, env.uc.ActiveSubscriptions())
	assert.Equal(t, 0, env.store.ListenerCount())
}

func TestSubscriptionErrorReplaysCachedMessages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	roomID := env.createRoom(t, "U1", "U2")
	env.send(t, roomID, "U1", "kept")

	rec := &recorder[[]*entity.Message]{}
	_, err := env.uc.SubscribeToMessages(ctx, roomID, rec.on, rec.onError)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs, ok := rec.last()
		return ok && len(msgs) == 2
	}, waitFor, tick)
	delivered := rec.count()

	env.store.BreakListeners(stderrors.New("connection reset"))

	require.Eventually(t, func() bool { return len(rec.failures()) == 1 }, waitFor, tick)
	assert.Greater(t, rec.count(), delivered)
	msgs, _ := rec.last()
	require.Len(t, msgs, 2, "the last good view is replayed")
	assert.Equal(t, "kept", msgs[0].Text)
	assert.True(t, errors.Is(rec.failures()[0], errors.CodeTransport))

	require.Eventually(t, func() bool { return env.uc.ActiveSubscriptions() == 0 }, waitFor, tick)
	assert.Len(t, env.uc.CachedMessages(roomID), 2)
}

func TestLoadMoreMessagesPagesBackwards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	roomID := env.createRoom(t, "U1", "U2")
	for _, text := range []string{"m1", "m2", "m3", "m4", "m5"} {
		env.send(t, roomID, "U1", text)
	}

	newest, err := env.uc.LoadMoreMessages(ctx, roomID, time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, []string{"m5", "m4"}, texts(newest))

	older, err := env.uc.LoadMoreMessages(ctx, roomID, newest[1].CreatedAt, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m2"}, texts(older))

	// Sends from this engine are still held locally, so the view also has m1 and the welcome message.
	view := env.uc.CachedMessages(roomID)
	require.Len(t, view, 6)
	assert.Equal(t, []string{"m5", "m4", "m3", "m2", "m1"}, texts(view)[:5])
	assert.True(t, view[5].System)

	_, err = env.uc.LoadMoreMessages(ctx, roomID, newest[1].CreatedAt, 2)
	require.NoError(t, err)
	assert.Equal(t, texts(view), texts(env.uc.CachedMessages(roomID)), "merging the same page twice changes nothing")

	env.store.InjectFault(adapter.FaultQuery, stderrors.New("down"))
	_, err = env.uc.LoadMoreMessages(ctx, roomID, older[1].CreatedAt, 2)
	assert.True(t, errors.Is(err, errors.CodeTransport))
	assert.Len(t, env.uc.CachedMessages(roomID), 6)
}

func texts(msgs []*entity.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Text)
	}
	return out
}
