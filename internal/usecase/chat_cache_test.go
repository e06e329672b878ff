package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchchat/internal/domain/entity"
)

var cacheEpoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func msgAt(id string, sec int, status entity.MessageStatus) *entity.Message {
	return &entity.Message{
		ID:        id,
		RoomID:    "r1",
		Text:      id,
		CreatedAt: cacheEpoch.Add(time.Duration(sec) * time.Second),
		Status:    status,
	}
}

func viewIDs(msgs []*entity.Message) []string {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestLivePageMergeIsIdempotent(t *testing.T) {
	c := newLocalCache()
	page := []*entity.Message{msgAt("c", 3, entity.MessageStatusSent), msgAt("b", 2, entity.MessageStatusSent)}

	c.setLivePage("r1", page)
	first := c.messageView("r1")
	c.setLivePage("r1", page)
	c.mergeHistory("r1", page)

	assert.Equal(t, first, c.messageView("r1"))
	assert.Equal(t, []string{"c", "b"}, viewIDs(first))
}

func TestLivePageOverflowMovesToHistory(t *testing.T) {
	c := newLocalCache()
	c.setLivePage("r1", []*entity.Message{msgAt("b", 2, entity.MessageStatusSent), msgAt("a", 1, entity.MessageStatusSent)})
	c.setLivePage("r1", []*entity.Message{msgAt("c", 3, entity.MessageStatusSent), msgAt("b", 2, entity.MessageStatusSent)})

	assert.Equal(t, []string{"c", "b", "a"}, viewIDs(c.messageView("r1")))
}

func TestLayersPreferLiveOverOptimistic(t *testing.T) {
	c := newLocalCache()
	c.putOptimistic("r1", msgAt("m1", 1, entity.MessageStatusSending))
	c.putOptimistic("r1", msgAt("m2", 2, entity.MessageStatusSending))

	confirmed := msgAt("m1", 1, entity.MessageStatusDelivered)
	c.setLivePage("r1", []*entity.Message{confirmed})

	view := c.messageView("r1")
	require.Len(t, view, 2)
	assert.Equal(t, "m2", view[0].ID)
	assert.Equal(t, entity.MessageStatusDelivered, view[1].Status)

	_, pending := c.optimistic("r1", "m1")
	assert.False(t, pending, "a confirmed message leaves the optimistic layer")
}

func TestLivePageDropsConfirmedSendsOutsideThePage(t *testing.T) {
	c := newLocalCache()
	c.putOptimistic("r1", msgAt("old", 1, entity.MessageStatusSent))
	c.putOptimistic("r1", msgAt("pending", 5, entity.MessageStatusSending))
	c.putOptimistic("r1", msgAt("failed", 6, entity.MessageStatusError))

	c.setLivePage("r1", []*entity.Message{
		msgAt("d", 4, entity.MessageStatusSent),
		msgAt("c", 3, entity.MessageStatusSent),
	})

	assert.Equal(t, []string{"failed", "pending", "d", "c"}, viewIDs(c.messageView("r1")))
	_, kept := c.optimistic("r1", "old")
	assert.False(t, kept)
}

func TestViewBreaksTimestampTiesByID(t *testing.T) {
	c := newLocalCache()
	c.mergeHistory("r1", []*entity.Message{
		msgAt("a", 1, entity.MessageStatusSent),
		msgAt("b", 1, entity.MessageStatusSent),
	})
	assert.Equal(t, []string{"b", "a"}, viewIDs(c.messageView("r1")))
}

func TestOptimisticStatusIsMonotonic(t *testing.T) {
	c := newLocalCache()
	c.putOptimistic("r1", msgAt("m1", 1, entity.MessageStatusSending))

	assert.True(t, c.setOptimisticStatus("r1", "m1", entity.MessageStatusSent))
	assert.False(t, c.setOptimisticStatus("r1", "m1", entity.MessageStatusSending))
	assert.False(t, c.setOptimisticStatus("r1", "m1", entity.MessageStatusError))
	assert.False(t, c.setOptimisticStatus("r1", "missing", entity.MessageStatusSent))

	c.advanceStatus("r1", []string{"m1"}, entity.MessageStatusRead)
	c.advanceStatus("r1", []string{"m1"}, entity.MessageStatusDelivered)
	m, ok := c.optimistic("r1", "m1")
	require.True(t, ok)
	assert.Equal(t, entity.MessageStatusRead, m.Status)
}

func TestViewReturnsCopies(t *testing.T) {
	c := newLocalCache()
	c.mergeHistory("r1", []*entity.Message{msgAt("a", 1, entity.MessageStatusSent)})

	view := c.messageView("r1")
	view[0].Text = "mutated"
	assert.Equal(t, "a", c.messageView("r1")[0].Text)
	assert.Empty(t, c.messageView("unknown"))
	assert.False(t, c.hasMessages("unknown"))
}

func TestUserRoomListFiltersAndSorts(t *testing.T) {
	c := newLocalCache()
	older := cacheEpoch
	newer := cacheEpoch.Add(time.Minute)
	c.setUserRooms("u1", []*entity.Room{
		{ID: "old", Participants: []string{"u1"}, Status: entity.RoomStatusActive, LastMessageTime: &older},
		{ID: "new", Participants: []string{"u1"}, Status: entity.RoomStatusActive, LastMessageTime: &newer},
		{ID: "gone", Participants: []string{"u1"}, Status: entity.RoomStatusDeleted, LastMessageTime: &newer},
	})

	rooms := c.userRoomList("u1")
	require.Len(t, rooms, 2)
	assert.Equal(t, "new", rooms[0].ID)
	assert.Equal(t, "old", rooms[1].ID)

	archived := entity.RoomStatusArchived
	_, ok := c.patchRoom("new", entity.RoomPatch{Status: &archived})
	require.True(t, ok)
	rooms = c.userRoomList("u1")
	require.Len(t, rooms, 1)
	assert.Equal(t, "old", rooms[0].ID)

	_, ok = c.patchRoom("missing", entity.RoomPatch{Status: &archived})
	assert.False(t, ok)
}

func TestTypingEntryUpdatesCachedRoom(t *testing.T) {
	c := newLocalCache()
	c.putRoom(&entity.Room{ID: "r1", Participants: []string{"u1", "u2"}, Typing: map[string]bool{"u1": false}})

	c.setTypingEntry("r1", "u1", true)
	assert.Equal(t, map[string]bool{"u1": true}, c.typingView("r1"))

	room, ok := c.room("r1")
	require.True(t, ok)
	assert.True(t, room.Typing["u1"])

	c.clear()
	_, ok = c.room("r1")
	assert.False(t, ok)
	assert.Empty(t, c.typingView("r1"))
}
