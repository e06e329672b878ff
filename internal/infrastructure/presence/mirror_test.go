package presence

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchchat/internal/domain/entity"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "matchchat:presence:user:u1", userKey("u1"))
	assert.Equal(t, "matchchat:presence:room:r1", roomKey("r1"))
}

func TestMemoryMirror_OnlineInRoom(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	m := NewMemoryMirror(clk, time.Minute)

	room := "r1"
	require.NoError(t, m.Publish(ctx, entity.Presence{UserID: "u2", ActiveChatRoom: &room, IsOnline: true}))
	require.NoError(t, m.Publish(ctx, entity.Presence{UserID: "u1", ActiveChatRoom: &room, IsOnline: true}))
	require.NoError(t, m.Publish(ctx, entity.Presence{UserID: "u3", IsOnline: true}))

	online, err := m.OnlineInRoom(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, online)

	require.NoError(t, m.Publish(ctx, entity.Presence{UserID: "u2", IsOnline: false}))
	online, _ = m.OnlineInRoom(ctx, room)
	assert.Equal(t, []string{"u1"}, online)

	clk.Add(2 * time.Minute)
	online, _ = m.OnlineInRoom(ctx, room)
	assert.Empty(t, online)
}

func TestToRecord(t *testing.T) {
	room := "r9"
	rec := toRecord(entity.Presence{UserID: "u", ActiveChatRoom: &room, IsOnline: true, LastActive: time.Unix(100, 0)})
	assert.Equal(t, record{UserID: "u", RoomID: "r9", Online: true, LastActive: 100}, rec)
}
