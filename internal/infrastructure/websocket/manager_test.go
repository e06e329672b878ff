package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adapter "matchchat/internal/adapter/repository"
	"matchchat/internal/domain/entity"
	"matchchat/internal/domain/repository"
	"matchchat/internal/infrastructure/ratelimit"
	"matchchat/internal/usecase"
	"matchchat/pkg/errors"
)

type testEvent struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	RoomID    string          `json:"roomId"`
	Data      json.RawMessage `json:"data"`
}

type gateway struct {
	manager *Manager
	store   *adapter.MemoryStore
	server  *httptest.Server
}

func newGateway(t *testing.T, limiter *ratelimit.RateLimiter) *gateway {
	t.Helper()
	store := adapter.NewMemoryStore(clock.New())
	users := adapter.NewStoreUserRepository(store)
	m := NewManager(func(userID string, lc usecase.AppLifecycle) *usecase.ChatUseCase {
		return usecase.NewChatUseCase(store, users, lc, usecase.Options{})
	}, limiter)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m.Start(ctx)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		m.Serve(context.Background(), conn, r.URL.Query().Get("uid"))
	}))
	t.Cleanup(srv.Close)

	return &gateway{manager: m, store: store, server: srv}
}

func (g *gateway) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(g.server.URL, "http") + "/?uid=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (g *gateway) createRoom(t *testing.T, participants ...string) string {
	t.Helper()
	uc := usecase.NewChatUseCase(g.store, nil, nil, usecase.Options{})
	defer uc.Dispose()
	roomID, err := uc.CreateMatchChatRoom(context.Background(), usecase.CreateRoomInput{
		MatchID: "m1", Participants: participants, Title: "Sunday five-a-side",
	})
	require.NoError(t, err)
	return roomID
}

func command(t *testing.T, conn *websocket.Conn, msgType, requestID, roomID string, data interface{}) {
	t.Helper()
	msg := map[string]interface{}{"type": msgType, "requestId": requestID, "roomId": roomID}
	if data != nil {
		msg["data"] = data
	}
	require.NoError(t, conn.WriteJSON(msg))
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(testEvent) bool) testEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var ev testEvent
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &ev))
		if match(ev) {
			return ev
		}
	}
}

func reply(requestID string) func(testEvent) bool {
	return func(ev testEvent) bool { return ev.RequestID == requestID }
}

func errorCode(t *testing.T, ev testEvent) string {
	t.Helper()
	require.Equal(t, EventError, ev.Type)
	var data ErrorData
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	return data.Code
}

func presenceOf(t *testing.T, store *adapter.MemoryStore, userID string) *entity.Presence {
	t.Helper()
	doc, err := store.Get(context.Background(), repository.UserPath(userID))
	if err != nil {
		return &entity.Presence{UserID: userID}
	}
	return entity.PresenceFromData(userID, doc.Data)
}

func TestPingAndBadCommands(t *testing.T) {
	g := newGateway(t, nil)
	conn := g.dial(t, "U1")

	command(t, conn, MessageTypePing, "p1", "", nil)
	assert.Equal(t, EventPong, readUntil(t, conn, reply("p1")).Type)

	command(t, conn, "launch_rockets", "x1", "", nil)
	assert.Equal(t, errors.CodeBadRequest, errorCode(t, readUntil(t, conn, reply("x1"))))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	ev := readUntil(t, conn, func(ev testEvent) bool { return ev.Type == EventError })
	assert.Equal(t, errors.CodeBadRequest, errorCode(t, ev))

	command(t, conn, MessageTypeSubscribeMessages, "v1", "", nil)
	assert.Equal(t, errors.CodeValidation, errorCode(t, readUntil(t, conn, reply("v1"))))
}

func TestSendAndReceiveMessages(t *testing.T) {
	g := newGateway(t, nil)
	roomID := g.createRoom(t, "U1", "U2")

	alice := g.dial(t, "U1")
	bob := g.dial(t, "U2")

	command(t, bob, MessageTypeSubscribeMessages, "b1", roomID, PageData{PageSize: 10})
	readUntil(t, bob, reply("b1"))
	command(t, bob, MessageTypeSubscribeRooms, "b2", "", nil)
	readUntil(t, bob, reply("b2"))

	command(t, alice, MessageTypeSendMessage, "a1", roomID, SendMessageData{Text: "see you at 7", SenderName: "Alice"})
	ack := readUntil(t, alice, reply("a1"))
	require.Equal(t, EventAck, ack.Type)
	var ackData AckData
	require.NoError(t, json.Unmarshal(ack.Data, &ackData))
	assert.NotEmpty(t, ackData.MessageID)

	ev := readUntil(t, bob, func(ev testEvent) bool {
		if ev.Type != EventMessages {
			return false
		}
		var data MessagesData
		require.NoError(t, json.Unmarshal(ev.Data, &data))
		return len(data.Messages) > 0 && data.Messages[0].ID == ackData.MessageID
	})
	assert.Equal(t, roomID, ev.RoomID)

	rooms := readUntil(t, bob, func(ev testEvent) bool {
		if ev.Type != EventRooms {
			return false
		}
		var data []*entity.Room
		require.NoError(t, json.Unmarshal(ev.Data, &data))
		return len(data) == 1 && data[0].LastMessage == "see you at 7"
	})
	assert.Equal(t, EventRooms, rooms.Type)

	command(t, bob, MessageTypeMarkRead, "b3", roomID, nil)
	assert.Equal(t, EventAck, readUntil(t, bob, reply("b3")).Type)

	doc, err := g.store.Get(context.Background(), repository.RoomPath(roomID))
	require.NoError(t, err)
	assert.Zero(t, entity.RoomFromData(roomID, doc.Data).Unread("U2"))

	command(t, bob, MessageTypeLoadMore, "b4", roomID, PageData{PageSize: 5})
	older := readUntil(t, bob, reply("b4"))
	var page MessagesData
	require.NoError(t, json.Unmarshal(older.Data, &page))
	assert.True(t, page.Older)
	assert.Len(t, page.Messages, 2)
}

func TestPresenceFollowsRoomAndAppState(t *testing.T) {
	g := newGateway(t, nil)
	roomID := g.createRoom(t, "U1", "U2")
	conn := g.dial(t, "U1")

	command(t, conn, MessageTypeEnterRoom, "e1", roomID, nil)
	readUntil(t, conn, reply("e1"))
	p := presenceOf(t, g.store, "U1")
	assert.True(t, p.IsOnline)
	assert.Equal(t, roomID, p.RoomID())

	command(t, conn, MessageTypeAppState, "s1", "", AppStateData{State: "background"})
	readUntil(t, conn, reply("s1"))
	assert.False(t, presenceOf(t, g.store, "U1").IsOnline)

	command(t, conn, MessageTypeAppState, "s2", "", AppStateData{State: "active"})
	readUntil(t, conn, reply("s2"))
	assert.True(t, presenceOf(t, g.store, "U1").IsOnline)

	command(t, conn, MessageTypeAppState, "s3", "", AppStateData{State: "asleep"})
	assert.Equal(t, errors.CodeValidation, errorCode(t, readUntil(t, conn, reply("s3"))))

	require.Eventually(t, func() bool { return g.manager.SessionCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	conn.Close()
	require.Eventually(t, func() bool { return g.manager.SessionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		p := presenceOf(t, g.store, "U1")
		return !p.IsOnline && p.ActiveChatRoom == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendIsRateLimited(t *testing.T) {
	g := newGateway(t, ratelimit.NewUniformLimiter(1))
	roomID := g.createRoom(t, "U1", "U2")
	conn := g.dial(t, "U1")

	command(t, conn, MessageTypeSendMessage, "a1", roomID, SendMessageData{Text: "one"})
	assert.Equal(t, EventAck, readUntil(t, conn, reply("a1")).Type)

	command(t, conn, MessageTypeSendMessage, "a2", roomID, SendMessageData{Text: "two"})
	assert.Equal(t, errors.CodeTooManyRequests, errorCode(t, readUntil(t, conn, reply("a2"))))
}

func TestTypingReachesOtherSessions(t *testing.T) {
	g := newGateway(t, nil)
	roomID := g.createRoom(t, "U1", "U2")
	alice := g.dial(t, "U1")
	bob := g.dial(t, "U2")

	command(t, bob, MessageTypeSubscribeTyping, "b1", roomID, nil)
	readUntil(t, bob, reply("b1"))

	command(t, alice, MessageTypeTyping, "", roomID, TypingData{IsTyping: true})

	ev := readUntil(t, bob, func(ev testEvent) bool {
		if ev.Type != EventTyping {
			return false
		}
		var data TypingEventData
		require.NoError(t, json.Unmarshal(ev.Data, &data))
		return len(data.Users) == 1 && data.Users[0] == "U1"
	})
	assert.Equal(t, roomID, ev.RoomID)
}

func TestRoomCommandsRequireParticipant(t *testing.T) {
	g := newGateway(t, nil)
	roomID := g.createRoom(t, "U1", "U2")
	outsider := g.dial(t, "U3")

	commands := []struct {
		msgType string
		data    interface{}
	}{
		{MessageTypeSubscribeMessages, nil},
		{MessageTypeSubscribeTyping, nil},
		{MessageTypeSendMessage, SendMessageData{Text: "I'm not in this room"}},
		{MessageTypeResendMessage, MessageRefData{MessageID: "m1"}},
		{MessageTypeLoadMore, PageData{PageSize: 5}},
		{MessageTypeMarkRead, nil},
		{MessageTypeMarkDelivered, nil},
		{MessageTypeTyping, TypingData{IsTyping: true}},
		{MessageTypeEnterRoom, nil},
	}
	for i, c := range commands {
		requestID := c.msgType + "-" + string(rune('a'+i))
		command(t, outsider, c.msgType, requestID, roomID, c.data)
		assert.Equal(t, errors.CodeForbidden, errorCode(t, readUntil(t, outsider, reply(requestID))), c.msgType)
	}

	command(t, outsider, MessageTypeSubscribeMessages, "missing", "no-such-room", nil)
	assert.Equal(t, errors.CodeNotFound, errorCode(t, readUntil(t, outsider, reply("missing"))))

	docs, err := g.store.Query(context.Background(), repository.NewQuery(repository.MessagesPath(roomID)))
	require.NoError(t, err)
	for _, d := range docs {
		assert.NotEqual(t, "I'm not in this room", d.Data[entity.FieldText])
	}
	doc, err := g.store.Get(context.Background(), repository.RoomPath(roomID))
	require.NoError(t, err)
	room := entity.RoomFromData(roomID, doc.Data)
	assert.Zero(t, room.Unread("U1"))
	assert.Zero(t, room.Unread("U2"))
	assert.False(t, presenceOf(t, g.store, "U3").IsOnline)

	member := g.dial(t, "U1")
	command(t, member, MessageTypeMarkRead, "ok", roomID, nil)
	assert.Equal(t, EventAck, readUntil(t, member, reply("ok")).Type)
}
