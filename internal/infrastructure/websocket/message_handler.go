package websocket

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"time"

	"matchchat/internal/domain/entity"
	"matchchat/internal/observability"
	"matchchat/internal/usecase"
	"matchchat/pkg/errors"
	"matchchat/pkg/logger"
	"matchchat/pkg/utils"
)

// Client commands
const (
	MessageTypePing                = "ping"
	MessageTypeSubscribeRooms      = "subscribe_rooms"
	MessageTypeSubscribeMessages   = "subscribe_messages"
	MessageTypeUnsubscribeMessages = "unsubscribe_messages"
	MessageTypeSubscribeTyping     = "subscribe_typing"
	MessageTypeUnsubscribeTyping   = "unsubscribe_typing"
	MessageTypeSendMessage         = "send_message"
	MessageTypeResendMessage       = "resend_message"
	MessageTypeLoadMore            = "load_more"
	MessageTypeMarkRead            = "mark_read"
	MessageTypeMarkDelivered       = "mark_delivered"
	MessageTypeTyping              = "typing"
	MessageTypeEnterRoom           = "enter_room"
	MessageTypeLeaveRoom           = "leave_room"
	MessageTypeAppState            = "app_state"
)

// Server events
const (
	EventRooms    = "rooms"
	EventMessages = "messages"
	EventTyping   = "typing"
	EventAck      = "ack"
	EventError    = "error"
	EventPong     = "pong"
)

// WSMessage is a command sent by the client.
type WSMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	RoomID    string          `json:"roomId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Event is pushed to the client.
type Event struct {
	Type      string      `json:"type"`
	RequestID string      `json:"requestId,omitempty"`
	RoomID    string      `json:"roomId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}

type SendMessageData struct {
	ID           string              `json:"id,omitempty"`
	Text         string              `json:"text"`
	SenderName   string              `json:"senderName,omitempty"`
	SenderAvatar string              `json:"senderAvatar,omitempty"`
	ReplyTo      *entity.ReplyRef    `json:"replyTo,omitempty"`
	Attachments  []entity.Attachment `json:"attachments,omitempty"`
}

type MessageRefData struct {
	MessageID string `json:"messageId"`
}

type PageData struct {
	PageSize int    `json:"pageSize,omitempty"`
	Before   string `json:"before,omitempty"`
}

type TypingData struct {
	IsTyping bool `json:"isTyping"`
}

type AppStateData struct {
	State string `json:"state"`
}

type AckData struct {
	MessageID string `json:"messageId,omitempty"`
}

type MessagesData struct {
	Messages []*entity.Message `json:"messages"`
	Older    bool              `json:"older,omitempty"`
}

type TypingEventData struct {
	Typing map[string]bool `json:"typing"`
	Users  []string        `json:"users"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HandleClientMessage processes one incoming command.
func (m *Manager) HandleClientMessage(ctx context.Context, s *Session, raw []byte) {
	var msg WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Warn("Session %s sent malformed command: %v", s.ID, err)
		s.pushError("", "", errors.BadRequest("Invalid message format", err))
		return
	}
	observability.IncWSEvent("in", msg.Type)
	logger.Debug("Session %s command %s room=%s", s.ID, msg.Type, msg.RoomID)

	if roomScoped[msg.Type] {
		if err := s.requireMember(ctx, msg.RoomID); err != nil {
			s.pushError(msg.RequestID, msg.RoomID, err)
			return
		}
	}

	var err error
	switch msg.Type {
	case MessageTypePing:
		s.push(Event{Type: EventPong, RequestID: msg.RequestID})
		return
	case MessageTypeSubscribeRooms:
		err = m.handleSubscribeRooms(ctx, s, msg)
	case MessageTypeSubscribeMessages:
		err = m.handleSubscribeMessages(ctx, s, msg)
	case MessageTypeUnsubscribeMessages:
		s.untrack(subKey(MessageTypeSubscribeMessages, msg.RoomID))
	case MessageTypeSubscribeTyping:
		err = m.handleSubscribeTyping(ctx, s, msg)
	case MessageTypeUnsubscribeTyping:
		s.untrack(subKey(MessageTypeSubscribeTyping, msg.RoomID))
	case MessageTypeSendMessage:
		err = m.handleSendMessage(ctx, s, msg)
		if err == nil {
			return
		}
	case MessageTypeResendMessage:
		err = m.handleResendMessage(ctx, s, msg)
	case MessageTypeLoadMore:
		err = m.handleLoadMore(ctx, s, msg)
		if err == nil {
			return
		}
	case MessageTypeMarkRead:
		err = s.engine.MarkMessagesAsRead(ctx, msg.RoomID, s.UserID)
	case MessageTypeMarkDelivered:
		err = s.engine.MarkMessagesAsDelivered(ctx, msg.RoomID, s.UserID)
	case MessageTypeTyping:
		err = m.handleTyping(s, msg)
	case MessageTypeEnterRoom:
		err = handleEnterRoom(s, msg)
	case MessageTypeLeaveRoom:
		s.leaveRoom()
	case MessageTypeAppState:
		err = handleAppState(s, msg)
	default:
		logger.Warn("Session %s sent unknown command %q", s.ID, msg.Type)
		err = errors.BadRequest("Unknown message type", nil)
	}

	if err != nil {
		s.pushError(msg.RequestID, msg.RoomID, err)
		return
	}
	if msg.Type != MessageTypeTyping {
		s.push(Event{Type: EventAck, RequestID: msg.RequestID, RoomID: msg.RoomID})
	}
}

// roomScoped lists the commands that act on a room the caller must belong to.
var roomScoped = map[string]bool{
	MessageTypeSubscribeMessages: true,
	MessageTypeSubscribeTyping:   true,
	MessageTypeSendMessage:       true,
	MessageTypeResendMessage:     true,
	MessageTypeLoadMore:          true,
	MessageTypeMarkRead:          true,
	MessageTypeMarkDelivered:     true,
	MessageTypeTyping:            true,
	MessageTypeEnterRoom:         true,
}

func subKey(kind, roomID string) string {
	return kind + ":" + roomID
}

func decodeData(msg WSMessage, v interface{}) error {
	if len(msg.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return errors.BadRequest("Invalid "+msg.Type+" data", err)
	}
	return nil
}

func (m *Manager) handleSubscribeRooms(ctx context.Context, s *Session, msg WSMessage) error {
	unsubscribe, err := s.engine.SubscribeToUserChatRooms(ctx, s.UserID,
		func(rooms []*entity.Room) {
			s.push(Event{Type: EventRooms, Data: rooms})
		},
		func(err error) {
			s.pushError("", "", err)
		},
	)
	if err != nil {
		return err
	}
	s.track(MessageTypeSubscribeRooms, unsubscribe)
	return nil
}

func (m *Manager) handleSubscribeMessages(ctx context.Context, s *Session, msg WSMessage) error {
	var data PageData
	if err := decodeData(msg, &data); err != nil {
		return err
	}
	roomID := msg.RoomID
	unsubscribe, err := s.engine.SubscribeToMessages(ctx, roomID,
		func(messages []*entity.Message) {
			s.push(Event{Type: EventMessages, RoomID: roomID, Data: MessagesData{Messages: messages}})
		},
		func(err error) {
			s.pushError("", roomID, err)
		},
		usecase.WithPageSize(data.PageSize),
	)
	if err != nil {
		return err
	}
	s.track(subKey(MessageTypeSubscribeMessages, roomID), unsubscribe)
	return nil
}

func (m *Manager) handleSubscribeTyping(ctx context.Context, s *Session, msg WSMessage) error {
	roomID := msg.RoomID
	unsubscribe, err := s.engine.SubscribeToTypingStatus(ctx, roomID,
		func(typing map[string]bool) {
			users := make([]string, 0, len(typing))
			for uid, on := range typing {
				if on && uid != s.UserID {
					users = append(users, uid)
				}
			}
			s.push(Event{Type: EventTyping, RoomID: roomID, Data: TypingEventData{Typing: typing, Users: users}})
		},
		func(err error) {
			s.pushError("", roomID, err)
		},
	)
	if err != nil {
		return err
	}
	s.track(subKey(MessageTypeSubscribeTyping, roomID), unsubscribe)
	return nil
}

func (m *Manager) allow(s *Session, action string) error {
	if ok, wait := m.limiter.Allow(s.UserID, action); !ok {
		return errors.TooManyRequests("Too many "+strings.ReplaceAll(action, "_", " ")+" requests", wait)
	}
	return nil
}

func (m *Manager) handleSendMessage(ctx context.Context, s *Session, msg WSMessage) error {
	if err := m.allow(s, MessageTypeSendMessage); err != nil {
		return err
	}
	var data SendMessageData
	if err := decodeData(msg, &data); err != nil {
		return err
	}

	id, err := s.engine.SendMessage(ctx, msg.RoomID, usecase.MessageInput{
		ID:           data.ID,
		Text:         data.Text,
		SenderID:     s.UserID,
		SenderName:   data.SenderName,
		SenderAvatar: data.SenderAvatar,
		ReplyTo:      data.ReplyTo,
		Attachments:  data.Attachments,
	})
	if err != nil {
		return err
	}
	s.push(Event{Type: EventAck, RequestID: msg.RequestID, RoomID: msg.RoomID, Data: AckData{MessageID: id}})
	return nil
}

func (m *Manager) handleResendMessage(ctx context.Context, s *Session, msg WSMessage) error {
	if err := m.allow(s, MessageTypeSendMessage); err != nil {
		return err
	}
	var data MessageRefData
	if err := decodeData(msg, &data); err != nil {
		return err
	}
	return s.engine.ResendMessage(ctx, msg.RoomID, data.MessageID)
}

func (m *Manager) handleLoadMore(ctx context.Context, s *Session, msg WSMessage) error {
	var data PageData
	if err := decodeData(msg, &data); err != nil {
		return err
	}
	var before time.Time
	if data.Before != "" {
		t, ok := utils.ParseTimestamp(data.Before)
		if !ok {
			return errors.BadRequest("Invalid before cursor", nil)
		}
		before = t
	}

	messages, err := s.engine.LoadMoreMessages(ctx, msg.RoomID, before, data.PageSize)
	if err != nil {
		return err
	}
	s.push(Event{Type: EventMessages, RequestID: msg.RequestID, RoomID: msg.RoomID, Data: MessagesData{Messages: messages, Older: true}})
	return nil
}

func (m *Manager) handleTyping(s *Session, msg WSMessage) error {
	var data TypingData
	if err := decodeData(msg, &data); err != nil {
		return err
	}
	if data.IsTyping {
		if err := m.allow(s, MessageTypeTyping); err != nil {
			return err
		}
	}
	return s.engine.UpdateTypingStatus(msg.RoomID, s.UserID, data.IsTyping)
}

func handleEnterRoom(s *Session, msg WSMessage) error {
	if strings.TrimSpace(msg.RoomID) == "" {
		return errors.Validation("roomId is required")
	}
	s.enterRoom(msg.RoomID)
	return nil
}

func handleAppState(s *Session, msg WSMessage) error {
	var data AppStateData
	if err := decodeData(msg, &data); err != nil {
		return err
	}
	state := usecase.AppState(data.State)
	switch state {
	case usecase.AppStateActive, usecase.AppStateBackground, usecase.AppStateInactive:
		s.lifecycle.Publish(state)
		return nil
	}
	return errors.Validation("state must be one of: active background inactive")
}

func (s *Session) pushError(requestID, roomID string, err error) {
	var appErr *errors.AppError
	data := ErrorData{Code: errors.CodeInternal, Message: "An unexpected error occurred"}
	if stderrors.As(err, &appErr) {
		data = ErrorData{Code: appErr.Code, Message: appErr.Message}
	} else {
		logger.Error("Session %s: %v", s.ID, err)
	}
	s.push(Event{Type: EventError, RequestID: requestID, RoomID: roomID, Data: data})
}
