package handler

import (
	"context"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"matchchat/internal/adapter/api/middleware"
	"matchchat/internal/domain/entity"
	"matchchat/internal/usecase"
	"matchchat/pkg/errors"
	"matchchat/pkg/response"
	"matchchat/pkg/utils"
)

// OnlineReader lists users whose presence points at a room.
type OnlineReader interface {
	OnlineInRoom(ctx context.Context, roomID string) ([]string, error)
}

// EngineProvider builds a short-lived engine for one request.
type EngineProvider func() *usecase.ChatUseCase

type ChatHandler struct {
	engine   EngineProvider
	online   OnlineReader
	pageSize int
}

func NewChatHandler(engine EngineProvider, online OnlineReader, pageSize int) *ChatHandler {
	if pageSize <= 0 {
		pageSize = usecase.DefaultPageSize
	}
	return &ChatHandler{
		engine:   engine,
		online:   online,
		pageSize: pageSize,
	}
}

type createRoomRequest struct {
	MatchID      string     `json:"matchId" validate:"required"`
	Participants []string   `json:"participants" validate:"required,min=1,dive,required"`
	Title        string     `json:"title" validate:"max=120"`
	SportType    string     `json:"sportType"`
	MatchDate    *time.Time `json:"matchDate"`
}

type addParticipantRequest struct {
	UserID string `json:"userId" validate:"required"`
}

type muteRequest struct {
	Muted *bool `json:"muted" validate:"required"`
}

type sendMessageRequest struct {
	ID           string              `json:"id"`
	Text         string              `json:"text" validate:"max=4000"`
	SenderName   string              `json:"senderName"`
	SenderAvatar string              `json:"senderAvatar"`
	ReplyTo      *entity.ReplyRef    `json:"replyTo"`
	Attachments  []entity.Attachment `json:"attachments" validate:"omitempty,max=10,dive"`
}

type presenceRequest struct {
	RoomID   *string `json:"roomId"`
	IsOnline *bool   `json:"isOnline" validate:"required"`
}

func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return errors.BadRequest("Invalid request body", err)
	}
	return c.Validate(req)
}

// requireParticipant loads the room and rejects callers who are not in it.
func requireParticipant(c echo.Context, uc *usecase.ChatUseCase, roomID string) (*entity.Room, error) {
	room, err := uc.GetRoom(c.Request().Context(), roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(middleware.UserID(c)) {
		return nil, errors.Forbidden("You are not a participant of this chat", nil)
	}
	return room, nil
}

// CreateRoom creates the chat for a match. The caller is always a participant.
func (h *ChatHandler) CreateRoom(c echo.Context) error {
	var req createRoomRequest
	if err := bindAndValidate(c, &req); err != nil {
		return response.Error(c, err)
	}

	uc := h.engine()
	defer uc.Dispose()

	roomID, err := uc.CreateMatchChatRoom(c.Request().Context(), usecase.CreateRoomInput{
		MatchID:      req.MatchID,
		Participants: append([]string{middleware.UserID(c)}, req.Participants...),
		Title:        req.Title,
		SportType:    req.SportType,
		MatchDate:    req.MatchDate,
	})
	if err != nil && roomID == "" {
		return response.Error(c, err)
	}

	data := map[string]interface{}{"roomId": roomID}
	if err != nil {
		data["warning"] = "Welcome message could not be posted"
	}
	return response.Created(c, data)
}

func (h *ChatHandler) GetRoom(c echo.Context) error {
	uc := h.engine()
	defer uc.Dispose()

	room, err := requireParticipant(c, uc, c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, room)
}

func (h *ChatHandler) GetRoomByMatch(c echo.Context) error {
	uc := h.engine()
	defer uc.Dispose()

	room, err := uc.GetRoomByMatchID(c.Request().Context(), c.Param("matchId"))
	if err != nil {
		return response.Error(c, err)
	}
	if !room.HasParticipant(middleware.UserID(c)) {
		return response.Error(c, errors.Forbidden("You are not a participant of this chat", nil))
	}
	return response.Success(c, room)
}

func (h *ChatHandler) AddParticipant(c echo.Context) error {
	var req addParticipantRequest
	if err := bindAndValidate(c, &req); err != nil {
		return response.Error(c, err)
	}

	uc := h.engine()
	defer uc.Dispose()

	roomID := c.Param("id")
	if _, err := requireParticipant(c, uc, roomID); err != nil {
		return response.Error(c, err)
	}
	added, err := uc.AddParticipantToChatRoom(c.Request().Context(), roomID, strings.TrimSpace(req.UserID))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]bool{"added": added})
}

func (h *ChatHandler) DeleteRoom(c echo.Context) error {
	return h.changeStatus(c, (*usecase.ChatUseCase).DeleteChatRoom, "Chat deleted")
}

func (h *ChatHandler) ArchiveRoom(c echo.Context) error {
	return h.changeStatus(c, (*usecase.ChatUseCase).ArchiveChatRoom, "Chat archived")
}

func (h *ChatHandler) RestoreRoom(c echo.Context) error {
	return h.changeStatus(c, (*usecase.ChatUseCase).RestoreChatRoom, "Chat restored")
}

func (h *ChatHandler) changeStatus(c echo.Context, op func(*usecase.ChatUseCase, context.Context, string) error, message string) error {
	uc := h.engine()
	defer uc.Dispose()

	roomID := c.Param("id")
	if _, err := requireParticipant(c, uc, roomID); err != nil {
		return response.Error(c, err)
	}
	if err := op(uc, c.Request().Context(), roomID); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"message": message})
}

func (h *ChatHandler) SetMute(c echo.Context) error {
	var req muteRequest
	if err := bindAndValidate(c, &req); err != nil {
		return response.Error(c, err)
	}

	uc := h.engine()
	defer uc.Dispose()

	if err := uc.MuteConversation(c.Request().Context(), c.Param("id"), middleware.UserID(c), *req.Muted); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]bool{"muted": *req.Muted})
}

func (h *ChatHandler) GetMute(c echo.Context) error {
	uc := h.engine()
	defer uc.Dispose()

	muted := uc.IsConversationMuted(c.Request().Context(), c.Param("id"), middleware.UserID(c))
	return response.Success(c, map[string]bool{"muted": muted})
}

func (h *ChatHandler) GetUnreadCount(c echo.Context) error {
	uc := h.engine()
	defer uc.Dispose()

	count, err := uc.GetUnreadCount(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]int{"unread": count})
}

func (h *ChatHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := bindAndValidate(c, &req); err != nil {
		return response.Error(c, err)
	}

	uc := h.engine()
	defer uc.Dispose()

	roomID := c.Param("id")
	if _, err := requireParticipant(c, uc, roomID); err != nil {
		return response.Error(c, err)
	}
	id, err := uc.SendMessage(c.Request().Context(), roomID, usecase.MessageInput{
		ID:           req.ID,
		Text:         req.Text,
		SenderID:     middleware.UserID(c),
		SenderName:   req.SenderName,
		SenderAvatar: req.SenderAvatar,
		ReplyTo:      req.ReplyTo,
		Attachments:  req.Attachments,
	})
	if err != nil {
		return response.Error(c, err)
	}
	return response.Created(c, map[string]string{"messageId": id})
}

// GetMessages pages backwards with ?before= and ?limit=.
func (h *ChatHandler) GetMessages(c echo.Context) error {
	uc := h.engine()
	defer uc.Dispose()

	roomID := c.Param("id")
	if _, err := requireParticipant(c, uc, roomID); err != nil {
		return response.Error(c, err)
	}

	params := utils.GetCursorParams(c, h.pageSize)
	var before time.Time
	if params.Before != nil {
		before = *params.Before
	}
	messages, err := uc.LoadMoreMessages(c.Request().Context(), roomID, before, params.PageSize)
	if err != nil {
		return response.Error(c, err)
	}

	var next *time.Time
	if len(messages) == params.PageSize {
		t := messages[len(messages)-1].CreatedAt
		next = &t
	}
	return response.Cursor(c, messages, len(messages), next)
}

func (h *ChatHandler) MarkRead(c echo.Context) error {
	uc := h.engine()
	defer uc.Dispose()

	if err := uc.MarkMessagesAsRead(c.Request().Context(), c.Param("id"), middleware.UserID(c)); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"message": "Messages marked as read"})
}

func (h *ChatHandler) MarkDelivered(c echo.Context) error {
	uc := h.engine()
	defer uc.Dispose()

	if err := uc.MarkMessagesAsDelivered(c.Request().Context(), c.Param("id"), middleware.UserID(c)); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"message": "Messages marked as delivered"})
}

func (h *ChatHandler) UpdatePresence(c echo.Context) error {
	var req presenceRequest
	if err := bindAndValidate(c, &req); err != nil {
		return response.Error(c, err)
	}

	uc := h.engine()
	defer uc.Dispose()

	if err := uc.UpdateUserStatus(c.Request().Context(), middleware.UserID(c), req.RoomID, *req.IsOnline); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]bool{"isOnline": *req.IsOnline})
}

// GetOnline lists participants currently present in the room.
func (h *ChatHandler) GetOnline(c echo.Context) error {
	uc := h.engine()
	defer uc.Dispose()

	roomID := c.Param("id")
	if _, err := requireParticipant(c, uc, roomID); err != nil {
		return response.Error(c, err)
	}
	users, err := h.online.OnlineInRoom(c.Request().Context(), roomID)
	if err != nil {
		return response.Error(c, errors.Transport("Presence unavailable", err))
	}
	if users == nil {
		users = []string{}
	}
	return response.Success(c, map[string]interface{}{"roomId": roomID, "users": users})
}
