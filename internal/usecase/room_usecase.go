package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"matchchat/internal/domain/entity"
	"matchchat/internal/domain/repository"
	"matchchat/pkg/errors"
	"matchchat/pkg/logger"
)

type CreateRoomInput struct {
	MatchID      string
	Participants []string
	Title        string
	SportType    string
	MatchDate    *time.Time
}

type RoomsHandler func(rooms []*entity.Room)

// CreateMatchChatRoom creates an active room with per-participant counters
// seeded, then posts the system welcome message. If only the welcome message
// fails, the room id is returned together with the error.
func (uc *ChatUseCase) CreateMatchChatRoom(ctx context.Context, input CreateRoomInput) (string, error) {
	if err := uc.checkOpen(); err != nil {
		return "", err
	}
	if err := requireArg(input.MatchID, "matchId"); err != nil {
		return "", err
	}

	var participants []string
	for _, p := range input.Participants {
		if p = strings.TrimSpace(p); p != "" {
			participants = append(participants, p)
		}
	}
	participants = entity.UniqueStrings(participants)
	if len(participants) == 0 {
		return "", errors.Validation("participants are required")
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "Match chat"
	}

	now := uc.now()
	room := &entity.Room{
		ID:           uuid.New().String(),
		MatchID:      input.MatchID,
		MatchTitle:   title,
		SportType:    input.SportType,
		MatchDate:    input.MatchDate,
		Participants: participants,
		UnreadCount:  make(map[string]int, len(participants)),
		Typing:       make(map[string]bool, len(participants)),
		LastSeen:     make(map[string]*time.Time, len(participants)),
		MutedUsers:   []string{},
		Status:       entity.RoomStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	lastSeen := make(map[string]interface{}, len(participants))
	for _, p := range participants {
		room.UnreadCount[p] = 0
		room.Typing[p] = false
		seen := now
		room.LastSeen[p] = &seen
		lastSeen[p] = repository.ServerTimestamp
	}

	data := room.ToData()
	data[entity.FieldLastSeen] = lastSeen
	data[entity.FieldCreatedAt] = repository.ServerTimestamp
	data[entity.FieldUpdatedAt] = repository.ServerTimestamp
	// Ordered room queries skip documents without lastMessageTime.
	data[entity.FieldLastMessageTime] = repository.ServerTimestamp

	if err := uc.store.Set(ctx, repository.RoomPath(room.ID), data, false); err != nil {
		logger.Error("CreateMatchChatRoom Error: Failed to create room for match %s: %v", input.MatchID, err)
		return "", err
	}
	room.LastMessageTime = &now
	uc.cache.putRoom(room)
	logger.Info("Created chat room %s for match %s with %d participants", room.ID, input.MatchID, len(participants))

	welcome := MessageInput{
		Text:   fmt.Sprintf("Welcome to the %s chat! Say hi to your teammates.", title),
		System: true,
	}
	if _, err := uc.SendMessage(ctx, room.ID, welcome); err != nil {
		logger.Error("CreateMatchChatRoom Error: Failed to post welcome message to room %s: %v", room.ID, err)
		return room.ID, err
	}
	return room.ID, nil
}

// GetRoom reads the room from the store and refreshes the cached copy.
func (uc *ChatUseCase) GetRoom(ctx context.Context, roomID string) (*entity.Room, error) {
	if err := uc.checkOpen(); err != nil {
		return nil, err
	}
	if err := requireArg(roomID, "roomId"); err != nil {
		return nil, err
	}
	doc, err := uc.store.Get(ctx, repository.RoomPath(roomID))
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return nil, errors.NotFound("Chat room", err)
		}
		return nil, err
	}
	room := entity.RoomFromData(doc.ID, doc.Data)
	uc.cache.putRoom(room)
	return room, nil
}

// GetRoomByMatchID returns the active room created for a match.
func (uc *ChatUseCase) GetRoomByMatchID(ctx context.Context, matchID string) (*entity.Room, error) {
	if err := uc.checkOpen(); err != nil {
		return nil, err
	}
	if err := requireArg(matchID, "matchId"); err != nil {
		return nil, err
	}
	docs, err := uc.store.Query(ctx, repository.NewQuery(repository.CollectionRooms).
		Where(entity.FieldMatchID, repository.OpEqual, matchID).
		Where(entity.FieldStatus, repository.OpEqual, string(entity.RoomStatusActive)).
		LimitTo(1))
	if err != nil {
		logger.Error("GetRoomByMatchID Error: Failed to query rooms for match %s: %v", matchID, err)
		return nil, err
	}
	if len(docs) == 0 {
		return nil, errors.NotFound("Chat room", nil)
	}
	room := entity.RoomFromData(docs[0].ID, docs[0].Data)
	uc.cache.putRoom(room)
	return room, nil
}

// AddParticipantToChatRoom joins userID to the room. It reports false, and
// writes nothing, when the user is already a participant.
func (uc *ChatUseCase) AddParticipantToChatRoom(ctx context.Context, roomID, userID string) (bool, error) {
	if err := uc.checkOpen(); err != nil {
		return false, err
	}
	if err := requireArg(roomID, "roomId"); err != nil {
		return false, err
	}
	if err := requireArg(userID, "userId"); err != nil {
		return false, err
	}

	room, err := uc.GetRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	if room.HasParticipant(userID) {
		return false, nil
	}

	err = uc.store.Update(ctx, repository.RoomPath(roomID), []repository.FieldUpdate{
		repository.UpdateField(repository.ArrayUnion(userID), entity.FieldParticipants),
		repository.UpdateField(int64(0), entity.FieldUnreadCount, userID),
		repository.UpdateField(false, entity.FieldTyping, userID),
		repository.UpdateField(repository.ServerTimestamp, entity.FieldLastSeen, userID),
		repository.UpdateField(repository.ServerTimestamp, entity.FieldUpdatedAt),
	})
	if err != nil {
		logger.Error("AddParticipantToChatRoom Error: Failed to add user %s to room %s: %v", userID, roomID, err)
		return false, err
	}

	now := uc.now()
	uc.cache.patchRoom(roomID, entity.RoomPatch{
		AddParticipants: []string{userID},
		UnreadCount:     map[string]int{userID: 0},
		Typing:          map[string]bool{userID: false},
		LastSeen:        map[string]time.Time{userID: now},
		UpdatedAt:       &now,
	})
	uc.subs.refreshKind(kindRooms)
	return true, nil
}

// DeleteChatRoom soft-deletes the room. Message history stays readable.
func (uc *ChatUseCase) DeleteChatRoom(ctx context.Context, roomID string) error {
	return uc.setRoomStatus(ctx, roomID, entity.RoomStatusDeleted)
}

func (uc *ChatUseCase) ArchiveChatRoom(ctx context.Context, roomID string) error {
	return uc.setRoomStatus(ctx, roomID, entity.RoomStatusArchived)
}

func (uc *ChatUseCase) RestoreChatRoom(ctx context.Context, roomID string) error {
	return uc.setRoomStatus(ctx, roomID, entity.RoomStatusActive)
}

// setRoomStatus patches the cached room first so room lists update at once,
// and puts the old status back if the write fails.
func (uc *ChatUseCase) setRoomStatus(ctx context.Context, roomID string, status entity.RoomStatus) error {
	if err := uc.checkOpen(); err != nil {
		return err
	}
	if err := requireArg(roomID, "roomId"); err != nil {
		return err
	}

	previous, cached := uc.cache.room(roomID)
	if cached {
		uc.cache.patchRoom(roomID, entity.RoomPatch{Status: &status})
		uc.subs.refreshKind(kindRooms)
	}

	err := uc.store.Update(ctx, repository.RoomPath(roomID), []repository.FieldUpdate{
		repository.UpdateField(string(status), entity.FieldStatus),
		repository.UpdateField(repository.ServerTimestamp, entity.FieldUpdatedAt),
	})
	if err != nil {
		if cached {
			uc.cache.patchRoom(roomID, entity.RoomPatch{Status: &previous.Status})
			uc.subs.refreshKind(kindRooms)
		}
		logger.Error("Set room status Error: Failed to mark room %s %s: %v", roomID, status, err)
		if errors.Is(err, errors.CodeNotFound) {
			return errors.NotFound("Chat room", err)
		}
		return err
	}
	logger.Info("Chat room %s marked %s", roomID, status)
	return nil
}

func (uc *ChatUseCase) MuteConversation(ctx context.Context, roomID, userID string, mute bool) error {
	if err := uc.checkOpen(); err != nil {
		return err
	}
	if err := requireArg(roomID, "roomId"); err != nil {
		return err
	}
	if err := requireArg(userID, "userId"); err != nil {
		return err
	}

	var value interface{} = repository.ArrayRemove(userID)
	patch := entity.RoomPatch{RemoveMuted: []string{userID}}
	if mute {
		value = repository.ArrayUnion(userID)
		patch = entity.RoomPatch{AddMuted: []string{userID}}
	}

	err := uc.store.Update(ctx, repository.RoomPath(roomID), []repository.FieldUpdate{
		repository.UpdateField(value, entity.FieldMutedUsers),
	})
	if err != nil {
		logger.Error("MuteConversation Error: Failed to set mute=%v for user %s in room %s: %v", mute, userID, roomID, err)
		if errors.Is(err, errors.CodeNotFound) {
			return errors.NotFound("Chat room", err)
		}
		return err
	}
	uc.cache.patchRoom(roomID, patch)
	uc.subs.refreshKind(kindRooms)
	return nil
}

// IsConversationMuted degrades to false when the room cannot be read.
func (uc *ChatUseCase) IsConversationMuted(ctx context.Context, roomID, userID string) bool {
	if roomID == "" || userID == "" || uc.checkOpen() != nil {
		return false
	}
	doc, err := uc.store.Get(ctx, repository.RoomPath(roomID))
	if err != nil {
		logger.Warn("IsConversationMuted: failed to read room %s: %v", roomID, err)
		return false
	}
	return entity.RoomFromData(doc.ID, doc.Data).IsMutedFor(userID)
}

// GetUnreadCount sums the user's unread counters over their active rooms.
func (uc *ChatUseCase) GetUnreadCount(ctx context.Context, userID string) (int, error) {
	if err := uc.checkOpen(); err != nil {
		return 0, err
	}
	if err := requireArg(userID, "userId"); err != nil {
		return 0, err
	}
	docs, err := uc.store.Query(ctx, repository.NewQuery(repository.CollectionRooms).
		Where(entity.FieldParticipants, repository.OpArrayContains, userID))
	if err != nil {
		logger.Error("GetUnreadCount Error: Failed to query rooms for user %s: %v", userID, err)
		return 0, err
	}

	total := 0
	for _, d := range docs {
		room := entity.RoomFromData(d.ID, d.Data)
		if room.IsActive() {
			total += room.Unread(userID)
		}
	}
	return total, nil
}

// SubscribeToUserChatRooms streams the user's active rooms, most recent
// activity first. A second call for the same user replaces the first.
func (uc *ChatUseCase) SubscribeToUserChatRooms(ctx context.Context, userID string, onRooms RoomsHandler, onError func(error)) (Unsubscribe, error) {
	if err := uc.checkOpen(); err != nil {
		return nil, err
	}
	if err := requireArg(userID, "userId"); err != nil {
		return nil, err
	}
	if onRooms == nil {
		return nil, errors.Validation("rooms handler is required")
	}

	sub := newSubscription(kindRooms, userID)
	sub.render = func() {
		rooms := uc.cache.userRoomList(userID)
		if sub.live() {
			onRooms(rooms)
		}
	}
	sub.onError = onError
	uc.subs.replace(sub)

	q := repository.NewQuery(repository.CollectionRooms).
		Where(entity.FieldParticipants, repository.OpArrayContains, userID).
		OrderBy(entity.FieldLastMessageTime, repository.Desc)

	cancel := uc.store.ListenQuery(ctx, q, func(docs []*repository.Document) {
		if !sub.live() {
			return
		}
		rooms := make([]*entity.Room, 0, len(docs))
		for _, d := range docs {
			rooms = append(rooms, entity.RoomFromData(d.ID, d.Data))
		}
		uc.cache.setUserRooms(userID, rooms)
		sub.refresh()
	}, func(err error) {
		logger.Warn("SubscribeToUserChatRooms: listener for user %s failed, serving cached rooms: %v", userID, err)
		sub.fail(err)
	})
	sub.attach(cancel)
	sub.start()

	return func() { uc.subs.release(sub) }, nil
}

func (uc *ChatUseCase) CachedRoom(roomID string) (*entity.Room, bool) {
	return uc.cache.room(roomID)
}

// CachedUserRooms returns the last known room list for the user.
func (uc *ChatUseCase) CachedUserRooms(userID string) []*entity.Room {
	return uc.cache.userRoomList(userID)
}
