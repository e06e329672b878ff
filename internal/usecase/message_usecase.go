package usecase

import (
	"context"
	"strings"
	"time"

	"matchchat/internal/domain/entity"
	"matchchat/internal/domain/repository"
	"matchchat/internal/observability"
	"matchchat/pkg/errors"
	"matchchat/pkg/logger"
)

type MessageInput struct {
	ID           string
	Text         string
	SenderID     string
	SenderName   string
	SenderAvatar string
	System       bool
	ReplyTo      *entity.ReplyRef
	Attachments  []entity.Attachment
}

type MessagesHandler func(messages []*entity.Message)

type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	pageSize int
}

func WithPageSize(n int) SubscribeOption {
	return func(o *subscribeOptions) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// SendMessage renders the message locally as "sending", then writes it and
// the room summary in one atomic batch. On failure the local copy is left in
// "error" so the caller can offer ResendMessage or DiscardFailedMessage.
func (uc *ChatUseCase) SendMessage(ctx context.Context, roomID string, input MessageInput) (string, error) {
	if err := uc.checkOpen(); err != nil {
		return "", err
	}
	if err := requireArg(roomID, "roomId"); err != nil {
		return "", err
	}
	if input.System {
		if input.SenderID == "" {
			input.SenderID = entity.SystemSenderID
		}
		if input.SenderName == "" {
			input.SenderName = "System"
		}
	}
	if err := requireArg(input.SenderID, "sender"); err != nil {
		return "", err
	}
	if strings.TrimSpace(input.Text) == "" && len(input.Attachments) == 0 {
		return "", errors.Validation("message text or attachment is required")
	}

	now := uc.now()
	id := input.ID
	if id == "" {
		id = newMessageID(now)
	}

	msg := &entity.Message{
		ID:     id,
		RoomID: roomID,
		Text:   input.Text,
		Sender: entity.Sender{
			ID:        input.SenderID,
			Name:      input.SenderName,
			AvatarURL: input.SenderAvatar,
		},
		CreatedAt:   now,
		System:      input.System,
		Status:      entity.MessageStatusSending,
		ReplyTo:     input.ReplyTo,
		Attachments: input.Attachments,
	}

	uc.cache.putOptimistic(roomID, msg)
	uc.subs.refresh(kindMessages, roomID)

	if msg.Sender.Name == "" {
		if profile := uc.profiles.lookup(ctx, msg.Sender.ID); profile != nil {
			msg.Sender.Name = profile.DisplayName()
			if msg.Sender.AvatarURL == "" {
				msg.Sender.AvatarURL = profile.Avatar()
			}
			uc.cache.updateOptimistic(roomID, id, func(m *entity.Message) {
				m.Sender = msg.Sender
			})
		}
	}

	return id, uc.commitMessage(ctx, msg, false)
}

// ResendMessage retries a message left in "error", keeping its id.
func (uc *ChatUseCase) ResendMessage(ctx context.Context, roomID, messageID string) error {
	if err := uc.checkOpen(); err != nil {
		return err
	}
	if err := requireArg(roomID, "roomId"); err != nil {
		return err
	}
	if err := requireArg(messageID, "messageId"); err != nil {
		return err
	}

	msg, ok := uc.cache.optimistic(roomID, messageID)
	if !ok {
		return errors.NotFound("Message", nil)
	}
	if msg.Status != entity.MessageStatusError {
		return errors.Conflict("Only failed messages can be resent")
	}

	uc.cache.setOptimisticStatus(roomID, messageID, entity.MessageStatusSending)
	uc.subs.refresh(kindMessages, roomID)
	msg.Status = entity.MessageStatusSending
	return uc.commitMessage(ctx, msg, true)
}

// DiscardFailedMessage drops a message left in "error" from the local view.
func (uc *ChatUseCase) DiscardFailedMessage(roomID, messageID string) error {
	msg, ok := uc.cache.optimistic(roomID, messageID)
	if !ok {
		return errors.NotFound("Message", nil)
	}
	if msg.Status != entity.MessageStatusError {
		return errors.Conflict("Only failed messages can be discarded")
	}
	uc.cache.removeOptimistic(roomID, messageID)
	uc.subs.refresh(kindMessages, roomID)
	return nil
}

// commitMessage creates the message document; it never overwrites an existing
// one. On a resend, finding our own earlier write means that commit landed.
func (uc *ChatUseCase) commitMessage(ctx context.Context, msg *entity.Message, resend bool) error {
	roomDoc, err := uc.store.Get(ctx, repository.RoomPath(msg.RoomID))
	if err != nil {
		uc.failSend(msg)
		if errors.Is(err, errors.CodeNotFound) {
			logger.Warn("SendMessage Error: Chat room %s not found", msg.RoomID)
			return errors.NotFound("Chat room", err)
		}
		logger.Error("SendMessage Error: Failed to load chat room %s: %v", msg.RoomID, err)
		return err
	}
	room := entity.RoomFromData(roomDoc.ID, roomDoc.Data)

	data := msg.ToData()
	data[entity.FieldStatus] = string(entity.MessageStatusSent)
	data[entity.FieldCreatedAt] = repository.ServerTimestamp

	preview := msg.Preview()
	updates := []repository.FieldUpdate{
		repository.UpdateField(preview, entity.FieldLastMessage),
		repository.UpdateField(repository.ServerTimestamp, entity.FieldLastMessageTime),
		repository.UpdateField(msg.ID, entity.FieldLastMessageID),
		repository.UpdateField(repository.ServerTimestamp, entity.FieldUpdatedAt),
	}
	delta := map[string]int{}
	if !msg.System {
		for _, p := range room.Participants {
			if p == msg.Sender.ID {
				continue
			}
			updates = append(updates, repository.UpdateField(repository.Increment(1), entity.FieldUnreadCount, p))
			delta[p] = 1
		}
	}

	err = uc.store.Batch().
		Create(repository.MessagePath(msg.RoomID, msg.ID), data).
		Update(repository.RoomPath(msg.RoomID), updates).
		Commit(ctx)
	if errors.Is(err, errors.CodeConflict) {
		if resend && uc.alreadyCommitted(ctx, msg) {
			uc.cache.setOptimisticStatus(msg.RoomID, msg.ID, entity.MessageStatusSent)
			observability.IncMessageSent("ok")
			uc.subs.refresh(kindMessages, msg.RoomID)
			return nil
		}
		uc.cache.removeOptimistic(msg.RoomID, msg.ID)
		observability.IncMessageSent("error")
		uc.subs.refresh(kindMessages, msg.RoomID)
		logger.Warn("SendMessage Error: Message id %s is already taken in room %s", msg.ID, msg.RoomID)
		return err
	}
	if err != nil {
		uc.failSend(msg)
		logger.Error("SendMessage Error: Failed to write message %s to room %s: %v", msg.ID, msg.RoomID, err)
		return err
	}

	uc.cache.setOptimisticStatus(msg.RoomID, msg.ID, entity.MessageStatusSent)
	now := uc.now()
	uc.cache.putRoom(room)
	uc.cache.patchRoom(msg.RoomID, entity.RoomPatch{
		LastMessage:     &preview,
		LastMessageTime: &now,
		LastMessageID:   &msg.ID,
		UpdatedAt:       &now,
		UnreadDelta:     delta,
	})
	observability.IncMessageSent("ok")
	uc.subs.refresh(kindMessages, msg.RoomID)
	uc.subs.refreshKind(kindRooms)
	return nil
}

func (uc *ChatUseCase) alreadyCommitted(ctx context.Context, msg *entity.Message) bool {
	doc, err := uc.store.Get(ctx, repository.MessagePath(msg.RoomID, msg.ID))
	if err != nil {
		return false
	}
	existing := entity.MessageFromData(msg.RoomID, doc.ID, doc.Data)
	return existing.Sender.ID == msg.Sender.ID && existing.Text == msg.Text
}

func (uc *ChatUseCase) failSend(msg *entity.Message) {
	uc.cache.setOptimisticStatus(msg.RoomID, msg.ID, entity.MessageStatusError)
	observability.IncMessageSent("error")
	uc.subs.refresh(kindMessages, msg.RoomID)
}

// SubscribeToMessages keeps the newest page of a room live. A second call for
// the same room replaces the first. On a transport error the last cached view
// is delivered again, then onError is called and the subscription ends.
func (uc *ChatUseCase) SubscribeToMessages(ctx context.Context, roomID string, onMessages MessagesHandler, onError func(error), opts ...SubscribeOption) (Unsubscribe, error) {
	if err := uc.checkOpen(); err != nil {
		return nil, err
	}
	if err := requireArg(roomID, "roomId"); err != nil {
		return nil, err
	}
	if onMessages == nil {
		return nil, errors.Validation("message handler is required")
	}

	o := subscribeOptions{pageSize: uc.opts.PageSize}
	for _, opt := range opts {
		opt(&o)
	}

	sub := newSubscription(kindMessages, roomID)
	sub.render = func() {
		view := uc.cache.messageView(roomID)
		if sub.live() {
			onMessages(view)
		}
	}
	sub.onError = onError
	uc.subs.replace(sub)

	q := repository.NewQuery(repository.MessagesPath(roomID)).
		OrderBy(entity.FieldCreatedAt, repository.Desc).
		LimitTo(o.pageSize)

	cancel := uc.store.ListenQuery(ctx, q, func(docs []*repository.Document) {
		if !sub.live() {
			return
		}
		uc.cache.setLivePage(roomID, decodeMessages(roomID, docs))
		sub.refresh()
	}, func(err error) {
		logger.Warn("SubscribeToMessages: listener for room %s failed, serving cached messages: %v", roomID, err)
		sub.fail(err)
	})
	sub.attach(cancel)
	sub.start()

	return func() { uc.subs.release(sub) }, nil
}

// LoadMoreMessages fetches up to pageSize messages strictly older than before
// and merges them into the cached history. A zero before loads the newest page.
func (uc *ChatUseCase) LoadMoreMessages(ctx context.Context, roomID string, before time.Time, pageSize int) ([]*entity.Message, error) {
	if err := uc.checkOpen(); err != nil {
		return nil, err
	}
	if err := requireArg(roomID, "roomId"); err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = uc.opts.PageSize
	}

	q := repository.NewQuery(repository.MessagesPath(roomID))
	if !before.IsZero() {
		q = q.Where(entity.FieldCreatedAt, repository.OpLess, before)
	}
	q = q.OrderBy(entity.FieldCreatedAt, repository.Desc).LimitTo(pageSize)

	docs, err := uc.store.Query(ctx, q)
	if err != nil {
		logger.Error("LoadMoreMessages Error: Failed to query room %s: %v", roomID, err)
		return nil, err
	}

	msgs := decodeMessages(roomID, docs)
	uc.cache.mergeHistory(roomID, msgs)
	uc.subs.refresh(kindMessages, roomID)
	return msgs, nil
}

// MarkMessagesAsDelivered moves messages from other senders from "sent" to
// "delivered" and stamps lastSeen. Unlike MarkMessagesAsRead it does not reset
// the caller's unread counter: a delivered message is still unread.
func (uc *ChatUseCase) MarkMessagesAsDelivered(ctx context.Context, roomID, userID string) error {
	return uc.advanceMessages(ctx, roomID, userID, entity.MessageStatusDelivered,
		[]entity.MessageStatus{entity.MessageStatusSent}, false)
}

// MarkMessagesAsRead moves messages from other senders to "read", resets the
// user's unread counter and stamps lastSeen. It writes nothing when there is
// nothing to mark and the counter is already zero.
func (uc *ChatUseCase) MarkMessagesAsRead(ctx context.Context, roomID, userID string) error {
	return uc.advanceMessages(ctx, roomID, userID, entity.MessageStatusRead,
		[]entity.MessageStatus{entity.MessageStatusSent, entity.MessageStatusDelivered}, true)
}

func (uc *ChatUseCase) advanceMessages(ctx context.Context, roomID, userID string, target entity.MessageStatus, from []entity.MessageStatus, resetUnread bool) error {
	if err := uc.checkOpen(); err != nil {
		return err
	}
	if err := requireArg(roomID, "roomId"); err != nil {
		return err
	}
	if err := requireArg(userID, "userId"); err != nil {
		return err
	}

	roomDoc, err := uc.store.Get(ctx, repository.RoomPath(roomID))
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return errors.NotFound("Chat room", err)
		}
		return err
	}
	room := entity.RoomFromData(roomDoc.ID, roomDoc.Data)
	uc.cache.putRoom(room)

	statuses := make([]interface{}, 0, len(from))
	for _, s := range from {
		statuses = append(statuses, string(s))
	}
	docs, err := uc.store.Query(ctx, repository.NewQuery(repository.MessagesPath(roomID)).
		Where(entity.FieldStatus, repository.OpIn, statuses))
	if err != nil {
		logger.Error("Mark %s Error: Failed to query room %s: %v", target, roomID, err)
		return err
	}

	var ids []string
	for _, m := range decodeMessages(roomID, docs) {
		if m.Sender.ID != userID {
			ids = append(ids, m.ID)
		}
	}

	needsReset := resetUnread && room.Unread(userID) != 0
	if len(ids) == 0 && !needsReset {
		return nil
	}

	roomUpdates := []repository.FieldUpdate{
		repository.UpdateField(repository.ServerTimestamp, entity.FieldLastSeen, userID),
	}
	if resetUnread {
		roomUpdates = append(roomUpdates, repository.UpdateField(int64(0), entity.FieldUnreadCount, userID))
	}

	// The room update rides in the last chunk so the counter resets only once every status has landed.
	for start := 0; ; start += maxBatchWrites {
		end := start + maxBatchWrites
		last := end >= len(ids)
		if last {
			end = len(ids)
		}

		batch := uc.store.Batch()
		for _, id := range ids[start:end] {
			batch.Update(repository.MessagePath(roomID, id), []repository.FieldUpdate{
				repository.UpdateField(string(target), entity.FieldStatus),
			})
		}
		if last {
			batch.Update(repository.RoomPath(roomID), roomUpdates)
		}
		if err := batch.Commit(ctx); err != nil {
			logger.Error("Mark %s Error: Failed to update room %s for user %s: %v", target, roomID, userID, err)
			return err
		}
		uc.cache.advanceStatus(roomID, ids[start:end], target)
		if last {
			break
		}
	}

	now := uc.now()
	patch := entity.RoomPatch{LastSeen: map[string]time.Time{userID: now}}
	if resetUnread {
		patch.UnreadCount = map[string]int{userID: 0}
	}
	uc.cache.patchRoom(roomID, patch)
	uc.subs.refresh(kindMessages, roomID)
	uc.subs.refreshKind(kindRooms)
	return nil
}

// CachedMessages returns the merged local view without touching the network.
func (uc *ChatUseCase) CachedMessages(roomID string) []*entity.Message {
	return uc.cache.messageView(roomID)
}

func decodeMessages(roomID string, docs []*repository.Document) []*entity.Message {
	msgs := make([]*entity.Message, 0, len(docs))
	for _, d := range docs {
		msgs = append(msgs, entity.MessageFromData(roomID, d.ID, d.Data))
	}
	return msgs
}
