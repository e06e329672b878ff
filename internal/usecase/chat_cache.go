package usecase

import (
	"sort"
	"sync"
	"time"

	"matchchat/internal/domain/entity"
)

type roomMessages struct {
	live       map[string]*entity.Message
	history    map[string]*entity.Message
	optimistic map[string]*entity.Message
}

func newRoomMessages() *roomMessages {
	return &roomMessages{
		live:       make(map[string]*entity.Message),
		history:    make(map[string]*entity.Message),
		optimistic: make(map[string]*entity.Message),
	}
}

// localCache holds the latest known rooms, messages and typing maps. Reads
// return copies. A room's message view merges three layers by id, with the
// live page winning over loaded history and history over optimistic sends.
type localCache struct {
	mu        sync.RWMutex
	rooms     map[string]*entity.Room
	userRooms map[string][]string
	messages  map[string]*roomMessages
	typing    map[string]map[string]bool
}

func newLocalCache() *localCache {
	return &localCache{
		rooms:     make(map[string]*entity.Room),
		userRooms: make(map[string][]string),
		messages:  make(map[string]*roomMessages),
		typing:    make(map[string]map[string]bool),
	}
}

func (c *localCache) putRoom(room *entity.Room) {
	if room == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[room.ID] = room.Clone()
	c.typing[room.ID] = copyTyping(room.Typing)
}

func (c *localCache) room(roomID string) (*entity.Room, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	room, ok := c.rooms[roomID]
	if !ok {
		return nil, false
	}
	return room.Clone(), true
}

// patchRoom applies p to the cached room, if any.
func (c *localCache) patchRoom(roomID string, p entity.RoomPatch) (*entity.Room, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room, ok := c.rooms[roomID]
	if !ok {
		return nil, false
	}
	patched := p.Apply(room)
	c.rooms[roomID] = patched
	if len(p.Typing) > 0 {
		c.typing[roomID] = copyTyping(patched.Typing)
	}
	return patched.Clone(), true
}

func (c *localCache) setUserRooms(userID string, rooms []*entity.Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(rooms))
	for _, r := range rooms {
		c.rooms[r.ID] = r.Clone()
		c.typing[r.ID] = copyTyping(r.Typing)
		ids = append(ids, r.ID)
	}
	c.userRooms[userID] = ids
}

// userRoomList returns the user's active rooms, newest activity first, reflecting local patches.
func (c *localCache) userRoomList(userID string) []*entity.Room {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*entity.Room
	for _, id := range c.userRooms[userID] {
		room, ok := c.rooms[id]
		if !ok || !room.IsActive() || !room.HasParticipant(userID) {
			continue
		}
		out = append(out, room.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return lastActivity(out[i]).After(lastActivity(out[j]))
	})
	return out
}

func (c *localCache) roomMessages(roomID string) *roomMessages {
	rm, ok := c.messages[roomID]
	if !ok {
		rm = newRoomMessages()
		c.messages[roomID] = rm
	}
	return rm
}

// setLivePage replaces the live page. Entries that fall off the page move to
// history so the view never loses messages the UI has already shown.
// Confirmed optimistic sends are dropped: the snapshot is authoritative for
// them, and only "sending" and "error" entries stay local.
func (c *localCache) setLivePage(roomID string, msgs []*entity.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rm := c.roomMessages(roomID)

	next := make(map[string]*entity.Message, len(msgs))
	for _, m := range msgs {
		next[m.ID] = m.Clone()
		delete(rm.optimistic, m.ID)
	}
	for id, m := range rm.optimistic {
		if m.Status != entity.MessageStatusSending && m.Status != entity.MessageStatusError {
			delete(rm.optimistic, id)
		}
	}
	for id, m := range rm.live {
		if _, still := next[id]; !still {
			rm.history[id] = m
		}
	}
	for id := range next {
		delete(rm.history, id)
	}
	rm.live = next
}

// mergeHistory unions older pages into the room's history.
func (c *localCache) mergeHistory(roomID string, msgs []*entity.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rm := c.roomMessages(roomID)
	for _, m := range msgs {
		if _, inLive := rm.live[m.ID]; inLive {
			continue
		}
		rm.history[m.ID] = m.Clone()
		delete(rm.optimistic, m.ID)
	}
}

func (c *localCache) putOptimistic(roomID string, msg *entity.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomMessages(roomID).optimistic[msg.ID] = msg.Clone()
}

func (c *localCache) optimistic(roomID, messageID string) (*entity.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rm, ok := c.messages[roomID]
	if !ok {
		return nil, false
	}
	m, ok := rm.optimistic[messageID]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// setOptimisticStatus moves a pending message forward; it refuses non-monotonic moves.
func (c *localCache) setOptimisticStatus(roomID, messageID string, status entity.MessageStatus) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rm, ok := c.messages[roomID]
	if !ok {
		return false
	}
	m, ok := rm.optimistic[messageID]
	if !ok || !m.Status.CanTransition(status) {
		return false
	}
	m.Status = status
	return true
}

func (c *localCache) updateOptimistic(roomID, messageID string, fn func(m *entity.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rm, ok := c.messages[roomID]; ok {
		if m, ok := rm.optimistic[messageID]; ok {
			fn(m)
		}
	}
}

func (c *localCache) removeOptimistic(roomID, messageID string) (*entity.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rm, ok := c.messages[roomID]
	if !ok {
		return nil, false
	}
	m, ok := rm.optimistic[messageID]
	if ok {
		delete(rm.optimistic, messageID)
	}
	return m, ok
}

// advanceStatus applies a confirmed status change to cached copies.
func (c *localCache) advanceStatus(roomID string, ids []string, status entity.MessageStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rm, ok := c.messages[roomID]
	if !ok {
		return
	}
	for _, id := range ids {
		for _, layer := range []map[string]*entity.Message{rm.live, rm.history, rm.optimistic} {
			if m, ok := layer[id]; ok && m.Status.CanTransition(status) {
				updated := m.Clone()
				updated.Status = status
				layer[id] = updated
			}
		}
	}
}

// messageView is the merged, newest-first message list for a room.
func (c *localCache) messageView(roomID string) []*entity.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rm, ok := c.messages[roomID]
	if !ok {
		return []*entity.Message{}
	}

	merged := make(map[string]*entity.Message, len(rm.live)+len(rm.history)+len(rm.optimistic))
	for _, layer := range []map[string]*entity.Message{rm.optimistic, rm.history, rm.live} {
		for id, m := range layer {
			merged[id] = m
		}
	}

	out := make([]*entity.Message, 0, len(merged))
	for _, m := range merged {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return entity.NewerFirst(out[i], out[j])
	})
	return out
}

func (c *localCache) hasMessages(roomID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rm, ok := c.messages[roomID]
	return ok && len(rm.live)+len(rm.history)+len(rm.optimistic) > 0
}

func (c *localCache) setTyping(roomID string, typing map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.typing[roomID] = copyTyping(typing)
	if room, ok := c.rooms[roomID]; ok {
		room.Typing = copyTyping(typing)
	}
}

func (c *localCache) setTypingEntry(roomID, userID string, typing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.typing[roomID]
	if !ok {
		m = make(map[string]bool)
		c.typing[roomID] = m
	}
	m[userID] = typing
	if room, ok := c.rooms[roomID]; ok {
		if room.Typing == nil {
			room.Typing = make(map[string]bool)
		}
		room.Typing[userID] = typing
	}
}

func (c *localCache) typingView(roomID string) map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyTyping(c.typing[roomID])
}

func (c *localCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms = make(map[string]*entity.Room)
	c.userRooms = make(map[string][]string)
	c.messages = make(map[string]*roomMessages)
	c.typing = make(map[string]map[string]bool)
}

func copyTyping(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func lastActivity(r *entity.Room) time.Time {
	if r.LastMessageTime != nil {
		return *r.LastMessageTime
	}
	return r.UpdatedAt
}
