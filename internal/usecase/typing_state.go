package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"matchchat/internal/domain/entity"
	"matchchat/internal/domain/repository"
	"matchchat/internal/observability"
	"matchchat/pkg/errors"
	"matchchat/pkg/logger"
)

type typingPhase int

const (
	typingIdle typingPhase = iota
	// typingPending waits out the debounce window before publishing want.
	typingPending
	// typingActive has published true and holds the expiry timer.
	typingActive
)

func (p typingPhase) String() string {
	switch p {
	case typingPending:
		return "pending"
	case typingActive:
		return "typing"
	default:
		return "idle"
	}
}

type typingEntry struct {
	roomID    string
	userID    string
	phase     typingPhase
	want      bool
	published bool
	seq       uint64
	timer     *clock.Timer
}

// typingTracker runs one small state machine per room and user. Every call
// bumps the entry's sequence number so a timer that fires after being
// superseded does nothing.
type typingTracker struct {
	clock    clock.Clock
	debounce time.Duration
	expiry   time.Duration
	publish  func(roomID, userID string, typing bool)

	mu      sync.Mutex
	entries map[string]*typingEntry
	closed  bool
}

func newTypingTracker(clk clock.Clock, debounce, expiry time.Duration, publish func(roomID, userID string, typing bool)) *typingTracker {
	return &typingTracker{
		clock:    clk,
		debounce: debounce,
		expiry:   expiry,
		publish:  publish,
		entries:  make(map[string]*typingEntry),
	}
}

func typingKey(roomID, userID string) string {
	return roomID + "/" + userID
}

// update records keyboard activity. Rapid toggles collapse into the latest
// value, published once the debounce window passes quietly.
func (t *typingTracker) update(roomID, userID string, isTyping bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	key := typingKey(roomID, userID)
	e, ok := t.entries[key]
	if !ok {
		if !isTyping {
			return
		}
		e = &typingEntry{roomID: roomID, userID: userID}
		t.entries[key] = e
	}

	e.seq++
	if e.timer != nil {
		e.timer.Stop()
	}
	e.phase = typingPending
	e.want = isTyping
	seq := e.seq
	e.timer = t.clock.AfterFunc(t.debounce, func() { t.fire(key, seq) })
}

func (t *typingTracker) fire(key string, seq uint64) {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok || t.closed || e.seq != seq || e.phase != typingPending {
		t.mu.Unlock()
		return
	}

	value := e.want
	if value {
		e.phase = typingActive
		e.published = true
		e.timer = t.clock.AfterFunc(t.expiry, func() { t.expire(key, seq) })
	} else {
		delete(t.entries, key)
		if !e.published {
			t.mu.Unlock()
			return
		}
	}
	roomID, userID := e.roomID, e.userID
	t.mu.Unlock()

	t.publish(roomID, userID, value)
}

func (t *typingTracker) expire(key string, seq uint64) {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok || t.closed || e.seq != seq || e.phase != typingActive {
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	roomID, userID := e.roomID, e.userID
	t.mu.Unlock()

	logger.Debug("Typing expired for user %s in room %s", userID, roomID)
	t.publish(roomID, userID, false)
}

func (t *typingTracker) phase(roomID, userID string) typingPhase {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[typingKey(roomID, userID)]; ok {
		return e.phase
	}
	return typingIdle
}

// close stops every timer and clears flags already published as true.
func (t *typingTracker) close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	var active []*typingEntry
	for _, e := range t.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		if e.published {
			active = append(active, e)
		}
	}
	t.entries = make(map[string]*typingEntry)
	t.mu.Unlock()

	for _, e := range active {
		t.publish(e.roomID, e.userID, false)
	}
}

// UpdateTypingStatus feeds keyboard activity into the debounced typing flag.
func (uc *ChatUseCase) UpdateTypingStatus(roomID, userID string, isTyping bool) error {
	if err := uc.checkOpen(); err != nil {
		return err
	}
	if err := requireArg(roomID, "roomId"); err != nil {
		return err
	}
	if err := requireArg(userID, "userId"); err != nil {
		return err
	}
	uc.typing.update(roomID, userID, isTyping)
	return nil
}

// publishTyping is best-effort: a failed write is logged and counted only.
func (uc *ChatUseCase) publishTyping(roomID, userID string, typing bool) {
	err := uc.store.Update(uc.baseContext(), repository.RoomPath(roomID), []repository.FieldUpdate{
		repository.UpdateField(typing, entity.FieldTyping, userID),
	})
	observability.IncBestEffortWrite("typing", err)
	if err != nil {
		logger.Warn("UpdateTypingStatus: failed to write typing=%v for user %s in room %s: %v", typing, userID, roomID, err)
		return
	}
	uc.cache.setTypingEntry(roomID, userID, typing)
	uc.subs.refresh(kindTyping, roomID)
}

// SubscribeToTypingStatus streams the room's typing map. A second call for
// the same room replaces the first.
func (uc *ChatUseCase) SubscribeToTypingStatus(ctx context.Context, roomID string, onTyping func(typing map[string]bool), onError func(error)) (Unsubscribe, error) {
	if err := uc.checkOpen(); err != nil {
		return nil, err
	}
	if err := requireArg(roomID, "roomId"); err != nil {
		return nil, err
	}
	if onTyping == nil {
		return nil, errors.Validation("typing handler is required")
	}

	sub := newSubscription(kindTyping, roomID)
	sub.render = func() {
		view := uc.cache.typingView(roomID)
		if sub.live() {
			onTyping(view)
		}
	}
	sub.onError = onError
	uc.subs.replace(sub)

	cancel := uc.store.ListenDoc(ctx, repository.RoomPath(roomID), func(doc *repository.Document) {
		if !sub.live() {
			return
		}
		if doc == nil {
			uc.cache.setTyping(roomID, nil)
		} else {
			uc.cache.putRoom(entity.RoomFromData(doc.ID, doc.Data))
		}
		sub.refresh()
	}, func(err error) {
		logger.Warn("SubscribeToTypingStatus: listener for room %s failed: %v", roomID, err)
		sub.fail(err)
	})
	sub.attach(cancel)
	sub.start()

	return func() { uc.subs.release(sub) }, nil
}

func (uc *ChatUseCase) CachedTyping(roomID string) map[string]bool {
	return uc.cache.typingView(roomID)
}
