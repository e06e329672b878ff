package usecase

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"

	"matchchat/internal/domain/entity"
	"matchchat/internal/domain/repository"
	"matchchat/internal/observability"
	"matchchat/pkg/logger"
)

// UpdateUserStatus merges the presence fields into the user's document and
// leaves every other field alone. An empty userID is ignored.
func (uc *ChatUseCase) UpdateUserStatus(ctx context.Context, userID string, activeRoomID *string, isOnline bool) error {
	if userID == "" {
		return nil
	}
	if err := uc.checkOpen(); err != nil {
		return err
	}

	var room interface{}
	if activeRoomID != nil && *activeRoomID != "" {
		room = *activeRoomID
	}
	data := map[string]interface{}{
		entity.FieldActiveChatRoom: room,
		entity.FieldLastActive:     repository.ServerTimestamp,
		entity.FieldIsOnline:       isOnline,
	}
	if err := uc.store.Set(ctx, repository.UserPath(userID), data, true); err != nil {
		logger.Error("UpdateUserStatus Error: Failed to write presence for user %s: %v", userID, err)
		return err
	}

	if uc.mirror != nil {
		p := entity.Presence{
			UserID:         userID,
			ActiveChatRoom: activeRoomID,
			LastActive:     uc.now(),
			IsOnline:       isOnline,
		}
		if err := uc.mirror.Publish(ctx, p); err != nil {
			logger.Warn("UpdateUserStatus: presence mirror publish failed for user %s: %v", userID, err)
		}
	}
	return nil
}

// presenceTracker keeps one user marked online in one room until halted.
type presenceTracker struct {
	uc     *ChatUseCase
	id     uint64
	userID string
	roomID string

	foreground  atomic.Bool
	ticker      *clock.Ticker
	stopCh      chan struct{}
	haltOnce    sync.Once
	cleanupOnce sync.Once

	mu          sync.Mutex
	halted      bool
	unsubscribe func()
}

// SetupPresenceTracking marks the user online in roomID right away, repeats
// that on every heartbeat and follows app lifecycle changes. The returned
// cleanup stops tracking and leaves the user online with no active room.
func (uc *ChatUseCase) SetupPresenceTracking(userID, roomID string) (cleanup func()) {
	if userID == "" || uc.checkOpen() != nil {
		return func() {}
	}

	tr := &presenceTracker{
		uc:     uc,
		userID: userID,
		roomID: roomID,
		stopCh: make(chan struct{}),
	}
	tr.foreground.Store(true)
	tr.ticker = uc.clock.Ticker(uc.opts.HeartbeatInterval)

	uc.mu.Lock()
	uc.trackerID++
	tr.id = uc.trackerID
	uc.trackers[tr.id] = tr
	uc.mu.Unlock()

	tr.write(true, roomID)
	if uc.lifecycle != nil {
		unsubscribe := uc.lifecycle.Subscribe(tr.onAppState)
		tr.setUnsubscribe(unsubscribe)
	}
	go tr.loop()

	return tr.cleanup
}

func (tr *presenceTracker) loop() {
	for {
		select {
		case <-tr.stopCh:
			return
		case <-tr.ticker.C:
			if tr.foreground.Load() {
				tr.write(true, tr.roomID)
			}
		}
	}
}

func (tr *presenceTracker) onAppState(state AppState) {
	select {
	case <-tr.stopCh:
		return
	default:
	}

	if state == AppStateActive {
		tr.foreground.Store(true)
		tr.write(true, tr.roomID)
		return
	}
	tr.foreground.Store(false)
	tr.write(false, "")
}

// write is best-effort.
func (tr *presenceTracker) write(online bool, roomID string) {
	var room *string
	if roomID != "" {
		room = &roomID
	}
	err := tr.uc.UpdateUserStatus(tr.uc.baseContext(), tr.userID, room, online)
	observability.IncBestEffortWrite("presence", err)
	if err != nil {
		logger.Warn("Presence heartbeat failed for user %s: %v", tr.userID, err)
	}
}

func (tr *presenceTracker) setUnsubscribe(fn func()) {
	tr.mu.Lock()
	if tr.halted {
		tr.mu.Unlock()
		fn()
		return
	}
	tr.unsubscribe = fn
	tr.mu.Unlock()
}

// halt stops the heartbeat and detaches the lifecycle listener without writing.
func (tr *presenceTracker) halt() {
	tr.haltOnce.Do(func() {
		close(tr.stopCh)
		tr.ticker.Stop()

		tr.mu.Lock()
		tr.halted = true
		unsubscribe := tr.unsubscribe
		tr.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
	})
}

func (tr *presenceTracker) cleanup() {
	tr.cleanupOnce.Do(func() {
		tr.uc.mu.Lock()
		_, tracked := tr.uc.trackers[tr.id]
		delete(tr.uc.trackers, tr.id)
		tr.uc.mu.Unlock()

		tr.halt()
		if tracked {
			tr.write(true, "")
		}
	})
}
