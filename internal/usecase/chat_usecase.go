package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"matchchat/internal/domain/repository"
	"matchchat/pkg/errors"
	"matchchat/pkg/logger"
)

const (
	DefaultPageSize          = 30
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultTypingDebounce    = 300 * time.Millisecond
	DefaultTypingExpiry      = 5 * time.Second

	// Firestore caps a transaction at 500 writes.
	maxBatchWrites = 450
)

type Options struct {
	PageSize          int
	HeartbeatInterval time.Duration
	TypingDebounce    time.Duration
	TypingExpiry      time.Duration

	Clock  clock.Clock
	Mirror PresenceMirror
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.TypingDebounce <= 0 {
		o.TypingDebounce = DefaultTypingDebounce
	}
	if o.TypingExpiry <= 0 {
		o.TypingExpiry = DefaultTypingExpiry
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return o
}

// ChatUseCase is the conversation sync engine: it owns the local cache of
// rooms, messages and typing state, issues durable writes through the
// document store and reconciles the snapshots pushed back by live listeners.
// Construct one per client session, call Init before use and Dispose when done.
type ChatUseCase struct {
	store     repository.DocumentStore
	lifecycle AppLifecycle
	mirror    PresenceMirror
	clock     clock.Clock
	opts      Options

	cache    *localCache
	profiles *profileCache
	typing   *typingTracker
	subs     *subscriptionRegistry

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	disposed  bool
	trackers  map[uint64]*presenceTracker
	trackerID uint64
}

func NewChatUseCase(
	store repository.DocumentStore,
	users repository.UserRepository,
	lifecycle AppLifecycle,
	opts Options,
) *ChatUseCase {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	uc := &ChatUseCase{
		store:     store,
		lifecycle: lifecycle,
		mirror:    opts.Mirror,
		clock:     opts.Clock,
		opts:      opts,
		cache:     newLocalCache(),
		profiles:  newProfileCache(users),
		subs:      newSubscriptionRegistry(),
		ctx:       ctx,
		cancel:    cancel,
		trackers:  make(map[uint64]*presenceTracker),
	}
	uc.typing = newTypingTracker(opts.Clock, opts.TypingDebounce, opts.TypingExpiry, uc.publishTyping)
	return uc
}

// Init binds the context that background work (heartbeats, typing writes) runs under.
func (uc *ChatUseCase) Init(ctx context.Context) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.disposed {
		return errors.Internal("Chat engine already disposed", nil)
	}
	uc.cancel()
	uc.ctx, uc.cancel = context.WithCancel(ctx)
	return nil
}

// Dispose tears down every listener, typing timer and presence tracker.
// In-flight writes complete or fail on their own.
func (uc *ChatUseCase) Dispose() {
	uc.mu.Lock()
	if uc.disposed {
		uc.mu.Unlock()
		return
	}
	uc.disposed = true
	trackers := uc.trackers
	uc.trackers = make(map[uint64]*presenceTracker)
	uc.mu.Unlock()

	uc.subs.stopAll()
	uc.typing.close()
	for _, tr := range trackers {
		tr.halt()
	}
	uc.cancel()
	logger.Debug("Chat engine disposed")
}

func (uc *ChatUseCase) baseContext() context.Context {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.ctx
}

func (uc *ChatUseCase) checkOpen() error {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.disposed {
		return errors.Internal("Chat engine disposed", nil)
	}
	return nil
}

func (uc *ChatUseCase) now() time.Time {
	return uc.clock.Now().UTC()
}

// ActiveSubscriptions reports how many live listeners the engine holds.
func (uc *ChatUseCase) ActiveSubscriptions() int {
	return uc.subs.count()
}

// newMessageID is time-prefixed with a random suffix so ids from different sessions do not collide.
func newMessageID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	return fmt.Sprintf("%d_%s", now.UnixMilli(), suffix)
}

func requireArg(value, name string) error {
	if strings.TrimSpace(value) == "" {
		return errors.Validation(name + " is required")
	}
	return nil
}
