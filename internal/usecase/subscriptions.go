package usecase

import (
	"sync"
	"sync/atomic"

	"matchchat/internal/observability"
)

// Unsubscribe detaches a live subscription. It is safe to call more than once.
type Unsubscribe func()

const (
	kindMessages = "messages"
	kindTyping   = "typing"
	kindRooms    = "rooms"
)

// subscription owns one store listener and a delivery goroutine. Refreshes
// coalesce: the goroutine renders the latest cached view, so handlers never
// run under a cache lock and may call back into the engine.
type subscription struct {
	kind    string
	key     string
	render  func()
	onError func(error)
	release func()

	signal chan struct{}
	done   chan struct{}
	active atomic.Bool
	once   sync.Once

	cancelMu sync.Mutex
	cancel   func()

	errMu sync.Mutex
	err   error
}

func newSubscription(kind, key string) *subscription {
	s := &subscription{
		kind:   kind,
		key:    kind + ":" + key,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	s.active.Store(true)
	return s
}

func (s *subscription) live() bool {
	return s.active.Load()
}

// attach records the store listener; if the subscription already stopped it is cancelled at once.
func (s *subscription) attach(cancel func()) {
	s.cancelMu.Lock()
	if !s.active.Load() {
		s.cancelMu.Unlock()
		cancel()
		return
	}
	s.cancel = cancel
	s.cancelMu.Unlock()
}

func (s *subscription) start() {
	observability.IncSubscriptions(s.kind)
	go s.loop()
}

func (s *subscription) refresh() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscription) fail(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
	s.refresh()
}

func (s *subscription) takeErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	err := s.err
	s.err = nil
	return err
}

func (s *subscription) loop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}
		if !s.live() {
			return
		}

		err := s.takeErr()
		s.render()
		if err == nil {
			continue
		}

		observability.IncSubscriptionError(s.kind)
		if s.live() && s.onError != nil {
			s.onError(err)
		}
		if s.release != nil {
			s.release()
		} else {
			s.stop()
		}
		return
	}
}

func (s *subscription) stop() {
	s.once.Do(func() {
		s.active.Store(false)
		close(s.done)

		s.cancelMu.Lock()
		cancel := s.cancel
		s.cancelMu.Unlock()
		if cancel != nil {
			cancel()
		}
		observability.DecSubscriptions(s.kind)
	})
}

// subscriptionRegistry enforces one live subscription per key: a new one replaces the old.
type subscriptionRegistry struct {
	mu    sync.Mutex
	byKey map[string]*subscription
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{byKey: make(map[string]*subscription)}
}

// replace registers sub and tears down the previous holder of its key before returning.
func (r *subscriptionRegistry) replace(sub *subscription) {
	r.mu.Lock()
	old := r.byKey[sub.key]
	r.byKey[sub.key] = sub
	r.mu.Unlock()

	sub.release = func() { r.release(sub) }
	if old != nil {
		old.stop()
	}
}

func (r *subscriptionRegistry) release(sub *subscription) {
	r.mu.Lock()
	if r.byKey[sub.key] == sub {
		delete(r.byKey, sub.key)
	}
	r.mu.Unlock()
	sub.stop()
}

func (r *subscriptionRegistry) get(kind, key string) *subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byKey[kind+":"+key]
}

func (r *subscriptionRegistry) refresh(kind, key string) {
	if sub := r.get(kind, key); sub != nil {
		sub.refresh()
	}
}

func (r *subscriptionRegistry) refreshKind(kind string) {
	r.mu.Lock()
	subs := make([]*subscription, 0, len(r.byKey))
	for _, s := range r.byKey {
		if s.kind == kind {
			subs = append(subs, s)
		}
	}
	r.mu.Unlock()
	for _, s := range subs {
		s.refresh()
	}
}

func (r *subscriptionRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey)
}

func (r *subscriptionRegistry) stopAll() {
	r.mu.Lock()
	subs := r.byKey
	r.byKey = make(map[string]*subscription)
	r.mu.Unlock()
	for _, s := range subs {
		s.stop()
	}
}
