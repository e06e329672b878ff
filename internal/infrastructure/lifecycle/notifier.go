package lifecycle

import (
	"sync"

	"matchchat/internal/usecase"
	"matchchat/pkg/logger"
)

// Notifier fans app foreground/background transitions out to subscribers.
// A websocket session publishes into it when the client reports app_state.
type Notifier struct {
	mu      sync.RWMutex
	current usecase.AppState
	nextID  uint64
	subs    map[uint64]func(usecase.AppState)
}

func NewNotifier() *Notifier {
	return &Notifier{
		current: usecase.AppStateActive,
		subs:    make(map[uint64]func(usecase.AppState)),
	}
}

var _ usecase.AppLifecycle = (*Notifier)(nil)

func (n *Notifier) Subscribe(fn func(state usecase.AppState)) func() {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.subs[id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

// Publish records state and notifies subscribers. Repeating the current state is a no-op.
func (n *Notifier) Publish(state usecase.AppState) {
	n.mu.Lock()
	if state == n.current {
		n.mu.Unlock()
		return
	}
	n.current = state
	fns := make([]func(usecase.AppState), 0, len(n.subs))
	for _, fn := range n.subs {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	logger.Debug("App state changed to %s, notifying %d listeners", state, len(fns))
	for _, fn := range fns {
		fn(state)
	}
}

func (n *Notifier) Current() usecase.AppState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.current
}
