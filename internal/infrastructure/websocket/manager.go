package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"matchchat/internal/infrastructure/lifecycle"
	"matchchat/internal/infrastructure/ratelimit"
	"matchchat/internal/observability"
	"matchchat/internal/usecase"
	"matchchat/pkg/errors"
	"matchchat/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufSize    = 256
)

// EngineFactory builds the sync engine owned by one connection.
type EngineFactory func(userID string, lc usecase.AppLifecycle) *usecase.ChatUseCase

// Session is one websocket connection with its own engine and app lifecycle.
type Session struct {
	ID     string
	UserID string

	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	engine    *usecase.ChatUseCase
	lifecycle *lifecycle.Notifier

	mu        sync.Mutex
	subs      map[string]usecase.Unsubscribe
	member    map[string]bool
	presence  func()
	closeOnce sync.Once
}

// Manager tracks all active sessions.
type Manager struct {
	newEngine EngineFactory
	limiter   *ratelimit.RateLimiter

	sessions   map[string]*Session
	Register   chan *Session
	Unregister chan *Session
	stopped    chan struct{}
	mutex      sync.RWMutex
}

func NewManager(newEngine EngineFactory, limiter *ratelimit.RateLimiter) *Manager {
	if limiter == nil {
		limiter = ratelimit.NewRateLimiter()
	}
	return &Manager{
		newEngine:  newEngine,
		limiter:    limiter,
		sessions:   make(map[string]*Session),
		Register:   make(chan *Session),
		Unregister: make(chan *Session),
		stopped:    make(chan struct{}),
	}
}

// Start runs the manager's main loop in a goroutine. Cancelling ctx closes every session.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		defer close(m.stopped)
		for {
			select {
			case s := <-m.Register:
				m.mutex.Lock()
				m.sessions[s.ID] = s
				m.mutex.Unlock()
				observability.IncWSActive()
				logger.Info("Session %s registered for user %s", s.ID, s.UserID)

			case s := <-m.Unregister:
				m.mutex.Lock()
				_, ok := m.sessions[s.ID]
				delete(m.sessions, s.ID)
				m.mutex.Unlock()
				if ok {
					observability.DecWSActive()
					logger.Info("Session %s unregistered for user %s", s.ID, s.UserID)
				}

			case <-ctx.Done():
				m.mutex.Lock()
				sessions := m.sessions
				m.sessions = make(map[string]*Session)
				m.mutex.Unlock()
				for _, s := range sessions {
					observability.DecWSActive()
					s.Close()
				}
				return
			}
		}
	}()
}

// Serve binds an upgraded connection to a new session and blocks until it ends.
func (m *Manager) Serve(ctx context.Context, conn *websocket.Conn, userID string) {
	s := m.newSession(conn, userID)
	if err := s.engine.Init(ctx); err != nil {
		logger.Error("Failed to start engine for user %s: %v", userID, err)
		conn.Close()
		return
	}

	select {
	case m.Register <- s:
	case <-m.stopped:
		s.Close()
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writePump(ctx)
	}()
	s.readPump(ctx, m)
	cancel()
	wg.Wait()

	select {
	case m.Unregister <- s:
	case <-m.stopped:
	}
	s.Close()
}

func (m *Manager) newSession(conn *websocket.Conn, userID string) *Session {
	s := &Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		conn:      conn,
		send:      make(chan []byte, sendBufSize),
		done:      make(chan struct{}),
		lifecycle: lifecycle.NewNotifier(),
		subs:      make(map[string]usecase.Unsubscribe),
		member:    make(map[string]bool),
	}
	s.engine = m.newEngine(userID, s.lifecycle)
	return s
}

// SessionCount reports the number of registered sessions.
func (m *Manager) SessionCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// SendToUser pushes an event to every session of a user.
func (m *Manager) SendToUser(userID string, event Event) {
	m.mutex.RLock()
	var targets []*Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			targets = append(targets, s)
		}
	}
	m.mutex.RUnlock()

	for _, s := range targets {
		s.push(event)
	}
}

// Close releases the session's subscriptions, presence and engine. Safe to call repeatedly.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		subs := s.subs
		s.subs = make(map[string]usecase.Unsubscribe)
		presence := s.presence
		s.presence = nil
		s.mu.Unlock()

		for _, unsubscribe := range subs {
			unsubscribe()
		}
		if presence != nil {
			presence()
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			if err := s.engine.UpdateUserStatus(ctx, s.UserID, nil, false); err != nil {
				logger.Warn("Failed to mark user %s offline: %v", s.UserID, err)
			}
			cancel()
		}
		s.engine.Dispose()
		s.conn.Close()
	})
}

// push queues an event for the write pump. Events are dropped when the buffer is full.
func (s *Session) push(event Event) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(event)
	if err != nil {
		logger.Error("Failed to encode %s event for session %s: %v", event.Type, s.ID, err)
		return
	}

	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.send <- data:
		observability.IncWSEvent("out", event.Type)
	case <-s.done:
	default:
		logger.Warn("Session %s send buffer full, dropping %s event", s.ID, event.Type)
	}
}

// requireMember rejects room commands from users outside the room. Participants
// only ever grow, so a positive answer is cached for the session.
func (s *Session) requireMember(ctx context.Context, roomID string) error {
	s.mu.Lock()
	ok := s.member[roomID]
	s.mu.Unlock()
	if ok {
		return nil
	}

	room, err := s.engine.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.HasParticipant(s.UserID) {
		logger.Warn("Session %s: user %s is not a participant of room %s", s.ID, s.UserID, roomID)
		return errors.Forbidden("You are not a participant of this chat", nil)
	}
	s.mu.Lock()
	s.member[roomID] = true
	s.mu.Unlock()
	return nil
}

func (s *Session) track(key string, unsubscribe usecase.Unsubscribe) {
	s.mu.Lock()
	prev := s.subs[key]
	s.subs[key] = unsubscribe
	s.mu.Unlock()
	if prev != nil {
		prev()
	}
}

func (s *Session) untrack(key string) bool {
	s.mu.Lock()
	unsubscribe, ok := s.subs[key]
	delete(s.subs, key)
	s.mu.Unlock()
	if ok {
		unsubscribe()
	}
	return ok
}

// enterRoom replaces the current presence tracker.
func (s *Session) enterRoom(roomID string) {
	cleanup := s.engine.SetupPresenceTracking(s.UserID, roomID)
	s.mu.Lock()
	prev := s.presence
	s.presence = cleanup
	s.mu.Unlock()
	if prev != nil {
		prev()
	}
}

func (s *Session) leaveRoom() bool {
	s.mu.Lock()
	cleanup := s.presence
	s.presence = nil
	s.mu.Unlock()
	if cleanup == nil {
		return false
	}
	cleanup()
	return true
}

func (s *Session) readPump(ctx context.Context, m *Manager) {
	s.conn.SetReadLimit(maxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Error("Session %s set read deadline: %v", s.ID, err)
		return
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Session %s read error: %v", s.ID, err)
			}
			return
		}
		m.HandleClientMessage(ctx, s, raw)
	}
}

func (s *Session) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Warn("Session %s write error: %v", s.ID, err)
				s.conn.Close()
				return
			}
		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.conn.Close()
				return
			}
		}
	}
}
