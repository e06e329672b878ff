package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"matchchat/internal/domain/entity"
)

// Mirror is the presence read side used by the gateway.
type Mirror interface {
	Publish(ctx context.Context, p entity.Presence) error
	OnlineInRoom(ctx context.Context, roomID string) ([]string, error)
}

var (
	_ Mirror = (*RedisMirror)(nil)
	_ Mirror = (*MemoryMirror)(nil)
)

// MemoryMirror is the single-instance fallback when no Redis URL is configured.
type MemoryMirror struct {
	clock clock.Clock
	ttl   time.Duration

	mu      sync.Mutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	record
	expires time.Time
}

func NewMemoryMirror(clk clock.Clock, ttl time.Duration) *MemoryMirror {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryMirror{clock: clk, ttl: ttl, records: make(map[string]memoryRecord)}
}

func (m *MemoryMirror) Publish(_ context.Context, p entity.Presence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[p.UserID] = memoryRecord{record: toRecord(p), expires: m.clock.Now().Add(m.ttl)}
	return nil
}

func (m *MemoryMirror) OnlineInRoom(_ context.Context, roomID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	online := []string{}
	for id, rec := range m.records {
		if now.After(rec.expires) {
			delete(m.records, id)
			continue
		}
		if rec.Online && rec.RoomID == roomID {
			online = append(online, id)
		}
	}
	sort.Strings(online)
	return online, nil
}
