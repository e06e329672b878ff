package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"matchchat/internal/domain/entity"
	"matchchat/pkg/logger"
)

const (
	keyPrefix      = "matchchat:presence"
	UpdatesChannel = keyPrefix + ":updates"
)

func userKey(userID string) string { return fmt.Sprintf("%s:user:%s", keyPrefix, userID) }
func roomKey(roomID string) string { return fmt.Sprintf("%s:room:%s", keyPrefix, roomID) }

type record struct {
	UserID     string `json:"user_id"`
	RoomID     string `json:"room_id,omitempty"`
	Online     bool   `json:"online"`
	LastActive int64  `json:"last_active"`
}

func toRecord(p entity.Presence) record {
	return record{
		UserID:     p.UserID,
		RoomID:     p.RoomID(),
		Online:     p.IsOnline,
		LastActive: p.LastActive.Unix(),
	}
}

// RedisMirror copies presence writes into Redis so every gateway instance
// can answer "who is in this room" without reading user documents. Entries
// expire after ttl, so a user whose heartbeats stop drops out on their own.
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisMirror(ctx context.Context, url string, ttl time.Duration) (*RedisMirror, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("Presence mirror connected to redis at %s", opts.Addr)
	return &RedisMirror{client: client, ttl: ttl}, nil
}

func (m *RedisMirror) Close() error {
	return m.client.Close()
}

func (m *RedisMirror) TestConnection(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

func (m *RedisMirror) Publish(ctx context.Context, p entity.Presence) error {
	rec := toRecord(p)
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	previous := ""
	if raw, err := m.client.Get(ctx, userKey(p.UserID)).Bytes(); err == nil {
		var prev record
		if json.Unmarshal(raw, &prev) == nil {
			previous = prev.RoomID
		}
	} else if err != redis.Nil {
		return err
	}

	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, userKey(p.UserID), payload, m.ttl)
		if previous != "" && (previous != rec.RoomID || !rec.Online) {
			pipe.SRem(ctx, roomKey(previous), p.UserID)
		}
		if rec.Online && rec.RoomID != "" {
			pipe.SAdd(ctx, roomKey(rec.RoomID), p.UserID)
			pipe.Expire(ctx, roomKey(rec.RoomID), m.ttl)
		}
		pipe.Publish(ctx, UpdatesChannel, payload)
		return nil
	})
	return err
}

// OnlineInRoom lists users whose live presence record still points at roomID.
func (m *RedisMirror) OnlineInRoom(ctx context.Context, roomID string) ([]string, error) {
	members, err := m.client.SMembers(ctx, roomKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return []string{}, nil
	}

	keys := make([]string, len(members))
	for i, u := range members {
		keys[i] = userKey(u)
	}
	values, err := m.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	online := make([]string, 0, len(members))
	var stale []interface{}
	for i, v := range values {
		s, ok := v.(string)
		var rec record
		if ok && json.Unmarshal([]byte(s), &rec) == nil && rec.Online && rec.RoomID == roomID {
			online = append(online, members[i])
			continue
		}
		stale = append(stale, members[i])
	}
	if len(stale) > 0 {
		if err := m.client.SRem(ctx, roomKey(roomID), stale...).Err(); err != nil {
			logger.Warn("Presence mirror: failed to prune %d stale members of room %s: %v", len(stale), roomID, err)
		}
	}
	return online, nil
}
