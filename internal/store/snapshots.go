package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/boardcam/internal/domain"
)

const (
	DefaultSnapshotTTL = 24 * time.Hour

	snapshotPrefix = "boardcam:session:"
	latestKey      = "boardcam:session:latest"
)

var ErrSnapshotNotFound = errors.New("session snapshot not found")

// OpenRedis parses a redis:// URL and pings the server.
func OpenRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("redis url required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// Snapshots stores the in-progress game so an interrupted session can be
// resumed. The most recent session is also reachable through a pointer key.
type Snapshots struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSnapshots(rdb *redis.Client, ttl time.Duration) *Snapshots {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &Snapshots{rdb: rdb, ttl: ttl}
}

func (s *Snapshots) Save(ctx context.Context, live *domain.LiveSession) error {
	if live == nil || strings.TrimSpace(live.SessionUUID) == "" {
		return fmt.Errorf("snapshot needs a session uuid")
	}
	live.UpdatedAt = time.Now()
	raw, err := json.Marshal(live)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, snapshotPrefix+live.SessionUUID, raw, s.ttl)
	pipe.Set(ctx, latestKey, live.SessionUUID, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *Snapshots) Load(ctx context.Context, sessionUUID string) (*domain.LiveSession, error) {
	raw, err := s.rdb.Get(ctx, snapshotPrefix+sessionUUID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	var live domain.LiveSession
	if err := json.Unmarshal(raw, &live); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &live, nil
}

// Latest loads the most recently saved session.
func (s *Snapshots) Latest(ctx context.Context) (*domain.LiveSession, error) {
	id, err := s.rdb.Get(ctx, latestKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load latest snapshot id: %w", err)
	}
	return s.Load(ctx, id)
}

// Delete removes a session, and the latest pointer when it names it.
func (s *Snapshots) Delete(ctx context.Context, sessionUUID string) error {
	if err := s.rdb.Del(ctx, snapshotPrefix+sessionUUID).Err(); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	latest, err := s.rdb.Get(ctx, latestKey).Result()
	if err == nil && latest == sessionUUID {
		if err := s.rdb.Del(ctx, latestKey).Err(); err != nil {
			return fmt.Errorf("delete latest pointer: %w", err)
		}
	}
	return nil
}
