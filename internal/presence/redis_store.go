package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"comms-service/internal/models"
)

// RedisStore backs presence with a shared redis instance so multiple
// service replicas see one presence map. Keys expire at the heartbeat
// timeout: a missing key reads as offline, which makes the sweep on this
// adapter a no-op.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(addr string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

func presenceKey(userID int) string {
	return fmt.Sprintf("presence:%d", userID)
}

// Get reads records for the requested users via a pipeline.
func (s *RedisStore) Get(ctx context.Context, userIDs []int) (map[int]models.PresenceRecord, error) {
	if len(userIDs) == 0 {
		return map[int]models.PresenceRecord{}, nil
	}
	pipe := s.client.Pipeline()
	cmds := make(map[int]*redis.MapStringStringCmd, len(userIDs))
	for _, id := range userIDs {
		cmds[id] = pipe.HGetAll(ctx, presenceKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	result := make(map[int]models.PresenceRecord, len(userIDs))
	for id, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		rec := models.PresenceRecord{UserID: id, Status: models.PresenceStatus(fields["status"])}
		if at, perr := time.Parse(time.RFC3339Nano, fields["updated_at"]); perr == nil {
			rec.UpdatedAt = at
		}
		result[id] = rec
	}
	return result, nil
}

// Set stores a record with the heartbeat TTL. Offline deletes the key.
func (s *RedisStore) Set(ctx context.Context, record models.PresenceRecord) error {
	key := presenceKey(record.UserID)
	if record.Status == models.PresenceOffline {
		return s.client.Del(ctx, key).Err()
	}
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key,
		"status", string(record.Status),
		"updated_at", record.UpdatedAt.Format(time.RFC3339Nano))
	pipe.Expire(ctx, key, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Stale is a no-op: key expiry already demotes silent users to offline.
func (s *RedisStore) Stale(ctx context.Context, cutoff time.Time) ([]int, error) {
	return nil, nil
}
