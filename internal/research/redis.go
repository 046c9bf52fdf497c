package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRepository persists sessions in Redis with native key TTLs, so
// sessions survive process restarts and are shared across instances. The
// TTL doubles as eviction: Sweep is a no-op because Redis expires keys
// itself.
type RedisRepository struct {
	client       *redis.Client
	idleTTL      time.Duration
	completedTTL time.Duration
}

func NewRedisRepository(addr, password string, db int, idleTTL, completedTTL time.Duration) *RedisRepository {
	if idleTTL <= 0 {
		idleTTL = IdleTTL
	}
	if completedTTL <= 0 {
		completedTTL = CompletedTTL
	}
	return &RedisRepository{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		idleTTL:      idleTTL,
		completedTTL: completedTTL,
	}
}

func sessionKey(id string) string { return fmt.Sprintf("research:%s:session", id) }

func (r *RedisRepository) Get(ctx context.Context, id string) (*Session, error) {
	val, err := r.client.Get(ctx, sessionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

func (r *RedisRepository) Put(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ttl := r.idleTTL
	if s.Phase == PhaseCompleted {
		ttl = r.completedTTL
	}
	return r.client.Set(ctx, sessionKey(s.ID), data, ttl).Err()
}

func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, sessionKey(id)).Err()
}

// Sweep is satisfied by Redis key expiry.
func (r *RedisRepository) Sweep(context.Context, time.Time) (int, error) { return 0, nil }

func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
