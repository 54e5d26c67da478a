package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/adedejiosvaldo/safetour/backend/internal/models"
)

const userStateTTL = 48 * time.Hour

type RedisDB struct {
	client *redis.Client
}

func NewRedisDB(redisURL string) (*RedisDB, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisDB{client: client}, nil
}

// NewRedisDBFromClient wraps an existing client.
func NewRedisDBFromClient(client *redis.Client) *RedisDB {
	return &RedisDB{client: client}
}

func (r *RedisDB) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisDB) Close() error {
	return r.client.Close()
}

// LimiterStore returns a ulule limiter store sharing this connection.
func (r *RedisDB) LimiterStore(prefix string) (limiter.Store, error) {
	return sredis.NewStoreWithOptions(r.client, limiter.StoreOptions{
		Prefix:   prefix,
		MaxRetry: 3,
	})
}

// User state operations
func userStateKey(userID uuid.UUID) string {
	return fmt.Sprintf("user:state:%s", userID)
}

func (r *RedisDB) SetUserState(ctx context.Context, state *models.UserState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, userStateKey(state.UserID), data, userStateTTL).Err()
}

func (r *RedisDB) GetUserState(ctx context.Context, userID uuid.UUID) (*models.UserState, error) {
	data, err := r.client.Get(ctx, userStateKey(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state models.UserState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Escalation deduplication: only one instance notifies a given rung.
func (r *RedisDB) ClaimEscalation(ctx context.Context, eventID uuid.UUID, level int, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("sos:escalation:%s:%d", eventID, level)
	return r.client.SetNX(ctx, key, "1", ttl).Result()
}
