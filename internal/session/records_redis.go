package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefixSession   = "marqd:session:"
	keyPrefixLoginCode = "marqd:logincode:"
)

// RedisRecords stores session records and one-time login codes in Redis.
type RedisRecords struct {
	client *redis.Client
}

// NewRedisRecords creates a Redis-backed session record store.
func NewRedisRecords(client *redis.Client) *RedisRecords {
	return &RedisRecords{client: client}
}

func (r *RedisRecords) Save(ctx context.Context, rec Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := r.client.Set(ctx, keyPrefixSession+rec.SID, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *RedisRecords) Get(ctx context.Context, sid string) (Record, bool, error) {
	data, err := r.client.Get(ctx, keyPrefixSession+sid).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("failed to get session: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return rec, true, nil
}

func (r *RedisRecords) Delete(ctx context.Context, sid string) error {
	if err := r.client.Del(ctx, keyPrefixSession+sid).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// TakeCode atomically reads and destroys a one-time login code.
func (r *RedisRecords) TakeCode(ctx context.Context, code string) (string, bool, error) {
	userID, err := r.client.GetDel(ctx, keyPrefixLoginCode+code).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to redeem login code: %w", err)
	}
	return userID, true, nil
}

// PutCode stores a one-time login code for userID. The identity provider
// calls this out of band; it is exposed here so provisioning tooling can
// mint codes against the same store.
func (r *RedisRecords) PutCode(ctx context.Context, code, userID string, ttl time.Duration) error {
	if err := r.client.Set(ctx, keyPrefixLoginCode+code, userID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store login code: %w", err)
	}
	return nil
}
