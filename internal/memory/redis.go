package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTier keeps each owner's recent window in a Redis list under a
// namespaced key. Entries are JSON-encoded messages; the list is trimmed to
// the window on every append and the key carries a TTL so idle conversations
// age out of the cache on their own.
type RedisTier struct {
	client     *redis.Client
	maxHistory int
	ttl        time.Duration
}

// NewRedisTier builds the fast tier over an existing client.
func NewRedisTier(client *redis.Client, maxHistory int, ttl time.Duration) *RedisTier {
	if maxHistory <= 0 {
		maxHistory = 40
	}
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &RedisTier{client: client, maxHistory: maxHistory, ttl: ttl}
}

// Ping verifies the connection. Called once at startup; a failure downgrades
// the process to durable-only rather than aborting it.
func (r *RedisTier) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (r *RedisTier) key(ownerID string) string {
	return "inkwell:history:" + ownerID
}

func (r *RedisTier) Append(ctx context.Context, ownerID string, msg Message) error {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	key := r.key(ownerID)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, encoded)
	pipe.LTrim(ctx, key, int64(-r.maxHistory), -1)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append: %w", err)
	}
	return nil
}

func (r *RedisTier) Recent(ctx context.Context, ownerID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > r.maxHistory {
		limit = r.maxHistory
	}
	raw, err := r.client.LRange(ctx, r.key(ownerID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis range: %w", err)
	}
	out := make([]Message, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			// A corrupt element poisons the cached window; treat the whole
			// read as a miss so the durable tier answers instead.
			return nil, fmt.Errorf("decode cached message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// Replace swaps the owner's cached window in a single transaction, so readers
// never observe a half-written refill.
func (r *RedisTier) Replace(ctx context.Context, ownerID string, msgs []Message) error {
	key := r.key(ownerID)
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	for _, msg := range msgs {
		encoded, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		pipe.RPush(ctx, key, encoded)
	}
	pipe.LTrim(ctx, key, int64(-r.maxHistory), -1)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis replace: %w", err)
	}
	return nil
}

func (r *RedisTier) Clear(ctx context.Context, ownerID string) error {
	if err := r.client.Del(ctx, r.key(ownerID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
