package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// CooldownStore implements ports.CooldownStore using Redis.
// Each chat is a key holding the last invocation in unix nanoseconds,
// expiring after the cooldown window.
type CooldownStore struct {
	client *backend.Client
	prefix string
}

// NewCooldownStore creates a cooldown store with keys under prefix.
func NewCooldownStore(client *backend.Client, prefix string) *CooldownStore {
	if prefix == "" {
		prefix = "chatflow:"
	}
	return &CooldownStore{client: client, prefix: prefix + "cooldown:"}
}

func (s *CooldownStore) Get(ctx context.Context, chatID string) (time.Time, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+chatID).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to read cooldown: %w", err)
	}
	nanos, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt cooldown entry for %s: %w", chatID, err)
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

func (s *CooldownStore) Set(ctx context.Context, chatID string, at time.Time, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+chatID, at.UnixNano(), ttl).Err(); err != nil {
		return fmt.Errorf("failed to record cooldown: %w", err)
	}
	return nil
}

// Evict scans the cooldown keys and deletes those recorded before cutoff.
// Keys with a TTL expire on their own; this only matters for stores written without one.
func (s *CooldownStore) Evict(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := s.client.Get(ctx, key).Result()
		if err != nil {
			if errors.Is(err, backend.Nil) {
				continue
			}
			return removed, fmt.Errorf("failed to read cooldown: %w", err)
		}
		nanos, err := strconv.ParseInt(val, 10, 64)
		if err == nil && !time.Unix(0, nanos).Before(cutoff) {
			continue
		}
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return removed, fmt.Errorf("failed to evict cooldown: %w", err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan cooldowns: %w", err)
	}
	return removed, nil
}
