package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one document's presence entries in Redis, one key per
// user, expiring after the presence timeout.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisClient parses redisURL and checks the connection.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisStore scopes a shared client to documentID.
func NewRedisStore(client *redis.Client, documentID string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTimeout
	}
	return &RedisStore{
		client: client,
		prefix: "presence:" + documentID + ":",
		ttl:    ttl,
	}
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + userID
}

func (s *RedisStore) Put(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal presence entry: %w", err)
	}
	if err := s.client.Set(ctx, s.key(e.UserID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save presence entry: %w", err)
	}
	return nil
}

func (s *RedisStore) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan presence keys: %w", err)
	}
	return keys, nil
}

func (s *RedisStore) List(ctx context.Context) ([]Entry, error) {
	keys, err := s.keys(ctx)
	if err != nil || len(keys) == 0 {
		return nil, err
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load presence entries: %w", err)
	}
	entries := make([]Entry, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Expired between SCAN and MGET.
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("unmarshal presence entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *RedisStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	var stale []string
	for _, e := range entries {
		if e.Time.Before(cutoff) {
			stale = append(stale, s.key(e.UserID))
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	removed, err := s.client.Del(ctx, stale...).Result()
	if err != nil {
		return 0, fmt.Errorf("prune presence entries: %w", err)
	}
	return int(removed), nil
}
