package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "untis-to-calendar:access:ics:"
	redisIndexKey  = "untis-to-calendar:access:ids"

	fieldCreatedAt = "createdAt"
	fieldUpdatedAt = "updatedAt"
)

// RedisStore keeps each access as a hash at untis-to-calendar:access:ics:<id>.
type RedisStore struct {
	client *redis.Client
	sealer *Sealer
}

// NewRedisStore connects to redisURL (redis://...) and pings it.
func NewRedisStore(ctx context.Context, redisURL string, sealer *Sealer) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client := redis.NewClient(opt)
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return &RedisStore{client: client, sealer: sealer}, nil
}

func redisKey(id string) string { return redisKeyPrefix + id }

func (s *RedisStore) Get(ctx context.Context, id string) (Access, error) {
	fields, err := s.client.HGetAll(ctx, redisKey(id)).Result()
	if err != nil {
		return Access{}, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		return Access{}, ErrNotFound
	}

	a, err := FromFields(id, fields)
	if err != nil {
		return Access{}, err
	}
	a.CreatedAt = parseStamp(fields[fieldCreatedAt])
	a.UpdatedAt = parseStamp(fields[fieldUpdatedAt])

	return s.sealer.openCredential(a)
}

func (s *RedisStore) Put(ctx context.Context, a Access) error {
	if err := a.Validate(); err != nil {
		return err
	}
	sealed, err := s.sealer.sealCredential(a)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	fields := make(map[string]any)
	for k, v := range ToFields(sealed) {
		fields[k] = v
	}
	fields[fieldUpdatedAt] = now

	key := redisKey(a.ID)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		// Drop fields of a previous credential variant.
		p.HDel(ctx, key, FieldClassID, FieldUsername, FieldPassword, FieldSecret)
		p.HSet(ctx, key, fields)
		p.HSetNX(ctx, key, fieldCreatedAt, now)
		p.SAdd(ctx, redisIndexKey, a.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put access: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, redisKey(id))
		p.SRem(ctx, redisIndexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete access: %w", err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]Access, error) {
	ids, err := s.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	sort.Strings(ids)

	out := make([]Access, 0, len(ids))
	for _, id := range ids {
		a, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("access %q: %w", id, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func parseStamp(v string) time.Time {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
