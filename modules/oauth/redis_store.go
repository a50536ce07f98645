package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisTokenStore keeps token records in Redis so authorizations survive
// process restarts and are shared between instances.
type redisTokenStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisTokenStore returns a Redis-backed TokenStore. prefix namespaces
// the keys, e.g. "exactapi".
func NewRedisTokenStore(rdb *redis.Client, prefix string) TokenStore {
	if prefix == "" {
		prefix = "exactapi"
	}
	return &redisTokenStore{rdb: rdb, prefix: prefix}
}

func (s *redisTokenStore) key(userID string) string {
	return fmt.Sprintf("%s:token:%s", s.prefix, userID)
}

func (s *redisTokenStore) Get(ctx context.Context, userID string) (*TokenRecord, error) {
	raw, err := s.rdb.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("redis get token: %w", err)
	}
	var rec TokenRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode token record: %w", err)
	}
	return &rec, nil
}

func (s *redisTokenStore) Put(ctx context.Context, rec *TokenRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode token record: %w", err)
	}
	// No TTL: an expired access token still carries the refresh token
	// needed to obtain the next one.
	if err := s.rdb.Set(ctx, s.key(rec.UserID), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis put token: %w", err)
	}
	return nil
}

func (s *redisTokenStore) Delete(ctx context.Context, userID string) error {
	n, err := s.rdb.Del(ctx, s.key(userID)).Result()
	if err != nil {
		return fmt.Errorf("redis delete token: %w", err)
	}
	if n == 0 {
		return ErrNoToken
	}
	return nil
}

// redisStateStore keeps auth states in Redis. GETDEL makes consumption
// atomic, so a state can be spent at most once even across instances.
type redisStateStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStateStore returns a Redis-backed StateStore.
func NewRedisStateStore(rdb *redis.Client, prefix string) StateStore {
	if prefix == "" {
		prefix = "exactapi"
	}
	return &redisStateStore{rdb: rdb, prefix: prefix}
}

func (s *redisStateStore) key(state string) string {
	return fmt.Sprintf("%s:state:%s", s.prefix, state)
}

func (s *redisStateStore) Create(ctx context.Context, userID string) (string, error) {
	state, err := newState()
	if err != nil {
		return "", err
	}
	if err := s.rdb.Set(ctx, s.key(state), userID, stateTTL).Err(); err != nil {
		return "", fmt.Errorf("redis put state: %w", err)
	}
	return state, nil
}

func (s *redisStateStore) Consume(ctx context.Context, state string) (string, error) {
	userID, err := s.rdb.GetDel(ctx, s.key(state)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrInvalidState
	}
	if err != nil {
		return "", fmt.Errorf("redis consume state: %w", err)
	}
	return userID, nil
}
