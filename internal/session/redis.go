package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/sjsunlp/leetcode-assistant/internal/auth"
)

const redisKeyPrefix = "session:"

// KV is the slice of redis the session store needs. Get returns ErrNoSession
// for a missing key.
type KV interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

type redisKV struct {
	rdb *goredis.Client
}

func NewRedisKV(ctx context.Context, addr, password string, db int) (KV, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisKV{rdb: rdb}, nil
}

func (k *redisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return k.rdb.Set(ctx, key, value, ttl).Err()
}

func (k *redisKV) Get(ctx context.Context, key string) (string, error) {
	v, err := k.rdb.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrNoSession
	}
	return v, err
}

func (k *redisKV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := k.rdb.Expire(ctx, key, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoSession
	}
	return nil
}

func (k *redisKV) Del(ctx context.Context, key string) error {
	return k.rdb.Del(ctx, key).Err()
}

// RedisStore records each session under session:<id>. The cookie still
// carries a signed marker naming the session id, so a forged id is rejected
// before redis is consulted.
type RedisStore struct {
	signer *auth.SessionSigner
	kv     KV
	ttl    time.Duration
}

func NewRedisStore(signer *auth.SessionSigner, kv KV, ttl time.Duration) *RedisStore {
	return &RedisStore{signer: signer, kv: kv, ttl: ttl}
}

func (s *RedisStore) Create(ctx context.Context, userID int64) (string, error) {
	sid := uuid.NewString()
	if err := s.kv.Set(ctx, redisKeyPrefix+sid, strconv.FormatInt(userID, 10), s.ttl); err != nil {
		return "", err
	}
	return s.signer.Sign(userID, sid, s.ttl)
}

func (s *RedisStore) Lookup(ctx context.Context, value string) (int64, error) {
	claims, userID, err := s.parse(value)
	if err != nil {
		return 0, err
	}
	stored, err := s.kv.Get(ctx, redisKeyPrefix+claims.ID)
	if err != nil {
		return 0, err
	}
	if stored != strconv.FormatInt(userID, 10) {
		return 0, ErrNoSession
	}
	return userID, nil
}

func (s *RedisStore) Touch(ctx context.Context, value string) (string, error) {
	claims, userID, err := s.parse(value)
	if err != nil {
		return "", err
	}
	if err := s.kv.Expire(ctx, redisKeyPrefix+claims.ID, s.ttl); err != nil {
		return "", err
	}
	return s.signer.Sign(userID, claims.ID, s.ttl)
}

func (s *RedisStore) Delete(ctx context.Context, value string) error {
	claims, _, err := s.parse(value)
	if err != nil {
		return nil
	}
	return s.kv.Del(ctx, redisKeyPrefix+claims.ID)
}

func (s *RedisStore) parse(value string) (*auth.SessionClaims, int64, error) {
	claims, err := s.signer.Parse(value)
	if err != nil || claims.ID == "" {
		return nil, 0, ErrNoSession
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, 0, ErrNoSession
	}
	return claims, userID, nil
}
