package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agenthands/driftwatch/internal/core/model"
	"github.com/agenthands/driftwatch/internal/fault"
)

// maxFailureLog bounds the per-fingerprint failure list.
const maxFailureLog = 50

// RedisStore keeps one key per delivered fingerprint and a capped list of
// failed attempts per fingerprint.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, redisURL, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, prefix), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "driftwatch"
	}
	return &RedisStore{
		client: client,
		prefix: strings.TrimSuffix(prefix, ":") + ":",
	}
}

func (s *RedisStore) deliveredKey(fp model.Fingerprint) string {
	return s.prefix + "delivered:" + string(fp)
}

func (s *RedisStore) failureKey(fp model.Fingerprint) string {
	return s.prefix + "failures:" + string(fp)
}

func (s *RedisStore) IsNew(ctx context.Context, fp model.Fingerprint) (bool, error) {
	n, err := s.client.Exists(ctx, s.deliveredKey(fp)).Result()
	if err != nil {
		return false, fault.New(fault.Transient, "store.IsNew", err)
	}
	return n == 0, nil
}

// MarkDelivered uses SETNX so concurrent or repeated marks keep the first
// record.
func (s *RedisStore) MarkDelivered(ctx context.Context, rec model.NotificationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal notification record: %w", err)
	}
	if err := s.client.SetNX(ctx, s.deliveredKey(rec.Fingerprint), data, 0).Err(); err != nil {
		return fault.New(fault.Transient, "store.MarkDelivered", err)
	}
	return nil
}

func (s *RedisStore) RecordFailure(ctx context.Context, rec model.NotificationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal notification record: %w", err)
	}
	key := s.failureKey(rec.Fingerprint)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -maxFailureLog, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fault.New(fault.Transient, "store.RecordFailure", err)
	}
	return nil
}

// Delivered loads the stored record for fp.
func (s *RedisStore) Delivered(ctx context.Context, fp model.Fingerprint) (model.NotificationRecord, bool, error) {
	data, err := s.client.Get(ctx, s.deliveredKey(fp)).Bytes()
	if err == redis.Nil {
		return model.NotificationRecord{}, false, nil
	}
	if err != nil {
		return model.NotificationRecord{}, false, fault.New(fault.Transient, "store.Delivered", err)
	}
	var rec model.NotificationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return model.NotificationRecord{}, false, fmt.Errorf("unmarshal notification record: %w", err)
	}
	return rec, true, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
