// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

const redisKeyPrefix = "activities:result:"

// RedisStore shares records between processes. Expiry is left to redis key TTLs.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

func (store *RedisStore) Put(ctx context.Context, record *Record) error {
	ttl := record.TTL(time.Now())
	if record.ExpiresAt != 0 && ttl <= 0 {
		log.WithField("request", record.RequestID).Debug("Not buffering already expired result")
		return nil
	}

	data, err := msgpack.Marshal(record)
	if err != nil {
		return err
	}

	stored, err := store.client.SetNX(ctx, redisKeyPrefix+record.RequestID, data, ttl).Result()
	if err != nil {
		return err
	}
	if !stored {
		return NewAlreadyBufferedError(record.RequestID)
	}
	return nil
}

func (store *RedisStore) Take(ctx context.Context, requestID string) (*Record, error) {
	data, err := store.client.GetDel(ctx, redisKeyPrefix+requestID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, NewNoSuchResultError(requestID)
	} else if err != nil {
		return nil, err
	}

	var record Record
	if err := msgpack.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Sweep does nothing, redis drops expired keys itself.
func (store *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (store *RedisStore) Ping(ctx context.Context) error {
	return store.client.Ping(ctx).Err()
}

func (store *RedisStore) Close() error {
	return store.client.Close()
}
