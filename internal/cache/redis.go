// Package cache хранит результаты участия по ключу идемпотентности в Redis.
// Источником истины остаётся БД: кэш лишь избавляет повторные запросы от транзакции.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmeshcher/raffle-ledger/internal/model"
)

const namespace = "raffle:entry"

// EntryCache кэширует результаты участия в Redis.
type EntryCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewEntryCache создаёт кэш поверх клиента Redis по адресу addr.
func NewEntryCache(addr, password string, ttl time.Duration) *EntryCache {
	return NewEntryCacheWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	}), ttl)
}

// NewEntryCacheWithClient создаёт кэш поверх готового клиента.
func NewEntryCacheWithClient(client redis.UniversalClient, ttl time.Duration) *EntryCache {
	return &EntryCache{client: client, ttl: ttl}
}

func entryKey(userID int64, idempotencyKey string) string {
	return fmt.Sprintf("%s:%d:%s", namespace, userID, idempotencyKey)
}

// GetEntryResult возвращает сохранённый результат; ok=false, если ключа нет.
func (c *EntryCache) GetEntryResult(ctx context.Context, userID int64, idempotencyKey string) (*model.EntryResult, bool, error) {
	raw, err := c.client.Get(ctx, entryKey(userID, idempotencyKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get cached entry: %w", err)
	}

	var res model.EntryResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, false, fmt.Errorf("decode cached entry: %w", err)
	}
	return &res, true, nil
}

// PutEntryResult сохраняет результат зафиксированного участия.
func (c *EntryCache) PutEntryResult(ctx context.Context, userID int64, idempotencyKey string, res *model.EntryResult) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	if err := c.client.Set(ctx, entryKey(userID, idempotencyKey), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached entry: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis.
func (c *EntryCache) Close() error {
	return c.client.Close()
}
