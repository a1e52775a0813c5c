package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
)

const (
	keyPrefix  = "retail:order:v1:"
	defaultTTL = 5 * time.Minute
)

// OrderCache хранит карточки заказов в Redis с ограниченным TTL.
type OrderCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewOrderCache создаёт кэш поверх готового клиента Redis.
func NewOrderCache(client redis.UniversalClient, ttl time.Duration) *OrderCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &OrderCache{client: client, ttl: ttl}
}

// Connect открывает клиент Redis и проверяет соединение.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func key(id string) string {
	return keyPrefix + id
}

// Get возвращает заказ из кэша; ok=false при промахе.
func (c *OrderCache) Get(ctx context.Context, id string) (domain.Order, bool, error) {
	raw, err := c.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Order{}, false, nil
	}
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("redis get order %s: %w", id, err)
	}

	var order domain.Order
	if err := json.Unmarshal(raw, &order); err != nil {
		// Битую запись удаляем, чтобы следующий запрос пошёл в хранилище.
		_ = c.client.Del(ctx, key(id)).Err()
		return domain.Order{}, false, fmt.Errorf("decode cached order %s: %w", id, err)
	}
	return order, true, nil
}

// Set сохраняет заказ с TTL.
func (c *OrderCache) Set(ctx context.Context, order domain.Order) error {
	raw, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order %s: %w", order.ID, err)
	}
	if err := c.client.Set(ctx, key(order.ID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set order %s: %w", order.ID, err)
	}
	return nil
}

// Invalidate удаляет заказ из кэша.
func (c *OrderCache) Invalidate(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("redis del order %s: %w", id, err)
	}
	return nil
}

// Ping проверяет доступность Redis (для health-check).
func (c *OrderCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

var _ domain.OrderCache = (*OrderCache)(nil)
