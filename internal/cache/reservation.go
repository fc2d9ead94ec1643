// Package cache holds the Redis backed helpers shared by every API instance.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/javajoker/marketstock/internal/config"
)

const orderNumberPrefix = "marketstock:order_number:"

// OrderNumberReserver claims order numbers across processes before they are
// inserted, so a cross-instance collision is seen without a failed insert.
type OrderNumberReserver struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Connect opens a client and pings it.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := NewClient(cfg)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func NewOrderNumberReserver(client *redis.Client, ttl time.Duration) *OrderNumberReserver {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &OrderNumberReserver{client: client, ttl: ttl}
}

// Reserve reports whether number was free and is now held by this caller.
func (r *OrderNumberReserver) Reserve(ctx context.Context, number string) (bool, error) {
	ok, err := r.client.SetNX(ctx, orderNumberPrefix+number, time.Now().Unix(), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserving order number: %w", err)
	}
	return ok, nil
}

// Release drops a reservation whose order was never committed.
func (r *OrderNumberReserver) Release(ctx context.Context, number string) error {
	if err := r.client.Del(ctx, orderNumberPrefix+number).Err(); err != nil {
		return fmt.Errorf("releasing order number: %w", err)
	}
	return nil
}
