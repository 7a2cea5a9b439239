package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/set_stock.lua
var setStockScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

// Client mirrors stock levels for advisory reads and holds short settle locks.
// The database stays authoritative for both.
type Client struct {
	rdb           *redis.Client
	setStock      *redis.Script
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an existing connection
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		setStock:      redis.NewScript(setStockScript),
		releaseScript: redis.NewScript(releaseLockScript),
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func stockKey(productID int64) string {
	return fmt.Sprintf("stock:%d", productID)
}

// SetStock mirrors available stock unless a newer version is already stored
func (c *Client) SetStock(ctx context.Context, productID int64, available int, version int64) error {
	_, err := c.setStock.Run(ctx, c.rdb, []string{stockKey(productID)}, available, version).Result()
	if err != nil {
		return fmt.Errorf("set stock script failed: %w", err)
	}
	return nil
}

// GetStock reads the mirrored stock; ok is false on a miss
func (c *Client) GetStock(ctx context.Context, productID int64) (int, bool, error) {
	raw, err := c.rdb.HGet(ctx, stockKey(productID), "available").Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	available, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt stock mirror for product %d: %w", productID, err)
	}
	return available, true, nil
}

// Acquire takes lock:<key> for ttl. The returned release only deletes the
// lock if it still carries this caller's token.
func (c *Client) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	lockKey := fmt.Sprintf("lock:%s", key)
	token := uuid.New().String()

	ok, err := c.rdb.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil || !ok {
		return func() {}, false, err
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.releaseScript.Run(releaseCtx, c.rdb, []string{lockKey}, token).Err()
	}
	return release, true, nil
}
