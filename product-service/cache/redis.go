package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/microcommerce/stock-saga/product-service/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

func InitRedis(addr, password string, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established", zap.String("addr", addr))
	return rdb, nil
}

type LoadFunc func(ctx context.Context, id int64) (*models.Product, error)

// ProductCache is a read-through cache of products. The ledger is the
// source of truth; entries are dropped after every committed movement.
type ProductCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger

	mu sync.Mutex
	// bumped by Invalidate; a load started under an older generation is not stored
	generations map[int64]uint64
}

func NewProductCache(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *ProductCache {
	return &ProductCache{rdb: rdb, ttl: ttl, logger: logger, generations: map[int64]uint64{}}
}

func Key(id int64) string {
	return fmt.Sprintf("product:%d", id)
}

// Get returns the cached product, or loads and caches it. Concurrent misses
// for the same product share one load. Redis failures fall through to load.
func (c *ProductCache) Get(ctx context.Context, id int64, load LoadFunc) (*models.Product, bool, error) {
	if p, ok := c.lookup(ctx, id); ok {
		return p, true, nil
	}

	v, err, _ := c.group.Do(Key(id), func() (interface{}, error) {
		started := c.generation(id)
		p, err := load(ctx, id)
		if err != nil {
			return nil, err
		}
		if c.generation(id) != started {
			c.logger.Debug("Skipping cache fill after invalidation", zap.Int64("product_id", id))
			return p, nil
		}
		c.store(ctx, p)
		return p, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*models.Product), false, nil
}

func (c *ProductCache) Invalidate(ctx context.Context, id int64) error {
	c.mu.Lock()
	c.generations[id]++
	c.mu.Unlock()

	// a load in flight may hold the pre-movement row
	c.group.Forget(Key(id))
	return c.rdb.Del(ctx, Key(id)).Err()
}

func (c *ProductCache) generation(id int64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[id]
}

func (c *ProductCache) lookup(ctx context.Context, id int64) (*models.Product, bool) {
	data, err := c.rdb.Get(ctx, Key(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Product cache read failed", zap.Int64("product_id", id), zap.Error(err))
		}
		return nil, false
	}

	var p models.Product
	if err := json.Unmarshal(data, &p); err != nil {
		c.logger.Warn("Dropping unreadable cache entry", zap.Int64("product_id", id), zap.Error(err))
		c.rdb.Del(ctx, Key(id))
		return nil, false
	}
	return &p, true
}

func (c *ProductCache) store(ctx context.Context, p *models.Product) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, Key(p.ID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("Product cache write failed", zap.Int64("product_id", p.ID), zap.Error(err))
	}
}
