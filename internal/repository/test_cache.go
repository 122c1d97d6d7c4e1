package repository

import (
	"context"
	"encoding/json"
	"time"

	"paper_test_backend/internal/model"
	"paper_test_backend/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const testListCacheKey = "tests:all"

func testCacheKey(id string) string {
	return "tests:" + id
}

// TestCache 试卷列表与详情的读穿缓存；Redis 为空或出错时视为未命中
type TestCache struct {
	Redis *redis.Client
	TTL   time.Duration
}

func NewTestCache(rdb *redis.Client, ttl time.Duration) *TestCache {
	return &TestCache{Redis: rdb, TTL: ttl}
}

func (c *TestCache) enabled() bool {
	return c != nil && c.Redis != nil
}

func (c *TestCache) get(ctx context.Context, key string, dst interface{}) bool {
	if !c.enabled() {
		return false
	}
	data, err := c.Redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Log.Warn("test cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		logger.Log.Warn("test cache entry corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *TestCache) set(ctx context.Context, key string, value interface{}) {
	if !c.enabled() {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.Redis.Set(ctx, key, data, c.TTL).Err(); err != nil {
		logger.Log.Warn("test cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *TestCache) GetList(ctx context.Context) ([]model.Test, bool) {
	var tests []model.Test
	ok := c.get(ctx, testListCacheKey, &tests)
	return tests, ok
}

func (c *TestCache) SetList(ctx context.Context, tests []model.Test) {
	c.set(ctx, testListCacheKey, tests)
}

func (c *TestCache) Get(ctx context.Context, id string) (*model.Test, bool) {
	var test model.Test
	if !c.get(ctx, testCacheKey(id), &test) {
		return nil, false
	}
	return &test, true
}

func (c *TestCache) Set(ctx context.Context, test *model.Test) {
	c.set(ctx, testCacheKey(test.ID), test)
}

// Invalidate 清除列表及指定试卷的缓存
func (c *TestCache) Invalidate(ctx context.Context, ids ...string) {
	if !c.enabled() {
		return
	}
	keys := []string{testListCacheKey}
	for _, id := range ids {
		keys = append(keys, testCacheKey(id))
	}
	if err := c.Redis.Del(ctx, keys...).Err(); err != nil {
		logger.Log.Warn("test cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}
