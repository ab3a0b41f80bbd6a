package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// OutcomeCache 已处理请求的结果缓存，数据库 t_scan_request 仍是最终依据
type OutcomeCache interface {
	Get(ctx context.Context, requestID string) (*ScanResult, bool)
	Put(ctx context.Context, requestID string, result *ScanResult)
}

// RedisOutcomeCache 基于 redis 的结果缓存
type RedisOutcomeCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisOutcomeCache(rdb *redis.Client, ttl time.Duration) *RedisOutcomeCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisOutcomeCache{rdb: rdb, ttl: ttl}
}

func outcomeKey(requestID string) string {
	return "scan:req:" + requestID
}

func (c *RedisOutcomeCache) Get(ctx context.Context, requestID string) (*ScanResult, bool) {
	raw, err := c.rdb.Get(ctx, outcomeKey(requestID)).Bytes()
	if err != nil {
		return nil, false
	}
	var result ScanResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false
	}
	return &result, true
}

func (c *RedisOutcomeCache) Put(ctx context.Context, requestID string, result *ScanResult) {
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	// 缓存失败不影响扫码
	_ = c.rdb.SetNX(ctx, outcomeKey(requestID), raw, c.ttl).Err()
}
