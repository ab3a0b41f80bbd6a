package service

import (
	"context"
	"fmt"

	"github.com/bitfantasy/nimo-mes/internal/production/repository"
)

// DuplicateGuard 请求ID占位，首个写入者生效，永不过期
type DuplicateGuard struct {
	cache OutcomeCache
}

func NewDuplicateGuard(cache OutcomeCache) *DuplicateGuard {
	return &DuplicateGuard{cache: cache}
}

// Cached 事务外先查缓存，命中即为重复请求
func (g *DuplicateGuard) Cached(ctx context.Context, requestID string) (*ScanResult, bool) {
	if g.cache == nil {
		return nil, false
	}
	return g.cache.Get(ctx, requestID)
}

// Reserve 在扫码事务内占位。返回 nil 表示首次请求，否则返回已有结果
func (g *DuplicateGuard) Reserve(ctx context.Context, repos *repository.Repositories, requestID string) (*ScanResult, error) {
	fresh, err := repos.ScanRequest.Reserve(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("reserve request id: %w", err)
	}
	if fresh {
		return nil, nil
	}

	existing, err := repos.ScanRequest.Find(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("load request outcome: %w", err)
	}
	result := &ScanResult{}
	if len(existing.Outcome) > 0 {
		if err := fromJSONB(existing.Outcome, result); err != nil {
			return nil, fmt.Errorf("decode request outcome: %w", err)
		}
	}
	result.RequestID = requestID
	result.ScanRecordID = existing.ScanRecordID
	return result, nil
}

// Complete 记录请求的处理结果
func (g *DuplicateGuard) Complete(ctx context.Context, repos *repository.Repositories, requestID string, result *ScanResult) error {
	outcome, err := toJSONB(result)
	if err != nil {
		return fmt.Errorf("encode request outcome: %w", err)
	}
	return repos.ScanRequest.Complete(ctx, requestID, result.ScanRecordID, outcome)
}

// Remember 提交后写入缓存
func (g *DuplicateGuard) Remember(ctx context.Context, requestID string, result *ScanResult) {
	if g.cache == nil {
		return
	}
	g.cache.Put(ctx, requestID, result)
}
