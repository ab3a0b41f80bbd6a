package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/production/entity"
	"github.com/bitfantasy/nimo-mes/internal/production/repository"
)

// Delta 一次上报折算后的结果
type Delta struct {
	Previous      int // 上报前的最大值
	Current       int // 上报后的最大值
	Accepted      int // 有效增量 max(0, q-previous)
	StageTotal    int // 订单工序累计（按订单数量封顶）
	RawTotal      int // 订单工序累计原始值
	Completed     bool
	JustCompleted bool
}

// QuantityAggregator 把设备上报的累计数量换算为增量，菲号+工序取最大值
type QuantityAggregator struct {
	maxRetries int
}

func NewQuantityAggregator() *QuantityAggregator {
	return &QuantityAggregator{maxRetries: 5}
}

// CuttingBundleKey 裁剪扫码没有具体菲号时按裁剪任务聚合
func CuttingBundleKey(taskID string) string {
	return "cutting:" + taskID
}

// Accept 在事务内登记一次上报。fields 在最大值更新时一并写入（质检合格/不合格数）
func (a *QuantityAggregator) Accept(ctx context.Context, repos *repository.Repositories, order *entity.ProductionOrder,
	bundleID, stageKey string, reported int, fields map[string]interface{}, op Identity, at time.Time) (*Delta, error) {
	if reported < 0 {
		return nil, errValidation("数量不能为负数")
	}

	d := &Delta{}
	for attempt := 0; ; attempt++ {
		if attempt >= a.maxRetries {
			return nil, newError(KindConflict, "", "菲号数量正在被其他扫码更新，请重试")
		}
		row, err := repos.Aggregate.EnsureBundleStage(ctx, order.ID, bundleID, stageKey)
		if err != nil {
			return nil, fmt.Errorf("ensure bundle stage: %w", err)
		}
		d.Previous = row.MaxQuantity
		if reported <= row.MaxQuantity {
			d.Current = row.MaxQuantity
			d.Accepted = 0
			break
		}
		ok, err := repos.Aggregate.CompareAndSetMax(ctx, row.ID, row.MaxQuantity, reported, fields)
		if err != nil {
			return nil, fmt.Errorf("update bundle stage: %w", err)
		}
		if ok {
			d.Current = reported
			d.Accepted = reported - row.MaxQuantity
			break
		}
	}

	total, err := repos.Aggregate.EnsureOrderStage(ctx, order.ID, stageKey)
	if err != nil {
		return nil, fmt.Errorf("ensure order stage: %w", err)
	}
	if d.Accepted > 0 {
		if err := repos.Aggregate.IncrementOrderStage(ctx, total.ID, d.Accepted); err != nil {
			return nil, fmt.Errorf("increment order stage: %w", err)
		}
		total, err = repos.Aggregate.FindOrderStage(ctx, order.ID, stageKey)
		if err != nil {
			return nil, fmt.Errorf("reload order stage: %w", err)
		}
	}

	d.RawTotal = total.AcceptedTotal
	d.StageTotal = capQuantity(total.AcceptedTotal, order.OrderQuantity)
	d.Completed = total.CompletedAt != nil
	if !d.Completed && order.OrderQuantity > 0 && d.StageTotal >= order.OrderQuantity {
		marked, err := repos.Aggregate.MarkOrderStageComplete(ctx, total.ID, op.UserID, op.Username, at)
		if err != nil {
			return nil, fmt.Errorf("complete order stage: %w", err)
		}
		d.Completed = true
		d.JustCompleted = marked
	}
	return d, nil
}

// StageTotal 订单工序累计数量（封顶）
func (a *QuantityAggregator) StageTotal(ctx context.Context, repos *repository.Repositories, order *entity.ProductionOrder, stageKey string) (int, error) {
	total, err := repos.Aggregate.FindOrderStage(ctx, order.ID, stageKey)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return capQuantity(total.AcceptedTotal, order.OrderQuantity), nil
}

type bundleStageKey struct {
	bundleID string
	stageKey string
}

// Rebuild 根据有效扫码重新计算订单全部聚合（作废扫码后的读修复）
func (a *QuantityAggregator) Rebuild(ctx context.Context, repos *repository.Repositories, order *entity.ProductionOrder, at time.Time) error {
	records, err := repos.Scan.ListSuccessByOrder(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("list scans: %w", err)
	}
	previous, err := repos.Aggregate.ListOrderStages(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("list order stages: %w", err)
	}
	prevByKey := make(map[string]entity.OrderStageTotal, len(previous))
	for _, p := range previous {
		prevByKey[p.StageKey] = p
	}

	maxima := make(map[bundleStageKey]*entity.BundleStageQuantity)
	var keys []bundleStageKey
	for _, rec := range records {
		if rec.StageKey == "" {
			continue
		}
		bundleID := rec.BundleID
		if bundleID == "" {
			if rec.CuttingTaskID == "" {
				continue
			}
			bundleID = CuttingBundleKey(rec.CuttingTaskID)
		}
		k := bundleStageKey{bundleID: bundleID, stageKey: rec.StageKey}
		row, ok := maxima[k]
		if !ok {
			row = &entity.BundleStageQuantity{OrderID: order.ID, BundleID: bundleID, StageKey: rec.StageKey}
			maxima[k] = row
			keys = append(keys, k)
		}
		if rec.Quantity > row.MaxQuantity {
			row.MaxQuantity = rec.Quantity
			row.QualifiedQuantity = rec.QualifiedQuantity
			row.UnqualifiedQuantity = rec.UnqualifiedQuantity
		}
	}

	bundles := make([]entity.BundleStageQuantity, 0, len(keys))
	sums := make(map[string]int)
	var stageOrder []string
	for _, k := range keys {
		row := maxima[k]
		bundles = append(bundles, *row)
		if _, ok := sums[k.stageKey]; !ok {
			stageOrder = append(stageOrder, k.stageKey)
		}
		sums[k.stageKey] += row.MaxQuantity
	}

	totals := make([]entity.OrderStageTotal, 0, len(stageOrder))
	for _, key := range stageOrder {
		t := entity.OrderStageTotal{OrderID: order.ID, StageKey: key, AcceptedTotal: sums[key]}
		if order.OrderQuantity > 0 && capQuantity(t.AcceptedTotal, order.OrderQuantity) >= order.OrderQuantity {
			if p, ok := prevByKey[key]; ok && p.CompletedAt != nil {
				t.CompletedAt = p.CompletedAt
				t.CompletedBy = p.CompletedBy
				t.CompletedByName = p.CompletedByName
			} else {
				completedAt := at
				t.CompletedAt = &completedAt
			}
		}
		totals = append(totals, t)
	}

	if err := repos.Aggregate.ReplaceOrder(ctx, order.ID, bundles, totals); err != nil {
		return fmt.Errorf("replace aggregates: %w", err)
	}
	return nil
}

func capQuantity(total, limit int) int {
	if limit > 0 && total > limit {
		return limit
	}
	return total
}
