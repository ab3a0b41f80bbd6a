package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitfantasy/nimo-mes/internal/production/entity"
	"github.com/bitfantasy/nimo-mes/internal/production/repository"
	"github.com/bitfantasy/nimo-mes/internal/production/workflow"
)

// warehouseHandler 成品入库扫码，只允许入合格数量
type warehouseHandler struct {
	aggregator *QuantityAggregator
	tracking   *TrackingService
	inventory  InventoryAdjuster
}

func (h *warehouseHandler) Handle(ctx context.Context, sc *scanContext) (*stageOutcome, error) {
	qualityKey := sc.def.Resolve("", workflow.StageQuality).Key
	inspected, err := sc.repos.Aggregate.FindBundleStage(ctx, sc.bundle.ID, qualityKey)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && inspected.MaxQuantity == 0) {
		return nil, errState("菲号 %d 尚未质检，不能入库", sc.bundle.BundleNo)
	}
	if err != nil {
		return nil, fmt.Errorf("find quality quantity: %w", err)
	}
	if inspected.QualifiedQuantity == 0 {
		return nil, errState("菲号 %d 质检全部不合格，不能入库", sc.bundle.BundleNo)
	}

	qty := sc.req.Quantity
	if qty < 0 {
		return nil, errValidation("数量不能为负数")
	}
	if qty == 0 {
		qty = inspected.QualifiedQuantity
	}
	if qty > inspected.QualifiedQuantity {
		return nil, errValidation("入库数量 %d 超过合格数量 %d", qty, inspected.QualifiedQuantity)
	}

	res := forceStage(sc.def, sc.req.ProcessName, workflow.StageWarehouse)
	delta, err := h.aggregator.Accept(ctx, sc.repos, sc.order, sc.bundle.ID, res.Key, qty, nil, sc.op, sc.at)
	if err != nil {
		return nil, err
	}

	rec := newScanRecord(sc, entity.ScanTypeWarehouse, res, qty)
	out, err := persist(ctx, sc, h.tracking, rec, delta)
	if err != nil {
		return nil, err
	}
	if delta.Accepted > 0 {
		if err := h.inventory.Increase(ctx, sc.repos, rec, delta.Accepted, sc.at); err != nil {
			return nil, fmt.Errorf("increase stock: %w", err)
		}
	}
	return out, nil
}
