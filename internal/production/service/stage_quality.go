package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bitfantasy/nimo-mes/internal/production/entity"
	"github.com/bitfantasy/nimo-mes/internal/production/repository"
	"github.com/bitfantasy/nimo-mes/internal/production/workflow"
)

// qualityHandler 质检扫码，记录合格/不合格数量
type qualityHandler struct {
	aggregator *QuantityAggregator
	tracking   *TrackingService
}

func (h *qualityHandler) Handle(ctx context.Context, sc *scanContext) (*stageOutcome, error) {
	qualified := sc.req.QualifiedQuantity
	unqualified := sc.req.UnqualifiedQuantity
	qty := sc.req.Quantity
	if qualified < 0 || unqualified < 0 {
		return nil, errValidation("合格/不合格数量不能为负数")
	}
	if qualified == 0 && unqualified == 0 {
		if qty <= 0 {
			return nil, errValidation("数量必须大于0")
		}
		qualified = qty
	} else if qty == 0 {
		qty = qualified + unqualified
	} else if qty != qualified+unqualified {
		return nil, errValidation("合格 %d + 不合格 %d 与质检数量 %d 不一致", qualified, unqualified, qty)
	}

	produced, err := producedQuantity(ctx, sc)
	if err != nil {
		return nil, err
	}
	if produced == 0 {
		return nil, errState("菲号 %d 尚未完成生产扫码，不能质检", sc.bundle.BundleNo)
	}
	if qty > produced {
		return nil, errState("菲号 %d 已生产 %d 件，不能质检 %d 件", sc.bundle.BundleNo, produced, qty)
	}

	res := forceStage(sc.def, sc.req.ProcessName, workflow.StageQuality)
	fields := map[string]interface{}{
		"qualified_quantity":   qualified,
		"unqualified_quantity": unqualified,
	}
	delta, err := h.aggregator.Accept(ctx, sc.repos, sc.order, sc.bundle.ID, res.Key, qty, fields, sc.op, sc.at)
	if err != nil {
		return nil, err
	}

	rec := newScanRecord(sc, entity.ScanTypeQuality, res, qty)
	rec.QualifiedQuantity = qualified
	rec.UnqualifiedQuantity = unqualified
	return persist(ctx, sc, h.tracking, rec, delta)
}

// producedQuantity 质检前最后一道生产工序（不含裁剪）的累计数量。
// 流程里没有这类节点时，取该菲号流程外生产工序中的最大值。
func producedQuantity(ctx context.Context, sc *scanContext) (int, error) {
	qualityIdx, hasQuality := sc.def.IndexOfStage(workflow.StageQuality)
	key := ""
	for i, n := range sc.def.Nodes {
		if hasQuality && i >= qualityIdx {
			break
		}
		if n.Stage.IsProduction() && n.Stage != workflow.StageCutting {
			key = n.ID
		}
	}

	if key != "" {
		row, err := sc.repos.Aggregate.FindBundleStage(ctx, sc.bundle.ID, key)
		if errors.Is(err, repository.ErrNotFound) {
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("find production quantity: %w", err)
		}
		return row.MaxQuantity, nil
	}

	rows, err := sc.repos.Aggregate.ListBundleStages(ctx, sc.order.ID)
	if err != nil {
		return 0, fmt.Errorf("list bundle stages: %w", err)
	}
	produced := 0
	for _, row := range rows {
		if row.BundleID != sc.bundle.ID || !offWorkflowProduction(row.StageKey) {
			continue
		}
		if row.MaxQuantity > produced {
			produced = row.MaxQuantity
		}
	}
	return produced, nil
}

func offWorkflowProduction(key string) bool {
	switch workflow.Stage(key) {
	case workflow.StageSewing, workflow.StageFinishing:
		return true
	}
	return strings.HasPrefix(key, "custom:")
}
