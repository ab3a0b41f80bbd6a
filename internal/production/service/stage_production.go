package service

import (
	"context"
	"strings"

	"github.com/bitfantasy/nimo-mes/internal/production/entity"
	"github.com/bitfantasy/nimo-mes/internal/production/workflow"
)

// productionHandler 生产工序扫码（裁剪、车缝、后整及自定义工序）
type productionHandler struct {
	aggregator *QuantityAggregator
	tracking   *TrackingService
}

func (h *productionHandler) Handle(ctx context.Context, sc *scanContext) (*stageOutcome, error) {
	label := strings.TrimSpace(sc.req.ProcessName)
	if label == "" {
		label = strings.TrimSpace(sc.req.ProgressStage)
	}
	if label == "" {
		return nil, errValidation("生产扫码必须指定工序")
	}

	res := sc.def.Resolve(label, workflow.StageCustom)
	if !res.Stage.IsProduction() {
		return nil, errValidation("工序「%s」不能通过生产扫码上报", label)
	}

	qty := sc.req.Quantity
	if qty <= 0 {
		return nil, errValidation("数量必须大于0")
	}
	if qty > sc.bundle.Quantity {
		return nil, errValidation("数量 %d 超过菲号数量 %d", qty, sc.bundle.Quantity)
	}

	delta, err := h.aggregator.Accept(ctx, sc.repos, sc.order, sc.bundle.ID, res.Key, qty, nil, sc.op, sc.at)
	if err != nil {
		return nil, err
	}
	rec := newScanRecord(sc, entity.ScanTypeProduction, res, qty)
	return persist(ctx, sc, h.tracking, rec, delta)
}
