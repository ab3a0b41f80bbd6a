package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/production/entity"
	"github.com/bitfantasy/nimo-mes/internal/production/repository"
	"github.com/bitfantasy/nimo-mes/internal/production/workflow"
)

// scanContext 一次扫码在事务内需要的全部数据
type scanContext struct {
	repos     *repository.Repositories
	order     *entity.ProductionOrder
	def       *workflow.Definition
	bundle    *entity.CuttingBundle
	req       *ScanRequest
	requestID string
	op        Identity
	at        time.Time
}

// stageOutcome 阶段处理结果
type stageOutcome struct {
	record      *entity.ScanRecord
	delta       *Delta
	ledgerRowID string
}

// StageHandler 按扫码类型处理
type StageHandler interface {
	Handle(ctx context.Context, sc *scanContext) (*stageOutcome, error)
}

// StageRouter 扫码类型到处理器的映射
type StageRouter struct {
	handlers map[string]StageHandler
}

func NewStageRouter(aggregator *QuantityAggregator, tracking *TrackingService, inventory InventoryAdjuster) *StageRouter {
	return &StageRouter{handlers: map[string]StageHandler{
		entity.ScanTypeProduction: &productionHandler{aggregator: aggregator, tracking: tracking},
		entity.ScanTypeQuality:    &qualityHandler{aggregator: aggregator, tracking: tracking},
		entity.ScanTypeWarehouse:  &warehouseHandler{aggregator: aggregator, tracking: tracking, inventory: inventory},
	}}
}

// Route 查找扫码类型对应的处理器
func (r *StageRouter) Route(scanType string) (StageHandler, error) {
	h, ok := r.handlers[strings.ToLower(strings.TrimSpace(scanType))]
	if !ok {
		return nil, errValidation("不支持的扫码类型: %s", scanType)
	}
	return h, nil
}

// newScanRecord 按菲号和解析出的工序填充扫码记录
func newScanRecord(sc *scanContext, scanType string, res workflow.Resolution, qty int) *entity.ScanRecord {
	return &entity.ScanRecord{
		RequestID:      sc.requestID,
		TenantID:       sc.order.TenantID,
		ScanCode:       sc.req.ScanCode,
		ScanType:       scanType,
		ProcessCode:    res.Key,
		ProcessName:    res.Name,
		ProgressStage:  sc.req.ProgressStage,
		Stage:          string(res.Stage),
		StageKey:       res.Key,
		StageNodeIndex: res.Index,
		OrderID:        sc.order.ID,
		OrderNo:        sc.order.OrderNo,
		StyleID:        sc.order.StyleID,
		StyleNo:        sc.order.StyleNo,
		BundleID:       sc.bundle.ID,
		BundleNo:       sc.bundle.BundleNo,
		BundleQRCode:   sc.bundle.QRCode,
		Color:          sc.bundle.Color,
		Size:           sc.bundle.Size,
		Quantity:       qty,
		OperatorID:     sc.op.UserID,
		OperatorName:   sc.op.Username,
		ScanTime:       sc.at,
		ScanResult:     entity.ScanResultSuccess,
		Remark:         sc.req.Remark,
		CuttingTaskID:  sc.bundle.CuttingTaskID,
	}
}

// persist 写入扫码记录并领取台账行
func persist(ctx context.Context, sc *scanContext, tracking *TrackingService, rec *entity.ScanRecord, delta *Delta) (*stageOutcome, error) {
	rec.AcceptedQuantity = delta.Accepted
	if err := sc.repos.Scan.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create scan record: %w", err)
	}
	rowID, err := tracking.claim(ctx, sc.repos, sc.def, rec.BundleID, rec.StageKey, rec.ID, sc.op, sc.at)
	if err != nil {
		return nil, err
	}
	if rowID != "" {
		if err := sc.repos.Scan.SetTrackingRow(ctx, rec.ID, rowID); err != nil {
			return nil, fmt.Errorf("link tracking row: %w", err)
		}
		rec.TrackingRowID = rowID
	}
	return &stageOutcome{record: rec, delta: delta, ledgerRowID: rowID}, nil
}

// forceStage 标签解析到其他阶段时改用该阶段的节点
func forceStage(def *workflow.Definition, label string, stage workflow.Stage) workflow.Resolution {
	res := def.Resolve(label, stage)
	if res.Stage != stage {
		res = def.Resolve("", stage)
	}
	return res
}
