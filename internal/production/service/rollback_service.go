package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/production/entity"
	"github.com/bitfantasy/nimo-mes/internal/production/repository"
	"github.com/bitfantasy/nimo-mes/internal/production/workflow"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// UndoRequest 撤销扫码：按 request_id，或按 (扫码内容, 扫码类型, 操作人) 取最近一条
type UndoRequest struct {
	RequestID  string `json:"request_id"`
	ScanCode   string `json:"scan_code"`
	ScanType   string `json:"scan_type"`
	OperatorID string `json:"operator_id"`
	Reason     string `json:"reason"`
}

// UndoResult 撤销/重扫结果
type UndoResult struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	ScanRecordID string `json:"scan_record_id"`
}

// RollbackResult 阶段回退结果
type RollbackResult struct {
	Order       *entity.ProductionOrder `json:"order"`
	Invalidated int                     `json:"invalidated"`
}

// RollbackService 撤销、重扫、阶段回退
type RollbackService struct {
	repos        *repository.Repositories
	progress     *ProgressService
	aggregator   *QuantityAggregator
	tracking     *TrackingService
	inventory    InventoryAdjuster
	dispatcher   *Dispatcher
	logger       *zap.Logger
	rescanWindow time.Duration
	now          func() time.Time
}

func NewRollbackService(repos *repository.Repositories, progress *ProgressService, aggregator *QuantityAggregator, tracking *TrackingService,
	inventory InventoryAdjuster, dispatcher *Dispatcher, rescanWindow time.Duration, logger *zap.Logger) *RollbackService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rescanWindow <= 0 {
		rescanWindow = time.Hour
	}
	return &RollbackService{
		repos:        repos,
		progress:     progress,
		aggregator:   aggregator,
		tracking:     tracking,
		inventory:    inventory,
		dispatcher:   dispatcher,
		logger:       logger,
		rescanWindow: rescanWindow,
		now:          time.Now,
	}
}

// UndoScan 撤销一次扫码。本人或主管可操作
func (s *RollbackService) UndoScan(ctx context.Context, req UndoRequest, op Identity) (*UndoResult, error) {
	if err := op.validate(); err != nil {
		return nil, err
	}
	if req.RequestID == "" && (req.ScanCode == "" || req.ScanType == "") {
		return nil, errValidation("请提供 request_id，或扫码内容和扫码类型")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "撤销扫码"
	}
	now := s.now()

	var rec *entity.ScanRecord
	var effects []SideEffect
	err := s.repos.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := s.repos.WithTx(tx)
		var err error
		if req.RequestID != "" {
			rec, err = repos.Scan.FindByRequestID(ctx, req.RequestID)
		} else {
			operatorID := req.OperatorID
			if operatorID == "" {
				operatorID = op.UserID
			}
			rec, err = repos.Scan.FindLatestMatch(ctx, req.ScanCode, strings.ToLower(req.ScanType), operatorID)
		}
		if errors.Is(err, repository.ErrNotFound) {
			return errNotFound("未找到对应的扫码记录")
		}
		if err != nil {
			return fmt.Errorf("find scan record: %w", err)
		}
		if rec.OperatorID != op.UserID && !op.IsSupervisor() {
			return errPermission("只能撤销本人的扫码")
		}

		effects, err = s.undo(ctx, repos, rec, reason, "undo", op, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.dispatcher.Dispatch(ctx, effects)
	return &UndoResult{Success: true, Message: "撤销成功", ScanRecordID: rec.ID}, nil
}

// Rescan 操作人在时间窗口内撤回自己的扫码以便重新扫码
func (s *RollbackService) Rescan(ctx context.Context, recordID string, op Identity) (*UndoResult, error) {
	if err := op.validate(); err != nil {
		return nil, err
	}
	now := s.now()

	var rec *entity.ScanRecord
	var effects []SideEffect
	err := s.repos.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := s.repos.WithTx(tx)
		var err error
		rec, err = repos.Scan.FindByID(ctx, recordID)
		if errors.Is(err, repository.ErrNotFound) {
			return errNotFound("扫码记录不存在")
		}
		if err != nil {
			return fmt.Errorf("find scan record: %w", err)
		}
		if rec.OperatorID != op.UserID {
			return errPermission("只能重扫本人的扫码")
		}
		if now.Sub(rec.ScanTime) > s.rescanWindow {
			return newError(KindState, ReasonRescanWindow, "只能在扫码后%s内重扫", formatWindow(s.rescanWindow))
		}

		effects, err = s.undo(ctx, repos, rec, "重扫", "rescan", op, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.dispatcher.Dispatch(ctx, effects)
	return &UndoResult{Success: true, Message: "已撤回，可以重新扫码", ScanRecordID: rec.ID}, nil
}

func formatWindow(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return fmt.Sprintf("%d小时", int(d/time.Hour))
	default:
		return fmt.Sprintf("%d分钟", int(d/time.Minute))
	}
}

// undo 撤销单条扫码，返回提交后要执行的副作用
func (s *RollbackService) undo(ctx context.Context, repos *repository.Repositories, rec *entity.ScanRecord, reason, action string, op Identity, at time.Time) ([]SideEffect, error) {
	if rec.ScanResult != entity.ScanResultSuccess {
		return nil, newError(KindState, ReasonInvalidated, "扫码记录已作废")
	}
	if rec.IsSettled() {
		return nil, newError(KindState, ReasonSettled, "扫码记录已结算，不能撤销")
	}

	order, err := s.progress.loadOrder(ctx, repos, rec.OrderID)
	if err != nil {
		return nil, err
	}

	if isCuttingRecord(rec) {
		if err := s.guardCutting(ctx, repos, order, rec); err != nil {
			return nil, err
		}
	}

	n, err := s.reverse(ctx, repos, order, []entity.ScanRecord{*rec}, reason, op, at)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, newError(KindState, ReasonInvalidated, "扫码记录已作废")
	}

	if isCuttingRecord(rec) {
		if err := s.revertCutting(ctx, repos, order, rec); err != nil {
			return nil, err
		}
	}

	s.logger.Info("scan reversed",
		zap.String("action", action),
		zap.String("scan_record_id", rec.ID),
		zap.String("order_id", order.ID),
		zap.String("operator", op.UserID))

	return []SideEffect{
		{
			Kind:     EffectUndoNotify,
			OrderID:  order.ID,
			TenantID: order.TenantID,
			Payload: entity.JSONB{
				"order_no":      order.OrderNo,
				"bundle_no":     rec.BundleNo,
				"process_name":  rec.ProcessName,
				"action":        undoActionLabel(action),
				"operator_id":   op.UserID,
				"operator_name": op.Username,
				"scan_operator": rec.OperatorID,
			},
		},
		activityEffect(order.ID, "scan", rec.ID, rec.ScanCode, action, entity.ScanResultSuccess, entity.ScanResultFailure,
			fmt.Sprintf("%s: %s %s", reason, rec.ProcessName, rec.ScanType), op),
	}, nil
}

func undoActionLabel(action string) string {
	if action == "rescan" {
		return "重扫"
	}
	return "撤销"
}

// isCuttingRecord 生成菲号时写入的裁剪扫码
func isCuttingRecord(rec *entity.ScanRecord) bool {
	return rec.BundleID == "" && rec.CuttingTaskID != "" && rec.Stage == string(workflow.StageCutting)
}

// guardCutting 裁剪扫码撤销会删除菲号，菲号已有后续扫码或已结算时不允许
func (s *RollbackService) guardCutting(ctx context.Context, repos *repository.Repositories, order *entity.ProductionOrder, rec *entity.ScanRecord) error {
	settled, err := repos.Tracking.CountSettledByOrder(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("count settled rows: %w", err)
	}
	if settled > 0 {
		return newError(KindState, ReasonSettled, "订单已有结算的计件记录，不能撤销裁剪")
	}
	records, err := repos.Scan.ListSuccessByOrder(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("list scans: %w", err)
	}
	for _, r := range records {
		if r.BundleID != "" {
			return errState("菲号已有后续扫码，请先撤销菲号上的扫码")
		}
	}
	return nil
}

// revertCutting 删除生成的菲号及未结算台账，裁剪任务回到已领取
func (s *RollbackService) revertCutting(ctx context.Context, repos *repository.Repositories, order *entity.ProductionOrder, rec *entity.ScanRecord) error {
	if _, err := repos.Tracking.DeleteByOrder(ctx, order.ID); err != nil {
		return fmt.Errorf("delete tracking rows: %w", err)
	}
	if _, err := repos.Bundle.DeleteByOrder(ctx, order.ID); err != nil {
		return fmt.Errorf("delete bundles: %w", err)
	}
	ok, err := repos.CuttingTask.TransitStatus(ctx, rec.CuttingTaskID, entity.CuttingTaskBundled, entity.CuttingTaskReceived,
		map[string]interface{}{"bundled_at": nil, "bundled_by": ""})
	if err != nil {
		return fmt.Errorf("revert cutting task: %w", err)
	}
	if !ok {
		return errState("裁剪任务状态已变化，不能撤销")
	}
	return nil
}

// reverse 作废扫码并回滚其影响：重算聚合、按入库数量变化扣减库存、重新开放台账行。返回实际作废条数
func (s *RollbackService) reverse(ctx context.Context, repos *repository.Repositories, order *entity.ProductionOrder,
	recs []entity.ScanRecord, reason string, op Identity, at time.Time) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	type stockKey struct {
		bundleID string
		stageKey string
	}
	before := make(map[stockKey]int)
	sample := make(map[stockKey]*entity.ScanRecord)
	ids := make([]string, 0, len(recs))
	for i := range recs {
		rec := &recs[i]
		ids = append(ids, rec.ID)
		if rec.ScanType != entity.ScanTypeWarehouse || rec.BundleID == "" {
			continue
		}
		k := stockKey{rec.BundleID, rec.StageKey}
		if _, ok := before[k]; ok {
			continue
		}
		row, err := repos.Aggregate.FindBundleStage(ctx, rec.BundleID, rec.StageKey)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return 0, fmt.Errorf("find warehouse quantity: %w", err)
		}
		if row != nil {
			before[k] = row.MaxQuantity
		}
		sample[k] = rec
	}

	n, err := repos.Scan.Invalidate(ctx, ids, op.UserID, reason, at)
	if err != nil {
		return 0, fmt.Errorf("invalidate scans: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.aggregator.Rebuild(ctx, repos, order, at); err != nil {
		return 0, err
	}

	for k, prev := range before {
		after := 0
		row, err := repos.Aggregate.FindBundleStage(ctx, k.bundleID, k.stageKey)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return 0, fmt.Errorf("find warehouse quantity: %w", err)
		}
		if row != nil {
			after = row.MaxQuantity
		}
		if prev > after {
			if err := s.inventory.Decrease(ctx, repos, sample[k], prev-after, op.UserID, at); err != nil {
				return 0, err
			}
		}
	}

	for i := range recs {
		if err := s.tracking.release(ctx, repos, &recs[i], reason, op.UserID, at); err != nil {
			return 0, err
		}
	}
	return int(n), nil
}

// RollbackStage 主管把订单回退到上一个节点，作废回退点之后该节点及以后的扫码
func (s *RollbackService) RollbackStage(ctx context.Context, orderID string, targetProgress int, reason string, op Identity) (*RollbackResult, error) {
	if err := op.validate(); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errValidation("回退必须填写原因")
	}
	if !op.IsSupervisor() {
		return nil, errPermission("回退进度需要主管权限")
	}
	now := s.now()

	var order *entity.ProductionOrder
	var def *workflow.Definition
	var fromNode, toNode workflow.Node
	invalidated := 0
	err := s.repos.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := s.repos.WithTx(tx)
		var err error
		if order, err = s.progress.loadOrder(ctx, repos, orderID); err != nil {
			return err
		}
		if def, err = s.progress.Definition(order); err != nil {
			return err
		}

		cur := order.ProgressNodeIndex
		toIdx := def.IndexForProgress(targetProgress)
		if cur == 0 || toIdx != cur-1 {
			return errState("只能回退到上一个节点（当前进度 %d%%）", order.ProductionProgress)
		}
		fromNode, _ = def.Node(cur)
		toNode, _ = def.Node(toIdx)

		since := order.CreatedAt
		entry, err := repos.ProgressLog.LatestEntry(ctx, order.ID, toIdx)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("find progress log: %w", err)
		}
		if entry != nil {
			since = entry.CreatedAt
		}

		targets, err := repos.Scan.FindRollbackTargets(ctx, order.ID, cur, since)
		if err != nil {
			return fmt.Errorf("find rollback targets: %w", err)
		}
		if invalidated, err = s.reverse(ctx, repos, order, targets, "进度回退: "+reason, op, now); err != nil {
			return err
		}

		ok, err := s.progress.moveTo(ctx, repos, order, def, toIdx, entity.ProgressActionRollback, reason, invalidated, op, now)
		if err != nil {
			return err
		}
		if !ok {
			return newError(KindConflict, "", "订单进度已被其他操作更新，请刷新后重试")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order stage rolled back",
		zap.String("order_id", order.ID),
		zap.String("from", fromNode.Name),
		zap.String("to", toNode.Name),
		zap.Int("invalidated", invalidated),
		zap.String("operator", op.UserID))

	s.dispatcher.Dispatch(ctx, []SideEffect{
		progressEffect(order, def, entity.ProgressActionRollback),
		{
			Kind:     EffectRollbackNotify,
			OrderID:  order.ID,
			TenantID: order.TenantID,
			Payload: entity.JSONB{
				"order_no":      order.OrderNo,
				"from_node":     fromNode.Name,
				"to_node":       toNode.Name,
				"reason":        reason,
				"operator_name": op.Username,
				"invalidated":   invalidated,
			},
		},
		activityEffect(order.ID, "order", order.ID, order.OrderNo, "progress_rollback", fromNode.Name, toNode.Name, reason, op),
	})
	return &RollbackResult{Order: order, Invalidated: invalidated}, nil
}
