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
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TrackingService 工序计件台账
type TrackingService struct {
	repos      *repository.Repositories
	progress   *ProgressService
	dispatcher *Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

func NewTrackingService(repos *repository.Repositories, progress *ProgressService, dispatcher *Dispatcher, logger *zap.Logger) *TrackingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrackingService{repos: repos, progress: progress, dispatcher: dispatcher, logger: logger, now: time.Now}
}

func amountOf(price decimal.Decimal, qty int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(qty)))
}

// Initialize 按 菲号 × 台账工序 生成计件行，已存在的行保留
func (s *TrackingService) Initialize(ctx context.Context, orderID string, op Identity) (int64, error) {
	if err := op.validate(); err != nil {
		return 0, err
	}
	var created int64
	err := s.repos.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := s.repos.WithTx(tx)
		order, err := s.progress.loadOrder(ctx, repos, orderID)
		if err != nil {
			return err
		}
		def, err := s.progress.Definition(order)
		if err != nil {
			return err
		}
		created, err = s.initialize(ctx, repos, order, def)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("process tracking initialized", zap.String("order_id", orderID), zap.Int64("created", created))
	return created, nil
}

func (s *TrackingService) initialize(ctx context.Context, repos *repository.Repositories, order *entity.ProductionOrder, def *workflow.Definition) (int64, error) {
	bundles, err := repos.Bundle.ListByOrder(ctx, order.ID)
	if err != nil {
		return 0, fmt.Errorf("list bundles: %w", err)
	}
	if len(bundles) == 0 {
		return 0, errState("订单 %s 尚未生成菲号，不能初始化工序台账", order.OrderNo)
	}

	task, err := repos.CuttingTask.FindByOrder(ctx, order.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return 0, fmt.Errorf("find cutting task: %w", err)
	}

	nodes := def.LedgerNodes()
	rows := make([]entity.ProcessTracking, 0, len(bundles)*len(nodes))
	for _, b := range bundles {
		for seq, n := range nodes {
			row := entity.ProcessTracking{
				TenantID:         order.TenantID,
				OrderID:          order.ID,
				OrderNo:          order.OrderNo,
				BundleID:         b.ID,
				BundleNo:         b.BundleNo,
				Color:            b.Color,
				Size:             b.Size,
				ProcessCode:      n.ID,
				ProcessName:      n.Name,
				Sequence:         seq + 1,
				UnitPrice:        n.UnitPrice,
				Quantity:         b.Quantity,
				ScanStatus:       entity.TrackingPending,
				SettlementAmount: amountOf(n.UnitPrice, b.Quantity),
			}
			// 流程里没有裁剪节点时，裁剪行直接记到领取裁剪任务的人名下
			if n.Synthesized && task != nil && task.ReceiverID != "" {
				row.ScanStatus = entity.TrackingScanned
				row.OperatorID = task.ReceiverID
				row.OperatorName = task.ReceiverName
				row.ScanTime = task.ReceivedAt
			}
			rows = append(rows, row)
		}
	}
	created, err := repos.Tracking.CreateMissing(ctx, rows)
	if err != nil {
		return 0, fmt.Errorf("create tracking rows: %w", err)
	}
	return created, nil
}

// Claim 领取 (菲号, 工序) 台账行，不关联扫码记录
func (s *TrackingService) Claim(ctx context.Context, bundleID, processCode string, op Identity) (*entity.ProcessTracking, error) {
	if err := op.validate(); err != nil {
		return nil, err
	}
	now := s.now()
	var row *entity.ProcessTracking
	err := s.repos.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := s.repos.WithTx(tx)
		existing, err := repos.Tracking.FindByBundleProcess(ctx, bundleID, processCode)
		if errors.Is(err, repository.ErrNotFound) {
			return errNotFound("台账行不存在")
		}
		if err != nil {
			return err
		}
		order, err := s.progress.loadOrder(ctx, repos, existing.OrderID)
		if err != nil {
			return err
		}
		def, err := s.progress.Definition(order)
		if err != nil {
			return err
		}
		rowID, err := s.claim(ctx, repos, def, bundleID, processCode, "", op, now)
		if err != nil {
			return err
		}
		row, err = repos.Tracking.FindByID(ctx, rowID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// claim 扫码事务内领取台账行，工序不在台账中时返回空
func (s *TrackingService) claim(ctx context.Context, repos *repository.Repositories, def *workflow.Definition,
	bundleID, processCode, scanRecordID string, op Identity, at time.Time) (string, error) {
	node, ok := def.LedgerNode(processCode)
	if !ok || bundleID == "" {
		return "", nil
	}
	row, err := repos.Tracking.FindByBundleProcess(ctx, bundleID, processCode)
	if errors.Is(err, repository.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find tracking row: %w", err)
	}

	if row.IsSettled {
		if row.OperatorID == op.UserID {
			return row.ID, nil
		}
		return "", claimedBy(row, node)
	}
	if row.ScanStatus == entity.TrackingScanned && row.OperatorID != op.UserID {
		return "", claimedBy(row, node)
	}

	amount := amountOf(node.UnitPrice, row.Quantity)
	if row.ScanStatus == entity.TrackingScanned {
		if _, err := repos.Tracking.Refresh(ctx, row.ID, op.UserID, at, scanRecordID, node.UnitPrice, amount); err != nil {
			return "", fmt.Errorf("refresh tracking row: %w", err)
		}
		return row.ID, nil
	}

	claimed, err := repos.Tracking.Claim(ctx, row.ID, repository.ClaimParams{
		OperatorID:   op.UserID,
		OperatorName: op.Username,
		ScanTime:     at,
		ScanRecordID: scanRecordID,
		UnitPrice:    node.UnitPrice,
		Amount:       amount,
	})
	if err != nil {
		return "", fmt.Errorf("claim tracking row: %w", err)
	}
	if !claimed {
		latest, err := repos.Tracking.FindByID(ctx, row.ID)
		if err != nil {
			return "", fmt.Errorf("reload tracking row: %w", err)
		}
		if latest.OperatorID == op.UserID {
			return latest.ID, nil
		}
		return "", claimedBy(latest, node)
	}
	return row.ID, nil
}

func claimedBy(row *entity.ProcessTracking, node workflow.Node) error {
	name := row.OperatorName
	if name == "" {
		name = row.OperatorID
	}
	return errConflict("菲号 %d 的工序「%s」已被 %s 领取", row.BundleNo, node.Name, name)
}

// release 撤销扫码时重新开放关联的台账行，已结算或已被后续扫码覆盖的行不动
func (s *TrackingService) release(ctx context.Context, repos *repository.Repositories, rec *entity.ScanRecord, reason, by string, at time.Time) error {
	if rec.TrackingRowID == "" {
		return nil
	}
	row, err := repos.Tracking.FindByID(ctx, rec.TrackingRowID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find tracking row: %w", err)
	}
	if row.IsSettled || row.ScanRecordID != rec.ID {
		return nil
	}
	if _, err := repos.Tracking.Reopen(ctx, row.ID, entity.TrackingPending, reason, by, at); err != nil {
		return fmt.Errorf("reopen tracking row: %w", err)
	}
	return nil
}

// Reset 管理员重置台账行
func (s *TrackingService) Reset(ctx context.Context, rowID, reason string, op Identity) (bool, error) {
	if err := op.validate(); err != nil {
		return false, err
	}
	if !op.IsAdmin() {
		return false, errPermission("只有管理员可以重置台账")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return false, errValidation("重置必须填写原因")
	}
	now := s.now()

	var row *entity.ProcessTracking
	err := s.repos.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := s.repos.WithTx(tx)
		var err error
		row, err = repos.Tracking.FindByID(ctx, rowID)
		if errors.Is(err, repository.ErrNotFound) {
			return errNotFound("台账行不存在")
		}
		if err != nil {
			return err
		}
		if row.IsSettled {
			return newError(KindState, ReasonSettled, "台账行已结算，不能重置")
		}
		ok, err := repos.Tracking.Reopen(ctx, row.ID, entity.TrackingReset, reason, op.UserID, now)
		if err != nil {
			return fmt.Errorf("reset tracking row: %w", err)
		}
		if !ok {
			return newError(KindState, ReasonSettled, "台账行已结算，不能重置")
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	s.dispatcher.Dispatch(ctx, []SideEffect{
		activityEffect(row.OrderID, "tracking", row.ID, row.ProcessName, "reset", row.ScanStatus, entity.TrackingReset, reason, op),
	})
	return true, nil
}

// SyncUnitPrices 未结算行按当前流程单价重新定价，已结算行金额冻结
func (s *TrackingService) SyncUnitPrices(ctx context.Context, orderID string, op Identity) (int, error) {
	if err := op.validate(); err != nil {
		return 0, err
	}
	updated := 0
	err := s.repos.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := s.repos.WithTx(tx)
		order, err := s.progress.loadOrder(ctx, repos, orderID)
		if err != nil {
			return err
		}
		def, err := s.progress.Definition(order)
		if err != nil {
			return err
		}
		rows, err := repos.Tracking.ListByOrder(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("list tracking rows: %w", err)
		}
		for _, row := range rows {
			if row.IsSettled {
				continue
			}
			node, ok := def.LedgerNode(row.ProcessCode)
			if !ok {
				continue
			}
			amount := amountOf(node.UnitPrice, row.Quantity)
			if row.UnitPrice.Equal(node.UnitPrice) && row.SettlementAmount.Equal(amount) {
				continue
			}
			ok, err := repos.Tracking.UpdatePrice(ctx, row.ID, node.UnitPrice, amount)
			if err != nil {
				return fmt.Errorf("update tracking price: %w", err)
			}
			if ok {
				updated++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

// GetRows 订单台账，未结算行按当前流程实时定价
func (s *TrackingService) GetRows(ctx context.Context, orderID string) ([]entity.ProcessTracking, error) {
	order, err := s.progress.loadOrder(ctx, s.repos, orderID)
	if err != nil {
		return nil, err
	}
	def, err := s.progress.Definition(order)
	if err != nil {
		return nil, err
	}
	rows, err := s.repos.Tracking.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("list tracking rows: %w", err)
	}
	for i := range rows {
		if rows[i].IsSettled {
			continue
		}
		if node, ok := def.LedgerNode(rows[i].ProcessCode); ok {
			rows[i].UnitPrice = node.UnitPrice
			rows[i].SettlementAmount = amountOf(node.UnitPrice, rows[i].Quantity)
		}
	}
	return rows, nil
}

// Settle 结算台账行并锁定关联扫码记录，batchID 为空时自动生成
func (s *TrackingService) Settle(ctx context.Context, rowIDs []string, batchID string, op Identity) (string, int64, error) {
	if err := op.validate(); err != nil {
		return "", 0, err
	}
	if !op.IsAdmin() {
		return "", 0, errPermission("只有管理员可以结算")
	}
	if len(rowIDs) == 0 {
		return "", 0, errValidation("请选择需要结算的台账行")
	}
	if batchID == "" {
		batchID = strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	now := s.now()

	var settled int64
	err := s.repos.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := s.repos.WithTx(tx)
		var err error
		settled, err = repos.Tracking.Settle(ctx, rowIDs, batchID, now)
		if err != nil {
			return fmt.Errorf("settle tracking rows: %w", err)
		}
		rows, err := repos.Tracking.ListByIDs(ctx, rowIDs)
		if err != nil {
			return fmt.Errorf("list tracking rows: %w", err)
		}
		var recordIDs []string
		for _, row := range rows {
			if row.IsSettled && row.SettlementBatchID == batchID && row.ScanRecordID != "" {
				recordIDs = append(recordIDs, row.ScanRecordID)
			}
		}
		return repos.Scan.MarkSettled(ctx, recordIDs, batchID)
	})
	if err != nil {
		return "", 0, err
	}
	s.logger.Info("tracking rows settled", zap.String("batch_id", batchID), zap.Int64("rows", settled))
	return batchID, settled, nil
}
