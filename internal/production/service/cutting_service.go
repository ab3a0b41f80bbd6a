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
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// BundleSpec 一扎的颜色、尺码、数量
type BundleSpec struct {
	Color    string `json:"color"`
	Size     string `json:"size"`
	Quantity int    `json:"quantity" binding:"required"`
}

// GenerateResult 生成菲号结果
type GenerateResult struct {
	Task         *entity.CuttingTask    `json:"task"`
	Bundles      []entity.CuttingBundle `json:"bundles"`
	PrintCodes   []string               `json:"print_codes"`
	ScanRecordID string                 `json:"scan_record_id"`
	TrackingRows int64                  `json:"tracking_rows"`
}

// CuttingService 裁剪任务和菲号生成
type CuttingService struct {
	repos      *repository.Repositories
	progress   *ProgressService
	aggregator *QuantityAggregator
	tracking   *TrackingService
	signer     *HMACVerifier
	dispatcher *Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

func NewCuttingService(repos *repository.Repositories, progress *ProgressService, aggregator *QuantityAggregator, tracking *TrackingService,
	signer *HMACVerifier, dispatcher *Dispatcher, logger *zap.Logger) *CuttingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CuttingService{
		repos:      repos,
		progress:   progress,
		aggregator: aggregator,
		tracking:   tracking,
		signer:     signer,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// CreateTask 为订单创建裁剪任务
func (s *CuttingService) CreateTask(ctx context.Context, orderID string, op Identity) (*entity.CuttingTask, error) {
	if err := op.validate(); err != nil {
		return nil, err
	}
	order, err := s.progress.loadOrder(ctx, s.repos, orderID)
	if err != nil {
		return nil, err
	}
	task := &entity.CuttingTask{
		TenantID: order.TenantID,
		OrderID:  order.ID,
		OrderNo:  order.OrderNo,
		Status:   entity.CuttingTaskPending,
	}
	if err := s.repos.CuttingTask.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create cutting task: %w", err)
	}
	return task, nil
}

func (s *CuttingService) loadTask(ctx context.Context, repos *repository.Repositories, taskID string) (*entity.CuttingTask, error) {
	task, err := repos.CuttingTask.FindByID(ctx, taskID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errNotFound("裁剪任务不存在")
	}
	if err != nil {
		return nil, fmt.Errorf("find cutting task: %w", err)
	}
	return task, nil
}

// ReceiveTask 领取裁剪任务
func (s *CuttingService) ReceiveTask(ctx context.Context, taskID string, op Identity) (*entity.CuttingTask, error) {
	if err := op.validate(); err != nil {
		return nil, err
	}
	now := s.now()
	ok, err := s.repos.CuttingTask.TransitStatus(ctx, taskID, entity.CuttingTaskPending, entity.CuttingTaskReceived, map[string]interface{}{
		"receiver_id":   op.UserID,
		"receiver_name": op.Username,
		"received_at":   now,
	})
	if err != nil {
		return nil, fmt.Errorf("receive cutting task: %w", err)
	}
	task, err := s.loadTask(ctx, s.repos, taskID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errState("裁剪任务已被 %s 领取", task.ReceiverName)
	}
	return task, nil
}

// GenerateBundles 裁剪完成生成菲号：写入一条裁剪扫码，初始化工序台账，推进订单进度
func (s *CuttingService) GenerateBundles(ctx context.Context, taskID string, specs []BundleSpec, op Identity) (*GenerateResult, error) {
	if err := op.validate(); err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, errValidation("至少需要一扎")
	}
	total := 0
	for i, spec := range specs {
		if spec.Quantity <= 0 {
			return nil, errValidation("第 %d 扎数量必须大于0", i+1)
		}
		total += spec.Quantity
	}
	now := s.now()

	result := &GenerateResult{}
	var order *entity.ProductionOrder
	var def *workflow.Definition
	moved := false
	err := s.repos.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := s.repos.WithTx(tx)
		task, err := s.loadTask(ctx, repos, taskID)
		if err != nil {
			return err
		}
		if task.Status != entity.CuttingTaskReceived {
			return errState("裁剪任务当前状态为 %s，不能生成菲号", task.Status)
		}
		if task.ReceiverID != op.UserID && !op.IsSupervisor() {
			return errPermission("只有领取人可以生成菲号")
		}
		if order, err = s.progress.loadOrder(ctx, repos, task.OrderID); err != nil {
			return err
		}
		if def, err = s.progress.Definition(order); err != nil {
			return err
		}

		existing, err := repos.Bundle.CountByOrder(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("count bundles: %w", err)
		}
		bundles := make([]entity.CuttingBundle, 0, len(specs))
		for i, spec := range specs {
			no := int(existing) + i + 1
			bundles = append(bundles, entity.CuttingBundle{
				TenantID:      order.TenantID,
				OrderID:       order.ID,
				OrderNo:       order.OrderNo,
				StyleNo:       order.StyleNo,
				CuttingTaskID: task.ID,
				BundleNo:      no,
				QRCode:        fmt.Sprintf("%s-%03d", order.OrderNo, no),
				Color:         strings.TrimSpace(spec.Color),
				Size:          strings.TrimSpace(spec.Size),
				Quantity:      spec.Quantity,
				Status:        "created",
			})
		}
		if err := repos.Bundle.CreateBatch(ctx, bundles); err != nil {
			if repository.IsUniqueViolation(err) {
				return newError(KindConflict, "", "菲号二维码重复，请刷新后重试")
			}
			return fmt.Errorf("create bundles: %w", err)
		}

		ok, err := repos.CuttingTask.TransitStatus(ctx, task.ID, entity.CuttingTaskReceived, entity.CuttingTaskBundled,
			map[string]interface{}{"bundled_at": now, "bundled_by": op.UserID})
		if err != nil {
			return fmt.Errorf("update cutting task: %w", err)
		}
		if !ok {
			return errState("裁剪任务状态已变化")
		}

		res := def.Resolve("", workflow.StageCutting)
		bundleKey := CuttingBundleKey(task.ID)
		delta, err := s.aggregator.Accept(ctx, repos, order, bundleKey, res.Key, total, nil, op, now)
		if err != nil {
			return err
		}
		rec := &entity.ScanRecord{
			RequestID:        uuid.New().String(),
			TenantID:         order.TenantID,
			ScanCode:         bundleKey,
			ScanType:         entity.ScanTypeProduction,
			ProcessCode:      res.Key,
			ProcessName:      res.Name,
			Stage:            string(workflow.StageCutting),
			StageKey:         res.Key,
			StageNodeIndex:   res.Index,
			OrderID:          order.ID,
			OrderNo:          order.OrderNo,
			StyleID:          order.StyleID,
			StyleNo:          order.StyleNo,
			Quantity:         total,
			AcceptedQuantity: delta.Accepted,
			OperatorID:       op.UserID,
			OperatorName:     op.Username,
			ScanTime:         now,
			ScanResult:       entity.ScanResultSuccess,
			Remark:           fmt.Sprintf("生成菲号 %d 扎", len(bundles)),
			CuttingTaskID:    task.ID,
		}
		if err := repos.Scan.Create(ctx, rec); err != nil {
			return fmt.Errorf("create cutting scan: %w", err)
		}

		task.Status = entity.CuttingTaskBundled
		task.BundledAt = &now
		task.BundledBy = op.UserID
		result.Task = task
		result.ScanRecordID = rec.ID

		if result.TrackingRows, err = s.tracking.initialize(ctx, repos, order, def); err != nil {
			return err
		}
		if result.Bundles, err = repos.Bundle.ListByOrder(ctx, order.ID); err != nil {
			return fmt.Errorf("list bundles: %w", err)
		}
		moved, err = s.progress.autoAdvance(ctx, repos, order, def, op, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, b := range result.Bundles {
		code := b.QRCode
		if s.signer != nil {
			code = s.signer.Sign(code)
		}
		result.PrintCodes = append(result.PrintCodes, code)
	}

	effects := []SideEffect{
		activityEffect(order.ID, "cutting_task", taskID, order.OrderNo, "generate_bundles", entity.CuttingTaskReceived, entity.CuttingTaskBundled,
			fmt.Sprintf("生成菲号 %d 扎，共 %d 件", len(specs), total), op),
	}
	if moved {
		effects = append(effects, progressEffect(order, def, entity.ProgressActionAuto))
	}
	s.dispatcher.Dispatch(ctx, effects)
	return result, nil
}
