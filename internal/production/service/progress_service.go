package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/production/entity"
	"github.com/bitfantasy/nimo-mes/internal/production/repository"
	"github.com/bitfantasy/nimo-mes/internal/production/workflow"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ProgressService 订单进度状态机
type ProgressService struct {
	repos      *repository.Repositories
	workflows  *workflow.Cache
	aggregator *QuantityAggregator
	dispatcher *Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

func NewProgressService(repos *repository.Repositories, workflows *workflow.Cache, aggregator *QuantityAggregator, dispatcher *Dispatcher, logger *zap.Logger) *ProgressService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressService{
		repos:      repos,
		workflows:  workflows,
		aggregator: aggregator,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// Definition 订单的工序流程
func (s *ProgressService) Definition(order *entity.ProductionOrder) (*workflow.Definition, error) {
	def, err := s.workflows.Get(order.ID, order.WorkflowJSON)
	if err != nil {
		return nil, newError(KindValidation, "", "订单 %s 工序流程配置无效: %v", order.OrderNo, err)
	}
	return def, nil
}

func (s *ProgressService) loadOrder(ctx context.Context, repos *repository.Repositories, orderID string) (*entity.ProductionOrder, error) {
	order, err := repos.Order.FindByID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errNotFound("生产订单不存在")
	}
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	return order, nil
}

// statusForIndex 进度节点对应的订单状态
func statusForIndex(def *workflow.Definition, idx int) string {
	switch {
	case idx >= def.Last() && def.Last() > 0:
		return entity.OrderStatusCompleted
	case idx > 0:
		return entity.OrderStatusProduction
	default:
		return entity.OrderStatusPending
	}
}

// justifiedIndex 数量支撑的最大节点：从节点1起连续完成的节点
func (s *ProgressService) justifiedIndex(ctx context.Context, repos *repository.Repositories, order *entity.ProductionOrder, def *workflow.Definition) (int, error) {
	totals, err := repos.Aggregate.ListOrderStages(ctx, order.ID)
	if err != nil {
		return 0, fmt.Errorf("list order stages: %w", err)
	}
	byKey := make(map[string]int, len(totals))
	for _, t := range totals {
		byKey[t.StageKey] = capQuantity(t.AcceptedTotal, order.OrderQuantity)
	}

	idx := 0
	for i := 1; i < def.Len(); i++ {
		node := def.Nodes[i]
		done := i <= order.ProgressNodeIndex
		if !done {
			if node.Stage == workflow.StageProcurement {
				done = order.MaterialArrivalRate >= 100
			} else {
				done = order.OrderQuantity > 0 && byKey[node.ID] >= order.OrderQuantity
			}
		}
		if !done {
			break
		}
		idx = i
	}
	return idx, nil
}

// moveTo 条件更新订单进度并写进度日志，返回是否更新成功
func (s *ProgressService) moveTo(ctx context.Context, repos *repository.Repositories, order *entity.ProductionOrder, def *workflow.Definition,
	toIdx int, action, reason string, invalidated int, op Identity, at time.Time) (bool, error) {
	fromIdx := order.ProgressNodeIndex
	fromProgress := order.ProductionProgress
	progress := def.Progress(toIdx)
	status := statusForIndex(def, toIdx)
	var completedAt *time.Time
	if status == entity.OrderStatusCompleted {
		completedAt = &at
	}

	ok, err := repos.Order.SetProgress(ctx, order.ID, fromIdx, toIdx, progress, status, completedAt)
	if err != nil {
		return false, fmt.Errorf("update order progress: %w", err)
	}
	if !ok {
		return false, nil
	}

	fromNode, _ := def.Node(fromIdx)
	toNode, _ := def.Node(toIdx)
	entry := &entity.OrderProgressLog{
		OrderID:          order.ID,
		Action:           action,
		FromIndex:        fromIdx,
		ToIndex:          toIdx,
		FromProgress:     fromProgress,
		ToProgress:       progress,
		FromNode:         fromNode.Name,
		ToNode:           toNode.Name,
		Reason:           reason,
		InvalidatedCount: invalidated,
		OperatorID:       op.UserID,
		OperatorName:     op.Username,
		CreatedAt:        at,
	}
	if err := repos.ProgressLog.Create(ctx, entry); err != nil {
		return false, fmt.Errorf("write progress log: %w", err)
	}

	order.ProgressNodeIndex = toIdx
	order.ProductionProgress = progress
	order.Status = status
	order.CompletedAt = completedAt
	return true, nil
}

// autoAdvance 扫码驱动的推进，每次最多一个节点
func (s *ProgressService) autoAdvance(ctx context.Context, repos *repository.Repositories, order *entity.ProductionOrder, def *workflow.Definition, op Identity, at time.Time) (bool, error) {
	justified, err := s.justifiedIndex(ctx, repos, order, def)
	if err != nil {
		return false, err
	}
	target := order.ProgressNodeIndex + 1
	if justified < target {
		target = justified
	}
	if target <= order.ProgressNodeIndex {
		return false, nil
	}
	return s.moveTo(ctx, repos, order, def, target, entity.ProgressActionAuto, "", 0, op, at)
}

// Advance 手动推进进度。普通用户最多推进一个节点，主管可跳到数量支撑的节点
func (s *ProgressService) Advance(ctx context.Context, orderID string, targetProgress int, op Identity) (*entity.ProductionOrder, error) {
	if err := op.validate(); err != nil {
		return nil, err
	}
	now := s.now()

	var order *entity.ProductionOrder
	var def *workflow.Definition
	err := s.repos.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := s.repos.WithTx(tx)
		var err error
		if order, err = s.loadOrder(ctx, repos, orderID); err != nil {
			return err
		}
		if def, err = s.Definition(order); err != nil {
			return err
		}

		cur := order.ProgressNodeIndex
		toIdx := def.IndexForProgress(targetProgress)
		if toIdx <= cur {
			return errState("目标进度 %d%% 不在当前进度 %d%% 之后", targetProgress, order.ProductionProgress)
		}
		if toIdx > cur+1 {
			if !op.IsSupervisor() {
				return errState("只能推进到下一个节点，跨节点推进需要主管权限")
			}
			justified, err := s.justifiedIndex(ctx, repos, order, def)
			if err != nil {
				return err
			}
			if toIdx > justified {
				node, _ := def.Node(justified + 1)
				return errState("节点「%s」数量未完成，不能跳过", node.Name)
			}
		}

		ok, err := s.moveTo(ctx, repos, order, def, toIdx, entity.ProgressActionAdvance, "", 0, op, now)
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

	s.dispatcher.Dispatch(ctx, []SideEffect{
		progressEffect(order, def, entity.ProgressActionAdvance),
		activityEffect(order.ID, "order", order.ID, order.OrderNo, "progress_advance", "", order.Status,
			fmt.Sprintf("推进进度到 %d%%", order.ProductionProgress), op),
	})
	return order, nil
}

// Recompute 重新计算聚合并把进度修复到数量支撑的节点，不会后退
func (s *ProgressService) Recompute(ctx context.Context, orderID string, op Identity) (*entity.ProductionOrder, error) {
	if err := op.validate(); err != nil {
		return nil, err
	}
	if !op.IsSupervisor() {
		return nil, errPermission("重新计算进度需要主管权限")
	}
	now := s.now()

	var order *entity.ProductionOrder
	var def *workflow.Definition
	moved := false
	err := s.repos.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := s.repos.WithTx(tx)
		var err error
		if order, err = s.loadOrder(ctx, repos, orderID); err != nil {
			return err
		}
		if def, err = s.Definition(order); err != nil {
			return err
		}
		if err := s.aggregator.Rebuild(ctx, repos, order, now); err != nil {
			return err
		}
		justified, err := s.justifiedIndex(ctx, repos, order, def)
		if err != nil {
			return err
		}
		if justified <= order.ProgressNodeIndex {
			return nil
		}
		moved, err = s.moveTo(ctx, repos, order, def, justified, entity.ProgressActionRecompute, "", 0, op, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order recomputed",
		zap.String("order_id", order.ID),
		zap.Int("node_index", order.ProgressNodeIndex),
		zap.Bool("moved", moved))
	if moved {
		s.dispatcher.Dispatch(ctx, []SideEffect{progressEffect(order, def, entity.ProgressActionRecompute)})
	}
	return order, nil
}

// SetMaterialArrivalRate 更新物料到货率，到齐后采购节点视为完成
func (s *ProgressService) SetMaterialArrivalRate(ctx context.Context, orderID string, rate int, op Identity) (*entity.ProductionOrder, error) {
	if err := op.validate(); err != nil {
		return nil, err
	}
	if rate < 0 || rate > 100 {
		return nil, errValidation("到货率必须在 0-100 之间")
	}
	now := s.now()

	var order *entity.ProductionOrder
	var def *workflow.Definition
	moved := false
	err := s.repos.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := s.repos.WithTx(tx)
		var err error
		if order, err = s.loadOrder(ctx, repos, orderID); err != nil {
			return err
		}
		if def, err = s.Definition(order); err != nil {
			return err
		}
		if err := repos.Order.UpdateFields(ctx, order.ID, map[string]interface{}{"material_arrival_rate": rate}); err != nil {
			return fmt.Errorf("update arrival rate: %w", err)
		}
		order.MaterialArrivalRate = rate
		moved, err = s.autoAdvance(ctx, repos, order, def, op, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	if moved {
		s.dispatcher.Dispatch(ctx, []SideEffect{progressEffect(order, def, entity.ProgressActionAuto)})
	}
	return order, nil
}

// ListLogs 订单进度日志
func (s *ProgressService) ListLogs(ctx context.Context, orderID string) ([]entity.OrderProgressLog, error) {
	return s.repos.ProgressLog.ListByOrder(ctx, orderID)
}
