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

// CreateOrderInput 创建生产订单
type CreateOrderInput struct {
	OrderNo       string `json:"order_no" binding:"required"`
	StyleID       string `json:"style_id"`
	StyleNo       string `json:"style_no"`
	OrderQuantity int    `json:"order_quantity" binding:"required"`
	Workflow      string `json:"workflow"`
}

// StageProgress 工序累计数量
type StageProgress struct {
	NodeIndex   int        `json:"node_index"`
	Key         string     `json:"key"`
	Name        string     `json:"name"`
	Stage       string     `json:"stage"`
	Total       int        `json:"total"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// OrderDetail 订单及各工序进度
type OrderDetail struct {
	Order  *entity.ProductionOrder `json:"order"`
	Nodes  []workflow.Node         `json:"nodes"`
	Stages []StageProgress         `json:"stages"`
}

// OrderService 生产订单（供扫码核心使用的最小实现）
type OrderService struct {
	repos    *repository.Repositories
	progress *ProgressService
}

func NewOrderService(repos *repository.Repositories, progress *ProgressService) *OrderService {
	return &OrderService{repos: repos, progress: progress}
}

// Create 创建订单，流程JSON在入口处校验
func (s *OrderService) Create(ctx context.Context, input CreateOrderInput, op Identity) (*entity.ProductionOrder, error) {
	if err := op.validate(); err != nil {
		return nil, err
	}
	input.OrderNo = strings.TrimSpace(input.OrderNo)
	if input.OrderNo == "" {
		return nil, errValidation("订单号不能为空")
	}
	if input.OrderQuantity <= 0 {
		return nil, errValidation("订单数量必须大于0")
	}
	if _, err := workflow.Parse(input.Workflow, s.progress.workflows.Aliases()); err != nil {
		return nil, errValidation("工序流程配置无效: %v", err)
	}

	order := &entity.ProductionOrder{
		TenantID:      op.TenantID,
		OrderNo:       input.OrderNo,
		StyleID:       input.StyleID,
		StyleNo:       input.StyleNo,
		OrderQuantity: input.OrderQuantity,
		Status:        entity.OrderStatusPending,
		WorkflowJSON:  input.Workflow,
	}
	if err := s.repos.Order.Create(ctx, order); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, newError(KindConflict, "", "订单号 %s 已存在", input.OrderNo)
		}
		return nil, fmt.Errorf("create order: %w", err)
	}
	return order, nil
}

// Get 订单详情，含各节点累计数量
func (s *OrderService) Get(ctx context.Context, orderID string) (*OrderDetail, error) {
	order, err := s.progress.loadOrder(ctx, s.repos, orderID)
	if err != nil {
		return nil, err
	}
	def, err := s.progress.Definition(order)
	if err != nil {
		return nil, err
	}
	totals, err := s.repos.Aggregate.ListOrderStages(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("list order stages: %w", err)
	}
	byKey := make(map[string]entity.OrderStageTotal, len(totals))
	for _, t := range totals {
		byKey[t.StageKey] = t
	}

	detail := &OrderDetail{Order: order, Nodes: def.Nodes}
	for _, n := range def.Nodes {
		sp := StageProgress{NodeIndex: n.Index, Key: n.ID, Name: n.Name, Stage: string(n.Stage)}
		if t, ok := byKey[n.ID]; ok {
			sp.Total = capQuantity(t.AcceptedTotal, order.OrderQuantity)
			sp.Completed = t.CompletedAt != nil
			sp.CompletedAt = t.CompletedAt
		}
		detail.Stages = append(detail.Stages, sp)
	}
	return detail, nil
}
