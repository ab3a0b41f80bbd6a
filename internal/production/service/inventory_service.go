package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/production/entity"
	"github.com/bitfantasy/nimo-mes/internal/production/repository"
)

// InventoryAdjuster 成品库存增减，在扫码事务内调用
type InventoryAdjuster interface {
	Increase(ctx context.Context, repos *repository.Repositories, rec *entity.ScanRecord, qty int, at time.Time) error
	Decrease(ctx context.Context, repos *repository.Repositories, rec *entity.ScanRecord, qty int, by string, at time.Time) error
}

// InventoryService 成品库存
type InventoryService struct {
	repos *repository.Repositories
}

func NewInventoryService(repos *repository.Repositories) *InventoryService {
	return &InventoryService{repos: repos}
}

var _ InventoryAdjuster = (*InventoryService)(nil)

// Increase 入库扫码增加库存
func (s *InventoryService) Increase(ctx context.Context, repos *repository.Repositories, rec *entity.ScanRecord, qty int, at time.Time) error {
	if qty <= 0 {
		return nil
	}
	stock, err := repos.Stock.EnsureSKU(ctx, rec.TenantID, rec.OrderID, rec.StyleNo, rec.Color, rec.Size)
	if err != nil {
		return fmt.Errorf("ensure stock: %w", err)
	}
	if _, err := repos.Stock.Adjust(ctx, stock.ID, qty, at); err != nil {
		return fmt.Errorf("increase stock: %w", err)
	}
	return repos.Stock.CreateMovement(ctx, &entity.StockMovement{
		StockID:       stock.ID,
		OrderID:       rec.OrderID,
		MovementType:  entity.MovementWarehouseIn,
		Quantity:      qty,
		ReferenceType: "scan_record",
		ReferenceID:   rec.ID,
		CreatedBy:     rec.OperatorID,
		CreatedAt:     at,
	})
}

// Decrease 撤销入库时扣减库存，可用数量不足时中止
func (s *InventoryService) Decrease(ctx context.Context, repos *repository.Repositories, rec *entity.ScanRecord, qty int, by string, at time.Time) error {
	if qty <= 0 {
		return nil
	}
	stock, err := repos.Stock.FindSKU(ctx, rec.OrderID, rec.Color, rec.Size)
	if err != nil {
		return errDependency(ReasonInsufficientStock, err, "可用库存不足，无法撤销入库")
	}
	ok, err := repos.Stock.Adjust(ctx, stock.ID, -qty, at)
	if err != nil {
		return fmt.Errorf("decrease stock: %w", err)
	}
	if !ok {
		return errDependency(ReasonInsufficientStock, nil, "可用库存不足，无法撤销入库（需要 %d，可用 %d）", qty, stock.AvailableQty)
	}
	return repos.Stock.CreateMovement(ctx, &entity.StockMovement{
		StockID:       stock.ID,
		OrderID:       rec.OrderID,
		MovementType:  entity.MovementUndoOut,
		Quantity:      -qty,
		ReferenceType: "scan_record",
		ReferenceID:   rec.ID,
		CreatedBy:     by,
		CreatedAt:     at,
	})
}

// ListStock 订单成品库存
func (s *InventoryService) ListStock(ctx context.Context, orderID string) ([]entity.FinishedGoodsStock, error) {
	return s.repos.Stock.ListByOrder(ctx, orderID)
}
