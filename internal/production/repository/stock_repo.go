package repository

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/production/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockRepository 成品库存仓库
type StockRepository struct {
	db *gorm.DB
}

func NewStockRepository(db *gorm.DB) *StockRepository {
	return &StockRepository{db: db}
}

// EnsureSKU 获取订单+颜色+尺码的库存行，不存在时创建
func (r *StockRepository) EnsureSKU(ctx context.Context, tenantID, orderID, styleNo, color, size string) (*entity.FinishedGoodsStock, error) {
	row := &entity.FinishedGoodsStock{
		ID:       newID(),
		TenantID: tenantID,
		OrderID:  orderID,
		StyleNo:  styleNo,
		Color:    color,
		Size:     size,
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil && !IsUniqueViolation(err) {
		return nil, err
	}
	return r.FindSKU(ctx, orderID, color, size)
}

func (r *StockRepository) FindSKU(ctx context.Context, orderID, color, size string) (*entity.FinishedGoodsStock, error) {
	var row entity.FinishedGoodsStock
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND color = ? AND size = ?", orderID, color, size).
		First(&row).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &row, nil
}

// Adjust 原子调整库存；减少时要求可用数量足够，返回是否成功
func (r *StockRepository) Adjust(ctx context.Context, id string, delta int, at time.Time) (bool, error) {
	query := r.db.WithContext(ctx).Model(&entity.FinishedGoodsStock{}).Where("id = ?", id)
	if delta < 0 {
		query = query.Where("available_qty >= ?", -delta)
	}
	result := query.Updates(map[string]interface{}{
		"quantity":      gorm.Expr("quantity + ?", delta),
		"available_qty": gorm.Expr("available_qty + ?", delta),
		"last_moved_at": at,
	})
	return result.RowsAffected > 0, result.Error
}

func (r *StockRepository) CreateMovement(ctx context.Context, m *entity.StockMovement) error {
	if m.ID == "" {
		m.ID = newID()
	}
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *StockRepository) ListByOrder(ctx context.Context, orderID string) ([]entity.FinishedGoodsStock, error) {
	var rows []entity.FinishedGoodsStock
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Find(&rows).Error
	return rows, err
}
