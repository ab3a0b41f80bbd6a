package repository

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/production/entity"
	"gorm.io/gorm"
)

// OrderRepository 生产订单仓库
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, o *entity.ProductionOrder) error {
	if o.ID == "" {
		o.ID = newID()
	}
	return r.db.WithContext(ctx).Create(o).Error
}

func (r *OrderRepository) FindByID(ctx context.Context, id string) (*entity.ProductionOrder, error) {
	var o entity.ProductionOrder
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&o).Error; err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (r *OrderRepository) FindByOrderNo(ctx context.Context, orderNo string) (*entity.ProductionOrder, error) {
	var o entity.ProductionOrder
	if err := r.db.WithContext(ctx).Where("order_no = ?", orderNo).First(&o).Error; err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

// SetProgress 仅当当前节点仍为 fromIndex 时更新进度，返回是否更新成功
func (r *OrderRepository) SetProgress(ctx context.Context, id string, fromIndex, toIndex, progress int, status string, completedAt *time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&entity.ProductionOrder{}).
		Where("id = ? AND progress_node_index = ?", id, fromIndex).
		Updates(map[string]interface{}{
			"progress_node_index": toIndex,
			"production_progress": progress,
			"status":              status,
			"completed_at":        completedAt,
		})
	return result.RowsAffected > 0, result.Error
}

// UpdateFields 更新订单字段
func (r *OrderRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&entity.ProductionOrder{}).Where("id = ?", id).Updates(fields).Error
}

// CuttingTaskRepository 裁剪任务仓库
type CuttingTaskRepository struct {
	db *gorm.DB
}

func NewCuttingTaskRepository(db *gorm.DB) *CuttingTaskRepository {
	return &CuttingTaskRepository{db: db}
}

func (r *CuttingTaskRepository) Create(ctx context.Context, t *entity.CuttingTask) error {
	if t.ID == "" {
		t.ID = newID()
	}
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *CuttingTaskRepository) FindByID(ctx context.Context, id string) (*entity.CuttingTask, error) {
	var t entity.CuttingTask
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// FindByOrder 订单的裁剪任务，优先取已领取的
func (r *CuttingTaskRepository) FindByOrder(ctx context.Context, orderID string) (*entity.CuttingTask, error) {
	var t entity.CuttingTask
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("received_at IS NULL, received_at DESC").
		First(&t).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// TransitStatus 状态流转，仅当当前状态为 from 时成功
func (r *CuttingTaskRepository) TransitStatus(ctx context.Context, id, from, to string, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	result := r.db.WithContext(ctx).Model(&entity.CuttingTask{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return result.RowsAffected > 0, result.Error
}

// BundleRepository 菲号仓库
type BundleRepository struct {
	db *gorm.DB
}

func NewBundleRepository(db *gorm.DB) *BundleRepository {
	return &BundleRepository{db: db}
}

func (r *BundleRepository) CreateBatch(ctx context.Context, bundles []entity.CuttingBundle) error {
	for i := range bundles {
		if bundles[i].ID == "" {
			bundles[i].ID = newID()
		}
	}
	if len(bundles) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(bundles, 200).Error
}

func (r *BundleRepository) FindByID(ctx context.Context, id string) (*entity.CuttingBundle, error) {
	var b entity.CuttingBundle
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (r *BundleRepository) FindByQRCode(ctx context.Context, code string) (*entity.CuttingBundle, error) {
	var b entity.CuttingBundle
	if err := r.db.WithContext(ctx).Where("qr_code = ?", code).First(&b).Error; err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (r *BundleRepository) ListByOrder(ctx context.Context, orderID string) ([]entity.CuttingBundle, error) {
	var items []entity.CuttingBundle
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("bundle_no ASC").Find(&items).Error
	return items, err
}

func (r *BundleRepository) CountByOrder(ctx context.Context, orderID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entity.CuttingBundle{}).Where("order_id = ?", orderID).Count(&n).Error
	return n, err
}

// DeleteByOrder 删除订单的全部菲号
func (r *BundleRepository) DeleteByOrder(ctx context.Context, orderID string) (int64, error) {
	result := r.db.WithContext(ctx).Where("order_id = ?", orderID).Delete(&entity.CuttingBundle{})
	return result.RowsAffected, result.Error
}
