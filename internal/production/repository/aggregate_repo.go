package repository

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/production/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AggregateRepository 菲号/订单工序数量聚合
type AggregateRepository struct {
	db *gorm.DB
}

func NewAggregateRepository(db *gorm.DB) *AggregateRepository {
	return &AggregateRepository{db: db}
}

// EnsureBundleStage 获取 (菲号, 工序) 行，不存在时创建
func (r *AggregateRepository) EnsureBundleStage(ctx context.Context, orderID, bundleID, stageKey string) (*entity.BundleStageQuantity, error) {
	row := &entity.BundleStageQuantity{ID: newID(), OrderID: orderID, BundleID: bundleID, StageKey: stageKey}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil && !IsUniqueViolation(err) {
		return nil, err
	}
	var existing entity.BundleStageQuantity
	if err := r.db.WithContext(ctx).Where("bundle_id = ? AND stage_key = ?", bundleID, stageKey).First(&existing).Error; err != nil {
		return nil, notFound(err)
	}
	return &existing, nil
}

// FindBundleStage 查询 (菲号, 工序) 行
func (r *AggregateRepository) FindBundleStage(ctx context.Context, bundleID, stageKey string) (*entity.BundleStageQuantity, error) {
	var row entity.BundleStageQuantity
	if err := r.db.WithContext(ctx).Where("bundle_id = ? AND stage_key = ?", bundleID, stageKey).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return &row, nil
}

// CompareAndSetMax 仅当当前最大值仍为 oldMax 时写入新值
func (r *AggregateRepository) CompareAndSetMax(ctx context.Context, id string, oldMax, newMax int, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"max_quantity": newMax}
	for k, v := range fields {
		updates[k] = v
	}
	result := r.db.WithContext(ctx).Model(&entity.BundleStageQuantity{}).
		Where("id = ? AND max_quantity = ?", id, oldMax).
		Updates(updates)
	return result.RowsAffected > 0, result.Error
}

// EnsureOrderStage 获取 (订单, 工序) 累计行，不存在时创建
func (r *AggregateRepository) EnsureOrderStage(ctx context.Context, orderID, stageKey string) (*entity.OrderStageTotal, error) {
	row := &entity.OrderStageTotal{ID: newID(), OrderID: orderID, StageKey: stageKey}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil && !IsUniqueViolation(err) {
		return nil, err
	}
	return r.FindOrderStage(ctx, orderID, stageKey)
}

func (r *AggregateRepository) FindOrderStage(ctx context.Context, orderID, stageKey string) (*entity.OrderStageTotal, error) {
	var row entity.OrderStageTotal
	if err := r.db.WithContext(ctx).Where("order_id = ? AND stage_key = ?", orderID, stageKey).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return &row, nil
}

// IncrementOrderStage 原子累加增量
func (r *AggregateRepository) IncrementOrderStage(ctx context.Context, id string, delta int) error {
	return r.db.WithContext(ctx).Model(&entity.OrderStageTotal{}).
		Where("id = ?", id).
		Update("accepted_total", gorm.Expr("accepted_total + ?", delta)).Error
}

// MarkOrderStageComplete 首次达到订单数量时记录完成人和时间
func (r *AggregateRepository) MarkOrderStageComplete(ctx context.Context, id, operatorID, operatorName string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&entity.OrderStageTotal{}).
		Where("id = ? AND completed_at IS NULL", id).
		Updates(map[string]interface{}{
			"completed_at":      at,
			"completed_by":      operatorID,
			"completed_by_name": operatorName,
		})
	return result.RowsAffected > 0, result.Error
}

func (r *AggregateRepository) ListOrderStages(ctx context.Context, orderID string) ([]entity.OrderStageTotal, error) {
	var rows []entity.OrderStageTotal
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Find(&rows).Error
	return rows, err
}

func (r *AggregateRepository) ListBundleStages(ctx context.Context, orderID string) ([]entity.BundleStageQuantity, error) {
	var rows []entity.BundleStageQuantity
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Find(&rows).Error
	return rows, err
}

// ReplaceOrder 用重新计算的结果覆盖订单的全部聚合
func (r *AggregateRepository) ReplaceOrder(ctx context.Context, orderID string, bundles []entity.BundleStageQuantity, totals []entity.OrderStageTotal) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("order_id = ?", orderID).Delete(&entity.BundleStageQuantity{}).Error; err != nil {
		return err
	}
	if err := db.Where("order_id = ?", orderID).Delete(&entity.OrderStageTotal{}).Error; err != nil {
		return err
	}
	for i := range bundles {
		if bundles[i].ID == "" {
			bundles[i].ID = newID()
		}
	}
	for i := range totals {
		if totals[i].ID == "" {
			totals[i].ID = newID()
		}
	}
	if len(bundles) > 0 {
		if err := db.CreateInBatches(bundles, 200).Error; err != nil {
			return err
		}
	}
	if len(totals) > 0 {
		if err := db.CreateInBatches(totals, 200).Error; err != nil {
			return err
		}
	}
	return nil
}
