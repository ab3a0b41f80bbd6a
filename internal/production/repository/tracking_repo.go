package repository

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/production/entity"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TrackingRepository 工序计件台账仓库
type TrackingRepository struct {
	db *gorm.DB
}

func NewTrackingRepository(db *gorm.DB) *TrackingRepository {
	return &TrackingRepository{db: db}
}

// CreateMissing 批量插入，已存在的 (菲号, 工序) 跳过，返回新增行数
func (r *TrackingRepository) CreateMissing(ctx context.Context, rows []entity.ProcessTracking) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	for i := range rows {
		if rows[i].ID == "" {
			rows[i].ID = newID()
		}
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, 200)
	return result.RowsAffected, result.Error
}

func (r *TrackingRepository) FindByID(ctx context.Context, id string) (*entity.ProcessTracking, error) {
	var row entity.ProcessTracking
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return &row, nil
}

func (r *TrackingRepository) FindByBundleProcess(ctx context.Context, bundleID, processCode string) (*entity.ProcessTracking, error) {
	var row entity.ProcessTracking
	if err := r.db.WithContext(ctx).Where("bundle_id = ? AND process_code = ?", bundleID, processCode).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return &row, nil
}

func (r *TrackingRepository) ListByOrder(ctx context.Context, orderID string) ([]entity.ProcessTracking, error) {
	var rows []entity.ProcessTracking
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("bundle_no ASC, sequence ASC").
		Find(&rows).Error
	return rows, err
}

func (r *TrackingRepository) ListByIDs(ctx context.Context, ids []string) ([]entity.ProcessTracking, error) {
	var rows []entity.ProcessTracking
	if len(ids) == 0 {
		return rows, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error
	return rows, err
}

// ClaimParams 领取台账行
type ClaimParams struct {
	OperatorID   string
	OperatorName string
	ScanTime     time.Time
	ScanRecordID string
	UnitPrice    decimal.Decimal
	Amount       decimal.Decimal
}

// Claim 仅当行未被扫码且未结算时领取，返回是否成功
func (r *TrackingRepository) Claim(ctx context.Context, id string, p ClaimParams) (bool, error) {
	result := r.db.WithContext(ctx).Model(&entity.ProcessTracking{}).
		Where("id = ? AND scan_status <> ? AND is_settled = ?", id, entity.TrackingScanned, false).
		Updates(map[string]interface{}{
			"scan_status":       entity.TrackingScanned,
			"operator_id":       p.OperatorID,
			"operator_name":     p.OperatorName,
			"scan_time":         p.ScanTime,
			"scan_record_id":    p.ScanRecordID,
			"unit_price":        p.UnitPrice,
			"settlement_amount": p.Amount,
		})
	return result.RowsAffected > 0, result.Error
}

// Refresh 同一操作人再次扫码时更新扫码时间和关联记录
func (r *TrackingRepository) Refresh(ctx context.Context, id, operatorID string, scanTime time.Time, scanRecordID string, unitPrice, amount decimal.Decimal) (bool, error) {
	result := r.db.WithContext(ctx).Model(&entity.ProcessTracking{}).
		Where("id = ? AND operator_id = ? AND scan_status = ? AND is_settled = ?", id, operatorID, entity.TrackingScanned, false).
		Updates(map[string]interface{}{
			"scan_time":         scanTime,
			"scan_record_id":    scanRecordID,
			"unit_price":        unitPrice,
			"settlement_amount": amount,
		})
	return result.RowsAffected > 0, result.Error
}

// Reopen 撤销扫码后重新开放，金额保留为单价×数量，已结算行不动
func (r *TrackingRepository) Reopen(ctx context.Context, id, status, reason, by string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&entity.ProcessTracking{}).
		Where("id = ? AND is_settled = ?", id, false).
		Updates(map[string]interface{}{
			"scan_status":    status,
			"operator_id":    "",
			"operator_name":  "",
			"scan_time":      nil,
			"scan_record_id": "",
			"reset_reason":   reason,
			"reset_by":       by,
			"reset_at":       at,
		})
	return result.RowsAffected > 0, result.Error
}

// UpdatePrice 更新未结算行的单价和金额
func (r *TrackingRepository) UpdatePrice(ctx context.Context, id string, unitPrice, amount decimal.Decimal) (bool, error) {
	result := r.db.WithContext(ctx).Model(&entity.ProcessTracking{}).
		Where("id = ? AND is_settled = ?", id, false).
		Updates(map[string]interface{}{
			"unit_price":        unitPrice,
			"settlement_amount": amount,
		})
	return result.RowsAffected > 0, result.Error
}

// Settle 结算锁定
func (r *TrackingRepository) Settle(ctx context.Context, ids []string, batchID string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Model(&entity.ProcessTracking{}).
		Where("id IN ? AND is_settled = ? AND scan_status = ?", ids, false, entity.TrackingScanned).
		Updates(map[string]interface{}{
			"is_settled":          true,
			"settlement_batch_id": batchID,
			"settled_at":          at,
		})
	return result.RowsAffected, result.Error
}

// CountSettledByOrder 订单已结算行数
func (r *TrackingRepository) CountSettledByOrder(ctx context.Context, orderID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entity.ProcessTracking{}).
		Where("order_id = ? AND is_settled = ?", orderID, true).
		Count(&n).Error
	return n, err
}

// DeleteByOrder 删除订单全部未结算台账
func (r *TrackingRepository) DeleteByOrder(ctx context.Context, orderID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("order_id = ? AND is_settled = ?", orderID, false).
		Delete(&entity.ProcessTracking{})
	return result.RowsAffected, result.Error
}
