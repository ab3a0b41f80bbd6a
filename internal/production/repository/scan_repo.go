package repository

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/production/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ScanRepository 扫码记录仓库
type ScanRepository struct {
	db *gorm.DB
}

func NewScanRepository(db *gorm.DB) *ScanRepository {
	return &ScanRepository{db: db}
}

func (r *ScanRepository) Create(ctx context.Context, rec *entity.ScanRecord) error {
	if rec.ID == "" {
		rec.ID = newID()
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *ScanRepository) FindByID(ctx context.Context, id string) (*entity.ScanRecord, error) {
	var rec entity.ScanRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (r *ScanRepository) FindByRequestID(ctx context.Context, requestID string) (*entity.ScanRecord, error) {
	var rec entity.ScanRecord
	if err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&rec).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

// FindLatestMatch 按 (扫码内容, 扫码类型, 操作人) 查找最近一条有效扫码
func (r *ScanRepository) FindLatestMatch(ctx context.Context, scanCode, scanType, operatorID string) (*entity.ScanRecord, error) {
	var rec entity.ScanRecord
	err := r.db.WithContext(ctx).
		Where("scan_code = ? AND scan_type = ? AND operator_id = ? AND scan_result = ?",
			scanCode, scanType, operatorID, entity.ScanResultSuccess).
		Order("scan_time DESC, created_at DESC").
		First(&rec).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

// ScanListParams 扫码记录查询条件
type ScanListParams struct {
	OrderID    string
	BundleID   string
	ScanType   string
	ScanResult string
	Page       int
	PageSize   int
}

func (r *ScanRepository) List(ctx context.Context, p ScanListParams) ([]entity.ScanRecord, int64, error) {
	var items []entity.ScanRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.ScanRecord{})
	if p.OrderID != "" {
		query = query.Where("order_id = ?", p.OrderID)
	}
	if p.BundleID != "" {
		query = query.Where("bundle_id = ?", p.BundleID)
	}
	if p.ScanType != "" {
		query = query.Where("scan_type = ?", p.ScanType)
	}
	if p.ScanResult != "" {
		query = query.Where("scan_result = ?", p.ScanResult)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = 20
	}
	err := query.Order("scan_time DESC").Offset((p.Page - 1) * p.PageSize).Limit(p.PageSize).Find(&items).Error
	return items, total, err
}

// ListSuccessByOrder 订单全部有效扫码，按时间正序
func (r *ScanRepository) ListSuccessByOrder(ctx context.Context, orderID string) ([]entity.ScanRecord, error) {
	var items []entity.ScanRecord
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND scan_result = ?", orderID, entity.ScanResultSuccess).
		Order("scan_time ASC, created_at ASC").
		Find(&items).Error
	return items, err
}

// FindRollbackTargets 回退需要作废的扫码：节点下标 >= fromIndex 且扫码时间不早于 since，已结算的不动
func (r *ScanRepository) FindRollbackTargets(ctx context.Context, orderID string, fromIndex int, since time.Time) ([]entity.ScanRecord, error) {
	var items []entity.ScanRecord
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND scan_result = ? AND stage_node_index >= ? AND scan_time >= ?",
			orderID, entity.ScanResultSuccess, fromIndex, since).
		Where("settlement_id IS NULL").
		Find(&items).Error
	return items, err
}

// Invalidate 将有效扫码标记为失败，返回实际作废条数
func (r *ScanRepository) Invalidate(ctx context.Context, ids []string, by, reason string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Model(&entity.ScanRecord{}).
		Where("id IN ? AND scan_result = ? AND settlement_id IS NULL", ids, entity.ScanResultSuccess).
		Updates(map[string]interface{}{
			"scan_result":    entity.ScanResultFailure,
			"invalidated_at": at,
			"invalidated_by": by,
			"invalid_reason": reason,
		})
	return result.RowsAffected, result.Error
}

// SetTrackingRow 关联台账行
func (r *ScanRepository) SetTrackingRow(ctx context.Context, id, rowID string) error {
	return r.db.WithContext(ctx).Model(&entity.ScanRecord{}).Where("id = ?", id).
		Update("tracking_row_id", rowID).Error
}

// MarkSettled 结算时锁定扫码记录
func (r *ScanRepository) MarkSettled(ctx context.Context, ids []string, settlementID string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&entity.ScanRecord{}).
		Where("id IN ? AND settlement_id IS NULL", ids).
		Update("settlement_id", settlementID).Error
}

// ScanRequestRepository 请求ID占位仓库
type ScanRequestRepository struct {
	db *gorm.DB
}

func NewScanRequestRepository(db *gorm.DB) *ScanRequestRepository {
	return &ScanRequestRepository{db: db}
}

// Reserve 插入请求ID，已存在时返回 false
func (r *ScanRequestRepository) Reserve(ctx context.Context, requestID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entity.ScanRequest{RequestID: requestID})
	if result.Error != nil {
		if IsUniqueViolation(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *ScanRequestRepository) Find(ctx context.Context, requestID string) (*entity.ScanRequest, error) {
	var req entity.ScanRequest
	if err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&req).Error; err != nil {
		return nil, notFound(err)
	}
	return &req, nil
}

// Complete 写入处理结果
func (r *ScanRequestRepository) Complete(ctx context.Context, requestID, scanRecordID string, outcome entity.JSONB) error {
	return r.db.WithContext(ctx).Model(&entity.ScanRequest{}).
		Where("request_id = ?", requestID).
		Updates(map[string]interface{}{
			"scan_record_id": scanRecordID,
			"outcome":        outcome,
		}).Error
}
