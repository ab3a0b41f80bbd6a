package repository

import (
	"context"

	"github.com/bitfantasy/nimo-mes/internal/production/entity"
	"gorm.io/gorm"
)

// ProgressLogRepository 订单进度日志仓库
type ProgressLogRepository struct {
	db *gorm.DB
}

func NewProgressLogRepository(db *gorm.DB) *ProgressLogRepository {
	return &ProgressLogRepository{db: db}
}

func (r *ProgressLogRepository) Create(ctx context.Context, log *entity.OrderProgressLog) error {
	if log.ID == "" {
		log.ID = newID()
	}
	return r.db.WithContext(ctx).Create(log).Error
}

// LatestEntry 订单最近一次进入 toIndex 节点的记录
func (r *ProgressLogRepository) LatestEntry(ctx context.Context, orderID string, toIndex int) (*entity.OrderProgressLog, error) {
	var log entity.OrderProgressLog
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND to_index = ?", orderID, toIndex).
		Order("created_at DESC").
		First(&log).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &log, nil
}

func (r *ProgressLogRepository) ListByOrder(ctx context.Context, orderID string) ([]entity.OrderProgressLog, error) {
	var items []entity.OrderProgressLog
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at ASC").Find(&items).Error
	return items, err
}

// ActivityLogRepository 操作日志仓库
type ActivityLogRepository struct {
	db *gorm.DB
}

func NewActivityLogRepository(db *gorm.DB) *ActivityLogRepository {
	return &ActivityLogRepository{db: db}
}

// Create 创建操作日志
func (r *ActivityLogRepository) Create(ctx context.Context, log *entity.ActivityLog) error {
	if log.ID == "" {
		log.ID = newID()
	}
	return r.db.WithContext(ctx).Create(log).Error
}

// FindByEntity 查询某实体的操作日志
func (r *ActivityLogRepository) FindByEntity(ctx context.Context, entityType, entityID string, page, pageSize int) ([]entity.ActivityLog, int64, error) {
	var items []entity.ActivityLog
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.ActivityLog{}).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

// OutboxRepository 副作用外发记录仓库
type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Create(ctx context.Context, item *entity.SideEffectOutbox) error {
	if item.ID == "" {
		item.ID = newID()
	}
	return r.db.WithContext(ctx).Create(item).Error
}

// ListRetryable 待重试的记录
func (r *OutboxRepository) ListRetryable(ctx context.Context, maxAttempts, limit int) ([]entity.SideEffectOutbox, error) {
	var items []entity.SideEffectOutbox
	err := r.db.WithContext(ctx).
		Where("status IN ? AND attempts < ?", []string{entity.OutboxPending, entity.OutboxFailed}, maxAttempts).
		Order("created_at ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (r *OutboxRepository) MarkDone(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&entity.SideEffectOutbox{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":   entity.OutboxDone,
			"attempts": gorm.Expr("attempts + 1"),
		}).Error
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id, lastErr string) error {
	return r.db.WithContext(ctx).Model(&entity.SideEffectOutbox{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     entity.OutboxFailed,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": lastErr,
		}).Error
}

func (r *OutboxRepository) ListByOrder(ctx context.Context, orderID string) ([]entity.SideEffectOutbox, error) {
	var items []entity.SideEffectOutbox
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at ASC").Find(&items).Error
	return items, err
}
