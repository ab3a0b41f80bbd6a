package repository

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("record not found")
)

// Repositories 生产仓库集合
type Repositories struct {
	db *gorm.DB

	Order       *OrderRepository
	CuttingTask *CuttingTaskRepository
	Bundle      *BundleRepository
	Scan        *ScanRepository
	ScanRequest *ScanRequestRepository
	Aggregate   *AggregateRepository
	Tracking    *TrackingRepository
	ProgressLog *ProgressLogRepository
	ActivityLog *ActivityLogRepository
	Outbox      *OutboxRepository
	Stock       *StockRepository
}

// NewRepositories 创建生产仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:          db,
		Order:       NewOrderRepository(db),
		CuttingTask: NewCuttingTaskRepository(db),
		Bundle:      NewBundleRepository(db),
		Scan:        NewScanRepository(db),
		ScanRequest: NewScanRequestRepository(db),
		Aggregate:   NewAggregateRepository(db),
		Tracking:    NewTrackingRepository(db),
		ProgressLog: NewProgressLogRepository(db),
		ActivityLog: NewActivityLogRepository(db),
		Outbox:      NewOutboxRepository(db),
		Stock:       NewStockRepository(db),
	}
}

// DB 底层连接
func (r *Repositories) DB() *gorm.DB {
	return r.db
}

// WithTx 绑定到事务的仓库集合
func (r *Repositories) WithTx(tx *gorm.DB) *Repositories {
	return NewRepositories(tx)
}

func newID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// IsUniqueViolation 唯一约束冲突（postgres 23505 / sqlite）
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
