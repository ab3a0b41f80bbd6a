package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// 台账扫码状态
const (
	TrackingPending = "pending"
	TrackingScanned = "scanned"
	TrackingReset   = "reset"
)

// ProcessTracking 工序计件台账，每个(菲号,工序)一行
type ProcessTracking struct {
	ID          string `json:"id" gorm:"primaryKey;size:32"`
	TenantID    string `json:"tenant_id" gorm:"size:32;index"`
	OrderID     string `json:"order_id" gorm:"size:32;index;not null"`
	OrderNo     string `json:"order_no" gorm:"size:50"`
	BundleID    string `json:"bundle_id" gorm:"size:32;not null;uniqueIndex:uk_tracking_bundle_process"`
	BundleNo    int    `json:"bundle_no"`
	Color       string `json:"color" gorm:"size:50"`
	Size        string `json:"size" gorm:"size:20"`
	ProcessCode string `json:"process_code" gorm:"size:64;not null;uniqueIndex:uk_tracking_bundle_process"`
	ProcessName string `json:"process_name" gorm:"size:100"`
	Sequence    int    `json:"sequence"`

	UnitPrice decimal.Decimal `json:"unit_price" gorm:"type:decimal(12,4);default:0"`
	Quantity  int             `json:"quantity"` // 菲号数量

	ScanStatus   string     `json:"scan_status" gorm:"size:20;default:pending;index"`
	OperatorID   string     `json:"operator_id" gorm:"size:32"`
	OperatorName string     `json:"operator_name" gorm:"size:100"`
	ScanTime     *time.Time `json:"scan_time"`
	ScanRecordID string     `json:"scan_record_id" gorm:"size:32"`

	SettlementAmount  decimal.Decimal `json:"settlement_amount" gorm:"type:decimal(14,4);default:0"`
	IsSettled         bool            `json:"is_settled" gorm:"default:false"`
	SettlementBatchID string          `json:"settlement_batch_id" gorm:"size:32"`
	SettledAt         *time.Time      `json:"settled_at"`

	ResetReason string     `json:"reset_reason" gorm:"size:200"`
	ResetBy     string     `json:"reset_by" gorm:"size:32"`
	ResetAt     *time.Time `json:"reset_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ProcessTracking) TableName() string {
	return "t_process_tracking"
}

// Amount 单价 × 菲号数量
func (p *ProcessTracking) Amount() decimal.Decimal {
	return p.UnitPrice.Mul(decimal.NewFromInt(int64(p.Quantity)))
}
