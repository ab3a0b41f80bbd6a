package entity

import "time"

// BundleStageQuantity 菲号在某工序上的最大上报数量
type BundleStageQuantity struct {
	ID                  string    `json:"id" gorm:"primaryKey;size:32"`
	OrderID             string    `json:"order_id" gorm:"size:32;index"`
	BundleID            string    `json:"bundle_id" gorm:"size:64;uniqueIndex:uk_bundle_stage"`
	StageKey            string    `json:"stage_key" gorm:"size:100;uniqueIndex:uk_bundle_stage"`
	MaxQuantity         int       `json:"max_quantity"`
	QualifiedQuantity   int       `json:"qualified_quantity"`
	UnqualifiedQuantity int       `json:"unqualified_quantity"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (BundleStageQuantity) TableName() string {
	return "t_bundle_stage_quantity"
}

// OrderStageTotal 订单工序累计数量。AcceptedTotal 为原始增量之和，展示时按订单数量封顶
type OrderStageTotal struct {
	ID              string     `json:"id" gorm:"primaryKey;size:32"`
	OrderID         string     `json:"order_id" gorm:"size:32;uniqueIndex:uk_order_stage"`
	StageKey        string     `json:"stage_key" gorm:"size:100;uniqueIndex:uk_order_stage"`
	AcceptedTotal   int        `json:"accepted_total"`
	CompletedAt     *time.Time `json:"completed_at"`
	CompletedBy     string     `json:"completed_by" gorm:"size:32"`
	CompletedByName string     `json:"completed_by_name" gorm:"size:100"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (OrderStageTotal) TableName() string {
	return "t_order_stage_total"
}
