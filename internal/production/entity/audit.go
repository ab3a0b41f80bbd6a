package entity

import "time"

// 进度日志动作
const (
	ProgressActionAuto      = "auto"
	ProgressActionAdvance   = "advance"
	ProgressActionRollback  = "rollback"
	ProgressActionRecompute = "recompute"
)

// OrderProgressLog 订单进度变更记录（含回退审计）
type OrderProgressLog struct {
	ID               string    `json:"id" gorm:"primaryKey;size:32"`
	OrderID          string    `json:"order_id" gorm:"size:32;index;not null"`
	Action           string    `json:"action" gorm:"size:20;not null"`
	FromIndex        int       `json:"from_index"`
	ToIndex          int       `json:"to_index"`
	FromProgress     int       `json:"from_progress"`
	ToProgress       int       `json:"to_progress"`
	FromNode         string    `json:"from_node" gorm:"size:100"`
	ToNode           string    `json:"to_node" gorm:"size:100"`
	Reason           string    `json:"reason" gorm:"size:500"`
	InvalidatedCount int       `json:"invalidated_count"`
	OperatorID       string    `json:"operator_id" gorm:"size:32"`
	OperatorName     string    `json:"operator_name" gorm:"size:100"`
	CreatedAt        time.Time `json:"created_at" gorm:"index"`
}

func (OrderProgressLog) TableName() string {
	return "t_order_progress_log"
}

// ActivityLog 生产操作日志
type ActivityLog struct {
	ID         string `json:"id" gorm:"primaryKey;size:32"`
	EntityType string `json:"entity_type" gorm:"size:50;not null;index:idx_activity_entity"` // scan/tracking/order/cutting_task
	EntityID   string `json:"entity_id" gorm:"size:32;not null;index:idx_activity_entity"`
	EntityCode string `json:"entity_code" gorm:"size:50"`

	Action     string `json:"action" gorm:"size:50;not null"`
	FromStatus string `json:"from_status" gorm:"size:20"`
	ToStatus   string `json:"to_status" gorm:"size:20"`

	Content  string `json:"content" gorm:"type:text"`
	Metadata JSONB  `json:"metadata" gorm:"type:jsonb"`

	OperatorID   string    `json:"operator_id" gorm:"size:32"`
	OperatorName string    `json:"operator_name" gorm:"size:100"`
	CreatedAt    time.Time `json:"created_at"`
}

func (ActivityLog) TableName() string {
	return "t_production_activity_log"
}

// 外发任务状态
const (
	OutboxPending = "pending"
	OutboxFailed  = "failed"
	OutboxDone    = "done"
)

// SideEffectOutbox 事务外副作用的失败记录，可重试
type SideEffectOutbox struct {
	ID        string    `json:"id" gorm:"primaryKey;size:32"`
	Kind      string    `json:"kind" gorm:"size:50;not null"`
	OrderID   string    `json:"order_id" gorm:"size:32;index"`
	Payload   JSONB     `json:"payload" gorm:"type:jsonb"`
	Status    string    `json:"status" gorm:"size:20;default:pending;index"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SideEffectOutbox) TableName() string {
	return "t_side_effect_outbox"
}
