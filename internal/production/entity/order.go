package entity

import "time"

// 生产订单状态
const (
	OrderStatusPending    = "pending"
	OrderStatusProduction = "production"
	OrderStatusCompleted  = "completed"
)

// ProductionOrder 生产订单
type ProductionOrder struct {
	ID       string `json:"id" gorm:"primaryKey;size:32"`
	TenantID string `json:"tenant_id" gorm:"size:32;index"`
	OrderNo  string `json:"order_no" gorm:"size:50;uniqueIndex;not null"`
	StyleID  string `json:"style_id" gorm:"size:32"`
	StyleNo  string `json:"style_no" gorm:"size:50"`

	OrderQuantity       int    `json:"order_quantity" gorm:"not null"`
	ProductionProgress  int    `json:"production_progress" gorm:"default:0"` // 0-100
	ProgressNodeIndex   int    `json:"progress_node_index" gorm:"default:0"`
	Status              string `json:"status" gorm:"size:20;default:pending"`
	WorkflowJSON        string `json:"workflow_json" gorm:"type:text"`
	MaterialArrivalRate int    `json:"material_arrival_rate" gorm:"default:0"` // 0-100

	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (ProductionOrder) TableName() string {
	return "t_production_order"
}

// 裁剪任务状态
const (
	CuttingTaskPending  = "pending"
	CuttingTaskReceived = "received"
	CuttingTaskBundled  = "bundled"
)

// CuttingTask 裁剪任务，领取后生成菲号
type CuttingTask struct {
	ID           string     `json:"id" gorm:"primaryKey;size:32"`
	TenantID     string     `json:"tenant_id" gorm:"size:32;index"`
	OrderID      string     `json:"order_id" gorm:"size:32;index;not null"`
	OrderNo      string     `json:"order_no" gorm:"size:50"`
	Status       string     `json:"status" gorm:"size:20;default:pending"`
	ReceiverID   string     `json:"receiver_id" gorm:"size:32"`
	ReceiverName string     `json:"receiver_name" gorm:"size:100"`
	ReceivedAt   *time.Time `json:"received_at"`
	BundledAt    *time.Time `json:"bundled_at"`
	BundledBy    string     `json:"bundled_by" gorm:"size:32"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (CuttingTask) TableName() string {
	return "t_cutting_task"
}

// CuttingBundle 菲号（扎）
type CuttingBundle struct {
	ID            string    `json:"id" gorm:"primaryKey;size:32"`
	TenantID      string    `json:"tenant_id" gorm:"size:32;index"`
	OrderID       string    `json:"order_id" gorm:"size:32;index;not null"`
	OrderNo       string    `json:"order_no" gorm:"size:50"`
	StyleNo       string    `json:"style_no" gorm:"size:50"`
	CuttingTaskID string    `json:"cutting_task_id" gorm:"size:32;index"`
	BundleNo      int       `json:"bundle_no" gorm:"not null"`
	QRCode        string    `json:"qr_code" gorm:"size:200;uniqueIndex;not null"`
	Color         string    `json:"color" gorm:"size:50"`
	Size          string    `json:"size" gorm:"size:20"`
	Quantity      int       `json:"quantity" gorm:"not null"`
	Status        string    `json:"status" gorm:"size:20;default:created"`
	CreatedAt     time.Time `json:"created_at"`
}

func (CuttingBundle) TableName() string {
	return "t_cutting_bundle"
}
