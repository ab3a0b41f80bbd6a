package entity

import "time"

// 扫码类型
const (
	ScanTypeProduction = "production"
	ScanTypeQuality    = "quality"
	ScanTypeWarehouse  = "warehouse"
)

// 扫码结果
const (
	ScanResultSuccess = "success"
	ScanResultFailure = "failure"
)

// ScanRecord 扫码记录。仅追加，作废时 scan_result 改为 failure
type ScanRecord struct {
	ID        string `json:"id" gorm:"primaryKey;size:32"`
	RequestID string `json:"request_id" gorm:"size:64;uniqueIndex;not null"`
	TenantID  string `json:"tenant_id" gorm:"size:32;index"`

	ScanCode       string `json:"scan_code" gorm:"size:255;index"`
	ScanType       string `json:"scan_type" gorm:"size:20;index;not null"`
	ProcessCode    string `json:"process_code" gorm:"size:64"`
	ProcessName    string `json:"process_name" gorm:"size:100"`
	ProgressStage  string `json:"progress_stage" gorm:"size:100"`
	Stage          string `json:"stage" gorm:"size:30"`            // 标准阶段
	StageKey       string `json:"stage_key" gorm:"size:100;index"` // 数量聚合维度
	StageNodeIndex int    `json:"stage_node_index"`

	OrderID      string `json:"order_id" gorm:"size:32;index"`
	OrderNo      string `json:"order_no" gorm:"size:50"`
	StyleID      string `json:"style_id" gorm:"size:32"`
	StyleNo      string `json:"style_no" gorm:"size:50"`
	BundleID     string `json:"bundle_id" gorm:"size:32;index"`
	BundleNo     int    `json:"bundle_no"`
	BundleQRCode string `json:"bundle_qr_code" gorm:"size:200"`
	Color        string `json:"color" gorm:"size:50"`
	Size         string `json:"size" gorm:"size:20"`

	Quantity            int `json:"quantity"`          // 上报的累计数量
	AcceptedQuantity    int `json:"accepted_quantity"` // 本次有效增量
	QualifiedQuantity   int `json:"qualified_quantity"`
	UnqualifiedQuantity int `json:"unqualified_quantity"`

	OperatorID   string    `json:"operator_id" gorm:"size:32;index"`
	OperatorName string    `json:"operator_name" gorm:"size:100"`
	ScanTime     time.Time `json:"scan_time" gorm:"index"`
	ScanResult   string    `json:"scan_result" gorm:"size:20;default:success"`
	Remark       string    `json:"remark" gorm:"size:500"`

	CuttingTaskID string  `json:"cutting_task_id" gorm:"size:32"`
	TrackingRowID string  `json:"tracking_row_id" gorm:"size:32"`
	SettlementID  *string `json:"settlement_id" gorm:"size:32"`

	InvalidatedAt *time.Time `json:"invalidated_at"`
	InvalidatedBy string     `json:"invalidated_by" gorm:"size:32"`
	InvalidReason string     `json:"invalid_reason" gorm:"size:200"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ScanRecord) TableName() string {
	return "t_scan_record"
}

// IsSettled 已结算的扫码不可修改
func (r *ScanRecord) IsSettled() bool {
	return r.SettlementID != nil && *r.SettlementID != ""
}

// ScanRequest 请求ID占位，首个写入者生效，不过期
type ScanRequest struct {
	RequestID    string    `json:"request_id" gorm:"primaryKey;size:64"`
	ScanRecordID string    `json:"scan_record_id" gorm:"size:32"`
	Outcome      JSONB     `json:"outcome" gorm:"type:jsonb"`
	CreatedAt    time.Time `json:"created_at"`
}

func (ScanRequest) TableName() string {
	return "t_scan_request"
}
