package entity

import "time"

// 库存流水类型
const (
	MovementWarehouseIn = "warehouse_in"
	MovementUndoOut     = "undo_out"
)

// FinishedGoodsStock 成品库存，按订单+颜色+尺码
type FinishedGoodsStock struct {
	ID           string     `json:"id" gorm:"primaryKey;size:32"`
	TenantID     string     `json:"tenant_id" gorm:"size:32;index"`
	OrderID      string     `json:"order_id" gorm:"size:32;uniqueIndex:uk_stock_sku"`
	StyleNo      string     `json:"style_no" gorm:"size:50"`
	Color        string     `json:"color" gorm:"size:50;uniqueIndex:uk_stock_sku"`
	Size         string     `json:"size" gorm:"size:20;uniqueIndex:uk_stock_sku"`
	Quantity     int        `json:"quantity"`
	AvailableQty int        `json:"available_qty"`
	LastMovedAt  *time.Time `json:"last_moved_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (FinishedGoodsStock) TableName() string {
	return "t_finished_goods_stock"
}

// StockMovement 库存流水，数量正数入库负数出库
type StockMovement struct {
	ID            string    `json:"id" gorm:"primaryKey;size:32"`
	StockID       string    `json:"stock_id" gorm:"size:32;index"`
	OrderID       string    `json:"order_id" gorm:"size:32;index"`
	MovementType  string    `json:"movement_type" gorm:"size:30"`
	Quantity      int       `json:"quantity"`
	ReferenceType string    `json:"reference_type" gorm:"size:30"`
	ReferenceID   string    `json:"reference_id" gorm:"size:32;index"`
	CreatedBy     string    `json:"created_by" gorm:"size:32"`
	CreatedAt     time.Time `json:"created_at"`
}

func (StockMovement) TableName() string {
	return "t_stock_movement"
}
