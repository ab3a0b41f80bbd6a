package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB JSONB类型
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("failed to scan JSONB: %v", value)
	}
	return json.Unmarshal(raw, j)
}

// All 需要迁移的全部模型
func All() []interface{} {
	return []interface{}{
		&ProductionOrder{},
		&CuttingTask{},
		&CuttingBundle{},
		&ScanRecord{},
		&ScanRequest{},
		&BundleStageQuantity{},
		&OrderStageTotal{},
		&ProcessTracking{},
		&OrderProgressLog{},
		&ActivityLog{},
		&SideEffectOutbox{},
		&FinishedGoodsStock{},
		&StockMovement{},
	}
}
