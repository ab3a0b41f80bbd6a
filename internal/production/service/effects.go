package service

import (
	"encoding/json"

	"github.com/bitfantasy/nimo-mes/internal/production/entity"
	"github.com/bitfantasy/nimo-mes/internal/production/workflow"
)

// EffectKind 事务提交后执行的副作用类型
type EffectKind string

const (
	EffectProgressPush   EffectKind = "progress_push"
	EffectActivityLog    EffectKind = "activity_log"
	EffectRollbackNotify EffectKind = "rollback_notify"
	EffectUndoNotify     EffectKind = "undo_notify"
)

// SideEffect 核心事务返回的待执行任务
type SideEffect struct {
	Kind     EffectKind
	OrderID  string
	TenantID string
	Payload  entity.JSONB
}

func progressEffect(order *entity.ProductionOrder, def *workflow.Definition, action string) SideEffect {
	nodeName := ""
	if n, ok := def.Node(order.ProgressNodeIndex); ok {
		nodeName = n.Name
	}
	return SideEffect{
		Kind:     EffectProgressPush,
		OrderID:  order.ID,
		TenantID: order.TenantID,
		Payload: entity.JSONB{
			"order_no":   order.OrderNo,
			"progress":   order.ProductionProgress,
			"node_index": order.ProgressNodeIndex,
			"node_name":  nodeName,
			"action":     action,
		},
	}
}

func activityEffect(orderID, entityType, entityID, entityCode, action, fromStatus, toStatus, content string, op Identity) SideEffect {
	return SideEffect{
		Kind:     EffectActivityLog,
		OrderID:  orderID,
		TenantID: op.TenantID,
		Payload: entity.JSONB{
			"entity_type":   entityType,
			"entity_id":     entityID,
			"entity_code":   entityCode,
			"action":        action,
			"from_status":   fromStatus,
			"to_status":     toStatus,
			"content":       content,
			"operator_id":   op.UserID,
			"operator_name": op.Username,
		},
	}
}

func payloadString(p entity.JSONB, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// 经过数据库往返后数字会变成 float64
func payloadInt(p entity.JSONB, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

// toJSONB 结构体转 JSONB
func toJSONB(v interface{}) (entity.JSONB, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out entity.JSONB
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// fromJSONB JSONB 转结构体
func fromJSONB(j entity.JSONB, v interface{}) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
