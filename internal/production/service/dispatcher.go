package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/production/entity"
	"github.com/bitfantasy/nimo-mes/internal/production/repository"
	"github.com/bitfantasy/nimo-mes/internal/shared/feishu"
	"github.com/bitfantasy/nimo-mes/internal/shared/sse"
	"go.uber.org/zap"
)

// Notifier 消息通知（飞书卡片）
type Notifier interface {
	SendCard(ctx context.Context, chatID string, card feishu.InteractiveCard) error
}

// Dispatcher 在事务提交后执行副作用，失败写入 outbox 等待重试
type Dispatcher struct {
	repos       *repository.Repositories
	hub         *sse.Hub
	notifier    Notifier
	chatID      string
	logger      *zap.Logger
	maxAttempts int
}

func NewDispatcher(repos *repository.Repositories, hub *sse.Hub, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{repos: repos, hub: hub, logger: logger, maxAttempts: 5}
}

// SetNotifier 注入飞书通知
func (d *Dispatcher) SetNotifier(n Notifier, chatID string) {
	d.notifier = n
	d.chatID = chatID
}

// Dispatch 依次执行副作用，单个失败不影响其他
func (d *Dispatcher) Dispatch(ctx context.Context, effects []SideEffect) {
	if d == nil {
		return
	}
	for _, e := range effects {
		if err := d.execute(ctx, e); err != nil {
			d.logger.Warn("side effect failed, recorded to outbox",
				zap.String("kind", string(e.Kind)),
				zap.String("order_id", e.OrderID),
				zap.Error(err))
			d.record(ctx, e, err)
		}
	}
}

func (d *Dispatcher) record(ctx context.Context, e SideEffect, cause error) {
	payload := entity.JSONB{}
	for k, v := range e.Payload {
		payload[k] = v
	}
	payload["tenant_id"] = e.TenantID
	item := &entity.SideEffectOutbox{
		Kind:      string(e.Kind),
		OrderID:   e.OrderID,
		Payload:   payload,
		Status:    entity.OutboxFailed,
		Attempts:  1,
		LastError: cause.Error(),
	}
	if err := d.repos.Outbox.Create(ctx, item); err != nil {
		d.logger.Error("failed to write outbox", zap.String("kind", item.Kind), zap.Error(err))
	}
}

func (d *Dispatcher) execute(ctx context.Context, e SideEffect) error {
	switch e.Kind {
	case EffectProgressPush:
		if d.hub == nil {
			return nil
		}
		return d.hub.PublishOrderProgress(e.TenantID, sse.OrderProgress{
			OrderID:   e.OrderID,
			OrderNo:   payloadString(e.Payload, "order_no"),
			Progress:  payloadInt(e.Payload, "progress"),
			NodeIndex: payloadInt(e.Payload, "node_index"),
			NodeName:  payloadString(e.Payload, "node_name"),
			Action:    payloadString(e.Payload, "action"),
		})

	case EffectActivityLog:
		return d.repos.ActivityLog.Create(ctx, &entity.ActivityLog{
			EntityType:   payloadString(e.Payload, "entity_type"),
			EntityID:     payloadString(e.Payload, "entity_id"),
			EntityCode:   payloadString(e.Payload, "entity_code"),
			Action:       payloadString(e.Payload, "action"),
			FromStatus:   payloadString(e.Payload, "from_status"),
			ToStatus:     payloadString(e.Payload, "to_status"),
			Content:      payloadString(e.Payload, "content"),
			Metadata:     entity.JSONB{"order_id": e.OrderID},
			OperatorID:   payloadString(e.Payload, "operator_id"),
			OperatorName: payloadString(e.Payload, "operator_name"),
		})

	case EffectRollbackNotify:
		if d.notifier == nil || d.chatID == "" {
			return nil
		}
		card := feishu.NewStageRollbackCard(
			payloadString(e.Payload, "order_no"),
			payloadString(e.Payload, "from_node"),
			payloadString(e.Payload, "to_node"),
			payloadString(e.Payload, "reason"),
			payloadString(e.Payload, "operator_name"),
			payloadInt(e.Payload, "invalidated"),
		)
		return d.notifier.SendCard(ctx, d.chatID, card)

	case EffectUndoNotify:
		// 别人撤销的扫码，推送给原扫码人
		if owner := payloadString(e.Payload, "scan_operator"); d.hub != nil && owner != "" && owner != payloadString(e.Payload, "operator_id") {
			data, err := json.Marshal(e.Payload)
			if err != nil {
				return err
			}
			d.hub.SendToUser(owner, sse.Event{EventType: "scan_undone", Data: string(data)})
		}
		if d.notifier == nil || d.chatID == "" {
			return nil
		}
		card := feishu.NewScanUndoCard(
			payloadString(e.Payload, "order_no"),
			fmt.Sprintf("%d", payloadInt(e.Payload, "bundle_no")),
			payloadString(e.Payload, "process_name"),
			payloadString(e.Payload, "action"),
			payloadString(e.Payload, "operator_name"),
		)
		return d.notifier.SendCard(ctx, d.chatID, card)
	}
	return fmt.Errorf("unknown side effect kind %q", e.Kind)
}

// RetryFailed 重试 outbox 中失败的副作用，返回成功条数
func (d *Dispatcher) RetryFailed(ctx context.Context, limit int) (int, error) {
	items, err := d.repos.Outbox.ListRetryable(ctx, d.maxAttempts, limit)
	if err != nil {
		return 0, fmt.Errorf("list outbox: %w", err)
	}
	done := 0
	for _, item := range items {
		e := SideEffect{
			Kind:     EffectKind(item.Kind),
			OrderID:  item.OrderID,
			TenantID: payloadString(item.Payload, "tenant_id"),
			Payload:  item.Payload,
		}
		if err := d.execute(ctx, e); err != nil {
			if markErr := d.repos.Outbox.MarkFailed(ctx, item.ID, err.Error()); markErr != nil {
				d.logger.Error("failed to update outbox", zap.String("id", item.ID), zap.Error(markErr))
			}
			continue
		}
		if err := d.repos.Outbox.MarkDone(ctx, item.ID); err != nil {
			d.logger.Error("failed to update outbox", zap.String("id", item.ID), zap.Error(err))
			continue
		}
		done++
	}
	return done, nil
}

// Run 定时重试，直到 ctx 结束
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := d.RetryFailed(ctx, 100); err != nil {
				d.logger.Warn("outbox retry failed", zap.Error(err))
			} else if n > 0 {
				d.logger.Info("outbox retried", zap.Int("count", n))
			}
		}
	}
}
