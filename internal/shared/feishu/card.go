package feishu

import (
	"context"
	"encoding/json"
	"fmt"
)

// SendCard 向群聊发送消息卡片
func (c *FeishuClient) SendCard(ctx context.Context, chatID string, card InteractiveCard) error {
	return c.sendCard(ctx, "chat_id", chatID, card)
}

// SendUserCard 向个人发送消息卡片
func (c *FeishuClient) SendUserCard(ctx context.Context, userID string, card InteractiveCard) error {
	return c.sendCard(ctx, "open_id", userID, card)
}

func (c *FeishuClient) sendCard(ctx context.Context, idType, id string, card InteractiveCard) error {
	cardBytes, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("序列化卡片内容失败: %w", err)
	}

	reqBody := map[string]interface{}{
		"receive_id": id,
		"msg_type":   "interactive",
		"content":    string(cardBytes),
	}
	path := fmt.Sprintf("/open-apis/im/v1/messages?receive_id_type=%s", idType)

	var resp SendMessageResponse
	if err := c.doRequest(ctx, "POST", path, reqBody, &resp); err != nil {
		return fmt.Errorf("发送消息卡片失败: %w", err)
	}
	return nil
}

func field(label, value string) CardField {
	return CardField{IsShort: true, Text: CardText{Tag: "lark_md", Content: fmt.Sprintf("**%s**\n%s", label, value)}}
}

// NewStageRollbackCard 生产进度回退通知卡片
func NewStageRollbackCard(orderNo, fromNode, toNode, reason, operator string, invalidated int) InteractiveCard {
	return InteractiveCard{
		Config: &CardConfig{WideScreenMode: true},
		Header: &CardHeader{
			Title:    CardText{Tag: "plain_text", Content: "⏪ 生产进度回退通知"},
			Template: "red",
		},
		Elements: []CardElement{
			{
				Tag: "div",
				Fields: []CardField{
					field("订单号", orderNo),
					field("操作人", operator),
					field("回退节点", fmt.Sprintf("%s → %s", fromNode, toNode)),
					field("作废扫码", fmt.Sprintf("%d 条", invalidated)),
				},
			},
			{
				Tag:  "div",
				Text: &CardText{Tag: "lark_md", Content: fmt.Sprintf("**回退原因**\n%s", reason)},
			},
			{Tag: "hr"},
			{
				Tag: "note",
				Elements: []CardElement{
					{Tag: "plain_text", Content: "回退节点之后的扫码已作废，请安排重新扫码"},
				},
			},
		},
	}
}

// NewScanUndoCard 扫码撤销/重扫通知卡片
func NewScanUndoCard(orderNo, bundleNo, processName, action, operator string) InteractiveCard {
	return InteractiveCard{
		Config: &CardConfig{WideScreenMode: true},
		Header: &CardHeader{
			Title:    CardText{Tag: "plain_text", Content: "↩️ 扫码撤销通知"},
			Template: "orange",
		},
		Elements: []CardElement{
			{
				Tag: "div",
				Fields: []CardField{
					field("订单号", orderNo),
					field("菲号", bundleNo),
					field("工序", processName),
					field("操作", action),
					field("操作人", operator),
				},
			},
		},
	}
}
