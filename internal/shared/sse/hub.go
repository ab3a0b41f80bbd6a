package sse

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Event represents a Server-Sent Event
type Event struct {
	EventType string `json:"event"`
	Data      string `json:"data"`
}

// Client represents a connected SSE client
type Client struct {
	ID       string
	UserID   string
	TenantID string
	Events   chan Event
}

// Hub manages all SSE client connections
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

// NewHub creates a new SSE Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// Register adds a new client to the hub
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	h.logger.Debug("sse client registered",
		zap.String("client_id", client.ID),
		zap.String("user_id", client.UserID),
		zap.Int("total", len(h.clients)))
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[clientID]; ok {
		close(client.Events)
		delete(h.clients, clientID)
		h.logger.Debug("sse client unregistered", zap.String("client_id", clientID), zap.Int("total", len(h.clients)))
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastTenant 向同一租户下的所有客户端推送，tenantID 为空时全量广播
func (h *Hub) BroadcastTenant(tenantID string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if tenantID != "" && client.TenantID != "" && client.TenantID != tenantID {
			continue
		}
		select {
		case client.Events <- event:
		default:
			h.logger.Warn("sse client buffer full, skipping event", zap.String("client_id", client.ID))
		}
	}
}

// SendToUser 给特定用户发送事件
func (h *Hub) SendToUser(userID string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.UserID != userID {
			continue
		}
		select {
		case client.Events <- event:
		default:
			h.logger.Warn("sse client buffer full, skipping user event", zap.String("client_id", client.ID))
		}
	}
}

// OrderProgress 订单进度推送内容
type OrderProgress struct {
	OrderID   string `json:"order_id"`
	OrderNo   string `json:"order_no"`
	Progress  int    `json:"progress"`
	NodeIndex int    `json:"node_index"`
	NodeName  string `json:"node_name"`
	Action    string `json:"action"` // scan/advance/rollback/undo/rescan
}

// PublishOrderProgress 推送订单进度变化
func (h *Hub) PublishOrderProgress(tenantID string, p OrderProgress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	h.BroadcastTenant(tenantID, Event{EventType: "order_progress", Data: string(data)})
	return nil
}
