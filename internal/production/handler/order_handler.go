package handler

import (
	"github.com/bitfantasy/nimo-mes/internal/production/service"
	"github.com/gin-gonic/gin"
)

type OrderHandler struct {
	svc       *service.OrderService
	progress  *service.ProgressService
	rollback  *service.RollbackService
	inventory *service.InventoryService
}

func NewOrderHandler(svc *service.OrderService, progress *service.ProgressService, rollback *service.RollbackService, inventory *service.InventoryService) *OrderHandler {
	return &OrderHandler{svc: svc, progress: progress, rollback: rollback, inventory: inventory}
}

// Create POST /orders
func (h *OrderHandler) Create(c *gin.Context) {
	var input service.CreateOrderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	order, err := h.svc.Create(c.Request.Context(), input, CurrentIdentity(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, order)
}

// Get GET /orders/:id
func (h *OrderHandler) Get(c *gin.Context) {
	detail, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, detail)
}

type progressRequest struct {
	TargetProgress int    `json:"target_progress"`
	Reason         string `json:"reason"`
}

// Advance POST /orders/:id/progress/advance
func (h *OrderHandler) Advance(c *gin.Context) {
	var req progressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	order, err := h.progress.Advance(c.Request.Context(), c.Param("id"), req.TargetProgress, CurrentIdentity(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, order)
}

// Rollback POST /orders/:id/progress/rollback
func (h *OrderHandler) Rollback(c *gin.Context) {
	var req progressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	result, err := h.rollback.RollbackStage(c.Request.Context(), c.Param("id"), req.TargetProgress, req.Reason, CurrentIdentity(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, result)
}

// Recompute POST /orders/:id/recompute
func (h *OrderHandler) Recompute(c *gin.Context) {
	order, err := h.progress.Recompute(c.Request.Context(), c.Param("id"), CurrentIdentity(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, order)
}

// SetMaterialArrival PUT /orders/:id/material-arrival
func (h *OrderHandler) SetMaterialArrival(c *gin.Context) {
	var req struct {
		Rate int `json:"rate"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	order, err := h.progress.SetMaterialArrivalRate(c.Request.Context(), c.Param("id"), req.Rate, CurrentIdentity(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, order)
}

// ProgressLogs GET /orders/:id/progress/logs
func (h *OrderHandler) ProgressLogs(c *gin.Context) {
	logs, err := h.progress.ListLogs(c.Request.Context(), c.Param("id"))
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	Success(c, gin.H{"items": logs})
}

// Stock GET /orders/:id/stock
func (h *OrderHandler) Stock(c *gin.Context) {
	items, err := h.inventory.ListStock(c.Request.Context(), c.Param("id"))
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	Success(c, gin.H{"items": items})
}
