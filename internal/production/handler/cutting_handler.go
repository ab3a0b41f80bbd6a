package handler

import (
	"github.com/bitfantasy/nimo-mes/internal/production/service"
	"github.com/gin-gonic/gin"
)

type CuttingHandler struct {
	svc *service.CuttingService
}

func NewCuttingHandler(svc *service.CuttingService) *CuttingHandler {
	return &CuttingHandler{svc: svc}
}

// CreateTask POST /orders/:id/cutting-tasks
func (h *CuttingHandler) CreateTask(c *gin.Context) {
	task, err := h.svc.CreateTask(c.Request.Context(), c.Param("id"), CurrentIdentity(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, task)
}

// Receive POST /cutting-tasks/:id/receive
func (h *CuttingHandler) Receive(c *gin.Context) {
	task, err := h.svc.ReceiveTask(c.Request.Context(), c.Param("id"), CurrentIdentity(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, task)
}

// GenerateBundles POST /cutting-tasks/:id/bundles
func (h *CuttingHandler) GenerateBundles(c *gin.Context) {
	var req struct {
		Bundles []service.BundleSpec `json:"bundles" binding:"required,dive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	result, err := h.svc.GenerateBundles(c.Request.Context(), c.Param("id"), req.Bundles, CurrentIdentity(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, result)
}
