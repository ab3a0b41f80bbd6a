package handler

import (
	"github.com/bitfantasy/nimo-mes/internal/production/repository"
	"github.com/bitfantasy/nimo-mes/internal/production/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ScanHandler struct {
	svc      *service.ScanService
	rollback *service.RollbackService
	logger   *zap.Logger
}

func NewScanHandler(svc *service.ScanService, rollback *service.RollbackService, logger *zap.Logger) *ScanHandler {
	return &ScanHandler{svc: svc, rollback: rollback, logger: logger}
}

// Submit POST /scans
func (h *ScanHandler) Submit(c *gin.Context) {
	var req service.ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	// 客户端未带 request_id 时使用请求头
	if req.RequestID == "" {
		req.RequestID = c.GetHeader("Idempotency-Key")
	}

	result, err := h.svc.SubmitScan(c.Request.Context(), req, CurrentIdentity(c))
	if err != nil {
		if service.KindOf(err) == "" {
			h.logger.Error("submit scan failed", zap.String("scan_code", req.ScanCode), zap.Error(err))
		}
		Fail(c, err)
		return
	}
	Success(c, result)
}

// Undo POST /scans/undo
func (h *ScanHandler) Undo(c *gin.Context) {
	var req service.UndoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	result, err := h.rollback.UndoScan(c.Request.Context(), req, CurrentIdentity(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, result)
}

// Rescan POST /scans/:id/rescan
func (h *ScanHandler) Rescan(c *gin.Context) {
	result, err := h.rollback.Rescan(c.Request.Context(), c.Param("id"), CurrentIdentity(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, result)
}

// ListByOrder GET /orders/:id/scans
func (h *ScanHandler) ListByOrder(c *gin.Context) {
	page, pageSize := GetPagination(c)
	items, total, err := h.svc.ListScans(c.Request.Context(), repository.ScanListParams{
		OrderID:    c.Param("id"),
		BundleID:   c.Query("bundle_id"),
		ScanType:   c.Query("scan_type"),
		ScanResult: c.Query("scan_result"),
		Page:       page,
		PageSize:   pageSize,
	})
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	Success(c, newListResponse(items, total, page, pageSize))
}
