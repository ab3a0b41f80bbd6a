package handler

import (
	"fmt"
	"net/url"

	"github.com/bitfantasy/nimo-mes/internal/production/service"
	"github.com/gin-gonic/gin"
)

type TrackingHandler struct {
	svc    *service.TrackingService
	export *service.ExportService
}

func NewTrackingHandler(svc *service.TrackingService, export *service.ExportService) *TrackingHandler {
	return &TrackingHandler{svc: svc, export: export}
}

// Initialize POST /orders/:id/tracking/init
func (h *TrackingHandler) Initialize(c *gin.Context) {
	created, err := h.svc.Initialize(c.Request.Context(), c.Param("id"), CurrentIdentity(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"created": created})
}

// SyncPrices POST /orders/:id/tracking/sync-prices
func (h *TrackingHandler) SyncPrices(c *gin.Context) {
	updated, err := h.svc.SyncUnitPrices(c.Request.Context(), c.Param("id"), CurrentIdentity(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"updated": updated})
}

// List GET /orders/:id/tracking
func (h *TrackingHandler) List(c *gin.Context) {
	rows, err := h.svc.GetRows(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"items": rows})
}

// Export GET /orders/:id/tracking/export?format=xlsx|csv&archive=true
func (h *TrackingHandler) Export(c *gin.Context) {
	archive := c.Query("archive") == "true"
	var (
		out *service.Export
		err error
	)
	switch c.DefaultQuery("format", "xlsx") {
	case "xlsx":
		out, err = h.export.ExportXLSX(c.Request.Context(), c.Param("id"), archive)
	case "csv":
		out, err = h.export.ExportCSV(c.Request.Context(), c.Param("id"), archive)
	default:
		BadRequest(c, "format must be xlsx or csv")
		return
	}
	if err != nil {
		Fail(c, err)
		return
	}

	c.Header("Content-Type", out.ContentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(out.Filename)))
	c.Header("Content-Transfer-Encoding", "binary")
	if out.ArchivedAs != "" {
		c.Header("X-Archive-Object", out.ArchivedAs)
	}
	c.Data(200, out.ContentType, out.Data)
}

// Reset POST /tracking/:rowId/reset
func (h *TrackingHandler) Reset(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	ok, err := h.svc.Reset(c.Request.Context(), c.Param("rowId"), req.Reason, CurrentIdentity(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"reset": ok})
}

// Settle POST /tracking/settle
func (h *TrackingHandler) Settle(c *gin.Context) {
	var req struct {
		RowIDs  []string `json:"row_ids" binding:"required"`
		BatchID string   `json:"batch_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	batchID, settled, err := h.svc.Settle(c.Request.Context(), req.RowIDs, req.BatchID, CurrentIdentity(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"batch_id": batchID, "settled": settled})
}
