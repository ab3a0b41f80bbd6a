package handler

import (
	"github.com/bitfantasy/nimo-mes/internal/middleware"
	"github.com/gin-gonic/gin"
)

// 导出台账所需权限
const PermExportTracking = "production:tracking:export"

// RegisterRoutes 注册 /api/v1/production 下的路由
func RegisterRoutes(r *gin.Engine, h *Handlers, jwtSecret string) {
	api := r.Group("/api/v1/production")
	api.Use(middleware.JWTAuth(jwtSecret))

	api.GET("/events", h.SSE.Stream)

	// 扫码
	scans := api.Group("/scans")
	{
		scans.POST("", h.Scan.Submit)
		scans.POST("/undo", h.Scan.Undo)
		scans.POST("/:id/rescan", h.Scan.Rescan)
	}

	// 订单与进度
	orders := api.Group("/orders")
	{
		orders.POST("", h.Order.Create)
		orders.GET("/:id", h.Order.Get)
		orders.GET("/:id/scans", h.Scan.ListByOrder)
		orders.GET("/:id/stock", h.Order.Stock)
		orders.GET("/:id/progress/logs", h.Order.ProgressLogs)
		orders.POST("/:id/progress/advance", h.Order.Advance)
		orders.POST("/:id/progress/rollback", middleware.RequireRole(middleware.RoleSupervisor), h.Order.Rollback)
		orders.POST("/:id/recompute", middleware.RequireRole(middleware.RoleSupervisor), h.Order.Recompute)
		orders.PUT("/:id/material-arrival", h.Order.SetMaterialArrival)
		orders.POST("/:id/cutting-tasks", h.Cutting.CreateTask)

		orders.POST("/:id/tracking/init", h.Tracking.Initialize)
		orders.POST("/:id/tracking/sync-prices", h.Tracking.SyncPrices)
		orders.GET("/:id/tracking", h.Tracking.List)
		orders.GET("/:id/tracking/export", middleware.RequirePermission(PermExportTracking), h.Tracking.Export)
	}

	// 裁剪
	cutting := api.Group("/cutting-tasks")
	{
		cutting.POST("/:id/receive", h.Cutting.Receive)
		cutting.POST("/:id/bundles", h.Cutting.GenerateBundles)
	}

	// 计件台账
	tracking := api.Group("/tracking")
	{
		tracking.POST("/:rowId/reset", middleware.RequireRole(middleware.RoleAdmin), h.Tracking.Reset)
		tracking.POST("/settle", middleware.RequireRole(middleware.RoleAdmin), h.Tracking.Settle)
	}
}
