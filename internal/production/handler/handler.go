package handler

import (
	"net/http"
	"strconv"

	"github.com/bitfantasy/nimo-mes/internal/production/service"
	"github.com/bitfantasy/nimo-mes/internal/shared/sse"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handlers 处理器集合
type Handlers struct {
	Order    *OrderHandler
	Scan     *ScanHandler
	Tracking *TrackingHandler
	Cutting  *CuttingHandler
	SSE      *SSEHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(svc *service.Services, hub *sse.Hub, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		Order:    NewOrderHandler(svc.Order, svc.Progress, svc.Rollback, svc.Inventory),
		Scan:     NewScanHandler(svc.Scan, svc.Rollback, logger),
		Tracking: NewTrackingHandler(svc.Tracking, svc.Export),
		Cutting:  NewCuttingHandler(svc.Cutting),
		SSE:      NewSSEHandler(hub),
	}
}

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ListResponse 列表响应结构
type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

// Pagination 分页信息
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

// BadRequest 参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

// Forbidden 禁止访问响应
func Forbidden(c *gin.Context, message string) {
	Error(c, 40300, message)
}

// NotFound 资源不存在响应
func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

// InternalError 服务器错误响应
func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// 业务错误类别对应的响应码
var kindCodes = map[service.ErrorKind]int{
	service.KindValidation: 40000,
	service.KindPermission: 40300,
	service.KindNotFound:   40400,
	service.KindConflict:   40900,
	service.KindState:      42200,
	service.KindDependency: 50200,
}

// Fail 按业务错误类别返回，未知错误按 500 处理
func Fail(c *gin.Context, err error) {
	kind := service.KindOf(err)
	code, ok := kindCodes[kind]
	if !ok {
		InternalError(c, err.Error())
		return
	}
	resp := Response{Code: code, Message: err.Error()}
	if reason := service.ReasonOf(err); reason != "" {
		resp.Data = gin.H{"kind": kind, "reason": reason}
	}
	c.JSON(code/100, resp)
}

// GetUserID 从上下文获取用户ID
func GetUserID(c *gin.Context) string {
	return c.GetString("user_id")
}

// CurrentIdentity 从 JWT 上下文构造操作人身份
func CurrentIdentity(c *gin.Context) service.Identity {
	return service.Identity{
		UserID:   c.GetString("user_id"),
		Username: c.GetString("user_name"),
		TenantID: c.GetString("tenant_id"),
		Role:     service.HighestRole(c.GetStringSlice("roles")),
	}
}

// GetPagination 从请求获取分页参数
func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}

func newListResponse(items interface{}, total int64, page, pageSize int) ListResponse {
	totalPages := 0
	if pageSize > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return ListResponse{
		Items: items,
		Pagination: &Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      int(total),
			TotalPages: totalPages,
		},
	}
}
