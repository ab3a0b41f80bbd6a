package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims 车间终端和后台共用的令牌
type JWTClaims struct {
	UserID      string   `json:"uid"`
	Name        string   `json:"name"`
	TenantID    string   `json:"tenant_id"`
	FeishuUID   string   `json:"feishu_uid"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"perms"`
	jwt.RegisteredClaims
}

// 角色
const (
	RoleAdmin      = "admin"
	RoleSupervisor = "supervisor"
	RoleWorker     = "worker"
)

// 全部权限
const PermAll = "*"

func deny(c *gin.Context, status, code int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"code":    code,
		"message": message,
	})
}

// bearerToken 优先取 Authorization，SSE 的 EventSource 带不了头时回退 ?token=
func bearerToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		if scheme, token, ok := strings.Cut(auth, " "); ok && scheme == "Bearer" {
			return strings.TrimSpace(token)
		}
	}
	return c.Query("token")
}

// JWTAuth JWT认证中间件
func JWTAuth(secret string) gin.HandlerFunc {
	keyFunc := func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}

	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			deny(c, http.StatusUnauthorized, 40100, "Authorization is required")
			return
		}

		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, keyFunc,
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			deny(c, http.StatusUnauthorized, 40102, "Invalid or expired token")
			return
		}
		// 扫码记录必须能落到具体工人
		if claims.UserID == "" {
			deny(c, http.StatusUnauthorized, 40103, "Invalid token claims")
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("user_name", claims.Name)
		c.Set("tenant_id", claims.TenantID)
		c.Set("feishu_uid", claims.FeishuUID)
		c.Set("roles", claims.Roles)
		c.Set("permissions", claims.Permissions)
		c.Set("claims", claims)
		c.Next()
	}
}

// RequirePermission 权限检查，"*" 视为拥有全部权限
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !contains(c.GetStringSlice("permissions"), permission, PermAll) {
			deny(c, http.StatusForbidden, 40302, "Permission denied: "+permission)
			return
		}
		c.Next()
	}
}

// RequireRole 角色检查，admin 视为拥有全部角色
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !contains(c.GetStringSlice("roles"), role, RoleAdmin) {
			deny(c, http.StatusForbidden, 40312, "Role required: "+role)
			return
		}
		c.Next()
	}
}

func contains(have []string, want ...string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}
