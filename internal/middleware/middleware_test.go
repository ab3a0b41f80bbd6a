package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const testSecret = "middleware-secret"

func signToken(t *testing.T, claims JWTClaims, secret string) string {
	t.Helper()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id":   c.GetString("user_id"),
			"tenant_id": c.GetString("tenant_id"),
		})
	})
	r.GET("/x", handlers...)
	return r
}

func get(r *gin.Engine, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	r := newRouter(JWTAuth(testSecret))
	valid := signToken(t, JWTClaims{UserID: "u-a", Name: "张三", TenantID: "t1"}, testSecret)

	tests := []struct {
		name   string
		target string
		token  string
		want   int
	}{
		{"missing", "/x", "", http.StatusUnauthorized},
		{"garbage", "/x", "abc", http.StatusUnauthorized},
		{"wrong secret", "/x", signToken(t, JWTClaims{UserID: "u-a"}, "other"), http.StatusUnauthorized},
		{"expired", "/x", signToken(t, JWTClaims{UserID: "u-a", RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}}, testSecret), http.StatusUnauthorized},
		{"no user", "/x", signToken(t, JWTClaims{Name: "匿名"}, testSecret), http.StatusUnauthorized},
		{"header", "/x", valid, http.StatusOK},
		{"query fallback", "/x?token=" + valid, "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(r, tt.target, tt.token)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	w := get(r, "/x", valid)
	assert.Contains(t, w.Body.String(), `"user_id":"u-a"`)
	assert.Contains(t, w.Body.String(), `"tenant_id":"t1"`)
}

func TestRequireRoleAndPermission(t *testing.T) {
	worker := signToken(t, JWTClaims{UserID: "u-a", Roles: []string{RoleWorker}, Permissions: []string{"production:tracking:export"}}, testSecret)
	supervisor := signToken(t, JWTClaims{UserID: "u-s", Roles: []string{RoleWorker, RoleSupervisor}}, testSecret)
	admin := signToken(t, JWTClaims{UserID: "u-admin", Roles: []string{RoleAdmin}, Permissions: []string{PermAll}}, testSecret)

	roleRouter := newRouter(JWTAuth(testSecret), RequireRole(RoleSupervisor))
	assert.Equal(t, http.StatusForbidden, get(roleRouter, "/x", worker).Code)
	assert.Equal(t, http.StatusOK, get(roleRouter, "/x", supervisor).Code)
	assert.Equal(t, http.StatusOK, get(roleRouter, "/x", admin).Code)

	permRouter := newRouter(JWTAuth(testSecret), RequirePermission("production:tracking:export"))
	assert.Equal(t, http.StatusOK, get(permRouter, "/x", worker).Code)
	assert.Equal(t, http.StatusForbidden, get(permRouter, "/x", supervisor).Code)
	assert.Equal(t, http.StatusOK, get(permRouter, "/x", admin).Code)
}

func TestCORS(t *testing.T) {
	open := newRouter(CORS(nil))
	w := get(open, "/x", "")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")

	restricted := gin.New()
	restricted.Use(CORS([]string{"https://mes.example.com"}))
	restricted.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://mes.example.com")
	w = httptest.NewRecorder()
	restricted.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://mes.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	restricted.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	restricted.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggerAndRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := newRouter(RequestID(), Logger(zap.New(core), "/stream"))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "rid-1")
	req.Header.Set("Idempotency-Key", "scan-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "rid-1", w.Header().Get("X-Request-ID"))
	entries := logs.FilterMessage("Request").All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, int64(http.StatusOK), fields["status"])
		assert.Equal(t, "rid-1", fields["request_id"])
		assert.Equal(t, "scan-1", fields["idempotency_key"])
	}

	w = get(r, "/x", "")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
