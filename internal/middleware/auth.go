package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/pd-classroom/internal/errors"
	"github.com/wfunc/pd-classroom/internal/service"
	"github.com/wfunc/pd-classroom/internal/utils"
)

// 门禁 Cookie 名称
const (
	ClassCookie     = "pd_class_token"
	DashboardCookie = "pd_dash_token"
)

// CookieFor 门禁对应的 Cookie 名称
func CookieFor(gate string) string {
	if gate == utils.GateDashboard {
		return DashboardCookie
	}
	return ClassCookie
}

// AuthMiddleware 门禁中间件
type AuthMiddleware struct {
	authService service.AuthService
}

// NewAuthMiddleware 创建门禁中间件
func NewAuthMiddleware(authService service.AuthService) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
	}
}

// RequireGate 需要通过指定门禁
func (m *AuthMiddleware) RequireGate(gate string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c, CookieFor(gate))
		claims, err := m.authService.ValidateToken(c.Request.Context(), gate, token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set("gate", claims.Gate)
		c.Next()
	}
}

// HasGate 请求是否携带有效的门禁令牌（不中断请求）
func (m *AuthMiddleware) HasGate(c *gin.Context, gate string) bool {
	token := extractToken(c, CookieFor(gate))
	if token == "" {
		return false
	}
	_, err := m.authService.ValidateToken(c.Request.Context(), gate, token)
	return err == nil
}

// extractToken 优先读取 Cookie，其次读取 Authorization 头
func extractToken(c *gin.Context, cookie string) string {
	if v, err := c.Cookie(cookie); err == nil && v != "" {
		return v
	}

	bearerToken := c.GetHeader("Authorization")
	if bearerToken != "" {
		parts := strings.SplitN(bearerToken, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return ""
}

// AbortWithError 以统一错误结构中断请求
func AbortWithError(c *gin.Context, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.Wrap(err, apperrors.ErrUnknown)
	}
	c.AbortWithStatusJSON(appErr.HTTPStatus(), apperrors.NewErrorResponse(appErr, c.GetString(RequestIDKey)))
}

// SetGateCookie 写入门禁 Cookie
func SetGateCookie(c *gin.Context, gate, token string, maxAge int, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieFor(gate), token, maxAge, "/", "", secure, true)
}

// ClearGateCookie 清除门禁 Cookie
func ClearGateCookie(c *gin.Context, gate string, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieFor(gate), "", -1, "/", "", secure, true)
}
