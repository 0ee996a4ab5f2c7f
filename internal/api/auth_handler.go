package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/pd-classroom/internal/middleware"
	"github.com/wfunc/pd-classroom/internal/service"
	"github.com/wfunc/pd-classroom/internal/utils"
)

// AuthHandler 门禁处理器
type AuthHandler struct {
	authService  service.AuthService
	cookieSecure bool
}

// NewAuthHandler 创建门禁处理器
func NewAuthHandler(authService service.AuthService, cookieSecure bool) *AuthHandler {
	return &AuthHandler{
		authService:  authService,
		cookieSecure: cookieSecure,
	}
}

// PasswordRequest 口令请求
type PasswordRequest struct {
	Password string `json:"password" binding:"required"`
}

// ClassAuth 班级口令登录
// @Summary 班级口令登录
// @Description 校验班级口令，写入 pd_class_token Cookie
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body PasswordRequest true "班级口令"
// @Success 200 {object} Response
// @Failure 401 {object} apperrors.ErrorResponse
// @Router /api/v1/class-auth [post]
func (h *AuthHandler) ClassAuth(c *gin.Context) {
	h.login(c, utils.GateClass)
}

// DashboardAuth 看板口令登录
// @Summary 看板口令登录
// @Description 校验看板口令，写入 pd_dash_token Cookie
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body PasswordRequest true "看板口令"
// @Success 200 {object} Response
// @Failure 401 {object} apperrors.ErrorResponse
// @Router /api/v1/dashboard-auth [post]
func (h *AuthHandler) DashboardAuth(c *gin.Context) {
	h.login(c, utils.GateDashboard)
}

// DashboardLogout 退出看板
// @Summary 退出看板
// @Tags Auth
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/dashboard-auth [delete]
func (h *AuthHandler) DashboardLogout(c *gin.Context) {
	middleware.ClearGateCookie(c, utils.GateDashboard, h.cookieSecure)
	respond(c, http.StatusOK, gin.H{"gate": utils.GateDashboard}, nil)
}

func (h *AuthHandler) login(c *gin.Context, gate string) {
	var req PasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindError(err))
		return
	}

	token, err := h.authService.Login(c.Request.Context(), gate, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	middleware.SetGateCookie(c, gate, token.Token, token.MaxAge, h.cookieSecure)
	respond(c, http.StatusOK, token, nil)
}
