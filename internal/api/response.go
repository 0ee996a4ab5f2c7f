package api

import (
	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/pd-classroom/internal/errors"
	"github.com/wfunc/pd-classroom/internal/middleware"
)

// Response 统一成功响应；notices 为非阻断提示，始终是数组
type Response struct {
	Success bool               `json:"success"`
	Data    interface{}        `json:"data,omitempty"`
	Notices []apperrors.Notice `json:"notices"`
}

func respond(c *gin.Context, status int, data interface{}, notices []apperrors.Notice) {
	if notices == nil {
		notices = []apperrors.Notice{}
	}
	c.JSON(status, Response{
		Success: true,
		Data:    data,
		Notices: notices,
	})
}

func respondError(c *gin.Context, err error) {
	middleware.AbortWithError(c, err)
}

// bindError 请求体或查询参数解析失败
func bindError(err error) error {
	return apperrors.Wrap(err, apperrors.ErrInvalidParam, "invalid request")
}
