package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/pd-classroom/internal/service"
	"go.uber.org/zap"
)

// DashboardHandler 看板、得分与导出处理器
type DashboardHandler struct {
	dashboardService service.DashboardService
	authService      service.AuthService
	log              *zap.Logger
}

// NewDashboardHandler 创建看板处理器
func NewDashboardHandler(dashboardService service.DashboardService, authService service.AuthService, log *zap.Logger) *DashboardHandler {
	return &DashboardHandler{
		dashboardService: dashboardService,
		authService:      authService,
		log:              log,
	}
}

// Score 单局得分
// @Summary 单局得分
// @Tags Dashboard
// @Produce json
// @Param game_id query string true "局ID"
// @Param participant_label query string true "参与者标签"
// @Success 200 {object} Response
// @Failure 400 {object} apperrors.ErrorResponse
// @Router /api/v1/score [get]
func (h *DashboardHandler) Score(c *gin.Context) {
	score, err := h.dashboardService.Score(c.Request.Context(), c.Query("game_id"), c.Query("participant_label"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, score, nil)
}

// Dashboard 教师看板
// @Summary 教师看板
// @Description 汇总指标、回合曲线、排行榜、特征分桶和明细
// @Tags Dashboard
// @Produce json
// @Param class_code query string false "班级"
// @Param after query string false "起始时间 RFC3339（含）"
// @Param before query string false "截止时间 RFC3339（含）"
// @Param completed query string false "1 表示只统计完整的局"
// @Param limit query int false "最多读取的记录数"
// @Success 200 {object} Response
// @Failure 400 {object} apperrors.ErrorResponse
// @Failure 401 {object} apperrors.ErrorResponse
// @Router /api/v1/dashboard [get]
func (h *DashboardHandler) Dashboard(c *gin.Context) {
	var q service.DashboardQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, bindError(err))
		return
	}
	switch c.Query("completed") {
	case "1", "true":
		q.CompletedOnly = true
	}

	dashboard, err := h.dashboardService.Dashboard(c.Request.Context(), &q)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, dashboard, nil)
}

// Export 导出 CSV
// @Summary 导出 CSV
// @Description 按时间倒序导出全部回合记录
// @Tags Dashboard
// @Produce text/csv
// @Param key query string true "导出密钥"
// @Param class_code query string false "班级"
// @Success 200 {string} string "CSV"
// @Failure 401 {object} apperrors.ErrorResponse
// @Router /api/v1/export [get]
func (h *DashboardHandler) Export(c *gin.Context) {
	if err := h.authService.CheckExportKey(c.Query("key")); err != nil {
		respondError(c, err)
		return
	}

	classCode := c.Query("class_code")
	// 先写入缓冲区，失败时还能返回 JSON 错误
	var buf bytes.Buffer
	n, err := h.dashboardService.Export(c.Request.Context(), &buf, classCode)
	if err != nil {
		respondError(c, err)
		return
	}

	h.log.Info("Export generated",
		zap.String("class_code", classCode),
		zap.Int("rows", n))

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", service.ExportFilename(classCode)))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
