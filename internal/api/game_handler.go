package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/pd-classroom/internal/game"
	"github.com/wfunc/pd-classroom/internal/middleware"
	"github.com/wfunc/pd-classroom/internal/service"
	"github.com/wfunc/pd-classroom/internal/utils"
)

// GameFlow 回合流程（由 game.GameService 实现）
type GameFlow interface {
	Identify(ctx context.Context, req game.IdentifyRequest) (*game.SessionInfo, error)
	GetSession(ctx context.Context, gameID string) (*game.SessionInfo, error)
	Restart(ctx context.Context, gameID string) error
	StartChat(ctx context.Context, gameID string) (*game.StartChatResult, error)
	SendMessage(ctx context.Context, gameID, text string) (*game.MessageResult, error)
	Continue(ctx context.Context, gameID string) (*game.ContinueResult, error)
	Decide(ctx context.Context, gameID, studentMove string) (*game.DecisionResult, error)
	Next(ctx context.Context, gameID string) (*game.NextResult, error)
	ActiveSessions() int
}

// GameHandler 回合流程处理器
type GameHandler struct {
	games          GameFlow
	authService    service.AuthService
	authMiddleware *middleware.AuthMiddleware
	cookieSecure   bool
}

// NewGameHandler 创建回合流程处理器
func NewGameHandler(games GameFlow, authService service.AuthService, authMiddleware *middleware.AuthMiddleware, cookieSecure bool) *GameHandler {
	return &GameHandler{
		games:          games,
		authService:    authService,
		authMiddleware: authMiddleware,
		cookieSecure:   cookieSecure,
	}
}

// IdentifyBody 登记请求；没有班级 Cookie 时需要携带班级口令
type IdentifyBody struct {
	game.IdentifyRequest
	Password string `json:"password"`
}

// Identify 登记参与者
// @Summary 登记参与者
// @Description 校验班级口令（或 Cookie），创建或复用一局
// @Tags Game
// @Accept json
// @Produce json
// @Param request body IdentifyBody true "参与者信息"
// @Success 201 {object} Response
// @Failure 400 {object} apperrors.ErrorResponse
// @Failure 401 {object} apperrors.ErrorResponse
// @Router /api/v1/games [post]
func (h *GameHandler) Identify(c *gin.Context) {
	var req IdentifyBody
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindError(err))
		return
	}

	if !h.authMiddleware.HasGate(c, utils.GateClass) {
		token, err := h.authService.Login(c.Request.Context(), utils.GateClass, req.Password)
		if err != nil {
			respondError(c, err)
			return
		}
		middleware.SetGateCookie(c, utils.GateClass, token.Token, token.MaxAge, h.cookieSecure)
	}

	info, err := h.games.Identify(c.Request.Context(), req.IdentifyRequest)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, info, nil)
}

// GetGame 获取会话快照
// @Summary 获取会话快照
// @Tags Game
// @Produce json
// @Param game_id path string true "局ID"
// @Success 200 {object} Response
// @Failure 404 {object} apperrors.ErrorResponse
// @Router /api/v1/games/{game_id} [get]
func (h *GameHandler) GetGame(c *gin.Context) {
	info, err := h.games.GetSession(c.Request.Context(), c.Param("game_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, info, nil)
}

// RestartGame 重新开始
// @Summary 重新开始
// @Description 丢弃会话上下文，已保存的回合记录保留
// @Tags Game
// @Produce json
// @Param game_id path string true "局ID"
// @Success 200 {object} Response
// @Failure 404 {object} apperrors.ErrorResponse
// @Router /api/v1/games/{game_id} [delete]
func (h *GameHandler) RestartGame(c *gin.Context) {
	gameID := c.Param("game_id")
	if err := h.games.Restart(c.Request.Context(), gameID); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"game_id": gameID}, nil)
}

// StartChat 开始第一回合聊天
// @Summary 开始聊天
// @Tags Game
// @Produce json
// @Param game_id path string true "局ID"
// @Success 200 {object} Response
// @Failure 409 {object} apperrors.ErrorResponse
// @Router /api/v1/games/{game_id}/chat/start [post]
func (h *GameHandler) StartChat(c *gin.Context) {
	res, err := h.games.StartChat(c.Request.Context(), c.Param("game_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, res, res.Notices)
}

// SendMessage 发送聊天消息
// @Summary 发送聊天消息
// @Description 追加学生消息并返回 Person A 的回复（可能沉默）
// @Tags Game
// @Accept json
// @Produce json
// @Param game_id path string true "局ID"
// @Param request body game.SendMessageRequest true "消息"
// @Success 200 {object} Response
// @Failure 400 {object} apperrors.ErrorResponse
// @Failure 409 {object} apperrors.ErrorResponse
// @Router /api/v1/games/{game_id}/chat/messages [post]
func (h *GameHandler) SendMessage(c *gin.Context) {
	var req game.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindError(err))
		return
	}

	res, err := h.games.SendMessage(c.Request.Context(), c.Param("game_id"), req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, res, res.Notices)
}

// ContinueToDecision 进入决策
// @Summary 进入决策
// @Description 结束本回合聊天并保存聊天记录
// @Tags Game
// @Produce json
// @Param game_id path string true "局ID"
// @Success 200 {object} Response
// @Failure 409 {object} apperrors.ErrorResponse
// @Router /api/v1/games/{game_id}/chat/continue [post]
func (h *GameHandler) ContinueToDecision(c *gin.Context) {
	res, err := h.games.Continue(c.Request.Context(), c.Param("game_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, res, res.Notices)
}

// Decide 提交动作
// @Summary 提交动作
// @Description 同一回合只计算一次，重复提交返回已有结果
// @Tags Game
// @Accept json
// @Produce json
// @Param game_id path string true "局ID"
// @Param request body game.DecisionRequest true "COOPERATE 或 DEFECT"
// @Success 200 {object} Response
// @Failure 400 {object} apperrors.ErrorResponse
// @Failure 409 {object} apperrors.ErrorResponse
// @Router /api/v1/games/{game_id}/decision [post]
func (h *GameHandler) Decide(c *gin.Context) {
	var req game.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindError(err))
		return
	}

	res, err := h.games.Decide(c.Request.Context(), c.Param("game_id"), req.StudentMove)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, res, res.Notices)
}

// Next 下一回合
// @Summary 下一回合
// @Description 最后一回合之后返回整局得分
// @Tags Game
// @Produce json
// @Param game_id path string true "局ID"
// @Success 200 {object} Response
// @Failure 409 {object} apperrors.ErrorResponse
// @Router /api/v1/games/{game_id}/next [post]
func (h *GameHandler) Next(c *gin.Context) {
	res, err := h.games.Next(c.Request.Context(), c.Param("game_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, res, res.Notices)
}
