package api

import (
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/wfunc/pd-classroom/internal/config"
	apperrors "github.com/wfunc/pd-classroom/internal/errors"
	ws "github.com/wfunc/pd-classroom/internal/websocket"
	"go.uber.org/zap"
)

// WebSocketHandler WebSocket处理器
type WebSocketHandler struct {
	hub      *ws.Hub
	games    GameFlow
	upgrader   websocket.Upgrader
	maxPerGame int
	logger     *zap.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
// CheckOrigin 使用 gorilla 默认的同源校验，门禁 Cookie 不会被跨站页面带上连接
func NewWebSocketHandler(hub *ws.Hub, games GameFlow, cfg config.WebSocketConfig, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:   hub,
		games: games,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
		},
		maxPerGame: cfg.MaxPerGame,
		logger:     logger,
	}
}

// GameWebSocket 一局的推送连接
// @Summary 推送连接
// @Description 推送 chat_started、chat_tick、agent_message、chat_locked、round_scored、game_completed；接收 chat_message
// @Tags Game
// @Param game_id path string true "局ID"
// @Router /ws/games/{game_id} [get]
func (h *WebSocketHandler) GameWebSocket(c *gin.Context) {
	gameID := c.Param("game_id")
	if _, err := h.games.GetSession(c.Request.Context(), gameID); err != nil {
		respondError(c, err)
		return
	}
	if n := h.hub.GameConnections(gameID); h.maxPerGame > 0 && n >= h.maxPerGame {
		h.logger.Warn("Too many WebSocket connections for game",
			zap.String("game_id", gameID),
			zap.Int("connections", n))
		respondError(c, apperrors.New(apperrors.ErrSessionLimit, "too many open tabs for this game"))
		return
	}

	// 升级为WebSocket连接
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed",
			zap.String("game_id", gameID),
			zap.Error(err))
		return
	}

	client := ws.NewClient(h.hub, conn, gameID)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	// 启动读写协程
	go client.WritePump()
	go client.ReadPump()
}
