package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/pd-classroom/internal/config"
	apperrors "github.com/wfunc/pd-classroom/internal/errors"
	"github.com/wfunc/pd-classroom/internal/middleware"
	"github.com/wfunc/pd-classroom/internal/service"
	"github.com/wfunc/pd-classroom/internal/utils"
	ws "github.com/wfunc/pd-classroom/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Dependencies 路由依赖
type Dependencies struct {
	DB       *gorm.DB
	Games    GameFlow
	Services *service.Services
	Hub      *ws.Hub
	Config   *config.Config
}

// Router API路由器
type Router struct {
	engine           *gin.Engine
	db               *gorm.DB
	games            GameFlow
	hub              *ws.Hub
	authHandler      *AuthHandler
	gameHandler      *GameHandler
	dashboardHandler *DashboardHandler
	wsHandler        *WebSocketHandler
	authMiddleware   *middleware.AuthMiddleware
	log              *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(deps *Dependencies, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	cfg := deps.Config
	secure := cfg.Security.CookieSecure

	// 创建Gin引擎
	engine := gin.New()

	// 全局中间件
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	authMiddleware := middleware.NewAuthMiddleware(deps.Services.Auth)

	router := &Router{
		engine:           engine,
		db:               deps.DB,
		games:            deps.Games,
		hub:              deps.Hub,
		authHandler:      NewAuthHandler(deps.Services.Auth, secure),
		gameHandler:      NewGameHandler(deps.Games, deps.Services.Auth, authMiddleware, secure),
		dashboardHandler: NewDashboardHandler(deps.Services.Dashboard, deps.Services.Auth, log),
		wsHandler:        NewWebSocketHandler(deps.Hub, deps.Games, cfg.WebSocket, log),
		authMiddleware:   authMiddleware,
		log:              log,
	}

	// 设置路由
	router.setupRoutes(cfg)

	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes(cfg *config.Config) {
	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	registerOpenAPIRoutes(r.engine)
	registerSwaggerRoutes(r.engine)

	classGate := r.authMiddleware.RequireGate(utils.GateClass)

	// API v1路由组
	v1 := r.engine.Group("/api/v1")
	{
		// 门禁（不需要认证）
		v1.POST("/class-auth", r.authHandler.ClassAuth)
		v1.POST("/dashboard-auth", r.authHandler.DashboardAuth)
		v1.DELETE("/dashboard-auth", r.authHandler.DashboardLogout)

		// 登记：口令在请求体中或已有班级 Cookie
		v1.POST("/games", r.gameHandler.Identify)

		games := v1.Group("/games/:game_id")
		games.Use(classGate)
		{
			games.GET("", r.gameHandler.GetGame)
			games.DELETE("", r.gameHandler.RestartGame)
			games.POST("/chat/start", r.gameHandler.StartChat)
			games.POST("/chat/messages", r.gameHandler.SendMessage)
			games.POST("/chat/continue", r.gameHandler.ContinueToDecision)
			games.POST("/decision", r.gameHandler.Decide)
			games.POST("/next", r.gameHandler.Next)
		}

		v1.GET("/score", classGate, r.dashboardHandler.Score)
		v1.GET("/dashboard", r.authMiddleware.RequireGate(utils.GateDashboard), r.dashboardHandler.Dashboard)

		// 导出使用 ?key= 校验
		v1.GET("/export", r.dashboardHandler.Export)
	}

	// WebSocket路由
	wsPath := cfg.WebSocket.Path
	if wsPath == "" {
		wsPath = "/ws"
	}
	r.engine.GET(wsPath+"/games/:game_id", classGate, r.wsHandler.GameWebSocket)

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		respondError(c, apperrors.New(apperrors.ErrNotFound, c.Request.URL.Path))
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	// 检查数据库连接
	sqlDB, err := r.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		r.log.Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"message": "database unavailable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"active_sessions": r.games.ActiveSessions(),
		"ws_connections":  r.hub.GetOnlineCount(),
	})
}

// Run 运行服务器
func (r *Router) Run(addr string) error {
	r.log.Info("Starting API server", zap.String("address", addr))
	return r.engine.Run(addr)
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
