package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/wfunc/pd-classroom/internal/api"
	"github.com/wfunc/pd-classroom/internal/config"
	"github.com/wfunc/pd-classroom/internal/database"
	apperrors "github.com/wfunc/pd-classroom/internal/errors"
	"github.com/wfunc/pd-classroom/internal/game"
	"github.com/wfunc/pd-classroom/internal/game/dilemma"
	"github.com/wfunc/pd-classroom/internal/llm"
	"github.com/wfunc/pd-classroom/internal/logger"
	"github.com/wfunc/pd-classroom/internal/repository"
	"github.com/wfunc/pd-classroom/internal/service"
	"github.com/wfunc/pd-classroom/internal/utils"
	ws "github.com/wfunc/pd-classroom/internal/websocket"
	"go.uber.org/zap"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Server 服务器实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	games      *game.GameService
	hub        *ws.Hub
	httpServer *http.Server

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	// 命令行参数
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		envFile     = flag.String("env", ".env", "环境变量文件")
		showVersion = flag.Bool("version", false, "显示版本信息")
	)
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// .env 不存在时忽略
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Printf("加载环境变量文件失败: %v\n", err)
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Get()

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	server := NewServer(cfg)

	if err := server.Start(); err != nil {
		logger.Fatal("服务器启动失败", zap.Error(err))
	}

	server.WaitForShutdown()

	if err := server.Shutdown(); err != nil {
		logger.Error("服务器关闭失败", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("服务器已安全关闭")
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:    cfg,
		logger: logger.GetLogger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("正在启动课堂囚徒困境服务...",
		zap.String("version", Version),
		zap.String("mode", s.cfg.Server.Mode))

	if err := dilemma.ValidateConfig(&s.cfg.Game); err != nil {
		return err
	}

	if err := s.initDatabase(); err != nil {
		return err
	}

	router, err := s.initComponents()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrUnknown, "初始化组件失败")
	}

	s.startServices(router)

	// 监听配置变化
	config.Watch(s.reloadConfig)

	s.logger.Info("服务器启动成功", zap.String("http", s.httpServer.Addr))
	return nil
}

// initDatabase 初始化数据库
func (s *Server) initDatabase() error {
	if err := database.Init(&s.cfg.Database); err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseConnect, "初始化数据库连接失败")
	}

	if s.cfg.Database.AutoMigrate {
		s.logger.Info("执行数据库自动迁移...")
		if err := database.AutoMigrate(); err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}

	if !database.IsConnected() {
		return apperrors.New(apperrors.ErrDatabaseConnect, "数据库连接检查失败")
	}
	return nil
}

// initComponents 组装仓储、回合流程、推送通道和路由
func (s *Server) initComponents() (*api.Router, error) {
	db := database.GetDB()
	repos := repository.NewManager(db)

	generator := llm.NewOpenAIClient(&s.cfg.LLM)
	if !generator.Configured() {
		s.logger.Warn("未配置 LLM API Key，对手回复将失败并使用默认决策")
	}

	rnd := dilemma.NewRandom(0)
	persister := game.NewCacheStatePersister(
		game.NewMemoryStatePersister(),
		game.NewDatabaseStatePersister(repos.GameState()),
	)

	hub := ws.NewHub(ws.Options{
		WriteWait:      s.cfg.WebSocket.WriteTimeout,
		PongWait:       s.cfg.WebSocket.PongTimeout,
		PingPeriod:     s.cfg.WebSocket.PingInterval,
		MaxMessageSize: s.cfg.WebSocket.MaxMessageSize,
	}, logger.GetModuleLogger("websocket"))

	games := game.NewGameService(&game.GameServiceConfig{
		Logger:       logger.GetModuleLogger("game"),
		Game:         &s.cfg.Game,
		Records:      repos.RoundRecord(),
		Persister:    persister,
		Policy:       dilemma.NewPolicy(generator, rnd, &s.cfg.LLM),
		Counterpart:  dilemma.NewCounterpart(generator, rnd, &s.cfg.LLM, &s.cfg.Game),
		Notifier:     hub,
		TickInterval: s.cfg.WebSocket.TickInterval,
	})
	hub.SetMessageHandler(ws.NewGameMessageHandler(games, s.cfg.Game.ReplyTimeout, logger.GetModuleLogger("websocket")))

	svcCfg := service.FromAppConfig(s.cfg)
	if svcCfg.Security.JWT.Secret == "" {
		secret, err := utils.GenerateRandomString(32)
		if err != nil {
			return nil, err
		}
		svcCfg.Security.JWT.Secret = secret
		s.logger.Warn("未配置 security.jwt.secret，使用随机密钥，重启后门禁 Cookie 失效")
	}
	services := service.NewServices(repos.RoundRecord(), svcCfg, logger.GetModuleLogger("http"))

	s.games = games
	s.hub = hub

	gin.SetMode(ginMode(s.cfg.Server.Mode))
	return api.NewRouter(&api.Dependencies{
		DB:       db,
		Games:    games,
		Services: services,
		Hub:      hub,
		Config:   s.cfg,
	}, logger.GetModuleLogger("http")), nil
}

// startServices 启动 Hub、后台清理任务和 HTTP 服务
func (s *Server) startServices(router *api.Router) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(s.ctx)
	}()

	s.games.Start(s.ctx)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port)),
		Handler:      router.GetEngine(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP服务异常退出", zap.Error(err))
			s.cancel()
		}
	}()
}

// WaitForShutdown 等待关闭信号
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		s.logger.Info("收到退出信号", zap.String("signal", sig.String()))
	case <-s.ctx.Done():
	}
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 停止接收新请求
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP服务关闭超时", zap.Error(err))
	}

	// 保存进行中的局，重启后可以恢复
	s.games.Stop(shutdownCtx)

	// 取消主上下文，Hub 断开所有连接
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("所有服务已正常关闭")
	case <-shutdownCtx.Done():
		s.logger.Warn("关闭超时，强制退出")
		return apperrors.New(apperrors.ErrTimeout, "关闭超时")
	}

	if err := database.Close(); err != nil {
		s.logger.Error("关闭数据库失败", zap.Error(err))
	}

	if err := logger.Sync(); err != nil {
		fmt.Printf("同步日志失败: %v\n", err)
	}
	return nil
}

// reloadConfig 配置热更新；回合参数和门禁口令在重启后生效
func (s *Server) reloadConfig(newCfg *config.Config) {
	s.logger.Info("配置文件已更新，部分参数需重启生效",
		zap.Int("rounds", newCfg.Game.Rounds),
		zap.Duration("chat_duration", newCfg.Game.ChatDuration),
		zap.String("default_strategy", newCfg.Game.DefaultStrategy))
}

func ginMode(mode string) string {
	switch mode {
	case "production", "release":
		return gin.ReleaseMode
	case "test":
		return gin.TestMode
	default:
		return gin.DebugMode
	}
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("课堂囚徒困境服务\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
}
