package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wfunc/pd-classroom/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 全局日志器和按模块划分的日志器（game、llm、database、http、websocket）
var (
	root    *zap.Logger
	wrapped *zap.Logger // 供包级便捷函数使用，调用位置跳过一层
	modules map[string]*zap.Logger
	once    sync.Once
	mu      sync.RWMutex

	fallback = sync.OnceValue(func() *zap.Logger {
		l, err := zap.NewProduction()
		if err != nil {
			return zap.NewNop()
		}
		return l
	})
)

// sinks 日志输出目标；文件输出时错误日志另写一份 error.log
type sinks struct {
	main   zapcore.WriteSyncer
	errors zapcore.WriteSyncer
}

// Init 初始化日志系统，只生效一次
func Init(cfg *config.LogConfig) error {
	var err error
	once.Do(func() {
		var out *sinks
		out, err = openSinks(cfg)
		if err != nil {
			return
		}
		encoder := newEncoder(cfg.Format)

		mu.Lock()
		defer mu.Unlock()

		root = zap.New(out.core(encoder, parseLevel(cfg.Level)),
			zap.AddCaller(),
			zap.AddStacktrace(zapcore.ErrorLevel))
		wrapped = root.WithOptions(zap.AddCallerSkip(1))

		// 模块可单独设置级别，输出目标与全局一致
		modules = make(map[string]*zap.Logger, len(cfg.Modules))
		for module, level := range cfg.Modules {
			modules[module] = zap.New(out.core(encoder, parseLevel(level)), zap.AddCaller()).Named(module)
		}
	})
	return err
}

func openSinks(cfg *config.LogConfig) (*sinks, error) {
	var outs []zapcore.WriteSyncer
	s := &sinks{}

	if cfg.Output != "file" {
		outs = append(outs, zapcore.AddSync(os.Stdout))
	}
	if cfg.Output == "file" || cfg.Output == "both" {
		if err := os.MkdirAll(cfg.File.Path, 0755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		outs = append(outs, rotating(cfg.File, cfg.File.Filename))
		s.errors = rotating(cfg.File, "error.log")
	}

	s.main = zapcore.NewMultiWriteSyncer(outs...)
	return s, nil
}

// rotating 按大小和天数轮转的文件输出
func rotating(f config.LogFileConfig, name string) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(f.Path, name),
		MaxSize:    f.MaxSize, // MB
		MaxAge:     f.MaxAge,  // days
		MaxBackups: f.MaxBackups,
		Compress:   f.Compress,
	})
}

func (s *sinks) core(encoder zapcore.Encoder, level zapcore.Level) zapcore.Core {
	c := zapcore.NewCore(encoder, s.main, level)
	if s.errors == nil {
		return c
	}
	return zapcore.NewTee(c, zapcore.NewCore(encoder, s.errors, zapcore.ErrorLevel))
}

func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeDuration = zapcore.SecondsDurationEncoder
	if format == "json" {
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(ec)
}

// parseLevel 无法识别的级别按 info 处理
func parseLevel(s string) zapcore.Level {
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// GetLogger 获取全局日志器；未初始化时使用默认生产配置
func GetLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if root == nil {
		return fallback()
	}
	return root
}

// GetModuleLogger 获取模块日志器；模块未配置时退回全局日志器
func GetModuleLogger(module string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if l, ok := modules[module]; ok {
		return l
	}
	if root != nil {
		return root.Named(module)
	}
	return fallback().Named(module)
}

// Sync 刷新所有日志缓冲
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if root == nil {
		return nil
	}
	for _, l := range modules {
		_ = l.Sync()
	}
	return root.Sync()
}

func callerLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if wrapped == nil {
		return fallback()
	}
	return wrapped
}

// Debug 输出调试日志
func Debug(msg string, fields ...zap.Field) { callerLogger().Debug(msg, fields...) }

// Info 输出信息日志
func Info(msg string, fields ...zap.Field) { callerLogger().Info(msg, fields...) }

// Warn 输出警告日志
func Warn(msg string, fields ...zap.Field) { callerLogger().Warn(msg, fields...) }

// Error 输出错误日志
func Error(msg string, fields ...zap.Field) { callerLogger().Error(msg, fields...) }

// Fatal 输出日志后退出进程
func Fatal(msg string, fields ...zap.Field) { callerLogger().Fatal(msg, fields...) }

// LogRequest HTTP 访问日志
func LogRequest(method, path string, statusCode int, latency time.Duration, clientIP string) {
	GetModuleLogger("http").Info("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", statusCode),
		zap.Duration("latency", latency),
		zap.String("client_ip", clientIP),
	)
}

// LogPanic 记录被恢复的 panic
func LogPanic(recovered interface{}, stack []byte) {
	GetModuleLogger("http").Error("panic recovered",
		zap.Any("panic", recovered),
		zap.ByteString("stack", stack),
	)
}

// LogGameEvent 记录回合流程事件
func LogGameEvent(event string, gameID string, round int, data map[string]interface{}) {
	GetModuleLogger("game").Info("game_event",
		zap.String("event", event),
		zap.String("game_id", gameID),
		zap.Int("round", round),
		zap.Any("data", data),
	)
}

// LogDecision 记录对手决策；err 非空表示使用了默认决策
func LogDecision(gameID string, round int, strategy, move, source string, err error) {
	l := GetModuleLogger("game")
	fields := []zap.Field{
		zap.String("game_id", gameID),
		zap.Int("round", round),
		zap.String("strategy", strategy),
		zap.String("agent_move", move),
		zap.String("source", source),
	}
	if err != nil {
		l.Warn("decision_fallback", append(fields, zap.Error(err))...)
		return
	}
	l.Info("decision", fields...)
}

// LogLLMCall 记录文本生成调用
func LogLLMCall(purpose, model string, duration time.Duration, err error) {
	l := GetModuleLogger("llm")
	fields := []zap.Field{
		zap.String("purpose", purpose),
		zap.String("model", model),
		zap.Duration("duration", duration),
	}
	if err != nil {
		l.Warn("llm_call_failed", append(fields, zap.Error(err))...)
		return
	}
	l.Debug("llm_call", fields...)
}

// LogWebSocketMessage 记录推送消息，direction 为 send 或 receive
func LogWebSocketMessage(direction string, messageType string, gameID string) {
	GetModuleLogger("websocket").Debug("ws_message",
		zap.String("direction", direction),
		zap.String("type", messageType),
		zap.String("game_id", gameID),
	)
}

// LogDatabaseOperation 记录仓储层操作耗时
func LogDatabaseOperation(operation string, table string, duration time.Duration, err error) {
	l := GetModuleLogger("database")
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("table", table),
		zap.Duration("duration", duration),
	}
	if err != nil {
		l.Error("database_operation_failed", append(fields, zap.Error(err))...)
		return
	}
	l.Debug("database_operation", fields...)
}
