package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Game      GameConfig      `mapstructure:"game"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Log       LogConfig       `mapstructure:"log"`
	Security  SecurityConfig  `mapstructure:"security"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// WebSocketConfig WebSocket配置
type WebSocketConfig struct {
	Path            string        `mapstructure:"path"`
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	PongTimeout     time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	TickInterval    time.Duration `mapstructure:"tick_interval"` // 倒计时推送间隔
	MaxPerGame      int           `mapstructure:"max_per_game"`  // 同一局最多连接数（多标签页），0 不限
}

// GameConfig 回合流程配置
type GameConfig struct {
	Rounds                    int               `mapstructure:"rounds"`
	ChatDuration              time.Duration     `mapstructure:"chat_duration"`
	DefaultStrategy           string            `mapstructure:"default_strategy"`
	ClassStrategies           map[string]string `mapstructure:"class_strategies"` // 班级代码 -> 策略
	AllowStrategyOverride     bool              `mapstructure:"allow_strategy_override"`
	OpenerProbability         float64           `mapstructure:"opener_probability"`
	RequireLockBeforeContinue bool              `mapstructure:"require_lock_before_continue"` // 倒计时结束前不允许进入决策
	ReplyTimeout              time.Duration     `mapstructure:"reply_timeout"`
	DecisionTimeout           time.Duration     `mapstructure:"decision_timeout"`
	SessionTimeout            time.Duration     `mapstructure:"session_timeout"`
	MaxSessions               int               `mapstructure:"max_sessions"`
	CleanupInterval           time.Duration     `mapstructure:"cleanup_interval"`
}

// LLMConfig 文本生成服务配置
type LLMConfig struct {
	BaseURL                     string        `mapstructure:"base_url"`
	APIKey                      string        `mapstructure:"api_key"`
	Model                       string        `mapstructure:"model"`
	Timeout                     time.Duration `mapstructure:"timeout"`
	ReplyMaxTokens              int           `mapstructure:"reply_max_tokens"`
	ShortReplyMaxTokens         int           `mapstructure:"short_reply_max_tokens"`
	ReplyTemperature            float64       `mapstructure:"reply_temperature"`
	DecisionMaxTokens           int           `mapstructure:"decision_max_tokens"`
	DecisionTemperature         float64       `mapstructure:"decision_temperature"`
	ShortReplyProbability       float64       `mapstructure:"short_reply_probability"`
	AgreementSilenceProbability float64       `mapstructure:"agreement_silence_probability"`
	MaxReplyChars               int           `mapstructure:"max_reply_chars"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// SecurityConfig 安全配置
// 口令既可以是明文，也可以是 argon2id 编码后的哈希
type SecurityConfig struct {
	ClassPassword     string    `mapstructure:"class_password"`
	DashboardPassword string    `mapstructure:"dashboard_password"`
	ExportKey         string    `mapstructure:"export_key"`
	CookieSecure      bool      `mapstructure:"cookie_secure"`
	JWT               JWTConfig `mapstructure:"jwt"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

// DashboardConfig 看板配置
type DashboardConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
	PreviewCount int `mapstructure:"preview_count"`
	PreviewChars int `mapstructure:"preview_chars"`
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// Init 初始化配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		var loaded *Config
		v, loaded, err = load(configPath)
		if err != nil {
			return
		}
		cfg = loaded
	})

	return err
}

// Load 读取配置但不写入全局实例（供测试和工具使用）
func Load(configPath string) (*Config, error) {
	_, c, err := load(configPath)
	return c, err
}

func load(configPath string) (*viper.Viper, *Config, error) {
	vp := viper.New()

	// 设置配置文件路径
	if configPath != "" {
		vp.SetConfigFile(configPath)
	} else {
		vp.SetConfigName("config")
		vp.SetConfigType("yaml")
		vp.AddConfigPath("./config")
		vp.AddConfigPath(".")
	}

	// 设置环境变量前缀
	vp.SetEnvPrefix("PD_CLASSROOM")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	setDefaults(vp)
	bindLegacyEnv(vp)

	if err := vp.ReadInConfig(); err != nil {
		// 配置文件不存在时使用默认配置
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, err
		}
	}

	c := &Config{}
	if err := vp.Unmarshal(c); err != nil {
		return nil, nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}
	return vp, c, nil
}

// bindLegacyEnv 兼容部署平台上已有的环境变量名
func bindLegacyEnv(vp *viper.Viper) {
	_ = vp.BindEnv("llm.api_key", "PD_CLASSROOM_LLM_API_KEY", "OPENAI_API_KEY")
	_ = vp.BindEnv("llm.model", "PD_CLASSROOM_LLM_MODEL", "OPENAI_MODEL")
	_ = vp.BindEnv("security.class_password", "PD_CLASSROOM_SECURITY_CLASS_PASSWORD", "CLASS_PASS")
	_ = vp.BindEnv("security.dashboard_password", "PD_CLASSROOM_SECURITY_DASHBOARD_PASSWORD", "DASH_PASS")
	_ = vp.BindEnv("security.export_key", "PD_CLASSROOM_SECURITY_EXPORT_KEY", "ADMIN_EXPORT_KEY")
	_ = vp.BindEnv("security.jwt.secret", "PD_CLASSROOM_SECURITY_JWT_SECRET", "JWT_SECRET")
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "development")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// 数据库默认配置
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/pd-classroom.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)

	// WebSocket默认配置
	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.max_message_size", 8192)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_timeout", "60s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.tick_interval", "1s")
	v.SetDefault("websocket.max_per_game", 5)

	// 回合流程默认配置
	v.SetDefault("game.rounds", 10)
	v.SetDefault("game.chat_duration", "30s")
	v.SetDefault("game.default_strategy", "CHAT_DRIVEN")
	v.SetDefault("game.allow_strategy_override", false)
	v.SetDefault("game.opener_probability", 0.3)
	v.SetDefault("game.require_lock_before_continue", true)
	v.SetDefault("game.reply_timeout", "20s")
	v.SetDefault("game.decision_timeout", "20s")
	v.SetDefault("game.session_timeout", "2h")
	v.SetDefault("game.max_sessions", 1000)
	v.SetDefault("game.cleanup_interval", "5m")

	// 文本生成默认配置
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4.1-mini")
	v.SetDefault("llm.timeout", "30s")
	v.SetDefault("llm.reply_max_tokens", 90)
	v.SetDefault("llm.short_reply_max_tokens", 10)
	v.SetDefault("llm.reply_temperature", 0.9)
	v.SetDefault("llm.decision_max_tokens", 80)
	v.SetDefault("llm.decision_temperature", 0.2)
	v.SetDefault("llm.short_reply_probability", 0.4)
	v.SetDefault("llm.agreement_silence_probability", 0.4)
	v.SetDefault("llm.max_reply_chars", 280)

	// 安全默认配置
	v.SetDefault("security.cookie_secure", false)
	v.SetDefault("security.jwt.expire_hours", 8)

	// 看板默认配置
	v.SetDefault("dashboard.default_limit", 2000)
	v.SetDefault("dashboard.max_limit", 5000)
	v.SetDefault("dashboard.preview_count", 4)
	v.SetDefault("dashboard.preview_chars", 220)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "both")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "pd-classroom.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Game.Rounds <= 0 {
		return fmt.Errorf("game.rounds 必须大于0: %d", c.Game.Rounds)
	}
	if c.Game.ChatDuration <= 0 {
		return fmt.Errorf("game.chat_duration 必须大于0")
	}
	if c.Dashboard.MaxLimit <= 0 || c.Dashboard.DefaultLimit <= 0 {
		return fmt.Errorf("dashboard 查询上限必须大于0")
	}
	if c.Dashboard.DefaultLimit > c.Dashboard.MaxLimit {
		c.Dashboard.DefaultLimit = c.Dashboard.MaxLimit
	}
	for _, p := range []float64{c.Game.OpenerProbability, c.LLM.ShortReplyProbability, c.LLM.AgreementSilenceProbability} {
		if p < 0 || p > 1 {
			return fmt.Errorf("概率配置必须在[0,1]之间: %v", p)
		}
	}
	return nil
}

// StrategyFor 返回班级对应的策略名称，未配置时使用默认策略
func (g *GameConfig) StrategyFor(classCode string) string {
	if s, ok := g.ClassStrategies[strings.ToLower(strings.TrimSpace(classCode))]; ok && s != "" {
		return s
	}
	return g.DefaultStrategy
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch 监听配置文件变化
func Watch(callback func(*Config)) {
	if v == nil {
		return
	}
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		mu.Lock()
		defer mu.Unlock()

		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Printf("配置重载失败: %v\n", err)
			return
		}
		if err := newCfg.Validate(); err != nil {
			fmt.Printf("配置校验失败，保留旧配置: %v\n", err)
			return
		}

		cfg = newCfg

		if callback != nil {
			callback(cfg)
		}

		fmt.Println("配置已重新加载:", e.Name)
	})
}
