package service

import (
	"time"

	"github.com/wfunc/pd-classroom/internal/config"
	"github.com/wfunc/pd-classroom/internal/repository"
	"github.com/wfunc/pd-classroom/internal/utils"
	"go.uber.org/zap"
)

// Config 服务配置
type Config struct {
	Security  config.SecurityConfig
	Dashboard config.DashboardConfig
	Rounds    int
}

// DefaultConfig 默认配置（测试使用）
func DefaultConfig() *Config {
	return &Config{
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: "change-me", ExpireHours: 8},
		},
		Dashboard: config.DashboardConfig{
			DefaultLimit: repository.DefaultQueryLimit,
			MaxLimit:     repository.MaxQueryLimit,
			PreviewCount: 4,
			PreviewChars: 220,
		},
		Rounds: 10,
	}
}

// FromAppConfig 从应用配置构造
func FromAppConfig(c *config.Config) *Config {
	return &Config{
		Security:  c.Security,
		Dashboard: c.Dashboard,
		Rounds:    c.Game.Rounds,
	}
}

// Services 服务集合
type Services struct {
	Auth      AuthService
	Dashboard DashboardService
	JWT       *utils.JWTManager
}

// NewServices 创建服务集合
func NewServices(records repository.RoundRecordRepository, cfg *Config, log *zap.Logger) *Services {
	if log == nil {
		log = zap.NewNop()
	}

	expire := time.Duration(cfg.Security.JWT.ExpireHours) * time.Hour
	if expire <= 0 {
		expire = 8 * time.Hour
	}
	jwtManager := utils.NewJWTManager(cfg.Security.JWT.Secret, expire)

	return &Services{
		Auth:      NewAuthService(cfg.Security, jwtManager, log),
		Dashboard: NewDashboardService(records, cfg, log),
		JWT:       jwtManager,
	}
}
