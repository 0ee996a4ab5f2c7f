package service

import (
	"context"
	"errors"
	"time"

	"github.com/wfunc/pd-classroom/internal/config"
	apperrors "github.com/wfunc/pd-classroom/internal/errors"
	"github.com/wfunc/pd-classroom/internal/utils"
	"go.uber.org/zap"
)

// authService 门禁服务实现
type authService struct {
	security   config.SecurityConfig
	jwtManager *utils.JWTManager
	log        *zap.Logger
}

// NewAuthService 创建门禁服务
func NewAuthService(security config.SecurityConfig, jwtManager *utils.JWTManager, log *zap.Logger) AuthService {
	return &authService{
		security:   security,
		jwtManager: jwtManager,
		log:        log,
	}
}

// secretFor 门禁对应的口令配置
func (s *authService) secretFor(gate string) (string, error) {
	switch gate {
	case utils.GateClass:
		return s.security.ClassPassword, nil
	case utils.GateDashboard:
		return s.security.DashboardPassword, nil
	default:
		return "", apperrors.Newf(apperrors.ErrInvalidParam, "unknown gate %q", gate)
	}
}

// Login 校验口令并签发门禁令牌
func (s *authService) Login(ctx context.Context, gate, password string) (*GateToken, error) {
	secret, err := s.secretFor(gate)
	if err != nil {
		return nil, err
	}
	if secret == "" {
		s.log.Error("Gate password not configured", zap.String("gate", gate))
		return nil, apperrors.Newf(apperrors.ErrConfigMissing, "%s password is not configured", gate)
	}
	if !utils.MatchSecret(password, secret) {
		s.log.Warn("Gate login failed: wrong password", zap.String("gate", gate))
		return nil, apperrors.New(apperrors.ErrAuthentication)
	}

	token, err := s.jwtManager.GenerateGateToken(gate)
	if err != nil {
		s.log.Error("Failed to sign gate token", zap.String("gate", gate), zap.Error(err))
		return nil, apperrors.Wrap(err, apperrors.ErrUnknown, "sign token")
	}

	expiry := s.jwtManager.Expiry()
	s.log.Info("Gate login succeeded", zap.String("gate", gate))
	return &GateToken{
		Gate:      gate,
		Token:     token,
		ExpiresAt: time.Now().Add(expiry),
		MaxAge:    int(expiry / time.Second),
	}, nil
}

// ValidateToken 校验门禁令牌
func (s *authService) ValidateToken(ctx context.Context, gate, token string) (*utils.GateClaims, error) {
	if token == "" {
		return nil, apperrors.New(apperrors.ErrTokenInvalid, "missing gate token")
	}
	claims, err := s.jwtManager.ValidateGateToken(token, gate)
	if err != nil {
		if errors.Is(err, utils.ErrExpiredToken) {
			return nil, apperrors.New(apperrors.ErrTokenExpired)
		}
		return nil, apperrors.New(apperrors.ErrTokenInvalid)
	}
	return claims, nil
}

// CheckExportKey 校验导出密钥；未配置时导出不可用
func (s *authService) CheckExportKey(key string) error {
	if !utils.MatchSecret(key, s.security.ExportKey) {
		s.log.Warn("Export key rejected")
		return apperrors.New(apperrors.ErrAuthentication, "export key")
	}
	return nil
}
