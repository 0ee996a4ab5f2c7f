package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// 门禁类型
const (
	GateClass     = "class"
	GateDashboard = "dashboard"
)

const tokenIssuer = "pd-classroom"

// GateClaims 门禁令牌 Claims（不包含任何学生身份信息）
type GateClaims struct {
	Gate string `json:"gate"`
	jwt.RegisteredClaims
}

// JWTManager JWT管理器
type JWTManager struct {
	secretKey string
	expiry    time.Duration
}

// NewJWTManager 创建JWT管理器
func NewJWTManager(secretKey string, expiry time.Duration) *JWTManager {
	return &JWTManager{
		secretKey: secretKey,
		expiry:    expiry,
	}
}

// GenerateGateToken 生成门禁令牌
func (j *JWTManager) GenerateGateToken(gate string) (string, error) {
	now := time.Now()

	claims := &GateClaims{
		Gate: gate,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(j.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   gate,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(j.secretKey))
}

// ValidateGateToken 验证令牌，并要求令牌属于指定门禁
func (j *JWTManager) ValidateGateToken(tokenString, gate string) (*GateClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &GateClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(j.secretKey), nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*GateClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Gate != gate {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// Expiry 令牌有效期（Cookie Max-Age 使用）
func (j *JWTManager) Expiry() time.Duration {
	return j.expiry
}
