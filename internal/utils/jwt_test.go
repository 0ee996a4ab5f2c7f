package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"
)

// JWTTestSuite 门禁令牌测试套件
type JWTTestSuite struct {
	suite.Suite
	manager *JWTManager
}

func (suite *JWTTestSuite) SetupTest() {
	suite.manager = NewJWTManager("test-secret-key", 8*time.Hour)
}

func (suite *JWTTestSuite) TestExpiry() {
	suite.Equal(8*time.Hour, suite.manager.Expiry())
}

func (suite *JWTTestSuite) TestGenerateAndValidate() {
	token, err := suite.manager.GenerateGateToken(GateClass)
	suite.Require().NoError(err)
	suite.NotEmpty(token)

	claims, err := suite.manager.ValidateGateToken(token, GateClass)
	suite.Require().NoError(err)
	suite.Equal(GateClass, claims.Gate)
	suite.Equal(tokenIssuer, claims.Issuer)
	suite.WithinDuration(time.Now().Add(8*time.Hour), claims.ExpiresAt.Time, time.Minute)
}

// 班级令牌不能用于看板
func (suite *JWTTestSuite) TestWrongGate() {
	token, err := suite.manager.GenerateGateToken(GateClass)
	suite.Require().NoError(err)

	_, err = suite.manager.ValidateGateToken(token, GateDashboard)
	suite.ErrorIs(err, ErrInvalidToken)
}

func (suite *JWTTestSuite) TestWrongSecret() {
	token, err := NewJWTManager("other-secret", time.Hour).GenerateGateToken(GateDashboard)
	suite.Require().NoError(err)

	_, err = suite.manager.ValidateGateToken(token, GateDashboard)
	suite.ErrorIs(err, ErrInvalidToken)
}

func (suite *JWTTestSuite) TestExpiredToken() {
	expired := NewJWTManager("test-secret-key", -time.Minute)
	token, err := expired.GenerateGateToken(GateClass)
	suite.Require().NoError(err)

	_, err = suite.manager.ValidateGateToken(token, GateClass)
	suite.ErrorIs(err, ErrExpiredToken)
}

func (suite *JWTTestSuite) TestMalformedToken() {
	for _, token := range []string{"", "not-a-token", "a.b.c"} {
		_, err := suite.manager.ValidateGateToken(token, GateClass)
		suite.ErrorIs(err, ErrInvalidToken, token)
	}
}

// 非 HMAC 签名的令牌被拒绝
func (suite *JWTTestSuite) TestUnexpectedSigningMethod() {
	claims := &GateClaims{
		Gate: GateClass,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	suite.Require().NoError(err)

	_, err = suite.manager.ValidateGateToken(token, GateClass)
	suite.ErrorIs(err, ErrInvalidToken)
}

func TestJWTTestSuite(t *testing.T) {
	suite.Run(t, new(JWTTestSuite))
}
