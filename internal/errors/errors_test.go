package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

// ErrorsTestSuite 错误包测试套件
type ErrorsTestSuite struct {
	suite.Suite
}

// 测试创建新错误
func (suite *ErrorsTestSuite) TestNew() {
	err := New(ErrInvalidParam)
	suite.NotNil(err)
	suite.Equal(ErrInvalidParam, err.Code)
	suite.Equal("Invalid input", err.Message)
	suite.Empty(err.Details)

	// 带详情
	err = New(ErrSessionNotFound, "game abc")
	suite.Equal("Game session not found", err.Message)
	suite.Equal("game abc", err.Details)

	// 多个详情
	err = New(ErrDatabaseConnect, "连接失败", "driver: sqlite")
	suite.Equal("连接失败; driver: sqlite", err.Details)

	// 未知错误码回落到通用消息
	err = New(ErrorCode(99999))
	suite.Equal("Unknown error", err.Message)
}

// 测试格式化错误创建
func (suite *ErrorsTestSuite) TestNewf() {
	err := Newf(ErrInvalidParam, "round %d out of range", 11)
	suite.Equal("round 11 out of range", err.Details)
}

// 测试错误包装
func (suite *ErrorsTestSuite) TestWrap() {
	originalErr := errors.New("原始错误")
	wrappedErr := Wrap(originalErr, ErrDatabaseQuery)
	suite.NotNil(wrappedErr)
	suite.Equal(ErrDatabaseQuery, wrappedErr.Code)
	suite.Equal("原始错误", wrappedErr.Details)
	suite.Equal(originalErr, wrappedErr.Cause)

	suite.Nil(Wrap(nil, ErrUnknown))

	// 已是AppError时保留原始错误码
	appErr := New(ErrChatLocked, "round 3")
	wrappedAppErr := Wrap(appErr, ErrInvalidParam, "额外信息")
	suite.Equal(ErrChatLocked, wrappedAppErr.Code)
	suite.Contains(wrappedAppErr.Details, "额外信息")
}

// 测试格式化错误包装
func (suite *ErrorsTestSuite) TestWrapf() {
	originalErr := errors.New("连接超时")
	wrappedErr := Wrapf(originalErr, ErrGenerationFailed, "model %s", "gpt-4.1-mini")
	suite.Equal(ErrGenerationFailed, wrappedErr.Code)
	suite.Equal("model gpt-4.1-mini", wrappedErr.Details)
	suite.ErrorIs(wrappedErr, originalErr)
}

// 测试错误码判断（包括fmt.Errorf包装链）
func (suite *ErrorsTestSuite) TestIs() {
	err := New(ErrAuthentication)
	suite.True(Is(err, ErrAuthentication))
	suite.False(Is(err, ErrNotFound))
	suite.False(Is(nil, ErrAuthentication))
	suite.False(Is(errors.New("plain"), ErrAuthentication))

	chained := fmt.Errorf("outer: %w", New(ErrDecisionFailed))
	suite.True(Is(chained, ErrDecisionFailed))
}

// 测试获取错误码
func (suite *ErrorsTestSuite) TestGetCode() {
	suite.Equal(ErrorCode(0), GetCode(nil))
	suite.Equal(ErrUnknown, GetCode(errors.New("plain")))
	suite.Equal(ErrAggregationInput, GetCode(New(ErrAggregationInput)))
}

// 测试错误分类
func (suite *ErrorsTestSuite) TestCategoryOf() {
	suite.Equal(CategoryValidation, CategoryOf(ErrInvalidParam))
	suite.Equal(CategoryAuth, CategoryOf(ErrAuthentication))
	suite.Equal(CategoryAuth, CategoryOf(ErrTokenExpired))
	suite.Equal(CategoryDecision, CategoryOf(ErrModelOutput))
	suite.Equal(CategoryPersistence, CategoryOf(ErrDatabaseInsert))
	suite.Equal(CategoryAggregationInput, CategoryOf(ErrAggregationInput))
	suite.Equal(CategoryGameFlow, CategoryOf(ErrChatLocked))
	suite.Equal(CategoryInternal, CategoryOf(ErrUnknown))
}

// 测试错误字符串
func (suite *ErrorsTestSuite) TestError() {
	suite.Equal("[1001] Invalid input", New(ErrInvalidParam).Error())
	suite.Equal("[7000] Wrong password: class gate", New(ErrAuthentication, "class gate").Error())
}

// 测试WithDetails与WithCause
func (suite *ErrorsTestSuite) TestWithDetailsAndCause() {
	err := New(ErrDatabaseUpdate).WithDetails("attach outcome")
	suite.Equal("attach outcome", err.Details)

	cause := errors.New("disk full")
	err = New(ErrDatabaseInsert).WithCause(cause)
	suite.Equal("disk full", err.Details)
	suite.Equal(cause, err.Unwrap())
}

// 测试HTTP状态码映射
func (suite *ErrorsTestSuite) TestHTTPStatus() {
	tests := []struct {
		code   ErrorCode
		status int
	}{
		{ErrInvalidParam, 400},
		{ErrAggregationInput, 400},
		{ErrNotFound, 404},
		{ErrSessionNotFound, 404},
		{ErrAuthentication, 401},
		{ErrTokenInvalid, 401},
		{ErrAuthorization, 403},
		{ErrChatLocked, 409},
		{ErrGameStateError, 409},
		{ErrDatabaseInsert, 503},
		{ErrSessionLimit, 503},
		{ErrDecisionFailed, 500},
	}

	for _, tt := range tests {
		suite.Equal(tt.status, New(tt.code).HTTPStatus(), "code %d", tt.code)
	}
}

// 测试可重试判断
// 测试非阻断提示
func (suite *ErrorsTestSuite) TestNoticeFrom() {
	n := NoticeFrom(errors.New("boom"), ErrDecisionFailed, "")
	suite.Equal(ErrDecisionFailed, n.Code)
	suite.Equal(CategoryDecision, n.Category)
	suite.Equal("Person A could not decide", n.Message)

	n = NoticeFrom(New(ErrDatabaseInsert), ErrUnknown, "Your round was not saved.")
	suite.Equal(ErrDatabaseInsert, n.Code)
	suite.Equal(CategoryPersistence, n.Category)
	suite.Equal("Your round was not saved.", n.Message)
}

// 测试调用栈捕获
func (suite *ErrorsTestSuite) TestStack() {
	err := New(ErrUnknown)
	suite.NotEmpty(err.Stack)
	suite.NotEmpty(err.GetStack())
	suite.Empty((&AppError{}).GetStack())
}

// 测试错误响应
func (suite *ErrorsTestSuite) TestNewErrorResponse() {
	resp := NewErrorResponse(New(ErrAggregationInput), "req-1")
	suite.False(resp.Success)
	suite.Equal(CategoryAggregationInput, resp.Category)
	suite.Equal("req-1", resp.RequestID)
	suite.NotZero(resp.Timestamp)
}

// 运行测试套件
func TestErrorsTestSuite(t *testing.T) {
	suite.Run(t, new(ErrorsTestSuite))
}
