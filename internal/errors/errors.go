package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode 错误码类型
type ErrorCode int

// 错误码定义（按模块分组）
const (
	// 通用错误 (1000-1999)
	ErrUnknown          ErrorCode = 1000
	ErrInvalidParam     ErrorCode = 1001 // ValidationError
	ErrNotFound         ErrorCode = 1002
	ErrAlreadyExists    ErrorCode = 1003
	ErrPermissionDenied ErrorCode = 1004
	ErrTimeout          ErrorCode = 1005
	ErrCanceled         ErrorCode = 1006

	// 回合流程错误 (2000-2999)
	ErrGameStateError   ErrorCode = 2000
	ErrSessionNotFound  ErrorCode = 2001
	ErrChatLocked       ErrorCode = 2002
	ErrGameCompleted    ErrorCode = 2003
	ErrSessionLimit     ErrorCode = 2004
	ErrRoundNotFinished ErrorCode = 2005

	// 决策错误 (3000-3999)
	ErrDecisionFailed   ErrorCode = 3000 // DecisionError
	ErrModelOutput      ErrorCode = 3001
	ErrGenerationFailed ErrorCode = 3002

	// 通信错误 (4000-4999)
	ErrWebSocketConnect ErrorCode = 4000
	ErrWebSocketClosed  ErrorCode = 4001
	ErrMessageFormat    ErrorCode = 4002

	// 数据库错误 (5000-5999)，PersistenceError
	ErrDatabaseConnect ErrorCode = 5000
	ErrDatabaseQuery   ErrorCode = 5001
	ErrDatabaseInsert  ErrorCode = 5002
	ErrDatabaseUpdate  ErrorCode = 5003
	ErrDatabaseDelete  ErrorCode = 5004

	// 配置错误 (6000-6999)
	ErrConfigLoad     ErrorCode = 6000
	ErrConfigValidate ErrorCode = 6001
	ErrConfigMissing  ErrorCode = 6002

	// 安全错误 (7000-7999)，AuthError
	ErrAuthentication ErrorCode = 7000
	ErrAuthorization  ErrorCode = 7001
	ErrTokenExpired   ErrorCode = 7002
	ErrTokenInvalid   ErrorCode = 7003

	// 统计查询错误 (8000-8999)
	ErrAggregationInput ErrorCode = 8000 // AggregationInputError
)

// Category 错误大类
type Category string

const (
	CategoryValidation       Category = "validation"
	CategoryAuth             Category = "auth"
	CategoryDecision         Category = "decision"
	CategoryPersistence      Category = "persistence"
	CategoryAggregationInput Category = "aggregation_input"
	CategoryGameFlow         Category = "game_flow"
	CategoryInternal         Category = "internal"
)

// 错误码消息映射（面向学生和教师展示，使用英文）
var errorMessages = map[ErrorCode]string{
	ErrUnknown:          "Unknown error",
	ErrInvalidParam:     "Invalid input",
	ErrNotFound:         "Not found",
	ErrAlreadyExists:    "Already exists",
	ErrPermissionDenied: "Permission denied",
	ErrTimeout:          "Operation timed out",
	ErrCanceled:         "Operation canceled",

	ErrGameStateError:   "Action not allowed at this step",
	ErrSessionNotFound:  "Game session not found",
	ErrChatLocked:       "Chat time is up",
	ErrGameCompleted:    "Game already completed",
	ErrSessionLimit:     "Too many active games",
	ErrRoundNotFinished: "Round not finished yet",

	ErrDecisionFailed:   "Person A could not decide",
	ErrModelOutput:      "Unreadable decision output",
	ErrGenerationFailed: "Text generation failed",

	ErrWebSocketConnect: "WebSocket connection failed",
	ErrWebSocketClosed:  "WebSocket connection closed",
	ErrMessageFormat:    "Malformed message",

	ErrDatabaseConnect: "Database unavailable",
	ErrDatabaseQuery:   "Could not read records",
	ErrDatabaseInsert:  "Could not save record",
	ErrDatabaseUpdate:  "Could not update record",
	ErrDatabaseDelete:  "Could not delete record",

	ErrConfigLoad:     "Configuration load failed",
	ErrConfigValidate: "Configuration invalid",
	ErrConfigMissing:  "Configuration missing",

	ErrAuthentication: "Wrong password",
	ErrAuthorization:  "Not authorized",
	ErrTokenExpired:   "Session expired",
	ErrTokenInvalid:   "Invalid session token",

	ErrAggregationInput: "Missing or invalid query parameters",
}

// AppError 应用错误结构
type AppError struct {
	Code    ErrorCode    `json:"code"`    // 错误码
	Message string       `json:"message"` // 错误消息
	Details string       `json:"details"` // 详细信息
	Cause   error        `json:"-"`       // 原始错误
	Stack   []StackFrame `json:"-"`       // 调用栈
}

// StackFrame 调用栈帧
type StackFrame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 返回原始错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加详细信息
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithCause 添加原因错误
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	if cause != nil && e.Details == "" {
		e.Details = cause.Error()
	}
	return e
}

// New 创建新的应用错误
func New(code ErrorCode, details ...string) *AppError {
	message, ok := errorMessages[code]
	if !ok {
		message = errorMessages[ErrUnknown]
	}

	err := &AppError{
		Code:    code,
		Message: message,
	}

	if len(details) > 0 {
		err.Details = strings.Join(details, "; ")
	}

	err.captureStack(2)

	return err
}

// Newf 创建格式化的应用错误
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	details := fmt.Sprintf(format, args...)
	return New(code, details)
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, details ...string) *AppError {
	if err == nil {
		return nil
	}

	// 如果已经是AppError，保留原始错误码
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		if len(details) > 0 {
			appErr.Details = strings.Join(details, "; ") + "; " + appErr.Details
		}
		return appErr
	}

	appErr = New(code, details...)
	appErr.Cause = err
	if appErr.Details == "" {
		appErr.Details = err.Error()
	}

	return appErr
}

// Wrapf 包装格式化错误
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	details := fmt.Sprintf(format, args...)
	return Wrap(err, code, details)
}

// As 提取错误链中的AppError
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is 判断错误是否为指定错误码
func Is(err error, code ErrorCode) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// GetCode 获取错误码
func GetCode(err error) ErrorCode {
	if err == nil {
		return 0
	}

	if appErr, ok := As(err); ok {
		return appErr.Code
	}

	return ErrUnknown
}

// CategoryOf 返回错误码所属的大类
func CategoryOf(code ErrorCode) Category {
	switch {
	case code == ErrInvalidParam || code == ErrMessageFormat:
		return CategoryValidation
	case code >= 7000 && code <= 7999:
		return CategoryAuth
	case code >= 3000 && code <= 3999:
		return CategoryDecision
	case code >= 5000 && code <= 5999:
		return CategoryPersistence
	case code >= 8000 && code <= 8999:
		return CategoryAggregationInput
	case code >= 2000 && code <= 2999:
		return CategoryGameFlow
	default:
		return CategoryInternal
	}
}

// captureStack 捕获调用栈
func (e *AppError) captureStack(skip int) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)

	if n > 0 {
		frames := runtime.CallersFrames(pcs[:n])
		for {
			frame, more := frames.Next()

			// 跳过runtime和本包的调用
			if strings.Contains(frame.Function, "runtime.") ||
				strings.Contains(frame.Function, "github.com/wfunc/pd-classroom/internal/errors") {
				if !more {
					break
				}
				continue
			}

			e.Stack = append(e.Stack, StackFrame{
				Function: frame.Function,
				File:     frame.File,
				Line:     frame.Line,
			})

			if !more || len(e.Stack) >= 10 {
				break
			}
		}
	}
}

// GetStack 获取格式化的调用栈
func (e *AppError) GetStack() string {
	if len(e.Stack) == 0 {
		return ""
	}

	var builder strings.Builder
	for i, frame := range e.Stack {
		builder.WriteString(fmt.Sprintf("%d. %s\n   %s:%d\n",
			i+1, frame.Function, frame.File, frame.Line))
	}

	return builder.String()
}

// HTTPStatus 返回对应的HTTP状态码
func (e *AppError) HTTPStatus() int {
	switch {
	case e.Code == ErrInvalidParam || e.Code == ErrMessageFormat || e.Code == ErrAggregationInput:
		return 400 // Bad Request
	case e.Code == ErrNotFound || e.Code == ErrSessionNotFound:
		return 404 // Not Found
	case e.Code == ErrAlreadyExists:
		return 409 // Conflict
	case e.Code == ErrPermissionDenied || e.Code == ErrAuthorization:
		return 403 // Forbidden
	case e.Code == ErrTimeout:
		return 408 // Request Timeout
	case e.Code == ErrAuthentication || e.Code == ErrTokenExpired || e.Code == ErrTokenInvalid:
		return 401 // Unauthorized
	case e.Code == ErrSessionLimit:
		return 503
	case e.Code >= 2000 && e.Code <= 2999:
		return 409 // Conflict：当前步骤不允许该操作
	case e.Code >= 5000 && e.Code <= 5999:
		return 503 // Service Unavailable
	default:
		return 500 // Internal Server Error
	}
}

// Notice 非阻断提示（决策失败、保存失败时返回给前端）
type Notice struct {
	Code     ErrorCode `json:"code"`
	Category Category  `json:"category"`
	Message  string    `json:"message"`
}

// NoticeFrom 将错误转换为非阻断提示
func NoticeFrom(err error, fallback ErrorCode, message string) Notice {
	code := fallback
	if appErr, ok := As(err); ok {
		code = appErr.Code
	}
	if message == "" {
		message = errorMessages[code]
	}
	return Notice{
		Code:     code,
		Category: CategoryOf(code),
		Message:  message,
	}
}

// ErrorResponse API错误响应结构
type ErrorResponse struct {
	Success   bool      `json:"success"`
	Error     *AppError `json:"error,omitempty"`
	Category  Category  `json:"category,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(err *AppError, requestID string) *ErrorResponse {
	return &ErrorResponse{
		Success:   false,
		Error:     err,
		Category:  CategoryOf(err.Code),
		RequestID: requestID,
		Timestamp: time.Now().Unix(),
	}
}
