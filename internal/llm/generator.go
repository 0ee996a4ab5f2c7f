// Package llm 文本生成服务的窄接口与 OpenAI 兼容实现
package llm

import "context"

// Role 对话角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 对话消息
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request 生成请求
type Request struct {
	Purpose     string // reply / decision / opener，仅用于日志
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	JSONMode    bool
}

// Generator 文本生成：提示词进，文本出，可能失败
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc 函数适配器（测试桩使用）
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

// Generate 实现 Generator
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
