// Package chat 回合聊天记录与词法特征
package chat

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	apperrors "github.com/wfunc/pd-classroom/internal/errors"
)

// Role 发言方
type Role string

const (
	RoleAgent   Role = "agent"
	RoleStudent Role = "student"
)

// Valid 是否为合法发言方
func (r Role) Valid() bool {
	return r == RoleAgent || r == RoleStudent
}

// Message 单条聊天消息
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Transcript 有序聊天记录，只追加
type Transcript []Message

// Append 追加一条消息，返回新的记录
func (t Transcript) Append(role Role, text string) Transcript {
	return append(t, Message{Role: role, Text: text})
}

// Clone 复制一份（冻结回合记录时使用）
func (t Transcript) Clone() Transcript {
	if t == nil {
		return Transcript{}
	}
	out := make(Transcript, len(t))
	copy(out, t)
	return out
}

// Validate 校验发言方
func (t Transcript) Validate() error {
	for i, m := range t {
		if !m.Role.Valid() {
			return apperrors.Newf(apperrors.ErrInvalidParam, "message %d has unknown role %q", i, m.Role)
		}
	}
	return nil
}

// LastStudentText 最近一条学生消息，没有则为空串
func (t Transcript) LastStudentText() string {
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].Role == RoleStudent {
			return t[i].Text
		}
	}
	return ""
}

// ParseTranscript 宽松解析存储的聊天列
// 支持 JSON 数组、包含 JSON 数组的字符串；其他情况返回空记录
func ParseTranscript(raw []byte) Transcript {
	if len(raw) == 0 {
		return Transcript{}
	}

	var t Transcript
	if err := json.Unmarshal(raw, &t); err == nil {
		if t == nil {
			return Transcript{}
		}
		return t
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if err := json.Unmarshal([]byte(s), &t); err == nil && t != nil {
			return t
		}
	}
	return Transcript{}
}

// Preview 最近 n 条消息的摘要（看板明细使用）
func Preview(t Transcript, n, maxChars int) string {
	start := 0
	if len(t) > n {
		start = len(t) - n
	}

	parts := make([]string, 0, len(t)-start)
	for _, m := range t[start:] {
		prefix := "A: "
		if m.Role == RoleStudent {
			prefix = "You: "
		}
		parts = append(parts, prefix+m.Text)
	}
	return Truncate(strings.Join(parts, " | "), maxChars)
}

// Render 渲染为决策提示词使用的文本
func Render(t Transcript, maxChars int) string {
	lines := make([]string, 0, len(t))
	for _, m := range t {
		name := "PersonA"
		if m.Role == RoleStudent {
			name = "Student"
		}
		lines = append(lines, name+": "+m.Text)
	}
	return Truncate(strings.Join(lines, "\n"), maxChars)
}

// Truncate 按字符截断，maxChars <= 0 表示不限制
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxChars])
}
