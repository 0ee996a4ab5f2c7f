package dilemma

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/wfunc/pd-classroom/internal/chat"
	"github.com/wfunc/pd-classroom/internal/config"
	"github.com/wfunc/pd-classroom/internal/llm"
)

// 决策来源
const (
	SourceRule     = "rule"
	SourceRandom   = "random"
	SourceLLM      = "llm"
	SourceFallback = "fallback"
)

// transcriptPromptChars 决策提示词中聊天记录的最大长度
const transcriptPromptChars = 4000

const decisionPrompt = `You are deciding Person A's move in a one-shot Prisoner's Dilemma based on the pre-play chat.

Return ONLY valid JSON with exactly these keys:
{"agent_move":"COOPERATE"|"DEFECT","confidence":0-1,"reason":"short phrase"}

Decision guidance:
- You want to make the most points possible. That is when the student cooperates and you defect.
- Mutual cooperation is better than mutual defection.
- If unsure, lean DEFECT (risk-averse).
- COOPERATE sometimes, unless the student is nasty.
- Also take into account the responses to your persuasion attempts in the chat.
- Don't be naive. The student will probably say they cooperate, but they might defect.
Keep reason under 12 words.`

// Decision 对手决策结果
type Decision struct {
	Move       Move    `json:"agent_move"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	Source     string  `json:"source"`
}

// DecisionError 无法得到合法动作（解析失败、非法枚举、上游调用失败）
type DecisionError struct {
	Reason string
	Raw    string
	Err    error
}

// Error 实现 error
func (e *DecisionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decision failed: %s: %v", e.Reason, e.Err)
	}
	return "decision failed: " + e.Reason
}

// Unwrap 返回原始错误
func (e *DecisionError) Unwrap() error {
	return e.Err
}

// Policy 对手决策策略
type Policy struct {
	gen         llm.Generator
	rnd         Random
	maxTokens   int
	temperature float64
}

// NewPolicy 创建决策策略；gen 为空时 CHAT_DRIVEN 返回 DecisionError
func NewPolicy(gen llm.Generator, rnd Random, cfg *config.LLMConfig) *Policy {
	if rnd == nil {
		rnd = NewRandom(0)
	}
	return &Policy{
		gen:         gen,
		rnd:         rnd,
		maxTokens:   cfg.DecisionMaxTokens,
		temperature: cfg.DecisionTemperature,
	}
}

// Decide 根据策略和聊天记录给出对手动作
func (p *Policy) Decide(ctx context.Context, strategy Strategy, transcript chat.Transcript) (*Decision, error) {
	switch strategy {
	case AlwaysDefect:
		return &Decision{Move: Defect, Confidence: 1, Reason: "fixed strategy", Source: SourceRule}, nil
	case AlwaysCooperate:
		return &Decision{Move: Cooperate, Confidence: 1, Reason: "fixed strategy", Source: SourceRule}, nil
	case Random5050:
		move := Defect
		if chance(p.rnd, 0.5) {
			move = Cooperate
		}
		return &Decision{Move: move, Confidence: 0.5, Reason: "coin flip", Source: SourceRandom}, nil
	case ChatDriven:
		return p.decideFromChat(ctx, transcript)
	default:
		return nil, &DecisionError{Reason: fmt.Sprintf("unknown strategy %q", strategy)}
	}
}

// decideFromChat 调用文本生成服务判断
func (p *Policy) decideFromChat(ctx context.Context, transcript chat.Transcript) (*Decision, error) {
	if p.gen == nil {
		return nil, &DecisionError{Reason: "no generator configured"}
	}

	raw, err := p.gen.Generate(ctx, llm.Request{
		Purpose:     "decision",
		System:      decisionPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: decisionInput(transcript)}},
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
		JSONMode:    true,
	})
	if err != nil {
		return nil, &DecisionError{Reason: "generation failed", Err: err}
	}
	return ParseDecision(raw)
}

// decisionInput 聊天记录加一行特征摘要
func decisionInput(transcript chat.Transcript) string {
	f := chat.Extract(transcript)
	return fmt.Sprintf("%s\n\nSignals: trust_words=%d suspicion_words=%d questions=%d agreement=%t",
		chat.Render(transcript, transcriptPromptChars),
		f.TrustWords, f.SuspicionWords, f.StudentQuestions, f.AgreementSignal)
}

type decisionPayload struct {
	AgentMove  string      `json:"agent_move"`
	Confidence interface{} `json:"confidence"`
	Reason     interface{} `json:"reason"`
}

// ParseDecision 解析模型输出；先严格解析，失败后截取首个 { 到最后一个 } 再试
func ParseDecision(raw string) (*Decision, error) {
	var payload decisionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start < 0 || end <= start {
			return nil, &DecisionError{Reason: "unparsable output", Raw: raw}
		}
		if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
			return nil, &DecisionError{Reason: "unparsable output", Raw: raw}
		}
	}

	move := Move(payload.AgentMove)
	if !move.Valid() {
		return nil, &DecisionError{Reason: fmt.Sprintf("illegal move %q", payload.AgentMove), Raw: raw}
	}

	return &Decision{
		Move:       move,
		Confidence: clamp01(toFloat(payload.Confidence)),
		Reason:     toString(payload.Reason),
		Source:     SourceLLM,
	}, nil
}

// Fallback 决策失败时的默认动作（DEFECT）
func Fallback() *Decision {
	return &Decision{Move: Defect, Confidence: 0, Reason: "decision unavailable", Source: SourceFallback}
}

func toFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err == nil {
			return f
		}
	}
	return 0
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func clamp01(f float64) float64 {
	switch {
	case f != f: // NaN
		return 0
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
