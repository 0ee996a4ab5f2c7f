package dilemma

import (
	"context"
	"fmt"
	"strings"

	"github.com/wfunc/pd-classroom/internal/chat"
	"github.com/wfunc/pd-classroom/internal/config"
	"github.com/wfunc/pd-classroom/internal/llm"
)

// 回复来源
const (
	ReplySourceAck      = "ack"
	ReplySourceSilence  = "silence"
	ReplySourceLLM      = "llm"
	ReplySourceFallback = "fallback"
)

// AgreementAck 学生已同意时的最短回应
const AgreementAck = "Okay"

// EmptyReplyFallback 生成结果为空时的固定追问
const EmptyReplyFallback = "I'm here. Tell me in one sentence what you think cooperation means in this game."

const (
	sincereStyle = "Try to coordinate on cooperation in a sincere way."
	salesyStyle  = "You sound warm and trust-building, but you may sound a bit salesy or evasive."
)

const replyPrompt = `You are "Person A", a normal human partner chatting briefly before a one-shot Prisoner's Dilemma.
Sound like casual texting: short, informal, sometimes imperfect.

Goal:
Persuade the student to cooperate without sounding like a professor. Be polite sometimes, sometimes brusque, sometimes both.

Style rules:
- you can lie. you can say COOPERATE but then DEFECT.
- Use simple everyday language.
- Be skeptical sometimes.
- Avoid em dashes, long hyphen sequences, or overly polished punctuation.
- Frequently include small natural typos or slang (e.g., "kinda", "yeah", "tbh"), but keep it readable.
- Keep replies 1 sentence (max ~15 words).
- Typos are okay but not excessive.
- Sometimes reply with one word only ("ok", "sure", "cooperate", "nah").

Constraints:
- Keep it casual (no lecture, no formal definitions).
- Ask at most TWO short questions total in the whole chat.
- Don't mention being an AI, policies, or "as a model".

Important:
- You can express preferences (e.g., "I'm hoping we can both cooperate"), but stay a bit noncommittal.
- use the word defect sometimes, like "are you going to defect?" or "I don't want to defect" or something similar.
If the student asks what you will do:
- Be charmingly noncommittal and redirect to coordination ("I'd love mutual cooperation, let's see if we can get there.").
Hidden style note for you: %s
If SHORT_MODE is true:
- Reply with ONE word only (examples: "Okay.", "Sure.", "Cooperate.", "Alright.").
- Do not add explanations.

SHORT_MODE: %t`

// openerInstruction 对手先开口时作为唯一的用户消息
const openerInstruction = "(The chat just opened. Send the first short message to the student.)"

// Reply 对手的一条聊天回复；Silent 为 true 时不追加任何消息
type Reply struct {
	Text   string `json:"text"`
	Silent bool   `json:"silent"`
	Short  bool   `json:"short"`
	Source string `json:"source"`
}

// Counterpart 生成对手（Person A）的聊天回复
type Counterpart struct {
	gen      llm.Generator
	rnd      Random
	cfg      config.LLMConfig
	openerP  float64
	maxChars int
}

// NewCounterpart 创建对手回复生成器
func NewCounterpart(gen llm.Generator, rnd Random, llmCfg *config.LLMConfig, gameCfg *config.GameConfig) *Counterpart {
	if rnd == nil {
		rnd = NewRandom(0)
	}
	return &Counterpart{
		gen:      gen,
		rnd:      rnd,
		cfg:      *llmCfg,
		openerP:  gameCfg.OpenerProbability,
		maxChars: llmCfg.MaxReplyChars,
	}
}

// Reply 根据聊天记录回复学生
// 学生最后一句是明确同意时不调用生成服务，直接简短确认或保持沉默
func (c *Counterpart) Reply(ctx context.Context, strategy Strategy, transcript chat.Transcript) (*Reply, error) {
	if chat.IsAgreement(transcript.LastStudentText()) {
		if chance(c.rnd, c.cfg.AgreementSilenceProbability) {
			return &Reply{Silent: true, Source: ReplySourceSilence}, nil
		}
		return &Reply{Text: AgreementAck, Source: ReplySourceAck}, nil
	}

	messages := make([]llm.Message, 0, len(transcript))
	for _, m := range transcript {
		role := llm.RoleAssistant
		if m.Role == chat.RoleStudent {
			role = llm.RoleUser
		}
		messages = append(messages, llm.Message{Role: role, Content: m.Text})
	}
	return c.generate(ctx, "reply", strategy, messages)
}

// Opener 对手是否先开口；不开口时返回 nil
func (c *Counterpart) Opener(ctx context.Context, strategy Strategy) (*Reply, error) {
	if !chance(c.rnd, c.openerP) {
		return nil, nil
	}
	return c.generate(ctx, "opener", strategy, []llm.Message{{Role: llm.RoleUser, Content: openerInstruction}})
}

func (c *Counterpart) generate(ctx context.Context, purpose string, strategy Strategy, messages []llm.Message) (*Reply, error) {
	short := chance(c.rnd, c.cfg.ShortReplyProbability)
	maxTokens := c.cfg.ReplyMaxTokens
	if short {
		maxTokens = c.cfg.ShortReplyMaxTokens
	}

	if c.gen == nil {
		return &Reply{Text: EmptyReplyFallback, Short: short, Source: ReplySourceFallback}, nil
	}

	text, err := c.gen.Generate(ctx, llm.Request{
		Purpose:     purpose,
		System:      fmt.Sprintf(replyPrompt, styleNote(strategy), short),
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: c.cfg.ReplyTemperature,
	})
	if err != nil {
		return nil, err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return &Reply{Text: EmptyReplyFallback, Short: short, Source: ReplySourceFallback}, nil
	}
	return &Reply{Text: chat.Truncate(text, c.maxChars), Short: short, Source: ReplySourceLLM}, nil
}

// styleNote 固定策略下对手可能并不打算合作，语气偏推销
func styleNote(strategy Strategy) string {
	if strategy == ChatDriven {
		return sincereStyle
	}
	return salesyStyle
}
