package game

import (
	"time"

	"github.com/wfunc/pd-classroom/internal/chat"
	apperrors "github.com/wfunc/pd-classroom/internal/errors"
	"github.com/wfunc/pd-classroom/internal/game/dilemma"
)

// 推送消息类型
const (
	PushChatStarted   = "chat_started"
	PushChatTick      = "chat_tick"
	PushAgentMessage  = "agent_message"
	PushChatLocked    = "chat_locked"
	PushRoundScored   = "round_scored"
	PushGameCompleted = "game_completed"
)

// Notifier 向参与者推送事件（WebSocket 实现）
type Notifier interface {
	Notify(gameID, msgType string, data interface{})
}

// NopNotifier 不推送
type NopNotifier struct{}

// Notify 实现 Notifier
func (NopNotifier) Notify(string, string, interface{}) {}

// IdentifyRequest 参与者登记
type IdentifyRequest struct {
	ParticipantLabel string `json:"participant_label" binding:"required"`
	ClassCode        string `json:"class_code"`
	GameID           string `json:"game_id"`  // 浏览器已有的局ID，存在时复用
	Strategy         string `json:"strategy"` // 仅在允许覆盖时生效
}

// SendMessageRequest 学生发送消息
type SendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// DecisionRequest 学生提交动作
type DecisionRequest struct {
	StudentMove string `json:"student_move" binding:"required"`
}

// RoundOutcome 回合结果
type RoundOutcome struct {
	Round           int          `json:"round"`
	StudentMove     dilemma.Move `json:"student_move"`
	AgentMove       dilemma.Move `json:"agent_move"`
	StudentPayoff   int          `json:"student_payoff"`
	AgentPayoff     int          `json:"agent_payoff"`
	AgentConfidence float64      `json:"agent_confidence"`
	AgentReason     string       `json:"agent_reason,omitempty"`
	DecisionSource  string       `json:"decision_source"`
	Explanation     string       `json:"explanation"`
}

// SessionInfo 会话快照
type SessionInfo struct {
	GameID           string          `json:"game_id"`
	ParticipantLabel string          `json:"participant_label"`
	ClassCode        string          `json:"class_code"`
	Strategy         string          `json:"strategy"`
	State            GameState       `json:"state"`
	Round            int             `json:"round"`
	TotalRounds      int             `json:"total_rounds"`
	ChatLocked       bool            `json:"chat_locked"`
	RemainingSeconds int             `json:"remaining_seconds"`
	Transcript       chat.Transcript `json:"transcript"`
	StudentTotal     int             `json:"student_total"`
	AgentTotal       int             `json:"agent_total"`
	LastOutcome      *RoundOutcome   `json:"last_outcome,omitempty"`
	StartTime        time.Time       `json:"start_time"`
	ValidEvents      []string        `json:"valid_events"`
}

// MessageResult 发送消息的结果
type MessageResult struct {
	Round      int                `json:"round"`
	Reply      *dilemma.Reply     `json:"reply,omitempty"`
	Delivered  bool               `json:"delivered"` // 回复是否已追加到本回合
	ChatLocked bool               `json:"chat_locked"`
	Transcript chat.Transcript    `json:"transcript"`
	Notices    []apperrors.Notice `json:"-"`
}

// ContinueResult 进入决策阶段的结果
type ContinueResult struct {
	Session   *SessionInfo       `json:"session"`
	RecordID  uint               `json:"record_id,omitempty"`
	Duplicate bool               `json:"duplicate"`
	Notices   []apperrors.Notice `json:"-"`
}

// DecisionResult 决策结果；Duplicate 表示本次调用没有重新计算
type DecisionResult struct {
	Outcome   *RoundOutcome      `json:"outcome"`
	Session   *SessionInfo       `json:"session"`
	Duplicate bool               `json:"duplicate"`
	Notices   []apperrors.Notice `json:"-"`
}

// FinalScore 整局得分
type FinalScore struct {
	GameID           string `json:"game_id"`
	ParticipantLabel string `json:"participant_label"`
	RoundsPlayed     int    `json:"rounds_played"`
	StudentTotal     int    `json:"student_total"`
	AgentTotal       int    `json:"agent_total"`
}

// NextResult 下一回合或完成
type NextResult struct {
	Session   *SessionInfo       `json:"session"`
	Completed bool               `json:"completed"`
	Score     *FinalScore        `json:"score,omitempty"`
	Opener    *dilemma.Reply     `json:"opener,omitempty"`
	Notices   []apperrors.Notice `json:"-"`
}

// StartChatResult 开始聊天的结果
type StartChatResult struct {
	Session *SessionInfo       `json:"session"`
	Opener  *dilemma.Reply     `json:"opener,omitempty"`
	Notices []apperrors.Notice `json:"-"`
}
