package models

import (
	"time"

	"gorm.io/datatypes"
)

// RoundRecord 回合记录（每个参与者每回合一条）
// 两阶段写入：先插入只有聊天记录的行，决策完成后再补写结果字段
type RoundRecord struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	CreatedAt        time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	ClassCode        string         `gorm:"size:64;index" json:"class_code"`
	ParticipantLabel string         `gorm:"size:128;not null" json:"participant_label"`
	GameID           string         `gorm:"size:64;not null;uniqueIndex:idx_round_records_game_round" json:"game_id"`
	RoundNum         int            `gorm:"not null;uniqueIndex:idx_round_records_game_round" json:"round_num"`
	Strategy         string         `gorm:"size:32" json:"strategy"`
	Chat             datatypes.JSON `json:"chat"`

	// 结果字段，决策前为空
	StudentMove     *string  `gorm:"size:16" json:"student_move"`
	AgentMove       *string  `gorm:"size:16" json:"agent_move"`
	StudentPayoff   *int     `json:"student_payoff"`
	AgentPayoff     *int     `json:"agent_payoff"`
	AgentConfidence *float64 `json:"agent_confidence,omitempty"`
	AgentReason     string   `gorm:"size:255" json:"agent_reason,omitempty"`
	DecisionSource  string   `gorm:"size:32" json:"decision_source,omitempty"`
}

// TableName 指定表名
func (RoundRecord) TableName() string {
	return "round_records"
}

// RoundOutcome 回合结果
type RoundOutcome struct {
	StudentMove     string   `json:"student_move"`
	AgentMove       string   `json:"agent_move"`
	StudentPayoff   int      `json:"student_payoff"`
	AgentPayoff     int      `json:"agent_payoff"`
	AgentConfidence *float64 `json:"agent_confidence,omitempty"`
	AgentReason     string   `json:"agent_reason,omitempty"`
	DecisionSource  string   `json:"decision_source,omitempty"`
}

// Outcome 返回回合结果；双方动作都已写入时才视为存在
func (r *RoundRecord) Outcome() *RoundOutcome {
	if r.StudentMove == nil || r.AgentMove == nil {
		return nil
	}
	o := &RoundOutcome{
		StudentMove:     *r.StudentMove,
		AgentMove:       *r.AgentMove,
		AgentConfidence: r.AgentConfidence,
		AgentReason:     r.AgentReason,
		DecisionSource:  r.DecisionSource,
	}
	if r.StudentPayoff != nil {
		o.StudentPayoff = *r.StudentPayoff
	}
	if r.AgentPayoff != nil {
		o.AgentPayoff = *r.AgentPayoff
	}
	return o
}

// IsScored 是否已写入结果
func (r *RoundRecord) IsScored() bool {
	return r.Outcome() != nil
}
