// Package dilemma 囚徒困境规则：收益矩阵、对手决策策略与对手聊天回复
package dilemma

import (
	"strings"

	apperrors "github.com/wfunc/pd-classroom/internal/errors"
)

// Move 动作
type Move string

const (
	Cooperate Move = "COOPERATE"
	Defect    Move = "DEFECT"
)

// Valid 是否为合法动作
func (m Move) Valid() bool {
	return m == Cooperate || m == Defect
}

// String 实现 Stringer
func (m Move) String() string {
	return string(m)
}

// ParseMove 解析动作（忽略大小写和首尾空白）
func ParseMove(s string) (Move, error) {
	m := Move(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", apperrors.Newf(apperrors.ErrInvalidParam, "move must be COOPERATE or DEFECT, got %q", s)
	}
	return m, nil
}

// Outcome 一回合双方收益
type Outcome struct {
	StudentMove   Move `json:"student_move"`
	AgentMove     Move `json:"agent_move"`
	StudentPayoff int  `json:"student_payoff"`
	AgentPayoff   int  `json:"agent_payoff"`
}

// 收益矩阵：[学生动作][对手动作] -> (学生, 对手)
var payoffMatrix = map[Move]map[Move][2]int{
	Cooperate: {
		Cooperate: {3, 3},
		Defect:    {0, 5},
	},
	Defect: {
		Cooperate: {5, 0},
		Defect:    {1, 1},
	},
}

// Payoff 计算收益；非法动作按 DEFECT 处理，保证总是有结果
func Payoff(student, agent Move) Outcome {
	if !student.Valid() {
		student = Defect
	}
	if !agent.Valid() {
		agent = Defect
	}
	p := payoffMatrix[student][agent]
	return Outcome{
		StudentMove:   student,
		AgentMove:     agent,
		StudentPayoff: p[0],
		AgentPayoff:   p[1],
	}
}

var explanations = map[Move]map[Move]string{
	Cooperate: {
		Cooperate: "Mutual cooperation: both of you do well. This is socially best, but not always stable without trust.",
		Defect:    "You cooperated and Person A defected: you get the worst outcome while A gets the best (the temptation to defect).",
	},
	Defect: {
		Cooperate: "You defected and Person A cooperated: you get the best outcome, A gets the worst. This is why cooperation is risky.",
		Defect:    "Mutual defection: both of you avoid being exploited, but you both do worse than mutual cooperation.",
	},
}

// Explain 回合结束后展示给学生的结果说明
func Explain(student, agent Move) string {
	o := Payoff(student, agent)
	return explanations[o.StudentMove][o.AgentMove]
}
