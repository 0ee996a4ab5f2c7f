package dilemma

import (
	"strings"

	"github.com/wfunc/pd-classroom/internal/config"
	apperrors "github.com/wfunc/pd-classroom/internal/errors"
)

// Strategy 对手策略（每个班级或会话设置一次，回合中不变）
type Strategy string

const (
	AlwaysDefect    Strategy = "ALWAYS_DEFECT"
	AlwaysCooperate Strategy = "ALWAYS_COOPERATE"
	Random5050      Strategy = "RANDOM_50_50"
	ChatDriven      Strategy = "CHAT_DRIVEN"
)

// Strategies 全部策略
var Strategies = []Strategy{AlwaysDefect, AlwaysCooperate, Random5050, ChatDriven}

// Valid 是否为合法策略
func (s Strategy) Valid() bool {
	switch s {
	case AlwaysDefect, AlwaysCooperate, Random5050, ChatDriven:
		return true
	}
	return false
}

// ParseStrategy 解析策略名称
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(normalize(s))
	if !st.Valid() {
		return "", apperrors.Newf(apperrors.ErrInvalidParam, "unknown strategy %q", s)
	}
	return st, nil
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ValidateConfig 启动时校验默认策略和班级策略的名称
func ValidateConfig(g *config.GameConfig) error {
	if !Strategy(normalize(g.DefaultStrategy)).Valid() {
		return apperrors.Newf(apperrors.ErrConfigValidate, "game.default_strategy: unknown strategy %q", g.DefaultStrategy)
	}
	for class, name := range g.ClassStrategies {
		if strings.TrimSpace(name) == "" {
			continue // 空值表示使用默认策略
		}
		if !Strategy(normalize(name)).Valid() {
			return apperrors.Newf(apperrors.ErrConfigValidate, "game.class_strategies.%s: unknown strategy %q", class, name)
		}
	}
	return nil
}
