package models

import (
	"time"

	"gorm.io/datatypes"
)

// GameState 回合状态机快照（用于重启后恢复会话）
type GameState struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	GameID           string         `gorm:"uniqueIndex;size:64;not null" json:"game_id"`
	ParticipantLabel string         `gorm:"size:128" json:"participant_label"`
	CurrentState     string         `gorm:"size:20;not null" json:"current_state"`
	Round            int            `json:"round"`
	StateData        datatypes.JSON `json:"state_data"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `gorm:"index" json:"updated_at"`
}

// TableName 指定表名
func (GameState) TableName() string {
	return "game_states"
}
