package repository

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wfunc/pd-classroom/internal/models"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB 创建内存数据库并迁移表结构（供各包测试复用）
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// 内存库每个连接相互独立，固定为单连接
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.RoundRecord{}, &models.GameState{}))

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

// NewTestRecord 构造一条回合记录；moves 为空表示尚未决策
func NewTestRecord(gameID, label string, round int, studentMove, agentMove string, studentPayoff, agentPayoff int) *models.RoundRecord {
	chat, _ := json.Marshal([]map[string]string{
		{"role": "student", "text": fmt.Sprintf("round %d: let's cooperate", round)},
		{"role": "agent", "text": "Deal."},
	})
	rec := &models.RoundRecord{
		ClassCode:        "MBA-A1",
		ParticipantLabel: label,
		GameID:           gameID,
		RoundNum:         round,
		Strategy:         "ALWAYS_DEFECT",
		Chat:             datatypes.JSON(chat),
	}
	if studentMove != "" && agentMove != "" {
		rec.StudentMove = &studentMove
		rec.AgentMove = &agentMove
		rec.StudentPayoff = &studentPayoff
		rec.AgentPayoff = &agentPayoff
	}
	return rec
}

// SeedGame 写入一局完整的回合记录，创建时间按回合递增
func SeedGame(t *testing.T, db *gorm.DB, gameID, label string, rounds int, base time.Time) []*models.RoundRecord {
	t.Helper()

	records := make([]*models.RoundRecord, 0, rounds)
	for r := 1; r <= rounds; r++ {
		rec := NewTestRecord(gameID, label, r, "COOPERATE", "DEFECT", 0, 5)
		rec.CreatedAt = base.Add(time.Duration(r) * time.Second)
		require.NoError(t, db.Create(rec).Error)
		records = append(records, rec)
	}
	return records
}
