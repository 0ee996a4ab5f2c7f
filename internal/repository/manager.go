package repository

import (
	"context"
	"sync"
	"time"

	"github.com/wfunc/pd-classroom/internal/logger"
	"gorm.io/gorm"
)

const (
	roundRecordsTable = "round_records"
	gameStatesTable   = "game_states"
)

// Manager 仓储管理器，提供所有仓储的统一访问接口
type Manager struct {
	db *gorm.DB

	// 仓储实例（使用懒加载）
	roundRecordOnce sync.Once
	roundRecord     RoundRecordRepository

	gameStateOnce sync.Once
	gameState     GameStateRepository
}

// NewManager 创建仓储管理器
func NewManager(db *gorm.DB) *Manager {
	return &Manager{db: db}
}

// GetDB 获取数据库实例
func (m *Manager) GetDB() *gorm.DB {
	return m.db
}

// RoundRecord 获取回合记录仓储
func (m *Manager) RoundRecord() RoundRecordRepository {
	m.roundRecordOnce.Do(func() {
		m.roundRecord = NewRoundRecordRepository(m.db)
	})
	return m.roundRecord
}

// GameState 获取状态机快照仓储
func (m *Manager) GameState() GameStateRepository {
	m.gameStateOnce.Do(func() {
		m.gameState = NewGameStateRepository(m.db)
	})
	return m.gameState
}

// Ping 检查数据库连通性
func (m *Manager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// logOperation 记录仓储操作耗时
func logOperation(operation, table string, start time.Time, err error) {
	logger.LogDatabaseOperation(operation, table, time.Since(start), err)
}
