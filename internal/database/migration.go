package database

import (
	"fmt"

	"github.com/wfunc/pd-classroom/internal/logger"
	"github.com/wfunc/pd-classroom/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models 需要迁移的模型
func Models() []interface{} {
	return []interface{}{
		&models.RoundRecord{},
		&models.GameState{},
	}
}

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate() error {
	if DB == nil {
		return fmt.Errorf("数据库未初始化")
	}

	// 清理过期锁文件
	CleanupStaleLocks()

	// 获取迁移锁，避免多个进程同时迁移
	dbPath := getDBPath()
	if dbPath != "" {
		lockFile, err := acquireMigrationLock(dbPath)
		if err != nil {
			logger.Error("无法获取迁移锁", zap.Error(err))
			return fmt.Errorf("获取迁移锁失败: %w", err)
		}
		defer releaseMigrationLock(lockFile)
	}

	logger.Info("开始数据库迁移...")
	if err := Migrate(DB); err != nil {
		return err
	}

	logger.Info("数据库迁移完成")
	return nil
}

// Migrate 在指定连接上迁移表结构并补齐索引（测试也复用）
func Migrate(db *gorm.DB) error {
	for _, model := range Models() {
		if err := db.AutoMigrate(model); err != nil {
			logger.Error("迁移失败",
				zap.String("model", fmt.Sprintf("%T", model)),
				zap.Error(err),
			)
			return err
		}
		logger.Debug("迁移成功", zap.String("model", fmt.Sprintf("%T", model)))
	}

	createIndexes(db)
	return nil
}

// createIndexes 创建看板查询使用的组合索引
func createIndexes(db *gorm.DB) {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_round_records_class_created ON round_records(class_code, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_round_records_game_label ON round_records(game_id, participant_label)",
	}
	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			logger.Warn("创建索引失败", zap.String("index", idx), zap.Error(err))
		}
	}
}
