package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wfunc/pd-classroom/internal/logger"
	"go.uber.org/zap"
)

const (
	lockSuffix      = ".migration.lock"
	lockRetries     = 30
	lockStaleAfter  = 5 * time.Minute
	lockCleanupAge  = 10 * time.Minute
	lockRetryPeriod = time.Second
)

// acquireMigrationLock 获取迁移锁（多个实例共用同一个 sqlite 文件时避免并发迁移）
func acquireMigrationLock(dbPath string) (*os.File, error) {
	lockPath := dbPath + lockSuffix

	for i := 0; i < lockRetries; i++ {
		lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
		if err == nil {
			fmt.Fprintf(lockFile, "%d\n", os.Getpid())
			logger.Debug("获取迁移锁成功", zap.String("lock", lockPath))
			return lockFile, nil
		}

		// 持锁进程可能已崩溃
		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > lockStaleAfter {
			logger.Warn("迁移锁文件过期，尝试删除", zap.String("lock", lockPath))
			os.Remove(lockPath)
			continue
		}

		logger.Debug("等待迁移锁...", zap.Int("attempt", i+1))
		time.Sleep(lockRetryPeriod)
	}

	return nil, fmt.Errorf("无法获取迁移锁，可能有其他进程正在执行迁移")
}

// releaseMigrationLock 释放迁移锁
func releaseMigrationLock(lockFile *os.File) {
	if lockFile == nil {
		return
	}

	lockPath := lockFile.Name()
	lockFile.Close()
	os.Remove(lockPath)
	logger.Debug("释放迁移锁", zap.String("lock", lockPath))
}

// getDBPath 返回 sqlite 数据库文件路径；内存库和其他驱动返回空串（不加锁）
func getDBPath() string {
	if DB == nil || DB.Dialector.Name() != "sqlite" {
		return ""
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return ""
	}

	var seq int
	var name, file string
	if err := sqlDB.QueryRow("PRAGMA database_list").Scan(&seq, &name, &file); err != nil {
		return ""
	}
	return file
}

// CleanupStaleLocks 清理过期的锁文件
func CleanupStaleLocks() {
	matches, _ := filepath.Glob("./data/*" + lockSuffix)
	for _, lockFile := range matches {
		if info, err := os.Stat(lockFile); err == nil && time.Since(info.ModTime()) > lockCleanupAge {
			logger.Info("清理过期锁文件", zap.String("file", lockFile))
			os.Remove(lockFile)
		}
	}
}
