package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/dispenser-ctl/internal/logger"
)

// 锁文件等待参数
var (
	lockAttempts = 30
	lockWait     = time.Second
	lockStaleAge = 5 * time.Minute
)

// acquireMigrationLock 获取迁移锁
func acquireMigrationLock(dbPath string) (*os.File, error) {
	lockPath := dbPath + ".migration.lock"

	for i := 0; i < lockAttempts; i++ {
		lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
		if err == nil {
			logger.Debug("Migration lock acquired", zap.String("lock", lockPath))
			return lockFile, nil
		}

		// 锁文件过旧视为上次进程异常退出
		if info, err := os.Stat(lockPath); err == nil && time.Since(info.ModTime()) > lockStaleAge {
			logger.Warn("Removing stale migration lock", zap.String("lock", lockPath))
			os.Remove(lockPath)
			continue
		}

		logger.Debug("Waiting for migration lock", zap.Int("attempt", i+1))
		time.Sleep(lockWait)
	}

	return nil, fmt.Errorf("migration lock %s is held by another process", lockPath)
}

// releaseMigrationLock 释放迁移锁
func releaseMigrationLock(lockFile *os.File) {
	if lockFile == nil {
		return
	}

	lockPath := lockFile.Name()
	lockFile.Close()
	os.Remove(lockPath)
	logger.Debug("Migration lock released", zap.String("lock", lockPath))
}

// getDBPath 返回 SQLite 数据库文件路径，内存库和其他驱动返回空
func getDBPath() string {
	if DB == nil {
		return ""
	}

	switch DB.Dialector.Name() {
	case "sqlite", "sqlite3":
		sqlDB, err := DB.DB()
		if err != nil {
			return ""
		}
		row := sqlDB.QueryRow("PRAGMA database_list")
		var seq int
		var name, file string
		if err := row.Scan(&seq, &name, &file); err == nil && file != "" && !strings.Contains(file, ":memory:") {
			return file
		}
		return ""
	default:
		return ""
	}
}

// CleanupStaleLocks 清理过期的锁文件
func CleanupStaleLocks() {
	patterns := []string{
		"./data/*.migration.lock",
		"./*.migration.lock",
	}

	for _, pattern := range patterns {
		matches, _ := filepath.Glob(pattern)
		for _, lockFile := range matches {
			if info, err := os.Stat(lockFile); err == nil && time.Since(info.ModTime()) > 2*lockStaleAge {
				logger.Info("Removing stale lock file", zap.String("file", lockFile))
				os.Remove(lockFile)
			}
		}
	}
}
