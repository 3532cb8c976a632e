package database

import (
	"go.uber.org/zap"

	"github.com/wfunc/dispenser-ctl/internal/errors"
	"github.com/wfunc/dispenser-ctl/internal/logger"
	"github.com/wfunc/dispenser-ctl/internal/models"
)

// AutoMigrate 自动迁移数据库表结构
//
// shell 和 serve 可能同时启动，SQLite 下用锁文件串行化迁移。
func AutoMigrate() error {
	if DB == nil {
		return errors.New(errors.ErrDatabaseConnect, "database not initialized")
	}

	CleanupStaleLocks()

	if dbPath := getDBPath(); dbPath != "" {
		lockFile, err := acquireMigrationLock(dbPath)
		if err != nil {
			logger.WithModule("database").Error("Failed to acquire migration lock", zap.Error(err))
			return errors.Wrap(err, errors.ErrDatabaseConnect, "migration lock")
		}
		defer releaseMigrationLock(lockFile)
	}

	if err := DB.AutoMigrate(&models.CommandLog{}); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseConnect, "migrate command_logs")
	}

	logger.WithModule("database").Info("Database migrated", zap.String("table", models.CommandLog{}.TableName()))
	return nil
}
