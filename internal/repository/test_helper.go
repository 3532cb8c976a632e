package repository

import (
	"fmt"
	"sync/atomic"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wfunc/dispenser-ctl/internal/models"
)

var testDBSeq int64

// SetupTestDB 创建内存测试数据库并迁移
//
// 每次调用使用独立的共享缓存库，连接池内的连接看到同一份数据。
func SetupTestDB() *gorm.DB {
	dsn := fmt.Sprintf("file:repo_test_%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(err)
	}

	if err := db.AutoMigrate(&models.CommandLog{}); err != nil {
		panic(err)
	}
	return db
}

// CleanupTestDB 关闭测试数据库
func CleanupTestDB(db *gorm.DB) {
	sqlDB, _ := db.DB()
	if sqlDB != nil {
		sqlDB.Close()
	}
}

// CreateTestCommandLog 创建测试命令记录
func CreateTestCommandLog(sessionID, name, argument string, latencyMs float64) *models.CommandLog {
	return &models.CommandLog{
		SessionID: sessionID,
		RequestID: fmt.Sprintf("%s-%s-%d", sessionID, name, time.Now().UnixNano()),
		Name:      name,
		Argument:  argument,
		Command:   name,
		Sent:      true,
		Reply:     "A0",
		LatencyMs: latencyMs,
		Mode:      "timed",
	}
}
