package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/dispenser-ctl/internal/config"
	"github.com/wfunc/dispenser-ctl/internal/errors"
	"github.com/wfunc/dispenser-ctl/internal/models"
)

func testDatabaseConfig(dsn string) *config.DatabaseConfig {
	cfg := config.Default().Database
	cfg.DSN = dsn
	cfg.LogLevel = "silent"
	return &cfg
}

func TestInitSQLiteFile(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "dispenser.db")
	require.NoError(t, Init(testDatabaseConfig(dsn)))
	defer Close()

	assert.True(t, IsConnected())
	assert.FileExists(t, dsn)
	assert.True(t, DB.Migrator().HasTable(&models.CommandLog{}))
	assert.Equal(t, dsn, getDBPath())

	// 迁移结束后锁文件已释放
	_, err := os.Stat(dsn + ".migration.lock")
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, GetDB().Create(&models.CommandLog{Name: "start"}).Error)
}

func TestInitUnsupportedDriver(t *testing.T) {
	cfg := testDatabaseConfig("")
	cfg.Driver = "oracle"
	err := Init(cfg)
	assert.True(t, errors.Is(err, errors.ErrConfigValidate), "got %v", err)
}

func TestCloseWithoutInit(t *testing.T) {
	DB = nil
	assert.NoError(t, Close())
	assert.False(t, IsConnected())
	assert.True(t, errors.Is(AutoMigrate(), errors.ErrDatabaseConnect))
}

func TestMigrationLock(t *testing.T) {
	prevAttempts, prevWait := lockAttempts, lockWait
	lockAttempts, lockWait = 2, 10*time.Millisecond
	defer func() { lockAttempts, lockWait = prevAttempts, prevWait }()

	dbPath := filepath.Join(t.TempDir(), "lock.db")
	first, err := acquireMigrationLock(dbPath)
	require.NoError(t, err)

	_, err = acquireMigrationLock(dbPath)
	assert.Error(t, err)

	releaseMigrationLock(first)
	second, err := acquireMigrationLock(dbPath)
	require.NoError(t, err)
	releaseMigrationLock(second)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, parseLogLevel("silent"), parseLogLevel("SILENT"))
	assert.Equal(t, parseLogLevel("warn"), parseLogLevel("unknown"))
}
