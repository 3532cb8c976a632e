package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"github.com/wfunc/dispenser-ctl/internal/errors"
	"github.com/wfunc/dispenser-ctl/internal/models"
)

// CommandLogRepositoryTestSuite 命令历史仓储测试套件
type CommandLogRepositoryTestSuite struct {
	suite.Suite
	db   *gorm.DB
	repo *CommandLogRepository
	ctx  context.Context
}

func (s *CommandLogRepositoryTestSuite) SetupSuite() {
	s.db = SetupTestDB()
	s.repo = NewCommandLogRepository(s.db)
	s.ctx = context.Background()
}

func (s *CommandLogRepositoryTestSuite) TearDownSuite() {
	CleanupTestDB(s.db)
}

func (s *CommandLogRepositoryTestSuite) SetupTest() {
	s.db.Exec("DELETE FROM command_logs")
}

func (s *CommandLogRepositoryTestSuite) seed() {
	logs := []*models.CommandLog{
		CreateTestCommandLog("s1", "pressure", "50.0", 10),
		CreateTestCommandLog("s1", "time", "1.2345", 20),
		CreateTestCommandLog("s1", "pressure", "150", 0),
		CreateTestCommandLog("s2", "read_values", "10", 30),
		CreateTestCommandLog("s2", "start", "", 0),
	}
	// 超出范围，未发送
	logs[2].Sent = false
	logs[2].Reply = ""
	logs[2].ErrorCode = 2000
	logs[2].ErrorMsg = "[2000] value out of range"
	// 设备无应答
	logs[4].Reply = ""
	logs[4].ErrorCode = 3005
	logs[4].ErrorMsg = "[3005] no ACK from device"
	logs[3].Values = models.JSONData{"pressure": 50.0, "time": 1.2345, "vacuum": 18.0}

	require.NoError(s.T(), s.repo.CreateBatch(s.ctx, logs))
}

func (s *CommandLogRepositoryTestSuite) TestCreate() {
	log := CreateTestCommandLog("s1", "vacuum", "18.0", 5)
	require.NoError(s.T(), s.repo.Create(s.ctx, log))
	assert.NotZero(s.T(), log.ID)
	assert.NotZero(s.T(), log.Timestamp)

	got, err := s.repo.GetByID(s.ctx, log.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "vacuum", got.Name)
	assert.Equal(s.T(), "18.0", got.Argument)
}

func (s *CommandLogRepositoryTestSuite) TestValuesRoundTrip() {
	s.seed()
	logs, _, err := s.repo.Query(s.ctx, &models.CommandLogQuery{Name: "read_values"})
	require.NoError(s.T(), err)
	require.Len(s.T(), logs, 1)
	assert.Equal(s.T(), 1.2345, logs[0].Values["time"])

	pressure, _, err := s.repo.Query(s.ctx, &models.CommandLogQuery{Name: "time"})
	require.NoError(s.T(), err)
	require.Len(s.T(), pressure, 1)
	assert.Nil(s.T(), pressure[0].Values)
}

func (s *CommandLogRepositoryTestSuite) TestQueryFilters() {
	s.seed()

	logs, total, err := s.repo.Query(s.ctx, &models.CommandLogQuery{SessionID: "s1"})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(3), total)
	assert.Len(s.T(), logs, 3)
	// 默认按 id 倒序
	assert.Equal(s.T(), "pressure", logs[0].Name)
	assert.Equal(s.T(), "150", logs[0].Argument)

	hasError := true
	logs, total, err = s.repo.Query(s.ctx, &models.CommandLogQuery{HasError: &hasError})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(2), total)
	for _, l := range logs {
		assert.True(s.T(), l.Failed())
	}

	sent := false
	_, total, err = s.repo.Query(s.ctx, &models.CommandLogQuery{Sent: &sent})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(1), total)

	logs, total, err = s.repo.Query(s.ctx, &models.CommandLogQuery{Limit: 2, Offset: 1, OrderBy: "id asc"})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(5), total)
	require.Len(s.T(), logs, 2)
	assert.Equal(s.T(), "time", logs[0].Name)
}

func (s *CommandLogRepositoryTestSuite) TestQueryRejectsOrder() {
	_, _, err := s.repo.Query(s.ctx, &models.CommandLogQuery{OrderBy: "error_msg; DROP TABLE command_logs"})
	assert.True(s.T(), errors.Is(err, errors.ErrInvalidParam), "got %v", err)
	_, _, err = s.repo.Query(s.ctx, &models.CommandLogQuery{OrderBy: "latency_ms sideways"})
	assert.Error(s.T(), err)
}

func (s *CommandLogRepositoryTestSuite) TestGetStats() {
	s.seed()

	stats, err := s.repo.GetStats(s.ctx, nil, nil)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(5), stats.TotalCount)
	assert.Equal(s.T(), int64(4), stats.TotalSent)
	assert.Equal(s.T(), int64(1), stats.TotalRejected)
	assert.Equal(s.T(), int64(2), stats.TotalErrors)
	assert.InDelta(s.T(), 15.0, stats.AvgLatencyMs, 0.001)
	assert.Equal(s.T(), 30.0, stats.MaxLatencyMs)
	require.NotEmpty(s.T(), stats.ByCommand)
	assert.Equal(s.T(), models.CommandCount{Name: "pressure", Count: 2}, stats.ByCommand[0])
}

func (s *CommandLogRepositoryTestSuite) TestGetStatsEmpty() {
	stats, err := s.repo.GetStats(s.ctx, nil, nil)
	require.NoError(s.T(), err)
	assert.Zero(s.T(), stats.TotalCount)
	assert.Zero(s.T(), stats.AvgLatencyMs)
	assert.Empty(s.T(), stats.ByCommand)
}

func (s *CommandLogRepositoryTestSuite) TestGetLatestAndErrors() {
	s.seed()

	latest, err := s.repo.GetLatest(s.ctx, 2, "")
	require.NoError(s.T(), err)
	require.Len(s.T(), latest, 2)
	assert.Equal(s.T(), "start", latest[0].Name)

	latest, err = s.repo.GetLatest(s.ctx, 10, "pressure")
	require.NoError(s.T(), err)
	assert.Len(s.T(), latest, 2)

	errs, err := s.repo.GetErrorLogs(s.ctx, 10)
	require.NoError(s.T(), err)
	require.Len(s.T(), errs, 2)
	assert.Equal(s.T(), 3005, errs[0].ErrorCode)

	session, err := s.repo.GetBySessionID(s.ctx, "s2")
	require.NoError(s.T(), err)
	assert.Len(s.T(), session, 2)
}

func (s *CommandLogRepositoryTestSuite) TestGetAfter() {
	last, err := s.repo.LastID(s.ctx)
	require.NoError(s.T(), err)
	assert.Zero(s.T(), last)

	s.seed()
	last, err = s.repo.LastID(s.ctx)
	require.NoError(s.T(), err)

	all, err := s.repo.GetAfter(s.ctx, 0, 10)
	require.NoError(s.T(), err)
	require.Len(s.T(), all, 5)
	assert.Equal(s.T(), "pressure", all[0].Name)
	assert.Equal(s.T(), last, all[4].ID)

	tail, err := s.repo.GetAfter(s.ctx, all[2].ID, 1)
	require.NoError(s.T(), err)
	require.Len(s.T(), tail, 1)
	assert.Equal(s.T(), "read_values", tail[0].Name)

	none, err := s.repo.GetAfter(s.ctx, last, 10)
	require.NoError(s.T(), err)
	assert.Empty(s.T(), none)
}

func (s *CommandLogRepositoryTestSuite) TestCleanupLogs() {
	old := CreateTestCommandLog("s0", "start", "", 1)
	old.CreatedAt = time.Now().AddDate(0, 0, -120)
	recent := CreateTestCommandLog("s0", "stop", "", 1)
	require.NoError(s.T(), s.repo.Create(s.ctx, old))
	require.NoError(s.T(), s.repo.Create(s.ctx, recent))

	deleted, err := s.repo.CleanupLogs(s.ctx, 90)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(1), deleted)

	_, err = s.repo.CleanupLogs(s.ctx, 0)
	assert.Error(s.T(), err)
}

func TestCommandLogRepositorySuite(t *testing.T) {
	suite.Run(t, new(CommandLogRepositoryTestSuite))
}
