package service

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wfunc/dispenser-ctl/internal/errors"
	"github.com/wfunc/dispenser-ctl/internal/hardware"
	"github.com/wfunc/dispenser-ctl/internal/logger"
	"github.com/wfunc/dispenser-ctl/internal/models"
	"github.com/wfunc/dispenser-ctl/internal/protocol"
	"github.com/wfunc/dispenser-ctl/internal/repository"
)

// Execution 一次 shell 命令的执行情况
type Execution struct {
	Name   string
	Args   []string
	Result *hardware.Result // 校验失败未发送时为 nil
	Err    error
	Mode   protocol.Mode // 命令执行后的模式
}

// Recorder 命令历史记录器
type Recorder interface {
	Record(ctx context.Context, exec *Execution) error
	SessionID() string
}

var (
	_ Recorder = (*CommandLogService)(nil)
	_ Recorder = (*NopRecorder)(nil)
)

// NopRecorder 数据库关闭时使用
type NopRecorder struct {
	sessionID string
}

// NewNopRecorder 创建空记录器
func NewNopRecorder() *NopRecorder {
	return &NopRecorder{sessionID: uuid.New().String()}
}

// Record 不做任何事
func (r *NopRecorder) Record(context.Context, *Execution) error { return nil }

// SessionID 会话ID
func (r *NopRecorder) SessionID() string { return r.sessionID }

// CommandLogService 命令历史服务
//
// 同步写入，命令执行路径上不引入额外的协程。
type CommandLogService struct {
	repo      *repository.CommandLogRepository
	logger    *zap.Logger
	sessionID string
	port      string
	link      string
}

// NewCommandLogService 创建命令历史服务
func NewCommandLogService(db *gorm.DB, port, link string) *CommandLogService {
	return &CommandLogService{
		repo:      repository.NewCommandLogRepository(db),
		logger:    logger.GetModuleLogger("database"),
		sessionID: uuid.New().String(),
		port:      port,
		link:      link,
	}
}

// SessionID 会话ID
func (s *CommandLogService) SessionID() string {
	return s.sessionID
}

// Record 记录一条命令
func (s *CommandLogService) Record(ctx context.Context, exec *Execution) error {
	_, err := s.record(ctx, exec)
	return err
}

func (s *CommandLogService) record(ctx context.Context, exec *Execution) (*models.CommandLog, error) {
	log := NewCommandLog(exec)
	log.SessionID = s.sessionID
	log.RequestID = uuid.New().String()
	log.Port = s.port
	log.Link = s.link
	if !log.Sent {
		log.Port, log.Link = "", ""
	}

	if err := s.repo.Create(ctx, log); err != nil {
		s.logger.Error("Failed to record command", zap.String("command", exec.Name), zap.Error(err))
		return nil, errors.Wrap(err, errors.ErrDatabaseInsert, "command_logs")
	}
	return log, nil
}

// NewCommandLog 将执行结果转换为历史记录
func NewCommandLog(exec *Execution) *models.CommandLog {
	log := &models.CommandLog{
		Name:     exec.Name,
		Argument: strings.Join(exec.Args, " "),
		Mode:     exec.Mode.String(),
	}

	if r := exec.Result; r != nil {
		if r.Request != nil {
			log.Command = string(r.Request.Payload)
			if log.Argument == "" {
				log.Argument = r.Request.Arg
			}
		}
		if resp := r.Response; resp != nil {
			log.Sent = resp.Sent
			log.HexData = strings.ToUpper(hex.EncodeToString(resp.Packet))
			log.Reply = resp.Reply
			log.LatencyMs = float64(resp.Latency) / float64(time.Millisecond)
		}
		if v := r.Values; v != nil {
			log.Values = models.JSONData{
				"pressure": v.Pressure,
				"time":     v.Time,
				"vacuum":   v.Vacuum,
			}
		}
	}

	if exec.Err != nil {
		log.ErrorCode = int(errors.GetCode(exec.Err))
		log.ErrorMsg = exec.Err.Error()
	}
	return log
}

// Query 查询历史
func (s *CommandLogService) Query(ctx context.Context, query *models.CommandLogQuery) ([]*models.CommandLog, int64, error) {
	return s.repo.Query(ctx, query)
}

// Latest 最近的命令，errorsOnly 只返回失败的命令
func (s *CommandLogService) Latest(ctx context.Context, limit int, errorsOnly bool) ([]*models.CommandLog, error) {
	if errorsOnly {
		return s.repo.GetErrorLogs(ctx, limit)
	}
	return s.repo.GetLatest(ctx, limit, "")
}

// Since 实时推送使用，返回 afterID 之后的新记录
func (s *CommandLogService) Since(ctx context.Context, afterID uint, limit int) ([]*models.CommandLog, error) {
	return s.repo.GetAfter(ctx, afterID, limit)
}

// LastID 最新记录的ID
func (s *CommandLogService) LastID(ctx context.Context) (uint, error) {
	return s.repo.LastID(ctx)
}

// Stats 统计信息
func (s *CommandLogService) Stats(ctx context.Context, startTime, endTime *time.Time) (*models.CommandLogStats, error) {
	return s.repo.GetStats(ctx, startTime, endTime)
}

// Cleanup 清理超过保留天数的历史
func (s *CommandLogService) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	deleted, err := s.repo.CleanupLogs(ctx, retentionDays)
	if err != nil {
		return 0, err
	}
	s.logger.Info("Command history cleaned up", zap.Int("retention_days", retentionDays), zap.Int64("deleted", deleted))
	return deleted, nil
}
