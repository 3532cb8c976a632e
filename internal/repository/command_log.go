package repository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wfunc/dispenser-ctl/internal/errors"
	"github.com/wfunc/dispenser-ctl/internal/models"
)

// 允许排序的列
var commandLogOrderColumns = map[string]bool{
	"id":         true,
	"created_at": true,
	"name":       true,
	"latency_ms": true,
}

const errorCondition = "error_msg IS NOT NULL AND error_msg != ''"

// CommandLogRepository 命令历史仓储
type CommandLogRepository struct {
	db *gorm.DB
}

// NewCommandLogRepository 创建命令历史仓储
func NewCommandLogRepository(db *gorm.DB) *CommandLogRepository {
	return &CommandLogRepository{db: db}
}

// Create 创建记录
func (r *CommandLogRepository) Create(ctx context.Context, log *models.CommandLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// CreateBatch 批量创建记录
func (r *CommandLogRepository) CreateBatch(ctx context.Context, logs []*models.CommandLog) error {
	if len(logs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(logs, 100).Error
}

// GetByID 根据ID获取记录
func (r *CommandLogRepository) GetByID(ctx context.Context, id uint) (*models.CommandLog, error) {
	var log models.CommandLog
	if err := r.db.WithContext(ctx).First(&log, id).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

// GetBySessionID 获取会话内的全部命令
func (r *CommandLogRepository) GetBySessionID(ctx context.Context, sessionID string) ([]*models.CommandLog, error) {
	var logs []*models.CommandLog
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&logs).Error
	return logs, err
}

// Query 查询记录
func (r *CommandLogRepository) Query(ctx context.Context, query *models.CommandLogQuery) ([]*models.CommandLog, int64, error) {
	db := r.db.WithContext(ctx).Model(&models.CommandLog{})

	if query.Name != "" {
		db = db.Where("name = ?", query.Name)
	}
	if query.SessionID != "" {
		db = db.Where("session_id = ?", query.SessionID)
	}
	if query.RequestID != "" {
		db = db.Where("request_id = ?", query.RequestID)
	}
	if query.StartTime != nil {
		db = db.Where("created_at >= ?", *query.StartTime)
	}
	if query.EndTime != nil {
		db = db.Where("created_at <= ?", *query.EndTime)
	}
	if query.HasError != nil {
		if *query.HasError {
			db = db.Where(errorCondition)
		} else {
			db = db.Where("error_msg IS NULL OR error_msg = ''")
		}
	}
	if query.Sent != nil {
		db = db.Where("sent = ?", *query.Sent)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order, err := parseOrder(query.OrderBy)
	if err != nil {
		return nil, 0, err
	}
	db = db.Order(order)

	if query.Limit > 0 {
		db = db.Limit(query.Limit)
	}
	if query.Offset > 0 {
		db = db.Offset(query.Offset)
	}

	var logs []*models.CommandLog
	if err := db.Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// parseOrder 解析 "列 [ASC|DESC]"，默认按 id 倒序
func parseOrder(s string) (clause.OrderByColumn, error) {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 0 {
		return clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: true}, nil
	}
	if len(fields) > 2 || !commandLogOrderColumns[fields[0]] {
		return clause.OrderByColumn{}, errors.Newf(errors.ErrInvalidParam, "invalid order %q", s)
	}
	desc := false
	if len(fields) == 2 {
		switch fields[1] {
		case "asc":
		case "desc":
			desc = true
		default:
			return clause.OrderByColumn{}, errors.Newf(errors.ErrInvalidParam, "invalid order direction %q", fields[1])
		}
	}
	return clause.OrderByColumn{Column: clause.Column{Name: fields[0]}, Desc: desc}, nil
}

// GetStats 获取统计信息
func (r *CommandLogRepository) GetStats(ctx context.Context, startTime, endTime *time.Time) (*models.CommandLogStats, error) {
	stats := &models.CommandLogStats{ByCommand: []models.CommandCount{}}

	scoped := func() *gorm.DB {
		db := r.db.WithContext(ctx).Model(&models.CommandLog{})
		if startTime != nil {
			db = db.Where("created_at >= ?", *startTime)
		}
		if endTime != nil {
			db = db.Where("created_at <= ?", *endTime)
		}
		return db
	}

	if err := scoped().Count(&stats.TotalCount).Error; err != nil {
		return nil, err
	}
	if err := scoped().Where("sent = ?", true).Count(&stats.TotalSent).Error; err != nil {
		return nil, err
	}
	stats.TotalRejected = stats.TotalCount - stats.TotalSent
	if err := scoped().Where(errorCondition).Count(&stats.TotalErrors).Error; err != nil {
		return nil, err
	}

	// 延迟统计只计算实际发送的命令
	type latencyStats struct {
		AvgLatency float64
		MaxLatency float64
	}
	var ls latencyStats
	if err := scoped().
		Select("COALESCE(AVG(latency_ms), 0) AS avg_latency, COALESCE(MAX(latency_ms), 0) AS max_latency").
		Where("sent = ?", true).
		Scan(&ls).Error; err != nil {
		return nil, err
	}
	stats.AvgLatencyMs = ls.AvgLatency
	stats.MaxLatencyMs = ls.MaxLatency

	if err := scoped().
		Select("name, COUNT(*) AS count").
		Group("name").
		Order("count DESC, name ASC").
		Scan(&stats.ByCommand).Error; err != nil {
		return nil, err
	}

	return stats, nil
}

// GetLatest 获取最新的记录
func (r *CommandLogRepository) GetLatest(ctx context.Context, limit int, name string) ([]*models.CommandLog, error) {
	var logs []*models.CommandLog
	db := r.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if name != "" {
		db = db.Where("name = ?", name)
	}
	err := db.Find(&logs).Error
	return logs, err
}

// GetAfter 获取ID大于 afterID 的记录，按ID升序
func (r *CommandLogRepository) GetAfter(ctx context.Context, afterID uint, limit int) ([]*models.CommandLog, error) {
	var logs []*models.CommandLog
	err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// LastID 最新记录的ID，表为空时为0
func (r *CommandLogRepository) LastID(ctx context.Context) (uint, error) {
	var id uint
	err := r.db.WithContext(ctx).
		Model(&models.CommandLog{}).
		Select("COALESCE(MAX(id), 0)").
		Scan(&id).Error
	return id, err
}

// GetErrorLogs 获取失败的命令
func (r *CommandLogRepository) GetErrorLogs(ctx context.Context, limit int) ([]*models.CommandLog, error) {
	var logs []*models.CommandLog
	err := r.db.WithContext(ctx).
		Where(errorCondition).
		Order("id DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// DeleteOldLogs 删除旧记录
func (r *CommandLogRepository) DeleteOldLogs(ctx context.Context, beforeTime time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("created_at < ?", beforeTime).Delete(&models.CommandLog{})
	return result.RowsAffected, result.Error
}

// CleanupLogs 清理记录（保留最近N天的数据）
func (r *CommandLogRepository) CleanupLogs(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, errors.New(errors.ErrInvalidParam, "retention days must be greater than 0")
	}
	return r.DeleteOldLogs(ctx, time.Now().AddDate(0, 0, -retentionDays))
}
