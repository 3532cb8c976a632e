package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wfunc/dispenser-ctl/internal/errors"
	"github.com/wfunc/dispenser-ctl/internal/middleware"
	"github.com/wfunc/dispenser-ctl/internal/models"
	"github.com/wfunc/dispenser-ctl/internal/service"
)

const (
	defaultLimit = 20
	maxLimit     = 1000
)

// CommandLogAPI 命令历史API
type CommandLogAPI struct {
	service       *service.CommandLogService
	retentionDays int
}

// NewCommandLogAPI 创建命令历史API
func NewCommandLogAPI(service *service.CommandLogService, retentionDays int) *CommandLogAPI {
	return &CommandLogAPI{
		service:       service,
		retentionDays: retentionDays,
	}
}

// RegisterRoutes 注册路由
func (api *CommandLogAPI) RegisterRoutes(router *gin.RouterGroup) {
	commands := router.Group("/commands")
	{
		commands.GET("", api.QueryLogs)            // 查询历史
		commands.GET("/latest", api.GetLatestLogs) // 最近的命令
		commands.GET("/stats", api.GetStats)       // 统计信息
		commands.GET("/errors", api.GetErrorLogs)  // 失败的命令
		commands.POST("/cleanup", api.CleanupLogs) // 清理旧记录
		commands.GET("/export", api.ExportLogs)    // 导出
	}
}

// QueryLogs 查询历史
func (api *CommandLogAPI) QueryLogs(c *gin.Context) {
	query, err := parseQuery(c, defaultLimit)
	if err != nil {
		abortWithError(c, err)
		return
	}

	logs, total, err := api.service.Query(c.Request.Context(), query)
	if err != nil {
		abortWithError(c, dbError(err, errors.ErrDatabaseQuery))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   logs,
		"total":  total,
		"limit":  query.Limit,
		"offset": query.Offset,
	})
}

// GetLatestLogs 最近的命令
func (api *CommandLogAPI) GetLatestLogs(c *gin.Context) {
	limit, err := parseLimit(c, defaultLimit)
	if err != nil {
		abortWithError(c, err)
		return
	}

	logs, err := api.service.Latest(c.Request.Context(), limit, false)
	if err != nil {
		abortWithError(c, dbError(err, errors.ErrDatabaseQuery))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  logs,
		"count": len(logs),
	})
}

// GetStats 统计信息
func (api *CommandLogAPI) GetStats(c *gin.Context) {
	startTime, endTime, err := parseTimeRange(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	stats, err := api.service.Stats(c.Request.Context(), startTime, endTime)
	if err != nil {
		abortWithError(c, dbError(err, errors.ErrDatabaseQuery))
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetErrorLogs 失败的命令
func (api *CommandLogAPI) GetErrorLogs(c *gin.Context) {
	limit, err := parseLimit(c, 50)
	if err != nil {
		abortWithError(c, err)
		return
	}

	logs, err := api.service.Latest(c.Request.Context(), limit, true)
	if err != nil {
		abortWithError(c, dbError(err, errors.ErrDatabaseQuery))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  logs,
		"count": len(logs),
	})
}

// CleanupLogs 清理旧记录
func (api *CommandLogAPI) CleanupLogs(c *gin.Context) {
	retentionDays, err := strconv.Atoi(c.DefaultPostForm("retention_days", strconv.Itoa(api.retentionDays)))
	if err != nil || retentionDays < 1 {
		abortWithError(c, errors.New(errors.ErrInvalidParam, "retention_days must be a positive integer"))
		return
	}

	count, err := api.service.Cleanup(c.Request.Context(), retentionDays)
	if err != nil {
		abortWithError(c, dbError(err, errors.ErrDatabaseDelete))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deleted":        count,
		"retention_days": retentionDays,
	})
}

// ExportLogs 导出为JSON文件
func (api *CommandLogAPI) ExportLogs(c *gin.Context) {
	query, err := parseQuery(c, maxLimit)
	if err != nil {
		abortWithError(c, err)
		return
	}

	logs, _, err := api.service.Query(c.Request.Context(), query)
	if err != nil {
		abortWithError(c, dbError(err, errors.ErrDatabaseQuery))
		return
	}

	data, err := json.MarshalIndent(logs, "", "  ")
	if err != nil {
		abortWithError(c, errors.Wrap(err, errors.ErrUnknown))
		return
	}

	c.Header("Content-Disposition", "attachment; filename=command_logs_export.json")
	c.Data(http.StatusOK, "application/json", data)
}

// parseQuery 解析查询参数
func parseQuery(c *gin.Context, limit int) (*models.CommandLogQuery, error) {
	query := &models.CommandLogQuery{
		Name:      c.Query("name"),
		SessionID: c.Query("session_id"),
		RequestID: c.Query("request_id"),
		OrderBy:   c.Query("order_by"),
	}

	var err error
	if query.StartTime, query.EndTime, err = parseTimeRange(c); err != nil {
		return nil, err
	}
	if query.HasError, err = parseBool(c, "has_error"); err != nil {
		return nil, err
	}
	if query.Sent, err = parseBool(c, "sent"); err != nil {
		return nil, err
	}
	if query.Limit, err = parseLimit(c, limit); err != nil {
		return nil, err
	}
	if offset := c.Query("offset"); offset != "" {
		if query.Offset, err = strconv.Atoi(offset); err != nil || query.Offset < 0 {
			return nil, errors.Newf(errors.ErrInvalidParam, "offset %q", offset)
		}
	}
	return query, nil
}

func parseLimit(c *gin.Context, def int) (int, error) {
	s := c.Query("limit")
	if s == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(s)
	if err != nil || limit < 1 {
		return 0, errors.Newf(errors.ErrInvalidParam, "limit %q", s)
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, nil
}

func parseBool(c *gin.Context, key string) (*bool, error) {
	s := c.Query(key)
	if s == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, errors.Newf(errors.ErrInvalidParam, "%s %q", key, s)
	}
	return &b, nil
}

func parseTimeRange(c *gin.Context) (start, end *time.Time, err error) {
	parse := func(key string) (*time.Time, error) {
		s := c.Query(key)
		if s == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, errors.Newf(errors.ErrInvalidParam, "%s must be RFC3339, got %q", key, s)
		}
		return &t, nil
	}
	if start, err = parse("start_time"); err != nil {
		return nil, nil, err
	}
	if end, err = parse("end_time"); err != nil {
		return nil, nil, err
	}
	return start, end, nil
}

// abortWithError 按错误码返回统一的错误响应
func abortWithError(c *gin.Context, err error) {
	appErr, ok := err.(*errors.AppError)
	if !ok {
		appErr = errors.Wrap(err, errors.ErrUnknown)
	}
	c.AbortWithStatusJSON(appErr.HTTPStatus(), errors.NewErrorResponse(appErr, middleware.GetRequestID(c)))
}

// dbError 保留已有的错误码，其他错误归为数据库错误
func dbError(err error, code errors.ErrorCode) error {
	if errors.GetCode(err) != errors.ErrUnknown {
		return err
	}
	return errors.Wrap(err, code)
}
