package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// JSONData 用于存储JSON格式的数据
type JSONData map[string]interface{}

// Value 实现 driver.Valuer 接口
func (j JSONData) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner 接口
func (j *JSONData) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		strVal, ok := value.(string)
		if !ok {
			return nil
		}
		bytes = []byte(strVal)
	}
	if len(bytes) == 0 {
		*j = nil
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// CommandLog 点胶机命令历史
//
// 每条 shell 命令一行，包括被拒绝未发送的命令。
type CommandLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`

	// 关联信息
	SessionID string `gorm:"type:varchar(64);index" json:"session_id"`
	RequestID string `gorm:"type:varchar(64);index" json:"request_id"`

	// 命令
	Name     string `gorm:"type:varchar(32);index;not null" json:"name"`
	Argument string `gorm:"type:varchar(64)" json:"argument,omitempty"`
	Command  string `gorm:"type:varchar(64)" json:"command,omitempty"`   // 编码后的命令
	HexData  string `gorm:"type:varchar(255)" json:"hex_data,omitempty"` // 编码后的完整包
	Port     string `gorm:"type:varchar(128)" json:"port,omitempty"`
	Link     string `gorm:"type:varchar(10)" json:"link,omitempty"`

	// 应答
	Sent      bool     `gorm:"index" json:"sent"`
	Reply     string   `gorm:"type:varchar(64)" json:"reply,omitempty"`
	Values    JSONData `gorm:"type:text" json:"values,omitempty"` // 读命令解析出的压力/时间/真空
	ErrorCode int      `gorm:"index" json:"error_code,omitempty"`
	ErrorMsg  string   `gorm:"type:text" json:"error_msg,omitempty"`

	// 性能指标
	LatencyMs float64 `gorm:"default:0" json:"latency_ms"`
	Mode      string  `gorm:"type:varchar(10)" json:"mode"` // 命令执行后的模式
	Timestamp int64   `gorm:"index" json:"timestamp"`       // Unix时间戳（毫秒）
}

// TableName 指定表名
func (CommandLog) TableName() string {
	return "command_logs"
}

// BeforeCreate 创建前的钩子
func (c *CommandLog) BeforeCreate(tx *gorm.DB) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.Timestamp == 0 {
		c.Timestamp = c.CreatedAt.UnixMilli()
	}
	return nil
}

// Failed 命令是否失败
func (c *CommandLog) Failed() bool {
	return c.ErrorMsg != ""
}

// CommandLogQuery 查询参数
type CommandLogQuery struct {
	Name      string     `json:"name,omitempty" form:"name"`
	SessionID string     `json:"session_id,omitempty" form:"session_id"`
	RequestID string     `json:"request_id,omitempty" form:"request_id"`
	StartTime *time.Time `json:"start_time,omitempty" form:"start_time" time_format:"2006-01-02T15:04:05Z07:00"`
	EndTime   *time.Time `json:"end_time,omitempty" form:"end_time" time_format:"2006-01-02T15:04:05Z07:00"`
	HasError  *bool      `json:"has_error,omitempty" form:"has_error"`
	Sent      *bool      `json:"sent,omitempty" form:"sent"`
	Limit     int        `json:"limit,omitempty" form:"limit"`
	Offset    int        `json:"offset,omitempty" form:"offset"`
	OrderBy   string     `json:"order_by,omitempty" form:"order_by"`
}

// CommandCount 按命令名统计
type CommandCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// CommandLogStats 统计信息
type CommandLogStats struct {
	TotalCount    int64          `json:"total_count"`
	TotalSent     int64          `json:"total_sent"`
	TotalRejected int64          `json:"total_rejected"` // 校验失败未发送
	TotalErrors   int64          `json:"total_errors"`
	AvgLatencyMs  float64        `json:"avg_latency_ms"`
	MaxLatencyMs  float64        `json:"max_latency_ms"`
	ByCommand     []CommandCount `json:"by_command"`
}
