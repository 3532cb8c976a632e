package websocket

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/dispenser-ctl/internal/models"
)

const feedBatch = 100

// Source 命令历史来源
type Source interface {
	LastID(ctx context.Context) (uint, error)
	Since(ctx context.Context, afterID uint, limit int) ([]*models.CommandLog, error)
}

// Feed 轮询历史表，把新记录推送给所有客户端
//
// shell 和 serve 是两个进程，只能通过数据库共享记录。
type Feed struct {
	hub      *Hub
	source   Source
	interval time.Duration
	lastID   uint
	logger   *zap.Logger
}

// NewFeed 创建推送
func NewFeed(hub *Hub, source Source, interval time.Duration) *Feed {
	if interval <= 0 {
		interval = time.Second
	}
	return &Feed{
		hub:      hub,
		source:   source,
		interval: interval,
		logger:   hub.logger,
	}
}

// Run 从当前最新记录之后开始推送，直到 ctx 结束
func (f *Feed) Run(ctx context.Context) error {
	last, err := f.source.LastID(ctx)
	if err != nil {
		return err
	}
	f.lastID = last

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := f.poll(ctx); err != nil && ctx.Err() == nil {
				f.logger.Warn("Command feed poll failed", zap.Error(err))
				if msg, merr := NewMessage(MessageTypeError, map[string]string{"error": err.Error()}); merr == nil {
					f.hub.Broadcast(msg)
				}
			}
		}
	}
}

func (f *Feed) poll(ctx context.Context) error {
	for {
		logs, err := f.source.Since(ctx, f.lastID, feedBatch)
		if err != nil {
			return err
		}
		for _, l := range logs {
			msg, err := NewMessage(MessageTypeCommand, l)
			if err != nil {
				return err
			}
			f.hub.Broadcast(msg)
			f.lastID = l.ID
		}
		if len(logs) < feedBatch {
			return nil
		}
	}
}
