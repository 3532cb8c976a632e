package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wfunc/dispenser-ctl/internal/errors"
	"github.com/wfunc/dispenser-ctl/internal/middleware"
	"github.com/wfunc/dispenser-ctl/internal/service"
	"github.com/wfunc/dispenser-ctl/internal/websocket"
)

// Router API路由器
type Router struct {
	engine     *gin.Engine
	db         *gorm.DB
	commandAPI *CommandLogAPI
	hub        *websocket.Hub
	log        *zap.Logger
}

// NewRouter 创建路由器，hub 为 nil 时不提供实时推送
func NewRouter(db *gorm.DB, svc *service.CommandLogService, hub *websocket.Hub, retentionDays int, log *zap.Logger) *Router {
	engine := gin.New()

	// 全局中间件
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Logger(log))

	router := &Router{
		engine:     engine,
		db:         db,
		commandAPI: NewCommandLogAPI(svc, retentionDays),
		hub:        hub,
		log:        log,
	}
	router.setupRoutes()
	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.healthCheck)

	v1 := r.engine.Group("/api/v1")
	r.commandAPI.RegisterRoutes(v1)

	if r.hub != nil {
		r.engine.GET("/ws/commands", websocket.ServeWS(r.hub))
	}

	r.engine.NoRoute(func(c *gin.Context) {
		abortWithError(c, errors.Newf(errors.ErrNotFound, "%s %s", c.Request.Method, c.Request.URL.Path))
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	sqlDB, err := r.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		r.log.Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

// SetMode 设置gin运行模式，未知值按 release 处理
func SetMode(mode string) {
	switch mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
}
