package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/ciscofetch/api/handler"
	"github.com/sshcollectorpro/ciscofetch/internal/app"
	"github.com/sshcollectorpro/ciscofetch/pkg/logger"
)

// Version 服务版本
const Version = "0.1"

// SetupRouter 设置路由
func SetupRouter(a *app.App) *gin.Engine {
	// 设置Gin模式
	switch a.Config.Server.Mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(a.Config.Server.Mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// 添加中间件
	r.Use(gin.Recovery())
	r.Use(CORSMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())

	runHandler := handler.NewRunHandler(a.Orchestrator, a.Fetch)
	historyHandler := handler.NewHistoryHandler(a.History)

	// 根路径
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":    "ciscofetch",
			"version": Version,
			"status":  "running",
		})
	})
	r.GET("/metrics", gin.WrapH(a.Metrics.Handler()))

	// API v1 路由组
	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", historyHandler.Health)
		v1.POST("/run", runHandler.Run)

		devices := v1.Group("/devices/:host")
		{
			devices.GET("/artifacts/:alias", runHandler.Artifact)
			devices.GET("/runs", historyHandler.DeviceRuns)
		}

		runs := v1.Group("/runs")
		{
			runs.GET("", historyHandler.ListRuns)
			runs.GET("/:id", historyHandler.GetRun)
		}
	}

	// 404处理
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
			"path":    c.Request.URL.Path,
		})
	})

	return r
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RequestIDMiddleware 请求ID中间件
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

// LoggingMiddleware 日志中间件
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"duration":   time.Since(start),
			"client_ip":  c.ClientIP(),
		})
		if status >= http.StatusBadRequest {
			entry.Warn("HTTP Error")
			return
		}
		entry.Info("HTTP Request")
	}
}
