package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sshcollectorpro/ciscofetch/internal/database"
)

const defaultListLimit = 20

// HistoryHandler 运行历史接口；db 为 nil 表示未启用历史
type HistoryHandler struct {
	db *database.DB
}

// NewHistoryHandler 创建历史处理器
func NewHistoryHandler(db *database.DB) *HistoryHandler {
	return &HistoryHandler{db: db}
}

func (h *HistoryHandler) enabled(c *gin.Context) bool {
	if h.db == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "HISTORY_DISABLED", Message: "database.sqlite.path not set"})
		return false
	}
	return true
}

func limitParam(c *gin.Context) (int, bool) {
	raw := c.DefaultQuery("limit", strconv.Itoa(defaultListLimit))
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMS", Message: "limit must be a positive integer"})
		return 0, false
	}
	return n, true
}

// ListRuns 最近的运行
// @Router /api/v1/runs [get]
func (h *HistoryHandler) ListRuns(c *gin.Context) {
	if !h.enabled(c) {
		return
	}
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	runs, err := h.db.ListRuns(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "QUERY_FAILED", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "ok", Data: runs})
}

// GetRun 单次运行及其设备结果
// @Router /api/v1/runs/{id} [get]
func (h *HistoryHandler) GetRun(c *gin.Context) {
	if !h.enabled(c) {
		return
	}
	run, err := h.db.GetRun(c.Param("id"))
	if errors.Is(err, database.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "NOT_FOUND", Message: err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "QUERY_FAILED", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "ok", Data: run})
}

// DeviceRuns 单台设备的历史结果
// @Router /api/v1/devices/{host}/runs [get]
func (h *HistoryHandler) DeviceRuns(c *gin.Context) {
	if !h.enabled(c) {
		return
	}
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	recs, err := h.db.DeviceHistory(c.Param("host"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "QUERY_FAILED", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "ok", Data: recs})
}

// Health 健康检查，启用历史时同时检查数据库
// @Router /api/v1/health [get]
func (h *HistoryHandler) Health(c *gin.Context) {
	data := gin.H{"status": "running", "history": h.db != nil}
	if h.db != nil {
		if err := h.db.Health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "SERVICE_UNAVAILABLE", Message: err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "ok", Data: data})
}
