package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sshcollectorpro/ciscofetch/internal/artifact"
	"github.com/sshcollectorpro/ciscofetch/internal/credential"
	"github.com/sshcollectorpro/ciscofetch/internal/inventory"
	"github.com/sshcollectorpro/ciscofetch/internal/service"
	"github.com/sshcollectorpro/ciscofetch/pkg/logger"
)

// RunRequest 运行请求，Devices 为随请求提交的清单条目
type RunRequest struct {
	Hosts    []string           `json:"hosts"`
	Groups   []string           `json:"groups"`
	Devices  []inventory.Device `json:"devices"`
	User     string             `json:"user"`
	Pass     string             `json:"pass"`
	KeyFile  string             `json:"key_file"`
	Commands []string           `json:"commands"`
	Download []string           `json:"download"`
	Show     []string           `json:"show"`
}

// RunHandler 运行与制品接口
type RunHandler struct {
	orch  *service.Orchestrator
	fetch *service.FetchService
}

// NewRunHandler 创建运行处理器
func NewRunHandler(orch *service.Orchestrator, fetch *service.FetchService) *RunHandler {
	return &RunHandler{orch: orch, fetch: fetch}
}

// Run 同步执行一次运行并返回汇总
// @Summary 执行运行
// @Tags run
// @Accept json
// @Produce json
// @Param request body RunRequest true "运行请求"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/run [post]
func (h *RunHandler) Run(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_REQUEST", Message: err.Error()})
		return
	}
	if err := validateRunRequest(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMS", Message: err.Error()})
		return
	}

	sreq := service.Request{
		Hosts:     req.Hosts,
		Groups:    req.Groups,
		Overrides: credential.Overrides{User: req.User, Pass: req.Pass, KeyFile: req.KeyFile},
		Commands:  req.Commands,
		Download:  req.Download,
		Show:      req.Show,
	}
	if len(req.Devices) > 0 {
		sreq.Inventory = &inventory.File{Devices: req.Devices}
	}

	summary := h.orch.Execute(c.Request.Context(), sreq)
	logger.WithField("run_id", summary.RunID).Infof("API run finished: status=%s", summary.Status())
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: summary.Status(), Data: summary})
}

func validateRunRequest(req *RunRequest) error {
	if len(req.Hosts) == 0 && len(req.Devices) == 0 {
		return errors.New("hosts or devices is required")
	}
	if len(req.Commands) == 0 && len(req.Download) == 0 && len(req.Show) == 0 {
		return errors.New("at least one of commands, download, show is required")
	}
	for _, alias := range append(append([]string(nil), req.Download...), req.Show...) {
		if _, err := artifact.Resolve(alias); err != nil {
			return err
		}
	}
	for _, cmd := range req.Commands {
		if strings.TrimSpace(cmd) == "" {
			return errors.New("empty command")
		}
	}
	return nil
}

// Artifact 返回设备已下载制品的原始内容
// @Summary 读取制品
// @Tags artifact
// @Produce plain
// @Param host path string true "设备"
// @Param alias path string true "run | start | tech"
// @Success 200 {string} string
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/devices/{host}/artifacts/{alias} [get]
func (h *RunHandler) Artifact(c *gin.Context) {
	host := c.Param("host")
	name, data, err := h.fetch.ShowCachedConfig(inventory.Device{Host: host}, c.Param("alias"))
	switch {
	case errors.Is(err, artifact.ErrUnknownAlias):
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_ALIAS", Message: err.Error()})
		return
	case errors.Is(err, artifact.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "NOT_FOUND", Message: err.Error()})
		return
	case err != nil:
		logger.WithField("host", host).Errorf("read artifact failed: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "READ_FAILED", Message: err.Error()})
		return
	}
	c.Header("X-Artifact-Name", string(name))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
}
