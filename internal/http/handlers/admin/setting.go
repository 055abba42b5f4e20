package admin

import (
	"github.com/affiliflow/internal/http/handlers/shared"
	"github.com/affiliflow/internal/http/response"
	"github.com/affiliflow/internal/service"

	"github.com/gin-gonic/gin"
)

// GetPipelineSetting 读取流水线参数
func (h *Handler) GetPipelineSetting(c *gin.Context) {
	setting, err := h.SettingService.GetPipelineSetting()
	if err != nil {
		shared.RespondMappedError(c, err, shared.PipelineErrorRules, "get pipeline setting failed")
		return
	}
	response.Success(c, setting)
}

// UpdatePipelineSetting 更新流水线参数
func (h *Handler) UpdatePipelineSetting(c *gin.Context) {
	var req service.PipelineSetting
	if err := c.ShouldBindJSON(&req); err != nil {
		shared.RespondError(c, response.CodeBadRequest, "invalid pipeline setting payload", nil)
		return
	}
	setting, err := h.SettingService.UpdatePipelineSetting(req)
	if err != nil {
		shared.RespondMappedError(c, err, shared.PipelineErrorRules, "update pipeline setting failed")
		return
	}
	shared.RequestLog(c).Infow("pipeline_setting_updated",
		"operator_id", shared.OperatorID(c),
		"hold_days", setting.HoldDays,
		"fallback_commission_pct", setting.FallbackCommissionPct,
	)
	response.Success(c, setting)
}
