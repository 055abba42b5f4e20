package admin

import (
	"strings"
	"time"

	"github.com/affiliflow/internal/http/handlers/shared"
	"github.com/affiliflow/internal/http/response"
	"github.com/affiliflow/internal/repository"

	"github.com/gin-gonic/gin"
)

// ListConversions 转化列表，可按计划、推广者、状态与时间过滤
func (h *Handler) ListConversions(c *gin.Context) {
	page, pageSize := shared.PaginationFromQuery(c)
	programID, ok := shared.ParseUintQuery(c, "program_id")
	if !ok {
		return
	}
	affiliateID, ok := shared.ParseUintQuery(c, "affiliate_id")
	if !ok {
		return
	}
	createdFrom, err := parseTimeNullable(strings.TrimSpace(c.Query("created_from")))
	if err != nil {
		shared.RespondError(c, response.CodeBadRequest, "created_from must be RFC3339", nil)
		return
	}
	createdTo, err := parseTimeNullable(strings.TrimSpace(c.Query("created_to")))
	if err != nil {
		shared.RespondError(c, response.CodeBadRequest, "created_to must be RFC3339", nil)
		return
	}

	conversions, total, err := h.ConversionService.ListConversions(c.Request.Context(), repository.ConversionListFilter{
		Page:        page,
		PageSize:    pageSize,
		ProgramID:   programID,
		AffiliateID: affiliateID,
		Status:      strings.TrimSpace(c.Query("status")),
		CreatedFrom: createdFrom,
		CreatedTo:   createdTo,
	})
	if err != nil {
		shared.RespondMappedError(c, err, shared.PipelineErrorRules, "list conversions failed")
		return
	}
	response.SuccessWithPage(c, conversions, shared.BuildPagination(page, pageSize, total))
}

// SimulateAttribution 预览会话在指定模型下的归因分配
func (h *Handler) SimulateAttribution(c *gin.Context) {
	programID, ok := shared.ParseUintQuery(c, "program_id")
	if !ok {
		return
	}
	sessionID := strings.TrimSpace(c.Query("session_id"))
	if sessionID == "" || programID == 0 {
		shared.RespondError(c, response.CodeBadRequest, "session_id and program_id are required", nil)
		return
	}
	model := strings.TrimSpace(c.Query("model"))
	shares, err := h.TrackingService.SimulateAttribution(c.Request.Context(), sessionID, programID, model)
	if err != nil {
		shared.RespondMappedError(c, err, shared.PipelineErrorRules, "simulate attribution failed")
		return
	}
	response.Success(c, gin.H{
		"session_id": sessionID,
		"program_id": programID,
		"model":      model,
		"shares":     shares,
	})
}

func parseTimeNullable(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
