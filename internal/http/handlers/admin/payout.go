package admin

import (
	"strings"

	"github.com/affiliflow/internal/http/handlers/shared"
	"github.com/affiliflow/internal/http/response"
	"github.com/affiliflow/internal/repository"

	"github.com/gin-gonic/gin"
)

// PayoutTransitionRequest 结算单操作请求
type PayoutTransitionRequest struct {
	Action string `json:"action" binding:"required"`
}

// ListPayouts 结算单列表
func (h *Handler) ListPayouts(c *gin.Context) {
	page, pageSize := shared.PaginationFromQuery(c)
	affiliateID, ok := shared.ParseUintQuery(c, "affiliate_id")
	if !ok {
		return
	}
	programID, ok := shared.ParseUintQuery(c, "program_id")
	if !ok {
		return
	}
	payouts, total, err := h.PayoutService.ListPayouts(c.Request.Context(), repository.PayoutListFilter{
		Page:        page,
		PageSize:    pageSize,
		AffiliateID: affiliateID,
		ProgramID:   programID,
		Status:      strings.TrimSpace(c.Query("status")),
	})
	if err != nil {
		shared.RespondMappedError(c, err, shared.PipelineErrorRules, "list payouts failed")
		return
	}
	response.SuccessWithPage(c, payouts, shared.BuildPagination(page, pageSize, total))
}

// GetPayout 结算单详情
func (h *Handler) GetPayout(c *gin.Context) {
	id, ok := shared.ParseIDParam(c, "id")
	if !ok {
		return
	}
	payout, err := h.PayoutService.GetPayout(c.Request.Context(), id)
	if err != nil {
		shared.RespondMappedError(c, err, shared.PipelineErrorRules, "get payout failed")
		return
	}
	response.Success(c, payout)
}

// TransitionPayout 执行结算单状态流转
func (h *Handler) TransitionPayout(c *gin.Context) {
	id, ok := shared.ParseIDParam(c, "id")
	if !ok {
		return
	}
	var req PayoutTransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		shared.RespondError(c, response.CodeBadRequest, "action is required", nil)
		return
	}
	payout, err := h.PayoutService.Transition(c.Request.Context(), id, req.Action)
	if err != nil {
		shared.RespondMappedError(c, err, shared.PipelineErrorRules, "payout transition failed")
		return
	}
	shared.RequestLog(c).Infow("payout_transitioned",
		"operator_id", shared.OperatorID(c),
		"payout_id", payout.ID,
		"action", req.Action,
		"status", payout.Status,
	)
	response.Success(c, payout)
}

// GetAffiliateEarnings 推广者收益汇总
func (h *Handler) GetAffiliateEarnings(c *gin.Context) {
	id, ok := shared.ParseIDParam(c, "id")
	if !ok {
		return
	}
	earnings, err := h.PayoutService.GetAffiliateEarnings(c.Request.Context(), id)
	if err != nil {
		shared.RespondMappedError(c, err, shared.PipelineErrorRules, "get affiliate earnings failed")
		return
	}
	response.Success(c, earnings)
}
