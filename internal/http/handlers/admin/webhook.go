package admin

import (
	"strings"

	"github.com/affiliflow/internal/http/handlers/shared"
	"github.com/affiliflow/internal/http/response"
	"github.com/affiliflow/internal/repository"

	"github.com/gin-gonic/gin"
)

// DispatchWebhookRequest 手动派发事件请求
type DispatchWebhookRequest struct {
	MerchantID uint                   `json:"merchant_id" binding:"required"`
	Event      string                 `json:"event" binding:"required"`
	Payload    map[string]interface{} `json:"payload"`
}

// DispatchWebhook 向商户订阅端点派发事件
func (h *Handler) DispatchWebhook(c *gin.Context) {
	var req DispatchWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		shared.RespondError(c, response.CodeBadRequest, "merchant_id and event are required", nil)
		return
	}
	deliveries, err := h.WebhookService.Dispatch(c.Request.Context(), req.MerchantID, req.Event, req.Payload)
	if err != nil {
		shared.RespondMappedError(c, err, shared.PipelineErrorRules, "dispatch webhook failed")
		return
	}
	ids := make([]uint, 0, len(deliveries))
	for _, delivery := range deliveries {
		ids = append(ids, delivery.ID)
	}
	shared.RequestLog(c).Infow("webhook_dispatched_by_operator",
		"operator_id", shared.OperatorID(c),
		"merchant_id", req.MerchantID,
		"event", req.Event,
		"deliveries", len(ids),
	)
	response.Accepted(c, gin.H{"delivery_ids": ids})
}

// ListWebhookDeliveries 投递记录列表
func (h *Handler) ListWebhookDeliveries(c *gin.Context) {
	page, pageSize := shared.PaginationFromQuery(c)
	endpointID, ok := shared.ParseUintQuery(c, "endpoint_id")
	if !ok {
		return
	}
	deliveries, total, err := h.WebhookService.ListDeliveries(c.Request.Context(), repository.WebhookDeliveryListFilter{
		Page:       page,
		PageSize:   pageSize,
		EndpointID: endpointID,
		Event:      strings.TrimSpace(c.Query("event")),
		Status:     strings.TrimSpace(c.Query("status")),
	})
	if err != nil {
		shared.RespondMappedError(c, err, shared.PipelineErrorRules, "list webhook deliveries failed")
		return
	}
	response.SuccessWithPage(c, deliveries, shared.BuildPagination(page, pageSize, total))
}

// RetryWebhookDelivery 手动重试投递，不受自动重试上限约束
func (h *Handler) RetryWebhookDelivery(c *gin.Context) {
	id, ok := shared.ParseIDParam(c, "id")
	if !ok {
		return
	}
	delivery, err := h.WebhookService.RetryDelivery(c.Request.Context(), id)
	if err != nil {
		shared.RespondMappedError(c, err, shared.PipelineErrorRules, "retry webhook delivery failed")
		return
	}
	response.Success(c, delivery)
}
