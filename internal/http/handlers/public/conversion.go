package public

import (
	"github.com/affiliflow/internal/http/handlers/shared"
	"github.com/affiliflow/internal/http/response"
	"github.com/affiliflow/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// IngestConversionRequest 订单回传请求，order_total 支持字符串或数字；currency 缺省取计划币种
type IngestConversionRequest struct {
	ProgramID      uint             `json:"program_id" binding:"required"`
	AffiliateID    uint             `json:"affiliate_id"`
	ClickID        *uint            `json:"click_id"`
	PromoCodeID    *uint            `json:"promo_code_id"`
	SessionID      string           `json:"session_id"`
	OrderID        string           `json:"order_id" binding:"required"`
	OrderTotal     *decimal.Decimal `json:"order_total" binding:"required"`
	Currency       string           `json:"currency"`
	IsRecurring    bool             `json:"is_recurring"`
	SubscriptionID string           `json:"subscription_id"`
}

// IngestConversion 接收订单回传并跑完整条转化流水线
func (h *Handler) IngestConversion(c *gin.Context) {
	var req IngestConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		shared.RespondError(c, response.CodeBadRequest, "invalid conversion payload", nil)
		return
	}
	result, err := h.ConversionService.IngestConversion(c.Request.Context(), service.IngestConversionInput{
		ProgramID:      req.ProgramID,
		AffiliateID:    req.AffiliateID,
		ClickID:        req.ClickID,
		PromoCodeID:    req.PromoCodeID,
		SessionID:      req.SessionID,
		OrderID:        req.OrderID,
		OrderTotal:     *req.OrderTotal,
		Currency:       req.Currency,
		IsRecurring:    req.IsRecurring,
		SubscriptionID: req.SubscriptionID,
		IPAddress:      c.ClientIP(),
		UserAgent:      c.Request.UserAgent(),
	})
	if err != nil {
		shared.RespondMappedError(c, err, shared.PipelineErrorRules, "ingest conversion failed")
		return
	}
	shared.RequestLog(c).Infow("conversion_ingested",
		"conversion_id", result.ConversionID,
		"status", result.Status,
		"fraud_score", result.FraudScore,
		"duplicate", result.Duplicate,
	)
	response.Success(c, result)
}
