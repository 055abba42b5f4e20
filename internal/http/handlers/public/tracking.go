package public

import (
	"github.com/affiliflow/internal/http/handlers/shared"
	"github.com/affiliflow/internal/http/response"
	"github.com/affiliflow/internal/service"

	"github.com/gin-gonic/gin"
)

// TrackClickRequest 点击上报请求
type TrackClickRequest struct {
	LinkID      uint `json:"link_id" binding:"required"`
	AffiliateID uint `json:"affiliate_id" binding:"required"`
	ProgramID   uint `json:"program_id" binding:"required"`
}

// TrackTouchPointRequest 触点上报请求
type TrackTouchPointRequest struct {
	SessionID   string `json:"session_id" binding:"required"`
	AffiliateID uint   `json:"affiliate_id" binding:"required"`
	ProgramID   uint   `json:"program_id" binding:"required"`
	Type        string `json:"type" binding:"required"`
	LinkID      *uint  `json:"link_id"`
	PromoCodeID *uint  `json:"promo_code_id"`
	ClickID     *uint  `json:"click_id"`
}

// TrackClick 记录推广链接点击
func (h *Handler) TrackClick(c *gin.Context) {
	var req TrackClickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		shared.RespondError(c, response.CodeBadRequest, "invalid click payload", nil)
		return
	}
	click, err := h.TrackingService.RecordClick(c.Request.Context(), service.RecordClickInput{
		LinkID:      req.LinkID,
		AffiliateID: req.AffiliateID,
		ProgramID:   req.ProgramID,
		IPAddress:   c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
	})
	if err != nil {
		shared.RespondMappedError(c, err, shared.PipelineErrorRules, "record click failed")
		return
	}
	response.Success(c, gin.H{"click_id": click.ID})
}

// TrackTouchPoint 追加会话触点
func (h *Handler) TrackTouchPoint(c *gin.Context) {
	var req TrackTouchPointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		shared.RespondError(c, response.CodeBadRequest, "invalid touch point payload", nil)
		return
	}
	id, err := h.TrackingService.RecordTouchPoint(c.Request.Context(), service.RecordTouchPointInput{
		SessionID:   req.SessionID,
		AffiliateID: req.AffiliateID,
		ProgramID:   req.ProgramID,
		Type:        req.Type,
		LinkID:      req.LinkID,
		PromoCodeID: req.PromoCodeID,
		ClickID:     req.ClickID,
		IPAddress:   c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
	})
	if err != nil {
		shared.RespondMappedError(c, err, shared.PipelineErrorRules, "record touch point failed")
		return
	}
	response.Success(c, gin.H{"touch_point_id": id})
}
