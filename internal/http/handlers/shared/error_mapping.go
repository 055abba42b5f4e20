package shared

import (
	"errors"
	"strings"

	"github.com/affiliflow/internal/http/response"
	"github.com/affiliflow/internal/service"

	"github.com/gin-gonic/gin"
)

// MappedError 业务错误到接口响应码的映射
type MappedError struct {
	Target error
	Code   int
}

// PipelineErrorRules 流水线通用错误映射
var PipelineErrorRules = []MappedError{
	{Target: service.ErrInvalidConversion, Code: response.CodeBadRequest},
	{Target: service.ErrInvalidTouchPoint, Code: response.CodeBadRequest},
	{Target: service.ErrInvalidClick, Code: response.CodeBadRequest},
	{Target: service.ErrInvalidPayoutAction, Code: response.CodeBadRequest},
	{Target: service.ErrInvalidWebhookEvent, Code: response.CodeBadRequest},
	{Target: service.ErrPipelineConfigInvalid, Code: response.CodeBadRequest},
	{Target: service.ErrProgramNotFound, Code: response.CodeNotFound},
	{Target: service.ErrClickNotFound, Code: response.CodeNotFound},
	{Target: service.ErrPayoutNotFound, Code: response.CodeNotFound},
	{Target: service.ErrDeliveryNotFound, Code: response.CodeNotFound},
	{Target: service.ErrEndpointNotFound, Code: response.CodeNotFound},
	{Target: service.ErrAffiliateNotFound, Code: response.CodeNotFound},
	{Target: service.ErrAttributionUnavailable, Code: response.CodeNotFound},
	{Target: service.ErrClickRateLimited, Code: response.CodeTooManyRequests},
	{Target: service.ErrStoreUnavailable, Code: response.CodeUnavailable},
}

// RespondMappedError 按映射表返回错误；客户端错误回显业务消息，其余记录日志后返回兜底消息
func RespondMappedError(c *gin.Context, err error, rules []MappedError, fallbackMsg string) {
	var transitionErr *service.PayoutTransitionError
	if errors.As(err, &transitionErr) {
		response.Conflict(c, transitionErr.Error(), gin.H{
			"payout_id":              transitionErr.PayoutID,
			"current_status":         transitionErr.CurrentStatus,
			"action":                 transitionErr.Action,
			"hold_remaining_seconds": int64(transitionErr.HoldRemaining.Seconds()),
		})
		return
	}
	for _, rule := range rules {
		if !errors.Is(err, rule.Target) {
			continue
		}
		if rule.Code >= response.CodeInternal {
			RespondError(c, rule.Code, strings.TrimSpace(fallbackMsg), err)
			return
		}
		RespondError(c, rule.Code, err.Error(), nil)
		return
	}
	RespondError(c, response.CodeInternal, strings.TrimSpace(fallbackMsg), err)
}
