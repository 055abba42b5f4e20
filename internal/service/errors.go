package service

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// 校验类错误
var (
	ErrInvalidConversion      = errors.New("invalid conversion input")
	ErrInvalidTouchPoint      = errors.New("invalid touch point input")
	ErrInvalidClick           = errors.New("invalid click input")
	ErrInvalidPayoutAction    = errors.New("invalid payout action")
	ErrInvalidWebhookEvent    = errors.New("invalid webhook event")
	ErrInvalidNotification    = errors.New("invalid notification event")
	ErrPipelineConfigInvalid  = errors.New("invalid pipeline config")
	ErrAttributionUnavailable = errors.New("no touch points to attribute")
)

// 资源不存在
var (
	ErrProgramNotFound   = errors.New("program not found")
	ErrClickNotFound     = errors.New("click not found")
	ErrPayoutNotFound    = errors.New("payout not found")
	ErrDeliveryNotFound  = errors.New("webhook delivery not found")
	ErrEndpointNotFound  = errors.New("webhook endpoint not found")
	ErrAffiliateNotFound = errors.New("affiliate not found")
)

// 冲突与限流
var (
	ErrPayoutTransitionConflict = errors.New("payout transition conflict")
	ErrClickRateLimited         = errors.New("too many clicks from this ip")
)

// 瞬时错误
var (
	ErrStoreUnavailable = errors.New("store unavailable")
)

// 邮件
var (
	ErrEmailServiceDisabled      = errors.New("email service disabled")
	ErrEmailServiceNotConfigured = errors.New("email service not configured")
	ErrInvalidEmail              = errors.New("invalid email address")
	ErrEmailRecipientRejected    = errors.New("email recipient rejected")
)

// PayoutTransitionError 结算单状态流转被拒绝的具体原因
type PayoutTransitionError struct {
	PayoutID      uint
	CurrentStatus string
	Action        string
	HoldRemaining time.Duration
}

func (e *PayoutTransitionError) Error() string {
	if e.HoldRemaining > 0 {
		return fmt.Sprintf("payout %d is on hold for another %s", e.PayoutID, e.HoldRemaining.Round(time.Second))
	}
	return fmt.Sprintf("payout %d cannot %s from status %s", e.PayoutID, e.Action, e.CurrentStatus)
}

// Unwrap 支持 errors.Is(err, ErrPayoutTransitionConflict)
func (e *PayoutTransitionError) Unwrap() error {
	return ErrPayoutTransitionConflict
}

// storeError 把存储层错误统一包装为瞬时错误
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
