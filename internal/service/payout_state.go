package service

import (
	"strings"
	"time"

	"github.com/affiliflow/internal/constants"
)

// payoutTransitions 结算单状态流转表：当前状态 -> 操作 -> 目标状态。
// released 与 rejected 没有出边，视为终态。
var payoutTransitions = map[string]map[string]string{
	constants.PayoutStatusOnHold: {
		constants.PayoutActionApprove: constants.PayoutStatusApproved,
		constants.PayoutActionReject:  constants.PayoutStatusRejected,
	},
	constants.PayoutStatusApproved: {
		constants.PayoutActionRelease: constants.PayoutStatusReleased,
		constants.PayoutActionReject:  constants.PayoutStatusRejected,
		constants.PayoutActionHold:    constants.PayoutStatusOnHold,
	},
}

// NormalizePayoutAction 校验并归一化操作名
func NormalizePayoutAction(action string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(action))
	switch normalized {
	case constants.PayoutActionApprove, constants.PayoutActionHold, constants.PayoutActionRelease, constants.PayoutActionReject:
		return normalized, nil
	default:
		return "", ErrInvalidPayoutAction
	}
}

// NextPayoutStatus 计算流转后的状态；冻结期未结束的审核会带上剩余时长
func NextPayoutStatus(payoutID uint, current, action string, holdUntil *time.Time, now time.Time) (string, error) {
	next, ok := payoutTransitions[current][action]
	if !ok {
		return "", &PayoutTransitionError{PayoutID: payoutID, CurrentStatus: current, Action: action}
	}
	if current == constants.PayoutStatusOnHold && action == constants.PayoutActionApprove && holdUntil != nil && now.Before(*holdUntil) {
		return "", &PayoutTransitionError{
			PayoutID:      payoutID,
			CurrentStatus: current,
			Action:        action,
			HoldRemaining: holdUntil.Sub(now),
		}
	}
	return next, nil
}

// payoutCountsAsEarnings 已审核与已打款的结算单计入累计收益
func payoutCountsAsEarnings(status string) bool {
	return status == constants.PayoutStatusApproved || status == constants.PayoutStatusReleased
}
