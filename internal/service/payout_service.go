package service

import (
	"context"
	"errors"
	"time"

	"github.com/affiliflow/internal/constants"
	"github.com/affiliflow/internal/logger"
	"github.com/affiliflow/internal/models"
	"github.com/affiliflow/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PayoutService 结算单生命周期服务
type PayoutService struct {
	payoutRepo  repository.PayoutRepository
	statRepo    repository.AffiliateStatRepository
	programRepo repository.ProgramRepository
	settings    *SettingService
	dispatcher  EventDispatcher
	notifier    NotificationSender
	clock       Clock
}

// NewPayoutService 创建结算单服务
func NewPayoutService(
	payoutRepo repository.PayoutRepository,
	statRepo repository.AffiliateStatRepository,
	programRepo repository.ProgramRepository,
	settings *SettingService,
	dispatcher EventDispatcher,
	notifier NotificationSender,
	clock Clock,
) *PayoutService {
	return &PayoutService{
		payoutRepo:  payoutRepo,
		statRepo:    statRepo,
		programRepo: programRepo,
		settings:    settings,
		dispatcher:  dispatcher,
		notifier:    notifier,
		clock:       resolveClock(clock),
	}
}

// Transition 执行结算单状态流转。
// 状态更新与累计收益增减在同一事务内完成；事件与通知在提交后发出。
func (s *PayoutService) Transition(ctx context.Context, payoutID uint, rawAction string) (*models.Payout, error) {
	action, err := NormalizePayoutAction(rawAction)
	if err != nil {
		return nil, err
	}
	if payoutID == 0 {
		return nil, ErrPayoutNotFound
	}
	holdDays := defaultPipelineHoldDays
	if action == constants.PayoutActionHold {
		setting, err := s.settings.GetPipelineSetting()
		if err != nil {
			return nil, err
		}
		holdDays = setting.HoldDays
	}
	now := s.clock()

	var updated *models.Payout
	err = s.payoutRepo.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.payoutRepo.WithTx(tx)
		payout, err := repo.GetByIDForUpdate(payoutID)
		if err != nil {
			return err
		}
		if payout == nil {
			return ErrPayoutNotFound
		}
		next, err := NextPayoutStatus(payout.ID, payout.Status, action, payout.HoldUntil, now)
		if err != nil {
			return err
		}

		updates := map[string]interface{}{
			"status":     next,
			"updated_at": now,
		}
		switch next {
		case constants.PayoutStatusApproved:
			updates["approved_at"] = now
		case constants.PayoutStatusOnHold:
			updates["hold_until"] = now.Add(time.Duration(holdDays) * 24 * time.Hour)
		case constants.PayoutStatusReleased:
			updates["released_at"] = now
		case constants.PayoutStatusRejected:
			updates["rejected_at"] = now
		}
		delta := decimal.Zero
		counts := payoutCountsAsEarnings(next)
		if counts && !payout.EarningsApplied {
			delta = payout.Amount.Decimal
		}
		if !counts && payout.EarningsApplied {
			delta = payout.Amount.Decimal.Neg()
		}
		if counts != payout.EarningsApplied {
			updates["earnings_applied"] = counts
		}

		ok, err := repo.UpdateFromStatus(payout.ID, payout.Status, updates)
		if err != nil {
			return err
		}
		if !ok {
			return &PayoutTransitionError{PayoutID: payout.ID, CurrentStatus: payout.Status, Action: action}
		}
		if !delta.IsZero() {
			if err := s.statRepo.WithTx(tx).IncrementEarnings(payout.AffiliateID, delta, now); err != nil {
				return err
			}
		}
		updated, err = repo.GetByID(payout.ID)
		return err
	})
	if err != nil {
		var transitionErr *PayoutTransitionError
		if errors.Is(err, ErrPayoutNotFound) || errors.As(err, &transitionErr) {
			return nil, err
		}
		return nil, storeError("transition payout", err)
	}

	s.emitPayoutEvents(ctx, updated)
	return updated, nil
}

// emitPayoutEvents 提交后推送事件，失败只记录日志
func (s *PayoutService) emitPayoutEvents(ctx context.Context, payout *models.Payout) {
	if payout == nil {
		return
	}
	var event string
	switch payout.Status {
	case constants.PayoutStatusApproved:
		event = constants.WebhookEventPayoutApproved
	case constants.PayoutStatusReleased:
		event = constants.WebhookEventPayoutReleased
	case constants.PayoutStatusRejected:
		event = constants.WebhookEventPayoutRejected
	default:
		return
	}

	if s.dispatcher != nil && s.programRepo != nil {
		program, err := s.programRepo.WithContext(ctx).GetByID(payout.ProgramID)
		switch {
		case err != nil:
			logger.Errorw("payout_program_lookup_failed", "payout_id", payout.ID, "program_id", payout.ProgramID, "error", err)
		case program == nil:
			logger.Warnw("payout_program_missing", "payout_id", payout.ID, "program_id", payout.ProgramID)
		default:
			if _, err := s.dispatcher.Dispatch(ctx, program.MerchantID, event, payoutEventPayload(payout)); err != nil {
				logger.Errorw("payout_webhook_dispatch_failed",
					"payout_id", payout.ID,
					"event", event,
					"error", err,
				)
			}
		}
	}

	if event != constants.WebhookEventPayoutReleased || s.notifier == nil || s.programRepo == nil {
		return
	}
	affiliate, err := s.programRepo.WithContext(ctx).GetAffiliateByID(payout.AffiliateID)
	if err != nil {
		logger.Warnw("payout_affiliate_lookup_failed", "payout_id", payout.ID, "affiliate_id", payout.AffiliateID, "error", err)
		return
	}
	if affiliate == nil || affiliate.Email == "" {
		return
	}
	s.notifier.Notify(ctx, NotificationEnqueueInput{
		EventType: constants.NotificationEventPayoutReleased,
		BizType:   "payout",
		BizID:     payout.ID,
		Recipient: affiliate.Email,
		Data: models.JSON{
			"amount":   payout.Amount.String(),
			"currency": payout.Currency,
		},
	})
}

func payoutEventPayload(payout *models.Payout) map[string]interface{} {
	payload := map[string]interface{}{
		"payout_id":    payout.ID,
		"affiliate_id": payout.AffiliateID,
		"program_id":   payout.ProgramID,
		"amount":       payout.Amount.String(),
		"currency":     payout.Currency,
		"status":       payout.Status,
		"updated_at":   payout.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if payout.ConversionID != nil {
		payload["conversion_id"] = *payout.ConversionID
	}
	return payload
}

// ApproveDue 审核所有冻结期已结束的结算单，返回成功条数
func (s *PayoutService) ApproveDue(ctx context.Context, limit int) (int, error) {
	rows, err := s.payoutRepo.WithContext(ctx).ListDueOnHold(constants.PayoutStatusOnHold, s.clock(), limit)
	if err != nil {
		return 0, storeError("list due payouts", err)
	}
	approved := 0
	var firstErr error
	for _, row := range rows {
		if _, err := s.Transition(ctx, row.ID, constants.PayoutActionApprove); err != nil {
			if errors.Is(err, ErrPayoutTransitionConflict) {
				logger.Debugw("payout_auto_approve_skipped", "payout_id", row.ID, "error", err)
				continue
			}
			logger.Warnw("payout_auto_approve_failed", "payout_id", row.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		approved++
	}
	return approved, firstErr
}

// GetPayout 获取结算单
func (s *PayoutService) GetPayout(ctx context.Context, payoutID uint) (*models.Payout, error) {
	payout, err := s.payoutRepo.WithContext(ctx).GetByID(payoutID)
	if err != nil {
		return nil, storeError("get payout", err)
	}
	if payout == nil {
		return nil, ErrPayoutNotFound
	}
	return payout, nil
}

// ListPayouts 分页查询结算单
func (s *PayoutService) ListPayouts(ctx context.Context, filter repository.PayoutListFilter) ([]models.Payout, int64, error) {
	rows, total, err := s.payoutRepo.WithContext(ctx).List(filter)
	if err != nil {
		return nil, 0, storeError("list payouts", err)
	}
	return rows, total, nil
}

// AffiliateEarnings 推广者收益汇总
type AffiliateEarnings struct {
	AffiliateID     uint         `json:"affiliate_id"`
	ConversionCount int64        `json:"conversion_count"`
	TotalEarnings   models.Money `json:"total_earnings"`
	PendingAmount   models.Money `json:"pending_amount"`
	ApprovedAmount  models.Money `json:"approved_amount"`
	ReleasedAmount  models.Money `json:"released_amount"`
}

// GetAffiliateEarnings 汇总推广者计数与各状态结算金额
func (s *PayoutService) GetAffiliateEarnings(ctx context.Context, affiliateID uint) (*AffiliateEarnings, error) {
	affiliate, err := s.programRepo.WithContext(ctx).GetAffiliateByID(affiliateID)
	if err != nil {
		return nil, storeError("get affiliate", err)
	}
	if affiliate == nil {
		return nil, ErrAffiliateNotFound
	}

	result := &AffiliateEarnings{AffiliateID: affiliateID}
	stat, err := s.statRepo.WithContext(ctx).GetByAffiliate(affiliateID)
	if err != nil {
		return nil, storeError("get affiliate stat", err)
	}
	if stat != nil {
		result.ConversionCount = stat.ConversionCount
		result.TotalEarnings = stat.TotalEarnings
	}

	payoutRepo := s.payoutRepo.WithContext(ctx)
	sums := []struct {
		status string
		target *models.Money
	}{
		{constants.PayoutStatusOnHold, &result.PendingAmount},
		{constants.PayoutStatusApproved, &result.ApprovedAmount},
		{constants.PayoutStatusReleased, &result.ReleasedAmount},
	}
	for _, item := range sums {
		total, err := payoutRepo.SumByAffiliate(affiliateID, []string{item.status})
		if err != nil {
			return nil, storeError("sum payouts", err)
		}
		*item.target = models.NewMoneyFromDecimal(total)
	}
	return result, nil
}
