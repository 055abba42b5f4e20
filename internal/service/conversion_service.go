package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/affiliflow/internal/cache"
	"github.com/affiliflow/internal/constants"
	"github.com/affiliflow/internal/logger"
	"github.com/affiliflow/internal/models"
	"github.com/affiliflow/internal/repository"

	"github.com/shopspring/decimal"
)

const (
	maxOrderIDLength        = 128
	maxSubscriptionIDLength = 128
)

// EventDispatcher 商户事件分发方
type EventDispatcher interface {
	Dispatch(ctx context.Context, merchantID uint, event string, payload map[string]interface{}) ([]models.WebhookDelivery, error)
}

// ConversionService 转化入库编排：风控、计佣、落库与副作用
type ConversionService struct {
	conversionRepo repository.ConversionRepository
	trackingRepo   repository.TrackingRepository
	programRepo    repository.ProgramRepository
	payoutRepo     repository.PayoutRepository
	statRepo       repository.AffiliateStatRepository
	fraud          *FraudEvaluator
	commission     *CommissionResolver
	settings       *SettingService
	dispatcher     EventDispatcher
	notifier       NotificationSender
	clock          Clock
}

// NewConversionService 创建转化服务
func NewConversionService(
	conversionRepo repository.ConversionRepository,
	trackingRepo repository.TrackingRepository,
	programRepo repository.ProgramRepository,
	payoutRepo repository.PayoutRepository,
	statRepo repository.AffiliateStatRepository,
	fraud *FraudEvaluator,
	commission *CommissionResolver,
	settings *SettingService,
	dispatcher EventDispatcher,
	notifier NotificationSender,
	clock Clock,
) *ConversionService {
	return &ConversionService{
		conversionRepo: conversionRepo,
		trackingRepo:   trackingRepo,
		programRepo:    programRepo,
		payoutRepo:     payoutRepo,
		statRepo:       statRepo,
		fraud:          fraud,
		commission:     commission,
		settings:       settings,
		dispatcher:     dispatcher,
		notifier:       notifier,
		clock:          resolveClock(clock),
	}
}

// IngestConversionInput 入站订单事件
type IngestConversionInput struct {
	ProgramID      uint
	AffiliateID    uint
	ClickID        *uint
	PromoCodeID    *uint
	SessionID      string
	OrderID        string
	OrderTotal     decimal.Decimal
	Currency       string
	IsRecurring    bool
	SubscriptionID string
	IPAddress      string
	UserAgent      string
}

// IngestConversionResult 入库结果
type IngestConversionResult struct {
	ConversionID     uint            `json:"conversion_id"`
	Status           string          `json:"status"`
	CommissionPct    decimal.Decimal `json:"commission_pct"`
	CommissionAmount models.Money    `json:"commission_amount"`
	FraudScore       int             `json:"fraud_score"`
	AffiliateID      uint            `json:"affiliate_id"`
	PayoutID         *uint           `json:"payout_id,omitempty"`
	Duplicate        bool            `json:"duplicate"`
}

// programView 入库需要的计划字段
type programView struct {
	ID                   uint
	MerchantID           uint
	Name                 string
	DefaultCommissionPct decimal.Decimal
	AttributionModel     string
	Currency             string
	NotifyEmail          string
}

// IngestConversion 处理一次入站转化。
// 主记录写入失败时整体失败；计数、结算单、Webhook 与通知为尽力而为，失败只记录日志。
func (s *ConversionService) IngestConversion(ctx context.Context, input IngestConversionInput) (*IngestConversionResult, error) {
	input, err := normalizeIngestInput(input)
	if err != nil {
		return nil, err
	}
	now := s.clock()

	program, err := s.loadProgram(ctx, input.ProgramID)
	if err != nil {
		return nil, err
	}
	if input.Currency == "" {
		input.Currency = program.Currency
	}

	conversionRepo := s.conversionRepo.WithContext(ctx)
	existing, err := conversionRepo.GetByProgramOrder(input.ProgramID, input.OrderID)
	if err != nil {
		return nil, storeError("get conversion by order", err)
	}
	if existing != nil {
		return duplicateResult(existing), nil
	}

	conversion := &models.Conversion{
		ProgramID:      input.ProgramID,
		AffiliateID:    input.AffiliateID,
		ClickID:        input.ClickID,
		PromoCodeID:    input.PromoCodeID,
		OrderID:        input.OrderID,
		OrderTotal:     models.NewMoneyFromDecimal(input.OrderTotal),
		Currency:       input.Currency,
		IsRecurring:    input.IsRecurring,
		SubscriptionID: input.SubscriptionID,
		IPAddress:      input.IPAddress,
		UserAgent:      input.UserAgent,
		CreatedAt:      now,
	}
	if err := s.applyRecurring(ctx, conversion); err != nil {
		return nil, err
	}
	if conversion.AffiliateID == 0 {
		if err := s.applySessionAttribution(ctx, conversion, input.SessionID, program.AttributionModel); err != nil {
			return nil, err
		}
	}

	var click *models.Click
	if conversion.ClickID != nil {
		click, err = s.trackingRepo.WithContext(ctx).GetClickByID(*conversion.ClickID)
		if err != nil {
			return nil, storeError("get click", err)
		}
		if click == nil {
			return nil, ErrClickNotFound
		}
	}

	assessment, err := s.fraud.EvaluateConversion(ctx, conversion.AffiliateID, click, conversion.IPAddress, now)
	if err != nil {
		return nil, err
	}

	setting, err := s.settings.GetPipelineSetting()
	if err != nil {
		return nil, err
	}
	fallbackPct := program.DefaultCommissionPct
	if !fallbackPct.IsPositive() {
		fallbackPct = decimal.NewFromFloat(setting.FallbackCommissionPct)
	}
	quote, err := s.commission.Resolve(ctx, program.ID, conversion.AffiliateID, input.OrderTotal, fallbackPct, now)
	if err != nil {
		return nil, err
	}

	conversion.FraudScore = assessment.Score
	conversion.Status = assessment.Status
	conversion.CommissionPct = quote.Pct
	conversion.CommissionAmount = models.NewMoneyFromDecimal(quote.Amount)
	conversion.CommissionRuleID = quote.RuleID
	if err := conversionRepo.Create(conversion); err != nil {
		if isUniqueViolation(err) {
			raced, getErr := conversionRepo.GetByProgramOrder(input.ProgramID, input.OrderID)
			if getErr == nil && raced != nil {
				return duplicateResult(raced), nil
			}
		}
		return nil, storeError("create conversion", err)
	}

	if !assessment.Flagged() {
		s.creditAffiliate(ctx, conversion, setting.HoldDays, now)
	}
	s.emitConversionEvents(ctx, program, conversion)

	return &IngestConversionResult{
		ConversionID:     conversion.ID,
		Status:           conversion.Status,
		CommissionPct:    conversion.CommissionPct,
		CommissionAmount: conversion.CommissionAmount,
		FraudScore:       conversion.FraudScore,
		AffiliateID:      conversion.AffiliateID,
		PayoutID:         conversion.PayoutID,
	}, nil
}

func normalizeIngestInput(input IngestConversionInput) (IngestConversionInput, error) {
	input.OrderID = strings.TrimSpace(input.OrderID)
	input.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))
	input.SessionID = strings.TrimSpace(input.SessionID)
	input.SubscriptionID = strings.TrimSpace(input.SubscriptionID)
	input.IPAddress = strings.TrimSpace(input.IPAddress)
	input.UserAgent = truncateString(input.UserAgent, maxUserAgentLength)

	if input.ProgramID == 0 {
		return input, fmt.Errorf("%w: program_id is required", ErrInvalidConversion)
	}
	if input.OrderID == "" || len(input.OrderID) > maxOrderIDLength {
		return input, fmt.Errorf("%w: order_id is required and at most %d characters", ErrInvalidConversion, maxOrderIDLength)
	}
	if input.OrderTotal.IsNegative() {
		return input, fmt.Errorf("%w: order_total must not be negative", ErrInvalidConversion)
	}
	if input.Currency != "" && len(input.Currency) != 3 {
		return input, fmt.Errorf("%w: currency must be a 3-letter code", ErrInvalidConversion)
	}
	if input.IsRecurring && input.SubscriptionID == "" {
		return input, fmt.Errorf("%w: subscription_id is required for recurring conversions", ErrInvalidConversion)
	}
	if len(input.SubscriptionID) > maxSubscriptionIDLength {
		return input, fmt.Errorf("%w: subscription_id is at most %d characters", ErrInvalidConversion, maxSubscriptionIDLength)
	}
	if input.AffiliateID == 0 && input.SessionID == "" && !input.IsRecurring {
		return input, fmt.Errorf("%w: affiliate_id or session_id is required", ErrInvalidConversion)
	}
	return input, nil
}

func duplicateResult(existing *models.Conversion) *IngestConversionResult {
	return &IngestConversionResult{
		ConversionID:     existing.ID,
		Status:           existing.Status,
		CommissionPct:    existing.CommissionPct,
		CommissionAmount: existing.CommissionAmount,
		FraudScore:       existing.FraudScore,
		AffiliateID:      existing.AffiliateID,
		PayoutID:         existing.PayoutID,
		Duplicate:        true,
	}
}

// loadProgram 优先读缓存快照
func (s *ConversionService) loadProgram(ctx context.Context, programID uint) (*programView, error) {
	snapshot, hit, err := cache.GetProgram(ctx, programID)
	if err != nil {
		logger.Debugw("program_cache_get_failed", "program_id", programID, "error", err)
	}
	if !hit || snapshot == nil {
		program, err := s.programRepo.WithContext(ctx).GetByID(programID)
		if err != nil {
			return nil, storeError("get program", err)
		}
		if program == nil {
			return nil, ErrProgramNotFound
		}
		snapshot = cache.BuildProgramSnapshot(program)
		if err := cache.SetProgram(ctx, snapshot); err != nil {
			logger.Debugw("program_cache_set_failed", "program_id", programID, "error", err)
		}
	}
	pct, err := decimal.NewFromString(snapshot.DefaultCommissionPct)
	if err != nil {
		pct = decimal.Zero
	}
	return &programView{
		ID:                   snapshot.ID,
		MerchantID:           snapshot.MerchantID,
		Name:                 snapshot.Name,
		DefaultCommissionPct: pct,
		AttributionModel:     snapshot.AttributionModel,
		Currency:             snapshot.Currency,
		NotifyEmail:          snapshot.MerchantNotifyEmail,
	}, nil
}

// applyRecurring 续费转化沿用订阅首单的推广者、点击与优惠码
func (s *ConversionService) applyRecurring(ctx context.Context, conversion *models.Conversion) error {
	if !conversion.IsRecurring {
		return nil
	}
	repo := s.conversionRepo.WithContext(ctx)
	root, err := repo.GetSubscriptionRoot(conversion.ProgramID, conversion.SubscriptionID)
	if err != nil {
		return storeError("get subscription root", err)
	}
	index := 0
	if root == nil {
		conversion.RecurringIndex = &index
		return nil
	}
	maxIndex, err := repo.MaxRecurringIndex(conversion.ProgramID, conversion.SubscriptionID)
	if err != nil {
		return storeError("get recurring index", err)
	}
	index = maxIndex + 1
	rootID := root.ID
	conversion.AffiliateID = root.AffiliateID
	conversion.ClickID = root.ClickID
	conversion.PromoCodeID = root.PromoCodeID
	conversion.RecurringParentID = &rootID
	conversion.RecurringIndex = &index
	return nil
}

// applySessionAttribution 未指定推广者时按会话触点归因，取权重最高者
func (s *ConversionService) applySessionAttribution(ctx context.Context, conversion *models.Conversion, sessionID, model string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: affiliate_id or session_id is required", ErrInvalidConversion)
	}
	trackingRepo := s.trackingRepo.WithContext(ctx)
	rows, err := trackingRepo.ListTouchPointsBySession(sessionID, conversion.ProgramID)
	if err != nil {
		return storeError("list touch points", err)
	}
	touches := make([]AttributionTouch, 0, len(rows))
	for _, row := range rows {
		touches = append(touches, AttributionTouch{AffiliateID: row.AffiliateID, CreatedAt: row.CreatedAt})
	}
	affiliateID, ok := PickAttributedAffiliate(ResolveAttribution(touches, model))
	if !ok {
		return ErrAttributionUnavailable
	}
	conversion.AffiliateID = affiliateID
	if conversion.ClickID == nil {
		tp, err := trackingRepo.GetLatestClickTouchPoint(sessionID, conversion.ProgramID, affiliateID)
		if err != nil {
			return storeError("get latest click touch point", err)
		}
		if tp != nil {
			conversion.ClickID = tp.ClickID
		}
	}
	return nil
}

// creditAffiliate 有效转化：计数自增，佣金大于 0 时创建冻结结算单并回写
func (s *ConversionService) creditAffiliate(ctx context.Context, conversion *models.Conversion, holdDays int, now time.Time) {
	if err := s.statRepo.WithContext(ctx).IncrementConversions(conversion.AffiliateID, 1, now); err != nil {
		logger.Errorw("conversion_stat_increment_failed",
			"conversion_id", conversion.ID,
			"affiliate_id", conversion.AffiliateID,
			"error", err,
		)
	}
	if !conversion.CommissionAmount.Decimal.IsPositive() {
		return
	}

	holdUntil := now.Add(time.Duration(holdDays) * 24 * time.Hour)
	conversionID := conversion.ID
	payout := &models.Payout{
		AffiliateID:  conversion.AffiliateID,
		ProgramID:    conversion.ProgramID,
		ConversionID: &conversionID,
		Amount:       conversion.CommissionAmount,
		Currency:     conversion.Currency,
		Status:       constants.PayoutStatusOnHold,
		HoldUntil:    &holdUntil,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.payoutRepo.WithContext(ctx).Create(payout); err != nil {
		logger.Errorw("conversion_payout_create_failed",
			"conversion_id", conversion.ID,
			"affiliate_id", conversion.AffiliateID,
			"amount", conversion.CommissionAmount.String(),
			"error", err,
		)
		return
	}
	if err := s.conversionRepo.WithContext(ctx).LinkPayout(conversion.ID, payout.ID); err != nil {
		logger.Errorw("conversion_payout_link_failed",
			"conversion_id", conversion.ID,
			"payout_id", payout.ID,
			"error", err,
		)
		return
	}
	payoutID := payout.ID
	conversion.PayoutID = &payoutID
}

// emitConversionEvents 推送转化事件；被标记时额外推送告警并通知商户
func (s *ConversionService) emitConversionEvents(ctx context.Context, program *programView, conversion *models.Conversion) {
	payload := conversionEventPayload(conversion)
	s.dispatch(ctx, program.MerchantID, constants.WebhookEventConversionCreated, payload, conversion.ID)
	if conversion.Status != constants.ConversionStatusFlagged {
		return
	}
	s.dispatch(ctx, program.MerchantID, constants.WebhookEventConversionFlagged, payload, conversion.ID)
	if s.notifier != nil && program.NotifyEmail != "" {
		s.notifier.Notify(ctx, NotificationEnqueueInput{
			EventType: constants.NotificationEventConversionFlagged,
			BizType:   "conversion",
			BizID:     conversion.ID,
			Recipient: program.NotifyEmail,
			Data: models.JSON{
				"program_name": program.Name,
				"affiliate_id": conversion.AffiliateID,
				"order_id":     conversion.OrderID,
				"order_total":  conversion.OrderTotal.String(),
				"currency":     conversion.Currency,
				"fraud_score":  conversion.FraudScore,
			},
		})
	}
}

func (s *ConversionService) dispatch(ctx context.Context, merchantID uint, event string, payload map[string]interface{}, conversionID uint) {
	if s.dispatcher == nil {
		return
	}
	if _, err := s.dispatcher.Dispatch(ctx, merchantID, event, payload); err != nil {
		logger.Errorw("conversion_webhook_dispatch_failed",
			"conversion_id", conversionID,
			"merchant_id", merchantID,
			"event", event,
			"error", err,
		)
	}
}

func conversionEventPayload(conversion *models.Conversion) map[string]interface{} {
	payload := map[string]interface{}{
		"conversion_id":     conversion.ID,
		"program_id":        conversion.ProgramID,
		"affiliate_id":      conversion.AffiliateID,
		"order_id":          conversion.OrderID,
		"order_total":       conversion.OrderTotal.String(),
		"currency":          conversion.Currency,
		"commission_pct":    conversion.CommissionPct.String(),
		"commission_amount": conversion.CommissionAmount.String(),
		"fraud_score":       conversion.FraudScore,
		"status":            conversion.Status,
		"is_recurring":      conversion.IsRecurring,
		"created_at":        conversion.CreatedAt.UTC().Format(time.RFC3339),
	}
	if conversion.PayoutID != nil {
		payload["payout_id"] = *conversion.PayoutID
	}
	if conversion.RecurringIndex != nil {
		payload["recurring_index"] = *conversion.RecurringIndex
	}
	return payload
}

// ListConversions 分页查询转化
func (s *ConversionService) ListConversions(ctx context.Context, filter repository.ConversionListFilter) ([]models.Conversion, int64, error) {
	rows, total, err := s.conversionRepo.WithContext(ctx).List(filter)
	if err != nil {
		return nil, 0, storeError("list conversions", err)
	}
	return rows, total, nil
}
