package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/affiliflow/internal/constants"
	"github.com/affiliflow/internal/models"
	"github.com/affiliflow/internal/repository"
)

const (
	maxSessionIDLength = 128
	maxUserAgentLength = 1024
)

// TrackingService 点击与会话触点记录服务
type TrackingService struct {
	trackingRepo repository.TrackingRepository
	programRepo  repository.ProgramRepository
	fraud        *FraudEvaluator
	clock        Clock
}

// NewTrackingService 创建点击与触点服务
func NewTrackingService(
	trackingRepo repository.TrackingRepository,
	programRepo repository.ProgramRepository,
	fraud *FraudEvaluator,
	clock Clock,
) *TrackingService {
	return &TrackingService{
		trackingRepo: trackingRepo,
		programRepo:  programRepo,
		fraud:        fraud,
		clock:        resolveClock(clock),
	}
}

// RecordClickInput 点击记录输入
type RecordClickInput struct {
	LinkID      uint
	AffiliateID uint
	ProgramID   uint
	IPAddress   string
	UserAgent   string
}

// RecordClick 记录一次跳转点击；同 IP 窗口内点击过多时拒绝且不落库
func (s *TrackingService) RecordClick(ctx context.Context, input RecordClickInput) (*models.Click, error) {
	if input.LinkID == 0 || input.AffiliateID == 0 || input.ProgramID == 0 {
		return nil, fmt.Errorf("%w: link_id, affiliate_id and program_id are required", ErrInvalidClick)
	}
	now := s.clock()
	ip := strings.TrimSpace(input.IPAddress)
	if s.fraud != nil {
		allowed, err := s.fraud.CheckClickVelocity(ctx, ip, now)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, ErrClickRateLimited
		}
	}

	click := &models.Click{
		LinkID:      input.LinkID,
		AffiliateID: input.AffiliateID,
		ProgramID:   input.ProgramID,
		IPAddress:   ip,
		UserAgent:   truncateString(input.UserAgent, maxUserAgentLength),
		CreatedAt:   now,
	}
	if err := s.trackingRepo.WithContext(ctx).CreateClick(click); err != nil {
		return nil, storeError("create click", err)
	}
	return click, nil
}

// RecordTouchPointInput 触点记录输入
type RecordTouchPointInput struct {
	SessionID   string
	AffiliateID uint
	ProgramID   uint
	Type        string
	LinkID      *uint
	PromoCodeID *uint
	ClickID     *uint
	IPAddress   string
	UserAgent   string
}

// RecordTouchPoint 追加一条会话触点，返回触点ID
func (s *TrackingService) RecordTouchPoint(ctx context.Context, input RecordTouchPointInput) (uint, error) {
	sessionID := strings.TrimSpace(input.SessionID)
	if sessionID == "" || len(sessionID) > maxSessionIDLength {
		return 0, fmt.Errorf("%w: session_id is required and at most %d characters", ErrInvalidTouchPoint, maxSessionIDLength)
	}
	if input.AffiliateID == 0 || input.ProgramID == 0 {
		return 0, fmt.Errorf("%w: affiliate_id and program_id are required", ErrInvalidTouchPoint)
	}
	tpType := strings.ToLower(strings.TrimSpace(input.Type))
	switch tpType {
	case constants.TouchPointTypeClick, constants.TouchPointTypeView, constants.TouchPointTypePromoUse:
	default:
		return 0, fmt.Errorf("%w: unsupported type %q", ErrInvalidTouchPoint, input.Type)
	}
	if tpType == constants.TouchPointTypePromoUse && input.PromoCodeID == nil {
		return 0, fmt.Errorf("%w: promo_code_id is required for promo_use", ErrInvalidTouchPoint)
	}

	tp := &models.TouchPoint{
		SessionID:   sessionID,
		ProgramID:   input.ProgramID,
		AffiliateID: input.AffiliateID,
		Type:        tpType,
		LinkID:      input.LinkID,
		PromoCodeID: input.PromoCodeID,
		ClickID:     input.ClickID,
		IPAddress:   strings.TrimSpace(input.IPAddress),
		UserAgent:   truncateString(input.UserAgent, maxUserAgentLength),
		CreatedAt:   s.clock(),
	}
	if err := s.trackingRepo.WithContext(ctx).CreateTouchPoint(tp); err != nil {
		return 0, storeError("create touch point", err)
	}
	return tp.ID, nil
}

// SimulateAttribution 只读模拟：按指定模型（为空时取计划配置）计算会话归因
func (s *TrackingService) SimulateAttribution(ctx context.Context, sessionID string, programID uint, model string) ([]AttributionShare, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || programID == 0 {
		return nil, fmt.Errorf("%w: session_id and program_id are required", ErrInvalidTouchPoint)
	}
	if strings.TrimSpace(model) == "" && s.programRepo != nil {
		program, err := s.programRepo.WithContext(ctx).GetByID(programID)
		if err != nil {
			return nil, storeError("get program", err)
		}
		if program == nil {
			return nil, ErrProgramNotFound
		}
		model = program.AttributionModel
	}
	touches, err := s.sessionTouches(ctx, sessionID, programID)
	if err != nil {
		return nil, err
	}
	return ResolveAttribution(touches, model), nil
}

func (s *TrackingService) sessionTouches(ctx context.Context, sessionID string, programID uint) ([]AttributionTouch, error) {
	rows, err := s.trackingRepo.WithContext(ctx).ListTouchPointsBySession(sessionID, programID)
	if err != nil {
		return nil, storeError("list touch points", err)
	}
	touches := make([]AttributionTouch, 0, len(rows))
	for _, row := range rows {
		touches = append(touches, AttributionTouch{AffiliateID: row.AffiliateID, CreatedAt: row.CreatedAt})
	}
	return touches, nil
}

// truncateString 按字符截断，max 为字节上限，不会拆开多字节字符
func truncateString(value string, max int) string {
	value = strings.ToValidUTF8(strings.TrimSpace(value), "")
	if max <= 0 || len(value) <= max {
		return value
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
