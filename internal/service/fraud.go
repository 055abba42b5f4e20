package service

import (
	"context"
	"strings"
	"time"

	"github.com/affiliflow/internal/constants"
	"github.com/affiliflow/internal/models"
	"github.com/affiliflow/internal/repository"
)

const (
	fraudScoreVelocity       = 40
	fraudScoreSelfReferral   = 30
	fraudScoreFastConversion = 20
	fraudScoreInstant        = 10
	fraudScoreMax            = 100
	fraudFlagThreshold       = 50

	fastConversionSeconds = 5
	instantSeconds        = 1

	// NoClickDelaySeconds 无关联点击时的默认转化延迟（不计分）
	NoClickDelaySeconds = 999

	defaultConversionVelocityLimit  = 20
	defaultConversionVelocityWindow = time.Hour
	defaultClickVelocityLimit       = 60
	defaultClickVelocityWindow      = 60 * time.Second
)

// FraudLimits 速度检查阈值
type FraudLimits struct {
	ConversionVelocityLimit  int
	ConversionVelocityWindow time.Duration
	ClickVelocityLimit       int
	ClickVelocityWindow      time.Duration
}

// DefaultFraudLimits 默认阈值：1 小时 20 次转化、60 秒 60 次点击
func DefaultFraudLimits() FraudLimits {
	return FraudLimits{
		ConversionVelocityLimit:  defaultConversionVelocityLimit,
		ConversionVelocityWindow: defaultConversionVelocityWindow,
		ClickVelocityLimit:       defaultClickVelocityLimit,
		ClickVelocityWindow:      defaultClickVelocityWindow,
	}
}

func (l FraudLimits) normalized() FraudLimits {
	defaults := DefaultFraudLimits()
	if l.ConversionVelocityLimit <= 0 {
		l.ConversionVelocityLimit = defaults.ConversionVelocityLimit
	}
	if l.ConversionVelocityWindow <= 0 {
		l.ConversionVelocityWindow = defaults.ConversionVelocityWindow
	}
	if l.ClickVelocityLimit <= 0 {
		l.ClickVelocityLimit = defaults.ClickVelocityLimit
	}
	if l.ClickVelocityWindow <= 0 {
		l.ClickVelocityWindow = defaults.ClickVelocityWindow
	}
	return l
}

// FraudAssessment 单次转化的风险评估结果
type FraudAssessment struct {
	VelocityOK             bool
	SelfReferralOK         bool
	ConversionDelaySeconds float64
	RecentConversions      int64
	Score                  int
	Status                 string
}

// Flagged 是否被标记
func (a FraudAssessment) Flagged() bool {
	return a.Status == constants.ConversionStatusFlagged
}

// ComputeFraudScore 计算 0-100 的风险分
func ComputeFraudScore(velocityOK, selfReferralOK bool, conversionDelaySeconds float64) int {
	score := 0
	if !velocityOK {
		score += fraudScoreVelocity
	}
	if !selfReferralOK {
		score += fraudScoreSelfReferral
	}
	if conversionDelaySeconds < fastConversionSeconds {
		score += fraudScoreFastConversion
		if conversionDelaySeconds < instantSeconds {
			score += fraudScoreInstant
		}
	}
	if score > fraudScoreMax {
		score = fraudScoreMax
	}
	return score
}

// FraudDecision 风险分 ≥ 50 标记，否则待核验
func FraudDecision(score int) string {
	if score >= fraudFlagThreshold {
		return constants.ConversionStatusFlagged
	}
	return constants.ConversionStatusPendingVerification
}

// CheckSelfReferral 点击 IP 与转化 IP 相同（且均非空）视为自推
func CheckSelfReferral(clickIP, conversionIP string) bool {
	clickIP = strings.TrimSpace(clickIP)
	conversionIP = strings.TrimSpace(conversionIP)
	if clickIP == "" || conversionIP == "" {
		return true
	}
	return clickIP != conversionIP
}

// FraudEvaluator 风险评估器
type FraudEvaluator struct {
	conversionRepo repository.ConversionRepository
	trackingRepo   repository.TrackingRepository
	limits         FraudLimits
}

// NewFraudEvaluator 创建风险评估器
func NewFraudEvaluator(conversionRepo repository.ConversionRepository, trackingRepo repository.TrackingRepository, limits FraudLimits) *FraudEvaluator {
	return &FraudEvaluator{
		conversionRepo: conversionRepo,
		trackingRepo:   trackingRepo,
		limits:         limits.normalized(),
	}
}

// Limits 返回生效阈值
func (e *FraudEvaluator) Limits() FraudLimits {
	return e.limits
}

// EvaluateConversion 评估一次转化；click 为空时跳过自推与延迟信号
func (e *FraudEvaluator) EvaluateConversion(ctx context.Context, affiliateID uint, click *models.Click, conversionIP string, now time.Time) (FraudAssessment, error) {
	recent, err := e.conversionRepo.WithContext(ctx).CountByAffiliateSince(affiliateID, now.Add(-e.limits.ConversionVelocityWindow))
	if err != nil {
		return FraudAssessment{}, storeError("count recent conversions", err)
	}

	assessment := FraudAssessment{
		VelocityOK:             recent < int64(e.limits.ConversionVelocityLimit),
		SelfReferralOK:         true,
		ConversionDelaySeconds: NoClickDelaySeconds,
		RecentConversions:      recent,
	}
	if click != nil {
		assessment.SelfReferralOK = CheckSelfReferral(click.IPAddress, conversionIP)
		assessment.ConversionDelaySeconds = now.Sub(click.CreatedAt).Seconds()
	}
	assessment.Score = ComputeFraudScore(assessment.VelocityOK, assessment.SelfReferralOK, assessment.ConversionDelaySeconds)
	assessment.Status = FraudDecision(assessment.Score)
	return assessment, nil
}

// CheckClickVelocity 点击时检查同 IP 窗口内点击数，返回是否放行
func (e *FraudEvaluator) CheckClickVelocity(ctx context.Context, ip string, now time.Time) (bool, error) {
	if strings.TrimSpace(ip) == "" {
		return true, nil
	}
	count, err := e.trackingRepo.WithContext(ctx).CountClicksByIPSince(ip, now.Add(-e.limits.ClickVelocityWindow))
	if err != nil {
		return false, storeError("count recent clicks", err)
	}
	return count < int64(e.limits.ClickVelocityLimit), nil
}
