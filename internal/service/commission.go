package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/affiliflow/internal/constants"
	"github.com/affiliflow/internal/models"
	"github.com/affiliflow/internal/repository"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CommissionPlan 佣金计算方式，每种规则类型一个实现
type CommissionPlan interface {
	Type() string
	Quote(orderTotal, fallbackPct decimal.Decimal) (pct decimal.Decimal, amount decimal.Decimal)
}

// PercentagePlan 按比例计佣；Rate 为空时使用兜底比例
type PercentagePlan struct {
	Rate *decimal.Decimal
}

// Type 规则类型
func (PercentagePlan) Type() string { return constants.CommissionRuleTypePercentage }

// Quote 计算佣金
func (p PercentagePlan) Quote(orderTotal, fallbackPct decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	rate := fallbackPct
	if p.Rate != nil {
		rate = *p.Rate
	}
	return rate, percentOf(orderTotal, rate)
}

// FixedPlan 固定金额，不随订单金额缩放
type FixedPlan struct {
	Amount decimal.Decimal
}

// Type 规则类型
func (FixedPlan) Type() string { return constants.CommissionRuleTypeFixed }

// Quote 计算佣金
func (p FixedPlan) Quote(_, _ decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	return decimal.Zero, p.Amount.Round(2)
}

// TieredPlan 阶梯比例，取第一个命中 [min, max) 的区间
type TieredPlan struct {
	Tiers []models.CommissionTier
}

// Type 规则类型
func (TieredPlan) Type() string { return constants.CommissionRuleTypeTiered }

// Quote 计算佣金
func (p TieredPlan) Quote(orderTotal, fallbackPct decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	rate := fallbackPct
	for _, tier := range p.Tiers {
		if orderTotal.LessThan(tier.Min) {
			continue
		}
		if tier.Max != nil && !orderTotal.LessThan(*tier.Max) {
			continue
		}
		rate = tier.Rate
		break
	}
	return rate, percentOf(orderTotal, rate)
}

// PlanFromRule 把规则记录转换为对应的计佣方式，未知类型按比例处理
func PlanFromRule(rule models.CommissionRule) CommissionPlan {
	switch strings.ToLower(strings.TrimSpace(rule.Type)) {
	case constants.CommissionRuleTypeFixed:
		amount := decimal.Zero
		if rule.Value.Valid {
			amount = rule.Value.Decimal
		}
		return FixedPlan{Amount: amount}
	case constants.CommissionRuleTypeTiered:
		return TieredPlan{Tiers: []models.CommissionTier(rule.Tiers)}
	default:
		plan := PercentagePlan{}
		if rule.Value.Valid {
			rate := rule.Value.Decimal
			plan.Rate = &rate
		}
		return plan
	}
}

// CommissionQuote 佣金计算结果
type CommissionQuote struct {
	Pct    decimal.Decimal
	Amount decimal.Decimal
	RuleID *uint
	Type   string
}

// RuleActiveAt 规则在 now 是否处于生效窗口
func RuleActiveAt(rule models.CommissionRule, now time.Time) bool {
	if rule.StartsAt != nil && rule.StartsAt.After(now) {
		return false
	}
	if rule.ExpiresAt != nil && rule.ExpiresAt.Before(now) {
		return false
	}
	return true
}

// SelectCommissionRule 选出唯一生效规则：优先级高者优先，同优先级指定推广者的规则优先
func SelectCommissionRule(rules []models.CommissionRule, affiliateID uint, now time.Time) *models.CommissionRule {
	candidates := make([]models.CommissionRule, 0, len(rules))
	for _, rule := range rules {
		if rule.AffiliateID != nil && *rule.AffiliateID != affiliateID {
			continue
		}
		if !RuleActiveAt(rule, now) {
			continue
		}
		candidates = append(candidates, rule)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		aSpecific := a.AffiliateID != nil
		bSpecific := b.AffiliateID != nil
		if aSpecific != bSpecific {
			return aSpecific
		}
		return a.ID < b.ID
	})
	selected := candidates[0]
	return &selected
}

// QuoteCommission 按选中规则计算佣金；无规则时使用兜底比例
func QuoteCommission(rule *models.CommissionRule, orderTotal, fallbackPct decimal.Decimal) CommissionQuote {
	if rule == nil {
		return CommissionQuote{
			Pct:    fallbackPct,
			Amount: percentOf(orderTotal, fallbackPct),
			Type:   constants.CommissionRuleTypePercentage,
		}
	}
	plan := PlanFromRule(*rule)
	pct, amount := plan.Quote(orderTotal, fallbackPct)
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	ruleID := rule.ID
	return CommissionQuote{
		Pct:    pct,
		Amount: amount,
		RuleID: &ruleID,
		Type:   plan.Type(),
	}
}

func percentOf(total, rate decimal.Decimal) decimal.Decimal {
	return total.Mul(rate).Div(hundred).Round(2)
}

// CommissionResolver 佣金解析器
type CommissionResolver struct {
	repo repository.CommissionRuleRepository
}

// NewCommissionResolver 创建佣金解析器
func NewCommissionResolver(repo repository.CommissionRuleRepository) *CommissionResolver {
	return &CommissionResolver{repo: repo}
}

// Resolve 读取规则并计算佣金；读库失败直接返回错误，不做兜底
func (r *CommissionResolver) Resolve(ctx context.Context, programID, affiliateID uint, orderTotal, fallbackPct decimal.Decimal, now time.Time) (CommissionQuote, error) {
	rules, err := r.repo.WithContext(ctx).ListActive(programID, affiliateID, now)
	if err != nil {
		return CommissionQuote{}, storeError("list commission rules", err)
	}
	return QuoteCommission(SelectCommissionRule(rules, affiliateID, now), orderTotal, fallbackPct), nil
}
