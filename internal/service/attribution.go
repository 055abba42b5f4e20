package service

import (
	"math"
	"strings"
	"time"

	"github.com/affiliflow/internal/constants"
)

const (
	attributionHalfLife     = 7 * 24 * time.Hour
	attributionWeightScale  = 10000
	attributionWeightDigits = 4
)

// AttributionTouch 参与归因的触点
type AttributionTouch struct {
	AffiliateID uint
	CreatedAt   time.Time
}

// AttributionShare 推广者分得的权重
type AttributionShare struct {
	AffiliateID uint    `json:"affiliate_id"`
	Weight      float64 `json:"weight"`
}

// NormalizeAttributionModel 未识别的模型按 last_click 处理
func NormalizeAttributionModel(model string) string {
	switch strings.ToLower(strings.TrimSpace(model)) {
	case constants.AttributionModelFirstClick:
		return constants.AttributionModelFirstClick
	case constants.AttributionModelLinear:
		return constants.AttributionModelLinear
	case constants.AttributionModelTimeDecay:
		return constants.AttributionModelTimeDecay
	default:
		return constants.AttributionModelLastClick
	}
}

// ResolveAttribution 按模型把会话触点拆分为推广者权重。
// touches 必须已按 CreatedAt 升序排列；输出按推广者首次出现顺序排列，权重和为 1。
func ResolveAttribution(touches []AttributionTouch, model string) []AttributionShare {
	n := len(touches)
	if n == 0 {
		return []AttributionShare{}
	}
	if n == 1 {
		return []AttributionShare{{AffiliateID: touches[0].AffiliateID, Weight: 1}}
	}

	raw := make([]float64, n)
	switch NormalizeAttributionModel(model) {
	case constants.AttributionModelFirstClick:
		raw[0] = 1
	case constants.AttributionModelLinear:
		for i := range raw {
			raw[i] = 1 / float64(n)
		}
	case constants.AttributionModelTimeDecay:
		anchor := touches[n-1].CreatedAt
		halfLifeMs := float64(attributionHalfLife.Milliseconds())
		total := 0.0
		for i, touch := range touches {
			ageMs := float64(anchor.Sub(touch.CreatedAt).Milliseconds())
			raw[i] = math.Pow(0.5, ageMs/halfLifeMs)
			total += raw[i]
		}
		for i := range raw {
			raw[i] /= total
		}
	default:
		raw[n-1] = 1
	}

	return aggregateAttribution(touches, raw)
}

// aggregateAttribution 按推广者汇总并取 4 位小数，舍入残差并入最大份额
func aggregateAttribution(touches []AttributionTouch, weights []float64) []AttributionShare {
	order := make([]uint, 0, len(touches))
	sums := make(map[uint]float64, len(touches))
	for i, touch := range touches {
		if _, ok := sums[touch.AffiliateID]; !ok {
			order = append(order, touch.AffiliateID)
		}
		sums[touch.AffiliateID] += weights[i]
	}

	units := make([]int64, len(order))
	var allocated int64
	largest := 0
	for i, affiliateID := range order {
		units[i] = int64(math.Round(sums[affiliateID] * attributionWeightScale))
		allocated += units[i]
		if units[i] > units[largest] {
			largest = i
		}
	}
	units[largest] += attributionWeightScale - allocated

	shares := make([]AttributionShare, 0, len(order))
	for i, affiliateID := range order {
		if units[i] <= 0 {
			continue
		}
		shares = append(shares, AttributionShare{
			AffiliateID: affiliateID,
			Weight:      roundWeight(float64(units[i]) / attributionWeightScale),
		})
	}
	return shares
}

func roundWeight(value float64) float64 {
	factor := math.Pow(10, attributionWeightDigits)
	return math.Round(value*factor) / factor
}

// PickAttributedAffiliate 取权重最高的推广者，权重相同取最早出现者
func PickAttributedAffiliate(shares []AttributionShare) (uint, bool) {
	if len(shares) == 0 {
		return 0, false
	}
	best := shares[0]
	for _, share := range shares[1:] {
		if share.Weight > best.Weight {
			best = share
		}
	}
	return best.AffiliateID, true
}
