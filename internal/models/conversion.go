package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Conversion 转化记录（创建后状态、佣金与结算单关联不再变更）
type Conversion struct {
	ID                uint            `gorm:"primarykey" json:"id"`                                                     // 主键
	ProgramID         uint            `gorm:"not null;index;uniqueIndex:idx_conversions_program_order,priority:1" json:"program_id"` // 推广计划ID
	AffiliateID       uint            `gorm:"not null;index:idx_conversions_affiliate_created,priority:1" json:"affiliate_id"` // 推广者ID
	ClickID           *uint           `gorm:"index" json:"click_id,omitempty"`                                         // 关联点击ID
	PromoCodeID       *uint           `json:"promo_code_id,omitempty"`                                                 // 优惠码ID
	OrderID           string          `gorm:"type:varchar(128);not null;uniqueIndex:idx_conversions_program_order,priority:2" json:"order_id"` // 外部订单号
	OrderTotal        Money           `gorm:"type:decimal(20,2);not null;default:0" json:"order_total"`                // 订单金额
	Currency          string          `gorm:"type:varchar(16);not null" json:"currency"`                               // 币种
	CommissionPct     decimal.Decimal `gorm:"type:decimal(10,4);not null;default:0" json:"commission_pct"`             // 佣金比例
	CommissionAmount  Money           `gorm:"type:decimal(20,2);not null;default:0" json:"commission_amount"`          // 佣金金额
	CommissionRuleID  *uint           `json:"commission_rule_id,omitempty"`                                            // 命中规则ID
	FraudScore        int             `gorm:"not null;default:0" json:"fraud_score"`                                   // 风险分
	Status            string          `gorm:"type:varchar(32);not null;index" json:"status"`                           // 状态
	PayoutID          *uint           `gorm:"index" json:"payout_id,omitempty"`                                        // 结算单ID
	IsRecurring       bool            `gorm:"not null;default:false" json:"is_recurring"`                              // 是否订阅续费
	RecurringParentID *uint           `gorm:"index" json:"recurring_parent_id,omitempty"`                              // 首次转化ID
	RecurringIndex    *int            `json:"recurring_index,omitempty"`                                               // 续费序号
	SubscriptionID    string          `gorm:"type:varchar(128);index" json:"subscription_id,omitempty"`                // 订阅ID
	IPAddress         string          `gorm:"type:varchar(64)" json:"ip_address"`                                      // 客户端IP
	UserAgent         string          `gorm:"type:varchar(1024)" json:"user_agent"`                                    // 客户端UA
	CreatedAt         time.Time       `gorm:"not null;index:idx_conversions_affiliate_created,priority:2" json:"created_at"` // 创建时间
}

// TableName 指定表名
func (Conversion) TableName() string {
	return "conversions"
}
