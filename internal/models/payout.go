package models

import "time"

// Payout 结算单（仅允许通过状态流转修改）
type Payout struct {
	ID              uint       `gorm:"primarykey" json:"id"`                                       // 主键
	AffiliateID     uint       `gorm:"not null;index" json:"affiliate_id"`                         // 推广者ID
	ProgramID       uint       `gorm:"not null;index" json:"program_id"`                           // 推广计划ID
	ConversionID    *uint      `gorm:"index" json:"conversion_id,omitempty"`                       // 来源转化ID
	Amount          Money      `gorm:"type:decimal(20,2);not null;default:0" json:"amount"`        // 金额
	Currency        string     `gorm:"type:varchar(16);not null" json:"currency"`                  // 币种
	Status          string     `gorm:"type:varchar(32);not null;index" json:"status"`              // 状态
	HoldUntil       *time.Time `gorm:"index" json:"hold_until,omitempty"`                          // 冻结截止时间
	EarningsApplied bool       `gorm:"not null;default:false" json:"earnings_applied"`             // 是否已计入累计收益
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`                                      // 审核通过时间
	ReleasedAt      *time.Time `json:"released_at,omitempty"`                                      // 打款时间
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`                                      // 驳回时间
	CreatedAt       time.Time  `gorm:"index;not null;default:CURRENT_TIMESTAMP" json:"created_at"` // 创建时间
	UpdatedAt       time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`       // 更新时间
}

// TableName 指定表名
func (Payout) TableName() string {
	return "payouts"
}

// AffiliateStat 推广者累计计数（按行自增）
type AffiliateStat struct {
	AffiliateID     uint      `gorm:"primarykey;autoIncrement:false" json:"affiliate_id"`         // 推广者ID
	ConversionCount int64     `gorm:"not null;default:0" json:"conversion_count"`                 // 有效转化数
	TotalEarnings   Money     `gorm:"type:decimal(20,2);not null;default:0" json:"total_earnings"` // 累计收益
	UpdatedAt       time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`       // 更新时间
}

// TableName 指定表名
func (AffiliateStat) TableName() string {
	return "affiliate_stats"
}
