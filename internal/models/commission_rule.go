package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// CommissionTier 阶梯佣金区间，min 含、max 不含
type CommissionTier struct {
	Min  decimal.Decimal  `json:"min"`
	Max  *decimal.Decimal `json:"max,omitempty"`
	Rate decimal.Decimal  `json:"rate"`
}

// CommissionRule 佣金规则（运营维护，流水线只读）
type CommissionRule struct {
	ID          uint                                `gorm:"primarykey" json:"id"`                                // 主键
	ProgramID   uint                                `gorm:"not null;index" json:"program_id"`                    // 推广计划ID
	AffiliateID *uint                               `gorm:"index" json:"affiliate_id,omitempty"`                 // 推广者ID（为空表示计划通用）
	Type        string                              `gorm:"type:varchar(32);not null" json:"type"`               // 规则类型
	Value       decimal.NullDecimal                 `gorm:"type:decimal(20,4)" json:"value"`                     // 比例或固定金额
	Tiers       datatypes.JSONSlice[CommissionTier] `gorm:"type:json" json:"tiers,omitempty"`                    // 阶梯区间
	Priority    int                                 `gorm:"not null;default:0;index" json:"priority"`            // 优先级
	StartsAt    *time.Time                          `json:"starts_at,omitempty"`                                 // 生效时间
	ExpiresAt   *time.Time                          `json:"expires_at,omitempty"`                                // 失效时间
	CreatedAt   time.Time                           `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"` // 创建时间
	UpdatedAt   time.Time                           `json:"updated_at"`                                          // 更新时间
}

// TableName 指定表名
func (CommissionRule) TableName() string {
	return "commission_rules"
}
