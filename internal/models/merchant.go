package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Merchant 商户（由运营后台维护，流水线只读）
type Merchant struct {
	ID          uint      `gorm:"primarykey" json:"id"`                           // 主键
	Name        string    `gorm:"type:varchar(255);not null" json:"name"`         // 商户名称
	NotifyEmail string    `gorm:"type:varchar(255)" json:"notify_email"`          // 告警邮箱
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"` // 创建时间
}

// TableName 指定表名
func (Merchant) TableName() string {
	return "merchants"
}

// Program 推广计划
type Program struct {
	ID                   uint            `gorm:"primarykey" json:"id"`                                // 主键
	MerchantID           uint            `gorm:"not null;index" json:"merchant_id"`                   // 商户ID
	Name                 string          `gorm:"type:varchar(255);not null" json:"name"`              // 计划名称
	DefaultCommissionPct decimal.Decimal `gorm:"type:decimal(10,4);not null;default:0" json:"default_commission_pct"` // 商户默认佣金比例
	AttributionModel     string          `gorm:"type:varchar(32);not null;default:'last_click'" json:"attribution_model"` // 归因模型
	Currency             string          `gorm:"type:varchar(16);not null;default:'USD'" json:"currency"` // 默认币种
	Status               string          `gorm:"type:varchar(32);not null;default:'active'" json:"status"` // 状态
	CreatedAt            time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"` // 创建时间

	Merchant Merchant `gorm:"foreignKey:MerchantID" json:"merchant,omitempty"` // 商户
}

// TableName 指定表名
func (Program) TableName() string {
	return "programs"
}

// Affiliate 推广者（由运营后台维护，流水线只读）
type Affiliate struct {
	ID        uint      `gorm:"primarykey" json:"id"`                            // 主键
	Name      string    `gorm:"type:varchar(255)" json:"name"`                   // 名称
	Email     string    `gorm:"type:varchar(255)" json:"email"`                  // 结算通知邮箱
	Status    string    `gorm:"type:varchar(32);not null;default:'active'" json:"status"` // 状态
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"` // 创建时间
}

// TableName 指定表名
func (Affiliate) TableName() string {
	return "affiliates"
}
