package models

import "time"

// Click 跳转点击记录（每次跳转写入一次，之后只读）
type Click struct {
	ID          uint      `gorm:"primarykey" json:"id"`                                        // 主键
	LinkID      uint      `gorm:"not null;index" json:"link_id"`                               // 推广链接ID
	AffiliateID uint      `gorm:"index" json:"affiliate_id"`                                   // 推广者ID
	ProgramID   uint      `gorm:"index" json:"program_id"`                                     // 推广计划ID
	IPAddress   string    `gorm:"type:varchar(64);index:idx_clicks_ip_created,priority:1" json:"ip_address"` // 客户端IP
	UserAgent   string    `gorm:"type:varchar(1024)" json:"user_agent"`                        // 客户端UA
	CreatedAt   time.Time `gorm:"not null;index:idx_clicks_ip_created,priority:2" json:"created_at"` // 创建时间
}

// TableName 指定表名
func (Click) TableName() string {
	return "clicks"
}

// TouchPoint 会话触点（追加写入，不修改不删除）
type TouchPoint struct {
	ID          uint      `gorm:"primarykey" json:"id"`                                                        // 主键
	SessionID   string    `gorm:"type:varchar(128);not null;index:idx_touch_points_session,priority:1" json:"session_id"` // 会话ID
	ProgramID   uint      `gorm:"not null;index:idx_touch_points_session,priority:2" json:"program_id"`        // 推广计划ID
	AffiliateID uint      `gorm:"not null;index" json:"affiliate_id"`                                          // 推广者ID
	Type        string    `gorm:"type:varchar(32);not null" json:"type"`                                       // 触点类型
	LinkID      *uint     `json:"link_id,omitempty"`                                                           // 推广链接ID
	PromoCodeID *uint     `json:"promo_code_id,omitempty"`                                                     // 优惠码ID
	ClickID     *uint     `json:"click_id,omitempty"`                                                          // 关联点击ID
	IPAddress   string    `gorm:"type:varchar(64)" json:"ip_address,omitempty"`                                // 客户端IP
	UserAgent   string    `gorm:"type:varchar(1024)" json:"user_agent,omitempty"`                              // 客户端UA
	CreatedAt   time.Time `gorm:"not null;index:idx_touch_points_session,priority:3" json:"created_at"`        // 创建时间
}

// TableName 指定表名
func (TouchPoint) TableName() string {
	return "touch_points"
}
