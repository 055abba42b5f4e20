package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEndpoint 商户 Webhook 端点
type WebhookEndpoint struct {
	ID         uint                        `gorm:"primarykey" json:"id"`                                 // 主键
	MerchantID uint                        `gorm:"not null;index" json:"merchant_id"`                    // 商户ID
	URL        string                      `gorm:"type:varchar(1024);not null" json:"url"`               // 推送地址
	Secret     string                      `gorm:"type:varchar(255);not null" json:"-"`                  // 签名密钥
	Events     datatypes.JSONSlice[string] `gorm:"type:json" json:"events"`                              // 订阅事件
	Status     string                      `gorm:"type:varchar(32);not null;index" json:"status"`        // 状态
	CreatedAt  time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"` // 创建时间
	UpdatedAt  time.Time                   `json:"updated_at"`                                           // 更新时间
}

// TableName 指定表名
func (WebhookEndpoint) TableName() string {
	return "webhook_endpoints"
}

// Subscribes 端点是否订阅了事件
func (e WebhookEndpoint) Subscribes(event string) bool {
	for _, item := range e.Events {
		if item == event {
			return true
		}
	}
	return false
}

// WebhookDelivery Webhook 投递记录（每个端点 × 事件一条）
type WebhookDelivery struct {
	ID          uint           `gorm:"primarykey" json:"id"`                                             // 主键
	EndpointID  uint           `gorm:"not null;index" json:"endpoint_id"`                                // 端点ID
	EventID     string         `gorm:"type:varchar(64);not null;index" json:"event_id"`                  // 事件ID（消费方去重）
	Event       string         `gorm:"type:varchar(64);not null" json:"event"`                           // 事件名
	Payload     datatypes.JSON `gorm:"type:json" json:"payload"`                                         // 事件负载
	Status      string         `gorm:"type:varchar(32);not null;index:idx_webhook_deliveries_retry,priority:1" json:"status"` // 状态
	StatusCode  *int           `json:"status_code,omitempty"`                                            // 响应状态码
	Attempts    int            `gorm:"not null;default:0" json:"attempts"`                               // 尝试次数
	LastError   string         `gorm:"type:text" json:"last_error,omitempty"`                            // 最近错误
	NextRetryAt *time.Time     `gorm:"index:idx_webhook_deliveries_retry,priority:2" json:"next_retry_at,omitempty"` // 下次重试时间
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`                                           // 送达时间
	CreatedAt   time.Time      `gorm:"index;not null;default:CURRENT_TIMESTAMP" json:"created_at"`       // 创建时间
	UpdatedAt   time.Time      `json:"updated_at"`                                                       // 更新时间

	Endpoint WebhookEndpoint `gorm:"foreignKey:EndpointID" json:"endpoint,omitempty"` // 端点
}

// TableName 指定表名
func (WebhookDelivery) TableName() string {
	return "webhook_deliveries"
}
