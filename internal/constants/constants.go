package constants

// 触点类型常量
const (
	TouchPointTypeClick    = "click"
	TouchPointTypePromoUse = "promo_use"
	TouchPointTypeView     = "view"
)

// 归因模型常量
const (
	AttributionModelLastClick  = "last_click"
	AttributionModelFirstClick = "first_click"
	AttributionModelLinear     = "linear"
	AttributionModelTimeDecay  = "time_decay"
)

// 转化状态常量
const (
	ConversionStatusPendingVerification = "pending_verification"
	ConversionStatusFlagged             = "flagged"
)

// 佣金规则类型常量
const (
	CommissionRuleTypePercentage = "percentage"
	CommissionRuleTypeFixed      = "fixed"
	CommissionRuleTypeTiered     = "tiered"
)

// 结算单状态常量
const (
	PayoutStatusOnHold   = "on_hold"
	PayoutStatusApproved = "approved"
	PayoutStatusReleased = "released"
	PayoutStatusRejected = "rejected"
)

// 结算单操作常量
const (
	PayoutActionApprove = "approve"
	PayoutActionHold    = "hold"
	PayoutActionRelease = "release"
	PayoutActionReject  = "reject"
)

// 推广计划与推广者状态常量
const (
	ProgramStatusActive     = "active"
	ProgramStatusPaused     = "paused"
	AffiliateStatusActive   = "active"
	AffiliateStatusDisabled = "disabled"
)

// Webhook 端点与投递状态常量
const (
	WebhookEndpointStatusActive    = "active"
	WebhookEndpointStatusPaused    = "paused"
	WebhookDeliveryStatusPending   = "pending"
	WebhookDeliveryStatusDelivered = "delivered"
	WebhookDeliveryStatusFailed    = "failed"
)

// Webhook 事件常量
const (
	WebhookEventConversionCreated = "conversion.created"
	WebhookEventConversionFlagged = "conversion.flagged"
	WebhookEventPayoutApproved    = "payout.approved"
	WebhookEventPayoutReleased    = "payout.released"
	WebhookEventPayoutRejected    = "payout.rejected"
)

// Webhook 请求头常量
const (
	WebhookHeaderEvent     = "X-Webhook-Event"
	WebhookHeaderTimestamp = "X-Webhook-Timestamp"
	WebhookHeaderSignature = "X-Webhook-Signature"
	WebhookHeaderID        = "X-Webhook-Id"
	WebhookSignaturePrefix = "sha256="
)

// 通知事件常量
const (
	NotificationEventConversionFlagged = "conversion_flagged"
	NotificationEventPayoutReleased    = "payout_released"
)

// 队列常量
const (
	QueueDefault             = "default"
	QueueCritical            = "critical"
	TaskWebhookDeliver       = "webhook:deliver"
	TaskNotificationDispatch = "notification:dispatch"
)

// 缓存默认配置常量
const (
	RedisPrefixDefault = "af"
)

// 设置键常量
const (
	SettingKeyPipelineConfig           = "pipeline_config"
	SettingFieldHoldDays               = "hold_days"
	SettingFieldFallbackCommissionRate = "fallback_commission_pct"
)
