package queue

import (
	"encoding/json"
	"fmt"

	"github.com/affiliflow/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskWebhookDeliver Webhook 投递任务
	TaskWebhookDeliver = constants.TaskWebhookDeliver
	// TaskNotificationDispatch 通知分发任务
	TaskNotificationDispatch = constants.TaskNotificationDispatch
)

// WebhookDeliverPayload Webhook 投递任务载荷
type WebhookDeliverPayload struct {
	DeliveryID uint `json:"delivery_id"`
	Attempt    int  `json:"attempt"`
}

// NotificationDispatchPayload 通知分发任务载荷
type NotificationDispatchPayload struct {
	EventType string                 `json:"event_type"`
	BizType   string                 `json:"biz_type"`
	BizID     uint                   `json:"biz_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewWebhookDeliverTask 创建 Webhook 投递任务
func NewWebhookDeliverTask(payload WebhookDeliverPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWebhookDeliver, body), nil
}

// WebhookDeliverTaskID 同一投递同一尝试序号只入队一次
func WebhookDeliverTaskID(payload WebhookDeliverPayload) string {
	return fmt.Sprintf("webhook:delivery:%d:%d", payload.DeliveryID, payload.Attempt)
}

// NewNotificationDispatchTask 创建通知分发任务
func NewNotificationDispatchTask(payload NotificationDispatchPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotificationDispatch, body), nil
}
