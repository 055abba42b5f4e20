package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/affiliflow/internal/logger"
	"github.com/affiliflow/internal/provider"
	"github.com/affiliflow/internal/queue"
	"github.com/affiliflow/internal/service"

	"github.com/hibiken/asynq"
)

// Consumer 异步任务消费者
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskWebhookDeliver, c.handleWebhookDeliver)
	mux.HandleFunc(queue.TaskNotificationDispatch, c.handleNotificationDispatch)
}

// handleWebhookDeliver 投递失败已落库并排好下次重试，只有存储错误才返回给 asynq
func (c *Consumer) handleWebhookDeliver(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil || c.WebhookService == nil {
		logger.Debugw("worker_webhook_deliver_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.WebhookDeliverPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_webhook_deliver_unmarshal_failed", "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if payload.DeliveryID == 0 {
		logger.Debugw("worker_webhook_deliver_skip_invalid_payload", "delivery_id", payload.DeliveryID)
		return nil
	}

	current, err := c.WebhookService.GetDelivery(ctx, payload.DeliveryID)
	if err != nil {
		if errors.Is(err, service.ErrDeliveryNotFound) {
			logger.Debugw("worker_webhook_deliver_skip_not_found", "delivery_id", payload.DeliveryID)
			return nil
		}
		logger.Warnw("worker_webhook_deliver_fetch_failed", "delivery_id", payload.DeliveryID, "error", err)
		return err
	}
	if isStaleDeliverTask(current.Attempts, payload.Attempt) {
		logger.Debugw("worker_webhook_deliver_skip_stale",
			"delivery_id", payload.DeliveryID,
			"task_attempt", payload.Attempt,
			"attempts", current.Attempts,
		)
		return nil
	}

	delivery, err := c.WebhookService.AttemptDelivery(ctx, payload.DeliveryID)
	if err != nil {
		if errors.Is(err, service.ErrDeliveryNotFound) || errors.Is(err, service.ErrEndpointNotFound) {
			logger.Debugw("worker_webhook_deliver_skip_missing", "delivery_id", payload.DeliveryID, "error", err)
			return nil
		}
		logger.Warnw("worker_webhook_deliver_failed", "delivery_id", payload.DeliveryID, "error", err)
		return err
	}
	logger.Debugw("worker_webhook_deliver_done",
		"delivery_id", delivery.ID,
		"status", delivery.Status,
		"attempts", delivery.Attempts,
	)
	return nil
}

// isStaleDeliverTask 同一投递的旧序号任务已被其他途径执行过
func isStaleDeliverTask(recordedAttempts, taskAttempt int) bool {
	return taskAttempt > 0 && recordedAttempts >= taskAttempt
}

func (c *Consumer) handleNotificationDispatch(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil || c.NotificationService == nil {
		logger.Debugw("worker_notification_dispatch_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.NotificationDispatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_notification_dispatch_unmarshal_failed", "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := c.NotificationService.Dispatch(ctx, payload); err != nil {
		if errors.Is(err, service.ErrInvalidNotification) {
			logger.Warnw("worker_notification_dispatch_invalid_event", "event_type", payload.EventType, "error", err)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		logger.Warnw("worker_notification_dispatch_failed",
			"event_type", payload.EventType,
			"biz_type", payload.BizType,
			"biz_id", payload.BizID,
			"error", err,
		)
		return err
	}
	return nil
}
