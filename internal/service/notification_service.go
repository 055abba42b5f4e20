package service

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/affiliflow/internal/cache"
	"github.com/affiliflow/internal/constants"
	"github.com/affiliflow/internal/logger"
	"github.com/affiliflow/internal/models"
	"github.com/affiliflow/internal/queue"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
)

const (
	notificationDedupeTTL = 10 * time.Minute
	notificationMaxRetry  = 5
)

// NotificationSender 通知发送方，调用方不关心结果
type NotificationSender interface {
	Notify(ctx context.Context, input NotificationEnqueueInput)
}

// NotificationEnqueueInput 通知事件入队参数
type NotificationEnqueueInput struct {
	EventType string
	BizType   string
	BizID     uint
	Recipient string
	Data      models.JSON
}

type notificationMailer interface {
	Enabled() bool
	SendFlaggedConversionEmail(toEmail string, input FlaggedConversionEmailInput) error
	SendPayoutReleasedEmail(toEmail string, input PayoutReleasedEmailInput) error
}

// notificationDedupe 通知去重占位；发送失败时必须释放，保证重试仍能发出
type notificationDedupe interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type cacheNotificationDedupe struct{}

func (cacheNotificationDedupe) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return cache.SetNX(ctx, key, "1", ttl)
}

func (cacheNotificationDedupe) Release(ctx context.Context, key string) error {
	return cache.Del(ctx, key)
}

// NotificationService 通知服务：有队列时入队，无队列时后台直接发送
type NotificationService struct {
	mailer      notificationMailer
	dedupe      notificationDedupe
	queueClient *queue.Client
	runAsync    func(func())
}

// NewNotificationService 创建通知服务
func NewNotificationService(emailService *EmailService, queueClient *queue.Client) *NotificationService {
	return &NotificationService{
		mailer:      emailService,
		dedupe:      cacheNotificationDedupe{},
		queueClient: queueClient,
		runAsync:    runDetached,
	}
}

// Notify 发送通知，失败只记录日志
func (s *NotificationService) Notify(ctx context.Context, input NotificationEnqueueInput) {
	if s == nil {
		return
	}
	if err := s.Enqueue(ctx, input); err != nil {
		logger.Warnw("notification_enqueue_failed",
			"event_type", input.EventType,
			"biz_type", input.BizType,
			"biz_id", input.BizID,
			"error", err,
		)
	}
}

// Enqueue 入队通知任务；队列未启用时后台直接分发
func (s *NotificationService) Enqueue(ctx context.Context, input NotificationEnqueueInput) error {
	eventType := strings.ToLower(strings.TrimSpace(input.EventType))
	if !isNotificationEventSupported(eventType) {
		return fmt.Errorf("%w: %q", ErrInvalidNotification, input.EventType)
	}
	data := notificationJSONToMap(input.Data)
	if recipient := strings.TrimSpace(input.Recipient); recipient != "" {
		data["recipient"] = recipient
	}
	payload := queue.NotificationDispatchPayload{
		EventType: eventType,
		BizType:   strings.TrimSpace(input.BizType),
		BizID:     input.BizID,
		Data:      data,
	}
	if s.queueClient != nil && s.queueClient.Enabled() {
		return s.queueClient.EnqueueNotificationDispatch(payload, asynq.MaxRetry(notificationMaxRetry))
	}
	s.runAsync(func() {
		if err := s.Dispatch(context.Background(), payload); err != nil {
			logger.Warnw("notification_dispatch_failed",
				"event_type", payload.EventType,
				"biz_id", payload.BizID,
				"error", err,
			)
		}
	})
	return nil
}

// Dispatch 处理通知分发任务
func (s *NotificationService) Dispatch(ctx context.Context, payload queue.NotificationDispatchPayload) error {
	if s == nil {
		return nil
	}
	eventType := strings.ToLower(strings.TrimSpace(payload.EventType))
	if !isNotificationEventSupported(eventType) {
		return fmt.Errorf("%w: %q", ErrInvalidNotification, payload.EventType)
	}
	recipient := strings.TrimSpace(fmt.Sprintf("%v", payload.Data["recipient"]))
	if recipient == "" || recipient == "<nil>" {
		return nil
	}
	if s.mailer == nil || !s.mailer.Enabled() {
		return nil
	}

	dedupeKey := buildNotificationDedupeKey(payload)
	ok, err := s.dedupe.Claim(ctx, dedupeKey, notificationDedupeTTL)
	if err != nil {
		logger.Warnw("notification_dedupe_failed", "event_type", eventType, "error", err)
	}
	if err == nil && !ok {
		return nil
	}
	claimed := err == nil

	switch eventType {
	case constants.NotificationEventConversionFlagged:
		err = s.mailer.SendFlaggedConversionEmail(recipient, FlaggedConversionEmailInput{
			ConversionID: payload.BizID,
			ProgramName:  notificationString(payload.Data, "program_name"),
			AffiliateID:  uint(notificationInt(payload.Data, "affiliate_id")),
			OrderID:      notificationString(payload.Data, "order_id"),
			OrderTotal:   notificationMoney(payload.Data, "order_total"),
			Currency:     notificationString(payload.Data, "currency"),
			FraudScore:   notificationInt(payload.Data, "fraud_score"),
		})
	case constants.NotificationEventPayoutReleased:
		err = s.mailer.SendPayoutReleasedEmail(recipient, PayoutReleasedEmailInput{
			PayoutID: payload.BizID,
			Amount:   notificationMoney(payload.Data, "amount"),
			Currency: notificationString(payload.Data, "currency"),
		})
	}
	if err != nil {
		logger.Warnw("notification_email_send_failed",
			"event_type", eventType,
			"biz_type", payload.BizType,
			"biz_id", payload.BizID,
			"recipient", recipient,
			"error", err,
		)
		if claimed {
			if releaseErr := s.dedupe.Release(ctx, dedupeKey); releaseErr != nil {
				logger.Warnw("notification_dedupe_release_failed", "event_type", eventType, "error", releaseErr)
			}
		}
		return err
	}
	return nil
}

func isNotificationEventSupported(eventType string) bool {
	switch eventType {
	case constants.NotificationEventConversionFlagged, constants.NotificationEventPayoutReleased:
		return true
	default:
		return false
	}
}

func buildNotificationDedupeKey(payload queue.NotificationDispatchPayload) string {
	signature := strings.Builder{}
	signature.WriteString(strings.ToLower(strings.TrimSpace(payload.EventType)))
	signature.WriteString("|")
	signature.WriteString(strings.ToLower(strings.TrimSpace(payload.BizType)))
	signature.WriteString("|")
	signature.WriteString(fmt.Sprintf("%d", payload.BizID))
	signature.WriteString("|")

	keys := make([]string, 0, len(payload.Data))
	for key := range payload.Data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		signature.WriteString(key)
		signature.WriteString("=")
		signature.WriteString(strings.TrimSpace(fmt.Sprintf("%v", payload.Data[key])))
		signature.WriteString(";")
	}
	hash := sha1.Sum([]byte(signature.String()))
	return "notification:dedupe:" + hex.EncodeToString(hash[:])
}

func notificationJSONToMap(data models.JSON) map[string]interface{} {
	result := make(map[string]interface{}, len(data)+1)
	for key, value := range data {
		result[key] = value
	}
	return result
}

func notificationString(data map[string]interface{}, key string) string {
	value, ok := data[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("%v", value))
}

func notificationInt(data map[string]interface{}, key string) int {
	value, ok := data[key]
	if !ok {
		return 0
	}
	parsed, err := parseSettingInt(value)
	if err != nil {
		return 0
	}
	return parsed
}

func notificationMoney(data map[string]interface{}, key string) models.Money {
	amount, err := decimal.NewFromString(notificationString(data, key))
	if err != nil {
		return models.Money{}
	}
	return models.NewMoneyFromDecimal(amount)
}
