package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/affiliflow/internal/constants"
	"github.com/affiliflow/internal/logger"
	"github.com/affiliflow/internal/models"
	"github.com/affiliflow/internal/queue"
	"github.com/affiliflow/internal/repository"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultWebhookTimeout          = 10 * time.Second
	defaultWebhookMaxAutoAttempts  = 8
	defaultWebhookRetryBatchSize   = 100
	defaultWebhookSweepConcurrency = 4
	webhookStalePendingAfter       = 5 * time.Minute
	webhookMaxErrorLength          = 1024
	webhookMaxResponseDrain        = 64 << 10
)

var webhookBackoffSchedule = []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute}

// HTTPDoer 出站 HTTP 客户端
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookOptions 投递参数
type WebhookOptions struct {
	Timeout          time.Duration
	MaxAutoAttempts  int
	RetryBatchSize   int
	SweepConcurrency int
}

func (o WebhookOptions) normalized() WebhookOptions {
	if o.Timeout <= 0 {
		o.Timeout = defaultWebhookTimeout
	}
	if o.MaxAutoAttempts <= 0 {
		o.MaxAutoAttempts = defaultWebhookMaxAutoAttempts
	}
	if o.RetryBatchSize <= 0 {
		o.RetryBatchSize = defaultWebhookRetryBatchSize
	}
	if o.SweepConcurrency <= 0 {
		o.SweepConcurrency = defaultWebhookSweepConcurrency
	}
	return o
}

// WebhookService 商户 Webhook 事件分发与投递
type WebhookService struct {
	repo        repository.WebhookRepository
	queueClient *queue.Client
	httpClient  HTTPDoer
	opts        WebhookOptions
	clock       Clock
	runAsync    func(func())
	newEventID  func() string
}

// NewWebhookService 创建 Webhook 服务；httpClient 为空时使用带超时的默认客户端
func NewWebhookService(
	repo repository.WebhookRepository,
	queueClient *queue.Client,
	httpClient HTTPDoer,
	opts WebhookOptions,
	clock Clock,
) *WebhookService {
	opts = opts.normalized()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &WebhookService{
		repo:        repo,
		queueClient: queueClient,
		httpClient:  httpClient,
		opts:        opts,
		clock:       resolveClock(clock),
		runAsync:    runDetached,
		newEventID:  uuid.NewString,
	}
}

// IsWebhookEventSupported 判断是否为已知事件
func IsWebhookEventSupported(event string) bool {
	switch event {
	case constants.WebhookEventConversionCreated,
		constants.WebhookEventConversionFlagged,
		constants.WebhookEventPayoutApproved,
		constants.WebhookEventPayoutReleased,
		constants.WebhookEventPayoutRejected:
		return true
	default:
		return false
	}
}

// Dispatch 向商户所有订阅该事件的启用端点各写入一条 pending 投递并异步投递，调用方不等待结果
func (s *WebhookService) Dispatch(ctx context.Context, merchantID uint, event string, payload map[string]interface{}) ([]models.WebhookDelivery, error) {
	event = strings.ToLower(strings.TrimSpace(event))
	if !IsWebhookEventSupported(event) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidWebhookEvent, event)
	}
	if merchantID == 0 {
		return nil, fmt.Errorf("%w: merchant_id is required", ErrInvalidWebhookEvent)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhookEvent, err)
	}

	endpoints, err := s.repo.WithContext(ctx).ListActiveEndpointsByMerchant(merchantID)
	if err != nil {
		return nil, storeError("list webhook endpoints", err)
	}
	eventID := s.newEventID()
	deliveries := make([]models.WebhookDelivery, 0, len(endpoints))
	for _, endpoint := range endpoints {
		if !endpoint.Subscribes(event) {
			continue
		}
		deliveries = append(deliveries, models.WebhookDelivery{
			EndpointID: endpoint.ID,
			EventID:    eventID,
			Event:      event,
			Payload:    datatypes.JSON(body),
			Status:     constants.WebhookDeliveryStatusPending,
		})
	}
	if len(deliveries) == 0 {
		return deliveries, nil
	}
	if err := s.repo.WithContext(ctx).CreateDeliveries(deliveries); err != nil {
		return nil, storeError("create webhook deliveries", err)
	}
	for _, delivery := range deliveries {
		s.schedule(delivery.ID, delivery.Attempts+1)
	}
	return deliveries, nil
}

// schedule 有队列时入队，否则后台直接投递；入队失败的 pending 记录由重试巡检补投
func (s *WebhookService) schedule(deliveryID uint, attempt int) {
	if s.queueClient != nil && s.queueClient.Enabled() {
		if err := s.queueClient.EnqueueWebhookDeliver(queue.WebhookDeliverPayload{DeliveryID: deliveryID, Attempt: attempt}); err != nil {
			logger.Warnw("webhook_enqueue_failed", "delivery_id", deliveryID, "attempt", attempt, "error", err)
		}
		return
	}
	s.runAsync(func() {
		if _, err := s.AttemptDelivery(context.Background(), deliveryID); err != nil {
			logger.Warnw("webhook_attempt_failed", "delivery_id", deliveryID, "error", err)
		}
	})
}

// AttemptDelivery 投递一次并记录结果；对端失败不返回错误，只写入 failed 与下次重试时间
func (s *WebhookService) AttemptDelivery(ctx context.Context, deliveryID uint) (*models.WebhookDelivery, error) {
	repo := s.repo.WithContext(ctx)
	delivery, err := repo.GetDeliveryByID(deliveryID)
	if err != nil {
		return nil, storeError("get webhook delivery", err)
	}
	if delivery == nil {
		return nil, ErrDeliveryNotFound
	}
	if delivery.Status == constants.WebhookDeliveryStatusDelivered {
		return delivery, nil
	}
	if delivery.Endpoint.ID == 0 {
		return nil, ErrEndpointNotFound
	}

	statusCode, sendErr := s.send(ctx, delivery.Endpoint.URL, delivery.Endpoint.Secret, delivery.EventID, delivery.Event, []byte(delivery.Payload))
	now := s.clock()
	attempts := delivery.Attempts + 1
	updates := map[string]interface{}{
		"attempts":   gorm.Expr("attempts + ?", 1),
		"updated_at": now,
	}
	if statusCode > 0 {
		updates["status_code"] = statusCode
		delivery.StatusCode = &statusCode
	}
	if sendErr == nil {
		updates["status"] = constants.WebhookDeliveryStatusDelivered
		updates["delivered_at"] = now
		updates["next_retry_at"] = nil
		updates["last_error"] = ""
		delivery.Status = constants.WebhookDeliveryStatusDelivered
		delivery.DeliveredAt = &now
		delivery.NextRetryAt = nil
		delivery.LastError = ""
	} else {
		nextRetryAt := now.Add(BackoffForAttempt(attempts))
		lastError := truncateString(sendErr.Error(), webhookMaxErrorLength)
		updates["status"] = constants.WebhookDeliveryStatusFailed
		updates["last_error"] = lastError
		updates["next_retry_at"] = nextRetryAt
		delivery.Status = constants.WebhookDeliveryStatusFailed
		delivery.LastError = lastError
		delivery.NextRetryAt = &nextRetryAt
		logger.Warnw("webhook_delivery_failed",
			"delivery_id", delivery.ID,
			"endpoint_id", delivery.EndpointID,
			"event", delivery.Event,
			"attempts", attempts,
			"status_code", statusCode,
			"error", sendErr,
		)
	}
	if err := repo.UpdateDelivery(delivery.ID, updates); err != nil {
		return nil, storeError("update webhook delivery", err)
	}
	delivery.Attempts = attempts
	delivery.UpdatedAt = now
	return delivery, nil
}

func (s *WebhookService) send(ctx context.Context, url, secret, eventID, event string, body []byte) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	timestamp := s.clock().Unix()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(constants.WebhookHeaderEvent, event)
	req.Header.Set(constants.WebhookHeaderTimestamp, strconv.FormatInt(timestamp, 10))
	req.Header.Set(constants.WebhookHeaderSignature, SignWebhookPayload(secret, timestamp, body))
	req.Header.Set(constants.WebhookHeaderID, eventID)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, webhookMaxResponseDrain))
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// RetryDelivery 运营手动重试：重置为 pending 后立即同步投递，不受 next_retry_at 限制
func (s *WebhookService) RetryDelivery(ctx context.Context, deliveryID uint) (*models.WebhookDelivery, error) {
	repo := s.repo.WithContext(ctx)
	delivery, err := repo.GetDeliveryByID(deliveryID)
	if err != nil {
		return nil, storeError("get webhook delivery", err)
	}
	if delivery == nil {
		return nil, ErrDeliveryNotFound
	}
	if err := repo.UpdateDelivery(delivery.ID, map[string]interface{}{
		"status":        constants.WebhookDeliveryStatusPending,
		"last_error":    "",
		"next_retry_at": nil,
		"updated_at":    s.clock(),
	}); err != nil {
		return nil, storeError("reset webhook delivery", err)
	}
	return s.AttemptDelivery(ctx, delivery.ID)
}

// SweepDueRetries 补投到期的失败投递与滞留的 pending 投递，返回处理条数
func (s *WebhookService) SweepDueRetries(ctx context.Context) (int, error) {
	now := s.clock()
	rows, err := s.repo.WithContext(ctx).ListDueRetries(now, now.Add(-webhookStalePendingAfter), s.opts.MaxAutoAttempts, s.opts.RetryBatchSize)
	if err != nil {
		return 0, storeError("list due webhook retries", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	queued := s.queueClient != nil && s.queueClient.Enabled()
	var group errgroup.Group
	group.SetLimit(s.opts.SweepConcurrency)
	for _, row := range rows {
		row := row
		group.Go(func() error {
			if queued {
				return s.queueClient.EnqueueWebhookDeliver(queue.WebhookDeliverPayload{DeliveryID: row.ID, Attempt: row.Attempts + 1})
			}
			_, err := s.AttemptDelivery(ctx, row.ID)
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return len(rows), err
	}
	return len(rows), nil
}

// GetDelivery 获取投递记录
func (s *WebhookService) GetDelivery(ctx context.Context, deliveryID uint) (*models.WebhookDelivery, error) {
	delivery, err := s.repo.WithContext(ctx).GetDeliveryByID(deliveryID)
	if err != nil {
		return nil, storeError("get webhook delivery", err)
	}
	if delivery == nil {
		return nil, ErrDeliveryNotFound
	}
	return delivery, nil
}

// ListDeliveries 分页查询投递记录
func (s *WebhookService) ListDeliveries(ctx context.Context, filter repository.WebhookDeliveryListFilter) ([]models.WebhookDelivery, int64, error) {
	rows, total, err := s.repo.WithContext(ctx).ListDeliveries(filter)
	if err != nil {
		return nil, 0, storeError("list webhook deliveries", err)
	}
	return rows, total, nil
}

// BackoffForAttempt 第 n 次失败后的等待时长：1 分钟、5 分钟，之后固定 30 分钟
func BackoffForAttempt(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > len(webhookBackoffSchedule) {
		attempts = len(webhookBackoffSchedule)
	}
	return webhookBackoffSchedule[attempts-1]
}

// SignWebhookPayload 计算签名头：sha256=hex(HMAC-SHA256(secret, "{timestamp}.{body}"))
func SignWebhookPayload(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return constants.WebhookSignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature 接收方校验签名
func VerifyWebhookSignature(secret, timestamp string, body []byte, signature string) bool {
	ts, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return false
	}
	expected := SignWebhookPayload(secret, ts, body)
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}
