package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/affiliflow/internal/config"
	"github.com/affiliflow/internal/constants"
	"github.com/affiliflow/internal/models"
	"github.com/affiliflow/internal/provider"
	"github.com/affiliflow/internal/queue"
	"github.com/affiliflow/internal/repository"
	"github.com/affiliflow/internal/service"

	"github.com/glebarez/sqlite"
	"github.com/hibiken/asynq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type deliverFixture struct {
	db       *gorm.DB
	consumer *Consumer
	hits     *int32
	status   *int32
	delivery models.WebhookDelivery
}

func setupDeliverTest(t *testing.T) *deliverFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:worker_deliver_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}

	var hits int32
	status := int32(http.StatusOK)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(int(atomic.LoadInt32(&status)))
	}))
	t.Cleanup(server.Close)

	endpoint := models.WebhookEndpoint{
		MerchantID: 1,
		URL:        server.URL,
		Secret:     "whsec_worker",
		Events:     datatypes.JSONSlice[string]{constants.WebhookEventConversionCreated},
		Status:     constants.WebhookEndpointStatusActive,
	}
	if err := db.Create(&endpoint).Error; err != nil {
		t.Fatalf("create endpoint failed: %v", err)
	}
	delivery := models.WebhookDelivery{
		EndpointID: endpoint.ID,
		EventID:    "evt-worker-1",
		Event:      constants.WebhookEventConversionCreated,
		Payload:    datatypes.JSON(`{"conversion_id":1}`),
		Status:     constants.WebhookDeliveryStatusPending,
	}
	if err := db.Create(&delivery).Error; err != nil {
		t.Fatalf("create delivery failed: %v", err)
	}

	webhookService := service.NewWebhookService(repository.NewWebhookRepository(db), nil, server.Client(), service.WebhookOptions{
		Timeout:          2 * time.Second,
		SweepConcurrency: 1,
	}, nil)
	container := &provider.Container{
		Config:              &config.Config{},
		WebhookService:      webhookService,
		NotificationService: service.NewNotificationService(nil, nil),
	}
	return &deliverFixture{
		db:       db,
		consumer: NewConsumer(container),
		hits:     &hits,
		status:   &status,
		delivery: delivery,
	}
}

func (f *deliverFixture) reload(t *testing.T) models.WebhookDelivery {
	t.Helper()
	var row models.WebhookDelivery
	if err := f.db.First(&row, f.delivery.ID).Error; err != nil {
		t.Fatalf("reload delivery failed: %v", err)
	}
	return row
}

func deliverTask(t *testing.T, deliveryID uint, attempt int) *asynq.Task {
	t.Helper()
	task, err := queue.NewWebhookDeliverTask(queue.WebhookDeliverPayload{DeliveryID: deliveryID, Attempt: attempt})
	if err != nil {
		t.Fatalf("build task failed: %v", err)
	}
	return task
}

func TestHandleWebhookDeliverDeliversOnce(t *testing.T) {
	f := setupDeliverTest(t)

	task := deliverTask(t, f.delivery.ID, 1)
	if err := f.consumer.handleWebhookDeliver(context.Background(), task); err != nil {
		t.Fatalf("handle deliver failed: %v", err)
	}
	row := f.reload(t)
	if row.Status != constants.WebhookDeliveryStatusDelivered || row.Attempts != 1 {
		t.Fatalf("want delivered after 1 attempt, got status=%s attempts=%d", row.Status, row.Attempts)
	}

	// 同序号任务重复投递时跳过
	if err := f.consumer.handleWebhookDeliver(context.Background(), task); err != nil {
		t.Fatalf("handle duplicate deliver failed: %v", err)
	}
	if hits := atomic.LoadInt32(f.hits); hits != 1 {
		t.Fatalf("receiver hits want 1 got %d", hits)
	}
}

func TestHandleWebhookDeliverRecordsFailureWithoutError(t *testing.T) {
	f := setupDeliverTest(t)
	atomic.StoreInt32(f.status, http.StatusBadGateway)

	if err := f.consumer.handleWebhookDeliver(context.Background(), deliverTask(t, f.delivery.ID, 1)); err != nil {
		t.Fatalf("endpoint failure should not surface as task error: %v", err)
	}
	row := f.reload(t)
	if row.Status != constants.WebhookDeliveryStatusFailed || row.NextRetryAt == nil {
		t.Fatalf("want failed with next retry, got status=%s next=%v", row.Status, row.NextRetryAt)
	}
	if row.StatusCode == nil || *row.StatusCode != http.StatusBadGateway {
		t.Fatalf("status_code want 502 got %v", row.StatusCode)
	}
}

func TestHandleWebhookDeliverSkipsUnknownDelivery(t *testing.T) {
	f := setupDeliverTest(t)
	if err := f.consumer.handleWebhookDeliver(context.Background(), deliverTask(t, f.delivery.ID+100, 1)); err != nil {
		t.Fatalf("unknown delivery should be skipped: %v", err)
	}
	if hits := atomic.LoadInt32(f.hits); hits != 0 {
		t.Fatalf("receiver hits want 0 got %d", hits)
	}
}

func TestHandlersSkipRetryOnBadPayload(t *testing.T) {
	f := setupDeliverTest(t)

	err := f.consumer.handleWebhookDeliver(context.Background(), asynq.NewTask(queue.TaskWebhookDeliver, []byte("{bad")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("bad deliver payload should skip retry, got %v", err)
	}

	task, err := queue.NewNotificationDispatchTask(queue.NotificationDispatchPayload{EventType: "order_paid", BizID: 1})
	if err != nil {
		t.Fatalf("build notification task failed: %v", err)
	}
	err = f.consumer.handleNotificationDispatch(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("unknown notification event should skip retry, got %v", err)
	}
}

func TestIsStaleDeliverTask(t *testing.T) {
	cases := []struct {
		recorded int
		attempt  int
		want     bool
	}{
		{recorded: 0, attempt: 1, want: false},
		{recorded: 1, attempt: 1, want: true},
		{recorded: 3, attempt: 2, want: true},
		{recorded: 2, attempt: 3, want: false},
		{recorded: 5, attempt: 0, want: false},
	}
	for _, tc := range cases {
		if got := isStaleDeliverTask(tc.recorded, tc.attempt); got != tc.want {
			t.Fatalf("isStaleDeliverTask(%d, %d) want %v got %v", tc.recorded, tc.attempt, tc.want, got)
		}
	}
}
