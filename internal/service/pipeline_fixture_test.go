package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/affiliflow/internal/constants"
	"github.com/affiliflow/internal/models"
	"github.com/affiliflow/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type dispatchedEvent struct {
	merchantID uint
	event      string
	payload    map[string]interface{}
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []dispatchedEvent
	err    error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, merchantID uint, event string, payload map[string]interface{}) ([]models.WebhookDelivery, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, dispatchedEvent{merchantID: merchantID, event: event, payload: payload})
	return nil, d.err
}

func (d *recordingDispatcher) names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.events))
	for _, item := range d.events {
		names = append(names, item.event)
	}
	return names
}

type recordingNotifier struct {
	mu     sync.Mutex
	inputs []NotificationEnqueueInput
}

func (n *recordingNotifier) Notify(_ context.Context, input NotificationEnqueueInput) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inputs = append(n.inputs, input)
}

type pipelineFixture struct {
	db          *gorm.DB
	now         time.Time
	dispatcher  *recordingDispatcher
	notifier    *recordingNotifier
	tracking    *TrackingService
	conversions *ConversionService
	payouts     *PayoutService
	settings    *SettingService
	merchant    models.Merchant
	program     models.Program
	affiliate   models.Affiliate
}

func (f *pipelineFixture) clock() time.Time {
	return f.now
}

func setupPipelineTest(t *testing.T) *pipelineFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:pipeline_service_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}

	f := &pipelineFixture{
		db:         db,
		now:        time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
		dispatcher: &recordingDispatcher{},
		notifier:   &recordingNotifier{},
	}
	f.merchant = models.Merchant{Name: "acme", NotifyEmail: "risk@acme.example"}
	if err := db.Create(&f.merchant).Error; err != nil {
		t.Fatalf("create merchant failed: %v", err)
	}
	f.program = models.Program{
		MerchantID:           f.merchant.ID,
		Name:                 "acme-spring",
		DefaultCommissionPct: decimal.NewFromInt(8),
		AttributionModel:     constants.AttributionModelLastClick,
		Currency:             "USD",
		Status:               constants.ProgramStatusActive,
	}
	if err := db.Create(&f.program).Error; err != nil {
		t.Fatalf("create program failed: %v", err)
	}
	f.affiliate = models.Affiliate{Name: "alice", Email: "alice@example.com", Status: constants.AffiliateStatusActive}
	if err := db.Create(&f.affiliate).Error; err != nil {
		t.Fatalf("create affiliate failed: %v", err)
	}

	conversionRepo := repository.NewConversionRepository(db)
	trackingRepo := repository.NewTrackingRepository(db)
	programRepo := repository.NewProgramRepository(db)
	payoutRepo := repository.NewPayoutRepository(db)
	statRepo := repository.NewAffiliateStatRepository(db)

	f.settings = NewSettingService(repository.NewSettingRepository(db), PipelineSetting{HoldDays: 7})
	fraud := NewFraudEvaluator(conversionRepo, trackingRepo, DefaultFraudLimits())
	f.tracking = NewTrackingService(trackingRepo, programRepo, fraud, f.clock)
	f.conversions = NewConversionService(
		conversionRepo,
		trackingRepo,
		programRepo,
		payoutRepo,
		statRepo,
		fraud,
		NewCommissionResolver(repository.NewCommissionRuleRepository(db)),
		f.settings,
		f.dispatcher,
		f.notifier,
		f.clock,
	)
	f.payouts = NewPayoutService(payoutRepo, statRepo, programRepo, f.settings, f.dispatcher, f.notifier, f.clock)
	return f
}

func (f *pipelineFixture) seedConversions(t *testing.T, affiliateID uint, count int, createdAt time.Time) {
	t.Helper()
	for i := 0; i < count; i++ {
		row := models.Conversion{
			ProgramID:   f.program.ID,
			AffiliateID: affiliateID,
			OrderID:     fmt.Sprintf("seed-%d-%d", affiliateID, i),
			OrderTotal:  models.NewMoneyFromDecimal(decimal.NewFromInt(10)),
			Currency:    "USD",
			Status:      constants.ConversionStatusPendingVerification,
			CreatedAt:   createdAt,
		}
		if err := f.db.Create(&row).Error; err != nil {
			t.Fatalf("seed conversion failed: %v", err)
		}
	}
}

func (f *pipelineFixture) createClick(t *testing.T, ip string, createdAt time.Time) models.Click {
	t.Helper()
	click := models.Click{
		LinkID:      1,
		AffiliateID: f.affiliate.ID,
		ProgramID:   f.program.ID,
		IPAddress:   ip,
		CreatedAt:   createdAt,
	}
	if err := f.db.Create(&click).Error; err != nil {
		t.Fatalf("create click failed: %v", err)
	}
	return click
}

func (f *pipelineFixture) affiliateStat(t *testing.T, affiliateID uint) models.AffiliateStat {
	t.Helper()
	var stat models.AffiliateStat
	err := f.db.Where("affiliate_id = ?", affiliateID).First(&stat).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		t.Fatalf("load stat failed: %v", err)
	}
	return stat
}

func (f *pipelineFixture) countPayouts(t *testing.T) int64 {
	t.Helper()
	var total int64
	if err := f.db.Model(&models.Payout{}).Count(&total).Error; err != nil {
		t.Fatalf("count payouts failed: %v", err)
	}
	return total
}
