package repository

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/affiliflow/internal/constants"
	"github.com/affiliflow/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func setupRepositoryTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		t.Fatalf("migrate models failed: %v", err)
	}
	return db
}

func TestAffiliateStatIncrementsAccumulatePerRow(t *testing.T) {
	db := setupRepositoryTest(t)
	repo := NewAffiliateStatRepository(db)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := repo.IncrementConversions(7, 1, now); err != nil {
			t.Fatalf("increment conversions failed: %v", err)
		}
	}
	if err := repo.IncrementEarnings(7, decimal.RequireFromString("12.50"), now); err != nil {
		t.Fatalf("increment earnings failed: %v", err)
	}
	if err := repo.IncrementEarnings(7, decimal.RequireFromString("7.25"), now); err != nil {
		t.Fatalf("increment earnings failed: %v", err)
	}
	if err := repo.IncrementEarnings(7, decimal.RequireFromString("-2.00"), now); err != nil {
		t.Fatalf("reverse earnings failed: %v", err)
	}

	stat, err := repo.GetByAffiliate(7)
	if err != nil {
		t.Fatalf("get stat failed: %v", err)
	}
	if stat == nil {
		t.Fatalf("expected stat row")
	}
	if stat.ConversionCount != 3 {
		t.Fatalf("conversion count want 3 got %d", stat.ConversionCount)
	}
	if !stat.TotalEarnings.Decimal.Equal(decimal.RequireFromString("17.75")) {
		t.Fatalf("total earnings want 17.75 got %s", stat.TotalEarnings.String())
	}
}

func TestListTouchPointsBySessionOrdersByCreatedAt(t *testing.T) {
	db := setupRepositoryTest(t)
	repo := NewTrackingRepository(db)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := []models.TouchPoint{
		{SessionID: "s1", ProgramID: 1, AffiliateID: 3, Type: constants.TouchPointTypeView, CreatedAt: base.Add(2 * time.Minute)},
		{SessionID: "s1", ProgramID: 1, AffiliateID: 1, Type: constants.TouchPointTypeClick, CreatedAt: base},
		{SessionID: "s1", ProgramID: 2, AffiliateID: 9, Type: constants.TouchPointTypeClick, CreatedAt: base},
		{SessionID: "s2", ProgramID: 1, AffiliateID: 5, Type: constants.TouchPointTypeClick, CreatedAt: base},
		{SessionID: "s1", ProgramID: 1, AffiliateID: 2, Type: constants.TouchPointTypeClick, CreatedAt: base.Add(time.Minute)},
	}
	for i := range rows {
		if err := repo.CreateTouchPoint(&rows[i]); err != nil {
			t.Fatalf("create touch point failed: %v", err)
		}
	}

	list, err := repo.ListTouchPointsBySession("s1", 1)
	if err != nil {
		t.Fatalf("list touch points failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("want 3 touch points got %d", len(list))
	}
	for i, want := range []uint{1, 2, 3} {
		if list[i].AffiliateID != want {
			t.Fatalf("index %d want affiliate %d got %d", i, want, list[i].AffiliateID)
		}
	}
}

func TestCommissionRuleListActiveFiltersWindowAndAffiliate(t *testing.T) {
	db := setupRepositoryTest(t)
	repo := NewCommissionRuleRepository(db)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	affiliateID := uint(5)
	otherAffiliate := uint(6)

	rules := []models.CommissionRule{
		{ProgramID: 1, Type: constants.CommissionRuleTypePercentage, Priority: 1},
		{ProgramID: 1, AffiliateID: &affiliateID, Type: constants.CommissionRuleTypePercentage, Priority: 1},
		{ProgramID: 1, AffiliateID: &otherAffiliate, Type: constants.CommissionRuleTypePercentage, Priority: 1},
		{ProgramID: 1, Type: constants.CommissionRuleTypePercentage, StartsAt: &future},
		{ProgramID: 1, Type: constants.CommissionRuleTypePercentage, ExpiresAt: &past},
		{ProgramID: 1, Type: constants.CommissionRuleTypePercentage, StartsAt: &past, ExpiresAt: &future},
		{ProgramID: 2, Type: constants.CommissionRuleTypePercentage},
	}
	for i := range rules {
		if err := repo.Create(&rules[i]); err != nil {
			t.Fatalf("create rule failed: %v", err)
		}
	}

	active, err := repo.ListActive(1, affiliateID, now)
	if err != nil {
		t.Fatalf("list active failed: %v", err)
	}
	if len(active) != 3 {
		t.Fatalf("want 3 active rules got %d", len(active))
	}
	for _, rule := range active {
		if rule.AffiliateID != nil && *rule.AffiliateID != affiliateID {
			t.Fatalf("unexpected affiliate-specific rule %d", rule.ID)
		}
	}
}

func TestListDueRetriesPicksDueFailedAndStalePending(t *testing.T) {
	db := setupRepositoryTest(t)
	repo := NewWebhookRepository(db)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	due := now.Add(-time.Minute)
	later := now.Add(time.Minute)

	active := &models.WebhookEndpoint{MerchantID: 1, URL: "https://a.example", Secret: "s", Events: datatypes.NewJSONSlice([]string{"conversion.created"}), Status: constants.WebhookEndpointStatusActive}
	paused := &models.WebhookEndpoint{MerchantID: 1, URL: "https://b.example", Secret: "s", Events: datatypes.NewJSONSlice([]string{"conversion.created"}), Status: constants.WebhookEndpointStatusPaused}
	for _, endpoint := range []*models.WebhookEndpoint{active, paused} {
		if err := repo.CreateEndpoint(endpoint); err != nil {
			t.Fatalf("create endpoint failed: %v", err)
		}
	}

	deliveries := []models.WebhookDelivery{
		{EndpointID: active.ID, EventID: "e1", Event: "conversion.created", Status: constants.WebhookDeliveryStatusFailed, Attempts: 1, NextRetryAt: &due},
		{EndpointID: active.ID, EventID: "e2", Event: "conversion.created", Status: constants.WebhookDeliveryStatusFailed, Attempts: 1, NextRetryAt: &later},
		{EndpointID: active.ID, EventID: "e3", Event: "conversion.created", Status: constants.WebhookDeliveryStatusFailed, Attempts: 8, NextRetryAt: &due},
		{EndpointID: paused.ID, EventID: "e4", Event: "conversion.created", Status: constants.WebhookDeliveryStatusFailed, Attempts: 1, NextRetryAt: &due},
		{EndpointID: active.ID, EventID: "e5", Event: "conversion.created", Status: constants.WebhookDeliveryStatusDelivered, Attempts: 1},
		{EndpointID: active.ID, EventID: "e6", Event: "conversion.created", Status: constants.WebhookDeliveryStatusPending, UpdatedAt: now.Add(-time.Hour)},
		{EndpointID: active.ID, EventID: "e7", Event: "conversion.created", Status: constants.WebhookDeliveryStatusPending, UpdatedAt: now},
	}
	if err := repo.CreateDeliveries(deliveries); err != nil {
		t.Fatalf("create deliveries failed: %v", err)
	}

	rows, err := repo.ListDueRetries(now, now.Add(-5*time.Minute), 8, 10)
	if err != nil {
		t.Fatalf("list due retries failed: %v", err)
	}
	if len(rows) != 2 || rows[0].EventID != "e1" || rows[1].EventID != "e6" {
		t.Fatalf("want e1 and stale pending e6, got %+v", rows)
	}
}

func TestPayoutUpdateFromStatusIsOptimistic(t *testing.T) {
	db := setupRepositoryTest(t)
	repo := NewPayoutRepository(db)
	payout := &models.Payout{
		AffiliateID: 1,
		ProgramID:   1,
		Amount:      models.NewMoneyFromDecimal(decimal.NewFromInt(10)),
		Currency:    "USD",
		Status:      constants.PayoutStatusOnHold,
	}
	if err := repo.Create(payout); err != nil {
		t.Fatalf("create payout failed: %v", err)
	}

	ok, err := repo.UpdateFromStatus(payout.ID, constants.PayoutStatusApproved, map[string]interface{}{"status": constants.PayoutStatusReleased})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if ok {
		t.Fatalf("expected stale status update to miss")
	}
	ok, err = repo.UpdateFromStatus(payout.ID, constants.PayoutStatusOnHold, map[string]interface{}{"status": constants.PayoutStatusApproved})
	if err != nil || !ok {
		t.Fatalf("expected update to hit, ok=%v err=%v", ok, err)
	}
}
