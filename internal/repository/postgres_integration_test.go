//go:build integration
// +build integration

package repository

import (
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/affiliflow/internal/constants"
	"github.com/affiliflow/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// setupPostgresIntegrationDB 初始化 PostgreSQL 集成测试数据库。
func setupPostgresIntegrationDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("skip postgres integration test: TEST_POSTGRES_DSN is empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open postgres failed: %v", err)
	}

	cleanupModels := models.AllModels()
	_ = db.Migrator().DropTable(cleanupModels...)

	if err := db.AutoMigrate(cleanupModels...); err != nil {
		t.Fatalf("migrate postgres models failed: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Migrator().DropTable(cleanupModels...)
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})

	return db
}

func TestPostgresConversionUniqueProgramOrder(t *testing.T) {
	db := setupPostgresIntegrationDB(t)
	repo := NewConversionRepository(db)

	first := &models.Conversion{
		ProgramID:   1,
		AffiliateID: 2,
		OrderID:     "ord-1",
		OrderTotal:  models.NewMoneyFromDecimal(decimal.NewFromInt(100)),
		Currency:    "USD",
		Status:      constants.ConversionStatusPendingVerification,
	}
	if err := repo.Create(first); err != nil {
		t.Fatalf("create conversion failed: %v", err)
	}
	dup := *first
	dup.ID = 0
	if err := repo.Create(&dup); err == nil {
		t.Fatalf("expected unique violation for duplicated program order")
	}

	other := *first
	other.ID = 0
	other.ProgramID = 9
	if err := repo.Create(&other); err != nil {
		t.Fatalf("same order id on another program should pass: %v", err)
	}

	got, err := repo.GetByProgramOrder(1, "ord-1")
	if err != nil || got == nil || got.ID != first.ID {
		t.Fatalf("get by program order mismatch: %+v err=%v", got, err)
	}
}

func TestPostgresAffiliateStatConcurrentIncrements(t *testing.T) {
	db := setupPostgresIntegrationDB(t)
	repo := NewAffiliateStatRepository(db)
	now := time.Now()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.IncrementConversions(3, 1, now); err != nil {
				errs <- err
				return
			}
			if err := repo.IncrementEarnings(3, decimal.RequireFromString("1.25"), now); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent increment failed: %v", err)
	}

	stat, err := repo.GetByAffiliate(3)
	if err != nil || stat == nil {
		t.Fatalf("get stat failed: %v", err)
	}
	if stat.ConversionCount != 20 {
		t.Fatalf("conversion count want 20 got %d", stat.ConversionCount)
	}
	if !stat.TotalEarnings.Decimal.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("total earnings want 25 got %s", stat.TotalEarnings.String())
	}
}

func TestPostgresPayoutTransitionLocksRow(t *testing.T) {
	db := setupPostgresIntegrationDB(t)
	repo := NewPayoutRepository(db)
	payout := &models.Payout{
		AffiliateID: 1,
		ProgramID:   1,
		Amount:      models.NewMoneyFromDecimal(decimal.NewFromInt(40)),
		Currency:    "USD",
		Status:      constants.PayoutStatusOnHold,
	}
	if err := repo.Create(payout); err != nil {
		t.Fatalf("create payout failed: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	hits := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = repo.Transaction(func(tx *gorm.DB) error {
				txRepo := repo.WithTx(tx)
				locked, err := txRepo.GetByIDForUpdate(payout.ID)
				if err != nil || locked == nil || locked.Status != constants.PayoutStatusOnHold {
					return err
				}
				ok, err := txRepo.UpdateFromStatus(payout.ID, constants.PayoutStatusOnHold, map[string]interface{}{
					"status": constants.PayoutStatusApproved,
				})
				if err != nil {
					return err
				}
				if ok {
					mu.Lock()
					hits++
					mu.Unlock()
				}
				return nil
			})
		}()
	}
	wg.Wait()

	if hits != 1 {
		t.Fatalf("exactly one transition should win, got %d", hits)
	}
	stored, err := repo.GetByID(payout.ID)
	if err != nil || stored == nil || stored.Status != constants.PayoutStatusApproved {
		t.Fatalf("payout should be approved: %+v err=%v", stored, err)
	}
}
