package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/affiliflow/internal/authz"
	"github.com/affiliflow/internal/config"
	"github.com/affiliflow/internal/constants"
	"github.com/affiliflow/internal/logger"
	"github.com/affiliflow/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

func main() {
	// 连接数据库
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()
	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}, models.ParseLogLevel(cfg.Database.LogLevel)); err != nil {
		stdLog.Fatalf("Failed to connect database: %v", err)
	}

	// 自动迁移
	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("Failed to migrate database: %v", err)
	}

	// 商户
	merchant := models.Merchant{Name: "Demo Store", NotifyEmail: "risk@demo-store.example"}
	if err := models.DB.Where("name = ?", merchant.Name).FirstOrCreate(&merchant).Error; err != nil {
		stdLog.Fatalf("Failed to seed merchant: %v", err)
	}
	stdLog.Printf("Merchant ready: %s (id=%d)", merchant.Name, merchant.ID)

	// 推广计划
	programs := []models.Program{
		{
			MerchantID:           merchant.ID,
			Name:                 "demo-store-retail",
			DefaultCommissionPct: decimal.NewFromInt(8),
			AttributionModel:     constants.AttributionModelLastClick,
			Currency:             "USD",
			Status:               constants.ProgramStatusActive,
		},
		{
			MerchantID:           merchant.ID,
			Name:                 "demo-store-subscriptions",
			DefaultCommissionPct: decimal.NewFromInt(20),
			AttributionModel:     constants.AttributionModelLinear,
			Currency:             "USD",
			Status:               constants.ProgramStatusActive,
		},
	}
	for i := range programs {
		if err := models.DB.Where("merchant_id = ? AND name = ?", merchant.ID, programs[i].Name).FirstOrCreate(&programs[i]).Error; err != nil {
			stdLog.Fatalf("Failed to seed program %s: %v", programs[i].Name, err)
		}
		stdLog.Printf("Program ready: %s (id=%d, model=%s)", programs[i].Name, programs[i].ID, programs[i].AttributionModel)
	}
	retail := programs[0]

	// 推广者
	affiliates := []models.Affiliate{
		{Name: "alice", Email: "alice@partners.example", Status: constants.AffiliateStatusActive},
		{Name: "bob", Email: "bob@partners.example", Status: constants.AffiliateStatusActive},
	}
	for i := range affiliates {
		if err := models.DB.Where("email = ?", affiliates[i].Email).FirstOrCreate(&affiliates[i]).Error; err != nil {
			stdLog.Fatalf("Failed to seed affiliate %s: %v", affiliates[i].Name, err)
		}
		stdLog.Printf("Affiliate ready: %s (id=%d)", affiliates[i].Name, affiliates[i].ID)
	}

	// 佣金规则：alice 专属阶梯，计划通用固定额
	tierMax := decimal.NewFromInt(100)
	aliceID := affiliates[0].ID
	rules := []models.CommissionRule{
		{
			ProgramID:   retail.ID,
			AffiliateID: &aliceID,
			Type:        constants.CommissionRuleTypeTiered,
			Tiers: datatypes.JSONSlice[models.CommissionTier]{
				{Min: decimal.Zero, Max: &tierMax, Rate: decimal.NewFromInt(10)},
				{Min: tierMax, Rate: decimal.NewFromInt(15)},
			},
			Priority: 10,
		},
		{
			ProgramID: retail.ID,
			Type:      constants.CommissionRuleTypeFixed,
			Value:     decimal.NewNullDecimal(decimal.NewFromInt(5)),
			Priority:  1,
		},
	}
	for i := range rules {
		query := models.DB.Where("program_id = ? AND type = ? AND priority = ?", rules[i].ProgramID, rules[i].Type, rules[i].Priority)
		if err := query.FirstOrCreate(&rules[i]).Error; err != nil {
			stdLog.Printf("Failed to seed commission rule %s: %v", rules[i].Type, err)
			continue
		}
		stdLog.Printf("Commission rule ready: %s priority=%d (id=%d)", rules[i].Type, rules[i].Priority, rules[i].ID)
	}

	// Webhook 端点
	endpointURL := strings.TrimSpace(os.Getenv("AF_SEED_WEBHOOK_URL"))
	if endpointURL == "" {
		endpointURL = "http://127.0.0.1:9090/webhooks/affiliflow"
	}
	endpoint := models.WebhookEndpoint{
		MerchantID: merchant.ID,
		URL:        endpointURL,
		Secret:     "whsec_demo_change_me",
		Events: datatypes.JSONSlice[string]{
			constants.WebhookEventConversionCreated,
			constants.WebhookEventConversionFlagged,
			constants.WebhookEventPayoutApproved,
			constants.WebhookEventPayoutReleased,
			constants.WebhookEventPayoutRejected,
		},
		Status: constants.WebhookEndpointStatusActive,
	}
	if err := models.DB.Where("merchant_id = ? AND url = ?", merchant.ID, endpointURL).FirstOrCreate(&endpoint).Error; err != nil {
		stdLog.Printf("Failed to seed webhook endpoint: %v", err)
	} else {
		stdLog.Printf("Webhook endpoint ready: %s (id=%d)", endpoint.URL, endpoint.ID)
	}

	// 运营角色
	authzService, err := authz.NewService(models.DB)
	if err != nil {
		stdLog.Fatalf("Failed to init authz: %v", err)
	}
	if err := authzService.BootstrapBuiltinRoles(); err != nil {
		stdLog.Fatalf("Failed to bootstrap roles: %v", err)
	}
	if operatorID := strings.TrimSpace(os.Getenv("AF_SEED_OPERATOR_ID")); operatorID != "" {
		if err := authzService.SetOperatorRoles(operatorID, []string{"finance", "support"}); err != nil {
			stdLog.Printf("Failed to grant operator roles: %v", err)
		} else {
			stdLog.Printf("Operator %s granted finance + support", operatorID)
		}
	}

	fmt.Println("\nDemo data ready")
	fmt.Println("Summary:")
	fmt.Printf("- merchant %d with %d programs\n", merchant.ID, len(programs))
	fmt.Printf("- %d affiliates, %d commission rules\n", len(affiliates), len(rules))
	fmt.Println("- 1 webhook endpoint subscribed to every event")
}
