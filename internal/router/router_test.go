package router

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/affiliflow/internal/config"
	"github.com/affiliflow/internal/constants"
	"github.com/affiliflow/internal/models"
	"github.com/affiliflow/internal/provider"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	gormlogger "gorm.io/gorm/logger"
)

type routerEnvelope struct {
	StatusCode int             `json:"status_code"`
	Msg        string          `json:"msg"`
	Data       json.RawMessage `json:"data"`
	Pagination struct {
		Total int64 `json:"total"`
	} `json:"pagination"`
}

type routerFixture struct {
	engine    *gin.Engine
	program   models.Program
	affiliate models.Affiliate
	finance   string
	auditor   string
}

func setupRouterTest(t *testing.T) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:router_api_%d?mode=memory&cache=shared", time.Now().UnixNano())
	if err := models.InitDB("sqlite", dsn, models.DBPoolConfig{}, gormlogger.Silent); err != nil {
		t.Fatalf("init db failed: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}

	merchant := models.Merchant{Name: "acme", NotifyEmail: "risk@acme.example"}
	if err := models.DB.Create(&merchant).Error; err != nil {
		t.Fatalf("create merchant failed: %v", err)
	}
	program := models.Program{
		MerchantID:           merchant.ID,
		Name:                 "acme-router",
		DefaultCommissionPct: decimal.NewFromInt(10),
		AttributionModel:     constants.AttributionModelLastClick,
		Currency:             "USD",
		Status:               constants.ProgramStatusActive,
	}
	if err := models.DB.Create(&program).Error; err != nil {
		t.Fatalf("create program failed: %v", err)
	}
	affiliate := models.Affiliate{Name: "bob", Email: "bob@example.com", Status: constants.AffiliateStatusActive}
	if err := models.DB.Create(&affiliate).Error; err != nil {
		t.Fatalf("create affiliate failed: %v", err)
	}

	cfg := &config.Config{}
	cfg.Server.Mode = "debug"
	cfg.OperatorAuth.Secret = testOperatorSecret
	cfg.Pipeline.HoldDays = 7
	container := provider.NewContainer(cfg)

	return &routerFixture{
		engine:    SetupRouter(cfg, container),
		program:   program,
		affiliate: affiliate,
		finance:   "Bearer " + signOperatorToken(t, testOperatorSecret, operatorClaims("op-finance", "", time.Hour, "finance")),
		auditor:   "Bearer " + signOperatorToken(t, testOperatorSecret, operatorClaims("op-audit", "", time.Hour, "readonly_auditor")),
	}
}

func (f *routerFixture) do(t *testing.T, method, path, auth, body string) routerEnvelope {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	req.RemoteAddr = "203.0.113.7:4000"
	f.engine.ServeHTTP(w, req)
	var env routerEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: unmarshal response failed: %v body=%s", method, path, err, w.Body.String())
	}
	return env
}

func TestRouterConversionToPayoutFlow(t *testing.T) {
	f := setupRouterTest(t)

	body := fmt.Sprintf(`{"program_id":%d,"affiliate_id":%d,"order_id":"ord-1001","order_total":"120.00","currency":"usd"}`, f.program.ID, f.affiliate.ID)
	env := f.do(t, http.MethodPost, "/api/v1/conversions", "", body)
	if env.StatusCode != 0 {
		t.Fatalf("ingest status_code want 0 got %d msg=%s", env.StatusCode, env.Msg)
	}
	var result struct {
		ConversionID uint   `json:"conversion_id"`
		Status       string `json:"status"`
		PayoutID     *uint  `json:"payout_id"`
	}
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("unmarshal ingest result failed: %v", err)
	}
	if result.Status != constants.ConversionStatusPendingVerification || result.PayoutID == nil {
		t.Fatalf("unexpected ingest result: %+v", result)
	}

	env = f.do(t, http.MethodGet, "/api/v1/admin/payouts?page=1&page_size=10", f.auditor, "")
	if env.StatusCode != 0 || env.Pagination.Total != 1 {
		t.Fatalf("list payouts want 1 row got status=%d total=%d", env.StatusCode, env.Pagination.Total)
	}

	transitionPath := fmt.Sprintf("/api/v1/admin/payouts/%d/transition", *result.PayoutID)
	env = f.do(t, http.MethodPost, transitionPath, f.auditor, `{"action":"approve"}`)
	if env.StatusCode != 403 {
		t.Fatalf("auditor transition want 403 got %d", env.StatusCode)
	}

	env = f.do(t, http.MethodPost, transitionPath, f.finance, `{"action":"approve"}`)
	if env.StatusCode != 409 {
		t.Fatalf("approve during hold want 409 got %d msg=%s", env.StatusCode, env.Msg)
	}
	var conflict struct {
		CurrentStatus        string `json:"current_status"`
		HoldRemainingSeconds int64  `json:"hold_remaining_seconds"`
	}
	if err := json.Unmarshal(env.Data, &conflict); err != nil {
		t.Fatalf("unmarshal conflict failed: %v", err)
	}
	if conflict.CurrentStatus != constants.PayoutStatusOnHold || conflict.HoldRemainingSeconds <= 0 {
		t.Fatalf("unexpected conflict payload: %+v", conflict)
	}

	env = f.do(t, http.MethodPost, transitionPath, f.finance, `{"action":"teleport"}`)
	if env.StatusCode != 400 {
		t.Fatalf("unknown action want 400 got %d", env.StatusCode)
	}

	env = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/admin/affiliates/%d/earnings", f.affiliate.ID), f.auditor, "")
	if env.StatusCode != 0 {
		t.Fatalf("earnings status_code want 0 got %d", env.StatusCode)
	}
	var earnings struct {
		ConversionCount int64 `json:"conversion_count"`
	}
	if err := json.Unmarshal(env.Data, &earnings); err != nil {
		t.Fatalf("unmarshal earnings failed: %v", err)
	}
	if earnings.ConversionCount != 1 {
		t.Fatalf("conversion_count want 1 got %d", earnings.ConversionCount)
	}
}

func TestRouterPublicValidationAndSettings(t *testing.T) {
	f := setupRouterTest(t)

	env := f.do(t, http.MethodPost, "/api/v1/conversions", "", `{"program_id":999,"affiliate_id":1,"order_id":"x","order_total":"10","currency":"USD"}`)
	if env.StatusCode != 404 {
		t.Fatalf("unknown program want 404 got %d", env.StatusCode)
	}
	env = f.do(t, http.MethodPost, "/api/v1/conversions", "", `{"order_id":"x"}`)
	if env.StatusCode != 400 {
		t.Fatalf("missing program want 400 got %d", env.StatusCode)
	}
	env = f.do(t, http.MethodPost, "/api/v1/conversions", "", fmt.Sprintf(`{"program_id":%d,"affiliate_id":%d,"order_id":"no-total"}`, f.program.ID, f.affiliate.ID))
	if env.StatusCode != 400 {
		t.Fatalf("missing order_total want 400 got %d", env.StatusCode)
	}
	env = f.do(t, http.MethodPost, "/api/v1/conversions", "", fmt.Sprintf(`{"program_id":%d,"affiliate_id":%d,"order_id":"no-currency","order_total":0}`, f.program.ID, f.affiliate.ID))
	if env.StatusCode != 0 {
		t.Fatalf("omitted currency should fall back to program currency, got %d msg=%s", env.StatusCode, env.Msg)
	}
	var fallback models.Conversion
	if err := models.DB.Where("order_id = ?", "no-currency").First(&fallback).Error; err != nil {
		t.Fatalf("load conversion failed: %v", err)
	}
	if fallback.Currency != f.program.Currency {
		t.Fatalf("currency want %s got %s", f.program.Currency, fallback.Currency)
	}

	click := fmt.Sprintf(`{"link_id":1,"affiliate_id":%d,"program_id":%d}`, f.affiliate.ID, f.program.ID)
	env = f.do(t, http.MethodPost, "/api/v1/track/clicks", "", click)
	if env.StatusCode != 0 {
		t.Fatalf("track click want 0 got %d msg=%s", env.StatusCode, env.Msg)
	}

	env = f.do(t, http.MethodPut, "/api/v1/admin/settings/pipeline", f.finance, `{"hold_days":45,"fallback_commission_pct":5}`)
	if env.StatusCode != 400 {
		t.Fatalf("hold_days 45 want 400 got %d", env.StatusCode)
	}
	env = f.do(t, http.MethodPut, "/api/v1/admin/settings/pipeline", f.finance, `{"hold_days":14,"fallback_commission_pct":5}`)
	if env.StatusCode != 0 {
		t.Fatalf("update pipeline setting want 0 got %d msg=%s", env.StatusCode, env.Msg)
	}
	env = f.do(t, http.MethodGet, "/api/v1/admin/settings/pipeline", f.auditor, "")
	var setting struct {
		HoldDays int `json:"hold_days"`
	}
	if err := json.Unmarshal(env.Data, &setting); err != nil {
		t.Fatalf("unmarshal setting failed: %v", err)
	}
	if setting.HoldDays != 14 {
		t.Fatalf("hold_days want 14 got %d", setting.HoldDays)
	}

	env = f.do(t, http.MethodGet, "/api/v1/admin/attribution/simulate?session_id=none&program_id="+fmt.Sprint(f.program.ID), f.auditor, "")
	if env.StatusCode != 0 || !strings.Contains(string(env.Data), `"shares":[]`) {
		t.Fatalf("simulate empty session want no shares, got %d %s", env.StatusCode, string(env.Data))
	}

	env = f.do(t, http.MethodGet, "/api/v1/admin/authz/permissions", f.auditor, "")
	if env.StatusCode != 0 || !strings.Contains(string(env.Data), "GET:/admin/payouts/:id") {
		t.Fatalf("permission catalog should list payout routes, got %s", string(env.Data))
	}
}

func TestDeriveOperatorPermissionModule(t *testing.T) {
	cases := map[string]string{
		"/admin/webhook-deliveries/:id/retry": "webhook-deliveries",
		"/admin/payouts":                      "payouts",
		"/admin":                              "admin",
		"":                                    "system",
	}
	for object, want := range cases {
		if got := deriveOperatorPermissionModule(object); got != want {
			t.Fatalf("module for %q want %s got %s", object, want, got)
		}
	}
}
