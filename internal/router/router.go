package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/affiliflow/internal/authz"
	"github.com/affiliflow/internal/cache"
	"github.com/affiliflow/internal/config"
	"github.com/affiliflow/internal/constants"
	adminhandlers "github.com/affiliflow/internal/http/handlers/admin"
	publichandlers "github.com/affiliflow/internal/http/handlers/public"
	"github.com/affiliflow/internal/http/response"
	"github.com/affiliflow/internal/logger"
	"github.com/affiliflow/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	// 初始化 Handler（按公开/运营分组）
	publicHandler := publichandlers.New(c)
	adminHandler := adminhandlers.New(c)
	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = constants.RedisPrefixDefault
	}
	redisClient := cache.Client()
	clickRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:click", redisPrefix),
		WindowSeconds: cfg.Security.ClickRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.ClickRateLimit.MaxRequests,
		BlockSeconds:  cfg.Security.ClickRateLimit.BlockSeconds,
		Message:       "too many clicks",
	}
	touchPointRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:touchpoint", redisPrefix),
		WindowSeconds: cfg.Security.ClickRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.ClickRateLimit.MaxRequests,
		BlockSeconds:  cfg.Security.ClickRateLimit.BlockSeconds,
		Message:       "too many touch points",
	}

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	apiV1 := r.Group("/api/v1")
	{
		// 跟踪接口
		track := apiV1.Group("/track")
		{
			track.POST("/clicks", RateLimitMiddleware(redisClient, clickRule, KeyByIP), publicHandler.TrackClick)
			track.POST("/touchpoints", RateLimitMiddleware(redisClient, touchPointRule, KeyByIPAndJSONField("session_id")), publicHandler.TrackTouchPoint)
		}

		// 订单回传
		apiV1.POST("/conversions", publicHandler.IngestConversion)

		// 运营接口
		admin := apiV1.Group("/admin")
		admin.Use(OperatorAuthMiddleware(cfg.OperatorAuth.Secret, cfg.OperatorAuth.Issuer))
		admin.Use(OperatorRBACMiddleware(c.AuthzService))
		{
			admin.GET("/attribution/simulate", adminHandler.SimulateAttribution)
			admin.GET("/conversions", adminHandler.ListConversions)

			admin.GET("/payouts", adminHandler.ListPayouts)
			admin.GET("/payouts/:id", adminHandler.GetPayout)
			admin.POST("/payouts/:id/transition", adminHandler.TransitionPayout)
			admin.GET("/affiliates/:id/earnings", adminHandler.GetAffiliateEarnings)

			admin.POST("/webhooks/dispatch", adminHandler.DispatchWebhook)
			admin.GET("/webhook-deliveries", adminHandler.ListWebhookDeliveries)
			admin.POST("/webhook-deliveries/:id/retry", adminHandler.RetryWebhookDelivery)

			admin.GET("/settings/pipeline", adminHandler.GetPipelineSetting)
			admin.PUT("/settings/pipeline", adminHandler.UpdatePipelineSetting)

			admin.GET("/authz/roles", adminHandler.ListOperatorRoles)
			admin.GET("/authz/permissions", func(ctx *gin.Context) {
				response.Success(ctx, buildOperatorPermissionCatalog(r))
			})
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}

type operatorPermissionCatalogItem struct {
	Module     string `json:"module"`
	Method     string `json:"method"`
	Object     string `json:"object"`
	Permission string `json:"permission"`
}

func buildOperatorPermissionCatalog(engine *gin.Engine) []operatorPermissionCatalogItem {
	if engine == nil {
		return []operatorPermissionCatalogItem{}
	}

	routes := engine.Routes()
	seen := make(map[string]struct{}, len(routes))
	items := make([]operatorPermissionCatalogItem, 0, len(routes))

	for _, item := range routes {
		method := strings.ToUpper(strings.TrimSpace(item.Method))
		if method == "" || method == "OPTIONS" || method == "HEAD" {
			continue
		}
		if !strings.HasPrefix(item.Path, "/api/v1/admin/") {
			continue
		}
		object := authz.NormalizeObject(item.Path)
		permission := method + ":" + object
		if _, exists := seen[permission]; exists {
			continue
		}
		seen[permission] = struct{}{}
		items = append(items, operatorPermissionCatalogItem{
			Module:     deriveOperatorPermissionModule(object),
			Method:     method,
			Object:     object,
			Permission: permission,
		})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Module == items[j].Module {
			if items[i].Object == items[j].Object {
				return items[i].Method < items[j].Method
			}
			return items[i].Object < items[j].Object
		}
		return items[i].Module < items[j].Module
	})

	return items
}

// deriveOperatorPermissionModule /admin/webhook-deliveries/:id/retry 归入 webhook-deliveries
func deriveOperatorPermissionModule(object string) string {
	normalized := strings.TrimPrefix(strings.TrimSpace(object), "/")
	if normalized == "" {
		return "system"
	}
	segments := strings.Split(normalized, "/")
	if len(segments) <= 1 {
		return segments[0]
	}
	if segments[0] != "admin" {
		return segments[0]
	}
	return segments[1]
}
