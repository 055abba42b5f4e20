package provider

import (
	"time"

	"github.com/affiliflow/internal/authz"
	"github.com/affiliflow/internal/cache"
	"github.com/affiliflow/internal/config"
	"github.com/affiliflow/internal/logger"
	"github.com/affiliflow/internal/models"
	"github.com/affiliflow/internal/queue"
	"github.com/affiliflow/internal/repository"
	"github.com/affiliflow/internal/service"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client

	// Repositories
	ConversionRepo     repository.ConversionRepository
	TrackingRepo       repository.TrackingRepository
	ProgramRepo        repository.ProgramRepository
	PayoutRepo         repository.PayoutRepository
	AffiliateStatRepo  repository.AffiliateStatRepository
	CommissionRuleRepo repository.CommissionRuleRepository
	WebhookRepo        repository.WebhookRepository
	SettingRepo        repository.SettingRepository

	// Services
	AuthzService        *authz.Service
	SettingService      *service.SettingService
	EmailService        *service.EmailService
	NotificationService *service.NotificationService
	FraudEvaluator      *service.FraudEvaluator
	CommissionResolver  *service.CommissionResolver
	WebhookService      *service.WebhookService
	TrackingService     *service.TrackingService
	ConversionService   *service.ConversionService
	PayoutService       *service.PayoutService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) *Container {
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	// 初始化队列客户端
	var queueClient *queue.Client
	if cfg.Queue.Enabled {
		qc, err := queue.NewClient(&cfg.Queue)
		if err != nil {
			logger.Errorw("provider_init_queue_client_failed", "error", err)
		} else {
			queueClient = qc
		}
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
	}

	// 1. 初始化 Repositories
	c.initRepositories()

	// 2. 初始化 Services
	c.initServices()

	return c
}

func (c *Container) initRepositories() {
	db := models.DB
	c.ConversionRepo = repository.NewConversionRepository(db)
	c.TrackingRepo = repository.NewTrackingRepository(db)
	c.ProgramRepo = repository.NewProgramRepository(db)
	c.PayoutRepo = repository.NewPayoutRepository(db)
	c.AffiliateStatRepo = repository.NewAffiliateStatRepository(db)
	c.CommissionRuleRepo = repository.NewCommissionRuleRepository(db)
	c.WebhookRepo = repository.NewWebhookRepository(db)
	c.SettingRepo = repository.NewSettingRepository(db)
}

func (c *Container) initServices() {
	authzService, err := authz.NewService(models.DB)
	if err != nil {
		logger.Errorw("provider_init_authz_failed", "error", err)
		panic(err)
	}
	c.AuthzService = authzService
	if err := c.AuthzService.BootstrapBuiltinRoles(); err != nil {
		logger.Errorw("provider_bootstrap_builtin_roles_failed", "error", err)
		panic(err)
	}

	pipelineCfg := c.Config.Pipeline
	c.SettingService = service.NewSettingService(c.SettingRepo, service.PipelineSetting{
		HoldDays:              pipelineCfg.HoldDays,
		FallbackCommissionPct: pipelineCfg.FallbackCommissionPct,
	})
	c.EmailService = service.NewEmailService(&c.Config.Email)
	c.NotificationService = service.NewNotificationService(c.EmailService, c.QueueClient)

	c.FraudEvaluator = service.NewFraudEvaluator(c.ConversionRepo, c.TrackingRepo, service.FraudLimits{
		ConversionVelocityLimit:  pipelineCfg.ConversionVelocityLimit,
		ConversionVelocityWindow: time.Duration(pipelineCfg.ConversionVelocityWindow) * time.Second,
		ClickVelocityLimit:       pipelineCfg.ClickVelocityLimit,
		ClickVelocityWindow:      time.Duration(pipelineCfg.ClickVelocityWindow) * time.Second,
	})
	c.CommissionResolver = service.NewCommissionResolver(c.CommissionRuleRepo)

	webhookCfg := c.Config.Webhook
	c.WebhookService = service.NewWebhookService(c.WebhookRepo, c.QueueClient, nil, service.WebhookOptions{
		Timeout:          time.Duration(webhookCfg.TimeoutSeconds) * time.Second,
		MaxAutoAttempts:  webhookCfg.MaxAutoAttempts,
		RetryBatchSize:   webhookCfg.RetryBatchSize,
		SweepConcurrency: webhookCfg.SweepConcurrency,
	}, nil)

	c.TrackingService = service.NewTrackingService(c.TrackingRepo, c.ProgramRepo, c.FraudEvaluator, nil)
	c.ConversionService = service.NewConversionService(
		c.ConversionRepo,
		c.TrackingRepo,
		c.ProgramRepo,
		c.PayoutRepo,
		c.AffiliateStatRepo,
		c.FraudEvaluator,
		c.CommissionResolver,
		c.SettingService,
		c.WebhookService,
		c.NotificationService,
		nil,
	)
	c.PayoutService = service.NewPayoutService(
		c.PayoutRepo,
		c.AffiliateStatRepo,
		c.ProgramRepo,
		c.SettingService,
		c.WebhookService,
		c.NotificationService,
		nil,
	)
}

// Close 释放队列客户端与缓存连接
func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	var firstErr error
	if c.QueueClient != nil {
		if err := c.QueueClient.Close(); err != nil {
			firstErr = err
		}
	}
	if err := cache.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
