package worker

import (
	"context"
	"errors"
	"time"

	"github.com/affiliflow/internal/config"
	"github.com/affiliflow/internal/logger"
	"github.com/affiliflow/internal/queue"

	"github.com/hibiken/asynq"
)

const (
	defaultRetrySweepInterval  = time.Minute
	defaultAutoApproveInterval = 10 * time.Minute
	defaultAutoApproveBatch    = 100
)

// Service 异步队列服务；队列关闭时只运行巡检循环
type Service struct {
	name     string
	server   *asynq.Server
	mux      *asynq.ServeMux
	consumer *Consumer
	loops    []loopSpec
}

type loopSpec struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context)
}

// NewService 创建异步队列服务
func NewService(cfg *config.QueueConfig, consumer *Consumer) (*Service, error) {
	if consumer == nil {
		return nil, errors.New("consumer is nil")
	}
	s := &Service{
		name:     "worker",
		consumer: consumer,
	}
	if cfg != nil && cfg.Enabled {
		opt, serverCfg := queue.BuildServerConfig(cfg)
		s.server = asynq.NewServer(opt, serverCfg)
		s.mux = asynq.NewServeMux()
		consumer.Register(s.mux)
	} else {
		logger.Warnw("worker_queue_disabled_loops_only")
	}
	s.loops = buildLoops(consumer)
	return s, nil
}

func buildLoops(consumer *Consumer) []loopSpec {
	if consumer == nil || consumer.Container == nil || consumer.Config == nil {
		return nil
	}
	var loops []loopSpec
	if consumer.WebhookService != nil {
		loops = append(loops, loopSpec{
			name:     "webhook_retry_sweep",
			interval: secondsOr(consumer.Config.Webhook.RetrySweepIntervalSeconds, defaultRetrySweepInterval),
			run:      consumer.sweepWebhookRetries,
		})
	}
	if consumer.PayoutService != nil && consumer.Config.Payout.AutoApprove {
		loops = append(loops, loopSpec{
			name:     "payout_auto_approve",
			interval: secondsOr(consumer.Config.Payout.AutoApproveIntervalSeconds, defaultAutoApproveInterval),
			run:      consumer.approveDuePayouts,
		})
	}
	return loops
}

func secondsOr(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// Name 服务名称
func (s *Service) Name() string {
	if s == nil || s.name == "" {
		return "worker"
	}
	return s.name
}

// Start 启动服务
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return errors.New("worker not initialized")
	}
	for _, loop := range s.loops {
		go runLoop(ctx, loop)
	}
	if s.server == nil || s.mux == nil {
		<-ctx.Done()
		return nil
	}
	return s.server.Run(s.mux)
}

// Stop 停止服务
func (s *Service) Stop(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	_ = ctx
	s.server.Shutdown()
	return nil
}

func runLoop(ctx context.Context, loop loopSpec) {
	if loop.run == nil || loop.interval <= 0 {
		return
	}
	logger.Infow("worker_loop_start", "loop", loop.name, "interval", loop.interval.String())
	loop.run(ctx)

	ticker := time.NewTicker(loop.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			loop.run(ctx)
		}
	}
}

func (c *Consumer) sweepWebhookRetries(ctx context.Context) {
	count, err := c.WebhookService.SweepDueRetries(ctx)
	if err != nil {
		logger.Warnw("worker_webhook_retry_sweep_failed", "count", count, "error", err)
		return
	}
	if count > 0 {
		logger.Infow("worker_webhook_retry_sweep_done", "count", count)
	}
}

func (c *Consumer) approveDuePayouts(ctx context.Context) {
	limit := c.Config.Payout.AutoApproveBatchSize
	if limit <= 0 {
		limit = defaultAutoApproveBatch
	}
	approved, err := c.PayoutService.ApproveDue(ctx, limit)
	if err != nil {
		logger.Warnw("worker_payout_auto_approve_failed", "approved", approved, "error", err)
		return
	}
	if approved > 0 {
		logger.Infow("worker_payout_auto_approve_done", "approved", approved)
	}
}
