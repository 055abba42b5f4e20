package app

import (
	"context"
	"errors"
	"os/signal"
	"time"

	"go.uber.org/zap"
)

// Service 服务接口
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Runner 服务运行器
type Runner struct {
	services []Service
	closers  []func() error
}

// NewRunner 创建服务运行器
func NewRunner(services ...Service) *Runner {
	return &Runner{services: services}
}

// OnClose 注册所有服务停止后执行的资源释放
func (r *Runner) OnClose(fn func() error) {
	if r == nil || fn == nil {
		return
	}
	r.closers = append(r.closers, fn)
}

// RunWithOptions 运行服务并处理系统信号
func RunWithOptions(runner *Runner, opts Options) error {
	if runner == nil {
		return errors.New("runner is nil")
	}
	opts = normalizeOptions(opts)
	ctx := context.Background()
	if len(opts.Signals) > 0 {
		var cancel context.CancelFunc
		ctx, cancel = signal.NotifyContext(ctx, opts.Signals...)
		defer cancel()
	}

	err := runner.Run(ctx, opts.ShutdownTimeout, opts.Logger)
	return err
}

// Run 启动并监听服务
func (r *Runner) Run(ctx context.Context, stopTimeout time.Duration, logger *zap.SugaredLogger) error {
	if r == nil || len(r.services) == 0 {
		return errors.New("no services to run")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(r.services))
	for _, svc := range r.services {
		service := svc
		go func() {
			name := "unknown"
			if service != nil {
				name = service.Name()
			}
			if logger != nil {
				logger.Infow("service_start", "service", name)
			}
			if service == nil {
				errCh <- errors.New("service is nil")
				return
			}
			errCh <- service.Start(ctx)
			if logger != nil {
				logger.Infow("service_exit", "service", name)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-errCh:
		runErr = err
	}

	cancel()
	if stopTimeout <= 0 {
		stopTimeout = 10 * time.Second
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	// 逆序停止：先停 worker 再停 HTTP
	for i := len(r.services) - 1; i >= 0; i-- {
		svc := r.services[i]
		if svc == nil {
			continue
		}
		if err := svc.Stop(stopCtx); err != nil {
			if logger != nil {
				logger.Errorw("service_stop_failed", "service", svc.Name(), "error", err)
			}
		}
	}
	for _, closeFn := range r.closers {
		if err := closeFn(); err != nil && logger != nil {
			logger.Warnw("runner_close_failed", "error", err)
		}
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}
