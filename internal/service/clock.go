package service

import (
	"time"

	"github.com/affiliflow/internal/logger"
)

// Clock 可注入的时间源，便于测试冻结期与时间衰减
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}

func resolveClock(clock Clock) Clock {
	if clock == nil {
		return systemClock
	}
	return clock
}

// runDetached 在后台执行副作用，调用方不等待结果
func runDetached(task func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("detached_task_panic", "panic", r)
			}
		}()
		task()
	}()
}
