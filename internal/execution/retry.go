package execution

import (
	"context"
	"time"

	"stock-trader/internal/config"
)

// RetryPolicy 统一描述重试次数与退避节奏，供所有提交路径复用。
type RetryPolicy struct {
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

// PolicyFromConfig 由配置构造重试策略，填补非法值。
func PolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	p := RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		MinDelay:    cfg.MinDelay,
		MaxDelay:    cfg.MaxDelay,
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.MinDelay <= 0 {
		p.MinDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 || p.MaxDelay < p.MinDelay {
		p.MaxDelay = 5 * time.Second
	}
	return p
}

// Backoff 返回第 attempt 次失败后的等待时长，指数增长并受 MaxDelay 限制。
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.MinDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// sleep 等待指定时长，context 取消时提前返回其错误。
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
