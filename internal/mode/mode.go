// Package mode 维护实盘/模拟盘路由状态机：连续终局失败把交易降级到模拟盘，
// 冷却期过后由连续的模拟成功恢复实盘。模拟盘是永远可用的安全兜底，不再向下降级。
package mode

import (
	"context"
	"time"
)

// Mode 表示订单路由的目标端点。
type Mode string

const (
	ModeLive  Mode = "live"
	ModePaper Mode = "paper"
)

// State 为状态机的持久化快照。CooldownUntil 为零值表示没有生效中的冷却。
type State struct {
	Mode                 Mode
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	CooldownUntil        time.Time
}

// Notifier 接收模式切换通知，实现方保证尽力而为、绝不阻塞交易。
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// Thresholds 控制状态机的切换条件。
type Thresholds struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
}
