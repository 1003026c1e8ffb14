package risk

import (
	"context"
	"fmt"
	"time"

	"stock-trader/internal/broker"
)

// VolatilityCeiling 在相对波动率超过上限时拒绝交易。
// 波动率为 0 视为信号缺失，直接放行。
type VolatilityCeiling struct {
	Max float64
}

func (VolatilityCeiling) Name() string { return "volatility_ceiling" }

func (v VolatilityCeiling) Evaluate(_ context.Context, rctx Context) (Verdict, error) {
	if v.Max <= 0 || rctx.Volatility <= 0 {
		return Allow(), nil
	}
	if rctx.Volatility > v.Max {
		return Deny(fmt.Sprintf("波动率 %.4f 超过上限 %.4f", rctx.Volatility, v.Max)), nil
	}
	return Allow(), nil
}

// Calendar 提供宏观事件窗口判断。
type Calendar interface {
	BlockedAt(ctx context.Context, now time.Time) (blocked bool, event string, err error)
}

// BlackoutCalendar 在宏观事件窗口内拒绝交易。
type BlackoutCalendar struct {
	Calendar Calendar
}

func (BlackoutCalendar) Name() string { return "blackout_calendar" }

func (b BlackoutCalendar) Evaluate(ctx context.Context, rctx Context) (Verdict, error) {
	if b.Calendar == nil {
		return Allow(), nil
	}
	blocked, event, err := b.Calendar.BlockedAt(ctx, rctx.Now)
	if err != nil {
		return Allow(), fmt.Errorf("查询宏观事件日历失败: %w", err)
	}
	if blocked {
		return Deny(fmt.Sprintf("处于宏观事件窗口: %s", event)), nil
	}
	return Allow(), nil
}

// LastTradeSource 提供按标的记录的最近成交时间。
type LastTradeSource interface {
	LastTrade(ctx context.Context, symbol string) (time.Time, bool, error)
}

// Cooldown 在距上次买入不足冷却窗口时拒绝再次买入。
// 情绪顾问给出新信号时豁免，卖出不受冷却限制。
type Cooldown struct {
	Window  time.Duration
	Tracker LastTradeSource
}

func (Cooldown) Name() string { return "trade_cooldown" }

func (c Cooldown) Evaluate(ctx context.Context, rctx Context) (Verdict, error) {
	if c.Window <= 0 || c.Tracker == nil || rctx.Side != broker.SideBuy {
		return Allow(), nil
	}
	if rctx.SentimentFresh {
		return Allow(), nil
	}
	last, ok, err := c.Tracker.LastTrade(ctx, rctx.Symbol)
	if err != nil {
		return Allow(), fmt.Errorf("查询冷却记录失败: %w", err)
	}
	if !ok {
		return Allow(), nil
	}
	if elapsed := rctx.Now.Sub(last); elapsed < c.Window {
		return Deny(fmt.Sprintf("距上次买入 %s，冷却窗口 %s 未结束", elapsed.Round(time.Second), c.Window)), nil
	}
	return Allow(), nil
}

// PositionExists 拒绝对空持仓的卖出请求。
type PositionExists struct{}

func (PositionExists) Name() string { return "position_exists" }

func (PositionExists) Evaluate(_ context.Context, rctx Context) (Verdict, error) {
	if rctx.Side != broker.SideSell {
		return Allow(), nil
	}
	if rctx.Positions[rctx.Symbol] <= 0 {
		return Deny(fmt.Sprintf("标的 %s 无持仓可卖", rctx.Symbol)), nil
	}
	return Allow(), nil
}
