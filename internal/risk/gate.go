// Package risk 实现交易前的否决管线：任意一条规则拒绝即短路，
// 拒绝原因始终向上透出，规则自身的信号故障只记录、不拦截交易。
package risk

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stock-trader/internal/broker"
)

// Context 为一次风控评估的输入。
type Context struct {
	Symbol     string
	Side       broker.Side
	Now        time.Time
	Price      decimal.Decimal
	Volatility float64 // 相对波动率，0 表示信号缺失
	Positions  map[string]int64
	// SentimentFresh 表示情绪顾问给出了新的正面信号，可豁免冷却限制。
	SentimentFresh bool
}

// Verdict 为单条规则或整条管线的结论。
type Verdict struct {
	Allowed bool
	Reason  string
}

// Allow 返回放行结论。
func Allow() Verdict { return Verdict{Allowed: true} }

// Deny 返回带原因的拒绝结论。
func Deny(reason string) Verdict { return Verdict{Reason: reason} }

// Predicate 是可插拔的风控规则。评估错误表示信号源故障，而非拒绝。
type Predicate interface {
	Name() string
	Evaluate(ctx context.Context, rctx Context) (Verdict, error)
}

// Gate 按顺序执行规则，遇到第一条拒绝即返回。
type Gate struct {
	predicates []Predicate
	logger     *zap.Logger
}

// NewGate 创建风控管线。
func NewGate(logger *zap.Logger, predicates ...Predicate) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{predicates: predicates, logger: logger}
}

// Check 评估全部规则。信号故障按放行处理，但会记录告警。
func (g *Gate) Check(ctx context.Context, rctx Context) Verdict {
	for _, p := range g.predicates {
		verdict, err := p.Evaluate(ctx, rctx)
		if err != nil {
			g.logger.Warn("风控信号源故障，按放行处理",
				zap.String("predicate", p.Name()),
				zap.String("symbol", rctx.Symbol),
				zap.Error(err),
			)
			continue
		}
		if !verdict.Allowed {
			g.logger.Info("风控拒绝交易",
				zap.String("predicate", p.Name()),
				zap.String("symbol", rctx.Symbol),
				zap.String("reason", verdict.Reason),
			)
			return Verdict{Allowed: false, Reason: p.Name() + ": " + verdict.Reason}
		}
	}
	return Allow()
}
