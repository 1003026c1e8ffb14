// Package broker 定义下单与行情的外部协作者接口，以及实盘/模拟两种实现。
package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Side 表示下单方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderRequest 描述一笔委托。
type OrderRequest struct {
	Symbol        string
	Side          Side
	Qty           int64
	LimitPrice    decimal.Decimal // 市价单为零
	TimeInForce   string
	ClientOrderID string
}

// Broker 是执行控制器依赖的最小下单接口，返回券商侧订单ID。
type Broker interface {
	LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (string, error)
}

// Candle 表示一根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// MarketData 提供风控信号所需的历史行情。
type MarketData interface {
	Candles(ctx context.Context, symbol string, limit int64) ([]Candle, error)
}
