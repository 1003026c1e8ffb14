// Package signal 提供风控管线消费的外部信号：波动率、财经日历与情绪顾问。
// 信号失败只影响对应规则的判断，不中断交易主循环。
package signal

import (
	"context"
	"fmt"

	talib "github.com/markcheno/go-talib"

	"stock-trader/internal/broker"
)

const (
	atrPeriod     = 14
	minCandles    = atrPeriod + 1
	candleHistory = 60
)

// VolatilityGauge 基于历史K线计算相对 ATR。
type VolatilityGauge struct {
	data broker.MarketData
}

// NewVolatilityGauge 创建波动率信号源。
func NewVolatilityGauge(data broker.MarketData) *VolatilityGauge {
	return &VolatilityGauge{data: data}
}

// RelativeATR 返回最近一根K线的 ATR 与收盘价之比。
func (g *VolatilityGauge) RelativeATR(ctx context.Context, symbol string) (float64, error) {
	candles, err := g.data.Candles(ctx, symbol, candleHistory)
	if err != nil {
		return 0, fmt.Errorf("获取K线失败: %w", err)
	}
	return RelativeATRFromCandles(candles)
}

// RelativeATRFromCandles 对给定K线序列计算相对 ATR。
func RelativeATRFromCandles(candles []broker.Candle) (float64, error) {
	if len(candles) < minCandles {
		return 0, fmt.Errorf("K线数量不足: 需要至少 %d 根，实际 %d 根", minCandles, len(candles))
	}

	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}

	atr := talib.Atr(highs, lows, closes, atrPeriod)
	lastATR := atr[len(atr)-1]
	lastClose := closes[len(closes)-1]
	if lastClose <= 0 {
		return 0, fmt.Errorf("收盘价无效: %f", lastClose)
	}

	return lastATR / lastClose, nil
}
