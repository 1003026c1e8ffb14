package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stock-trader/internal/config"
)

const candleTimeframe = "1h"

// LiveBroker 通过 ccxt 对接实盘券商，同时提供风控所需的历史行情。
type LiveBroker struct {
	cfg      config.BrokerConfig
	logger   *zap.Logger
	exchange *ccxt.Alpaca

	marketsMu     sync.Mutex
	marketsLoaded bool
}

var _ Broker = (*LiveBroker)(nil)
var _ MarketData = (*LiveBroker)(nil)

// NewLiveBroker 构造实盘客户端，目前仅支持 alpaca。
func NewLiveBroker(cfg config.BrokerConfig, logger *zap.Logger) (*LiveBroker, error) {
	if cfg.Exchange != "alpaca" {
		return nil, fmt.Errorf("broker: 暂不支持的券商 %q", cfg.Exchange)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		userConfig["password"] = cfg.APIPass
	}

	ex := ccxt.NewAlpaca(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &LiveBroker{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
	}, nil
}

// LatestPrice 返回标的最新成交价。
func (b *LiveBroker) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := b.ensureMarketsLoaded(ctx); err != nil {
		return decimal.Zero, err
	}

	ticker, err := b.exchange.FetchTicker(symbol)
	if err != nil {
		return decimal.Zero, classify("fetch_ticker", err)
	}

	price := firstPositiveFloat(ticker.Last, ticker.Close, ticker.Bid, ticker.Ask)
	if price <= 0 {
		return decimal.Zero, NewTerminal("fetch_ticker", fmt.Sprintf("行情无有效价格 %s", symbol), nil)
	}

	return decimal.NewFromFloat(price), nil
}

// SubmitOrder 提交一笔市价或限价委托，返回券商侧订单ID。单次提交，不在此层重试。
func (b *LiveBroker) SubmitOrder(ctx context.Context, req OrderRequest) (string, error) {
	if err := b.ensureMarketsLoaded(ctx); err != nil {
		return "", err
	}
	if req.Qty <= 0 {
		return "", NewTerminal("submit_order", "委托数量必须为正", nil)
	}

	params := map[string]interface{}{}
	if req.TimeInForce != "" {
		params["timeInForce"] = req.TimeInForce
	}
	if req.ClientOrderID != "" {
		params["clientOrderId"] = req.ClientOrderID
	}

	amount := float64(req.Qty)

	var order ccxt.Order
	var err error
	if req.LimitPrice.IsPositive() {
		price, _ := req.LimitPrice.Float64()
		order, err = b.exchange.CreateLimitOrder(req.Symbol, string(req.Side), amount, price,
			ccxt.WithCreateLimitOrderParams(params))
	} else {
		order, err = b.exchange.CreateMarketOrder(req.Symbol, string(req.Side), amount,
			ccxt.WithCreateMarketOrderParams(params))
	}
	if err != nil {
		return "", classify("submit_order", err)
	}

	orderID := ""
	if order.Id != nil {
		orderID = *order.Id
	}

	b.logger.Info("实盘委托已提交",
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.Int64("qty", req.Qty),
		zap.String("order_id", orderID),
	)

	return orderID, nil
}

// Candles 返回最近的小时K线。
func (b *LiveBroker) Candles(ctx context.Context, symbol string, limit int64) ([]Candle, error) {
	if limit <= 0 {
		limit = 1
	}
	if err := b.ensureMarketsLoaded(ctx); err != nil {
		return nil, err
	}

	raw, err := b.exchange.FetchOHLCV(symbol,
		ccxt.WithFetchOHLCVTimeframe(candleTimeframe),
		ccxt.WithFetchOHLCVLimit(limit),
	)
	if err != nil {
		return nil, classify("fetch_ohlcv", err)
	}

	candles := make([]Candle, 0, len(raw))
	for _, item := range raw {
		candles = append(candles, Candle{
			Timestamp: time.UnixMilli(item.Timestamp).UTC(),
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		})
	}

	return candles, nil
}

func (b *LiveBroker) ensureMarketsLoaded(ctx context.Context) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if b.marketsLoaded {
		return nil
	}

	b.marketsMu.Lock()
	defer b.marketsMu.Unlock()

	if b.marketsLoaded {
		return nil
	}

	if _, err := b.exchange.LoadMarkets(); err != nil {
		return classify("load_markets", err)
	}

	b.marketsLoaded = true
	b.logger.Info("已完成市场元数据加载", zap.String("exchange", b.cfg.Exchange))
	return nil
}

func firstPositiveFloat(values ...*float64) float64 {
	for _, v := range values {
		if v != nil && *v > 0 {
			return *v
		}
	}
	return 0
}
