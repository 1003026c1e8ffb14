package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Fill 记录一笔模拟成交，供回看与测试断言。
type Fill struct {
	OrderID string
	Symbol  string
	Side    Side
	Qty     int64
	Price   decimal.Decimal
	At      time.Time
}

// PaperBroker 以最新行情价立即成交所有委托，是降级后的安全交易端点。
type PaperBroker struct {
	prices Broker
	logger *zap.Logger

	mu    sync.Mutex
	fills []Fill
}

var _ Broker = (*PaperBroker)(nil)

// NewPaperBroker 创建模拟券商，行情价格来自 prices（通常为实盘客户端）。
func NewPaperBroker(prices Broker, logger *zap.Logger) *PaperBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaperBroker{
		prices: prices,
		logger: logger,
	}
}

// LatestPrice 透传行情来源的最新价。
func (p *PaperBroker) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if p.prices == nil {
		return decimal.Zero, NewTerminal("fetch_ticker", "模拟券商缺少行情来源", nil)
	}
	return p.prices.LatestPrice(ctx, symbol)
}

// SubmitOrder 立即按委托价（或最新价）成交并记录。
func (p *PaperBroker) SubmitOrder(ctx context.Context, req OrderRequest) (string, error) {
	if req.Qty <= 0 {
		return "", NewTerminal("submit_order", "委托数量必须为正", nil)
	}

	price := req.LimitPrice
	if !price.IsPositive() {
		latest, err := p.LatestPrice(ctx, req.Symbol)
		if err != nil {
			return "", err
		}
		price = latest
	}

	orderID := req.ClientOrderID
	if orderID == "" {
		orderID = uuid.NewString()
	}

	fill := Fill{
		OrderID: orderID,
		Symbol:  req.Symbol,
		Side:    req.Side,
		Qty:     req.Qty,
		Price:   price,
		At:      time.Now().UTC(),
	}

	p.mu.Lock()
	p.fills = append(p.fills, fill)
	p.mu.Unlock()

	p.logger.Info("模拟委托已成交",
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.Int64("qty", req.Qty),
		zap.String("price", price.String()),
	)

	return orderID, nil
}

// Fills 返回已记录成交的副本。
func (p *PaperBroker) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Fill, len(p.fills))
	copy(out, p.fills)
	return out
}
