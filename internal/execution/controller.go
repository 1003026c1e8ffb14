package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stock-trader/internal/broker"
	"stock-trader/internal/config"
	"stock-trader/internal/ledger"
)

// Options 控制执行行为。
type Options struct {
	Retry           RetryPolicy
	SettlementDelay time.Duration
	TimeInForce     string
	StrictPositions bool
}

// Controller 负责把一笔交易请求安全落地：先在账本预留，再向券商提交，
// 成功则提交持仓变更，失败则退回预留。每个预留必然恰好走向提交或退款之一。
type Controller struct {
	ledger *ledger.Ledger
	opts   Options
	logger *zap.Logger
}

// NewController 创建执行控制器。
func NewController(l *ledger.Ledger, opts Options, logger *zap.Logger) (*Controller, error) {
	if l == nil {
		return nil, errors.New("execution: ledger 不能为空")
	}
	if opts.SettlementDelay <= 0 {
		opts.SettlementDelay = 24 * time.Hour
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = PolicyFromConfig(config.RetryConfig{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{ledger: l, opts: opts, logger: logger}, nil
}

// Execute 执行一笔交易。b 为模式控制器选出的当前交易端点。
// 返回错误时 Result 仍然完整填充，调用方可据此记录所有尝试。
func (c *Controller) Execute(ctx context.Context, b broker.Broker, req Request) (Result, error) {
	result := Result{
		Request:    req,
		ExecutedAt: time.Now().UTC(),
	}

	if b == nil {
		return result, errors.New("execution: broker 不能为空")
	}
	if req.Qty <= 0 || !req.Price.IsPositive() {
		return result, errors.New("execution: 委托数量与价格必须为正")
	}

	cost := req.Cost()

	switch req.Side {
	case broker.SideBuy:
		// 预留资金；余额不足时不触碰券商。
		if err := c.ledger.DeductCash(ctx, cost); err != nil {
			return result, err
		}
		result.Reserved = cost
	case broker.SideSell:
		if c.opts.StrictPositions && c.ledger.Position(req.Symbol) < req.Qty {
			return result, ledger.ErrInsufficientPosition
		}
	default:
		return result, fmt.Errorf("execution: 未知的委托方向 %q", req.Side)
	}

	orderID, submitErr := c.submitWithRetry(ctx, b, req, &result)
	if submitErr != nil {
		c.rollback(ctx, &result)
		return result, submitErr
	}
	result.OrderID = orderID

	if err := c.commit(ctx, req, &result); err != nil {
		return result, err
	}

	c.logger.Info("执行完成",
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.Int64("qty", req.Qty),
		zap.String("price", req.Price.String()),
		zap.String("order_id", orderID),
		zap.Int("attempts", len(result.Attempts)),
	)

	return result, nil
}

// submitWithRetry 提交委托，瞬时错误按退避策略重试，终局错误立即返回。
func (c *Controller) submitWithRetry(ctx context.Context, b broker.Broker, req Request, result *Result) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= c.opts.Retry.MaxAttempts; attempt++ {
		clientID := uuid.NewString()
		orderID, err := b.SubmitOrder(ctx, broker.OrderRequest{
			Symbol:        req.Symbol,
			Side:          req.Side,
			Qty:           req.Qty,
			TimeInForce:   c.opts.TimeInForce,
			ClientOrderID: clientID,
		})
		if err == nil {
			result.Attempts = append(result.Attempts, Attempt{
				Number:        attempt,
				ClientOrderID: clientID,
				Outcome:       OutcomeSuccess,
			})
			return orderID, nil
		}

		lastErr = err

		if !broker.IsRetryable(err) {
			result.Attempts = append(result.Attempts, Attempt{
				Number:        attempt,
				ClientOrderID: clientID,
				Outcome:       OutcomeTerminal,
				ErrorDetail:   err.Error(),
			})
			return "", err
		}

		result.Attempts = append(result.Attempts, Attempt{
			Number:        attempt,
			ClientOrderID: clientID,
			Outcome:       OutcomeRetryable,
			ErrorDetail:   err.Error(),
		})

		if attempt == c.opts.Retry.MaxAttempts {
			break
		}

		wait := c.opts.Retry.Backoff(attempt)
		c.logger.Warn("提交失败，等待重试",
			zap.String("symbol", req.Symbol),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if err := sleep(ctx, wait); err != nil {
			return "", err
		}
	}

	return "", fmt.Errorf("execution: 重试 %d 次后仍提交失败: %w", c.opts.Retry.MaxAttempts, lastErr)
}

// commit 在提交成功后落账：买入增加持仓，卖出移除持仓并挂起待交收资金。
func (c *Controller) commit(ctx context.Context, req Request, result *Result) error {
	switch req.Side {
	case broker.SideBuy:
		if err := c.ledger.AddPosition(ctx, req.Symbol, req.Qty); err != nil {
			return fmt.Errorf("execution: 买入落账失败: %w", err)
		}
	case broker.SideSell:
		if err := c.ledger.RemovePosition(ctx, req.Symbol, req.Qty); err != nil {
			return fmt.Errorf("execution: 卖出落账失败: %w", err)
		}
		if err := c.ledger.AddPendingSettlement(ctx, req.Cost(), c.opts.SettlementDelay, time.Now().UTC()); err != nil {
			return fmt.Errorf("execution: 挂起交收失败: %w", err)
		}
	}
	result.Committed = true
	return nil
}

// rollback 退回买入预留。退款失败属于严重故障，记录后保留错误现场。
func (c *Controller) rollback(ctx context.Context, result *Result) {
	if !result.Reserved.IsPositive() {
		return
	}
	if err := c.ledger.RefundCash(context.WithoutCancel(ctx), result.Reserved); err != nil {
		c.logger.Error("退回预留资金失败，账本需要人工核对",
			zap.String("symbol", result.Request.Symbol),
			zap.String("reserved", result.Reserved.String()),
			zap.Error(err),
		)
		return
	}
	result.Refunded = true
}
