package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stock-trader/internal/broker"
	"stock-trader/internal/config"
	"stock-trader/internal/execution"
	"stock-trader/internal/ledger"
	"stock-trader/internal/mode"
	"stock-trader/internal/monitor"
	"stock-trader/internal/notify"
	"stock-trader/internal/risk"
	"stock-trader/internal/signal"
	"stock-trader/internal/store"
)

type orchestrator struct {
	cfg      *config.Config
	ledger   *ledger.Ledger
	live     broker.Broker
	paper    broker.Broker
	market   broker.MarketData
	executor *execution.Controller
	modes    *mode.Controller
	gate     *risk.Gate
	tracker  *risk.Tracker
	advisor  signal.Advisor
	monitor  *monitor.Service
	logger   *zap.Logger

	orderQty int64
	buyBelow decimal.Decimal
}

func (o *orchestrator) Monitor() *monitor.Service {
	return o.monitor
}

func newOrchestrator(cfg *config.Config, logger *zap.Logger, store *store.Store) (*orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	startingCash, err := cfg.Account.StartingCashDecimal()
	if err != nil {
		return nil, err
	}
	buyBelow, err := cfg.Account.BuyBelowDecimal()
	if err != nil {
		return nil, err
	}

	book, err := ledger.New(store, ledger.Options{
		AccountID:       cfg.Account.ID,
		StartingCash:    startingCash,
		StrictPositions: cfg.Risk.StrictPositions,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化账本失败: %w", err)
	}

	live, err := broker.NewLiveBroker(cfg.Broker, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化券商客户端失败: %w", err)
	}
	paper := broker.NewPaperBroker(live, logger)

	executor, err := execution.NewController(book, execution.Options{
		Retry:           execution.PolicyFromConfig(cfg.Execution.Retry),
		SettlementDelay: cfg.Settlement.Delay,
		TimeInForce:     cfg.Execution.TimeInForce,
		StrictPositions: cfg.Risk.StrictPositions,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化执行控制器失败: %w", err)
	}

	notifier := notify.New(cfg.Telegram, logger)
	modes, err := mode.NewController(store, cfg.Account.ID, mode.Thresholds{
		FailureThreshold: cfg.Mode.FailureThreshold,
		SuccessThreshold: cfg.Mode.SuccessThreshold,
		Cooldown:         cfg.Mode.Cooldown,
	}, notifier, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化模式控制器失败: %w", err)
	}

	tracker, err := risk.NewTracker(store, cfg.Account.ID)
	if err != nil {
		return nil, fmt.Errorf("初始化冷却记录失败: %w", err)
	}

	calendar := signal.NewEconCalendar(cfg.Calendar, cfg.Risk.BlackoutWindow, logger)
	gate := risk.NewGate(logger,
		risk.PositionExists{},
		risk.VolatilityCeiling{Max: cfg.Risk.MaxVolatility},
		risk.BlackoutCalendar{Calendar: calendar},
		risk.Cooldown{Window: cfg.Risk.Cooldown, Tracker: tracker},
	)

	monitorSvc, err := monitor.NewService(store, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化监控服务失败: %w", err)
	}

	return &orchestrator{
		cfg:      cfg,
		ledger:   book,
		live:     live,
		paper:    paper,
		market:   live,
		executor: executor,
		modes:    modes,
		gate:     gate,
		tracker:  tracker,
		advisor:  signal.NewAdvisor(cfg.OpenAI, logger),
		monitor:  monitorSvc,
		logger:   logger,
		orderQty: cfg.Account.OrderQty,
		buyBelow: buyBelow,
	}, nil
}

// Tick 执行一个交易周期：先释放到期交收，再逐标的评估并执行。
func (o *orchestrator) Tick(ctx context.Context) error {
	now := time.Now().UTC()

	released, err := o.ledger.ProcessSettlements(ctx, now)
	if err != nil {
		o.monitor.RecordError(ctx, "处理交收失败", err, nil)
		return err
	}
	if released.IsPositive() {
		state := o.ledger.Snapshot()
		o.logger.Info("在途资金已释放",
			zap.String("released", released.StringFixed(2)),
			zap.String("cash", state.Cash.StringFixed(2)),
		)
		o.monitor.RecordSettlement(ctx, released, state)
	}

	for _, symbol := range o.cfg.Account.Symbols {
		if err := o.tickSymbol(ctx, symbol, now); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			o.logger.Error("标的周期执行失败", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	o.monitor.RecordSnapshot(ctx, o.ledger.Snapshot())
	return nil
}

func (o *orchestrator) tickSymbol(ctx context.Context, symbol string, now time.Time) error {
	var (
		price   decimal.Decimal
		candles []broker.Candle
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		p, err := o.live.LatestPrice(groupCtx, symbol)
		if err != nil {
			return fmt.Errorf("获取最新价格失败: %w", err)
		}
		price = p
		return nil
	})

	group.Go(func() error {
		data, err := o.market.Candles(groupCtx, symbol, 60)
		if err != nil {
			return fmt.Errorf("获取K线失败: %w", err)
		}
		candles = data
		return nil
	})

	if err := group.Wait(); err != nil {
		o.monitor.RecordError(ctx, "拉取行情失败", err, map[string]interface{}{"symbol": symbol})
		return err
	}

	req, ok := o.decide(symbol, price)
	if !ok {
		return nil
	}

	rctx, err := o.buildRiskContext(ctx, symbol, req.Side, price, candles, now)
	if err != nil {
		// 信号缺失不阻断交易，风控规则对零值信号自动放行。
		o.logger.Warn("风控信号采集不完整", zap.String("symbol", symbol), zap.Error(err))
	}

	if verdict := o.gate.Check(ctx, rctx); !verdict.Allowed {
		o.monitor.RecordRiskDenial(ctx, symbol, req.Side, verdict.Reason)
		return nil
	}

	return o.execute(ctx, req, now)
}

// decide 是占位策略：无持仓且价格低于阈值时买入，持仓后价格回到阈值之上卖出全部。
func (o *orchestrator) decide(symbol string, price decimal.Decimal) (execution.Request, bool) {
	held := o.ledger.Position(symbol)

	if held == 0 && price.LessThan(o.buyBelow) {
		return execution.Request{
			Symbol: symbol,
			Side:   broker.SideBuy,
			Qty:    o.orderQty,
			Price:  price,
		}, true
	}

	if held > 0 && price.GreaterThanOrEqual(o.buyBelow) {
		return execution.Request{
			Symbol: symbol,
			Side:   broker.SideSell,
			Qty:    held,
			Price:  price,
		}, true
	}

	return execution.Request{}, false
}

// buildRiskContext 基于已取得的行情构造风控输入。任一信号失败时返回已有部分与错误。
func (o *orchestrator) buildRiskContext(ctx context.Context, symbol string, side broker.Side, price decimal.Decimal, candles []broker.Candle, now time.Time) (risk.Context, error) {
	rctx := risk.Context{
		Symbol:    symbol,
		Side:      side,
		Now:       now,
		Price:     price,
		Positions: o.ledger.Snapshot().Positions,
	}

	volatility, err := signal.RelativeATRFromCandles(candles)
	if err != nil {
		return rctx, err
	}
	rctx.Volatility = volatility

	assessment, err := o.advisor.Assess(ctx, symbol, candles)
	if err != nil {
		return rctx, fmt.Errorf("情绪顾问评估失败: %w", err)
	}
	rctx.SentimentFresh = assessment.Bullish()

	return rctx, nil
}

func (o *orchestrator) execute(ctx context.Context, req execution.Request, now time.Time) error {
	activeMode := o.modes.ActiveMode()
	endpoint := o.paper
	if activeMode == mode.ModeLive {
		endpoint = o.live
	}

	result, execErr := o.executor.Execute(ctx, endpoint, req)
	o.monitor.RecordExecution(ctx, activeMode, result)

	if execErr != nil {
		// 资金不足与持仓不足属于本地校验，不计入模式失败。
		if errors.Is(execErr, ledger.ErrInsufficientFunds) || errors.Is(execErr, ledger.ErrInsufficientPosition) {
			o.logger.Warn("交易被账本拒绝",
				zap.String("symbol", req.Symbol),
				zap.String("side", string(req.Side)),
				zap.Error(execErr),
			)
			return nil
		}
		if errors.Is(execErr, context.Canceled) || errors.Is(execErr, context.DeadlineExceeded) {
			return execErr
		}

		o.monitor.RecordError(ctx, "订单执行失败", execErr, map[string]interface{}{
			"symbol": req.Symbol,
			"side":   string(req.Side),
		})

		// 券商终局拒绝与重试耗尽都计为终局失败，驱动模式降级。
		o.recordModeFailure(ctx, activeMode, now)
		return execErr
	}

	o.recordModeSuccess(ctx, activeMode, now)

	if req.Side == broker.SideBuy {
		if err := o.tracker.MarkTrade(ctx, req.Symbol, now); err != nil {
			o.logger.Warn("写入冷却记录失败", zap.String("symbol", req.Symbol), zap.Error(err))
		}
	}

	return nil
}

func (o *orchestrator) recordModeFailure(ctx context.Context, from mode.Mode, now time.Time) {
	state, changed, err := o.modes.RecordFailure(ctx, now)
	if err != nil {
		o.logger.Error("更新模式状态失败", zap.Error(err))
		return
	}
	if changed {
		o.monitor.RecordModeChange(ctx, from, state.Mode, state.CooldownUntil)
	}
}

func (o *orchestrator) recordModeSuccess(ctx context.Context, from mode.Mode, now time.Time) {
	state, changed, err := o.modes.RecordSuccess(ctx, now)
	if err != nil {
		o.logger.Error("更新模式状态失败", zap.Error(err))
		return
	}
	if changed {
		o.monitor.RecordModeChange(ctx, from, state.Mode, state.CooldownUntil)
	}
}
