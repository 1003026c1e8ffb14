package mode

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"stock-trader/internal/store"
)

// Controller 串行化单个账户的模式迁移，并把每次变更写入数据库。
type Controller struct {
	mu        sync.Mutex
	db        *sql.DB
	accountID string
	cfg       Thresholds
	notifier  Notifier
	logger    *zap.Logger
	state     State
}

// NewController 创建模式控制器并恢复持久化状态；首次运行从实盘、零计数开始。
func NewController(st *store.Store, accountID string, cfg Thresholds, notifier Notifier, logger *zap.Logger) (*Controller, error) {
	if st == nil {
		return nil, errors.New("mode: store 不能为空")
	}
	if accountID == "" {
		return nil, errors.New("mode: 账户ID不能为空")
	}
	if cfg.FailureThreshold <= 0 || cfg.SuccessThreshold <= 0 || cfg.Cooldown <= 0 {
		return nil, errors.New("mode: 切换阈值与冷却时长必须为正")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Controller{
		db:        st.DB(),
		accountID: accountID,
		cfg:       cfg,
		notifier:  notifier,
		logger:    logger,
	}

	if err := c.initSchema(); err != nil {
		return nil, err
	}
	if err := c.load(context.Background()); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Controller) initSchema() error {
	stmt := `CREATE TABLE IF NOT EXISTS mode_state (
		account_id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		consecutive_successes INTEGER NOT NULL DEFAULT 0,
		cooldown_until TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);`
	if _, err := c.db.Exec(stmt); err != nil {
		return fmt.Errorf("mode: 初始化表结构失败: %w", err)
	}
	return nil
}

func (c *Controller) load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		modeStr     string
		failures    int
		successes   int
		cooldownStr string
	)

	row := c.db.QueryRowContext(ctx,
		`SELECT mode, consecutive_failures, consecutive_successes, cooldown_until
		 FROM mode_state WHERE account_id = ?`, c.accountID)
	switch err := row.Scan(&modeStr, &failures, &successes, &cooldownStr); {
	case err == nil:
		c.state = State{
			Mode:                 Mode(modeStr),
			ConsecutiveFailures:  failures,
			ConsecutiveSuccesses: successes,
		}
		if cooldownStr != "" {
			t, parseErr := time.Parse(time.RFC3339Nano, cooldownStr)
			if parseErr != nil {
				return fmt.Errorf("mode: 解析冷却时间失败: %w", parseErr)
			}
			c.state.CooldownUntil = t
		}
		return nil
	case errors.Is(err, sql.ErrNoRows):
		c.state = State{Mode: ModeLive}
		return c.persistLocked(ctx)
	default:
		return fmt.Errorf("mode: 读取状态失败: %w", err)
	}
}

func (c *Controller) persistLocked(ctx context.Context) error {
	cooldownStr := ""
	if !c.state.CooldownUntil.IsZero() {
		cooldownStr = c.state.CooldownUntil.UTC().Format(time.RFC3339Nano)
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO mode_state (account_id, mode, consecutive_failures, consecutive_successes, cooldown_until, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET
			mode = excluded.mode,
			consecutive_failures = excluded.consecutive_failures,
			consecutive_successes = excluded.consecutive_successes,
			cooldown_until = excluded.cooldown_until,
			updated_at = excluded.updated_at`,
		c.accountID, string(c.state.Mode), c.state.ConsecutiveFailures, c.state.ConsecutiveSuccesses,
		cooldownStr, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("mode: 写入状态失败: %w", err)
	}
	return nil
}

// ActiveMode 返回当前订单应路由到的端点。
func (c *Controller) ActiveMode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Mode
}

// Snapshot 返回状态副本。
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RecordFailure 记录一次终局执行失败。实盘下连续失败达到阈值即降级到模拟盘；
// 模拟盘下失败清零成功计数，冷却已过期时顺延冷却窗口。返回最新状态与是否发生切换。
func (c *Controller) RecordFailure(ctx context.Context, now time.Time) (State, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false

	switch c.state.Mode {
	case ModeLive:
		c.state.ConsecutiveFailures++
		if c.state.ConsecutiveFailures >= c.cfg.FailureThreshold {
			c.state.Mode = ModePaper
			c.state.ConsecutiveFailures = 0
			c.state.ConsecutiveSuccesses = 0
			c.state.CooldownUntil = now.Add(c.cfg.Cooldown).UTC()
			changed = true
		}
	case ModePaper:
		c.state.ConsecutiveSuccesses = 0
		if !now.Before(c.state.CooldownUntil) {
			c.state.CooldownUntil = now.Add(c.cfg.Cooldown).UTC()
		}
	}

	if err := c.persistLocked(ctx); err != nil {
		return c.state, false, err
	}

	if changed {
		c.logger.Warn("连续失败达到阈值，交易降级到模拟盘",
			zap.String("account", c.accountID),
			zap.Time("cooldown_until", c.state.CooldownUntil),
		)
		c.notify(ctx, fmt.Sprintf("账户 %s 连续失败，已切换到模拟盘，冷却至 %s",
			c.accountID, c.state.CooldownUntil.Format(time.RFC3339)))
	}

	return c.state, changed, nil
}

// RecordSuccess 记录一次成功执行。实盘下清零失败计数；模拟盘下累计成功，
// 冷却期结束且成功数达到阈值时恢复实盘。返回最新状态与是否发生切换。
func (c *Controller) RecordSuccess(ctx context.Context, now time.Time) (State, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false

	switch c.state.Mode {
	case ModeLive:
		c.state.ConsecutiveFailures = 0
	case ModePaper:
		c.state.ConsecutiveSuccesses++
		if !now.Before(c.state.CooldownUntil) && c.state.ConsecutiveSuccesses >= c.cfg.SuccessThreshold {
			c.state.Mode = ModeLive
			c.state.ConsecutiveFailures = 0
			c.state.ConsecutiveSuccesses = 0
			c.state.CooldownUntil = time.Time{}
			changed = true
		}
	}

	if err := c.persistLocked(ctx); err != nil {
		return c.state, false, err
	}

	if changed {
		c.logger.Info("模拟盘连续成功，恢复实盘交易", zap.String("account", c.accountID))
		c.notify(ctx, fmt.Sprintf("账户 %s 冷却结束且模拟验证通过，已恢复实盘", c.accountID))
	}

	return c.state, changed, nil
}

func (c *Controller) notify(ctx context.Context, message string) {
	if c.notifier == nil {
		return
	}
	c.notifier.Notify(ctx, message)
}
