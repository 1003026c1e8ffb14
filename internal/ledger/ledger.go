package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stock-trader/internal/store"
)

// Options 控制账本的初始状态与持仓策略。
type Options struct {
	AccountID    string
	StartingCash decimal.Decimal
	// StrictPositions 为 true 时，卖出数量超过持仓返回 ErrInsufficientPosition；
	// 为 false 时沿用历史行为：直接清空整个持仓。
	StrictPositions bool
}

// Ledger 维护单个账户的现金、待交收资金与持仓。
// 所有修改操作内部串行执行，并在返回前将完整快照写入数据库。
type Ledger struct {
	mu      sync.Mutex
	db      *sql.DB
	logger  *zap.Logger
	opts    Options
	state   AccountState
	nextSeq int64
}

// New 创建账本并加载持久化状态，账户首次出现时使用初始资金落库。
func New(st *store.Store, opts Options, logger *zap.Logger) (*Ledger, error) {
	if st == nil {
		return nil, errors.New("ledger: store 不能为空")
	}
	if opts.AccountID == "" {
		return nil, errors.New("ledger: 账户ID不能为空")
	}
	if opts.StartingCash.IsNegative() {
		return nil, errors.New("ledger: 初始资金不能为负")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Ledger{
		db:     st.DB(),
		logger: logger,
		opts:   opts,
	}

	if err := l.initSchema(); err != nil {
		return nil, err
	}
	if err := l.load(context.Background()); err != nil {
		return nil, err
	}

	return l, nil
}

func (l *Ledger) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS ledger_accounts (
			account_id TEXT PRIMARY KEY,
			cash TEXT NOT NULL,
			next_seq INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ledger_settlements (
			account_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			amount TEXT NOT NULL,
			release_time TEXT NOT NULL,
			PRIMARY KEY (account_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS ledger_positions (
			account_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			qty INTEGER NOT NULL,
			PRIMARY KEY (account_id, symbol)
		);`,
	}

	for _, stmt := range schema {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("ledger: 初始化表结构失败: %w", err)
		}
	}

	return nil
}

func (l *Ledger) load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	state := AccountState{
		AccountID: l.opts.AccountID,
		Cash:      l.opts.StartingCash,
		Positions: make(map[string]int64),
	}

	var cashStr string
	row := l.db.QueryRowContext(ctx,
		`SELECT cash, next_seq FROM ledger_accounts WHERE account_id = ?`, l.opts.AccountID)
	switch err := row.Scan(&cashStr, &l.nextSeq); {
	case err == nil:
		cash, parseErr := decimal.NewFromString(cashStr)
		if parseErr != nil {
			return fmt.Errorf("ledger: 解析现金余额失败: %w", parseErr)
		}
		state.Cash = cash
	case errors.Is(err, sql.ErrNoRows):
		l.state = state
		if persistErr := l.persistLocked(ctx, state); persistErr != nil {
			return persistErr
		}
		l.logger.Info("账户首次初始化",
			zap.String("account", l.opts.AccountID),
			zap.String("starting_cash", state.Cash.String()),
		)
		return nil
	default:
		return fmt.Errorf("ledger: 读取账户失败: %w", err)
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT amount, release_time FROM ledger_settlements WHERE account_id = ? ORDER BY seq`,
		l.opts.AccountID)
	if err != nil {
		return fmt.Errorf("ledger: 读取待交收记录失败: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var amountStr, releaseStr string
		if err := rows.Scan(&amountStr, &releaseStr); err != nil {
			return fmt.Errorf("ledger: 扫描待交收记录失败: %w", err)
		}
		amount, parseErr := decimal.NewFromString(amountStr)
		if parseErr != nil {
			return fmt.Errorf("ledger: 解析待交收金额失败: %w", parseErr)
		}
		release, parseErr := time.Parse(time.RFC3339Nano, releaseStr)
		if parseErr != nil {
			return fmt.Errorf("ledger: 解析交收时间失败: %w", parseErr)
		}
		state.Pending = append(state.Pending, PendingSettlement{Amount: amount, ReleaseTime: release})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("ledger: 遍历待交收记录失败: %w", err)
	}

	posRows, err := l.db.QueryContext(ctx,
		`SELECT symbol, qty FROM ledger_positions WHERE account_id = ?`, l.opts.AccountID)
	if err != nil {
		return fmt.Errorf("ledger: 读取持仓失败: %w", err)
	}
	defer posRows.Close()

	for posRows.Next() {
		var symbol string
		var qty int64
		if err := posRows.Scan(&symbol, &qty); err != nil {
			return fmt.Errorf("ledger: 扫描持仓失败: %w", err)
		}
		if qty > 0 {
			state.Positions[symbol] = qty
		}
	}
	if err := posRows.Err(); err != nil {
		return fmt.Errorf("ledger: 遍历持仓失败: %w", err)
	}

	l.state = state
	return nil
}

// persistLocked 在一个事务中写入完整账户快照，调用方必须持有 l.mu。
func (l *Ledger) persistLocked(ctx context.Context, state AccountState) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: 开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO ledger_accounts (account_id, cash, next_seq, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET cash = excluded.cash, next_seq = excluded.next_seq, updated_at = excluded.updated_at`,
		state.AccountID, state.Cash.String(), l.nextSeq, now,
	); err != nil {
		err = fmt.Errorf("ledger: 写入账户失败: %w", err)
		return err
	}

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM ledger_settlements WHERE account_id = ?`, state.AccountID); err != nil {
		err = fmt.Errorf("ledger: 清理待交收记录失败: %w", err)
		return err
	}
	for i, p := range state.Pending {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO ledger_settlements (account_id, seq, amount, release_time) VALUES (?, ?, ?, ?)`,
			state.AccountID, int64(i), p.Amount.String(), p.ReleaseTime.UTC().Format(time.RFC3339Nano),
		); err != nil {
			err = fmt.Errorf("ledger: 写入待交收记录失败: %w", err)
			return err
		}
	}

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM ledger_positions WHERE account_id = ?`, state.AccountID); err != nil {
		err = fmt.Errorf("ledger: 清理持仓失败: %w", err)
		return err
	}
	for symbol, qty := range state.Positions {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO ledger_positions (account_id, symbol, qty) VALUES (?, ?, ?)`,
			state.AccountID, symbol, qty,
		); err != nil {
			err = fmt.Errorf("ledger: 写入持仓失败: %w", err)
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ledger: 提交事务失败: %w", err)
	}

	l.state = state
	return nil
}

// Snapshot 返回账户当前的深拷贝快照。
func (l *Ledger) Snapshot() AccountState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Clone()
}

// Cash 返回当前可用现金。
func (l *Ledger) Cash() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Cash
}

// Position 返回指定标的的持仓数量，无持仓时为 0。
func (l *Ledger) Position(symbol string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Positions[symbol]
}

// DeductCash 在余额充足时扣减现金，否则返回 ErrInsufficientFunds 且不做任何修改。
func (l *Ledger) DeductCash(ctx context.Context, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.Cash.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}

	next := l.state.Clone()
	next.Cash = next.Cash.Sub(amount)
	return l.persistLocked(ctx, next)
}

// RefundCash 无条件把金额加回现金，用于回滚已扣减的订单预留。
func (l *Ledger) RefundCash(ctx context.Context, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.state.Clone()
	next.Cash = next.Cash.Add(amount)
	return l.persistLocked(ctx, next)
}

// AddPendingSettlement 追加一笔在 now+delay 到账的待交收资金。
func (l *Ledger) AddPendingSettlement(ctx context.Context, amount decimal.Decimal, delay time.Duration, now time.Time) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.state.Clone()
	next.Pending = append(next.Pending, PendingSettlement{
		Amount:      amount,
		ReleaseTime: now.Add(delay).UTC(),
	})
	l.nextSeq++
	return l.persistLocked(ctx, next)
}

// AddPosition 增加指定标的的持仓。
func (l *Ledger) AddPosition(ctx context.Context, symbol string, qty int64) error {
	if qty <= 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.state.Clone()
	next.Positions[symbol] += qty
	return l.persistLocked(ctx, next)
}

// RemovePosition 减少持仓，降到 0 时删除键。宽松模式下卖出数量超过持仓
// 会清空整个持仓而不报错；严格模式下返回 ErrInsufficientPosition。
func (l *Ledger) RemovePosition(ctx context.Context, symbol string, qty int64) error {
	if qty <= 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.state.Positions[symbol]
	if qty > current && l.opts.StrictPositions {
		return ErrInsufficientPosition
	}

	next := l.state.Clone()
	if qty >= current {
		delete(next.Positions, symbol)
	} else {
		next.Positions[symbol] = current - qty
	}
	return l.persistLocked(ctx, next)
}

// Reset 把账户恢复到初始资金，清空待交收与持仓。
func (l *Ledger) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := AccountState{
		AccountID: l.opts.AccountID,
		Cash:      l.opts.StartingCash,
		Positions: make(map[string]int64),
	}
	l.nextSeq = 0
	return l.persistLocked(ctx, next)
}
