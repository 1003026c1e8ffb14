package risk

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stock-trader/internal/store"
)

// Tracker 按账户和标的记录最近成交时间，落盘在 SQLite 中，
// 供冷却规则在进程重启后继续生效。
type Tracker struct {
	db        *sql.DB
	accountID string
}

// NewTracker 初始化成交时间记录器并建表。
func NewTracker(st *store.Store, accountID string) (*Tracker, error) {
	t := &Tracker{db: st.DB(), accountID: accountID}
	if err := t.initSchema(context.Background()); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tracker) initSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS risk_cooldowns (
    account_id     TEXT NOT NULL,
    symbol         TEXT NOT NULL,
    last_trade_at  TEXT NOT NULL,
    PRIMARY KEY (account_id, symbol)
);`
	if _, err := t.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("初始化冷却记录表失败: %w", err)
	}
	return nil
}

// MarkTrade 记录一次成交时间，覆盖同标的的旧记录。
func (t *Tracker) MarkTrade(ctx context.Context, symbol string, at time.Time) error {
	const query = `
INSERT INTO risk_cooldowns (account_id, symbol, last_trade_at)
VALUES (?, ?, ?)
ON CONFLICT(account_id, symbol) DO UPDATE SET last_trade_at = excluded.last_trade_at;`
	if _, err := t.db.ExecContext(ctx, query, t.accountID, symbol, at.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("写入冷却记录失败: %w", err)
	}
	return nil
}

// LastTrade 返回标的最近一次成交时间，无记录时 ok 为 false。
func (t *Tracker) LastTrade(ctx context.Context, symbol string) (time.Time, bool, error) {
	const query = `SELECT last_trade_at FROM risk_cooldowns WHERE account_id = ? AND symbol = ?;`
	var raw string
	err := t.db.QueryRowContext(ctx, query, t.accountID, symbol).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("读取冷却记录失败: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("解析冷却记录时间失败: %w", err)
	}
	return at, true, nil
}
