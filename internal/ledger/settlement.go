package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ProcessSettlements 把到期的待交收资金释放进现金，保持未到期部分的原始顺序。
// 同一时刻重复调用是幂等的：第二次不会产生任何变化。返回本次释放的总额。
func (l *Ledger) ProcessSettlements(ctx context.Context, now time.Time) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	released := decimal.Zero
	remaining := make([]PendingSettlement, 0, len(l.state.Pending))
	for _, p := range l.state.Pending {
		if !p.ReleaseTime.After(now) {
			released = released.Add(p.Amount)
		} else {
			remaining = append(remaining, p)
		}
	}

	if released.IsZero() {
		return decimal.Zero, nil
	}

	next := l.state.Clone()
	next.Cash = next.Cash.Add(released)
	next.Pending = remaining
	if err := l.persistLocked(ctx, next); err != nil {
		return decimal.Zero, err
	}

	l.logger.Info("待交收资金已释放",
		zap.String("account", l.state.AccountID),
		zap.String("released", released.String()),
		zap.Int("remaining", len(remaining)),
	)

	return released, nil
}
