package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// PendingSettlement 表示一笔尚未到账的卖出资金，创建后不可变。
type PendingSettlement struct {
	Amount      decimal.Decimal
	ReleaseTime time.Time
}

// AccountState 为账户的只读快照。
type AccountState struct {
	AccountID string
	Cash      decimal.Decimal
	Pending   []PendingSettlement
	Positions map[string]int64
}

// Clone 返回快照的深拷贝，调用方可以安全持有。
func (s AccountState) Clone() AccountState {
	out := AccountState{
		AccountID: s.AccountID,
		Cash:      s.Cash,
		Pending:   make([]PendingSettlement, len(s.Pending)),
		Positions: make(map[string]int64, len(s.Positions)),
	}
	copy(out.Pending, s.Pending)
	for sym, qty := range s.Positions {
		out.Positions[sym] = qty
	}
	return out
}
