package execution

import (
	"time"

	"github.com/shopspring/decimal"

	"stock-trader/internal/broker"
)

// Outcome 描述单次提交尝试的结果。
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRetryable Outcome = "retryable_error"
	OutcomeTerminal  Outcome = "terminal_error"
)

// Request 描述一次待执行的交易。价格由调用方在周期内取得并传入。
type Request struct {
	Symbol string
	Side   broker.Side
	Qty    int64
	Price  decimal.Decimal
}

// Cost 返回委托的名义金额。
func (r Request) Cost() decimal.Decimal {
	return r.Price.Mul(decimal.NewFromInt(r.Qty))
}

// Attempt 为一次提交尝试的临时记录，仅存在于执行日志中。
type Attempt struct {
	Number        int
	ClientOrderID string
	Outcome       Outcome
	ErrorDetail   string
}

// Result 汇总一次执行：预留、提交尝试与最终落账情况。
// Committed 与 Refunded 不会同时为真；买入预留二者必居其一。
type Result struct {
	Request    Request
	OrderID    string
	Attempts   []Attempt
	Reserved   decimal.Decimal
	Committed  bool
	Refunded   bool
	ExecutedAt time.Time
}
