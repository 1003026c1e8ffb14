package ledger

import "errors"

var (
	// ErrInsufficientFunds 表示可用现金不足，扣款被拒绝，账本保持不变。
	ErrInsufficientFunds = errors.New("ledger: 可用现金不足")

	// ErrInsufficientPosition 仅在严格持仓模式下返回，表示卖出数量超过持仓。
	ErrInsufficientPosition = errors.New("ledger: 持仓数量不足")

	// ErrInvalidAmount 表示调用方传入了非正的金额或数量，属于使用错误。
	ErrInvalidAmount = errors.New("ledger: 金额或数量必须为正")
)
