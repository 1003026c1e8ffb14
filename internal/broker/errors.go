package broker

import (
	"context"
	"errors"
	"fmt"
	"net"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

// Kind 区分可重试与终局失败。
type Kind int

const (
	// KindRetryable 表示瞬时故障（网络、超时、限频），值得重试。
	KindRetryable Kind = iota
	// KindTerminal 表示该订单按当前参数永远无法成交（资金不足、非法标的等）。
	KindTerminal
)

// Error 是券商侧失败的统一包装，携带失败种类与可读信息。
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("broker: %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("broker: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewRetryable 构造可重试错误。
func NewRetryable(op string, err error) *Error {
	return &Error{Kind: KindRetryable, Op: op, Err: err}
}

// NewTerminal 构造终局错误。
func NewTerminal(op, message string, err error) *Error {
	return &Error{Kind: KindTerminal, Op: op, Message: message, Err: err}
}

// IsRetryable 判断错误是否可重试。未包装的 ccxt 与网络错误也会被归类。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var brokerErr *Error
	if errors.As(err, &brokerErr) {
		return brokerErr.Kind == KindRetryable
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType,
			ccxt.OnMaintenanceErrType:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}

// classify 把底层调用错误包装为带种类的 broker.Error。
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsRetryable(err) {
		return NewRetryable(op, err)
	}
	return &Error{Kind: KindTerminal, Op: op, Err: err}
}
