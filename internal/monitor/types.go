package monitor

import (
	"time"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventSettlement      EventType = "settlement"
	EventRiskDenial      EventType = "risk_denial"
	EventExecution       EventType = "execution"
	EventAccountSnapshot EventType = "account_snapshot"
	EventModeChange      EventType = "mode_change"
	EventError           EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// SettlementPayload 记录一次交收释放。
type SettlementPayload struct {
	Released string `json:"released"`
	Cash     string `json:"cash"`
}

// RiskDenialPayload 记录风控拒绝。
type RiskDenialPayload struct {
	Symbol string `json:"symbol"`
	Side   string `json:"side"`
	Reason string `json:"reason"`
}

// ExecutionPayload 记录订单执行结果。
type ExecutionPayload struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Qty      int64  `json:"qty"`
	Price    string `json:"price"`
	OrderID  string `json:"order_id,omitempty"`
	Attempts int    `json:"attempts"`
	Outcome  string `json:"outcome"`
	Mode     string `json:"mode"`
}

// AccountSnapshotPayload 追踪账户现金、在途资金与持仓。
type AccountSnapshotPayload struct {
	Cash         string           `json:"cash"`
	PendingCount int              `json:"pending_count"`
	PendingTotal string           `json:"pending_total"`
	Positions    map[string]int64 `json:"positions"`
}

// ModeChangePayload 记录实盘/模拟盘切换。
type ModeChangePayload struct {
	From          string    `json:"from"`
	To            string    `json:"to"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
