// Package monitor 将交易过程中的关键事件落盘，供外部查询与复盘。
package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stock-trader/internal/broker"
	"stock-trader/internal/execution"
	"stock-trader/internal/ledger"
	"stock-trader/internal/mode"
	"stock-trader/internal/store"
)

// Service 负责持久化监控事件。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		string(event.Type), string(payload), event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// RecordSettlement 记录在途资金释放。
func (s *Service) RecordSettlement(ctx context.Context, released decimal.Decimal, state ledger.AccountState) {
	if err := s.Record(ctx, Event{
		Type:      EventSettlement,
		Timestamp: time.Now().UTC(),
		Payload: SettlementPayload{
			Released: released.StringFixed(2),
			Cash:     state.Cash.StringFixed(2),
		},
	}); err != nil {
		s.logger.Warn("记录交收事件失败", zap.Error(err))
	}
}

// RecordRiskDenial 记录风控拒绝。
func (s *Service) RecordRiskDenial(ctx context.Context, symbol string, side broker.Side, reason string) {
	if err := s.Record(ctx, Event{
		Type:      EventRiskDenial,
		Timestamp: time.Now().UTC(),
		Payload: RiskDenialPayload{
			Symbol: symbol,
			Side:   string(side),
			Reason: reason,
		},
	}); err != nil {
		s.logger.Warn("记录风控事件失败", zap.Error(err))
	}
}

// RecordExecution 记录订单执行结果。
func (s *Service) RecordExecution(ctx context.Context, activeMode mode.Mode, result execution.Result) {
	outcome := string(OutcomeOf(result))
	if err := s.Record(ctx, Event{
		Type:      EventExecution,
		Timestamp: time.Now().UTC(),
		Payload: ExecutionPayload{
			Symbol:   result.Request.Symbol,
			Side:     string(result.Request.Side),
			Qty:      result.Request.Qty,
			Price:    result.Request.Price.StringFixed(2),
			OrderID:  result.OrderID,
			Attempts: len(result.Attempts),
			Outcome:  outcome,
			Mode:     string(activeMode),
		},
	}); err != nil {
		s.logger.Warn("记录执行事件失败", zap.Error(err))
	}
}

// OutcomeOf 返回一次执行的最终结果，无尝试记录时视为终态失败。
func OutcomeOf(result execution.Result) execution.Outcome {
	if len(result.Attempts) == 0 {
		return execution.OutcomeTerminal
	}
	return result.Attempts[len(result.Attempts)-1].Outcome
}

// RecordSnapshot 记录账户现金、在途与持仓快照。
func (s *Service) RecordSnapshot(ctx context.Context, state ledger.AccountState) {
	pendingTotal := decimal.Zero
	for _, p := range state.Pending {
		pendingTotal = pendingTotal.Add(p.Amount)
	}
	if err := s.Record(ctx, Event{
		Type:      EventAccountSnapshot,
		Timestamp: time.Now().UTC(),
		Payload: AccountSnapshotPayload{
			Cash:         state.Cash.StringFixed(2),
			PendingCount: len(state.Pending),
			PendingTotal: pendingTotal.StringFixed(2),
			Positions:    state.Positions,
		},
	}); err != nil {
		s.logger.Warn("记录账户快照失败", zap.Error(err))
	}
}

// RecordModeChange 记录实盘/模拟盘切换。
func (s *Service) RecordModeChange(ctx context.Context, from, to mode.Mode, cooldownUntil time.Time) {
	if err := s.Record(ctx, Event{
		Type:      EventModeChange,
		Timestamp: time.Now().UTC(),
		Payload: ModeChangePayload{
			From:          string(from),
			To:            string(to),
			CooldownUntil: cooldownUntil,
		},
	}); err != nil {
		s.logger.Warn("记录模式切换事件失败", zap.Error(err))
	}
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Error:   err.Error(),
		Context: ctxMap,
	}
	if recErr := s.Record(ctx, Event{
		Type:      EventError,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); recErr != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(recErr))
	}
}

// ListEvents 按类型检索最近事件。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, payload, created_at FROM monitor_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
