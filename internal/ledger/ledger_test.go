package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stock-trader/internal/store"
)

func newTestLedger(t *testing.T, startingCash string, strict bool) (*Ledger, *store.Store) {
	t.Helper()

	st, err := store.NewMemory()
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	l, err := New(st, Options{
		AccountID:       "test",
		StartingCash:    decimal.RequireFromString(startingCash),
		StrictPositions: strict,
	}, nil)
	if err != nil {
		t.Fatalf("create ledger: %v", err)
	}
	return l, st
}

func TestDeductCash_InsufficientFundsLeavesStateUnchanged(t *testing.T) {
	l, _ := newTestLedger(t, "50.00", false)
	ctx := context.Background()

	err := l.DeductCash(ctx, decimal.RequireFromString("480.00"))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := l.Cash(); !got.Equal(decimal.RequireFromString("50.00")) {
		t.Errorf("cash mutated on denied deduct: %s", got)
	}
}

func TestDeductCash_NeverGoesNegative(t *testing.T) {
	l, _ := newTestLedger(t, "100.00", false)
	ctx := context.Background()

	amounts := []string{"60.00", "60.00", "40.00", "0.01"}
	for _, a := range amounts {
		_ = l.DeductCash(ctx, decimal.RequireFromString(a))
		if l.Cash().IsNegative() {
			t.Fatalf("cash went negative after deducting %s: %s", a, l.Cash())
		}
	}
	if !l.Cash().Equal(decimal.Zero) {
		t.Errorf("expected cash 0 after 60+40, got %s", l.Cash())
	}
}

func TestRefundCash_RestoresReservation(t *testing.T) {
	l, _ := newTestLedger(t, "700.00", false)
	ctx := context.Background()

	cost := decimal.RequireFromString("480.00")
	if err := l.DeductCash(ctx, cost); err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if err := l.RefundCash(ctx, cost); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if !l.Cash().Equal(decimal.RequireFromString("700.00")) {
		t.Errorf("expected 700.00 after refund, got %s", l.Cash())
	}
}

func TestBuySellSettlementScenario(t *testing.T) {
	l, _ := newTestLedger(t, "700.00", false)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC)

	// 买入 1 股 @480
	if err := l.DeductCash(ctx, decimal.RequireFromString("480.00")); err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if err := l.AddPosition(ctx, "SYM", 1); err != nil {
		t.Fatalf("add position: %v", err)
	}
	if !l.Cash().Equal(decimal.RequireFromString("220.00")) {
		t.Fatalf("expected cash 220.00 after buy, got %s", l.Cash())
	}
	if got := l.Position("SYM"); got != 1 {
		t.Fatalf("expected position 1, got %d", got)
	}

	// 卖出 @520，T+1 交收
	if err := l.RemovePosition(ctx, "SYM", 1); err != nil {
		t.Fatalf("remove position: %v", err)
	}
	if err := l.AddPendingSettlement(ctx, decimal.RequireFromString("520.00"), 24*time.Hour, now); err != nil {
		t.Fatalf("add settlement: %v", err)
	}

	snap := l.Snapshot()
	if _, ok := snap.Positions["SYM"]; ok {
		t.Errorf("position key should be removed after sell")
	}
	if !snap.Cash.Equal(decimal.RequireFromString("220.00")) {
		t.Errorf("cash should be unchanged until settlement, got %s", snap.Cash)
	}
	if len(snap.Pending) != 1 || !snap.Pending[0].Amount.Equal(decimal.RequireFromString("520.00")) {
		t.Fatalf("expected one pending settlement of 520.00, got %+v", snap.Pending)
	}

	// 到期前不释放
	released, err := l.ProcessSettlements(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("process settlements: %v", err)
	}
	if !released.IsZero() {
		t.Errorf("settlement released early: %s", released)
	}

	// 到期后释放
	released, err = l.ProcessSettlements(ctx, now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("process settlements: %v", err)
	}
	if !released.Equal(decimal.RequireFromString("520.00")) {
		t.Errorf("expected release of 520.00, got %s", released)
	}
	if !l.Cash().Equal(decimal.RequireFromString("740.00")) {
		t.Errorf("expected cash 740.00 after settlement, got %s", l.Cash())
	}
	if pending := l.Snapshot().Pending; len(pending) != 0 {
		t.Errorf("pending queue should be empty, got %d entries", len(pending))
	}
}

func TestProcessSettlements_Idempotent(t *testing.T) {
	l, _ := newTestLedger(t, "0.00", false)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	if err := l.AddPendingSettlement(ctx, decimal.RequireFromString("100.00"), time.Hour, now); err != nil {
		t.Fatalf("add settlement: %v", err)
	}

	at := now.Add(2 * time.Hour)
	first, err := l.ProcessSettlements(ctx, at)
	if err != nil {
		t.Fatalf("first process: %v", err)
	}
	if !first.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("expected 100.00 released, got %s", first)
	}

	second, err := l.ProcessSettlements(ctx, at)
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if !second.IsZero() {
		t.Errorf("second run should be a no-op, released %s", second)
	}
	if !l.Cash().Equal(decimal.RequireFromString("100.00")) {
		t.Errorf("cash changed on idempotent re-run: %s", l.Cash())
	}
}

func TestProcessSettlements_PreservesOrderAndConservesSum(t *testing.T) {
	l, _ := newTestLedger(t, "10.00", false)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	// 两笔到期，一笔未到期，校验释放总额等于现金增量。
	_ = l.AddPendingSettlement(ctx, decimal.RequireFromString("30.00"), time.Hour, now)
	_ = l.AddPendingSettlement(ctx, decimal.RequireFromString("70.00"), 2*time.Hour, now)
	_ = l.AddPendingSettlement(ctx, decimal.RequireFromString("55.00"), 48*time.Hour, now)

	before := l.Cash()
	released, err := l.ProcessSettlements(ctx, now.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("process settlements: %v", err)
	}
	if !released.Equal(decimal.RequireFromString("100.00")) {
		t.Errorf("expected 100.00 released, got %s", released)
	}
	if diff := l.Cash().Sub(before); !diff.Equal(released) {
		t.Errorf("cash increase %s does not match released sum %s", diff, released)
	}

	pending := l.Snapshot().Pending
	if len(pending) != 1 || !pending[0].Amount.Equal(decimal.RequireFromString("55.00")) {
		t.Errorf("expected single remaining settlement of 55.00, got %+v", pending)
	}
}

func TestRemovePosition_OversellRemovesWholePosition(t *testing.T) {
	l, _ := newTestLedger(t, "0.00", false)
	ctx := context.Background()

	if err := l.AddPosition(ctx, "SYM", 3); err != nil {
		t.Fatalf("add position: %v", err)
	}
	if err := l.RemovePosition(ctx, "SYM", 10); err != nil {
		t.Fatalf("lenient oversell should not error: %v", err)
	}
	if _, ok := l.Snapshot().Positions["SYM"]; ok {
		t.Errorf("oversell should remove the entire position")
	}
}

func TestRemovePosition_StrictRejectsOversell(t *testing.T) {
	l, _ := newTestLedger(t, "0.00", true)
	ctx := context.Background()

	if err := l.AddPosition(ctx, "SYM", 3); err != nil {
		t.Fatalf("add position: %v", err)
	}
	err := l.RemovePosition(ctx, "SYM", 10)
	if !errors.Is(err, ErrInsufficientPosition) {
		t.Fatalf("expected ErrInsufficientPosition, got %v", err)
	}
	if got := l.Position("SYM"); got != 3 {
		t.Errorf("position mutated on rejected oversell: %d", got)
	}
}

func TestRemovePosition_ZeroQuantityDeletesKey(t *testing.T) {
	l, _ := newTestLedger(t, "0.00", false)
	ctx := context.Background()

	_ = l.AddPosition(ctx, "SYM", 2)
	_ = l.RemovePosition(ctx, "SYM", 2)
	snap := l.Snapshot()
	if _, ok := snap.Positions["SYM"]; ok {
		t.Errorf("zero-quantity position should not retain its key")
	}
}

func TestLedger_PersistsAcrossReopen(t *testing.T) {
	l, st := newTestLedger(t, "700.00", false)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	_ = l.DeductCash(ctx, decimal.RequireFromString("480.00"))
	_ = l.AddPosition(ctx, "SYM", 1)
	_ = l.AddPendingSettlement(ctx, decimal.RequireFromString("13.37"), 24*time.Hour, now)

	reopened, err := New(st, Options{
		AccountID:    "test",
		StartingCash: decimal.RequireFromString("700.00"),
	}, nil)
	if err != nil {
		t.Fatalf("reopen ledger: %v", err)
	}

	snap := reopened.Snapshot()
	if !snap.Cash.Equal(decimal.RequireFromString("220.00")) {
		t.Errorf("cash not recovered, got %s", snap.Cash)
	}
	if snap.Positions["SYM"] != 1 {
		t.Errorf("position not recovered: %+v", snap.Positions)
	}
	if len(snap.Pending) != 1 || !snap.Pending[0].Amount.Equal(decimal.RequireFromString("13.37")) {
		t.Errorf("pending settlement not recovered: %+v", snap.Pending)
	}
}

func TestMutators_RejectNonPositiveAmounts(t *testing.T) {
	l, _ := newTestLedger(t, "100.00", false)
	ctx := context.Background()

	if err := l.DeductCash(ctx, decimal.Zero); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("DeductCash(0): expected ErrInvalidAmount, got %v", err)
	}
	if err := l.RefundCash(ctx, decimal.RequireFromString("-1")); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("RefundCash(-1): expected ErrInvalidAmount, got %v", err)
	}
	if err := l.AddPosition(ctx, "SYM", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("AddPosition(0): expected ErrInvalidAmount, got %v", err)
	}
	if err := l.RemovePosition(ctx, "SYM", -2); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("RemovePosition(-2): expected ErrInvalidAmount, got %v", err)
	}
}
