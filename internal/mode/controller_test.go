package mode

import (
	"context"
	"testing"
	"time"

	"stock-trader/internal/store"
)

type recordingNotifier struct {
	messages []string
}

func (r *recordingNotifier) Notify(ctx context.Context, message string) {
	r.messages = append(r.messages, message)
}

func newTestController(t *testing.T) (*Controller, *recordingNotifier, *store.Store) {
	t.Helper()

	st, err := store.NewMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	notifier := &recordingNotifier{}
	c, err := NewController(st, "test", Thresholds{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Cooldown:         time.Hour,
	}, notifier, nil)
	if err != nil {
		t.Fatalf("create controller: %v", err)
	}
	return c, notifier, st
}

func TestController_StartsLiveWithZeroCounters(t *testing.T) {
	c, _, _ := newTestController(t)

	s := c.Snapshot()
	if s.Mode != ModeLive {
		t.Errorf("initial mode = %s, want live", s.Mode)
	}
	if s.ConsecutiveFailures != 0 || s.ConsecutiveSuccesses != 0 || !s.CooldownUntil.IsZero() {
		t.Errorf("initial counters not zeroed: %+v", s)
	}
}

func TestController_ThreeFailuresDemoteToPaper(t *testing.T) {
	c, notifier, _ := newTestController(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		s, changed, err := c.RecordFailure(ctx, now)
		if err != nil {
			t.Fatalf("record failure: %v", err)
		}
		if changed || s.Mode != ModeLive {
			t.Fatalf("premature demotion after %d failures: %+v", i+1, s)
		}
	}

	s, changed, err := c.RecordFailure(ctx, now)
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if !changed || s.Mode != ModePaper {
		t.Fatalf("expected demotion on third failure, got %+v", s)
	}
	if s.ConsecutiveFailures != 0 {
		t.Errorf("failure counter should reset on demotion, got %d", s.ConsecutiveFailures)
	}
	if !s.CooldownUntil.Equal(now.Add(time.Hour)) {
		t.Errorf("cooldown_until = %s, want %s", s.CooldownUntil, now.Add(time.Hour))
	}
	if len(notifier.messages) != 1 {
		t.Errorf("expected one mode-change notification, got %d", len(notifier.messages))
	}
}

func TestController_SuccessResetsLiveFailures(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, _, _ = c.RecordFailure(ctx, now)
	_, _, _ = c.RecordFailure(ctx, now)
	s, _, err := c.RecordSuccess(ctx, now)
	if err != nil {
		t.Fatalf("record success: %v", err)
	}
	if s.ConsecutiveFailures != 0 {
		t.Errorf("live success should reset failures, got %d", s.ConsecutiveFailures)
	}

	// 之前的失败不再累计，需要重新数满3次。
	_, changed, _ := c.RecordFailure(ctx, now)
	if changed {
		t.Errorf("single failure after reset must not demote")
	}
}

func demoteToPaper(t *testing.T, c *Controller, now time.Time) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, _, err := c.RecordFailure(ctx, now); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}
	if c.ActiveMode() != ModePaper {
		t.Fatalf("setup failed: expected paper mode")
	}
}

func TestController_PromotionAfterCooldownAndSuccesses(t *testing.T) {
	c, notifier, _ := newTestController(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	demoteToPaper(t, c, now)

	after := now.Add(2 * time.Hour) // 冷却已过

	s, changed, err := c.RecordSuccess(ctx, after)
	if err != nil {
		t.Fatalf("record success: %v", err)
	}
	if changed || s.Mode != ModePaper {
		t.Fatalf("one success must not promote: %+v", s)
	}

	s, changed, err = c.RecordSuccess(ctx, after)
	if err != nil {
		t.Fatalf("record success: %v", err)
	}
	if !changed || s.Mode != ModeLive {
		t.Fatalf("expected promotion on second success, got %+v", s)
	}
	if s.ConsecutiveSuccesses != 0 || !s.CooldownUntil.IsZero() {
		t.Errorf("promotion should clear counters and cooldown: %+v", s)
	}
	if len(notifier.messages) != 2 {
		t.Errorf("expected demotion+promotion notifications, got %d", len(notifier.messages))
	}
}

func TestController_NoPromotionDuringCooldown(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	demoteToPaper(t, c, now)

	during := now.Add(30 * time.Minute)
	for i := 0; i < 5; i++ {
		s, changed, err := c.RecordSuccess(ctx, during)
		if err != nil {
			t.Fatalf("record success: %v", err)
		}
		if changed || s.Mode != ModePaper {
			t.Fatalf("promotion before cooldown elapsed: %+v", s)
		}
	}
}

func TestController_PaperFailureResetsSuccesses(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	demoteToPaper(t, c, now)

	after := now.Add(2 * time.Hour)
	_, _, _ = c.RecordSuccess(ctx, after)

	s, changed, err := c.RecordFailure(ctx, after)
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if changed || s.Mode != ModePaper {
		t.Fatalf("paper failure must not change mode: %+v", s)
	}
	if s.ConsecutiveSuccesses != 0 {
		t.Errorf("paper failure should reset success counter, got %d", s.ConsecutiveSuccesses)
	}
	// 冷却已过期时失败会顺延冷却窗口。
	if !s.CooldownUntil.Equal(after.Add(time.Hour)) {
		t.Errorf("cooldown should be extended to %s, got %s", after.Add(time.Hour), s.CooldownUntil)
	}
}

func TestController_StateSurvivesReopen(t *testing.T) {
	c, _, st := newTestController(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	demoteToPaper(t, c, now)
	_, _, _ = c.RecordSuccess(ctx, now.Add(2*time.Hour))

	reopened, err := NewController(st, "test", Thresholds{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Cooldown:         time.Hour,
	}, nil, nil)
	if err != nil {
		t.Fatalf("reopen controller: %v", err)
	}

	s := reopened.Snapshot()
	if s.Mode != ModePaper {
		t.Errorf("mode not recovered, got %s", s.Mode)
	}
	if s.ConsecutiveSuccesses != 1 {
		t.Errorf("success counter not recovered, got %d", s.ConsecutiveSuccesses)
	}
}
