package signal

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"stock-trader/internal/broker"
	"stock-trader/internal/config"
)

func flatCandles(n int, price float64) []broker.Candle {
	candles := make([]broker.Candle, n)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		candles[i] = broker.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    1000,
		}
	}
	return candles
}

func TestRelativeATRFromCandles(t *testing.T) {
	candles := flatCandles(40, 100)
	rel, err := RelativeATRFromCandles(candles)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rel != 0 {
		t.Fatalf("flat series should have zero ATR, got %f", rel)
	}

	// 放大最后一根K线的波动，相对 ATR 应随之上升。
	candles[len(candles)-1].High = 110
	candles[len(candles)-1].Low = 90
	rel, err = RelativeATRFromCandles(candles)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rel <= 0 {
		t.Fatalf("volatile series should have positive relative ATR, got %f", rel)
	}
	if math.IsNaN(rel) || rel > 1 {
		t.Fatalf("relative ATR out of range: %f", rel)
	}
}

func TestRelativeATRFromCandles_TooFewCandles(t *testing.T) {
	if _, err := RelativeATRFromCandles(flatCandles(5, 100)); err == nil {
		t.Fatal("expected error for insufficient history")
	}
}

func TestEconCalendar_BlockedAt(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	entries := []calendarEntry{
		{Event: "FOMC Rate Decision", Date: "2026-08-30 12:30:00"},
		{Event: "Housing Starts", Date: "2026-08-30 12:10:00"},
		{Event: "CPI Release", Date: "2026-09-02 08:30:00"},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("apikey") != "test-key" {
			t.Errorf("missing apikey query parameter")
		}
		_ = json.NewEncoder(w).Encode(entries)
	}))
	defer server.Close()

	calendar := NewEconCalendar(config.CalendarConfig{
		BaseURL:   server.URL,
		APIKey:    "test-key",
		Keywords:  []string{"fomc", "cpi"},
		Lookahead: 7 * 24 * time.Hour,
	}, time.Hour, zap.NewNop())

	blocked, event, err := calendar.BlockedAt(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !blocked {
		t.Fatal("expected blackout within one hour of FOMC decision")
	}
	if event != "FOMC Rate Decision" {
		t.Fatalf("event = %q, want FOMC Rate Decision", event)
	}

	// CPI 在两天后，关键字命中但不在窗口内；Housing Starts 不命中关键字。
	later := now.Add(6 * time.Hour)
	blocked, _, err = calendar.BlockedAt(context.Background(), later)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blocked {
		t.Fatal("no keyword event within window, expected no blackout")
	}
}

func TestEconCalendar_CachesResponses(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte("[]"))
	}))
	defer server.Close()

	calendar := NewEconCalendar(config.CalendarConfig{
		BaseURL:   server.URL,
		Lookahead: 24 * time.Hour,
	}, time.Hour, zap.NewNop())

	now := time.Now()
	for i := 0; i < 3; i++ {
		if _, _, err := calendar.BlockedAt(context.Background(), now.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single upstream fetch, got %d", calls)
	}
}

func TestParseAssessment(t *testing.T) {
	assessment, err := parseAssessment("噪声 {\"sentiment\":\"bullish\",\"confidence\":0.8,\"reason\":\"突破\"} 尾部")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !assessment.Bullish() {
		t.Fatalf("expected bullish assessment, got %+v", assessment)
	}

	if _, err := parseAssessment("{\"sentiment\":\"sideways\",\"confidence\":0.5}"); err == nil {
		t.Fatal("expected error for unknown sentiment label")
	}
	if _, err := parseAssessment("{\"sentiment\":\"bullish\",\"confidence\":1.5}"); err == nil {
		t.Fatal("expected error for out-of-range confidence")
	}
	if _, err := parseAssessment("no json here"); err == nil {
		t.Fatal("expected error for missing JSON")
	}
}

func TestAdvisor_NopWithoutAPIKey(t *testing.T) {
	advisor := NewAdvisor(config.OpenAIConfig{}, zap.NewNop())
	assessment, err := advisor.Assess(context.Background(), "AAPL", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if assessment.Bullish() {
		t.Fatal("nop advisor must never report a bullish signal")
	}
}
