package broker

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

type staticQuote struct {
	price decimal.Decimal
}

func (s *staticQuote) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return s.price, nil
}

func (s *staticQuote) SubmitOrder(ctx context.Context, req OrderRequest) (string, error) {
	return "", NewTerminal("submit_order", "quote source cannot trade", nil)
}

func TestPaperBroker_FillsAtLatestPrice(t *testing.T) {
	quotes := &staticQuote{price: decimal.RequireFromString("480.00")}
	paper := NewPaperBroker(quotes, nil)

	orderID, err := paper.SubmitOrder(context.Background(), OrderRequest{
		Symbol: "AAPL",
		Side:   SideBuy,
		Qty:    2,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if orderID == "" {
		t.Errorf("expected generated order id")
	}

	fills := paper.Fills()
	if len(fills) != 1 {
		t.Fatalf("expected one fill, got %d", len(fills))
	}
	if !fills[0].Price.Equal(decimal.RequireFromString("480.00")) {
		t.Errorf("fill price = %s, want 480.00", fills[0].Price)
	}
	if fills[0].Qty != 2 || fills[0].Side != SideBuy {
		t.Errorf("unexpected fill: %+v", fills[0])
	}
}

func TestPaperBroker_UsesLimitPriceWhenGiven(t *testing.T) {
	quotes := &staticQuote{price: decimal.RequireFromString("480.00")}
	paper := NewPaperBroker(quotes, nil)

	_, err := paper.SubmitOrder(context.Background(), OrderRequest{
		Symbol:        "AAPL",
		Side:          SideSell,
		Qty:           1,
		LimitPrice:    decimal.RequireFromString("520.00"),
		ClientOrderID: "c-1",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	fills := paper.Fills()
	if !fills[0].Price.Equal(decimal.RequireFromString("520.00")) {
		t.Errorf("fill should honor limit price, got %s", fills[0].Price)
	}
	if fills[0].OrderID != "c-1" {
		t.Errorf("fill should keep the client order id, got %s", fills[0].OrderID)
	}
}

func TestPaperBroker_RejectsNonPositiveQty(t *testing.T) {
	paper := NewPaperBroker(&staticQuote{price: decimal.New(1, 0)}, nil)

	_, err := paper.SubmitOrder(context.Background(), OrderRequest{Symbol: "AAPL", Side: SideBuy, Qty: 0})
	if IsRetryable(err) || err == nil {
		t.Fatalf("expected terminal error for zero quantity, got %v", err)
	}
}
