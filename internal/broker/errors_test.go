package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryable_BrokerErrorKinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"retryable", NewRetryable("submit_order", errors.New("timeout")), true},
		{"terminal", NewTerminal("submit_order", "insufficient buying power", nil), false},
		{"wrapped retryable", fmt.Errorf("cycle failed: %w", NewRetryable("submit_order", errors.New("rate limit"))), true},
		{"wrapped terminal", fmt.Errorf("cycle failed: %w", NewTerminal("submit_order", "bad symbol", nil)), false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestClassify_WrapsWithKind(t *testing.T) {
	base := errors.New("connection reset")
	err := classify("fetch_ticker", NewRetryable("fetch_ticker", base))
	if !IsRetryable(err) {
		t.Errorf("classified retryable error lost its kind: %v", err)
	}

	var brokerErr *Error
	if !errors.As(err, &brokerErr) {
		t.Fatalf("classify should produce *broker.Error, got %T", err)
	}
	if !errors.Is(err, base) {
		t.Errorf("classified error should unwrap to the cause")
	}
}
