package hyperliquid

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network error", &NetworkError{Op: "allMids", Err: errors.New("dial tcp: i/o timeout")}, true},
		{"rate limited", &RateLimited{Op: "placeOrder"}, true},
		{"auth error", &AuthError{Op: "placeOrder", Reason: "bad signature"}, false},
		{"exchange rejection", &ExchangeRejected{Op: "placeOrder", Reason: "insufficient margin"}, false},
		{"wrapped network error", &NetworkError{Op: "x", Err: errors.New("reset")}, true},
		{"connection refused string", errors.New("dial tcp 127.0.0.1:443: connection refused"), true},
		{"unrelated error", errors.New("something else"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestClassifyRejection(t *testing.T) {
	tests := []struct {
		reason   string
		wantAuth bool
	}{
		{"User or API Wallet 0xabc does not exist.", true},
		{"Invalid signature", true},
		{"Unauthorized", true},
		{"Invalid nonce: too old", true},
		{"Insufficient margin to place order", false},
		{"Order has invalid size", false},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			err := classifyRejection("placeOrder", tt.reason)
			var auth *AuthError
			assert.Equal(t, tt.wantAuth, errors.As(err, &auth))
			assert.Equal(t, tt.wantAuth, IsFatal(err))
		})
	}
}

func TestWithRetry(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond, BackoffFactor: 2.0}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), cfg, func() error {
			calls++
			if calls < 3 {
				return &RateLimited{Op: "x"}
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("aborts on non-retryable error", func(t *testing.T) {
		calls := 0
		rejection := &ExchangeRejected{Op: "x", Reason: "bad order"}
		err := WithRetry(context.Background(), cfg, func() error {
			calls++
			return rejection
		})
		assert.ErrorIs(t, err, error(rejection))
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), cfg, func() error {
			calls++
			return &RateLimited{Op: "x"}
		})
		require.Error(t, err)
		assert.Equal(t, 4, calls)

		var rl *RateLimited
		assert.ErrorAs(t, err, &rl)
	})

	t.Run("respects cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := WithRetry(ctx, cfg, func() error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}
