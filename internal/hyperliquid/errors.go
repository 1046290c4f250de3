package hyperliquid

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Error kinds returned by the exchange client. NetworkError and RateLimited
// are retryable; AuthError and ExchangeRejected are not.
type (
	// NetworkError wraps transport-level failures (timeouts, resets, 5xx)
	NetworkError struct {
		Op  string
		Err error
	}

	// RateLimited signals an HTTP 429 from the exchange
	RateLimited struct {
		Op string
	}

	// AuthError signals a signature or key rejection; fatal for the agent-cycle
	AuthError struct {
		Op     string
		Reason string
	}

	// ExchangeRejected carries the exchange's textual rejection reason
	ExchangeRejected struct {
		Op     string
		Reason string
	}
)

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *RateLimited) Error() string {
	return fmt.Sprintf("%s: rate limited", e.Op)
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: auth rejected: %s", e.Op, e.Reason)
}

func (e *ExchangeRejected) Error() string {
	return fmt.Sprintf("%s: exchange rejected: %s", e.Op, e.Reason)
}

// IsRetryable classifies an error for the retry helper. Only transient
// transport failures and throttling are retried; rejections never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var rl *RateLimited
	if errors.As(err, &rl) {
		return true
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return false
	}
	var rejected *ExchangeRejected
	if errors.As(err, &rejected) {
		return false
	}

	var timeout net.Error
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "temporary failure")
}

// IsFatal reports whether an error should count toward the service's
// consecutive-fatal threshold
func IsFatal(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// classifyRejection maps an exchange error string onto the right error kind.
// Signature and nonce problems are auth failures; everything else is a
// plain rejection.
func classifyRejection(op, reason string) error {
	lower := strings.ToLower(reason)
	if strings.Contains(lower, "signature") ||
		strings.Contains(lower, "does not exist") ||
		strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "invalid nonce") {
		return &AuthError{Op: op, Reason: reason}
	}
	return &ExchangeRejected{Op: op, Reason: reason}
}
