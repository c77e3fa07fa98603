package transport

import (
	"errors"
	"strings"

	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/pool"
)

// Sentinel error kinds. Callers classify with errors.Is; the retry engine
// retries only transient errors.
var (
	// ErrTransient marks timeouts, resets and other retryable network
	// failures.
	ErrTransient = errors.New("transient network error")
	// ErrAuthentication marks expired or rejected credentials. Never retried.
	ErrAuthentication = errors.New("authentication failed")
	// ErrValidation marks requests the backend rejected as malformed.
	// Never retried.
	ErrValidation = errors.New("invalid request")
)

// transient tags err as retryable while preserving its chain. Every I/O
// failure on a live call is transient, including a deadline expiring
// mid-call: the caller's retry budget and deadline bound further attempts.
func transient(err error) error {
	return errors.Join(ErrTransient, err)
}

// leaseError classifies a pool lease failure. Exhaustion and shutdown keep
// their own meaning for the caller; anything else is a failed dial, which is
// as retryable as any other network fault.
func leaseError(err error) error {
	if errors.Is(err, pool.ErrExhausted) || errors.Is(err, pool.ErrClosed) {
		return err
	}
	return transient(err)
}

// classifyBackendCode maps a backend error code to the taxonomy. Unknown
// codes are treated as transient so a misbehaving backend is handled by the
// retry budget and circuit breaker rather than surfaced raw.
func classifyBackendCode(code string, base error) error {
	switch {
	case strings.HasPrefix(code, "auth"), code == "unauthorized", code == "token_expired":
		return errors.Join(ErrAuthentication, base)
	case strings.HasPrefix(code, "invalid"), code == "validation", code == "malformed":
		return errors.Join(ErrValidation, base)
	default:
		return transient(base)
	}
}
