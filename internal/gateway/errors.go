package gateway

import (
	"errors"
	"fmt"

	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/ledger"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/pool"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/transport"
)

// Kind classifies a gateway error for callers deciding whether to retry at a
// higher level, alert an operator, or fail the enclosing operation.
type Kind int

const (
	// KindQuotaExceeded: the hard credit limit was hit. Never retried, no
	// network call was made.
	KindQuotaExceeded Kind = iota + 1
	// KindPoolExhausted: no connection became available within the lease
	// timeout.
	KindPoolExhausted
	// KindTransportUnavailable: both circuits are open; no call attempted.
	KindTransportUnavailable
	// KindTransient: retries were exhausted on transient network failures.
	KindTransient
	// KindAuthentication: the token was expired or rejected. Callers should
	// request a credential refresh.
	KindAuthentication
	// KindValidation: the backend rejected the request as malformed.
	KindValidation
	// KindUnavailable: the gateway is shut down.
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindPoolExhausted:
		return "pool_exhausted"
	case KindTransportUnavailable:
		return "transport_unavailable"
	case KindTransient:
		return "transient"
	case KindAuthentication:
		return "authentication"
	case KindValidation:
		return "validation"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ErrTransportUnavailable is the underlying error when both circuits reject
// traffic.
var ErrTransportUnavailable = errors.New("no transport available: all circuits open")

// ErrClosed is returned for operations after Close.
var ErrClosed = errors.New("gateway is shut down")

// Error is the typed error surfaced to callers. The kind is preserved
// verbatim; nothing is downgraded to a generic failure.
type Error struct {
	Kind      Kind
	Operation string
	// Transport is the last transport attempted, empty if none was.
	Transport string
	// Attempts counts calls actually dispatched across transports.
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Transport == "" {
		return fmt.Sprintf("%s %s: %v", e.Operation, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s (transport=%s attempts=%d): %v",
		e.Operation, e.Kind, e.Transport, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// classify maps an underlying error to its kind.
func classify(err error) Kind {
	switch {
	case errors.Is(err, ledger.ErrQuotaExceeded):
		return KindQuotaExceeded
	case errors.Is(err, pool.ErrExhausted):
		return KindPoolExhausted
	case errors.Is(err, ErrTransportUnavailable):
		return KindTransportUnavailable
	case errors.Is(err, transport.ErrAuthentication):
		return KindAuthentication
	case errors.Is(err, transport.ErrValidation):
		return KindValidation
	case errors.Is(err, ErrClosed):
		return KindUnavailable
	case errors.Is(err, transport.ErrTransient):
		return KindTransient
	default:
		return KindTransient
	}
}

// opError wraps err with its classification and dispatch context.
func opError(op, transportName string, attempts int, err error) *Error {
	return &Error{
		Kind:      classify(err),
		Operation: op,
		Transport: transportName,
		Attempts:  attempts,
		Err:       err,
	}
}
