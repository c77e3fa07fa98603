// Package transport routes gateway calls to the backend over one of two
// variants: Direct (the backend's native framed protocol) or Relay (an HTTP
// intermediary used as fallback). Both are hidden behind one interface so the
// breaker/router logic selects a transport without type switches.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/auth"
)

// Transport names as they appear in logs, metrics and errors.
const (
	NameDirect = "direct"
	NameRelay  = "relay"
)

// Request is one backend call, independent of transport.
type Request struct {
	// Operation is the backend operation name ("generate_text", "run_query", ...).
	Operation string
	// Warehouse is the target resource pool selected by the router.
	Warehouse string
	// Payload is the JSON-encoded operation arguments.
	Payload json.RawMessage
}

// Response is a successful backend reply.
type Response struct {
	// Result is the JSON-encoded operation result.
	Result json.RawMessage
	// Credits is the backend-reported actual cost; negative when unreported.
	Credits float64
}

// Transport executes backend calls over one connection style.
type Transport interface {
	Name() string
	Call(ctx context.Context, req Request) (Response, error)
	HealthCheck(ctx context.Context) error
}

// usableToken returns the current token or an authentication error. An
// expired token is never presented to the backend on a new call; connections
// built with it are recycled by the manager's rotation callback, not killed
// mid-flight.
func usableToken(m *auth.Manager, environment string) (auth.Token, error) {
	tok, err := m.CurrentToken(environment)
	if err != nil {
		return auth.Token{}, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if tok.ExpiredAt(time.Now()) {
		return auth.Token{}, fmt.Errorf("%w: token %s expired at %s",
			ErrAuthentication, tok.ID, tok.ExpiresAt.Format(time.RFC3339))
	}
	return tok, nil
}
